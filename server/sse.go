package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var errStreamingUnsupported = errors.New("streaming unsupported by response writer")

// eventStream writes server-sent events, flushing after each one.
type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// newEventStream commits a 200 event-stream response. It fails without
// touching w when no writer in the wrap chain can flush.
func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	if !canFlush(w) {
		return nil, errStreamingUnsupported
	}
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()
	return &eventStream{w: w, rc: rc}, nil
}

// canFlush follows Unwrap the way http.ResponseController does.
func canFlush(w http.ResponseWriter) bool {
	for {
		switch t := w.(type) {
		case http.Flusher:
			return true
		case interface{ Unwrap() http.ResponseWriter }:
			w = t.Unwrap()
		default:
			return false
		}
	}
}

func (e *eventStream) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data)
	_ = e.rc.Flush()
}
