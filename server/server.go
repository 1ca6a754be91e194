package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"disclosure_report_drafter/config"
	"disclosure_report_drafter/diff"
	"disclosure_report_drafter/extract"
	"disclosure_report_drafter/generator"
	"disclosure_report_drafter/render"
)

type Server struct {
	agent   *generator.Agent
	cfg     config.Config
	store   *sessionStore
	logger  *zap.Logger
	maxBody int64
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*generator.Session
}

func newStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*generator.Session)}
}

func (s *sessionStore) set(id string, sess *generator.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
}

func (s *sessionStore) get(id string) (*generator.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

func New(agent *generator.Agent, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if agent == nil {
		return nil, errors.New("generator agent required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// base64 inflates uploads by a third; leave room for several files.
	maxBody := cfg.Limits.MaxUploadBytes * 8
	if maxBody <= 0 {
		maxBody = config.DefaultMaxUploadBytes * 8
	}
	return &Server{
		agent:   agent,
		cfg:     cfg,
		store:   newStore(),
		logger:  logger,
		maxBody: maxBody,
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleSessionCreate)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return logMiddleware(s.logger, mux)
}

// --- Handlers ---

type materialReq struct {
	RawText string         `json:"raw_text"`
	URLs    []string       `json:"urls"`
	Files   []extract.File `json:"files"`
}

func (m materialReq) material() generator.SourceMaterial {
	return generator.SourceMaterial{RawText: m.RawText, URLs: m.URLs, Files: m.Files}
}

type sessionCreateReq struct {
	Params generator.ReportParams `json:"params"`
	materialReq
}

type sessionResp struct {
	SessionID string           `json:"session_id"`
	Draft     *generator.Draft `json:"draft,omitempty"`
	History   []generator.Turn `json:"history"`
}

type turnReq struct {
	Text        string         `json:"text"`
	Attachments []extract.File `json:"attachments"`
}

type turnResp struct {
	SessionID        string          `json:"session_id"`
	Reply            string          `json:"reply"`
	DocumentReplaced bool            `json:"document_replaced"`
	Draft            generator.Draft `json:"draft"`
	Changes          diff.Summary    `json:"changes"`
	Hunks            []diff.Hunk     `json:"hunks,omitempty"`
}

type errorResp struct {
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sessionCreateReq
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.Params.Validate(); err != nil {
		writeError(w, "", err)
		return
	}

	id := uuid.NewString()
	sess := generator.NewSession(id, req.Params, s.agent)
	s.store.set(id, sess)
	s.logger.Info("session.created", zap.String("session", id), zap.String("company", req.Params.Company))
	s.propose(w, r, sess, req.material())
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	sess, ok := s.store.get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, sess.Snapshot())
	case action == "" && r.Method == http.MethodDelete:
		s.store.delete(id)
		w.WriteHeader(http.StatusNoContent)
	case action == "generate" && r.Method == http.MethodPost:
		var req materialReq
		if !s.decode(w, r, &req) {
			return
		}
		s.propose(w, r, sess, req.material())
	case action == "turns" && r.Method == http.MethodPost:
		s.handleTurn(w, r, sess)
	case action == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, sess)
	case action == "" || action == "generate" || action == "turns" || action == "export":
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) propose(w http.ResponseWriter, r *http.Request, sess *generator.Session, material generator.SourceMaterial) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Generation.Timeout())
	defer cancel()

	if !wantsStream(r) {
		draft, err := sess.Propose(ctx, material, nil)
		if err != nil {
			s.logger.Warn("session.propose_failed", zap.String("session", sess.ID), zap.Error(err))
			writeError(w, sess.ID, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResp{SessionID: sess.ID, Draft: &draft, History: []generator.Turn{}})
		return
	}

	sse, err := newEventStream(w)
	if err != nil {
		writeError(w, sess.ID, err)
		return
	}
	sse.send("session", map[string]string{"session_id": sess.ID})
	draft, err := sess.Propose(ctx, material, func(text string) {
		sse.send("partial", map[string]string{"text": text})
	})
	if err != nil {
		s.logger.Warn("session.propose_failed", zap.String("session", sess.ID), zap.Error(err))
		sse.send("error", errorBody(sess.ID, err))
		return
	}
	sse.send("done", sessionResp{SessionID: sess.ID, Draft: &draft, History: []generator.Turn{}})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request, sess *generator.Session) {
	var req turnReq
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp{SessionID: sess.ID, Error: "invalid_request", Message: "text or attachments required"})
		return
	}
	if _, ok := sess.Draft(); !ok {
		writeError(w, sess.ID, generator.ErrNoDraft)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Generation.Timeout())
	defer cancel()

	var (
		sse       *eventStream
		onPartial func(string)
	)
	if wantsStream(r) {
		var err error
		if sse, err = newEventStream(w); err != nil {
			writeError(w, sess.ID, err)
			return
		}
		onPartial = func(text string) {
			sse.send("partial", map[string]string{"text": text})
		}
	}

	rev, err := sess.Revise(ctx, req.Text, req.Attachments, onPartial)
	if err != nil {
		if sse != nil {
			sse.send("error", errorBody(sess.ID, err))
			return
		}
		writeError(w, sess.ID, err)
		return
	}
	if rev.Err != nil {
		s.logger.Warn("session.turn_degraded", zap.String("session", sess.ID), zap.Error(rev.Err))
	}
	resp := turnResp{
		SessionID:        sess.ID,
		Reply:            rev.Reply,
		DocumentReplaced: rev.DocumentReplaced,
		Draft:            rev.Draft,
		Changes:          rev.Changes,
		Hunks:            rev.Hunks,
	}
	if sse != nil {
		sse.send("done", resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, sess *generator.Session) {
	draft, ok := sess.Draft()
	if !ok {
		writeError(w, sess.ID, generator.ErrNoDraft)
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.md"`, sess.ID))
		_, _ = w.Write([]byte(draft.Markdown))
	case "html":
		page, err := render.Page(draft.Title, draft.Markdown)
		if err != nil {
			writeError(w, sess.ID, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	case "fragment":
		frag, err := render.Fragment(draft.Markdown)
		if err != nil {
			writeError(w, sess.ID, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(frag))
	default:
		writeJSON(w, http.StatusBadRequest, errorResp{SessionID: sess.ID, Error: "invalid_request", Message: "unsupported format " + format})
	}
}

// --- Helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResp{Error: "invalid_request", Message: err.Error()})
		return false
	}
	return true
}

func wantsStream(r *http.Request) bool {
	v := r.URL.Query().Get("stream")
	return v == "1" || v == "true" || strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// statusFor maps core errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generator.ErrInvalidParams):
		return http.StatusBadRequest, "invalid_params"
	case errors.Is(err, generator.ErrCredentialInvalid):
		return http.StatusUnauthorized, "credential_invalid"
	case errors.Is(err, generator.ErrQuotaExhausted):
		return http.StatusTooManyRequests, "quota_exhausted"
	case errors.Is(err, generator.ErrNoDraft):
		return http.StatusConflict, "no_draft"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, errStreamingUnsupported):
		return http.StatusInternalServerError, "streaming_unsupported"
	default:
		return http.StatusBadGateway, "generation_failed"
	}
}

func errorBody(sessionID string, err error) errorResp {
	_, code := statusFor(err)
	msg := generator.UserMessage(err)
	if errors.Is(err, generator.ErrInvalidParams) || errors.Is(err, generator.ErrNoDraft) {
		msg = err.Error()
	}
	return errorResp{SessionID: sessionID, Error: code, Message: msg}
}

func writeError(w http.ResponseWriter, sessionID string, err error) {
	status, _ := statusFor(err)
	writeJSON(w, status, errorBody(sessionID, err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http.request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
