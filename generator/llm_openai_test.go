package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubResponse struct {
	status      int
	contentType string
	body        string
}

// openaiStub serves scripted chat-completions responses and records requests.
type openaiStub struct {
	mu        sync.Mutex
	responses []stubResponse
	requests  []map[string]any
}

func (s *openaiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		http.Error(w, `{"error":{"message":"unexpected request","type":"invalid_request_error"}}`, http.StatusBadRequest)
		return
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	if resp.status == 0 {
		resp.status = http.StatusOK
	}
	if resp.contentType == "" {
		resp.contentType = "application/json"
	}
	w.Header().Set("Content-Type", resp.contentType)
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

func newOpenAIStub(t *testing.T, responses ...stubResponse) (*OpenAILLM, *openaiStub) {
	t.Helper()
	stub := &openaiStub{responses: responses}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	llm, err := NewOpenAILLMFromConfig(&LLMSettings{Provider: "openai", Model: "gpt-test", APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	llm.Logger = zaptest.NewLogger(t)
	return llm, stub
}

type toolCallJSON struct {
	id, name, args string
}

func completion(t *testing.T, content string, calls ...toolCallJSON) stubResponse {
	t.Helper()
	msg := map[string]any{"role": "assistant", "content": content}
	finish := "stop"
	if len(calls) > 0 {
		var tcs []map[string]any
		for _, c := range calls {
			tcs = append(tcs, map[string]any{
				"id":       c.id,
				"type":     "function",
				"function": map[string]any{"name": c.name, "arguments": c.args},
			})
		}
		msg["tool_calls"] = tcs
		finish = "tool_calls"
	}
	body, err := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-test",
		"choices": []map[string]any{{"index": 0, "finish_reason": finish, "message": msg}},
	})
	require.NoError(t, err)
	return stubResponse{body: string(body)}
}

func apiError(status int, message, typ, code string) stubResponse {
	body, _ := json.Marshal(map[string]any{"error": map[string]any{"message": message, "type": typ, "code": code}})
	return stubResponse{status: status, body: string(body)}
}

func messagesOf(t *testing.T, req map[string]any) []map[string]any {
	t.Helper()
	raw, ok := req["messages"].([]any)
	require.True(t, ok, "request has no messages")
	out := make([]map[string]any, 0, len(raw))
	for _, m := range raw {
		out = append(out, m.(map[string]any))
	}
	return out
}

// requireToolCallsAnswered checks that every assistant tool call is followed by
// a tool message carrying its ID before the next non-tool message.
func requireToolCallsAnswered(t *testing.T, msgs []map[string]any) {
	t.Helper()
	for i, m := range msgs {
		calls, _ := m["tool_calls"].([]any)
		if m["role"] != "assistant" || len(calls) == 0 {
			continue
		}
		answered := map[string]bool{}
		for j := i + 1; j < len(msgs) && msgs[j]["role"] == "tool"; j++ {
			answered[msgs[j]["tool_call_id"].(string)] = true
		}
		for _, c := range calls {
			id := c.(map[string]any)["id"].(string)
			require.True(t, answered[id], "tool call %s at message %d has no tool message", id, i)
		}
	}
}

func toolResults(msgs []map[string]any) map[string]string {
	out := map[string]string{}
	for _, m := range msgs {
		if m["role"] == "tool" {
			content, _ := m["content"].(string)
			out[m["tool_call_id"].(string)] = content
		}
	}
	return out
}

func newOpenAIDialogue(t *testing.T, llm *OpenAILLM) *Dialogue {
	t.Helper()
	logger := zaptest.NewLogger(t)
	d, err := NewDialogue(context.Background(), llm, DialogueConfig{Document: seedDoc, Company: "示例公司"}, fastRetrier(logger), scriptedExtractor{}, logger)
	require.NoError(t, err)
	return d
}

func TestOpenAIDialogueAnswersEveryToolCall(t *testing.T) {
	llm, stub := newOpenAIStub(t,
		completion(t, "",
			toolCallJSON{id: "call_a", name: ToolUpdateReport, args: `{"newContent":"# 新版报告"}`},
			toolCallJSON{id: "call_b", name: ToolUpdateReport, args: `{"newContent":"# 另一版"}`},
		),
		completion(t, "已按要求更新。"),
		completion(t, "不客气。"),
	)
	d := newOpenAIDialogue(t, llm)

	res := d.Send(context.Background(), "请改写标题", nil, nil)
	require.NoError(t, res.Err)
	assert.True(t, res.DocumentReplaced)
	assert.Equal(t, "# 新版报告", res.UpdatedDocument)
	assert.Equal(t, "已按要求更新。", res.Reply)

	res = d.Send(context.Background(), "谢谢", nil, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "不客气。", res.Reply)

	require.Len(t, stub.requests, 3)
	ack := messagesOf(t, stub.requests[1])
	requireToolCallsAnswered(t, ack)
	assert.Equal(t, map[string]string{
		"call_a": `{"result":"success"}`,
		"call_b": ignoredToolResult,
	}, toolResults(ack))

	next := messagesOf(t, stub.requests[2])
	requireToolCallsAnswered(t, next)
	assert.Equal(t, "user", next[len(next)-1]["role"])
	assert.Len(t, toolResults(next), 2)
}

func TestOpenAIDialogueAnswersUnknownToolBeforeNextTurn(t *testing.T) {
	llm, stub := newOpenAIStub(t,
		completion(t, "我先查一下资料。", toolCallJSON{id: "call_x", name: "search_web", args: `{"q":"排放因子"}`}),
		completion(t, "好的，继续。"),
	)
	d := newOpenAIDialogue(t, llm)

	res := d.Send(context.Background(), "查一下排放因子", nil, nil)
	assert.Equal(t, "我先查一下资料。", res.Reply)
	assert.False(t, res.DocumentReplaced)

	res = d.Send(context.Background(), "继续", nil, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "好的，继续。", res.Reply)

	require.Len(t, stub.requests, 2)
	msgs := messagesOf(t, stub.requests[1])
	requireToolCallsAnswered(t, msgs)
	assert.Equal(t, map[string]string{"call_x": ignoredToolResult}, toolResults(msgs))
	assert.Equal(t, "tool", msgs[len(msgs)-2]["role"])
	assert.Equal(t, "user", msgs[len(msgs)-1]["role"])
}

func TestOpenAIDialogueAnswersCallsInFollowUp(t *testing.T) {
	llm, stub := newOpenAIStub(t,
		completion(t, "", toolCallJSON{id: "call_a", name: ToolUpdateReport, args: `{"newContent":"# 第一版"}`}),
		completion(t, "已更新。", toolCallJSON{id: "call_c", name: ToolUpdateReport, args: `{"newContent":"# 第二版"}`}),
		completion(t, "收到。"),
	)
	d := newOpenAIDialogue(t, llm)

	res := d.Send(context.Background(), "改一下", nil, nil)
	assert.Equal(t, "# 第一版", res.UpdatedDocument)
	assert.Equal(t, "已更新。", res.Reply)

	res = d.Send(context.Background(), "好的", nil, nil)
	assert.Equal(t, "收到。", res.Reply)

	require.Len(t, stub.requests, 3)
	msgs := messagesOf(t, stub.requests[2])
	requireToolCallsAnswered(t, msgs)
	assert.Equal(t, ignoredToolResult, toolResults(msgs)["call_c"])
}

func TestOpenAIGenerateStream(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"# 报告"}}]}`,
		`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"content":"\n\n正文"},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	}, "\n\n") + "\n\n"
	llm, stub := newOpenAIStub(t, stubResponse{contentType: "text/event-stream", body: sse})

	var deltas []string
	for c, err := range llm.GenerateStream(context.Background(), Request{System: "sys", Segments: []Segment{TextSegment("写报告")}}) {
		require.NoError(t, err)
		deltas = append(deltas, c.Text)
	}
	assert.Equal(t, []string{"# 报告", "\n\n正文"}, deltas)
	require.Len(t, stub.requests, 1)
	assert.Equal(t, true, stub.requests[0]["stream"])
}

func TestOpenAIErrorsAreNormalized(t *testing.T) {
	tests := []struct {
		name  string
		resp  stubResponse
		code  int
		token string
		kind  ErrorKind
	}{
		{"rate limit", apiError(http.StatusTooManyRequests, "Rate limit reached", "requests", "rate_limit_exceeded"), 429, "rate_limit_exceeded", KindRetryable},
		{"bad key", apiError(http.StatusUnauthorized, "Incorrect API key provided", "invalid_request_error", "invalid_api_key"), 401, "invalid_api_key", KindCredential},
		{"bad request", apiError(http.StatusBadRequest, "messages must not be empty", "invalid_request_error", ""), 400, "invalid_request_error", KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm, _ := newOpenAIStub(t, tt.resp)
			_, err := llm.Generate(context.Background(), Request{Segments: []Segment{TextSegment("x")}})
			require.Error(t, err)
			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.code, pe.StatusCode)
			assert.Equal(t, tt.token, pe.StatusToken)
			assert.Equal(t, tt.kind, ClassifyError(err))
		})
	}

	plain := errors.New("dial tcp: connection refused")
	assert.Same(t, plain, normalizeOpenAIError(plain))
}

func TestOpenAIInvocations(t *testing.T) {
	calls := []openai.ChatCompletionMessageToolCall{
		{ID: "a", Function: openai.ChatCompletionMessageToolCallFunction{Name: ToolUpdateReport, Arguments: `{"newContent":"# 新"}`}},
		{ID: "b", Function: openai.ChatCompletionMessageToolCallFunction{Name: ToolUpdateReport, Arguments: `{"newContent":`}},
		{ID: "c", Function: openai.ChatCompletionMessageToolCallFunction{Name: "noop", Arguments: "  "}},
	}
	got := openaiInvocations(calls)
	require.Len(t, got, 3)
	assert.Equal(t, ToolInvocation{ID: "a", Name: ToolUpdateReport, Args: map[string]any{"newContent": "# 新"}}, got[0])
	assert.Equal(t, map[string]any{}, got[1].Args)
	assert.Equal(t, map[string]any{}, got[2].Args)

	_, ok := documentArgument(got[1])
	assert.False(t, ok)
	assert.Nil(t, openaiInvocations(nil))
}

func TestOpenAIParts(t *testing.T) {
	parts := openaiParts([]Segment{
		TextSegment("说明"),
		TextSegment("   "),
		{Data: []byte{1, 2}, MIMEType: "image/png"},
		{Data: []byte("%PDF"), MIMEType: "application/pdf"},
		{Data: []byte{0}, MIMEType: "audio/wav"},
	})
	require.Len(t, parts, 4)

	require.NotNil(t, parts[0].OfText)
	assert.Equal(t, "说明", parts[0].OfText.Text)

	require.NotNil(t, parts[1].OfImageURL)
	assert.Equal(t, "data:image/png;base64,AQI=", parts[1].OfImageURL.ImageURL.URL)

	require.NotNil(t, parts[2].OfFile)
	assert.Equal(t, "data:application/pdf;base64,JVBERg==", parts[2].OfFile.File.FileData.Value)

	require.NotNil(t, parts[3].OfText)
	assert.Contains(t, parts[3].OfText.Text, "audio/wav")
}
