package generator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

// OpenAILLM implements LLMClient using the official openai-go SDK (chat completions).
// It also serves OpenAI-compatible endpoints such as DeepSeek through BaseURL.
// Web grounding has no chat-completions equivalent and is ignored.
type OpenAILLM struct {
	Model  string
	Opts   []option.RequestOption
	Logger *zap.Logger
}

func NewOpenAILLMFromConfig(cfg *LLMSettings) (*OpenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key or llm.api_key_env")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAILLM{Model: cfg.Model, Opts: opts, Logger: zap.NewNop()}, nil
}

func (o *OpenAILLM) client() openai.Client {
	return openai.NewClient(o.Opts...)
}

func (o *OpenAILLM) params(msgs []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, caps []Capability) openai.ChatCompletionNewParams {
	if hasCapability(caps, CapabilityWebGrounding) && o.Logger != nil {
		o.Logger.Debug("openai.web_grounding_unsupported", zap.String("model", o.Model))
	}
	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.Model),
		Messages: msgs,
		Tools:    tools,
	}
}

func (o *OpenAILLM) Generate(ctx context.Context, req Request) (Completion, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.System),
		openai.UserMessage(openaiParts(req.Segments)),
	}
	client := o.client()
	resp, err := client.Chat.Completions.New(ctx, o.params(msgs, nil, req.Capabilities))
	if err != nil {
		return Completion{}, normalizeOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, nil
	}
	return Completion{Text: resp.Choices[0].Message.Content}, nil
}

func (o *OpenAILLM) GenerateStream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.System),
		openai.UserMessage(openaiParts(req.Segments)),
	}
	return func(yield func(Chunk, error) bool) {
		_, _ = o.stream(ctx, o.params(msgs, nil, req.Capabilities), yield)
	}
}

// stream forwards content deltas to yield and returns the accumulated
// message. ok is false when the caller stopped early or the stream failed.
func (o *OpenAILLM) stream(ctx context.Context, params openai.ChatCompletionNewParams, yield func(Chunk, error) bool) (openai.ChatCompletionMessage, bool) {
	client := o.client()
	s := client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()

	acc := openai.ChatCompletionAccumulator{}
	for s.Next() {
		chunk := s.Current()
		acc.AddChunk(chunk)
		for _, ch := range chunk.Choices {
			if ch.Index != 0 || ch.Delta.Content == "" {
				continue
			}
			if !yield(Chunk{Text: ch.Delta.Content}, nil) {
				return openai.ChatCompletionMessage{}, false
			}
		}
	}
	if err := s.Err(); err != nil {
		yield(Chunk{}, normalizeOpenAIError(err))
		return openai.ChatCompletionMessage{}, false
	}
	if len(acc.Choices) == 0 {
		return openai.ChatCompletionMessage{}, true
	}
	msg := acc.Choices[0].Message
	if calls := openaiInvocations(msg.ToolCalls); len(calls) > 0 {
		if !yield(Chunk{ToolInvocations: calls}, nil) {
			return openai.ChatCompletionMessage{}, false
		}
	}
	return msg, true
}

func (o *OpenAILLM) StartConversation(_ context.Context, cfg ConversationConfig) (Conversation, error) {
	c := &openaiConversation{llm: o, caps: cfg.Capabilities}
	c.msgs = append(c.msgs, openai.SystemMessage(cfg.System))
	for _, m := range cfg.History {
		if m.Role == string(RoleAssistant) {
			c.msgs = append(c.msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		} else {
			c.msgs = append(c.msgs, openai.UserMessage(m.Content))
		}
		c.log = append(c.log, m)
	}
	for _, t := range cfg.Tools {
		c.tools = append(c.tools, openaiTool(t))
	}
	return c, nil
}

// openaiConversation keeps the history client-side; turns are committed only
// after the provider answers. Every tool call in the history must be followed
// by a tool message, so calls the dialogue does not service are answered with
// ignoredToolResult before the next request.
type openaiConversation struct {
	llm     *OpenAILLM
	msgs    []openai.ChatCompletionMessageParamUnion
	tools   []openai.ChatCompletionToolParam
	caps    []Capability
	log     []Message
	pending []string
}

const ignoredToolResult = `{"error":"ignored"}`

func (c *openaiConversation) Send(ctx context.Context, segments []Segment) (Reply, error) {
	next := append(c.settle("", ""), openai.UserMessage(openaiParts(segments)))
	return c.complete(ctx, next, Message{Role: string(RoleUser), Content: segmentsText(segments)})
}

func (c *openaiConversation) SendStream(ctx context.Context, segments []Segment) iter.Seq2[Chunk, error] {
	next := append(c.settle("", ""), openai.UserMessage(openaiParts(segments)))
	return func(yield func(Chunk, error) bool) {
		msgs := append(append([]openai.ChatCompletionMessageParamUnion(nil), c.msgs...), next...)
		msg, ok := c.llm.stream(ctx, c.llm.params(msgs, c.tools, c.caps), yield)
		if !ok {
			return
		}
		c.commit(next, Message{Role: string(RoleUser), Content: segmentsText(segments)}, msg)
	}
}

func (c *openaiConversation) AcknowledgeTool(ctx context.Context, call ToolInvocation, result map[string]any) (Reply, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return Reply{}, fmt.Errorf("encode tool result: %w", err)
	}
	next := c.settle(call.ID, string(body))
	if !slices.Contains(c.pending, call.ID) {
		next = append(next, openai.ToolMessage(string(body), call.ID))
	}
	return c.complete(ctx, next, Message{Role: "tool", Content: string(body)})
}

func (c *openaiConversation) History() []Message {
	return append([]Message(nil), c.log...)
}

// settle answers every outstanding tool call, giving id the result body and
// the rest ignoredToolResult. Pending state changes only on commit.
func (c *openaiConversation) settle(id, body string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.pending)+1)
	for _, p := range c.pending {
		if p == id {
			out = append(out, openai.ToolMessage(body, p))
			continue
		}
		out = append(out, openai.ToolMessage(ignoredToolResult, p))
	}
	return out
}

func (c *openaiConversation) complete(ctx context.Context, next []openai.ChatCompletionMessageParamUnion, entry Message) (Reply, error) {
	msgs := append(append([]openai.ChatCompletionMessageParamUnion(nil), c.msgs...), next...)
	client := c.llm.client()
	resp, err := client.Chat.Completions.New(ctx, c.llm.params(msgs, c.tools, c.caps))
	if err != nil {
		return Reply{}, normalizeOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, nil
	}
	msg := resp.Choices[0].Message
	c.commit(next, entry, msg)
	return Reply{Text: msg.Content, ToolInvocations: openaiInvocations(msg.ToolCalls)}, nil
}

func (c *openaiConversation) commit(next []openai.ChatCompletionMessageParamUnion, entry Message, msg openai.ChatCompletionMessage) {
	c.msgs = append(c.msgs, next...)
	c.msgs = append(c.msgs, msg.ToParam())
	c.log = append(c.log, entry, Message{Role: string(RoleAssistant), Content: msg.Content})
	c.pending = nil
	for _, tc := range msg.ToolCalls {
		c.pending = append(c.pending, tc.ID)
	}
}

func openaiTool(t ToolDefinition) openai.ChatCompletionToolParam {
	props := map[string]any{}
	required := make([]string, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		props[p.Name] = map[string]any{"type": "string", "description": p.Description}
		required = append(required, p.Name)
	}
	return openai.ChatCompletionToolParam{
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		},
	}
}

func openaiInvocations(calls []openai.ChatCompletionMessageToolCall) []ToolInvocation {
	var out []ToolInvocation
	for _, tc := range calls {
		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		out = append(out, ToolInvocation{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out
}

// openaiParts maps segments onto content parts: images as data URLs, PDFs as
// inline files, other binary types as a textual note.
func openaiParts(segments []Segment) []openai.ChatCompletionContentPartUnionParam {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(segments))
	for _, s := range segments {
		if !s.IsBinary() {
			if strings.TrimSpace(s.Text) != "" {
				parts = append(parts, openai.TextContentPart(s.Text))
			}
			continue
		}
		dataURL := "data:" + s.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
		switch {
		case strings.HasPrefix(s.MIMEType, "image/"):
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}))
		case s.MIMEType == "application/pdf":
			parts = append(parts, openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
				FileData: openai.String(dataURL),
				Filename: openai.String("attachment.pdf"),
			}))
		default:
			parts = append(parts, openai.TextContentPart(fmt.Sprintf("[附件类型 %s 不受当前模型支持]", s.MIMEType)))
		}
	}
	return parts
}

func segmentsText(segments []Segment) string {
	var texts []string
	for _, s := range segments {
		if !s.IsBinary() {
			texts = append(texts, s.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

func normalizeOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		token := apiErr.Code
		if token == "" {
			token = apiErr.Type
		}
		return &ProviderError{StatusCode: apiErr.StatusCode, StatusToken: token, Message: apiErr.Message, Err: err}
	}
	return err
}
