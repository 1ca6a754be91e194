package generator

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GenAILLM implements LLMClient on the Gemini API via google.golang.org/genai.
type GenAILLM struct {
	Model  string
	client *genai.Client
}

func NewGenAILLMFromConfig(ctx context.Context, cfg *LLMSettings) (*GenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key missing; provide llm.api_key or llm.api_key_env")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, normalizeGenAIError(err)
	}
	return &GenAILLM{Model: cfg.Model, client: client}, nil
}

func (g *GenAILLM) Generate(ctx context.Context, req Request) (Completion, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.Model, genaiContents(req.Segments), genaiConfig(req.System, nil, req.Capabilities))
	if err != nil {
		return Completion{}, normalizeGenAIError(err)
	}
	text, _, cites := readGenAIResponse(resp)
	return Completion{Text: text, Citations: cites}, nil
}

func (g *GenAILLM) GenerateStream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	src := g.client.Models.GenerateContentStream(ctx, g.Model, genaiContents(req.Segments), genaiConfig(req.System, nil, req.Capabilities))
	return genaiChunks(src, nil)
}

func (g *GenAILLM) StartConversation(ctx context.Context, cfg ConversationConfig) (Conversation, error) {
	history := make([]*genai.Content, 0, len(cfg.History))
	for _, m := range cfg.History {
		history = append(history, genai.NewContentFromText(m.Content, genaiRole(m.Role)))
	}
	chat, err := g.client.Chats.Create(ctx, g.Model, genaiConfig(cfg.System, cfg.Tools, cfg.Capabilities), history)
	if err != nil {
		return nil, normalizeGenAIError(err)
	}
	return &genaiConversation{chat: chat, synthetic: map[string]bool{}}, nil
}

type genaiConversation struct {
	chat *genai.Chat
	// IDs minted locally for calls the provider left unnamed.
	synthetic map[string]bool
	// Calls from the last model turn that still need a function response.
	pending []ToolInvocation
}

var ignoredFunctionResult = map[string]any{"error": "ignored"}

func (c *genaiConversation) Send(ctx context.Context, segments []Segment) (Reply, error) {
	parts := append(c.settle(ToolInvocation{}, nil), genaiParts(segments)...)
	resp, err := c.chat.Send(ctx, parts...)
	if err != nil {
		return Reply{}, normalizeGenAIError(err)
	}
	return c.reply(resp), nil
}

func (c *genaiConversation) SendStream(ctx context.Context, segments []Segment) iter.Seq2[Chunk, error] {
	parts := append(c.settle(ToolInvocation{}, nil), genaiParts(segments)...)
	src := genaiChunks(c.chat.SendStream(ctx, parts...), c.synthetic)
	return func(yield func(Chunk, error) bool) {
		var calls []ToolInvocation
		for chunk, err := range src {
			if err != nil {
				yield(chunk, err)
				return
			}
			calls = append(calls, chunk.ToolInvocations...)
			if !yield(chunk, nil) {
				return
			}
		}
		c.pending = calls
	}
}

func (c *genaiConversation) AcknowledgeTool(ctx context.Context, call ToolInvocation, result map[string]any) (Reply, error) {
	parts := c.settle(call, result)
	if !slices.ContainsFunc(c.pending, func(p ToolInvocation) bool { return p.ID == call.ID }) {
		parts = append(parts, c.functionResponse(call, result))
	}
	resp, err := c.chat.Send(ctx, parts...)
	if err != nil {
		return Reply{}, normalizeGenAIError(err)
	}
	return c.reply(resp), nil
}

// settle answers every outstanding call; call gets result, the rest
// ignoredFunctionResult. Gemini rejects a turn whose function responses do not
// match the preceding function calls one to one.
func (c *genaiConversation) settle(call ToolInvocation, result map[string]any) []*genai.Part {
	parts := make([]*genai.Part, 0, len(c.pending))
	for _, p := range c.pending {
		if call.ID != "" && p.ID == call.ID {
			parts = append(parts, c.functionResponse(p, result))
			continue
		}
		parts = append(parts, c.functionResponse(p, ignoredFunctionResult))
	}
	return parts
}

func (c *genaiConversation) functionResponse(call ToolInvocation, result map[string]any) *genai.Part {
	id := call.ID
	if c.synthetic[id] {
		id = ""
	}
	return &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: id, Name: call.Name, Response: result}}
}

func (c *genaiConversation) History() []Message {
	var out []Message
	for _, content := range c.chat.History(true) {
		role := string(RoleUser)
		if content.Role == genai.RoleModel {
			role = string(RoleAssistant)
		}
		var b strings.Builder
		for _, p := range content.Parts {
			if p != nil && !p.Thought {
				b.WriteString(p.Text)
			}
		}
		out = append(out, Message{Role: role, Content: b.String()})
	}
	return out
}

func (c *genaiConversation) reply(resp *genai.GenerateContentResponse) Reply {
	text, calls, cites := readGenAIResponse(resp)
	calls = tagInvocations(calls, c.synthetic)
	c.pending = calls
	return Reply{Text: text, ToolInvocations: calls, Citations: cites}
}

func genaiChunks(src iter.Seq2[*genai.GenerateContentResponse, error], synthetic map[string]bool) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for resp, err := range src {
			if err != nil {
				yield(Chunk{}, normalizeGenAIError(err))
				return
			}
			text, calls, cites := readGenAIResponse(resp)
			if !yield(Chunk{Text: text, Citations: cites, ToolInvocations: tagInvocations(calls, synthetic)}, nil) {
				return
			}
		}
	}
}

// tagInvocations gives every call an ID, minting one when the provider did not.
func tagInvocations(calls []ToolInvocation, synthetic map[string]bool) []ToolInvocation {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call-" + uuid.NewString()
			if synthetic != nil {
				synthetic[calls[i].ID] = true
			}
		}
	}
	return calls
}

// readGenAIResponse walks the first candidate's parts, skipping thoughts.
func readGenAIResponse(resp *genai.GenerateContentResponse) (string, []ToolInvocation, []Citation) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", nil, nil
	}
	cand := resp.Candidates[0]
	var (
		b     strings.Builder
		calls []ToolInvocation
		cites []Citation
	)
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			if p.FunctionCall != nil {
				calls = append(calls, ToolInvocation{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Args: p.FunctionCall.Args})
				continue
			}
			b.WriteString(p.Text)
		}
	}
	if gm := cand.GroundingMetadata; gm != nil {
		for _, ch := range gm.GroundingChunks {
			if ch != nil && ch.Web != nil && ch.Web.URI != "" {
				cites = append(cites, Citation{Title: ch.Web.Title, URI: ch.Web.URI})
			}
		}
	}
	return b.String(), calls, cites
}

func genaiConfig(system string, tools []ToolDefinition, caps []Capability) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, genaiDeclaration(t))
		}
		cfg.Tools = append(cfg.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if hasCapability(caps, CapabilityWebGrounding) {
		cfg.Tools = append(cfg.Tools,
			&genai.Tool{GoogleSearch: &genai.GoogleSearch{}},
			&genai.Tool{URLContext: &genai.URLContext{}},
		)
	}
	return cfg
}

func genaiDeclaration(t ToolDefinition) *genai.FunctionDeclaration {
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	for _, p := range t.Parameters {
		schema.Properties[p.Name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
		schema.Required = append(schema.Required, p.Name)
	}
	return &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: schema}
}

func genaiParts(segments []Segment) []*genai.Part {
	parts := make([]*genai.Part, 0, len(segments))
	for _, s := range segments {
		if s.IsBinary() {
			parts = append(parts, genai.NewPartFromBytes(s.Data, s.MIMEType))
			continue
		}
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		parts = append(parts, genai.NewPartFromText(s.Text))
	}
	return parts
}

func genaiContents(segments []Segment) []*genai.Content {
	return []*genai.Content{genai.NewContentFromParts(genaiParts(segments), genai.RoleUser)}
}

func genaiRole(role string) genai.Role {
	if role == string(RoleAssistant) || role == genai.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func normalizeGenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{StatusCode: apiErr.Code, StatusToken: apiErr.Status, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &ProviderError{StatusCode: apiErrPtr.Code, StatusToken: apiErrPtr.Status, Message: apiErrPtr.Message, Err: err}
	}
	return err
}
