package generator

import (
	"context"
	"iter"
)

// LLMClient 抽象大模型客户端，便于替换/Mock。
type LLMClient interface {
	Generate(ctx context.Context, req Request) (Completion, error)
	GenerateStream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
	StartConversation(ctx context.Context, cfg ConversationConfig) (Conversation, error)
}

// Conversation is a remote chat handle that owns the authoritative history.
// Calls must not overlap.
type Conversation interface {
	Send(ctx context.Context, segments []Segment) (Reply, error)
	SendStream(ctx context.Context, segments []Segment) iter.Seq2[Chunk, error]
	AcknowledgeTool(ctx context.Context, call ToolInvocation, result map[string]any) (Reply, error)
	History() []Message
}

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// Request is a single generation exchange.
type Request struct {
	System       string
	Segments     []Segment
	Capabilities []Capability
}

// Completion is a non-streamed generation result.
type Completion struct {
	Text      string
	Citations []Citation
}

// Chunk is one streamed increment. Text is a delta, never cumulative.
type Chunk struct {
	Text            string
	Citations       []Citation
	ToolInvocations []ToolInvocation
}

// Message 会话历史中的一条消息。
type Message struct {
	Role    string
	Content string
}

// ToolDefinition declares a function the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// ToolParameter is a required string argument of a tool.
type ToolParameter struct {
	Name        string
	Description string
}

// ToolInvocation is a structured call the model asks the caller to run.
type ToolInvocation struct {
	ID   string
	Name string
	Args map[string]any
}

// ConversationConfig seeds a new conversation.
type ConversationConfig struct {
	System       string
	History      []Message
	Tools        []ToolDefinition
	Capabilities []Capability
}

// Reply is a completed conversation turn from the model.
type Reply struct {
	Text            string
	ToolInvocations []ToolInvocation
	Citations       []Citation
}

func hasCapability(caps []Capability, c Capability) bool {
	for _, x := range caps {
		if x == c {
			return true
		}
	}
	return false
}
