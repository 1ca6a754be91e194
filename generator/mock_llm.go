package generator

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// MockRewritePrefix makes the mock conversation call the update tool with the
// rest of the message appended to the document.
const MockRewritePrefix = "rewrite:"

// MockLLM 一个离线的确定性实现，便于本地调试，不调用外部模型。
type MockLLM struct{}

func (m MockLLM) Generate(_ context.Context, req Request) (Completion, error) {
	return Completion{Text: mockReport(req)}, nil
}

func (m MockLLM) GenerateStream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return mockStream(ctx, mockReport(req), nil)
}

func (m MockLLM) StartConversation(_ context.Context, cfg ConversationConfig) (Conversation, error) {
	c := &mockConversation{history: append([]Message(nil), cfg.History...)}
	for _, h := range cfg.History {
		if doc, ok := strings.CutPrefix(h.Content, seedDraftMessage("")); ok {
			c.document = doc
		}
	}
	return c, nil
}

// 很简单地把提示中的准则小节拼接成 Markdown。
func mockReport(req Request) string {
	var prompt string
	attachments := 0
	for i, s := range req.Segments {
		if i == 0 && !s.IsBinary() {
			prompt = s.Text
			continue
		}
		attachments++
	}

	var sb strings.Builder
	sb.WriteString("# 可持续发展信息披露报告（示例）\n\n")
	sb.WriteString("本报告为离线模式生成的示例草稿，概述公司在环境、社会与治理方面的表现。\n\n")
	for _, line := range strings.Split(prompt, "\n") {
		if heading, ok := strings.CutPrefix(line, "### "); ok {
			fmt.Fprintf(&sb, "## %s\n\n【待补充】\n\n", strings.TrimSpace(heading))
		}
	}
	fmt.Fprintf(&sb, "## 资料说明\n\n共收到 %d 份附件。\n", attachments)
	return sb.String()
}

func mockStream(ctx context.Context, text string, calls []ToolInvocation) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for _, line := range strings.SplitAfter(text, "\n") {
			if line == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(Chunk{}, err)
				return
			}
			if !yield(Chunk{Text: line}, nil) {
				return
			}
		}
		if len(calls) > 0 {
			yield(Chunk{ToolInvocations: calls}, nil)
		}
	}
}

type mockConversation struct {
	document string
	history  []Message
	calls    int
}

func (c *mockConversation) Send(_ context.Context, segments []Segment) (Reply, error) {
	return c.respond(segments), nil
}

func (c *mockConversation) SendStream(ctx context.Context, segments []Segment) iter.Seq2[Chunk, error] {
	r := c.respond(segments)
	return mockStream(ctx, r.Text, r.ToolInvocations)
}

func (c *mockConversation) respond(segments []Segment) Reply {
	text := segmentsText(segments)
	c.history = append(c.history, Message{Role: string(RoleUser), Content: text})

	last := ""
	if n := len(segments); n > 0 {
		last = strings.TrimSpace(segments[n-1].Text)
	}
	if addition, ok := strings.CutPrefix(last, MockRewritePrefix); ok {
		c.calls++
		doc := strings.TrimRight(c.document, "\n") + "\n\n" + strings.TrimSpace(addition) + "\n"
		return Reply{ToolInvocations: []ToolInvocation{{
			ID:   fmt.Sprintf("mock-call-%d", c.calls),
			Name: ToolUpdateReport,
			Args: map[string]any{argNewContent: doc},
		}}}
	}

	reply := fmt.Sprintf("（离线模式）已收到您的消息：%s", last)
	if len(segments) > 1 {
		reply += fmt.Sprintf("，以及 %d 份附件。", len(segments)-1)
	}
	c.history = append(c.history, Message{Role: string(RoleAssistant), Content: reply})
	return Reply{Text: reply}
}

func (c *mockConversation) AcknowledgeTool(_ context.Context, call ToolInvocation, result map[string]any) (Reply, error) {
	if doc, ok := call.Args[argNewContent].(string); ok && result["result"] == "success" {
		c.document = doc
	}
	reply := "（离线模式）已按要求更新报告。"
	c.history = append(c.history, Message{Role: string(RoleAssistant), Content: reply})
	return Reply{Text: reply}, nil
}

func (c *mockConversation) History() []Message {
	return append([]Message(nil), c.history...)
}
