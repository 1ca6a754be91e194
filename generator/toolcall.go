package generator

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// ToolUpdateReport is the only tool the dialogue services.
const ToolUpdateReport = "update_report"

const argNewContent = "newContent"

// UpdateReportTool declares the document replacement tool.
func UpdateReportTool() ToolDefinition {
	return ToolDefinition{
		Name:        ToolUpdateReport,
		Description: "用修改后的完整报告全文替换当前报告草稿。",
		Parameters: []ToolParameter{
			{Name: argNewContent, Description: "修改后的完整报告全文（Markdown）。"},
		},
	}
}

// firstInvocation returns the first call named name; later ones are ignored.
func firstInvocation(calls []ToolInvocation, name string) (ToolInvocation, bool) {
	for _, c := range calls {
		if c.Name == name {
			return c, true
		}
	}
	return ToolInvocation{}, false
}

func documentArgument(call ToolInvocation) (string, bool) {
	v, ok := call.Args[argNewContent]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// mediate acknowledges an update_report call and collects the model's
// narration. The extracted document survives a failed acknowledgment; only
// the reply text falls back. Pre-call narration is discarded.
func (d *Dialogue) mediate(ctx context.Context, call ToolInvocation) TurnResult {
	d.logger.Info("dialogue.tool_call", zap.String("name", call.Name), zap.String("id", call.ID))

	doc, ok := documentArgument(call)
	if !ok {
		d.logger.Warn("dialogue.tool_call_missing_content", zap.String("id", call.ID))
		reply, err := Call(ctx, d.retrier, "acknowledge_tool", func(ctx context.Context) (Reply, error) {
			return d.conv.AcknowledgeTool(ctx, call, map[string]any{"error": "missing required argument " + argNewContent})
		})
		if err != nil {
			return failedTurn(err)
		}
		if strings.TrimSpace(reply.Text) == "" {
			return failedTurn(ErrEmptyResponse)
		}
		return TurnResult{Reply: reply.Text}
	}

	reply, err := Call(ctx, d.retrier, "acknowledge_tool", func(ctx context.Context) (Reply, error) {
		return d.conv.AcknowledgeTool(ctx, call, map[string]any{"result": "success"})
	})
	if err != nil {
		d.logger.Warn("dialogue.tool_ack_failed", zap.String("id", call.ID), zap.Error(err))
		text := MsgToolAckFailed
		if k := ClassifyError(err); k != KindOther {
			text += UserMessage(err)
		}
		return TurnResult{Reply: text, UpdatedDocument: doc, DocumentReplaced: true, Err: err}
	}
	if len(reply.ToolInvocations) > 0 {
		d.logger.Warn("dialogue.tool_call_ignored", zap.Int("count", len(reply.ToolInvocations)))
	}

	text := strings.TrimSpace(reply.Text)
	if text == "" {
		text = MsgDocumentUpdated
	}
	return TurnResult{Reply: text, UpdatedDocument: doc, DocumentReplaced: true}
}
