package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"disclosure_report_drafter/extract"
)

// DialogueState tracks where a dialogue is in its turn protocol.
type DialogueState int32

const (
	StateUninitialized DialogueState = iota
	StateReady
	StateAwaitingModel
	StateAwaitingToolAck
)

func (s DialogueState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateAwaitingToolAck:
		return "awaiting_tool_ack"
	default:
		return "uninitialized"
	}
}

// DialogueConfig seeds a dialogue.
type DialogueConfig struct {
	Document         string
	ReferenceContext string
	Company          string
	Capabilities     []Capability
}

// TurnResult is the fully resolved outcome of one turn. Reply is never empty.
// Err records an absorbed failure; Reply already describes it.
type TurnResult struct {
	Reply            string `json:"reply"`
	UpdatedDocument  string `json:"-"`
	DocumentReplaced bool   `json:"document_replaced"`
	Err              error  `json:"-"`
}

// Dialogue is a multi-turn conversation scoped to one draft. Turns are
// strictly sequential; Send blocks until the previous turn resolves.
type Dialogue struct {
	turn       sync.Mutex
	mu         sync.Mutex
	conv       Conversation
	retrier    *Retrier
	extractor  Extractor
	logger     *zap.Logger
	state      atomic.Int32
	transcript []Turn
	now        func() time.Time
}

// NewDialogue starts the remote conversation, seeded with the draft so later
// turns never resend it.
func NewDialogue(ctx context.Context, llm LLMClient, cfg DialogueConfig, retrier *Retrier, ex Extractor, logger *zap.Logger) (*Dialogue, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retrier == nil {
		retrier = NewRetrier(DefaultRetryPolicy(), logger)
	}
	if ex == nil {
		ex = extract.Default{}
	}
	conv, err := llm.StartConversation(ctx, ConversationConfig{
		System: BuildDialogueSystem(cfg.ReferenceContext, cfg.Company),
		History: []Message{
			{Role: string(RoleUser), Content: seedDraftMessage(cfg.Document)},
			{Role: string(RoleAssistant), Content: seedAcknowledgement},
		},
		Tools:        []ToolDefinition{UpdateReportTool()},
		Capabilities: cfg.Capabilities,
	})
	if err != nil {
		return nil, err
	}
	d := &Dialogue{
		conv:      conv,
		retrier:   retrier,
		extractor: ex,
		logger:    logger,
		now:       time.Now,
	}
	d.setState(StateReady)
	return d, nil
}

// State returns the current protocol state.
func (d *Dialogue) State() DialogueState {
	return DialogueState(d.state.Load())
}

func (d *Dialogue) setState(s DialogueState) {
	prev := DialogueState(d.state.Swap(int32(s)))
	if prev != s {
		d.logger.Debug("dialogue.state", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Transcript returns a copy of the visible turns.
func (d *Dialogue) Transcript() []Turn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Turn(nil), d.transcript...)
}

// Send runs one turn. Attachments are extracted concurrently and sent ahead of
// text. With onPartial set the reply streams as complete-so-far text, and the
// final reply is reported last. Send never fails: errors become reply text.
func (d *Dialogue) Send(ctx context.Context, text string, attachments []extract.File, onPartial func(string)) TurnResult {
	d.turn.Lock()
	defer d.turn.Unlock()

	d.setState(StateAwaitingModel)
	defer d.setState(StateReady)

	parts := ExtractAll(ctx, d.extractor, attachments, d.logger)
	segments := make([]Segment, 0, len(parts)+1)
	for _, p := range parts {
		segments = append(segments, segmentFromPart(p))
	}
	if strings.TrimSpace(text) != "" {
		segments = append(segments, TextSegment(text))
	}
	d.logger.Debug("dialogue.send", zap.String("segments", describeSegments(segments)))

	var last string
	report := onPartial
	if onPartial != nil {
		report = func(s string) {
			last = s
			onPartial(s)
		}
	}

	res := d.runTurn(ctx, segments, report)
	if onPartial != nil && res.Reply != last {
		onPartial(res.Reply)
	}

	now := d.now()
	d.mu.Lock()
	d.transcript = append(d.transcript,
		Turn{Role: RoleUser, Text: text, Attachments: len(attachments), CreatedAt: now},
		Turn{Role: RoleAssistant, Text: res.Reply, CreatedAt: now},
	)
	d.mu.Unlock()
	return res
}

func (d *Dialogue) runTurn(ctx context.Context, segments []Segment, onPartial func(string)) TurnResult {
	reply, err := d.ask(ctx, segments, onPartial)
	if err != nil {
		return failedTurn(err)
	}

	call, ok := firstInvocation(reply.ToolInvocations, ToolUpdateReport)
	if !ok {
		if len(reply.ToolInvocations) > 0 {
			d.logger.Warn("dialogue.unknown_tool", zap.String("name", reply.ToolInvocations[0].Name))
		}
		if strings.TrimSpace(reply.Text) == "" {
			return failedTurn(ErrEmptyResponse)
		}
		return TurnResult{Reply: reply.Text}
	}

	d.setState(StateAwaitingToolAck)
	return d.mediate(ctx, call)
}

func (d *Dialogue) ask(ctx context.Context, segments []Segment, onPartial func(string)) (Reply, error) {
	if onPartial == nil {
		return Call(ctx, d.retrier, "dialogue_send", func(ctx context.Context) (Reply, error) {
			return d.conv.Send(ctx, segments)
		})
	}
	return Call(ctx, d.retrier, "dialogue_stream", func(ctx context.Context) (Reply, error) {
		acc, delivered, err := drain(d.conv.SendStream(ctx, segments), onPartial)
		if err != nil {
			if delivered {
				return Reply{}, noRetry(err)
			}
			return Reply{}, err
		}
		return Reply{Text: acc.Text, ToolInvocations: acc.ToolInvocations, Citations: acc.Citations}, nil
	})
}

func failedTurn(err error) TurnResult {
	return TurnResult{Reply: UserMessage(err), Err: err}
}
