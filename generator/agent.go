package generator

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"disclosure_report_drafter/extract"
	"disclosure_report_drafter/standards"
)

// Agent 负责根据报告参数与资料生成首稿，并为草稿创建对话会话。
type Agent struct {
	llm       LLMClient
	assembler *Assembler
	retrier   *Retrier
	extractor Extractor
	standards func([]string) string
	policy    RetryPolicy
	logger    *zap.Logger
}

// Option configures an Agent.
type Option func(*Agent)

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithRetrier shares one retrier, and so one credential latch, across agents.
func WithRetrier(r *Retrier) Option {
	return func(a *Agent) { a.retrier = r }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(a *Agent) { a.policy = p }
}

func WithExtractor(ex Extractor) Option {
	return func(a *Agent) { a.extractor = ex }
}

// WithStandards replaces the standard-identifier lookup.
func WithStandards(lookup func([]string) string) Option {
	return func(a *Agent) { a.standards = lookup }
}

func NewAgent(llm LLMClient, opts ...Option) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	a := &Agent{
		llm:       llm,
		logger:    zap.NewNop(),
		extractor: extract.Default{},
		standards: standards.Lookup,
		policy:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.retrier == nil {
		a.retrier = NewRetrier(a.policy, a.logger)
	}
	a.assembler = NewAssembler(a.extractor, a.standards, a.logger)
	return a, nil
}

// Retrier exposes the agent's retrier.
func (a *Agent) Retrier() *Retrier {
	return a.retrier
}

// Generate drafts a document. With onPartial set the response is streamed and
// onPartial receives the complete text so far after every chunk; a sources
// section, when grounding produced one, is appended after the stream ends
// and reported once more. Failures keep their classification; text already
// reported through onPartial is left to the caller.
func (a *Agent) Generate(ctx context.Context, params ReportParams, material SourceMaterial, onPartial func(string)) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	asm := a.assembler.Assemble(ctx, params, material.RawText, material.Files, material.URLs)
	req := Request{System: asm.System, Segments: asm.Segments, Capabilities: asm.Capabilities}
	a.logger.Info("generate.start",
		zap.String("company", params.Company),
		zap.Strings("standards", params.Standards),
		zap.Int("length", params.Length),
		zap.Bool("stream", onPartial != nil),
		zap.String("segments", describeSegments(req.Segments)),
	)

	var (
		acc Accumulation
		err error
	)
	if onPartial == nil {
		acc, err = Call(ctx, a.retrier, "generate", func(ctx context.Context) (Accumulation, error) {
			c, err := a.llm.Generate(ctx, req)
			if err != nil {
				return Accumulation{}, err
			}
			return Accumulation{Text: c.Text, Citations: c.Citations}, nil
		})
	} else {
		acc, err = Call(ctx, a.retrier, "generate_stream", func(ctx context.Context) (Accumulation, error) {
			acc, delivered, err := drain(a.llm.GenerateStream(ctx, req), onPartial)
			if err != nil && delivered {
				return acc, noRetry(err)
			}
			return acc, err
		})
	}
	if err != nil {
		a.logger.Warn("generate.failed", zap.Error(err))
		return "", err
	}
	if strings.TrimSpace(acc.Text) == "" {
		return "", ErrEmptyResponse
	}

	final := AppendSources(acc.Text, acc.Citations)
	if onPartial != nil && final != acc.Text {
		onPartial(final)
	}
	a.logger.Info("generate.done", zap.Int("chars", len([]rune(final))), zap.Int("citations", len(acc.Citations)))
	return final, nil
}

// NewDialogue opens a dialogue seeded with document.
func (a *Agent) NewDialogue(ctx context.Context, document string, params ReportParams) (*Dialogue, error) {
	return NewDialogue(ctx, a.llm, DialogueConfig{
		Document:         document,
		ReferenceContext: a.standards(params.Standards),
		Company:          params.Company,
	}, a.retrier, a.extractor, a.logger)
}
