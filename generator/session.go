package generator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"disclosure_report_drafter/diff"
	"disclosure_report_drafter/extract"
)

// Session 持有一份报告的首稿与之后的多轮修订上下文。
type Session struct {
	ID        string
	CreatedAt time.Time

	// run 串行化生成与修订；mu 只保护字段读写。
	run sync.Mutex
	mu  sync.RWMutex

	params    ReportParams
	draft     Draft
	hasDraft  bool
	dialogue  *Dialogue
	updatedAt time.Time
	agent     *Agent
}

// Revision is the outcome of one revision turn.
type Revision struct {
	TurnResult
	Draft   Draft        `json:"draft"`
	Hunks   []diff.Hunk  `json:"hunks,omitempty"`
	Changes diff.Summary `json:"changes"`
}

// Snapshot is a consistent copy of a session's state.
type Snapshot struct {
	ID        string       `json:"id"`
	Params    ReportParams `json:"params"`
	Draft     *Draft       `json:"draft,omitempty"`
	History   []Turn       `json:"history"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewSession 创建 session，尚未生成稿件。
func NewSession(id string, params ReportParams, agent *Agent) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		params:    params,
		updatedAt: now,
		agent:     agent,
	}
}

// Propose 生成首稿并开启新的修订对话。失败时清空已有草稿。
func (s *Session) Propose(ctx context.Context, material SourceMaterial, onPartial func(string)) (Draft, error) {
	s.run.Lock()
	defer s.run.Unlock()

	s.mu.RLock()
	params := s.params
	s.mu.RUnlock()

	text, err := s.agent.Generate(ctx, params, material, onPartial)
	if err != nil {
		s.reset()
		return Draft{}, err
	}
	draft, err := PostProcess(text)
	if err != nil {
		s.reset()
		return Draft{}, err
	}
	dlg, err := s.agent.NewDialogue(ctx, draft.Markdown, params)
	if err != nil {
		s.reset()
		return Draft{}, err
	}

	s.mu.Lock()
	s.draft, s.hasDraft, s.dialogue = draft, true, dlg
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.agent.logger.Info("session.proposed", zap.String("session", s.ID), zap.String("title", draft.Title))
	return draft, nil
}

// Revise 发送一轮修订请求；模型调用工具时以其结果替换草稿。
func (s *Session) Revise(ctx context.Context, text string, attachments []extract.File, onPartial func(string)) (Revision, error) {
	s.run.Lock()
	defer s.run.Unlock()

	s.mu.RLock()
	dlg, before := s.dialogue, s.draft
	s.mu.RUnlock()
	if dlg == nil {
		return Revision{}, ErrNoDraft
	}

	res := dlg.Send(ctx, text, attachments, onPartial)
	rev := Revision{TurnResult: res, Draft: before}
	if res.DocumentReplaced {
		next, err := PostProcess(res.UpdatedDocument)
		if err == nil {
			rev.Draft = next
			rev.Hunks, rev.Changes = diff.Compare(before.Markdown, next.Markdown)
		}
	}

	s.mu.Lock()
	s.draft = rev.Draft
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.agent.logger.Info("session.revised",
		zap.String("session", s.ID),
		zap.Bool("replaced", res.DocumentReplaced),
		zap.Int("added", rev.Changes.Added),
		zap.Int("removed", rev.Changes.Removed),
	)
	return rev, nil
}

// Draft returns the current draft, if any.
func (s *Session) Draft() (Draft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft, s.hasDraft
}

// Params returns the report parameters.
func (s *Session) Params() ReportParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// History returns the dialogue transcript of the current draft.
func (s *Session) History() []Turn {
	s.mu.RLock()
	dlg := s.dialogue
	s.mu.RUnlock()
	if dlg == nil {
		return nil
	}
	return dlg.Transcript()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		ID:        s.ID,
		Params:    s.params,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
	}
	if s.hasDraft {
		d := s.draft
		snap.Draft = &d
	}
	s.mu.RUnlock()
	snap.History = s.History()
	if snap.History == nil {
		snap.History = []Turn{}
	}
	return snap
}

func (s *Session) reset() {
	s.mu.Lock()
	s.draft, s.hasDraft, s.dialogue = Draft{}, false, nil
	s.updatedAt = time.Now()
	s.mu.Unlock()
}
