package generator

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"
)

// step is one scripted provider answer.
type step struct {
	reply  Reply
	chunks []Chunk
	err    error
}

type fakeLLM struct {
	mu        sync.Mutex
	generate  []step
	requests  []Request
	started   []ConversationConfig
	conv      *fakeConversation
	startErr  error
	generated int
}

func (f *fakeLLM) next() step {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	if len(f.generate) == 0 {
		return step{err: errors.New("unexpected generate call")}
	}
	s := f.generate[0]
	if len(f.generate) > 1 {
		f.generate = f.generate[1:]
	}
	return s
}

func (f *fakeLLM) record(req Request) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
}

func (f *fakeLLM) Generate(_ context.Context, req Request) (Completion, error) {
	f.record(req)
	s := f.next()
	if s.err != nil {
		return Completion{}, s.err
	}
	return Completion{Text: s.reply.Text, Citations: s.reply.Citations}, nil
}

func (f *fakeLLM) GenerateStream(_ context.Context, req Request) iter.Seq2[Chunk, error] {
	f.record(req)
	s := f.next()
	return replay(s)
}

func (f *fakeLLM) StartConversation(_ context.Context, cfg ConversationConfig) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, cfg)
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.conv == nil {
		f.conv = &fakeConversation{}
	}
	return f.conv, nil
}

func replay(s step) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if s.err != nil {
			yield(Chunk{}, s.err)
		}
	}
}

type ackRecord struct {
	call   ToolInvocation
	result map[string]any
}

type fakeConversation struct {
	sends   []step
	acks    []step
	sent    [][]Segment
	acked   []ackRecord
	history []Message
}

func pop(q *[]step) step {
	if len(*q) == 0 {
		return step{err: errors.New("unexpected call")}
	}
	s := (*q)[0]
	*q = (*q)[1:]
	return s
}

func (c *fakeConversation) Send(_ context.Context, segments []Segment) (Reply, error) {
	c.sent = append(c.sent, segments)
	s := pop(&c.sends)
	return s.reply, s.err
}

func (c *fakeConversation) SendStream(_ context.Context, segments []Segment) iter.Seq2[Chunk, error] {
	c.sent = append(c.sent, segments)
	return replay(pop(&c.sends))
}

func (c *fakeConversation) AcknowledgeTool(_ context.Context, call ToolInvocation, result map[string]any) (Reply, error) {
	c.acked = append(c.acked, ackRecord{call: call, result: result})
	s := pop(&c.acks)
	return s.reply, s.err
}

func (c *fakeConversation) History() []Message { return c.history }

// fastRetrier retries without sleeping.
func fastRetrier(logger *zap.Logger) *Retrier {
	r := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, logger)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func rateLimited() error {
	return &ProviderError{StatusCode: 429, StatusToken: "RESOURCE_EXHAUSTED", Message: "quota exceeded"}
}

func unauthorized() error {
	return &ProviderError{StatusCode: 401, Message: "API key not valid"}
}
