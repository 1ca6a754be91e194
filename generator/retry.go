package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	MaxBackoff         = 5 * time.Minute
)

// RetryPolicy bounds the retrier.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Retrier runs remote calls with exponential backoff and jitter. Once a
// credential failure is seen, every later call fails fast with
// ErrCredentialInvalid, because the credential is process-wide.
type Retrier struct {
	policy  RetryPolicy
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64
	revoked atomic.Bool
}

// NewRetrier builds a retrier; zero policy fields take defaults.
func NewRetrier(policy RetryPolicy, logger *zap.Logger) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
}

// Policy returns the effective policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// CredentialRevoked reports whether a credential failure has been observed.
func (r *Retrier) CredentialRevoked() bool {
	return r.revoked.Load()
}

// ResetCredential clears the fail-fast latch after the credential is replaced.
func (r *Retrier) ResetCredential() {
	r.revoked.Store(false)
}

// Backoff is the wait after the given zero-based failed attempt:
// base * 2^attempt plus up to one base of jitter, capped at MaxBackoff.
func (r *Retrier) Backoff(attempt int) time.Duration {
	base := r.policy.BaseDelay
	if base <= 0 {
		return 0
	}
	if base >= MaxBackoff {
		return MaxBackoff
	}
	wait := base
	for i := 0; i < attempt && wait < MaxBackoff; i++ {
		wait *= 2
	}
	wait += time.Duration(r.jitter() * float64(base))
	return min(wait, MaxBackoff)
}

type finalError struct{ err error }

func (f finalError) Error() string { return f.err.Error() }
func (f finalError) Unwrap() error { return f.err }

// noRetry marks an error as final: it is classified but not retried. Used once
// a stream has already delivered output, since replaying it would rewind the
// caller's view.
func noRetry(err error) error {
	if err == nil {
		return nil
	}
	return finalError{err: err}
}

// Call runs op under r. Credential failures are returned immediately wrapping
// ErrCredentialInvalid; retryable failures are retried and, once attempts are
// spent, returned wrapping ErrQuotaExhausted; anything else is returned as is.
func Call[T any](ctx context.Context, r *Retrier, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if r.revoked.Load() {
		return zero, fmt.Errorf("%s: %w", name, ErrCredentialInvalid)
	}

	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		res, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("llm.retry_recovered", zap.String("call", name), zap.Int("attempt", attempt+1))
			}
			return res, nil
		}
		lastErr = err

		var final finalError
		isFinal := errors.As(err, &final)
		if isFinal {
			err = final.err
		}

		kind := ClassifyError(err)
		switch kind {
		case KindCredential:
			r.revoked.Store(true)
			r.logger.Error("llm.credential_invalid", zap.String("call", name), zap.Int("attempt", attempt+1), zap.Error(err))
			if errors.Is(err, ErrCredentialInvalid) {
				return zero, err
			}
			return zero, fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
		case KindOther:
			r.logger.Warn("llm.call_failed", zap.String("call", name), zap.Int("attempt", attempt+1), zap.Error(err))
			return zero, err
		}

		if isFinal {
			r.logger.Warn("llm.transient_after_output", zap.String("call", name), zap.Int("attempt", attempt+1), zap.Error(err))
			return zero, exhausted(err, attempt+1)
		}
		if attempt+1 >= r.policy.MaxAttempts {
			break
		}
		wait := r.Backoff(attempt)
		r.logger.Warn("llm.retry",
			zap.String("call", name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Stringer("kind", kind),
			zap.Int64("wait_ms", wait.Milliseconds()),
			zap.Error(err),
		)
		if serr := r.sleep(ctx, wait); serr != nil {
			return zero, serr
		}
	}
	r.logger.Error("llm.retry_exhausted", zap.String("call", name), zap.Int("attempts", r.policy.MaxAttempts), zap.Error(lastErr))
	return zero, exhausted(lastErr, r.policy.MaxAttempts)
}

func exhausted(err error, attempts int) error {
	if errors.Is(err, ErrQuotaExhausted) {
		return err
	}
	return fmt.Errorf("%w after %d attempt(s): %v", ErrQuotaExhausted, attempts, err)
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
