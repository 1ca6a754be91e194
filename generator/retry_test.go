package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCallRetriesTransientUntilExhausted(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}, zaptest.NewLogger(t))
	r.jitter = func() float64 { return 0 }
	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	calls := 0
	_, err := Call(context.Background(), r, "test", func(context.Context) (string, error) {
		calls++
		return "", rateLimited()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, waits)
	assert.Equal(t, MsgQuotaExhausted, UserMessage(err))
}

func TestCallCredentialFailureIsNotRetried(t *testing.T) {
	r := fastRetrier(zaptest.NewLogger(t))

	calls := 0
	_, err := Call(context.Background(), r, "test", func(context.Context) (int, error) {
		calls++
		return 0, unauthorized()
	})

	assert.ErrorIs(t, err, ErrCredentialInvalid)
	assert.Equal(t, 1, calls)
	assert.True(t, r.CredentialRevoked())
	assert.Equal(t, MsgCredentialInvalid, UserMessage(err))

	// Later calls fail fast without reaching the provider.
	_, err = Call(context.Background(), r, "test", func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrCredentialInvalid)
	assert.Equal(t, 1, calls)

	r.ResetCredential()
	v, err := Call(context.Background(), r, "test", func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCallOtherErrorsPassThrough(t *testing.T) {
	r := fastRetrier(zaptest.NewLogger(t))
	boom := errors.New("malformed request")

	calls := 0
	_, err := Call(context.Background(), r, "test", func(context.Context) (string, error) {
		calls++
		return "", boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, MsgGenericFailure, UserMessage(err))
}

func TestCallRecoversAfterTransientFailure(t *testing.T) {
	r := fastRetrier(zaptest.NewLogger(t))

	calls := 0
	v, err := Call(context.Background(), r, "test", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &ProviderError{StatusCode: 503, Message: "model is overloaded"}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestCallFinalTransientIsNotReplayed(t *testing.T) {
	r := fastRetrier(zaptest.NewLogger(t))

	calls := 0
	_, err := Call(context.Background(), r, "test", func(context.Context) (string, error) {
		calls++
		return "partial", noRetry(rateLimited())
	})

	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 1, calls)
}

func TestCallStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Call(ctx, r, "test", func(context.Context) (string, error) {
		calls++
		cancel()
		return "", rateLimited()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewRetrierDefaults(t *testing.T) {
	r := NewRetrier(RetryPolicy{}, nil)
	assert.Equal(t, DefaultMaxAttempts, r.Policy().MaxAttempts)
	assert.Equal(t, time.Duration(0), r.Policy().BaseDelay)
	assert.Equal(t, DefaultRetryPolicy(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second})
}

func TestBackoffIsCappedForLargeAttempts(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 100, BaseDelay: time.Second}, nil)
	r.jitter = func() float64 { return 0.5 }

	assert.Equal(t, 1500*time.Millisecond, r.Backoff(0))
	assert.Equal(t, 4500*time.Millisecond, r.Backoff(2))
	for _, attempt := range []int{9, 40, 63, 64, 99} {
		wait := r.Backoff(attempt)
		assert.Positive(t, wait, "attempt %d", attempt)
		assert.Equal(t, MaxBackoff, wait, "attempt %d", attempt)
	}

	huge := NewRetrier(RetryPolicy{BaseDelay: time.Hour}, nil)
	assert.Equal(t, MaxBackoff, huge.Backoff(3))
}
