package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppmina/xdata-go/internal/exchange"
)

func fastPolicy() Policy {
	return Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 3, Jitter: 0}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &exchange.TransientError{Err: errors.New("timeout")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_FatalErrorStopsImmediately(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		attempts++
		return exchange.ErrUnauthorized
	})
	assert.ErrorIs(t, err, exchange.ErrUnauthorized)
	assert.Equal(t, 1, attempts)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		attempts++
		return exchange.ErrInvalidSymbol
	})
	assert.ErrorIs(t, err, exchange.ErrInvalidSymbol)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustsRetryBudget(t *testing.T) {
	attempts := 0
	boom := &exchange.TransientError{Err: errors.New("boom")}
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, attempts) // 1 initial + MaxRetries(3)
}

func TestDo_RateLimitDoesNotConsumeBudget(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		attempts++
		if attempts <= 10 {
			return &exchange.RateLimitedError{RetryAfterMS: 1}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 11, attempts)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastPolicy(), func(ctx context.Context) error {
		return &exchange.TransientError{Err: errors.New("boom")}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, SeverityFatal, Classify(exchange.ErrUnauthorized))
	assert.Equal(t, SeverityPermanent, Classify(exchange.ErrInvalidSymbol))
	assert.Equal(t, SeverityTransient, Classify(errors.New("other")))
}
