package checkin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastRetry(max int) RetryConfig {
	return RetryConfig{MaxAttempts: max, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	failures := 2
	calls, err := retry(context.Background(), fastRetry(5), func(ctx context.Context, attempt int) error {
		if failures > 0 {
			failures--
			return fmt.Errorf("flaky: %w", ErrTransient)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls, err := retry(context.Background(), fastRetry(3), func(ctx context.Context, attempt int) error {
		return ErrTransient
	})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	permanent := errors.New("bad request")
	calls, err := retry(context.Background(), fastRetry(5), func(ctx context.Context, attempt int) error {
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	calls, err = retry(context.Background(), fastRetry(5), func(ctx context.Context, attempt int) error {
		return &ConflictError{}
	})
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	calls, err := retry(ctx, cfg, func(ctx context.Context, attempt int) error {
		cancel()
		return ErrTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryConfig_Defaults(t *testing.T) {
	cfg := RetryConfig{}.withDefaults()
	d := DefaultRetryConfig()
	assert.Equal(t, d.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, d.InitialBackoff, cfg.InitialBackoff)
	assert.Equal(t, d.MaxBackoff, cfg.MaxBackoff)
	assert.Equal(t, d.BackoffFactor, cfg.BackoffFactor)

	cfg = RetryConfig{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: time.Millisecond}.withDefaults()
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.MaxBackoff)
}

func TestJitterStaysInBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second, 0.2)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
	assert.Equal(t, time.Second, jitter(time.Second, 0))
}
