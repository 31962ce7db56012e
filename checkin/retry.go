package checkin

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig bounds the automatic retries of the recording step
type RetryConfig struct {
	// MaxAttempts includes the first call
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// JitterFactor is the maximum jitter as a fraction of the backoff (0-1)
	JitterFactor float64
}

// DefaultRetryConfig returns the retry bounds used for recording.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		c.JitterFactor = d.JitterFactor
	}
	return c
}

// retry calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. It returns the number of calls made and the last error.
func retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) error) (int, error) {
	cfg = cfg.withDefaults()
	backoff := cfg.InitialBackoff

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt - 1, ctxErr
		}

		err = fn(ctx, attempt)
		if err == nil || !Retryable(err) || attempt == cfg.MaxAttempts {
			return attempt, err
		}

		timer := time.NewTimer(jitter(backoff, cfg.JitterFactor))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return cfg.MaxAttempts, err
}

func jitter(d time.Duration, factor float64) time.Duration {
	if factor == 0 {
		return d
	}
	delta := float64(d) * factor * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + delta)
}
