package pool

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

// RetryPolicy decides whether and how long to wait before another connect attempt.
type RetryPolicy interface {
	// ShouldRetry determines if err is worth another attempt.
	ShouldRetry(err error) bool
	// Backoff returns the delay before attempt+1, attempt starting at 1.
	Backoff(attempt int) time.Duration
	// MaxAttempts returns the total number of attempts.
	MaxAttempts() int
}

// ExponentialBackoff retries transient connect errors with capped exponential delays and jitter.
type ExponentialBackoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
	// Jitter returns a value in [0,1); nil uses math/rand.
	Jitter func() float64
}

// DefaultRetryPolicy returns 3 attempts starting at 1s, capped at 10s.
func DefaultRetryPolicy() *ExponentialBackoff {
	return &ExponentialBackoff{Attempts: 3, Initial: time.Second, Max: 10 * time.Second, Factor: 2}
}

// RetryPolicyFromConfig converts the retry section of the configuration.
func RetryPolicyFromConfig(cfg config.RetryConfig) *ExponentialBackoff {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.Attempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		p.Initial = time.Duration(cfg.InitialInterval) * time.Millisecond
	}
	if cfg.MaxInterval > 0 {
		p.Max = time.Duration(cfg.MaxInterval) * time.Millisecond
	}
	if cfg.Factor >= 1 {
		p.Factor = cfg.Factor
	}
	return p
}

// ShouldRetry retries connectivity errors only; credential and query errors are final.
func (b *ExponentialBackoff) ShouldRetry(err error) bool {
	return exception.IsTemporary(err)
}

// MaxAttempts returns the configured attempt count, at least 1.
func (b *ExponentialBackoff) MaxAttempts() int {
	if b.Attempts < 1 {
		return 1
	}
	return b.Attempts
}

// Backoff returns a delay between half and all of min(Max, Initial*Factor^(attempt-1)).
func (b *ExponentialBackoff) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	if max := float64(b.Max); b.Max > 0 && d > max {
		d = max
	}
	j := b.Jitter
	if j == nil {
		j = rand.Float64
	}
	return time.Duration(d/2 + j()*d/2)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ RetryPolicy = (*ExponentialBackoff)(nil)
