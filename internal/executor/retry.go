package executor

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"neptunebot/internal/ports"
)

// RetryPolicy retries exchange calls that failed transiently (rate limits,
// timeouts, connectivity). Rejections and auth failures return immediately.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy matches the production deployment's settings.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	MinBackoff:  500 * time.Millisecond,
	MaxBackoff:  8 * time.Second,
}

// Do runs fn, retrying transient failures with jittered exponential backoff
// until it succeeds, a non-transient error occurs, attempts run out, or ctx
// is cancelled.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.Backoff{
		Min:    p.MinBackoff,
		Max:    p.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !ports.IsTransient(err) || i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return err
}
