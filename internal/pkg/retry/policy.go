package retry

import (
	"context"
	"time"
)

// Policy is a bounded retry schedule shared by the ledger engine's
// optimistic-concurrency loop and the webhook retry sweep. Backoff holds the
// wait before each re-attempt; when attempts outnumber entries the last
// entry is reused.
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// LedgerPolicy bounds the in-process retry of optimistic balance writes.
// The webhook handler has single-digit seconds before the provider times
// out, so the schedule stays short.
var LedgerPolicy = Policy{
	MaxAttempts: 3,
	Backoff:     []time.Duration{10 * time.Millisecond, 50 * time.Millisecond},
}

// Do runs op up to MaxAttempts times, sleeping the scheduled backoff between
// attempts as long as retryable reports the returned error as transient. It
// returns nil on the first success and the last error otherwise.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if waitErr := p.wait(ctx, attempt-1); waitErr != nil {
				return waitErr
			}
		}
		if err = op(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}

func (p Policy) wait(ctx context.Context, idx int) error {
	if len(p.Backoff) == 0 {
		return ctx.Err()
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	timer := time.NewTimer(p.Backoff[idx])
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
