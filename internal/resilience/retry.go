package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dreamware/fleetmesh/internal/model"
)

// RetryPolicy is the caller-supplied policy: max attempts, backoff bounds,
// and which error kinds may be retried.
type RetryPolicy struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	RetryableKinds []model.ErrorKind
}

// DefaultRetryPolicy retries only Unavailable/Timeout/Retryable, matching
// the dispatch stage.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		RetryableKinds: []model.ErrorKind{
			model.KindUnavailable, model.KindTimeout, model.KindRetryable,
		},
	}
}

func (p RetryPolicy) allows(err error) bool {
	for _, k := range p.RetryableKinds {
		if model.IsKind(err, k) {
			return true
		}
	}
	return false
}

// Retry runs fn under policy p, backing off between attempts with jittered
// exponential backoff. Attempts are capped by count, not elapsed time. It
// stops retrying as soon as fn returns a non-retryable error, ctx is
// cancelled, or attempts are exhausted.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseBackoff
	bo.MaxInterval = p.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5 // jitter

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !p.allows(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
