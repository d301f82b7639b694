package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetmesh/internal/model"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 3, Window: time.Second, CooldownMS: 50 * time.Millisecond, HalfOpenProbes: 1}
	b := NewBreaker("target-a", cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return boom })
		require.Error(t, err)
	}

	assert.Equal(t, model.CircuitOpen, b.State())
	assert.False(t, b.Allow())

	err := b.Do(func() error { return nil })
	assert.True(t, model.IsKind(err, model.KindUnavailable))
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, Window: time.Second, CooldownMS: 10 * time.Millisecond, HalfOpenProbes: 1}
	b := NewBreaker("target-b", cfg)

	_ = b.Do(func() error { return errors.New("fail") })
	require.Equal(t, model.CircuitOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	err := b.Do(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, model.CircuitClosed, b.State())
}

func TestBreakerRegistryReusesInstances(t *testing.T) {
	r := NewBreakerRegistry(DefaultBreakerConfig())
	a := r.Get("agent-x")
	b := r.Get("agent-x")
	assert.Same(t, a, b)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryPolicy(), func() error {
		calls++
		return model.Wrap(model.KindRateLimited, "test", "nope", nil)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	policy := RetryPolicy{
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RetryableKinds: []model.ErrorKind{model.KindTimeout},
	}
	err := Retry(context.Background(), policy, func() error {
		calls++
		return model.Wrap(model.KindTimeout, "test", "slow", nil)
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrySucceedsEventually(t *testing.T) {
	calls := 0
	policy := RetryPolicy{
		MaxAttempts:    5,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RetryableKinds: []model.ErrorKind{model.KindUnavailable},
	}
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return model.Wrap(model.KindUnavailable, "test", "down", nil)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBulkheadRejectsWhenQueueFull(t *testing.T) {
	b := NewBulkhead(1, 0)
	ctx := context.Background()

	require.NoError(t, b.Acquire(ctx))
	err := b.Acquire(ctx)
	assert.True(t, model.IsKind(err, model.KindOverloaded))
	b.Release()
}

func TestBulkheadInFlightCount(t *testing.T) {
	b := NewBulkhead(2, 2)
	ctx := context.Background()
	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, b.Acquire(ctx))
	assert.Equal(t, 2, b.InFlight())
	b.Release()
	assert.Equal(t, 1, b.InFlight())
	b.Release()
}

func TestShutdownGroupRunsLIFOAndAggregatesErrors(t *testing.T) {
	g := NewShutdownGroup()
	var order []string

	g.Register("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	g.Register("second", func(ctx context.Context) error {
		order = append(order, "second")
		return errors.New("second failed")
	})
	g.Register("third", func(ctx context.Context) error {
		order = append(order, "third")
		return nil
	})

	err := g.Run(context.Background(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second failed")
	assert.Equal(t, []string{"third", "second", "first"}, order)
}
