package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBackendDown = errors.New("backend down")

func failing(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return errBackendDown
	}
}

func succeeding(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return nil
	}
}

func TestBreakerOpensAfterThresholdAndFailsFast(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("primary", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Second}, WithClock(clock.Now))
	ctx := context.Background()

	var calls int32
	for i := 0; i < 3; i++ {
		err := b.Guard(ctx, failing(&calls))
		require.ErrorIs(t, err, errBackendDown)
	}
	require.Equal(t, StateOpen, b.State())

	err := b.Guard(ctx, failing(&calls))
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "primary", openErr.Backend)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "operation must not run while open")
}

func TestBreakerSuccessResetsConsecutiveCount(t *testing.T) {
	b := NewBreaker("geo", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Second})
	ctx := context.Background()

	var calls int32
	_ = b.Guard(ctx, failing(&calls))
	_ = b.Guard(ctx, failing(&calls))
	require.NoError(t, b.Guard(ctx, succeeding(&calls)))
	_ = b.Guard(ctx, failing(&calls))
	_ = b.Guard(ctx, failing(&calls))

	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 2, snap.ConsecutiveFailures)
}

func TestBreakerHalfOpenAllowsSingleProbeAndCloses(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("senior", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()

	var calls int32
	_ = b.Guard(ctx, failing(&calls))
	require.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	require.True(t, IsCircuitOpen(b.Guard(ctx, succeeding(&calls))))

	clock.Advance(time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Guard(ctx, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	assert.Equal(t, StateHalfOpen, b.State())
	concurrent := b.Guard(ctx, succeeding(&calls))
	assert.True(t, IsCircuitOpen(concurrent), "second call during probe must be rejected")

	close(release)
	require.NoError(t, <-done)

	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("nlp", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()

	var calls int32
	_ = b.Guard(ctx, failing(&calls))
	first := b.Snapshot().LastFailure

	clock.Advance(10 * time.Second)
	require.ErrorIs(t, b.Guard(ctx, failing(&calls)), errBackendDown)

	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.True(t, snap.LastFailure.After(first))
	assert.True(t, IsCircuitOpen(b.Guard(ctx, succeeding(&calls))))
}

func TestBreakerIgnoresCancellationAndInputErrors(t *testing.T) {
	b := NewBreaker("legacy", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Guard(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	err = b.Guard(context.Background(), func(context.Context) error {
		return Permanent("skills", "must be a list")
	})
	require.True(t, IsPermanentInput(err))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestBreakerCancelledProbeReleasesSlot(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("hybrid", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second}, WithClock(clock.Now))

	var calls int32
	_ = b.Guard(context.Background(), failing(&calls))
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = b.Guard(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Guard(context.Background(), succeeding(&calls)))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerConcurrentFailuresTripOnce(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	b := NewBreaker("primary", BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute}, WithLogger(zap.New(core)))

	var wg sync.WaitGroup
	var calls int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Guard(context.Background(), failing(&calls))
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpen, b.State())
	transitions := observed.FilterMessage("circuit state changed").All()
	assert.Len(t, transitions, 1)
}

func TestBreakersAreIndependent(t *testing.T) {
	registry := NewBreakers(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	var calls int32
	_ = registry.Get("primary").Guard(context.Background(), failing(&calls))

	assert.Same(t, registry.Get("primary"), registry.Get("primary"))
	assert.Equal(t, StateOpen, registry.Get("primary").State())
	assert.Equal(t, StateClosed, registry.Get("geo-specialized").State())

	snaps := registry.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "geo-specialized", snaps[0].Name)
	assert.Equal(t, "primary", snaps[1].Name)

	registry.Reset()
	assert.Equal(t, StateClosed, registry.Get("primary").State())
}
