package backend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/hh-matcher/internal/resilience"
)

type countingScorer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (*ScoreResult, error)
}

func (s *countingScorer) Score(ctx context.Context, _ Request) (*ScoreResult, error) {
	call := int(s.calls.Add(1))
	return s.fn(ctx, call)
}

func healthyResult() *ScoreResult {
	return NewScoreResult(map[string]float64{"skills": 90, "culture": 70}, nil, Explanation{})
}

func newTestClient(threshold int, opts ...ClientOption) *Client {
	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: threshold, RecoveryTimeout: time.Hour})
	retry := resilience.NewRetryPolicy(resilience.RetryConfig{MaxRetries: 3, BaseDelay: 0, BackoffMultiplier: 2}, nil)
	return NewClient(NewRegistry(Endpoint{Identity: Primary, Transport: TransportHTTP}), breakers, retry, opts...)
}

func TestClientNotConfigured(t *testing.T) {
	client := newTestClient(5)

	_, err := client.Score(context.Background(), GeoSpecialized, Request{})
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, client.Configured(GeoSpecialized))
}

func TestClientSuccess(t *testing.T) {
	scorer := &countingScorer{fn: func(context.Context, int) (*ScoreResult, error) {
		return healthyResult(), nil
	}}
	client := newTestClient(5, WithScorer(Primary, scorer))

	res, err := client.Score(context.Background(), Primary, Request{})
	require.NoError(t, err)

	assert.Equal(t, Primary, res.Backend)
	assert.Equal(t, 70.0, res.Scores[Preferences])
	assert.Equal(t, 80.0, res.Overall)
	assert.Equal(t, int32(1), scorer.calls.Load())
}

func TestClientRetriesTransientInsideOneBreakerFailure(t *testing.T) {
	scorer := &countingScorer{fn: func(context.Context, int) (*ScoreResult, error) {
		return nil, resilience.Transient("primary", errors.New("connection reset"))
	}}
	client := newTestClient(5, WithScorer(Primary, scorer))

	_, err := client.Score(context.Background(), Primary, Request{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), scorer.calls.Load())

	snaps := client.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].ConsecutiveFailures)
}

func TestClientTimeoutIsTransient(t *testing.T) {
	scorer := &countingScorer{fn: func(ctx context.Context, call int) (*ScoreResult, error) {
		if call == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return healthyResult(), nil
	}}
	client := newTestClient(5, WithScorer(Primary, scorer), WithTimeout(10*time.Millisecond))

	res, err := client.Score(context.Background(), Primary, Request{})
	require.NoError(t, err)
	assert.Equal(t, Primary, res.Backend)
	assert.Equal(t, int32(2), scorer.calls.Load())
}

func TestClientEndpointTimeoutOverridesDefault(t *testing.T) {
	scorer := &countingScorer{fn: func(ctx context.Context, _ int) (*ScoreResult, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return healthyResult(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	registry := NewRegistry(
		Endpoint{Identity: Primary, Transport: TransportHTTP, Timeout: time.Second},
		Endpoint{Identity: SemanticNLP, Transport: TransportGemini},
	)
	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Hour})
	retry := resilience.NewRetryPolicy(resilience.RetryConfig{MaxRetries: 1, BaseDelay: 0, BackoffMultiplier: 2}, nil)
	client := NewClient(registry, breakers, retry,
		WithTimeout(10*time.Millisecond),
		WithScorer(Primary, scorer),
		WithScorer(SemanticNLP, scorer),
	)

	res, err := client.Score(context.Background(), Primary, Request{})
	require.NoError(t, err)
	assert.Equal(t, Primary, res.Backend)

	_, err = client.Score(context.Background(), SemanticNLP, Request{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "no response within 10ms")
}

func TestClientRejectsOutOfRangeScores(t *testing.T) {
	scorer := &countingScorer{fn: func(context.Context, int) (*ScoreResult, error) {
		return NewScoreResult(map[string]float64{"skills": 140}, nil, Explanation{}), nil
	}}
	client := newTestClient(5, WithScorer(Primary, scorer))

	_, err := client.Score(context.Background(), Primary, Request{})
	require.Error(t, err)
	assert.True(t, resilience.IsResponse(err))
	assert.Equal(t, int32(1), scorer.calls.Load())
}

func TestClientOpenCircuitSkipsScorer(t *testing.T) {
	scorer := &countingScorer{fn: func(context.Context, int) (*ScoreResult, error) {
		return nil, errors.New("boom")
	}}
	client := newTestClient(1, WithScorer(Primary, scorer))

	_, err := client.Score(context.Background(), Primary, Request{})
	require.Error(t, err)
	require.Equal(t, int32(1), scorer.calls.Load())

	_, err = client.Score(context.Background(), Primary, Request{})
	var openErr *resilience.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "primary", openErr.Backend)
	assert.Equal(t, int32(1), scorer.calls.Load())
}

func TestClientPermanentErrorIsNotCounted(t *testing.T) {
	scorer := &countingScorer{fn: func(context.Context, int) (*ScoreResult, error) {
		return nil, resilience.Permanent("candidate.skills", "rejected by backend")
	}}
	client := newTestClient(1, WithScorer(Primary, scorer))

	for range 3 {
		_, err := client.Score(context.Background(), Primary, Request{})
		require.True(t, resilience.IsPermanentInput(err))
	}
	assert.Equal(t, int32(3), scorer.calls.Load())
	assert.Equal(t, resilience.StateClosed, client.Snapshots()[0].State)
}

func TestClientCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scorer := &countingScorer{fn: func(ctx context.Context, _ int) (*ScoreResult, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	client := newTestClient(1, WithScorer(Primary, scorer))

	_, err := client.Score(ctx, Primary, Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), scorer.calls.Load())
	assert.Equal(t, resilience.StateClosed, client.Snapshots()[0].State)
}
