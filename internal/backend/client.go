package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spigell/hh-matcher/internal/logger"
	"github.com/spigell/hh-matcher/internal/profile"
	"github.com/spigell/hh-matcher/internal/resilience"
)

// DefaultTimeout bounds a single backend invocation.
const DefaultTimeout = 200 * time.Millisecond

// ErrNotConfigured is returned for identities without a registered scorer.
var ErrNotConfigured = errors.New("backend is not configured")

// Options are passed through to the backend with every request.
type Options struct {
	ValidationMode bool `json:"validation_mode"`
}

// Request is the payload sent to a backend. Attribute maps are owned by the
// request and must not be mutated by scorers.
type Request struct {
	Candidate profile.Attributes
	Job       profile.Attributes
	Options   Options
}

// Scorer is one backend transport. Implementations classify their failures
// with the resilience error types.
type Scorer interface {
	Score(ctx context.Context, req Request) (*ScoreResult, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, req Request) (*ScoreResult, error)

func (f ScorerFunc) Score(ctx context.Context, req Request) (*ScoreResult, error) {
	return f(ctx, req)
}

// Client invokes scorers through the breaker of their identity, retrying
// transient failures inside the breaker.
type Client struct {
	registry *Registry
	breakers *resilience.Breakers
	retry    *resilience.RetryPolicy
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	scorers map[Identity]Scorer
}

type ClientOption func(*Client)

// WithTimeout sets the per-invocation deadline for endpoints without their
// own timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithScorer registers a scorer at construction time.
func WithScorer(id Identity, s Scorer) ClientOption {
	return func(c *Client) {
		c.scorers[id] = s
	}
}

func NewClient(registry *Registry, breakers *resilience.Breakers, retry *resilience.RetryPolicy, opts ...ClientOption) *Client {
	c := &Client{
		registry: registry,
		breakers: breakers,
		retry:    retry,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
		scorers:  make(map[Identity]Scorer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakers == nil {
		c.breakers = resilience.NewBreakers(resilience.DefaultBreakerConfig(), resilience.WithLogger(c.logger))
	}
	if c.retry == nil {
		c.retry = resilience.NewRetryPolicy(resilience.DefaultRetryConfig(), c.logger)
	}
	return c
}

// Register installs or replaces the scorer for id.
func (c *Client) Register(id Identity, s Scorer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scorers[id] = s
}

// Configured reports whether id has a scorer.
func (c *Client) Configured(id Identity) bool {
	_, ok := c.scorer(id)
	return ok
}

func (c *Client) Registry() *Registry { return c.registry }

// Snapshots returns the state of every breaker created so far.
func (c *Client) Snapshots() []resilience.Snapshot {
	return c.breakers.Snapshots()
}

func (c *Client) scorer(id Identity) (Scorer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scorers[id]
	return s, ok
}

// Score calls backend id. A breaker that rejects the call returns
// *resilience.CircuitOpenError without touching the scorer. The result has
// been validated and carries id as its Backend.
func (c *Client) Score(ctx context.Context, id Identity, req Request) (*ScoreResult, error) {
	s, ok := c.scorer(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotConfigured)
	}

	transport := ""
	if ep, ok := c.registry.Lookup(id); ok {
		transport = ep.Transport
	}
	log := logger.WithBackendFields(c.logger, id.String(), transport)

	var result *ScoreResult
	attempt := 0
	err := c.breakers.Get(id.String()).Guard(ctx, func(ctx context.Context) error {
		return c.retry.Execute(ctx, func(ctx context.Context) error {
			attempt++
			res, err := c.invoke(ctx, id, s, req, attempt)
			if err != nil {
				log.Debug("backend call failed", zap.Int("attempt", attempt), zap.Error(err))
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Debug("backend call succeeded",
		zap.Int("attempts", attempt),
		zap.Float64("overall", result.Overall),
	)
	return result, nil
}

func (c *Client) invoke(ctx context.Context, id Identity, s Scorer, req Request, attempt int) (*ScoreResult, error) {
	sc := logger.StartSpan(ctx, "backend.score", trace.WithAttributes(
		attribute.String("backend", id.String()),
		attribute.Int("attempt", attempt),
		attribute.Bool("validation_mode", req.Options.ValidationMode),
	))
	defer sc.End()

	callCtx, cancel := context.WithTimeout(sc.Context(), c.timeoutFor(id))
	defer cancel()

	res, err := s.Score(callCtx, req)
	if err != nil {
		err = c.classify(ctx, callCtx, id, err)
		sc.RecordError(err)
		return nil, err
	}

	if verr := res.Validate(); verr != nil {
		err := &resilience.ResponseError{Backend: id.String(), Message: "invalid score result", Err: verr}
		sc.RecordError(err)
		return nil, err
	}

	res.Backend = id
	sc.SetAttributes(attribute.Float64("overall", res.Overall))
	return res, nil
}

// classify turns a per-attempt deadline into a transient failure while the
// caller's context is still alive. Caller cancellation is returned as is.
func (c *Client) classify(parent, callCtx context.Context, id Identity, err error) error {
	if parent.Err() != nil {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !resilience.IsTransient(err) {
		return resilience.Transient(id.String(), fmt.Errorf("no response within %s: %w", c.timeoutFor(id), err))
	}
	return err
}

func (c *Client) timeoutFor(id Identity) time.Duration {
	if ep, ok := c.registry.Lookup(id); ok && ep.Timeout > 0 {
		return ep.Timeout
	}
	return c.timeout
}
