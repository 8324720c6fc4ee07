// Package orchestrator runs a match request end to end: it ranks the scoring
// backends, walks the ranking until one answers and combines the answer with
// the candidate's category weights.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/logger"
	"github.com/spigell/hh-matcher/internal/profile"
	"github.com/spigell/hh-matcher/internal/resilience"
	"github.com/spigell/hh-matcher/internal/selector"
	"github.com/spigell/hh-matcher/internal/weights"
)

// Client scores a request with one backend. *backend.Client implements it.
type Client interface {
	Score(ctx context.Context, id backend.Identity, req backend.Request) (*backend.ScoreResult, error)
}

type Orchestrator struct {
	registry *backend.Registry
	selector *selector.Selector
	weights  *weights.Engine
	client   Client
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now for processing time measurements.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRequestIDs replaces the uuid request id generator.
func WithRequestIDs(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func New(registry *backend.Registry, sel *selector.Selector, engine *weights.Engine, client Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		selector: sel,
		weights:  engine,
		client:   client,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Plan is what the orchestrator decided before contacting any backend.
type Plan struct {
	Parsed      *profile.Parsed
	Fingerprint profile.Fingerprint
	Ranked      []backend.Identity
	Weighting   weights.Weighting
}

// Plan validates the request and computes its ranking and weights without
// calling any backend.
func (o *Orchestrator) Plan(req *profile.MatchRequest) (*Plan, error) {
	parsed, err := profile.Parse(req)
	if err != nil {
		return nil, err
	}

	fp := o.selector.Fingerprint(parsed)
	return &Plan{
		Parsed:      parsed,
		Fingerprint: fp,
		Ranked:      o.selector.Select(fp, req.Constraints),
		Weighting:   o.weights.Compute(parsed),
	}, nil
}

// Match scores req. It fails with a *resilience.PermanentInputError for a
// malformed request, with the context error when the caller gives up, and
// with an *ExhaustedError when no backend produced a score.
func (o *Orchestrator) Match(ctx context.Context, req *profile.MatchRequest) (*Result, error) {
	start := o.now()
	requestID := o.newID()

	sc := logger.StartSpan(ctx, "match", trace.WithAttributes(attribute.String("request_id", requestID)))
	defer sc.End()
	ctx = sc.Context()

	log := logger.WithFields(o.logger, zap.String(logger.FieldRequestID, requestID))

	plan, err := o.Plan(req)
	if err != nil {
		sc.RecordError(err)
		log.Warn("rejecting match request", zap.Error(err))
		return nil, err
	}

	log.Debug("backends ranked",
		zap.Strings("ranked", backend.Names(plan.Ranked)),
		zap.Strings("levers", plan.Weighting.Levers),
	)

	breq := backend.Request{
		Candidate: req.Candidate.Clone(),
		Job:       req.Job.Clone(),
	}

	chain := make([]backend.Identity, 0, len(plan.Ranked))
	attempts := make([]Attempt, 0, len(plan.Ranked))

	for _, id := range plan.Ranked {
		if err := ctx.Err(); err != nil {
			sc.RecordError(err)
			return nil, err
		}

		chain = append(chain, id)
		attemptStart := o.now()
		res, agreement, err := o.score(ctx, id, breq)
		attempt := Attempt{Backend: id, Outcome: outcomeOf(err), Duration: o.now().Sub(attemptStart)}

		if err == nil {
			attempts = append(attempts, attempt)
			result := o.combine(plan, res, agreement)
			result.RequestID = requestID
			result.AlgorithmUsed = id
			result.FallbackChain = chain
			result.Attempts = attempts
			result.Degraded = id != plan.Ranked[0]
			result.ProcessingTime = o.now().Sub(start)

			sc.SetAttributes(
				attribute.String("algorithm", id.String()),
				attribute.Int("fallback_depth", result.FallbackDepth()),
				attribute.Float64("total_score", result.TotalScore),
			)
			log.Info("match completed",
				zap.String("algorithm", id.String()),
				zap.Int("fallback_depth", result.FallbackDepth()),
				zap.Duration("latency", result.ProcessingTime),
				zap.String("confidence", string(result.Confidence)),
				zap.Float64("total_score", result.TotalScore),
				zap.Bool("degraded", result.Degraded),
			)
			return result, nil
		}

		if ctx.Err() != nil {
			sc.RecordError(ctx.Err())
			return nil, ctx.Err()
		}
		if resilience.IsPermanentInput(err) {
			sc.RecordError(err)
			log.Warn("backend rejected match request", zap.String(logger.FieldBackend, id.String()), zap.Error(err))
			return nil, err
		}

		attempt.Reason = err.Error()
		attempts = append(attempts, attempt)
		log.Warn("backend attempt failed, falling back",
			zap.String(logger.FieldBackend, id.String()),
			zap.String("outcome", string(attempt.Outcome)),
			zap.Error(err),
		)
	}

	exhausted := &ExhaustedError{RequestID: requestID, Chain: chain, Attempts: attempts}
	sc.RecordError(exhausted)
	log.Error("match exhausted all backends",
		zap.Strings("fallback_chain", backend.Names(chain)),
		zap.Duration("latency", o.now().Sub(start)),
	)
	return nil, exhausted
}

// score calls one ranked backend. A negative agreement means no consensus
// took place.
func (o *Orchestrator) score(ctx context.Context, id backend.Identity, req backend.Request) (*backend.ScoreResult, float64, error) {
	if id == backend.ConsensusHybrid {
		if members := o.registry.Members(id); len(members) > 0 {
			return o.consensus(ctx, members, req)
		}
		req.Options.ValidationMode = true
	}

	res, err := o.client.Score(ctx, id, req)
	if err != nil {
		return nil, 0, err
	}
	return res, -1, nil
}

// combine weighs the backend's category scores. Categories the backend did
// not score are dropped and the remaining weights renormalized.
func (o *Orchestrator) combine(plan *Plan, res *backend.ScoreResult, agreement float64) *Result {
	w := plan.Weighting.Weights
	var unscored []backend.Category
	for _, cat := range backend.Categories() {
		if _, ok := res.Scores[cat]; !ok {
			unscored = append(unscored, cat)
		}
	}
	if len(unscored) > 0 {
		w = w.Without(unscored...)
	}

	contributions := make(map[backend.Category]float64, len(backend.Categories()))
	subScores := make(map[backend.Category]float64, len(res.Scores))
	var total float64
	for _, cat := range backend.Categories() {
		score, ok := res.Scores[cat]
		if !ok {
			continue
		}
		subScores[cat] = score
		contributions[cat] = w[cat] * score
		total += contributions[cat]
	}

	result := &Result{
		TotalScore:    clampScore(total),
		Contributions: contributions,
		SubScores:     subScores,
		Weights:       w,
		Levers:        plan.Weighting.Levers,
		Explanation:   res.Explanation,
	}
	if agreement >= 0 {
		a := agreement
		result.Agreement = &a
	}
	result.Confidence = ConfidenceFor(result.TotalScore, agreement)
	return result
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
