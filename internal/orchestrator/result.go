package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/resilience"
	"github.com/spigell/hh-matcher/internal/weights"
)

// Confidence is the coarse trust tier of a final score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

const (
	highScore        = 75.0
	mediumScore      = 50.0
	cappingAgreement = 80.0
	lowAgreement     = 60.0
)

// ConfidenceFor derives the tier from the total score and, when a consensus
// path ran, the agreement between its members. Pass a negative agreement
// when there was none.
func ConfidenceFor(score, agreement float64) Confidence {
	tier := ConfidenceLow
	switch {
	case score >= highScore:
		tier = ConfidenceHigh
	case score >= mediumScore:
		tier = ConfidenceMedium
	}

	if agreement < 0 {
		return tier
	}
	switch {
	case agreement < lowAgreement:
		return ConfidenceLow
	case agreement < cappingAgreement && tier == ConfidenceHigh:
		return ConfidenceMedium
	}
	return tier
}

// Outcome classifies one backend attempt.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeCircuitOpen   Outcome = "circuit-open"
	OutcomeTransient     Outcome = "transient"
	OutcomeBadResponse   Outcome = "bad-response"
	OutcomeNotConfigured Outcome = "not-configured"
	OutcomeFailed        Outcome = "failed"
)

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case resilience.IsCircuitOpen(err):
		return OutcomeCircuitOpen
	case errors.Is(err, backend.ErrNotConfigured):
		return OutcomeNotConfigured
	case resilience.IsTransient(err):
		return OutcomeTransient
	case resilience.IsResponse(err):
		return OutcomeBadResponse
	default:
		return OutcomeFailed
	}
}

// Attempt records one entry of the fallback chain.
type Attempt struct {
	Backend  backend.Identity `json:"backend"`
	Outcome  Outcome          `json:"outcome"`
	Reason   string           `json:"reason,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// Result is the outcome of a successful match.
type Result struct {
	RequestID      string                       `json:"request_id"`
	TotalScore     float64                      `json:"total_score"`
	Contributions  map[backend.Category]float64 `json:"contributions"`
	SubScores      map[backend.Category]float64 `json:"sub_scores"`
	Weights        weights.Vector               `json:"weights"`
	Levers         []string                     `json:"levers,omitempty"`
	AlgorithmUsed  backend.Identity             `json:"algorithm_used"`
	FallbackChain  []backend.Identity           `json:"fallback_chain"`
	Attempts       []Attempt                    `json:"attempts"`
	ProcessingTime time.Duration                `json:"processing_time"`
	Confidence     Confidence                   `json:"confidence"`
	Degraded       bool                         `json:"degraded"`
	Explanation    backend.Explanation          `json:"explanation"`
	// Agreement is set only when a consensus path produced the score.
	Agreement *float64 `json:"agreement,omitempty"`
}

// FallbackDepth is the number of backends tried before the one that
// answered.
func (r *Result) FallbackDepth() int {
	if len(r.FallbackChain) == 0 {
		return 0
	}
	return len(r.FallbackChain) - 1
}

// ExhaustedError means no backend produced a score. It is distinct from a
// low score.
type ExhaustedError struct {
	RequestID string
	Chain     []backend.Identity
	Attempts  []Attempt
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.Backend, a.Outcome))
	}
	return fmt.Sprintf("all %d scoring backends failed (%s)", len(e.Chain), strings.Join(reasons, ", "))
}

func IsExhausted(err error) bool {
	var target *ExhaustedError
	return errors.As(err, &target)
}
