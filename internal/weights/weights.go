// Package weights computes per-category weights for a candidate.
package weights

import (
	"math"
	"strings"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/profile"
)

// Tolerance is the allowed drift of a vector sum from 1.
const Tolerance = 1e-6

const (
	LeverCompensation  = "compensation-priority"
	LeverFlexibility   = "flexibility"
	LeverQuestionnaire = "questionnaire-weights"
	LeverMissingData   = "missing-data"
)

const (
	flexPreferenceFactor = 1.5
	flexLocationFactor   = 0.6
)

var compensationKeywords = []string{"salary", "compensation", "pay", "evolution", "growth", "career"}

var flexibleWorkModes = map[string]bool{"remote": true, "hybrid": true, "flexible": true}

// Config holds the base weights before any adjustment.
type Config struct {
	Skills      float64 `mapstructure:"skills"`
	Location    float64 `mapstructure:"location"`
	Experience  float64 `mapstructure:"experience"`
	Education   float64 `mapstructure:"education"`
	Preferences float64 `mapstructure:"preferences"`
}

func DefaultConfig() Config {
	return Config{
		Skills:      0.40,
		Location:    0.25,
		Experience:  0.15,
		Education:   0.10,
		Preferences: 0.10,
	}
}

// Vector maps a category to its weight.
type Vector map[backend.Category]float64

func (c Config) vector() Vector {
	return Vector{
		backend.Skills:      c.Skills,
		backend.Location:    c.Location,
		backend.Experience:  c.Experience,
		backend.Education:   c.Education,
		backend.Preferences: c.Preferences,
	}
}

func (v Vector) Sum() float64 {
	var sum float64
	for _, w := range v {
		sum += w
	}
	return sum
}

func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, w := range v {
		out[k] = w
	}
	return out
}

// Normalized scales v to sum to 1. A vector without positive weight is
// returned unchanged.
func (v Vector) Normalized() Vector {
	sum := v.Sum()
	out := v.Clone()
	if sum <= 0 {
		return out
	}
	for k, w := range out {
		out[k] = w / sum
	}
	return out
}

// Without zeroes the given categories and renormalizes the rest. When the
// remaining categories carry no weight they share it equally.
func (v Vector) Without(categories ...backend.Category) Vector {
	out := v.Clone()
	for _, cat := range categories {
		out[cat] = 0
	}
	if out.Sum() > 0 {
		return out.Normalized()
	}

	excluded := make(map[backend.Category]bool, len(categories))
	for _, cat := range categories {
		excluded[cat] = true
	}
	var rest []backend.Category
	for _, cat := range backend.Categories() {
		if !excluded[cat] {
			rest = append(rest, cat)
		}
	}
	if len(rest) == 0 {
		return v.Clone()
	}
	for _, cat := range rest {
		out[cat] = 1 / float64(len(rest))
	}
	return out
}

// Valid reports whether every weight is non-negative and they sum to 1.
func (v Vector) Valid() bool {
	for _, w := range v {
		if w < 0 || math.IsNaN(w) {
			return false
		}
	}
	return math.Abs(v.Sum()-1) <= Tolerance
}

// Weighting is the outcome of Compute.
type Weighting struct {
	Weights Vector
	Missing []backend.Category
	Levers  []string
}

type Engine struct {
	base Vector
}

// New builds an engine over the given base weights. Negative weights are
// clamped to zero; an all-zero config falls back to DefaultConfig.
func New(cfg Config) *Engine {
	base := cfg.vector()
	for k, w := range base {
		if w < 0 || math.IsNaN(w) {
			base[k] = 0
		}
	}
	if base.Sum() <= 0 {
		base = DefaultConfig().vector()
	}
	return &Engine{base: base.Normalized()}
}

// Base returns the normalized base weights.
func (e *Engine) Base() Vector { return e.base.Clone() }

// Compute applies the adjustment levers in order, renormalizing after each,
// then zeroes categories without evidence.
func (e *Engine) Compute(p *profile.Parsed) Weighting {
	w := e.base.Clone()
	var levers []string

	c := &p.Candidate
	q := c.Questionnaire

	if prioritisesCompensation(c) {
		shift := w[backend.Education] / 2
		w[backend.Education] -= shift
		w[backend.Experience] += shift / 2
		w[backend.Preferences] += shift / 2
		w = w.Normalized()
		levers = append(levers, LeverCompensation)
	}

	if isFlexible(c) {
		w[backend.Preferences] *= flexPreferenceFactor
		w[backend.Location] *= flexLocationFactor
		w = w.Normalized()
		levers = append(levers, LeverFlexibility)
	}

	if q != nil && len(q.PreferenceWeights) > 0 {
		applied := false
		for name, factor := range q.PreferenceWeights {
			cat, ok := backend.ParseCategory(name)
			if !ok {
				continue
			}
			w[cat] *= factor
			applied = true
		}
		if applied {
			if w.Sum() <= 0 {
				// every category was multiplied away
				w = e.base.Clone()
			} else {
				w = w.Normalized()
				levers = append(levers, LeverQuestionnaire)
			}
		}
	}

	missing := MissingCategories(p)
	if len(missing) > 0 {
		if len(missing) == len(backend.Categories()) {
			return Weighting{Weights: e.base.Clone(), Missing: missing, Levers: levers}
		}
		w = w.Without(missing...)
		levers = append(levers, LeverMissingData)
	}

	return Weighting{Weights: w, Missing: missing, Levers: levers}
}

// MissingCategories lists the categories the request carries no evidence
// for.
func MissingCategories(p *profile.Parsed) []backend.Category {
	c, j := &p.Candidate, &p.Job

	var missing []backend.Category
	if len(c.Skills) == 0 && len(j.RequiredSkills) == 0 {
		missing = append(missing, backend.Skills)
	}
	if c.Location.IsZero() {
		missing = append(missing, backend.Location)
	}
	if c.ExperienceYears == 0 && j.RequiredExperience == 0 && strings.TrimSpace(j.Seniority) == "" {
		missing = append(missing, backend.Experience)
	}
	if !c.HasEducation() {
		missing = append(missing, backend.Education)
	}
	if !c.Questionnaire.HasData() && strings.TrimSpace(c.WorkMode) == "" && c.SalaryExpectation == 0 {
		missing = append(missing, backend.Preferences)
	}
	return missing
}

func prioritisesCompensation(c *profile.Candidate) bool {
	q := c.Questionnaire
	if !q.HasData() {
		return false
	}
	if c.SalaryExpectation > 0 {
		return true
	}
	for _, priority := range q.Priorities {
		p := strings.ToLower(priority)
		for _, keyword := range compensationKeywords {
			if strings.Contains(p, keyword) {
				return true
			}
		}
	}
	return false
}

func isFlexible(c *profile.Candidate) bool {
	if q := c.Questionnaire; q != nil && (q.RemoteTolerance || q.FlexibleHours) {
		return true
	}
	return flexibleWorkModes[strings.ToLower(strings.TrimSpace(c.WorkMode))]
}
