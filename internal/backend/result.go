package backend

import (
	"fmt"
	"math"
	"strings"
)

// Category is one dimension of compatibility.
type Category string

const (
	Skills      Category = "skills"
	Location    Category = "location"
	Experience  Category = "experience"
	Education   Category = "education"
	Preferences Category = "preferences"
)

// Categories returns the scored categories in reporting order.
func Categories() []Category {
	return []Category{Skills, Location, Experience, Education, Preferences}
}

// ParseCategory maps a backend category name onto a Category. "culture" is
// an alias of preferences.
func ParseCategory(name string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "skills":
		return Skills, true
	case "location":
		return Location, true
	case "experience":
		return Experience, true
	case "education":
		return Education, true
	case "preferences", "culture":
		return Preferences, true
	default:
		return "", false
	}
}

type Explanation struct {
	Strengths []string `json:"strengths,omitempty"`
	Gaps      []string `json:"gaps,omitempty"`
}

// ScoreResult is what one backend returned for one request.
type ScoreResult struct {
	Backend     Identity
	Scores      map[Category]float64
	Overall     float64
	Explanation Explanation
}

// NewScoreResult builds a result from raw category names. Unknown names are
// ignored. When overall is nil it is the mean of the category scores.
func NewScoreResult(raw map[string]float64, overall *float64, explanation Explanation) *ScoreResult {
	scores := make(map[Category]float64, len(raw))
	for name, value := range raw {
		if cat, ok := ParseCategory(name); ok {
			scores[cat] = value
		}
	}

	res := &ScoreResult{Scores: scores, Explanation: explanation}
	if overall != nil {
		res.Overall = *overall
	} else {
		res.Overall = meanScore(scores)
	}
	return res
}

// Validate checks that at least one category was scored and every value
// lies in [0,100].
func (r *ScoreResult) Validate() error {
	if r == nil {
		return fmt.Errorf("empty result")
	}
	if len(r.Scores) == 0 {
		return fmt.Errorf("no category scores")
	}
	for cat, value := range r.Scores {
		if !inRange(value) {
			return fmt.Errorf("%s score %v outside [0,100]", cat, value)
		}
	}
	if !inRange(r.Overall) {
		return fmt.Errorf("overall score %v outside [0,100]", r.Overall)
	}
	return nil
}

// Scored lists the categories present in the result.
func (r *ScoreResult) Scored() []Category {
	out := make([]Category, 0, len(r.Scores))
	for _, cat := range Categories() {
		if _, ok := r.Scores[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}

func inRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

func meanScore(scores map[Category]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}
