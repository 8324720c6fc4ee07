// Package profile holds match requests and the typed views the matcher reads
// from otherwise opaque candidate and job attribute maps.
package profile

import (
	"fmt"
	"strings"
)

const (
	KeySkills            = "skills"
	KeyExperienceYears   = "experience_years"
	KeyEducationLevel    = "education_level"
	KeyRequiredSkills    = "required_skills"
	KeySalaryExpectation = "salary_expectation"
	KeyLocation          = "location"
	KeyWorkMode          = "work_mode"
	KeyQuestionnaire     = "questionnaire"
	KeyDescription       = "description"
)

// Attributes is a profile as received from the caller. Required fields are
// validated by Parse; everything else is passed to backends untouched.
type Attributes map[string]any

// Clone returns a deep copy of nested maps and slices.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = cloneValue(inner)
		}
		return out
	case Attributes:
		return typed.Clone()
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}

// Constraints are per-request knobs supplied by the caller.
type Constraints struct {
	// RequireValidation marks a high-stakes request that should be
	// cross-checked by the consensus backend right after the primary choice.
	RequireValidation bool `yaml:"require_validation" json:"require_validation" mapstructure:"require_validation"`
	// ComplexLocation forces the location to be treated as complex.
	ComplexLocation bool `yaml:"complex_location" json:"complex_location" mapstructure:"complex_location"`
}

// MatchRequest is one candidate/job pair to score.
type MatchRequest struct {
	Candidate   Attributes  `yaml:"candidate" json:"candidate"`
	Job         Attributes  `yaml:"job" json:"job"`
	Constraints Constraints `yaml:"constraints" json:"constraints"`
}

// Location is the typed view of a location attribute. A plain string is
// read as a city.
type Location struct {
	City         string   `mapstructure:"city" json:"city,omitempty"`
	Country      string   `mapstructure:"country" json:"country,omitempty"`
	CommuteModes []string `mapstructure:"commute_modes" json:"commute_modes,omitempty"`
	CrossCity    bool     `mapstructure:"cross_city" json:"cross_city,omitempty"`
	Remote       bool     `mapstructure:"remote" json:"remote,omitempty"`
}

func (l Location) IsZero() bool {
	return strings.TrimSpace(l.City) == "" && strings.TrimSpace(l.Country) == "" &&
		len(l.CommuteModes) == 0 && !l.CrossCity && !l.Remote
}

// Questionnaire carries answers from the candidate preference questionnaire.
type Questionnaire struct {
	Priorities        []string           `mapstructure:"priorities"`
	RemoteTolerance   bool               `mapstructure:"remote_tolerance"`
	FlexibleHours     bool               `mapstructure:"flexible_hours"`
	PreferenceWeights map[string]float64 `mapstructure:"preference_weights" validate:"dive,gte=0,lte=3"`
	Answers           map[string]any     `mapstructure:",remain"`
}

// HasData reports whether any answer was actually given.
func (q *Questionnaire) HasData() bool {
	if q == nil {
		return false
	}
	return len(q.Priorities) > 0 || q.RemoteTolerance || q.FlexibleHours ||
		len(q.PreferenceWeights) > 0 || len(q.Answers) > 0
}

// Candidate is the typed view of a candidate profile.
type Candidate struct {
	Skills            []string       `mapstructure:"skills" validate:"dive,required"`
	ExperienceYears   float64        `mapstructure:"experience_years" validate:"gte=0,lte=80"`
	EducationLevel    string         `mapstructure:"education_level"`
	SalaryExpectation float64        `mapstructure:"salary_expectation" validate:"gte=0"`
	Location          Location       `mapstructure:"location"`
	WorkMode          string         `mapstructure:"work_mode"`
	Questionnaire     *Questionnaire `mapstructure:"questionnaire"`
	Description       string         `mapstructure:"description"`
}

// HasEducation is false for empty or placeholder education levels.
func (c *Candidate) HasEducation() bool {
	switch strings.ToLower(strings.TrimSpace(c.EducationLevel)) {
	case "", "none", "unknown", "n/a", "unspecified":
		return false
	default:
		return true
	}
}

// Job is the typed view of a job profile.
type Job struct {
	RequiredSkills     []string       `mapstructure:"required_skills" validate:"dive,required"`
	RequiredExperience float64        `mapstructure:"required_experience" validate:"gte=0,lte=80"`
	Education          string         `mapstructure:"education"`
	Location           Location       `mapstructure:"location"`
	ContractType       string         `mapstructure:"contract_type"`
	Seniority          string         `mapstructure:"seniority"`
	Company            map[string]any `mapstructure:"company"`
	Description        string         `mapstructure:"description"`
}

// Parsed bundles a validated request with its typed views.
type Parsed struct {
	Request   *MatchRequest
	Candidate Candidate
	Job       Job
}

func (p *Parsed) String() string {
	return fmt.Sprintf("candidate(skills=%d, experience=%.1f) job(required_skills=%d)",
		len(p.Candidate.Skills), p.Candidate.ExperienceYears, len(p.Job.RequiredSkills))
}
