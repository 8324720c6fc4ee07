package profile

import (
	"strings"
	"unicode/utf8"
)

// DefaultFreeTextMinLength is how many runes a description needs before it
// counts as substantial free text.
const DefaultFreeTextMinLength = 200

// Fingerprint summarises how complete a request's data is. It is computed
// once per request and only used to pick scoring backends.
type Fingerprint struct {
	HasQuestionnaireData   bool
	HasLocationData        bool
	LocationComplex        bool
	HasSenioritySignal     bool
	HasFreeTextDescription bool
	CandidateHasSkills     bool
	JobHasSkills           bool
	ExperienceYears        float64
}

// NewFingerprint derives the fingerprint of a parsed request.
func NewFingerprint(p *Parsed, freeTextMinLength int) Fingerprint {
	if freeTextMinLength <= 0 {
		freeTextMinLength = DefaultFreeTextMinLength
	}

	c, j := p.Candidate, p.Job
	freeText := utf8.RuneCountInString(strings.TrimSpace(c.Description)) >= freeTextMinLength ||
		utf8.RuneCountInString(strings.TrimSpace(j.Description)) >= freeTextMinLength

	fp := Fingerprint{
		HasQuestionnaireData:   c.Questionnaire.HasData(),
		HasLocationData:        !c.Location.IsZero(),
		HasSenioritySignal:     c.ExperienceYears > 0 || j.RequiredExperience > 0 || strings.TrimSpace(j.Seniority) != "",
		HasFreeTextDescription: freeText,
		CandidateHasSkills:     len(c.Skills) > 0,
		JobHasSkills:           len(j.RequiredSkills) > 0,
		ExperienceYears:        c.ExperienceYears,
	}

	if p.Request != nil && p.Request.Constraints.ComplexLocation {
		fp.LocationComplex = true
	} else {
		fp.LocationComplex = isComplexLocation(c.Location, j.Location)
	}

	return fp
}

// A location is complex when the candidate accepts several commute modes,
// is open to cross-city work, or lives in another city than the job and is
// not remote.
func isComplexLocation(candidate, job Location) bool {
	if len(candidate.CommuteModes) > 1 || candidate.CrossCity {
		return true
	}
	cc := strings.TrimSpace(candidate.City)
	jc := strings.TrimSpace(job.City)
	if cc == "" || jc == "" || candidate.Remote || job.Remote {
		return false
	}
	return !strings.EqualFold(cc, jc)
}
