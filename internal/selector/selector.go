// Package selector ranks scoring backends for a request from the shape of its
// data.
package selector

import (
	"sort"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/profile"
)

const DefaultSeniorityThreshold = 8.0

type Config struct {
	SeniorityThreshold float64 `mapstructure:"seniority-threshold"`
	FreeTextMinLength  int     `mapstructure:"free-text-min-length"`
}

func DefaultConfig() Config {
	return Config{
		SeniorityThreshold: DefaultSeniorityThreshold,
		FreeTextMinLength:  profile.DefaultFreeTextMinLength,
	}
}

// Selector is pure: equal inputs always produce equal rankings.
type Selector struct {
	registry *backend.Registry
	cfg      Config
}

func New(registry *backend.Registry, cfg Config) *Selector {
	if cfg.SeniorityThreshold <= 0 {
		cfg.SeniorityThreshold = DefaultSeniorityThreshold
	}
	if cfg.FreeTextMinLength <= 0 {
		cfg.FreeTextMinLength = profile.DefaultFreeTextMinLength
	}
	return &Selector{registry: registry, cfg: cfg}
}

func (s *Selector) Config() Config { return s.cfg }

// Fingerprint computes the request fingerprint with the configured
// free-text threshold.
func (s *Selector) Fingerprint(p *profile.Parsed) profile.Fingerprint {
	return profile.NewFingerprint(p, s.cfg.FreeTextMinLength)
}

// Primary picks the best-fit backend. The first matching rule wins.
func (s *Selector) Primary(fp profile.Fingerprint) backend.Identity {
	switch {
	case !fp.CandidateHasSkills && !fp.JobHasSkills:
		return backend.LegacyFallback
	case fp.HasQuestionnaireData:
		return backend.Primary
	case fp.HasLocationData && fp.LocationComplex:
		return backend.GeoSpecialized
	case fp.ExperienceYears >= s.cfg.SeniorityThreshold:
		return backend.SeniorProfile
	case fp.HasFreeTextDescription && (!fp.CandidateHasSkills || !fp.JobHasSkills):
		return backend.SemanticNLP
	default:
		return backend.LegacyFallback
	}
}

// Select returns the ranked list of backends to try. It is never empty,
// contains LegacyFallback exactly once and never starts with
// ConsensusHybrid. LegacyFallback is last unless the rules chose it as the
// primary. A chosen primary missing from the registry is skipped and the
// most specific configured backend takes its place.
func (s *Selector) Select(fp profile.Fingerprint, constraints profile.Constraints) []backend.Identity {
	primary := s.Primary(fp)
	rest := s.fallbacks()

	if primary != backend.LegacyFallback && !s.registry.Has(primary) {
		if len(rest) > 0 {
			primary, rest = rest[0], rest[1:]
		} else {
			primary = backend.LegacyFallback
		}
	}

	ranked := make([]backend.Identity, 0, len(backend.All()))
	ranked = append(ranked, primary)

	if constraints.RequireValidation && s.registry.Has(backend.ConsensusHybrid) {
		ranked = append(ranked, backend.ConsensusHybrid)
	}

	for _, id := range rest {
		if id == primary {
			continue
		}
		ranked = append(ranked, id)
	}

	if primary != backend.LegacyFallback {
		ranked = append(ranked, backend.LegacyFallback)
	}
	return ranked
}

// fallbacks orders the configured backends other than ConsensusHybrid and
// LegacyFallback by ascending generality, ties by declaration order.
func (s *Selector) fallbacks() []backend.Identity {
	var out []backend.Identity
	for _, id := range backend.All() {
		if id == backend.ConsensusHybrid || id == backend.LegacyFallback {
			continue
		}
		if s.registry.Has(id) {
			out = append(out, id)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return s.registry.Generality(out[i]) < s.registry.Generality(out[j])
	})
	return out
}
