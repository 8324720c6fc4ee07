// Package backend describes the remote scoring backends and calls them
// through per-backend circuit breakers and retries.
package backend

import (
	"fmt"
	"strings"
)

// Identity names one scoring backend.
type Identity int

const (
	Primary Identity = iota
	GeoSpecialized
	SeniorProfile
	SemanticNLP
	ConsensusHybrid
	LegacyFallback
)

var identityNames = map[Identity]string{
	Primary:         "primary",
	GeoSpecialized:  "geo-specialized",
	SeniorProfile:   "senior-profile",
	SemanticNLP:     "semantic-nlp",
	ConsensusHybrid: "consensus-hybrid",
	LegacyFallback:  "legacy-fallback",
}

// All returns every identity in declaration order.
func All() []Identity {
	return []Identity{Primary, GeoSpecialized, SeniorProfile, SemanticNLP, ConsensusHybrid, LegacyFallback}
}

func (i Identity) String() string {
	if name, ok := identityNames[i]; ok {
		return name
	}
	return fmt.Sprintf("backend(%d)", int(i))
}

// ParseIdentity accepts the dashed names returned by String. Underscores
// are treated as dashes.
func ParseIdentity(name string) (Identity, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for id, candidate := range identityNames {
		if candidate == normalized {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown backend %q", name)
}

func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Identity) UnmarshalText(text []byte) error {
	id, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = id
	return nil
}

// Names converts identities to their string form.
func Names(ids []Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
