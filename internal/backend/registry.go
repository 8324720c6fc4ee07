package backend

import (
	"sort"
	"time"
)

const (
	TransportHTTP      = "http"
	TransportGemini    = "gemini"
	TransportConsensus = "consensus"
)

var defaultGenerality = map[Identity]int{
	GeoSpecialized:  10,
	SeniorProfile:   20,
	SemanticNLP:     30,
	Primary:         40,
	ConsensusHybrid: 50,
	LegacyFallback:  100,
}

// DefaultGenerality is the fallback rank of an identity when its endpoint
// does not declare one. Lower is more specialised.
func DefaultGenerality(id Identity) int {
	if g, ok := defaultGenerality[id]; ok {
		return g
	}
	return 100
}

// DefaultConsensusMembers are the backends the consensus path cross-checks.
func DefaultConsensusMembers() []Identity {
	return []Identity{Primary, SemanticNLP}
}

// Endpoint is the configured address and capabilities of one backend.
type Endpoint struct {
	Identity     Identity
	Transport    string
	URL          string
	Model        string
	TokenFile    string
	Capabilities []string
	Generality   int
	Members      []Identity

	// Timeout overrides the client deadline for this backend when positive.
	Timeout time.Duration
}

// Registry is the read-only set of configured endpoints shared by the
// selector and the client.
type Registry struct {
	endpoints map[Identity]Endpoint
}

// NewRegistry builds a registry. A zero Generality falls back to
// DefaultGenerality; a later endpoint replaces an earlier one with the same
// identity.
func NewRegistry(endpoints ...Endpoint) *Registry {
	r := &Registry{endpoints: make(map[Identity]Endpoint, len(endpoints))}
	for _, ep := range endpoints {
		if ep.Generality == 0 {
			ep.Generality = DefaultGenerality(ep.Identity)
		}
		if ep.Identity == ConsensusHybrid && ep.Transport == TransportConsensus && len(ep.Members) == 0 {
			ep.Members = DefaultConsensusMembers()
		}
		ep.Capabilities = append([]string(nil), ep.Capabilities...)
		ep.Members = append([]Identity(nil), ep.Members...)
		r.endpoints[ep.Identity] = ep
	}
	return r
}

func (r *Registry) Lookup(id Identity) (Endpoint, bool) {
	if r == nil {
		return Endpoint{}, false
	}
	ep, ok := r.endpoints[id]
	return ep, ok
}

func (r *Registry) Has(id Identity) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Generality returns the endpoint's declared generality, or the default for
// identities without an endpoint.
func (r *Registry) Generality(id Identity) int {
	if ep, ok := r.Lookup(id); ok {
		return ep.Generality
	}
	return DefaultGenerality(id)
}

// Members returns the consensus members for id, or nil when id is invoked
// as a single remote backend.
func (r *Registry) Members(id Identity) []Identity {
	ep, ok := r.Lookup(id)
	if !ok || len(ep.Members) < 2 {
		return nil
	}
	return append([]Identity(nil), ep.Members...)
}

// Endpoints lists the configured endpoints in identity declaration order.
func (r *Registry) Endpoints() []Endpoint {
	if r == nil {
		return nil
	}
	out := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
