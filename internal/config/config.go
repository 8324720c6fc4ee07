// Package config loads the matcher configuration from viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/resilience"
	"github.com/spigell/hh-matcher/internal/selector"
	"github.com/spigell/hh-matcher/internal/telemetry"
	"github.com/spigell/hh-matcher/internal/weights"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. MATCHER_RETRY_MAX_RETRIES.
	EnvPrefix = "MATCHER"
)

type Config struct {
	Breaker        resilience.BreakerConfig `mapstructure:"breaker"`
	Retry          resilience.RetryConfig   `mapstructure:"retry"`
	BackendTimeout time.Duration            `mapstructure:"backend-timeout" validate:"gte=0"`
	Selector       selector.Config          `mapstructure:"selector"`
	Weights        weights.Config           `mapstructure:"weights"`
	Backends       map[string]BackendConfig `mapstructure:"backends" validate:"dive"`
	Telemetry      telemetry.Config         `mapstructure:"telemetry"`
}

// BackendConfig describes one entry under backends.<identity>.
type BackendConfig struct {
	Transport    string   `mapstructure:"transport" validate:"omitempty,oneof=http gemini consensus"`
	URL          string   `mapstructure:"url" validate:"omitempty,url"`
	Model        string   `mapstructure:"model"`
	TokenFile    string   `mapstructure:"token-file"`
	APIKeyFile   string   `mapstructure:"api-key-file"`
	Capabilities []string `mapstructure:"capabilities"`
	Generality   int      `mapstructure:"generality" validate:"gte=0"`
	Members      []string `mapstructure:"members"`
	MaxLogLength int      `mapstructure:"max-log-length" validate:"gte=0"`

	// Timeout replaces backend-timeout for this backend when set.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

var validate = validator.New()

// SetDefaults registers every default so that environment overrides work
// for keys missing from the config file.
func SetDefaults(v *viper.Viper) {
	breaker := resilience.DefaultBreakerConfig()
	v.SetDefault("breaker.failure-threshold", breaker.FailureThreshold)
	v.SetDefault("breaker.recovery-timeout", breaker.RecoveryTimeout)

	retry := resilience.DefaultRetryConfig()
	v.SetDefault("retry.max-retries", retry.MaxRetries)
	v.SetDefault("retry.base-delay", retry.BaseDelay)
	v.SetDefault("retry.backoff-multiplier", retry.BackoffMultiplier)
	v.SetDefault("retry.jitter", retry.Jitter)

	v.SetDefault("backend-timeout", backend.DefaultTimeout)

	sel := selector.DefaultConfig()
	v.SetDefault("selector.seniority-threshold", sel.SeniorityThreshold)
	v.SetDefault("selector.free-text-min-length", sel.FreeTextMinLength)

	w := weights.DefaultConfig()
	v.SetDefault("weights.skills", w.Skills)
	v.SetDefault("weights.location", w.Location)
	v.SetDefault("weights.experience", w.Experience)
	v.SetDefault("weights.education", w.Education)
	v.SetDefault("weights.preferences", w.Preferences)

	v.SetDefault("backends.consensus-hybrid.transport", backend.TransportConsensus)

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.headers", "")
	v.SetDefault("telemetry.service-name", telemetry.DefaultServiceName)
}

// BindEnv makes every known key overridable with a MATCHER_ variable.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Breaker.FailureThreshold < 1 {
		return errors.New("invalid config: breaker.failure-threshold must be at least 1")
	}
	if c.Retry.MaxRetries < 1 {
		return errors.New("invalid config: retry.max-retries must be at least 1")
	}

	for name, b := range c.Backends {
		id, err := backend.ParseIdentity(name)
		if err != nil {
			return fmt.Errorf("invalid config: backends.%s: %w", name, err)
		}
		for _, member := range b.Members {
			memberID, err := backend.ParseIdentity(member)
			if err != nil {
				return fmt.Errorf("invalid config: backends.%s.members: %w", name, err)
			}
			if memberID == backend.ConsensusHybrid {
				return fmt.Errorf("invalid config: backends.%s.members: consensus cannot be its own member", name)
			}
		}
		if b.Transport == backend.TransportHTTP && strings.TrimSpace(b.URL) == "" {
			return fmt.Errorf("invalid config: backends.%s.url is required for the http transport", name)
		}
		if len(b.Members) > 0 && id != backend.ConsensusHybrid {
			return fmt.Errorf("invalid config: backends.%s: only %s takes members", name, backend.ConsensusHybrid)
		}
		if b.Transport == backend.TransportConsensus && id != backend.ConsensusHybrid {
			return fmt.Errorf("invalid config: backends.%s: consensus transport is reserved for %s", name, backend.ConsensusHybrid)
		}
	}

	return nil
}

func (c *Config) BreakerConfig() resilience.BreakerConfig { return c.Breaker }

func (c *Config) RetryConfig() resilience.RetryConfig { return c.Retry }

func (c *Config) SelectorConfig() selector.Config { return c.Selector }

func (c *Config) BaseWeights() weights.Config { return c.Weights }

// Endpoints converts the backends section, skipping entries without a
// transport. Entries are returned in identity declaration order.
func (c *Config) Endpoints() ([]backend.Endpoint, error) {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)

	endpoints := make([]backend.Endpoint, 0, len(names))
	for _, name := range names {
		b := c.Backends[name]
		if strings.TrimSpace(b.Transport) == "" {
			continue
		}

		id, err := backend.ParseIdentity(name)
		if err != nil {
			return nil, err
		}

		members := make([]backend.Identity, 0, len(b.Members))
		for _, m := range b.Members {
			memberID, err := backend.ParseIdentity(m)
			if err != nil {
				return nil, err
			}
			members = append(members, memberID)
		}

		endpoints = append(endpoints, backend.Endpoint{
			Identity:     id,
			Transport:    b.Transport,
			URL:          b.URL,
			Model:        b.Model,
			TokenFile:    b.TokenFile,
			Capabilities: b.Capabilities,
			Generality:   b.Generality,
			Members:      members,
			Timeout:      b.Timeout,
		})
	}

	sort.SliceStable(endpoints, func(i, j int) bool { return endpoints[i].Identity < endpoints[j].Identity })
	return endpoints, nil
}

// Registry builds the backend registry from the backends section.
func (c *Config) Registry() (*backend.Registry, error) {
	endpoints, err := c.Endpoints()
	if err != nil {
		return nil, err
	}
	return backend.NewRegistry(endpoints...), nil
}

// Backend returns the raw config entry for id.
func (c *Config) Backend(id backend.Identity) (BackendConfig, bool) {
	b, ok := c.Backends[id.String()]
	return b, ok
}
