package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/backend/gemini"
	"github.com/spigell/hh-matcher/internal/backend/httpscorer"
	"github.com/spigell/hh-matcher/internal/config"
	"github.com/spigell/hh-matcher/internal/logger"
	"github.com/spigell/hh-matcher/internal/orchestrator"
	"github.com/spigell/hh-matcher/internal/resilience"
	"github.com/spigell/hh-matcher/internal/secrets"
	"github.com/spigell/hh-matcher/internal/selector"
	"github.com/spigell/hh-matcher/internal/weights"
)

const geminiAPIKeyEnv = "GEMINI_API_KEY"

// stack is everything a command needs to plan or run a match.
type stack struct {
	registry     *backend.Registry
	client       *backend.Client
	orchestrator *orchestrator.Orchestrator
}

func newStack(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stack, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("building backend registry: %w", err)
	}

	breakers := resilience.NewBreakers(cfg.BreakerConfig(), resilience.WithLogger(log))
	retry := resilience.NewRetryPolicy(cfg.RetryConfig(), log)
	client := backend.NewClient(registry, breakers, retry,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithClientLogger(log),
	)

	for _, ep := range registry.Endpoints() {
		bc, _ := cfg.Backend(ep.Identity)
		scorer, err := newScorer(ctx, ep, bc, log)
		if err != nil {
			// The backend stays in the ranking and is reported as not configured.
			log.Warn("skipping scoring backend",
				append(logger.BackendFields(ep.Identity.String(), ep.Transport), zap.Error(err))...,
			)
			continue
		}
		if scorer != nil {
			client.Register(ep.Identity, scorer)
		}
	}

	sel := selector.New(registry, cfg.SelectorConfig())
	engine := weights.New(cfg.BaseWeights())

	return &stack{
		registry:     registry,
		client:       client,
		orchestrator: orchestrator.New(registry, sel, engine, client, orchestrator.WithLogger(log)),
	}, nil
}

// newScorer returns nil for transports that have no scorer of their own.
func newScorer(ctx context.Context, ep backend.Endpoint, bc config.BackendConfig, log *zap.Logger) (backend.Scorer, error) {
	name := ep.Identity.String()
	scorerLogger := logger.WithBackendFields(log, name, ep.Transport)

	switch ep.Transport {
	case backend.TransportHTTP:
		token, err := secrets.Optional(secrets.Source{
			Name: name + " token",
			File: ep.TokenFile,
			Env:  tokenEnv(ep.Identity),
		})
		if err != nil {
			return nil, err
		}
		return httpscorer.New(name, ep.URL, token, scorerLogger), nil

	case backend.TransportGemini:
		apiKey, err := secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: bc.APIKeyFile,
			Env:  geminiAPIKeyEnv,
		})
		if err != nil {
			return nil, err
		}
		generator, err := gemini.NewGenerator(ctx, apiKey, ep.Model)
		if err != nil {
			return nil, err
		}
		scorerLogger = logger.WithFields(scorerLogger, zap.String(logger.FieldModel, generator.Model()))
		return gemini.NewScorer(name, generator, scorerLogger, bc.MaxLogLength), nil

	case backend.TransportConsensus:
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported transport %q", ep.Transport)
	}
}

// tokenEnv names the fallback variable for an http backend token, e.g.
// MATCHER_GEO_SPECIALIZED_TOKEN.
func tokenEnv(id backend.Identity) string {
	name := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "_"))
	return config.EnvPrefix + "_" + name + "_TOKEN"
}
