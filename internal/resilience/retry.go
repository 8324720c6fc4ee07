package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-matcher/internal/utils"
)

const (
	DefaultMaxRetries        = 3
	DefaultBaseDelay         = 100 * time.Millisecond
	DefaultBackoffMultiplier = 2.0
	DefaultJitter            = 0.3
)

// RetryConfig bounds the retry loop. MaxRetries is the total number of
// invocations, so 3 means one call plus two retries.
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max-retries"`
	BaseDelay         time.Duration `mapstructure:"base-delay"`
	BackoffMultiplier float64       `mapstructure:"backoff-multiplier"`
	Jitter            float64       `mapstructure:"jitter"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		BaseDelay:         DefaultBaseDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		Jitter:            DefaultJitter,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// RetryPolicy retries TransientBackendError failures with exponential
// backoff and jitter. Any other error is returned immediately.
type RetryPolicy struct {
	cfg    RetryConfig
	logger *zap.Logger
	wait   func(context.Context, time.Duration) error
	rand   func() float64
}

func NewRetryPolicy(cfg RetryConfig, logger *zap.Logger) *RetryPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryPolicy{
		cfg:    cfg.withDefaults(),
		logger: logger,
		wait:   utils.WaitFor,
		rand:   rand.Float64,
	}
}

func (p *RetryPolicy) Config() RetryConfig { return p.cfg }

// Execute invokes op until it succeeds, fails with a non-transient error,
// the caller's context is done, or MaxRetries invocations were made. The
// last failure is returned as is.
func (p *RetryPolicy) Execute(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt >= p.cfg.MaxRetries {
			return err
		}

		delay := p.Backoff(attempt)
		p.logger.Debug("retrying after transient failure",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", p.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if werr := p.wait(ctx, delay); werr != nil {
			return err
		}
	}
}

// Backoff returns the delay before retry n (n starts at 1):
// base * multiplier^(n-1) plus jitter drawn from [0, jitter*delay].
func (p *RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.BackoffMultiplier, float64(n-1))
	jitter := delay * p.cfg.Jitter * p.rand()
	return time.Duration(delay + jitter)
}
