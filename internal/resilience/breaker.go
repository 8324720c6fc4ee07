package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// State is the circuit state of a single backend.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls when a circuit opens and how long it stays open.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure-threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery-timeout"`
}

// DefaultBreakerConfig returns the documented defaults: 5 failures, 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return c
}

// Snapshot is a point-in-time copy of a breaker's state.
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	LastFailure         time.Time
}

// Breaker is a per-backend circuit breaker. All state transitions happen
// under mu, so concurrent failures cannot trip redundant transitions.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	now    func() time.Time
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

type BreakerOption func(*Breaker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) BreakerOption {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("breaker", name))
	return b
}

func (b *Breaker) Name() string { return b.name }

// Guard runs op if the circuit admits the call and records the outcome.
// While open it returns a *CircuitOpenError without invoking op.
// Caller cancellation and PermanentInputError are not counted as failures.
func (b *Breaker) Guard(ctx context.Context, op func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(ctx, err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed < b.cfg.RecoveryTimeout {
			return &CircuitOpenError{Backend: b.name, RetryIn: b.cfg.RecoveryTimeout - elapsed}
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return &CircuitOpenError{Backend: b.name}
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && (ctx.Err() != nil || IsPermanentInput(err)) {
		// neutral outcome: free the probe slot, leave counters alone
		if b.state == StateHalfOpen {
			b.probing = false
		}
		return
	}

	if err == nil {
		switch b.state {
		case StateHalfOpen:
			b.transition(StateClosed)
			b.failures = 0
			b.probing = false
		case StateClosed:
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.logger.Info("circuit state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("consecutive_failures", b.failures),
	)
}

// State reports the stored state. An open circuit whose recovery timeout has
// elapsed still reports open until the next call attempt.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
	}
}

// Reset closes the circuit and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.lastFailure = time.Time{}
	b.probing = false
}

// Breakers owns one Breaker per backend name. Breakers are created lazily
// with a shared configuration and live as long as the registry.
type Breakers struct {
	cfg  BreakerConfig
	opts []BreakerOption

	mu    sync.Mutex
	items map[string]*Breaker
}

func NewBreakers(cfg BreakerConfig, opts ...BreakerOption) *Breakers {
	return &Breakers{
		cfg:   cfg,
		opts:  opts,
		items: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.items[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg, r.opts...)
	r.items[name] = b
	return b
}

// Snapshots returns the state of every known breaker sorted by name.
func (r *Breakers) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.items))
	for _, b := range r.items {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snapshots = append(snapshots, b.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots
}

func (r *Breakers) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.items {
		b.Reset()
	}
}
