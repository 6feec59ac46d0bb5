package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
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
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Breaker implements the circuit breaker pattern around an outbound
// dependency such as the compliance registry.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	halfOpenMax int

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	halfOpenCount int
	lastFailure   time.Time
	onStateChange func(from, to State)
}

// Config holds circuit breaker configuration
type Config struct {
	Name          string
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	OnStateChange func(from, to State)
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg Config) *Breaker {
	halfOpenMax := cfg.HalfOpenMax
	if halfOpenMax <= 0 {
		halfOpenMax = 1
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		timeout:       cfg.Timeout,
		halfOpenMax:   halfOpenMax,
		state:         StateClosed,
		onStateChange: cfg.OnStateChange,
	}
}

// Execute runs fn with circuit breaker protection.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.allowRequest(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailure) > b.timeout {
			b.transitionTo(StateHalfOpen)
			b.halfOpenCount = 1
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenCount >= b.halfOpenMax {
			return ErrTooManyRequests
		}
		b.halfOpenCount++
		return nil

	default:
		return errors.New("unknown state")
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.lastFailure = time.Now()
			b.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// A probe failed; back to open for another full timeout.
		b.lastFailure = time.Now()
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0

	case StateHalfOpen:
		b.successes++
		if b.successes >= b.halfOpenMax {
			b.transitionTo(StateClosed)
		}
	}
}

// transitionTo must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}

	b.state = newState
	b.failures = 0
	b.successes = 0
	b.halfOpenCount = 0

	if b.onStateChange != nil {
		b.onStateChange(oldState, newState)
	}
}

// State returns current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns current failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset resets the circuit breaker to closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// ForceOpen forces the circuit breaker to open state
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	b.transitionTo(StateOpen)
}

// BreakerGroup manages one breaker per named dependency.
type BreakerGroup struct {
	breakers map[string]*Breaker
	mu       sync.RWMutex
	config   Config
}

// NewBreakerGroup creates a new breaker group
func NewBreakerGroup(defaultConfig Config) *BreakerGroup {
	return &BreakerGroup{
		breakers: make(map[string]*Breaker),
		config:   defaultConfig,
	}
}

// Get returns or creates a circuit breaker for the given name
func (g *BreakerGroup) Get(name string) *Breaker {
	g.mu.RLock()
	b, exists := g.breakers[name]
	g.mu.RUnlock()

	if exists {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if b, exists = g.breakers[name]; exists {
		return b
	}

	cfg := g.config
	cfg.Name = name
	b = NewBreaker(cfg)
	g.breakers[name] = b

	return b
}

// Execute executes with the named circuit breaker
func (g *BreakerGroup) Execute(ctx context.Context, name string, fn func() error) error {
	return g.Get(name).Execute(ctx, fn)
}

// States returns all breaker states
func (g *BreakerGroup) States() map[string]State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	states := make(map[string]State, len(g.breakers))
	for name, b := range g.breakers {
		states[name] = b.State()
	}
	return states
}
