// Package breaker implements per-key circuit breakers guarding flaky
// collaborators such as model endpoints.
package breaker

import (
	"sync"
	"time"

	"github.com/rendis/agentflow/pkg/schema"
)

// State is the state of a single circuit.
type State int

const (
	Closed   State = iota // Normal operation
	Open                  // Failing, rejecting calls
	HalfOpen              // Probing recovery
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures circuit behaviour.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects calls before probing.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe calls allowed while half-open.
	HalfOpenMax int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type circuit struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
}

// Registry holds one circuit per key.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   Config
	now      func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry. Zero config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Registry {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	r := &Registry{
		circuits: make(map[string]*circuit),
		config:   cfg,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Allow reports whether a call for key may proceed. It returns a FlowError
// with code CIRCUIT_OPEN when the circuit rejects the call.
func (r *Registry) Allow(key string) error {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Open:
		elapsed := r.now().Sub(c.lastFailure)
		if elapsed >= r.config.Cooldown {
			c.state = HalfOpen
			c.probes = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for %q after %d consecutive failures", key, c.failures).
			WithDetails(map[string]any{
				"key":                  key,
				"consecutive_failures": c.failures,
				"cooldown_remaining":   (r.config.Cooldown - elapsed).String(),
			})
	case HalfOpen:
		if c.probes >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for %q: probe limit reached", key)
		}
		c.probes++
	}
	return nil
}

// Success records a successful call and closes the circuit.
func (r *Registry) Success(key string) {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = 0
	c.probes = 0
	c.state = Closed
}

// Failure records a failed call and returns the resulting state.
func (r *Registry) Failure(key string) State {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	c.lastFailure = r.now()

	if c.state == HalfOpen || c.failures >= r.config.FailureThreshold {
		c.state = Open
	}
	return c.state
}

// Cancel records a call that was abandoned before it produced an outcome.
// It neither counts as a failure nor closes the circuit, but a half-open
// probe slot taken by the call is handed back.
func (r *Registry) Cancel(key string) {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == HalfOpen && c.probes > 0 {
		c.probes--
	}
}

// State returns the current state for key, moving an expired open circuit
// to half-open.
func (r *Registry) State(key string) State {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Open && r.now().Sub(c.lastFailure) >= r.config.Cooldown {
		c.state = HalfOpen
		c.probes = 0
	}
	return c.state
}

// Stats returns diagnostic information for key.
func (r *Registry) Stats(key string) map[string]any {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]any{
		"key":                  key,
		"state":                c.state.String(),
		"consecutive_failures": c.failures,
		"failure_threshold":    r.config.FailureThreshold,
		"cooldown":             r.config.Cooldown.String(),
	}
}

func (r *Registry) get(key string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.circuits[key]
	if !ok {
		c = &circuit{}
		r.circuits[key] = c
	}
	return c
}
