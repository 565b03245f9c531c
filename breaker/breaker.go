package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/upcast/upcast/job"

	"github.com/sony/gobreaker"
)

// Config bounds one backend scope's breaker.
type Config struct {
	Threshold uint32        // consecutive failures before the circuit opens
	Cooldown  time.Duration // open duration before a half-open probe
}

// DefaultConfig returns the default breaker configuration
func DefaultConfig() *Config {
	return &Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Registry holds one circuit breaker per backend scope (account+proxy
// combination), so one failing account does not blind the whole system.
// While open, calls short-circuit without invoking the backend; after the
// cooldown exactly one probe call is let through.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	openedAt map[string]time.Time
	cfg      *Config
	onChange func(scope string, from, to gobreaker.State)
}

func NewRegistry(cfg *Config) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		openedAt: make(map[string]time.Time),
		cfg:      cfg,
	}
}

// OnStateChange registers a callback for breaker transitions. Must be set
// before the first Execute on any scope.
func (r *Registry) OnStateChange(fn func(scope string, from, to gobreaker.State)) {
	r.onChange = fn
}

func (r *Registry) get(scope string) *gobreaker.CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[scope]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[scope]; ok {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        scope,
		MaxRequests: 1, // one half-open probe
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.recordTransition(name, from, to)
		},
	})
	r.breakers[scope] = cb
	return cb
}

func (r *Registry) recordTransition(scope string, from, to gobreaker.State) {
	r.mu.Lock()
	if to == gobreaker.StateOpen {
		r.openedAt[scope] = time.Now()
	} else if to == gobreaker.StateClosed {
		delete(r.openedAt, scope)
	}
	cb := r.onChange
	r.mu.Unlock()

	if cb != nil {
		cb(scope, from, to)
	}
}

// Execute runs fn under the scope's breaker.
func (r *Registry) Execute(scope string, fn func() (any, error)) (any, error) {
	return r.get(scope).Execute(fn)
}

// IsOpen reports whether err came from a short-circuited call rather than
// the backend itself.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// State returns the persisted-form snapshot for one scope.
func (r *Registry) State(scope string) job.CircuitState {
	cb := r.get(scope)

	st := job.CircuitState{
		BackendKey:          scope,
		ConsecutiveFailures: cb.Counts().ConsecutiveFailures,
	}
	switch cb.State() {
	case gobreaker.StateOpen:
		st.State = job.CircuitOpen
	case gobreaker.StateHalfOpen:
		st.State = job.CircuitHalfOpen
	default:
		st.State = job.CircuitClosed
	}

	r.mu.RLock()
	if at, ok := r.openedAt[scope]; ok {
		st.OpenedAt = &at
	}
	r.mu.RUnlock()

	return st
}

// Snapshots returns the persisted-form snapshot of every tracked scope.
func (r *Registry) Snapshots() []job.CircuitState {
	r.mu.RLock()
	scopes := make([]string, 0, len(r.breakers))
	for scope := range r.breakers {
		scopes = append(scopes, scope)
	}
	r.mu.RUnlock()

	out := make([]job.CircuitState, 0, len(scopes))
	for _, scope := range scopes {
		out = append(out, r.State(scope))
	}
	return out
}
