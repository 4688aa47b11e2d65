package resilience

import (
	"sort"
	"sync"
	"time"
)

// Registry owns the circuit breakers of a process, keyed by endpoint name.
// Breakers are created lazily; the registry lock only guards creation.
type Registry struct {
	config   Config
	now      func() time.Time
	onChange StateChangeFunc

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithClock overrides the time source
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithStateChangeHook registers fn to observe every breaker transition.
// fn runs while the breaker's lock is held and must not call back into it.
func WithStateChangeHook(fn StateChangeFunc) RegistryOption {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates a registry whose breakers share config
func NewRegistry(config Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		config:   config,
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for endpoint, creating it on first use
func (r *Registry) Get(endpoint string) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[endpoint]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[endpoint]; ok {
		return b
	}
	b = newCircuitBreaker(endpoint, r.config, r.now, r.onChange)
	r.breakers[endpoint] = b
	return b
}

// Snapshots returns every breaker's state ordered by endpoint
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}
