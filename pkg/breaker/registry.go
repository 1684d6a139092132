package breaker

import (
	"sort"
	"sync"
)

// Registry is a concurrency-safe named-instance cache of circuit breakers.
//
// Callers across the codebase share the same breaker per service name, so the
// failure history observed by one worker protects all of them. Get-or-create
// is atomic: concurrent first use of the same name yields a single instance.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	// configFor supplies the configuration for breakers created lazily by
	// name. Defaults to DefaultConfig.
	configFor func(name string) Config
}

// NewRegistry creates a breaker registry.
//
// configFor supplies per-service configuration for lazily created breakers;
// pass nil to use DefaultConfig for every name.
func NewRegistry(configFor func(name string) Config) *Registry {
	if configFor == nil {
		configFor = DefaultConfig
	}
	return &Registry{
		breakers:  make(map[string]*Breaker),
		configFor: configFor,
	}
}

// Get returns the breaker for the given service name, creating it on first
// use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg := r.configFor(name)
	cfg.Name = name
	b := New(cfg)
	r.breakers[name] = b
	return b
}

// Names returns the names of all registered breakers, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns a serializable snapshot of every registered breaker,
// keyed by service name.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	// Snapshot outside the registry lock; each breaker takes its own lock.
	snapshots := make(map[string]Snapshot, len(breakers))
	for _, b := range breakers {
		snapshots[b.Name()] = b.Snapshot()
	}
	return snapshots
}

// ResetAll returns every registered breaker to the closed state.
// Test and administrative use only.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}
