package ratelimit

import (
	"sort"
	"sync"
)

// Registry is a concurrency-safe named-instance cache of rate limiters.
//
// Callers across the codebase share the same limiter per provider name, so
// parallel workers draw from one admission budget. Get-or-create is atomic:
// concurrent first use of the same name yields a single instance.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter

	// configFor supplies the configuration for limiters created lazily by
	// name. Defaults to DefaultConfig.
	configFor func(provider string) Config
}

// NewRegistry creates a limiter registry.
//
// configFor supplies per-provider configuration for lazily created limiters;
// pass nil to use DefaultConfig for every name.
func NewRegistry(configFor func(provider string) Config) *Registry {
	if configFor == nil {
		configFor = DefaultConfig
	}
	return &Registry{
		limiters:  make(map[string]*Limiter),
		configFor: configFor,
	}
}

// Get returns the limiter for the given provider name, creating it on first
// use.
func (r *Registry) Get(provider string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[provider]; ok {
		return l
	}

	cfg := r.configFor(provider)
	cfg.Provider = provider
	l := New(cfg)
	r.limiters[provider] = l
	return l
}

// Names returns the names of all registered limiters, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns a serializable snapshot of every registered limiter,
// keyed by provider name.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	limiters := make([]*Limiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		limiters = append(limiters, l)
	}
	r.mu.Unlock()

	snapshots := make(map[string]Snapshot, len(limiters))
	for _, l := range limiters {
		snapshots[l.Provider()] = l.Snapshot()
	}
	return snapshots
}

// ResetAll clears the window and daily counter of every registered limiter.
// Test and administrative use only.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	limiters := make([]*Limiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		limiters = append(limiters, l)
	}
	r.mu.Unlock()

	for _, l := range limiters {
		l.Reset()
	}
}
