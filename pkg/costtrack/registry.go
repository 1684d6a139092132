package costtrack

import (
	"sort"
	"sync"
)

// Registry is a concurrency-safe named-instance cache of cost trackers, one
// per budget scope. Get-or-create is atomic: concurrent first use of the same
// scope yields a single instance.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker

	// configFor supplies the configuration for trackers created lazily by
	// scope. Defaults to an unenforced tracker with the built-in pricing.
	configFor func(scope string) Config
}

// NewRegistry creates a tracker registry.
//
// configFor supplies per-scope configuration for lazily created trackers;
// pass nil for unenforced trackers with default pricing.
func NewRegistry(configFor func(scope string) Config) *Registry {
	if configFor == nil {
		configFor = func(scope string) Config { return Config{Scope: scope} }
	}
	return &Registry{
		trackers:  make(map[string]*Tracker),
		configFor: configFor,
	}
}

// Get returns the tracker for the given scope, creating it on first use.
func (r *Registry) Get(scope string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trackers[scope]; ok {
		return t
	}

	cfg := r.configFor(scope)
	cfg.Scope = scope
	t := New(cfg)
	r.trackers[scope] = t
	return t
}

// Names returns the scopes of all registered trackers, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.trackers))
	for name := range r.trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns a serializable snapshot of every registered tracker,
// keyed by scope.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.Unlock()

	snapshots := make(map[string]Snapshot, len(trackers))
	for _, t := range trackers {
		snapshots[t.Scope()] = t.Snapshot()
	}
	return snapshots
}

// ResetAll clears the records of every registered tracker.
// Test and administrative use only.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.Unlock()

	for _, t := range trackers {
		t.Reset()
	}
}
