package costtrack

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(nil)

	a := r.Get("global")
	b := r.Get("global")
	if a != b {
		t.Error("expected the same tracker instance for the same scope")
	}
	if a == r.Get("job-1") {
		t.Error("expected distinct trackers per scope")
	}
}

func TestRegistry_ConcurrentFirstUse(t *testing.T) {
	r := NewRegistry(nil)

	const goroutines = 32
	results := make([]*Tracker, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = r.Get("global")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent first use must yield a single instance")
		}
	}
}

func TestRegistry_CustomConfig(t *testing.T) {
	r := NewRegistry(func(scope string) Config {
		return Config{BudgetCeiling: 25.0, EnforceBudget: true}
	})

	tr := r.Get("job-9")
	if tr.Scope() != "job-9" {
		t.Errorf("expected scope forced to registry key, got %q", tr.Scope())
	}
	if remaining, ok := tr.RemainingBudget(); !ok || remaining != 25.0 {
		t.Errorf("expected ceiling 25.0 applied, got %v (ok=%v)", remaining, ok)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.Get("job-2")
	r.Get("global")
	r.Get("job-1")

	want := []string{"global", "job-1", "job-2"}
	if diff := cmp.Diff(want, r.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_SnapshotsAndResetAll(t *testing.T) {
	r := NewRegistry(nil)
	_, _ = r.Get("global").TrackUsage(Usage{Provider: "openai", Model: "gpt-4o", InputUnits: 1000})
	r.Get("job-1")

	snaps := r.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps["global"].Summary.RecordCount != 1 {
		t.Errorf("expected 1 record for global, got %d", snaps["global"].Summary.RecordCount)
	}
	if snaps["job-1"].Summary.RecordCount != 0 {
		t.Errorf("expected 0 records for job-1, got %d", snaps["job-1"].Summary.RecordCount)
	}

	r.ResetAll()
	if got := r.Get("global").Summary(Filter{}).RecordCount; got != 0 {
		t.Errorf("expected 0 records after ResetAll, got %d", got)
	}
}
