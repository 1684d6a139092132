package breaker

import (
	"sync"
	"testing"
	"time"

	"apigovernor/pkg/clock"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(nil)

	first := r.Get("openai")
	second := r.Get("openai")
	if first != second {
		t.Error("expected the same breaker instance for the same name")
	}

	other := r.Get("firecrawl")
	if other == first {
		t.Error("expected distinct breaker per name")
	}
}

func TestRegistry_ConcurrentFirstUse(t *testing.T) {
	r := NewRegistry(nil)

	const goroutines = 32
	results := make([]*Breaker, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Get("openai")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent first use created more than one instance")
		}
	}
}

func TestRegistry_CustomConfig(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	r := NewRegistry(func(name string) Config {
		cfg := testConfig(name, clk)
		cfg.FailureThreshold = 1
		return cfg
	})

	b := r.Get("flaky")
	b.RecordFailure(KindTransient, "err")
	if b.State() != StateOpen {
		t.Errorf("expected custom threshold of 1 to apply, got %v", b.State())
	}
}

func TestRegistry_Snapshots(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	r := NewRegistry(func(name string) Config { return testConfig(name, clk) })

	r.Get("openai").RecordSuccess()
	r.Get("firecrawl").RecordFailure(KindTransient, "blocked")

	snaps := r.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps["openai"].Stats.SuccessfulCalls != 1 {
		t.Errorf("expected openai success recorded, got %+v", snaps["openai"].Stats)
	}
	if snaps["firecrawl"].Stats.FailedCalls != 1 {
		t.Errorf("expected firecrawl failure recorded, got %+v", snaps["firecrawl"].Stats)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "firecrawl" || names[1] != "openai" {
		t.Errorf("expected sorted names [firecrawl openai], got %v", names)
	}
}

func TestRegistry_ResetAll(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	r := NewRegistry(func(name string) Config { return testConfig(name, clk) })

	b := r.Get("openai")
	for i := 0; i < 3; i++ {
		b.RecordFailure(KindTransient, "err")
	}
	if b.State() != StateOpen {
		t.Fatal("setup: expected open")
	}

	r.ResetAll()
	if b.State() != StateClosed {
		t.Errorf("expected closed after ResetAll, got %v", b.State())
	}
}
