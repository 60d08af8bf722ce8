package cache

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

// getCounterVecValue reads the current value of a CounterVec for the given tier.
func getCounterVecValue(cv *prometheus.CounterVec, tier string) float64 {
	c, err := cv.GetMetricWithLabelValues(tier)
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_HitsAndMisses(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 10, CoordinatorConfig{})
	ctx := context.Background()

	c.Set(ctx, "k", "v", SetOptions{Tier: TierLocal})

	hitsBefore := getCounterVecValue(HitsTotal, string(TierLocal))
	missesBefore := getCounterVecValue(MissesTotal, string(TierRemote))

	c.Get(ctx, "k")      // local hit
	c.Get(ctx, "absent") // misses both tiers

	if diff := getCounterVecValue(HitsTotal, string(TierLocal)) - hitsBefore; diff != 1 {
		t.Errorf("Expected local hits to increment by 1, got diff %.0f", diff)
	}
	if diff := getCounterVecValue(MissesTotal, string(TierRemote)) - missesBefore; diff != 1 {
		t.Errorf("Expected remote misses to increment by 1, got diff %.0f", diff)
	}
}

func TestMetrics_Evictions(t *testing.T) {
	var evicted []string
	local, err := NewLocalBackend(LocalConfig{
		Capacity: 2,
		Policy:   "lru",
		Logger:   zerolog.Nop(),
		OnEvict: func(key string, _ *Entry) {
			evicted = append(evicted, key)
		},
	})
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	c := NewCoordinator(local, newFakeRemote(nil), CoordinatorConfig{Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	before := getCounterVecValue(EvictionsTotal, string(TierLocal))

	c.Set(ctx, "a", 1, SetOptions{Tier: TierLocal})
	c.Set(ctx, "b", 2, SetOptions{Tier: TierLocal})
	c.Set(ctx, "c", 3, SetOptions{Tier: TierLocal}) // evicts "a"

	if diff := getCounterVecValue(EvictionsTotal, string(TierLocal)) - before; diff != 1 {
		t.Errorf("Expected evictions to increment by 1, got diff %.0f", diff)
	}
	// The backend's own OnEvict callback must still fire after chaining.
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Errorf("Expected original OnEvict to fire for key 'a', got %v", evicted)
	}
}

func TestMetrics_EntriesLazy(t *testing.T) {
	// Use an isolated registry so we can gather only the entries we care about.
	reg := prometheus.NewRegistry()

	origReg := entriesReg
	entriesReg = reg
	t.Cleanup(func() { entriesReg = origReg })

	c, _, _ := newTestCoordinator(t, 10, CoordinatorConfig{})
	ctx := context.Background()

	// Helper: gather the cache_entries gauge for a tier from reg.
	gatherEntries := func(tier Tier) float64 {
		mfs, _ := reg.Gather()
		for _, mf := range mfs {
			if mf.GetName() != "cache_entries" {
				continue
			}
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "tier" && lp.GetValue() == string(tier) {
						return m.GetGauge().GetValue()
					}
				}
			}
		}
		return -1
	}

	if v := gatherEntries(TierLocal); v != 0 {
		t.Fatalf("Expected 0 local entries before Set, got %.0f", v)
	}

	c.Set(ctx, "x", 1, SetOptions{})
	c.Set(ctx, "y", 2, SetOptions{})

	// Len is queried at scrape time, so the gauge reflects the real count.
	if v := gatherEntries(TierLocal); v != 2 {
		t.Errorf("Expected 2 local entries after two Sets, got %.0f", v)
	}
	if v := gatherEntries(TierRemote); v != 2 {
		t.Errorf("Expected 2 remote entries after two Sets, got %.0f", v)
	}
}

func TestMetrics_Close_UnregistersEntries(t *testing.T) {
	reg := prometheus.NewRegistry()

	origReg := entriesReg
	entriesReg = reg
	t.Cleanup(func() { entriesReg = origReg })

	local, err := NewLocalBackend(LocalConfig{Capacity: 10, Policy: "lru", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	c := NewCoordinator(local, newFakeRemote(nil), CoordinatorConfig{Logger: zerolog.Nop()})

	entriesCollectorMu.Lock()
	_, registered := entriesCollectors[TierLocal]
	entriesCollectorMu.Unlock()
	if !registered {
		t.Fatal("Expected entries collector to be registered after NewCoordinator")
	}

	_ = c.Close()

	entriesCollectorMu.Lock()
	_, registered = entriesCollectors[TierLocal]
	entriesCollectorMu.Unlock()
	if registered {
		t.Fatal("Expected entries collector to be unregistered after Close")
	}
}
