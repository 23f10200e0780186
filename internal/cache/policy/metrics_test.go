package policy

import (
	"sync"
	"testing"
)

func TestMetricsSnapshotComputesHitRateAndAvgLatency(t *testing.T) {
	m := NewMetrics()
	m.RecordHit("gpt-4o", 1_000_000) // 1ms
	m.RecordHit("gpt-4o", 3_000_000) // 3ms
	m.RecordMiss("gpt-4o")

	snap := m.Snapshot("gpt-4o")
	if snap.Hits != 2 || snap.Misses != 1 {
		t.Fatalf("expected 2 hits / 1 miss, got %d/%d", snap.Hits, snap.Misses)
	}
	if got := snap.HitRate(); got < 0.666 || got > 0.667 {
		t.Errorf("expected hit rate ~0.667, got %v", got)
	}
	if got := snap.AvgRetrievalMillis; got != 2 {
		t.Errorf("expected average retrieval 2ms, got %v", got)
	}
}

func TestSnapshotHitRateZeroWhenUntouched(t *testing.T) {
	snap := ModelSnapshot{}
	if snap.HitRate() != 0 {
		t.Errorf("expected 0 hit rate with no hits or misses, got %v", snap.HitRate())
	}
}

func TestMetricsAggregateHitRateAcrossModels(t *testing.T) {
	m := NewMetrics()
	m.RecordHit("a", 0)
	m.RecordMiss("a")
	m.RecordHit("b", 0)
	m.RecordHit("b", 0)

	if got := m.AggregateHitRate(); got < 0.749 || got > 0.751 {
		t.Errorf("expected aggregate hit rate 0.75, got %v", got)
	}
}

func TestMetricsImportOnlyAppliesToAZeroTracker(t *testing.T) {
	m := NewMetrics()
	m.Import([]PersistedStats{{Model: "gpt-4o", Hits: 10, Misses: 5}})

	snap := m.Snapshot("gpt-4o")
	if snap.Hits != 10 || snap.Misses != 5 {
		t.Fatalf("expected imported stats to apply, got %d/%d", snap.Hits, snap.Misses)
	}

	// A second Import call is a no-op even with different stats.
	m.Import([]PersistedStats{{Model: "gpt-4o", Hits: 999, Misses: 999}})
	snap = m.Snapshot("gpt-4o")
	if snap.Hits != 10 || snap.Misses != 5 {
		t.Errorf("expected Import to be idempotent, got %d/%d", snap.Hits, snap.Misses)
	}
}

func TestMetricsImportSkipsWhenCountersAlreadyNonZero(t *testing.T) {
	m := NewMetrics()
	m.RecordHit("gpt-4o", 0)

	m.Import([]PersistedStats{{Model: "gpt-4o", Hits: 500, Misses: 500}})

	snap := m.Snapshot("gpt-4o")
	if snap.Hits != 1 || snap.Misses != 0 {
		t.Errorf("expected Import to be a no-op against a warm tracker, got %d/%d", snap.Hits, snap.Misses)
	}
}

func TestMetricsConcurrentAccessIsRaceFree(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordHit("shared", 100)
			m.RecordMiss("shared")
			m.Snapshot("shared")
		}()
	}
	wg.Wait()

	snap := m.Snapshot("shared")
	if snap.Hits != 50 || snap.Misses != 50 {
		t.Errorf("expected 50 hits / 50 misses after concurrent access, got %d/%d", snap.Hits, snap.Misses)
	}
}
