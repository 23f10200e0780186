package policy

import (
	"sync"
	"sync/atomic"
)

// modelCounters holds one model's hit/miss/latency counters behind atomic
// operations, following the gateway dispatcher's counter style
// (sync/atomic rather than a mutex around plain ints).
type modelCounters struct {
	hits             atomic.Int64
	misses           atomic.Int64
	totalRetrievalNs atomic.Int64
}

// ModelSnapshot is an immutable copy of one model's counters, safe to hand
// to a caller outside the lock (spec §4.4: "returned snapshots are
// immutable copies to prevent data races").
type ModelSnapshot struct {
	Model              string
	Hits               int64
	Misses             int64
	AvgRetrievalMillis float64
}

// HitRate returns hits/(hits+misses), or 0 when both are zero (spec §8.3).
func (s ModelSnapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Metrics tracks hit/miss/retrieval-latency counters per logical model.
type Metrics struct {
	mu      sync.RWMutex
	models  map[string]*modelCounters
	imported bool
}

// NewMetrics creates an empty per-model metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{models: make(map[string]*modelCounters)}
}

func (m *Metrics) counters(model string) *modelCounters {
	m.mu.RLock()
	c, ok := m.models[model]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.models[model]; ok {
		return c
	}
	c = &modelCounters{}
	m.models[model] = c
	return c
}

// RecordHit records a cache hit with its retrieval latency.
func (m *Metrics) RecordHit(model string, retrievalNs int64) {
	c := m.counters(model)
	c.hits.Add(1)
	c.totalRetrievalNs.Add(retrievalNs)
}

// RecordMiss records a cache miss.
func (m *Metrics) RecordMiss(model string) {
	m.counters(model).misses.Add(1)
}

// Snapshot returns an immutable copy of one model's counters.
func (m *Metrics) Snapshot(model string) ModelSnapshot {
	c := m.counters(model)
	hits := c.hits.Load()
	misses := c.misses.Load()
	totalNs := c.totalRetrievalNs.Load()

	snap := ModelSnapshot{Model: model, Hits: hits, Misses: misses}
	if hits > 0 {
		snap.AvgRetrievalMillis = float64(totalNs) / float64(hits) / 1e6
	}
	return snap
}

// AllSnapshots returns a snapshot per tracked model, taken by reading each
// atomic once (spec §5: "consistent per-model tuple by atomic reads").
func (m *Metrics) AllSnapshots() []ModelSnapshot {
	m.mu.RLock()
	models := make([]string, 0, len(m.models))
	for model := range m.models {
		models = append(models, model)
	}
	m.mu.RUnlock()

	snapshots := make([]ModelSnapshot, 0, len(models))
	for _, model := range models {
		snapshots = append(snapshots, m.Snapshot(model))
	}
	return snapshots
}

// AggregateHitRate returns the hit rate across every tracked model.
func (m *Metrics) AggregateHitRate() float64 {
	var hits, misses int64
	for _, snap := range m.AllSnapshots() {
		hits += snap.Hits
		misses += snap.Misses
	}
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// PersistedStats is the shape previously-persisted aggregate stats take
// when a process restarts (spec §4.4/§9).
type PersistedStats struct {
	Model  string
	Hits   int64
	Misses int64
}

// Import loads persisted stats, but only when every current counter is
// zero; importing into a non-empty tracker is a silent no-op, and a
// second Import call is always a no-op once the first has run (spec §8.3:
// "Import is idempotent"). This intentionally drops history on a warm
// restart where counts are already non-zero — see SPEC_FULL.md's open
// question on import semantics.
func (m *Metrics) Import(stats []PersistedStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.imported {
		return
	}
	for _, c := range m.models {
		if c.hits.Load() != 0 || c.misses.Load() != 0 {
			m.imported = true
			return
		}
	}

	for _, s := range stats {
		c, ok := m.models[s.Model]
		if !ok {
			c = &modelCounters{}
			m.models[s.Model] = c
		}
		c.hits.Store(s.Hits)
		c.misses.Store(s.Misses)
	}
	m.imported = true
}
