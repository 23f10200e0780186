package policy

import (
	"testing"
	"time"
)

func TestLRUEvictionPicksOldestAccessedFirst(t *testing.T) {
	now := time.Now()
	candidates := []Entry{
		{Key: "old", LastAccessAt: now.Add(-time.Hour), SizeBytes: 10},
		{Key: "new", LastAccessAt: now, SizeBytes: 10},
	}

	selected := LRUEviction{}.SelectForEviction(candidates, 10, now)
	if len(selected) != 1 || selected[0].Key != "old" {
		t.Errorf("expected to evict %q first, got %v", "old", selected)
	}
}

func TestLRUEvictionStopsOnceSpaceReclaimed(t *testing.T) {
	now := time.Now()
	candidates := []Entry{
		{Key: "a", LastAccessAt: now.Add(-3 * time.Hour), SizeBytes: 50},
		{Key: "b", LastAccessAt: now.Add(-2 * time.Hour), SizeBytes: 50},
		{Key: "c", LastAccessAt: now.Add(-time.Hour), SizeBytes: 50},
	}

	selected := LRUEviction{}.SelectForEviction(candidates, 60, now)
	if len(selected) != 2 {
		t.Fatalf("expected 2 entries to reclaim 60 bytes from 50-byte entries, got %d", len(selected))
	}
	if selected[0].Key != "a" || selected[1].Key != "b" {
		t.Errorf("expected eviction order [a b], got %v", selected)
	}
}

func TestLFUEvictionPicksLeastFrequent(t *testing.T) {
	now := time.Now()
	candidates := []Entry{
		{Key: "rare", CreatedAt: now.Add(-time.Hour), AccessCount: 1, SizeBytes: 10},
		{Key: "frequent", CreatedAt: now.Add(-time.Hour), AccessCount: 100, SizeBytes: 10},
	}

	selected := LFUEviction{}.SelectForEviction(candidates, 10, now)
	if len(selected) != 1 || selected[0].Key != "rare" {
		t.Errorf("expected to evict %q first, got %v", "rare", selected)
	}
}

func TestLFUEvictionClampsAgeToWindow(t *testing.T) {
	now := time.Now()
	// Same access count, but "veryOld" would look colder under raw age;
	// clamping both to Window should make them score equally.
	candidates := []Entry{
		{Key: "veryOld", CreatedAt: now.Add(-100 * time.Hour), AccessCount: 10, SizeBytes: 10},
		{Key: "recentSameWindow", CreatedAt: now.Add(-time.Hour), AccessCount: 10, SizeBytes: 10},
	}

	p := LFUEviction{Window: time.Hour}
	selected := p.SelectForEviction(candidates, 20, now)
	if len(selected) != 2 {
		t.Fatalf("expected both entries selected to reclaim 20 bytes, got %d", len(selected))
	}
}

func TestPriorityEvictionPicksLowerPriorityFirst(t *testing.T) {
	now := time.Now()
	candidates := []Entry{
		{Key: "low", Priority: 1, SizeBytes: 10},
		{Key: "high", Priority: 10, SizeBytes: 10},
	}

	selected := PriorityEviction{}.SelectForEviction(candidates, 10, now)
	if len(selected) != 1 || selected[0].Key != "low" {
		t.Errorf("expected to evict %q first, got %v", "low", selected)
	}
}

func TestPriorityEvictionAgeWeightedPrefersOlderWithinBand(t *testing.T) {
	now := time.Now()
	candidates := []Entry{
		{Key: "older", Priority: 5, CreatedAt: now.Add(-time.Hour), SizeBytes: 10},
		{Key: "newer", Priority: 5, CreatedAt: now, SizeBytes: 10},
	}

	selected := PriorityEviction{AgeWeighted: true}.SelectForEviction(candidates, 10, now)
	if len(selected) != 1 || selected[0].Key != "older" {
		t.Errorf("expected the older same-priority entry to be evicted first, got %v", selected)
	}
}

func TestCompositeEvictionBlendsSubPolicyRankings(t *testing.T) {
	now := time.Now()
	candidates := []Entry{
		{Key: "a", LastAccessAt: now.Add(-time.Hour), Priority: 10, SizeBytes: 10},
		{Key: "b", LastAccessAt: now, Priority: 1, SizeBytes: 10},
	}

	composite := CompositeEviction{Policies: []WeightedPolicy{
		{Policy: LRUEviction{}, Weight: 1},
		{Policy: PriorityEviction{}, Weight: 1},
	}}

	selected := composite.SelectForEviction(candidates, 10, now)
	if len(selected) != 1 {
		t.Fatalf("expected 1 entry selected, got %d", len(selected))
	}
	// "a" ranks evict-first on LRU (older) but evict-last on priority
	// (higher); "b" is the reverse. Weighted equally, either is a
	// plausible single pick depending on tie-break order in sort.Slice,
	// but the call must not panic and must pick exactly one entry.
	if selected[0].Key != "a" && selected[0].Key != "b" {
		t.Errorf("unexpected key selected: %v", selected[0].Key)
	}
}

func TestValidateTiersRejectsOverlap(t *testing.T) {
	if ValidateTiers([]SizeTier{{MinPriority: 0, MaxPriority: 5}, {MinPriority: 4, MaxPriority: 10}}) {
		t.Error("expected overlapping tiers to be rejected")
	}
}

func TestValidateTiersAcceptsNonOverlapping(t *testing.T) {
	if !ValidateTiers([]SizeTier{{MinPriority: 0, MaxPriority: 5}, {MinPriority: 6, MaxPriority: 10}}) {
		t.Error("expected non-overlapping ascending tiers to be accepted")
	}
}
