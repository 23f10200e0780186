package policy

import (
	"sort"
	"time"
)

// EvictionPolicy ranks candidate entries and returns the minimal set whose
// combined size meets spaceNeeded, per spec §4.4. candidates is not
// mutated.
type EvictionPolicy interface {
	SelectForEviction(candidates []Entry, spaceNeeded int64, now time.Time) []Entry
}

// selectBySortedScore is the shared "take from the front until space is
// reclaimed" routine every ranking-based policy below uses; score(a) <
// score(b) means a is evicted first.
func selectBySortedScore(candidates []Entry, spaceNeeded int64, score func(Entry) float64) []Entry {
	sorted := make([]Entry, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return score(sorted[i]) < score(sorted[j])
	})

	var selected []Entry
	var reclaimed int64
	for _, e := range sorted {
		if reclaimed >= spaceNeeded {
			break
		}
		selected = append(selected, e)
		reclaimed += e.SizeBytes
	}
	return selected
}

// LRUEviction evicts the least-recently-accessed entries first.
type LRUEviction struct{}

func (LRUEviction) SelectForEviction(candidates []Entry, spaceNeeded int64, now time.Time) []Entry {
	return selectBySortedScore(candidates, spaceNeeded, func(e Entry) float64 {
		return float64(e.LastAccessAt.UnixNano())
	})
}

// LFUEviction evicts the least-frequently-accessed entries first. When
// Window is positive, frequency is normalized by the entry's age clamped
// to Window, approximating "accesses per window" rather than raw lifetime
// totals so a long-lived, rarely-hit entry doesn't look artificially hot.
type LFUEviction struct {
	Window time.Duration
}

func (p LFUEviction) SelectForEviction(candidates []Entry, spaceNeeded int64, now time.Time) []Entry {
	return selectBySortedScore(candidates, spaceNeeded, func(e Entry) float64 {
		age := now.Sub(e.CreatedAt)
		if p.Window > 0 && age > p.Window {
			age = p.Window
		}
		if age <= 0 {
			age = time.Second
		}
		return float64(e.AccessCount) / age.Seconds()
	})
}

// PriorityEviction evicts lower-priority entries first. When AgeWeighted
// is set, older entries within the same priority band are evicted before
// newer ones.
type PriorityEviction struct {
	AgeWeighted bool
}

func (p PriorityEviction) SelectForEviction(candidates []Entry, spaceNeeded int64, now time.Time) []Entry {
	return selectBySortedScore(candidates, spaceNeeded, func(e Entry) float64 {
		score := float64(e.Priority) * 1e15
		if p.AgeWeighted {
			score -= float64(now.Sub(e.CreatedAt))
		}
		return score
	})
}

// CompositeEviction blends multiple sub-policies' scores by weight. Each
// sub-policy is asked to rank the full candidate set; an entry's composite
// score is the weighted sum of its rank position (0 = first evicted) in
// each sub-ranking, so sub-policies with incompatible scales can still
// combine meaningfully.
type CompositeEviction struct {
	Policies []WeightedPolicy
}

// WeightedPolicy pairs an EvictionPolicy with its blend weight.
type WeightedPolicy struct {
	Policy EvictionPolicy
	Weight float64
}

func (c CompositeEviction) SelectForEviction(candidates []Entry, spaceNeeded int64, now time.Time) []Entry {
	rank := make(map[string]float64, len(candidates))

	for _, wp := range c.Policies {
		ranked := wp.Policy.SelectForEviction(candidates, sumSizes(candidates), now) // full ranking, not capped
		for i, e := range ranked {
			rank[e.Key] += float64(i) * wp.Weight
		}
	}

	return selectBySortedScore(candidates, spaceNeeded, func(e Entry) float64 {
		return rank[e.Key]
	})
}

func sumSizes(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	return total
}
