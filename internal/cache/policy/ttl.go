package policy

import "time"

// TTLPolicy decides when an entry expires. Implementations are stateless
// over the entry they're given; any running counters (access-threshold
// buckets for Adaptive) live on the Entry itself.
type TTLPolicy interface {
	// Expiry returns the absolute time at which entry should be considered
	// expired, given it is being (re)written or read right now.
	Expiry(entry Entry, now time.Time) time.Time
}

// FixedTTL expires an entry a fixed duration after creation, regardless of
// access pattern.
type FixedTTL struct {
	Duration time.Duration
}

func (p FixedTTL) Expiry(entry Entry, now time.Time) time.Time {
	return entry.CreatedAt.Add(p.Duration)
}

// SlidingTTL extends the expiry on every access, capped at an optional
// maximum lifetime measured from creation.
type SlidingTTL struct {
	Duration    time.Duration
	MaxLifetime time.Duration // zero means unbounded
}

func (p SlidingTTL) Expiry(entry Entry, now time.Time) time.Time {
	expiry := now.Add(p.Duration)
	if p.MaxLifetime > 0 {
		if cap := entry.CreatedAt.Add(p.MaxLifetime); expiry.After(cap) {
			return cap
		}
	}
	return expiry
}

// AdaptiveTTL grows the TTL by Factor for every AccessThreshold accesses,
// capped at MaxDuration. A hot entry earns a longer life; a cold one
// keeps its BaseDuration.
type AdaptiveTTL struct {
	BaseDuration    time.Duration
	Factor          float64
	AccessThreshold int64
	MaxDuration     time.Duration
}

func (p AdaptiveTTL) Expiry(entry Entry, now time.Time) time.Time {
	if p.AccessThreshold <= 0 {
		return now.Add(p.BaseDuration)
	}
	buckets := entry.AccessCount / p.AccessThreshold
	duration := float64(p.BaseDuration)
	for i := int64(0); i < buckets; i++ {
		duration *= p.Factor
		if p.MaxDuration > 0 && time.Duration(duration) >= p.MaxDuration {
			duration = float64(p.MaxDuration)
			break
		}
	}
	return now.Add(time.Duration(duration))
}

// TimeBasedRule is one row of a TimeBasedTTL rule table. Match is left to
// the caller (a model name, a tenant tier, a time-of-day window — whatever
// the deployment's rule table keys on); TimeBasedTTL picks the
// highest-priority rule whose Match returns true.
type TimeBasedRule struct {
	Priority int
	Match    func(entry Entry, now time.Time) bool
	Duration time.Duration
}

// TimeBasedTTL selects the first matching rule by descending priority.
type TimeBasedTTL struct {
	Rules   []TimeBasedRule
	Default time.Duration
}

func (p TimeBasedTTL) Expiry(entry Entry, now time.Time) time.Time {
	best := -1
	bestDuration := p.Default
	for _, rule := range p.Rules {
		if rule.Priority <= best {
			continue
		}
		if rule.Match(entry, now) {
			best = rule.Priority
			bestDuration = rule.Duration
		}
	}
	return now.Add(bestDuration)
}
