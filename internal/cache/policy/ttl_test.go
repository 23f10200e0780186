package policy

import (
	"testing"
	"time"
)

func TestFixedTTLExpiresFromCreation(t *testing.T) {
	now := time.Now()
	entry := Entry{CreatedAt: now.Add(-time.Hour)}
	p := FixedTTL{Duration: 30 * time.Minute}

	got := p.Expiry(entry, now)
	want := entry.CreatedAt.Add(30 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, got)
	}
}

func TestSlidingTTLExtendsFromNow(t *testing.T) {
	now := time.Now()
	entry := Entry{CreatedAt: now.Add(-time.Hour)}
	p := SlidingTTL{Duration: 10 * time.Minute}

	got := p.Expiry(entry, now)
	want := now.Add(10 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, got)
	}
}

func TestSlidingTTLCapsAtMaxLifetime(t *testing.T) {
	now := time.Now()
	entry := Entry{CreatedAt: now.Add(-55 * time.Minute)}
	p := SlidingTTL{Duration: 10 * time.Minute, MaxLifetime: time.Hour}

	got := p.Expiry(entry, now)
	want := entry.CreatedAt.Add(time.Hour)
	if !got.Equal(want) {
		t.Errorf("expected the lifetime cap %v, got %v", want, got)
	}
}

func TestAdaptiveTTLGrowsWithAccessCount(t *testing.T) {
	now := time.Now()
	p := AdaptiveTTL{BaseDuration: time.Minute, Factor: 2, AccessThreshold: 10, MaxDuration: time.Hour}

	cold := p.Expiry(Entry{AccessCount: 5}, now)
	if !cold.Equal(now.Add(time.Minute)) {
		t.Errorf("expected base duration for a cold entry, got %v", cold.Sub(now))
	}

	hot := p.Expiry(Entry{AccessCount: 25}, now)
	want := now.Add(4 * time.Minute) // 2 threshold buckets: 1min*2*2
	if !hot.Equal(want) {
		t.Errorf("expected %v after 2 growth buckets, got %v", want.Sub(now), hot.Sub(now))
	}
}

func TestAdaptiveTTLCapsAtMaxDuration(t *testing.T) {
	now := time.Now()
	p := AdaptiveTTL{BaseDuration: time.Minute, Factor: 10, AccessThreshold: 1, MaxDuration: 5 * time.Minute}

	got := p.Expiry(Entry{AccessCount: 100}, now)
	want := now.Add(5 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("expected the max duration cap %v, got %v", want.Sub(now), got.Sub(now))
	}
}

func TestAdaptiveTTLZeroThresholdIsBase(t *testing.T) {
	now := time.Now()
	p := AdaptiveTTL{BaseDuration: 2 * time.Minute}

	got := p.Expiry(Entry{AccessCount: 1000}, now)
	if !got.Equal(now.Add(2 * time.Minute)) {
		t.Errorf("expected a zero threshold to disable growth, got %v", got.Sub(now))
	}
}

func TestTimeBasedTTLPicksHighestPriorityMatch(t *testing.T) {
	now := time.Now()
	p := TimeBasedTTL{
		Default: time.Minute,
		Rules: []TimeBasedRule{
			{Priority: 1, Match: func(Entry, time.Time) bool { return true }, Duration: 10 * time.Minute},
			{Priority: 5, Match: func(Entry, time.Time) bool { return true }, Duration: 30 * time.Minute},
		},
	}

	got := p.Expiry(Entry{}, now)
	if !got.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("expected the higher-priority rule to win, got %v", got.Sub(now))
	}
}

func TestTimeBasedTTLFallsBackToDefault(t *testing.T) {
	now := time.Now()
	p := TimeBasedTTL{
		Default: time.Minute,
		Rules: []TimeBasedRule{
			{Priority: 1, Match: func(Entry, time.Time) bool { return false }, Duration: 10 * time.Minute},
		},
	}

	got := p.Expiry(Entry{}, now)
	if !got.Equal(now.Add(time.Minute)) {
		t.Errorf("expected the default duration when no rule matches, got %v", got.Sub(now))
	}
}
