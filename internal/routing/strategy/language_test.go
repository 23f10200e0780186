package strategy

import (
	"testing"

	"modelgate/internal/domain"
)

func TestLanguageStrategyPrefersConfiguredAffinity(t *testing.T) {
	s := NewLanguageStrategy(map[domain.Provider]map[string]float64{
		domain.ProviderOpenAI: {"ja": 0.9},
	})

	candidates := []Deployment{
		{Name: "openai", Provider: domain.ProviderOpenAI, Available: true},
		{Name: "anthropic", Provider: domain.ProviderAnthropic, Available: true},
	}

	best, found := s.SelectForLanguage(candidates, "ja")
	if !found {
		t.Fatal("expected a selection")
	}
	if best.Name != "openai" {
		t.Errorf("expected %q to win on configured ja affinity, got %q", "openai", best.Name)
	}
}

func TestLanguageStrategyFallsBackToDefaultAffinity(t *testing.T) {
	s := NewLanguageStrategy(nil)

	if got := s.affinityFor(domain.ProviderOpenAI, "fr"); got != s.DefaultAffinity {
		t.Errorf("expected default affinity %v, got %v", s.DefaultAffinity, got)
	}
}

func TestLanguageStrategyLearnsPerLanguageSuccess(t *testing.T) {
	s := NewLanguageStrategy(nil)

	candidates := []Deployment{
		{Name: "a", Provider: domain.ProviderOpenAI, Available: true},
		{Name: "b", Provider: domain.ProviderAnthropic, Available: true},
	}

	for i := 0; i < 20; i++ {
		s.UpdateMetrics(domain.ProviderOpenAI, DispatchResult{Success: false, Language: "de"})
		s.UpdateMetrics(domain.ProviderAnthropic, DispatchResult{Success: true, Language: "de"})
	}

	best, found := s.SelectForLanguage(candidates, "de")
	if !found {
		t.Fatal("expected a selection")
	}
	if best.Name != "b" {
		t.Errorf("expected %q to win after learning de success, got %q", "b", best.Name)
	}
}

func TestLanguageStrategySelectWithNoLanguagePreference(t *testing.T) {
	s := NewLanguageStrategy(nil)

	candidates := []Deployment{
		{Name: "solo", Provider: domain.ProviderOpenAI, Available: true},
	}

	best, found := s.Select(candidates)
	if !found {
		t.Fatal("expected a selection")
	}
	if best.Name != "solo" {
		t.Errorf("expected the only candidate %q, got %q", "solo", best.Name)
	}
}
