package strategy

import (
	"testing"

	"modelgate/internal/domain"
)

func TestQualityStrategySelectPrefersHigherBaseQuality(t *testing.T) {
	s := NewQualityStrategy()

	candidates := []Deployment{
		{Name: "low", Provider: domain.ProviderOpenAI, BaseQuality: 40, Available: true},
		{Name: "high", Provider: domain.ProviderAnthropic, BaseQuality: 90, Available: true},
	}

	best, found := s.Select(candidates)
	if !found {
		t.Fatal("expected a selection")
	}
	if best.Name != "high" {
		t.Errorf("expected %q to win on base quality, got %q", "high", best.Name)
	}
}

func TestQualityStrategySkipsUnavailable(t *testing.T) {
	s := NewQualityStrategy()

	candidates := []Deployment{
		{Name: "unavailable", Provider: domain.ProviderOpenAI, BaseQuality: 100, Available: false},
		{Name: "available", Provider: domain.ProviderAnthropic, BaseQuality: 10, Available: true},
	}

	best, found := s.Select(candidates)
	if !found {
		t.Fatal("expected a selection")
	}
	if best.Name != "available" {
		t.Errorf("expected the only available deployment %q, got %q", "available", best.Name)
	}
}

func TestQualityStrategyLearnsFromDispatchHistory(t *testing.T) {
	s := NewQualityStrategy()

	candidates := []Deployment{
		{Name: "a", Provider: domain.ProviderOpenAI, BaseQuality: 50, Available: true},
		{Name: "b", Provider: domain.ProviderAnthropic, BaseQuality: 50, Available: true},
	}

	for i := 0; i < 20; i++ {
		s.UpdateMetrics(domain.ProviderOpenAI, DispatchResult{Success: false})
		s.UpdateMetrics(domain.ProviderAnthropic, DispatchResult{Success: true})
	}

	best, found := s.Select(candidates)
	if !found {
		t.Fatal("expected a selection")
	}
	if best.Name != "b" {
		t.Errorf("expected %q to win after a run of successes, got %q", "b", best.Name)
	}
}

func TestQualityStrategyRequestTypeMultiplier(t *testing.T) {
	s := NewQualityStrategy()
	s.RequestTypeMultiplier = func(p domain.Provider, requestType string) float64 {
		if p == domain.ProviderAnthropic && requestType == "code" {
			return 1.0
		}
		return 0.0
	}

	candidates := []Deployment{
		{Name: "a", Provider: domain.ProviderOpenAI, BaseQuality: 50, Available: true},
		{Name: "b", Provider: domain.ProviderAnthropic, BaseQuality: 50, Available: true},
	}

	best, found := s.SelectForRequestType(candidates, "code")
	if !found {
		t.Fatal("expected a selection")
	}
	if best.Name != "b" {
		t.Errorf("expected %q to win the code-type multiplier, got %q", "b", best.Name)
	}
}
