package routing

import (
	"context"
	"testing"

	"modelgate/internal/domain"
	"modelgate/internal/routing/strategy"
)

type fixedConfigSource struct {
	providers []string
	models    map[string][]string
}

func (f *fixedConfigSource) GetAvailableProviders(ctx context.Context, tenantID string) ([]string, error) {
	return f.providers, nil
}

func (f *fixedConfigSource) GetProviderModels(ctx context.Context, tenantID, provider string) ([]string, error) {
	return f.models[provider], nil
}

func newTestRouterWithSource(source ProviderConfigSource) *Router {
	r := NewRouterWithConfig(nil, source)
	return r
}

func TestRouteByQualitySelectsHigherBaseQualityCandidate(t *testing.T) {
	source := &fixedConfigSource{
		providers: []string{"openai", "anthropic"},
		models: map[string][]string{
			"openai":    {"gpt-4o"},
			"anthropic": {"claude-sonnet-4-20250514"},
		},
	}
	r := newTestRouterWithSource(source)

	// Bias the quality strategy so anthropic always scores higher,
	// without depending on a live health tracker.
	r.qualityStrategy.FeatureBonus = func(d strategy.Deployment) float64 {
		if d.Provider == domain.ProviderAnthropic {
			return 1.0
		}
		return 0.0
	}

	provider, model, err := r.Route(context.Background(), &domain.ChatRequest{}, domain.RoutingPolicy{
		Strategy:      domain.RoutingStrategyQuality,
		QualityConfig: &domain.QualityRoutingConfig{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "anthropic" || model != "claude-sonnet-4-20250514" {
		t.Errorf("expected anthropic/claude-sonnet-4-20250514, got %s/%s", provider, model)
	}
}

func TestRouteByQualityRejectsBelowMinQuality(t *testing.T) {
	source := &fixedConfigSource{
		providers: []string{"openai"},
		models:    map[string][]string{"openai": {"gpt-4o"}},
	}
	r := newTestRouterWithSource(source)

	_, _, err := r.Route(context.Background(), &domain.ChatRequest{}, domain.RoutingPolicy{
		Strategy: domain.RoutingStrategyQuality,
		QualityConfig: &domain.QualityRoutingConfig{
			MinQuality: 0.99,
		},
	})
	if err == nil {
		t.Fatal("expected an error when no candidate meets the quality floor")
	}
}

func TestRouteByQualityRequiresConfig(t *testing.T) {
	r := newTestRouterWithSource(&fixedConfigSource{})
	_, _, err := r.Route(context.Background(), &domain.ChatRequest{}, domain.RoutingPolicy{
		Strategy: domain.RoutingStrategyQuality,
	})
	if err == nil {
		t.Fatal("expected an error when quality config is nil")
	}
}

func TestRouteByLanguagePrefersAffinityOverride(t *testing.T) {
	source := &fixedConfigSource{
		providers: []string{"openai", "anthropic"},
		models: map[string][]string{
			"openai":    {"gpt-4o"},
			"anthropic": {"claude-sonnet-4-20250514"},
		},
	}
	r := newTestRouterWithSource(source)

	provider, _, err := r.Route(context.Background(), &domain.ChatRequest{}, domain.RoutingPolicy{
		Strategy: domain.RoutingStrategyLanguage,
		LanguageConfig: &domain.LanguageRoutingConfig{
			Language: "ja",
			Affinity: map[string]map[string]float64{
				"anthropic": {"ja": 1.0},
				"openai":    {"ja": 0.0},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "anthropic" {
		t.Errorf("expected anthropic to win on language affinity, got %s", provider)
	}
}

func TestRouteByLanguageRequiresConfig(t *testing.T) {
	r := newTestRouterWithSource(&fixedConfigSource{})
	_, _, err := r.Route(context.Background(), &domain.ChatRequest{}, domain.RoutingPolicy{
		Strategy: domain.RoutingStrategyLanguage,
	})
	if err == nil {
		t.Fatal("expected an error when language config is nil")
	}
}

func TestRouterRecordOutcomeFeedsBothStrategies(t *testing.T) {
	r := newTestRouterWithSource(&fixedConfigSource{
		providers: []string{"openai"},
		models:    map[string][]string{"openai": {"gpt-4o"}},
	})

	for i := 0; i < 10; i++ {
		r.RecordOutcome(domain.ProviderOpenAI, strategy.DispatchResult{
			Success:   true,
			LatencyMs: 120,
			Language:  "en",
		})
	}

	candidates := []strategy.Deployment{
		{Name: "openai/gpt-4o", Provider: domain.ProviderOpenAI, Available: true, BaseQuality: 50},
	}
	best, found := r.qualityStrategy.Select(candidates)
	if !found || best.Name != "openai/gpt-4o" {
		t.Fatalf("expected quality strategy to have learned about openai, got %+v found=%v", best, found)
	}
}
