package strategy

import "modelgate/internal/domain"

// LanguageStrategy combines a static provider/language-family affinity
// table with learned per-language success rates (EMA) and recent overall
// performance; higher score wins (spec §4.7).
type LanguageStrategy struct {
	metrics metricsRegistry

	// Affinity maps a provider to a per-language-family base affinity in
	// 0..1, operator-configured (e.g. a provider known strong in CJK).
	Affinity map[domain.Provider]map[string]float64

	// DefaultAffinity is used when a provider has no entry, or a
	// language has no entry for that provider.
	DefaultAffinity float64
}

// NewLanguageStrategy creates a language-affinity strategy with the given
// static affinity table (may be nil, in which case every lookup falls
// back to DefaultAffinity).
func NewLanguageStrategy(affinity map[domain.Provider]map[string]float64) *LanguageStrategy {
	return &LanguageStrategy{
		metrics:         newMetricsRegistry(50),
		Affinity:        affinity,
		DefaultAffinity: 0.5,
	}
}

func (s *LanguageStrategy) affinityFor(provider domain.Provider, language string) float64 {
	byLang, ok := s.Affinity[provider]
	if !ok {
		return s.DefaultAffinity
	}
	v, ok := byLang[language]
	if !ok {
		return s.DefaultAffinity
	}
	return v
}

// Select picks the best deployment with no language preference, scoring
// purely on affinity-table defaults and recent performance.
func (s *LanguageStrategy) Select(candidates []Deployment) (Deployment, bool) {
	return s.SelectForLanguage(candidates, "")
}

// SelectForLanguage is the language-aware entry point: affinity (0.4),
// learned per-language success EMA (0.4), and recent overall success
// rate (0.2).
func (s *LanguageStrategy) SelectForLanguage(candidates []Deployment, language string) (Deployment, bool) {
	var best Deployment
	bestScore := -1.0
	found := false

	for _, d := range candidates {
		if !d.Available {
			continue
		}
		score := s.score(d, language)
		if !found || score > bestScore {
			best, bestScore, found = d, score, true
		}
	}
	return best, found
}

func (s *LanguageStrategy) score(d Deployment, language string) float64 {
	affinity := s.affinityFor(d.Provider, language)

	pm := s.metrics.get(d.Provider)
	learned := s.DefaultAffinity
	if language != "" {
		pm.mu.Lock()
		if rate, ok := pm.languageSuccess[language]; ok && rate.count > 0 {
			learned = rate.rate
		}
		pm.mu.Unlock()
	}
	recent := pm.successRate()

	return 0.4*affinity + 0.4*learned + 0.2*recent
}

func (s *LanguageStrategy) UpdateMetrics(provider domain.Provider, result DispatchResult) {
	s.metrics.get(provider).record(result)
}
