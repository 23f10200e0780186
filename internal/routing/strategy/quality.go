package strategy

import "modelgate/internal/domain"

// QualityStrategy blends base quality (0.3), measured success rate (0.2),
// historical quality (0.2), a per-request-type multiplier (0.2), and a
// feature-richness bonus (0.1); higher wins (spec §4.7).
type QualityStrategy struct {
	metrics metricsRegistry

	// RequestTypeMultiplier maps a request type (e.g. "code", "creative")
	// to a 0..1 fit score for a given provider; looked up by provider+type.
	RequestTypeMultiplier func(provider domain.Provider, requestType string) float64
	// FeatureBonus scores a deployment's capability richness into 0..1,
	// e.g. proportional to the number of capability bits set.
	FeatureBonus func(d Deployment) float64
}

// NewQualityStrategy creates a quality strategy with sane default
// multiplier/bonus functions (flat 0.5 and a bit-count-based richness).
func NewQualityStrategy() *QualityStrategy {
	return &QualityStrategy{
		metrics:               newMetricsRegistry(50),
		RequestTypeMultiplier: func(domain.Provider, string) float64 { return 0.5 },
		FeatureBonus:          defaultFeatureBonus,
	}
}

func defaultFeatureBonus(d Deployment) float64 {
	count := 0
	for c := domain.Capability(1); c != 0; c <<= 1 {
		if d.Capabilities.Has(c) {
			count++
		}
		if c == domain.CapVideoGeneration {
			break
		}
	}
	const totalCapabilities = 12
	return float64(count) / totalCapabilities
}

func (s *QualityStrategy) Select(candidates []Deployment) (Deployment, bool) {
	var best Deployment
	bestScore := -1.0
	found := false

	for _, d := range candidates {
		if !d.Available {
			continue
		}
		score := s.score(d, "")
		if !found || score > bestScore {
			best, bestScore, found = d, score, true
		}
	}
	return best, found
}

// SelectForRequestType is the request-type-aware entry point; Select
// delegates to it with an empty type (a 0.5 neutral multiplier per the
// default RequestTypeMultiplier).
func (s *QualityStrategy) SelectForRequestType(candidates []Deployment, requestType string) (Deployment, bool) {
	var best Deployment
	bestScore := -1.0
	found := false

	for _, d := range candidates {
		if !d.Available {
			continue
		}
		score := s.score(d, requestType)
		if !found || score > bestScore {
			best, bestScore, found = d, score, true
		}
	}
	return best, found
}

func (s *QualityStrategy) score(d Deployment, requestType string) float64 {
	pm := s.metrics.get(d.Provider)
	successRate := pm.successRate()
	pm.mu.Lock()
	historicalQuality := pm.qualityHistory
	pm.mu.Unlock()

	typeMultiplier := 0.5
	if s.RequestTypeMultiplier != nil {
		typeMultiplier = s.RequestTypeMultiplier(d.Provider, requestType)
	}
	featureBonus := 0.0
	if s.FeatureBonus != nil {
		featureBonus = s.FeatureBonus(d)
	}

	return 0.3*(d.BaseQuality/100) +
		0.2*successRate +
		0.2*historicalQuality +
		0.2*typeMultiplier +
		0.1*featureBonus
}

func (s *QualityStrategy) UpdateMetrics(provider domain.Provider, result DispatchResult) {
	pm := s.metrics.get(provider)
	pm.record(result)

	quality := 0.0
	if result.Success {
		quality = 1.0
	}
	pm.mu.Lock()
	pm.qualityHistory = emaAlpha*quality + (1-emaAlpha)*pm.qualityHistory
	pm.mu.Unlock()
}
