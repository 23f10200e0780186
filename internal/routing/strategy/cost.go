package strategy

import "modelgate/internal/domain"

// CostStrategy scores candidates by effective cost = base * 1/success-rate
// (capped for a zero success rate), then quality-adjusts by 2 -
// quality/100; the lowest quality-adjusted cost wins, subject to a
// minimum quality threshold (spec §4.7).
type CostStrategy struct {
	metrics        metricsRegistry
	minQuality     float64
	maxPenaltyMult float64
}

// NewCostStrategy creates a cost strategy. minQuality filters out any
// candidate whose BaseQuality falls below it; maxPenaltyMult caps the
// 1/success-rate penalty so a brand-new provider with zero recorded
// successes isn't scored as infinitely expensive.
func NewCostStrategy(minQuality, maxPenaltyMult float64) *CostStrategy {
	if maxPenaltyMult <= 0 {
		maxPenaltyMult = 10
	}
	return &CostStrategy{metrics: newMetricsRegistry(50), minQuality: minQuality, maxPenaltyMult: maxPenaltyMult}
}

func (s *CostStrategy) Select(candidates []Deployment) (Deployment, bool) {
	var best Deployment
	bestCost := -1.0
	found := false

	for _, d := range candidates {
		if !d.Available || d.BaseQuality < s.minQuality {
			continue
		}
		cost := s.qualityAdjustedCost(d)
		if !found || cost < bestCost {
			best, bestCost, found = d, cost, true
		}
	}
	return best, found
}

func (s *CostStrategy) qualityAdjustedCost(d Deployment) float64 {
	successRate := s.metrics.get(d.Provider).successRate()

	penalty := s.maxPenaltyMult
	if successRate > 0 {
		inv := 1 / successRate
		if inv < s.maxPenaltyMult {
			penalty = inv
		}
	}

	effective := d.CostPerUnit * penalty
	return effective * (2 - d.BaseQuality/100)
}

func (s *CostStrategy) UpdateMetrics(provider domain.Provider, result DispatchResult) {
	s.metrics.get(provider).record(result)
}
