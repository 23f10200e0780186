package strategy

import "modelgate/internal/domain"

// LatencyStrategy scores candidates by a weighted blend of current rolling
// average and historical average latency (30/70), minus a load penalty (up
// to 100) and a failure-rate penalty (up to 200) — spec §4.7's
// latency-based strategy. Lowest score wins.
type LatencyStrategy struct {
	metrics metricsRegistry
}

// NewLatencyStrategy creates a latency strategy with a bounded rolling
// latency history of historySize samples per provider.
func NewLatencyStrategy(historySize int) *LatencyStrategy {
	return &LatencyStrategy{metrics: newMetricsRegistry(historySize)}
}

func (s *LatencyStrategy) SetLoad(provider domain.Provider, load float64) {
	s.metrics.SetLoad(provider, load)
}

func (s *LatencyStrategy) Select(candidates []Deployment) (Deployment, bool) {
	var best Deployment
	bestScore := -1.0
	found := false

	for _, d := range candidates {
		if !d.Available {
			continue
		}
		score := s.score(d)
		if !found || score < bestScore {
			best, bestScore, found = d, score, true
		}
	}
	return best, found
}

func (s *LatencyStrategy) score(d Deployment) float64 {
	pm := s.metrics.get(d.Provider)
	pm.mu.Lock()
	current, historical, load := pm.avgLatencyMs, pm.historicalAvgMs, pm.load
	pm.mu.Unlock()

	blended := 0.3*current + 0.7*historical
	loadPenalty := load * 100
	failureRate := 1 - s.metrics.get(d.Provider).successRate()
	failurePenalty := failureRate * 200

	return blended + loadPenalty + failurePenalty
}

func (s *LatencyStrategy) UpdateMetrics(provider domain.Provider, result DispatchResult) {
	s.metrics.get(provider).record(result)
}
