// Package strategy implements the four routing strategies named in spec
// §4.7 (latency, cost, quality, language), each scoring a pool of
// candidate deployments against live metrics fed back by UpdateMetrics.
package strategy

import (
	"sync"

	"modelgate/internal/domain"
)

// Deployment is one candidate a Strategy may select, pre-filtered by the
// router for capability (streaming, voice/language/format support) before
// reaching Select.
type Deployment struct {
	Name         string
	Provider     domain.Provider
	Model        string
	Capabilities domain.CapabilityMask
	CostPerUnit  float64 // e.g. USD per 1K tokens, strategy-interpreted
	BaseQuality  float64 // 0-100, operator-configured baseline
	Available    bool
}

// DispatchResult is what UpdateMetrics learns about after each dispatch.
type DispatchResult struct {
	Success    bool
	LatencyMs  float64
	UsageSize  int64 // tokens or other usage-size proxy
	Language   string
	Cost       float64
	RequestType string // used by QualityStrategy's per-type multiplier
}

// Strategy selects the best deployment for a request from a pre-filtered
// candidate pool, and learns from the outcome of every dispatch.
type Strategy interface {
	Select(candidates []Deployment) (Deployment, bool)
	UpdateMetrics(provider domain.Provider, result DispatchResult)
}

// providerMetrics is the live feedback state every strategy below reads
// and writes, guarded by its own mutex so strategies can be queried
// concurrently with dispatch completions updating them.
type providerMetrics struct {
	mu sync.Mutex

	avgLatencyMs    float64
	historicalAvgMs float64
	successCount    int64
	failureCount    int64
	load            float64 // 0..1, set externally via SetLoad
	latencyHistory  []float64
	maxHistory      int
	costPerUnit     float64
	qualityHistory  float64 // EMA of a derived quality signal
	languageSuccess map[string]*emaRate
}

func newProviderMetrics(maxHistory int) *providerMetrics {
	return &providerMetrics{maxHistory: maxHistory, languageSuccess: make(map[string]*emaRate)}
}

type emaRate struct {
	rate  float64
	count int64
}

const emaAlpha = 0.2

func (e *emaRate) update(success bool) {
	v := 0.0
	if success {
		v = 1.0
	}
	if e.count == 0 {
		e.rate = v
	} else {
		e.rate = emaAlpha*v + (1-emaAlpha)*e.rate
	}
	e.count++
}

func (pm *providerMetrics) record(result DispatchResult) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.historicalAvgMs = emaAlpha*result.LatencyMs + (1-emaAlpha)*pm.historicalAvgMs
	pm.latencyHistory = append(pm.latencyHistory, result.LatencyMs)
	if len(pm.latencyHistory) > pm.maxHistory {
		pm.latencyHistory = pm.latencyHistory[len(pm.latencyHistory)-pm.maxHistory:]
	}
	var sum float64
	for _, v := range pm.latencyHistory {
		sum += v
	}
	pm.avgLatencyMs = sum / float64(len(pm.latencyHistory))

	if result.Success {
		pm.successCount++
	} else {
		pm.failureCount++
	}

	if result.Cost > 0 {
		pm.costPerUnit = result.Cost
	}

	if result.Language != "" {
		lang, ok := pm.languageSuccess[result.Language]
		if !ok {
			lang = &emaRate{}
			pm.languageSuccess[result.Language] = lang
		}
		lang.update(result.Success)
	}
}

func (pm *providerMetrics) successRate() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	total := pm.successCount + pm.failureCount
	if total == 0 {
		return 1.0
	}
	return float64(pm.successCount) / float64(total)
}

// metricsRegistry is embedded by each strategy to avoid repeating the
// per-provider bookkeeping map + mutex four times.
type metricsRegistry struct {
	mu         sync.Mutex
	byProvider map[domain.Provider]*providerMetrics
	maxHistory int
}

func newMetricsRegistry(maxHistory int) metricsRegistry {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return metricsRegistry{byProvider: make(map[domain.Provider]*providerMetrics), maxHistory: maxHistory}
}

func (r *metricsRegistry) get(provider domain.Provider) *providerMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	pm, ok := r.byProvider[provider]
	if !ok {
		pm = newProviderMetrics(r.maxHistory)
		r.byProvider[provider] = pm
	}
	return pm
}

// SetLoad lets an external load sampler (e.g. in-flight request gauge)
// feed current load into the latency strategy's penalty term.
func (r *metricsRegistry) SetLoad(provider domain.Provider, load float64) {
	pm := r.get(provider)
	pm.mu.Lock()
	pm.load = load
	pm.mu.Unlock()
}
