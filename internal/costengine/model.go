// Package costengine computes charge and refund amounts for completed
// requests, dispatching on the per-model pricing model the way spec §4.5
// describes. All arithmetic runs in github.com/shopspring/decimal so that
// per-million-token rates never lose precision the way float64 would over
// long-running aggregate totals.
package costengine

import "github.com/shopspring/decimal"

// PricingModel tags which arithmetic ModelCostInfo.Rates must be
// interpreted with. It is a closed set; adding a new model means adding a
// new tag and a new branch in Calculate, never a type switch on an open
// interface.
type PricingModel string

const (
	PricingStandard           PricingModel = "standard"
	PricingPerVideo           PricingModel = "per_video"
	PricingPerSecondVideo     PricingModel = "per_second_video"
	PricingInferenceSteps     PricingModel = "inference_steps"
	PricingTieredTokens       PricingModel = "tiered_tokens"
	PricingPerImage           PricingModel = "per_image"
	PricingPerMinuteAudio     PricingModel = "per_minute_audio"
	PricingPerThousandChars   PricingModel = "per_thousand_characters"
)

// TokenRates holds the Standard and TieredTokens per-million-token rates.
type TokenRates struct {
	InputPerMillion        decimal.Decimal
	OutputPerMillion       decimal.Decimal
	EmbeddingPerMillion    decimal.Decimal
	CachedReadPerMillion   decimal.Decimal
	CachedWritePerMillion  decimal.Decimal
}

// Tier is one band of a TieredTokens schedule, selected by the smallest
// MaxContextTokens that still covers prompt+completion.
type Tier struct {
	MaxContextTokens int64
	Rates            TokenRates
}

// ImagePricing holds PerImage / Standard-addendum image rates.
type ImagePricing struct {
	PerImage              decimal.Decimal
	QualityMultipliers    map[string]decimal.Decimal // e.g. "hd" -> 1.5
	ResolutionMultipliers map[string]decimal.Decimal // e.g. "1792x1024" -> 1.5
}

// VideoPricing holds PerVideo / PerSecondVideo rates.
type VideoPricing struct {
	// RateTable is used by PricingPerVideo, keyed "{resolution}_{duration_rounded}".
	RateTable map[string]decimal.Decimal
	// PerSecond and ResolutionMultipliers are used by PricingPerSecondVideo
	// and by the Standard-path video addendum.
	PerSecond             decimal.Decimal
	ResolutionMultipliers map[string]decimal.Decimal
}

// ModelCostInfo is the per-logical-model pricing record the cost engine
// consumes. Exactly one of the embedded rate structs is meaningful,
// selected by PricingModel; the others are left zero.
type ModelCostInfo struct {
	ModelID      string
	Pricing      PricingModel
	Tokens       TokenRates
	Tiers        []Tier // sorted ascending by MaxContextTokens, for TieredTokens
	Image        ImagePricing
	Video        VideoPricing
	PerSearchUnitPer1000 decimal.Decimal
	PerInferenceStep     decimal.Decimal
	BatchSupported       bool
	BatchMultiplier       decimal.Decimal // e.g. 0.5 for a 50% batch discount
}
