package costengine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"modelgate/internal/domain"
)

var million = decimal.NewFromInt(1_000_000)
var thousand = decimal.NewFromInt(1_000)

// Breakdown is the structured charge/refund result spec §4.5 requires for
// refunds and that this engine also returns for charges, for symmetry and
// for the per-component cost metrics the telemetry package records.
type Breakdown struct {
	Input         decimal.Decimal
	Output        decimal.Decimal
	Embedding     decimal.Decimal
	Image         decimal.Decimal
	Video         decimal.Decimal
	SearchUnit    decimal.Decimal
	InferenceStep decimal.Decimal
}

// Total sums every component.
func (b Breakdown) Total() decimal.Decimal {
	return b.Input.Add(b.Output).Add(b.Embedding).Add(b.Image).Add(b.Video).Add(b.SearchUnit).Add(b.InferenceStep)
}

// Calculate computes the charge for a completed request. It never returns a
// negative total (spec §8.1): every component is built from non-negative
// inputs and non-negative rates.
func Calculate(usage domain.Usage, info ModelCostInfo) (Breakdown, error) {
	if err := domain.ValidateUsage(usage); err != nil {
		return Breakdown{}, err
	}

	var b Breakdown
	var err error

	switch info.Pricing {
	case PricingStandard, "":
		b, err = standardBreakdown(usage, info)
	case PricingPerVideo:
		b, err = perVideoBreakdown(usage, info)
	case PricingPerSecondVideo:
		b, err = perSecondVideoBreakdown(usage, info)
	case PricingInferenceSteps:
		b, err = inferenceStepsBreakdown(usage, info)
	case PricingTieredTokens:
		b, err = tieredTokensBreakdown(usage, info)
	case PricingPerImage:
		b, err = perImageBreakdown(usage, info)
	case PricingPerMinuteAudio, PricingPerThousandChars:
		// Both delegate to the Standard-path audio handling (spec §4.5):
		// per-minute and per-1k-character rates are encoded as the
		// Standard input/output rates and summed the same way.
		b, err = standardBreakdown(usage, info)
	default:
		return Breakdown{}, &domain.GatewayError{
			Kind:    domain.ErrConfiguration,
			Message: fmt.Sprintf("unknown pricing model %q for model %s", info.Pricing, info.ModelID),
		}
	}
	if err != nil {
		return Breakdown{}, err
	}

	b = addAddenda(b, usage, info)

	if usage.IsBatch && info.BatchSupported && !info.BatchMultiplier.IsZero() {
		b.Input = b.Input.Mul(info.BatchMultiplier)
		b.Output = b.Output.Mul(info.BatchMultiplier)
		b.Embedding = b.Embedding.Mul(info.BatchMultiplier)
		b.Image = b.Image.Mul(info.BatchMultiplier)
		b.Video = b.Video.Mul(info.BatchMultiplier)
		b.SearchUnit = b.SearchUnit.Mul(info.BatchMultiplier)
		b.InferenceStep = b.InferenceStep.Mul(info.BatchMultiplier)
	}

	return b, nil
}

func standardBreakdown(usage domain.Usage, info ModelCostInfo) (Breakdown, error) {
	prompt := decimal.NewFromInt(usage.PromptTokens)
	completion := decimal.NewFromInt(usage.CompletionTokens)
	cachedRead := decimal.NewFromInt(usage.CachedInputTokens)
	cachedWrite := decimal.NewFromInt(usage.CachedWriteTokens)

	if completion.IsZero() && !info.Tokens.EmbeddingPerMillion.IsZero() {
		// Embedding branch: no completion tokens, an embedding rate is defined.
		embeddingCost := prompt.Mul(info.Tokens.EmbeddingPerMillion).Div(million)
		return Breakdown{Embedding: embeddingCost}, nil
	}

	uncached := prompt.Sub(cachedRead).Sub(cachedWrite)
	if uncached.IsNegative() {
		uncached = decimal.Zero
	}

	input := uncached.Mul(info.Tokens.InputPerMillion).
		Add(cachedRead.Mul(info.Tokens.CachedReadPerMillion)).
		Add(cachedWrite.Mul(info.Tokens.CachedWritePerMillion)).
		Div(million)
	output := completion.Mul(info.Tokens.OutputPerMillion).Div(million)

	return Breakdown{Input: input, Output: output}, nil
}

func tieredTokensBreakdown(usage domain.Usage, info ModelCostInfo) (Breakdown, error) {
	if len(info.Tiers) == 0 {
		return Breakdown{}, &domain.GatewayError{
			Kind:    domain.ErrConfiguration,
			Message: fmt.Sprintf("no token tiers configured for model %s", info.ModelID),
		}
	}

	contextTokens := usage.PromptTokens + usage.CompletionTokens
	tier := info.Tiers[len(info.Tiers)-1] // default: highest tier
	for _, t := range info.Tiers {
		if contextTokens <= t.MaxContextTokens {
			tier = t
			break
		}
	}

	tierInfo := info
	tierInfo.Tokens = tier.Rates
	return standardBreakdown(usage, tierInfo)
}

func perVideoBreakdown(usage domain.Usage, info ModelCostInfo) (Breakdown, error) {
	if usage.VideoDurationSeconds == nil {
		return Breakdown{}, nil
	}
	key := fmt.Sprintf("%s_%d", usage.VideoResolution, int64(*usage.VideoDurationSeconds+0.5))
	rate, ok := info.Video.RateTable[key]
	if !ok {
		return Breakdown{}, &domain.GatewayError{
			Kind:    domain.ErrConfiguration,
			Message: fmt.Sprintf("no per-video rate configured for %q on model %s", key, info.ModelID),
		}
	}
	return Breakdown{Video: rate}, nil
}

func perSecondVideoBreakdown(usage domain.Usage, info ModelCostInfo) (Breakdown, error) {
	if usage.VideoDurationSeconds == nil {
		return Breakdown{}, nil
	}
	duration := decimal.NewFromFloat(*usage.VideoDurationSeconds)
	rate := duration.Mul(info.Video.PerSecond)
	if mult, ok := info.Video.ResolutionMultipliers[usage.VideoResolution]; ok {
		rate = rate.Mul(mult)
	}
	return Breakdown{Video: rate}, nil
}

func inferenceStepsBreakdown(usage domain.Usage, info ModelCostInfo) (Breakdown, error) {
	steps := int64(1)
	if usage.InferenceSteps != nil {
		steps = *usage.InferenceSteps
	}
	cost := decimal.NewFromInt(steps).Mul(info.PerInferenceStep)
	return Breakdown{InferenceStep: cost}, nil
}

func perImageBreakdown(usage domain.Usage, info ModelCostInfo) (Breakdown, error) {
	if usage.ImageCount == nil {
		return Breakdown{}, nil
	}
	cost := decimal.NewFromInt(*usage.ImageCount).Mul(info.Image.PerImage)
	if mult, ok := info.Image.QualityMultipliers[usage.ImageQuality]; ok {
		cost = cost.Mul(mult)
	}
	if mult, ok := info.Image.ResolutionMultipliers[usage.ImageResolution]; ok {
		cost = cost.Mul(mult)
	}
	return Breakdown{Image: cost}, nil
}

// addAddenda applies the image/video/search/inference-step addenda that
// layer on top of any pricing model per spec §4.5, skipping the ones
// already computed as the primary component (PerImage, PerVideo,
// PerSecondVideo, InferenceSteps own their respective fields outright).
func addAddenda(b Breakdown, usage domain.Usage, info ModelCostInfo) Breakdown {
	switch info.Pricing {
	case PricingPerImage, PricingPerVideo, PricingPerSecondVideo, PricingInferenceSteps:
		// already priced above; addenda below only apply to the remaining
		// usage dimensions that pricing model doesn't itself cover.
	default:
		if usage.ImageCount != nil && !info.Image.PerImage.IsZero() {
			img, _ := perImageBreakdown(usage, info)
			b.Image = b.Image.Add(img.Image)
		}
		if usage.VideoDurationSeconds != nil && !info.Video.PerSecond.IsZero() {
			vid, _ := perSecondVideoBreakdown(usage, info)
			b.Video = b.Video.Add(vid.Video)
		}
	}

	if usage.SearchUnits != nil && !info.PerSearchUnitPer1000.IsZero() {
		units := decimal.NewFromInt(*usage.SearchUnits)
		b.SearchUnit = b.SearchUnit.Add(units.Mul(info.PerSearchUnitPer1000).Div(thousand))
	}

	if info.Pricing != PricingInferenceSteps && usage.InferenceSteps != nil && !info.PerInferenceStep.IsZero() {
		steps := decimal.NewFromInt(*usage.InferenceSteps)
		b.InferenceStep = b.InferenceStep.Add(steps.Mul(info.PerInferenceStep))
	}

	return b
}
