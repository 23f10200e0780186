package costengine

import (
	"testing"

	"github.com/shopspring/decimal"

	"modelgate/internal/domain"
)

func decFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestCalculateStandard(t *testing.T) {
	info := ModelCostInfo{
		ModelID: "gpt-test",
		Pricing: PricingStandard,
		Tokens: TokenRates{
			InputPerMillion:  decFromFloat(3),
			OutputPerMillion: decFromFloat(15),
		},
	}

	usage := domain.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}

	b, err := Calculate(usage, info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decFromFloat(1000.0*3/1e6 + 500.0*15/1e6)
	if !b.Total().Equal(want) {
		t.Errorf("expected total %s, got %s", want, b.Total())
	}
}

func TestCalculateCachedRead(t *testing.T) {
	info := ModelCostInfo{
		ModelID: "gpt-test",
		Pricing: PricingStandard,
		Tokens: TokenRates{
			InputPerMillion:      decFromFloat(3),
			OutputPerMillion:     decFromFloat(15),
			CachedReadPerMillion: decFromFloat(0.30),
		},
	}

	usage := domain.Usage{
		PromptTokens:      1000,
		CachedInputTokens: 400,
		CompletionTokens:  500,
		TotalTokens:       1500,
	}

	b, err := Calculate(usage, info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decFromFloat(600.0*3/1e6 + 400.0*0.30/1e6 + 500.0*15/1e6)
	if !b.Total().Equal(want) {
		t.Errorf("expected total %s, got %s", want, b.Total())
	}
}

func TestCalculateTieredTokens(t *testing.T) {
	info := ModelCostInfo{
		ModelID: "tiered-model",
		Pricing: PricingTieredTokens,
		Tiers: []Tier{
			{MaxContextTokens: 8000, Rates: TokenRates{InputPerMillion: decFromFloat(1), OutputPerMillion: decFromFloat(2)}},
			{MaxContextTokens: 32000, Rates: TokenRates{InputPerMillion: decFromFloat(2), OutputPerMillion: decFromFloat(4)}},
		},
	}

	usage := domain.Usage{PromptTokens: 20000, CompletionTokens: 1000, TotalTokens: 21000}

	b, err := Calculate(usage, info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decFromFloat(20000.0*2/1e6 + 1000.0*4/1e6)
	if !b.Total().Equal(want) {
		t.Errorf("expected total %s (second tier), got %s", want, b.Total())
	}
}

func TestCalculateTieredTokensNoTiersConfigured(t *testing.T) {
	info := ModelCostInfo{ModelID: "broken", Pricing: PricingTieredTokens}
	usage := domain.Usage{PromptTokens: 100, CompletionTokens: 10, TotalTokens: 110}

	if _, err := Calculate(usage, info); err == nil {
		t.Fatal("expected an error when no tiers are configured")
	}
}

func TestCalculatePerImageWithQualityMultiplier(t *testing.T) {
	count := int64(2)
	info := ModelCostInfo{
		ModelID: "image-model",
		Pricing: PricingPerImage,
		Image: ImagePricing{
			PerImage:           decFromFloat(0.04),
			QualityMultipliers: map[string]decimal.Decimal{"hd": decFromFloat(1.5)},
		},
	}
	usage := domain.Usage{ImageCount: &count, ImageQuality: "hd"}

	b, err := Calculate(usage, info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decFromFloat(2 * 0.04 * 1.5)
	if !b.Image.Equal(want) {
		t.Errorf("expected image cost %s, got %s", want, b.Image)
	}
}

func TestCalculateBatchDiscount(t *testing.T) {
	info := ModelCostInfo{
		ModelID: "batch-model",
		Pricing: PricingStandard,
		Tokens: TokenRates{
			InputPerMillion:  decFromFloat(10),
			OutputPerMillion: decFromFloat(30),
		},
		BatchSupported:  true,
		BatchMultiplier: decFromFloat(0.5),
	}

	usage := domain.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000, IsBatch: true}

	b, err := Calculate(usage, info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	full := decFromFloat(1000.0*10/1e6 + 1000.0*30/1e6)
	want := full.Mul(decFromFloat(0.5))
	if !b.Total().Equal(want) {
		t.Errorf("expected discounted total %s, got %s", want, b.Total())
	}
}

func TestCalculateNeverNegative(t *testing.T) {
	info := ModelCostInfo{
		ModelID: "model",
		Pricing: PricingStandard,
		Tokens:  TokenRates{InputPerMillion: decFromFloat(3), OutputPerMillion: decFromFloat(15)},
	}
	usage := domain.Usage{PromptTokens: 0, CompletionTokens: 0, TotalTokens: 0}

	b, err := Calculate(usage, info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Total().IsNegative() {
		t.Errorf("expected non-negative total, got %s", b.Total())
	}
}

func TestRefundClampsToOriginal(t *testing.T) {
	info := ModelCostInfo{
		ModelID: "model",
		Pricing: PricingStandard,
		Tokens:  TokenRates{InputPerMillion: decFromFloat(3), OutputPerMillion: decFromFloat(15)},
	}
	original := domain.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}
	refundUsage := domain.Usage{PromptTokens: 2000, CompletionTokens: 500}

	result, err := Refund(original, refundUsage, info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsPartial {
		t.Error("expected a partial refund when prompt tokens exceed the original")
	}
	if len(result.ValidationMessages) == 0 {
		t.Error("expected a validation message explaining the clamp")
	}

	want := decFromFloat(1000.0*3/1e6 + 500.0*15/1e6)
	if !result.Breakdown.Total().Equal(want) {
		t.Errorf("expected clamped refund total %s, got %s", want, result.Breakdown.Total())
	}
}

func TestRefundExact(t *testing.T) {
	info := ModelCostInfo{
		ModelID: "model",
		Pricing: PricingStandard,
		Tokens:  TokenRates{InputPerMillion: decFromFloat(3), OutputPerMillion: decFromFloat(15)},
	}
	original := domain.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}

	result, err := Refund(original, original, info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsPartial {
		t.Error("expected a full refund, not partial")
	}
}
