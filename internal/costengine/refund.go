package costengine

import (
	"fmt"

	"modelgate/internal/domain"
)

// RefundResult mirrors a charge computation run against a refund Usage
// record. IsPartial is set when any refund field exceeded the original,
// per spec §4.5/§8.2 — in that case ValidationMessages is non-empty and
// every exceeded field is clamped to the original before the breakdown is
// computed, so a partial refund never refunds more than was charged.
type RefundResult struct {
	Breakdown         Breakdown
	IsPartial         bool
	ValidationMessages []string
}

// Refund computes a refund breakdown for refundUsage against the original
// charge's usage and pricing. Every refund field is checked against its
// original counterpart; values are clamped rather than rejected so a
// partial refund still returns a usable (smaller) amount.
func Refund(original, refundUsage domain.Usage, info ModelCostInfo) (RefundResult, error) {
	var messages []string
	clamped := refundUsage

	if clamped.PromptTokens < 0 {
		messages = append(messages, fmt.Sprintf("Refund prompt tokens (%d) cannot be negative", clamped.PromptTokens))
		clamped.PromptTokens = 0
	}
	if clamped.PromptTokens > original.PromptTokens {
		messages = append(messages, fmt.Sprintf("Refund prompt tokens (%d) cannot exceed original (%d)", clamped.PromptTokens, original.PromptTokens))
		clamped.PromptTokens = original.PromptTokens
	}
	if clamped.CompletionTokens < 0 {
		messages = append(messages, fmt.Sprintf("Refund completion tokens (%d) cannot be negative", clamped.CompletionTokens))
		clamped.CompletionTokens = 0
	}
	if clamped.CompletionTokens > original.CompletionTokens {
		messages = append(messages, fmt.Sprintf("Refund completion tokens (%d) cannot exceed original (%d)", clamped.CompletionTokens, original.CompletionTokens))
		clamped.CompletionTokens = original.CompletionTokens
	}
	if clamped.CachedInputTokens > original.CachedInputTokens {
		messages = append(messages, fmt.Sprintf("Refund cached input tokens (%d) cannot exceed original (%d)", clamped.CachedInputTokens, original.CachedInputTokens))
		clamped.CachedInputTokens = original.CachedInputTokens
	}
	if clamped.CachedWriteTokens > original.CachedWriteTokens {
		messages = append(messages, fmt.Sprintf("Refund cached write tokens (%d) cannot exceed original (%d)", clamped.CachedWriteTokens, original.CachedWriteTokens))
		clamped.CachedWriteTokens = original.CachedWriteTokens
	}
	if clamped.ImageCount != nil && original.ImageCount != nil && *clamped.ImageCount > *original.ImageCount {
		messages = append(messages, fmt.Sprintf("Refund image count (%d) cannot exceed original (%d)", *clamped.ImageCount, *original.ImageCount))
		v := *original.ImageCount
		clamped.ImageCount = &v
	}
	if clamped.VideoDurationSeconds != nil && original.VideoDurationSeconds != nil && *clamped.VideoDurationSeconds > *original.VideoDurationSeconds {
		messages = append(messages, fmt.Sprintf("Refund video duration (%.2f) cannot exceed original (%.2f)", *clamped.VideoDurationSeconds, *original.VideoDurationSeconds))
		v := *original.VideoDurationSeconds
		clamped.VideoDurationSeconds = &v
	}
	if clamped.SearchUnits != nil && original.SearchUnits != nil && *clamped.SearchUnits > *original.SearchUnits {
		messages = append(messages, fmt.Sprintf("Refund search units (%d) cannot exceed original (%d)", *clamped.SearchUnits, *original.SearchUnits))
		v := *original.SearchUnits
		clamped.SearchUnits = &v
	}
	if clamped.InferenceSteps != nil && original.InferenceSteps != nil && *clamped.InferenceSteps > *original.InferenceSteps {
		messages = append(messages, fmt.Sprintf("Refund inference steps (%d) cannot exceed original (%d)", *clamped.InferenceSteps, *original.InferenceSteps))
		v := *original.InferenceSteps
		clamped.InferenceSteps = &v
	}

	// TotalTokens is recomputed rather than validated directly, avoiding a
	// spurious "total mismatch" failure from ValidateUsage inside Calculate.
	clamped.TotalTokens = clamped.PromptTokens + clamped.CompletionTokens

	breakdown, err := Calculate(clamped, info)
	if err != nil {
		return RefundResult{}, err
	}

	return RefundResult{
		Breakdown:          breakdown,
		IsPartial:          len(messages) > 0,
		ValidationMessages: messages,
	}, nil
}
