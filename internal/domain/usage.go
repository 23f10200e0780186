package domain

// Usage is the full accounting record the cost engine consumes, a superset
// of the streaming UsageEvent above. Every field is optional; a zero value
// and an absent value are distinguished with pointers where "present vs.
// not tracked" changes the cost formula (image count, video duration,
// inference steps, search units).
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CachedInputTokens int64
	CachedWriteTokens int64

	ImageCount      *int64
	ImageQuality    string // "standard", "hd"
	ImageResolution string // "1024x1024", etc.

	VideoDurationSeconds *float64
	VideoResolution      string

	InferenceSteps *int64

	SearchUnits         *int64
	SearchMetadata      *SearchMetadata

	AudioSeconds        *float64
	AudioCharacterCount *int64

	IsBatch bool
}

// SearchMetadata tracks document counts for search-augmented usage, used by
// the chunked/document invariant in spec §8.4.
type SearchMetadata struct {
	DocumentCount        int64
	ChunkedDocumentCount int64
}

// UsageValidationError carries every invariant violation found by
// ValidateUsage, matching spec's "fatal to that operation with a list of
// messages" behavior for ValidationError.
type UsageValidationError struct {
	Messages []string
}

func (e *UsageValidationError) Error() string {
	if len(e.Messages) == 0 {
		return "usage validation failed"
	}
	msg := e.Messages[0]
	for _, m := range e.Messages[1:] {
		msg += "; " + m
	}
	return msg
}

// ValidateUsage enforces the invariants from spec §3/§8.4:
//   - total = prompt + completion when all three are present (non-zero)
//   - cached-input + cached-write <= prompt
//   - all counts >= 0
//   - inference-steps in [1, 1000] when present
//   - image-count, video-duration, search-units > 0 when present
//   - search-metadata document count >= chunked-document count
func ValidateUsage(u Usage) error {
	var messages []string

	if u.PromptTokens < 0 {
		messages = append(messages, "prompt tokens must be >= 0")
	}
	if u.CompletionTokens < 0 {
		messages = append(messages, "completion tokens must be >= 0")
	}
	if u.TotalTokens < 0 {
		messages = append(messages, "total tokens must be >= 0")
	}
	if u.CachedInputTokens < 0 {
		messages = append(messages, "cached input tokens must be >= 0")
	}
	if u.CachedWriteTokens < 0 {
		messages = append(messages, "cached write tokens must be >= 0")
	}

	if u.PromptTokens > 0 && u.CompletionTokens > 0 && u.TotalTokens > 0 {
		if u.TotalTokens != u.PromptTokens+u.CompletionTokens {
			messages = append(messages, "total tokens must equal prompt + completion tokens")
		}
	}

	if u.CachedInputTokens+u.CachedWriteTokens > u.PromptTokens {
		messages = append(messages, "cached input + cached write tokens must not exceed prompt tokens")
	}

	if u.ImageCount != nil {
		if *u.ImageCount <= 0 {
			messages = append(messages, "image count must be > 0 when present")
		}
	}
	if u.VideoDurationSeconds != nil {
		if *u.VideoDurationSeconds <= 0 {
			messages = append(messages, "video duration must be > 0 when present")
		}
	}
	if u.InferenceSteps != nil {
		if *u.InferenceSteps < 1 || *u.InferenceSteps > 1000 {
			messages = append(messages, "inference steps must be in [1, 1000]")
		}
	}
	if u.SearchUnits != nil {
		if *u.SearchUnits <= 0 {
			messages = append(messages, "search units must be > 0 when present")
		}
	}
	if u.SearchMetadata != nil {
		if u.SearchMetadata.ChunkedDocumentCount > u.SearchMetadata.DocumentCount {
			messages = append(messages, "chunked document count must not exceed document count")
		}
	}

	if len(messages) > 0 {
		return &UsageValidationError{Messages: messages}
	}
	return nil
}
