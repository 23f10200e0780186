// Package provider implements LLM provider clients.
package provider

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"modelgate/internal/domain"
)

const miniMaxAPIURL = "https://api.minimax.io/v1"

// MiniMaxClient speaks MiniMax's OpenAI-compatible chat completions API
// and additionally exposes MiniMax's T2A (text-to-audio) endpoint for
// speech synthesis (implements domain.AudioCapable).
type MiniMaxClient struct {
	*OpenAIClient
	groupID string
}

// NewMiniMaxClient creates a MiniMax client. groupID is MiniMax's account
// grouping identifier, required as a query parameter on the T2A endpoint.
func NewMiniMaxClient(apiKey, groupID string, settings ...domain.ConnectionSettings) (*MiniMaxClient, error) {
	base, err := NewOpenAIClient(apiKey, miniMaxAPIURL, settings...)
	if err != nil {
		return nil, fmt.Errorf("minimax: %w", err)
	}
	return &MiniMaxClient{OpenAIClient: base, groupID: groupID}, nil
}

// Provider returns the provider type.
func (c *MiniMaxClient) Provider() domain.Provider { return domain.ProviderMiniMax }

// Capabilities overrides the embedded OpenAIClient's mask to add
// MiniMax's T2A v2 speech synthesis.
func (c *MiniMaxClient) Capabilities() domain.CapabilityMask {
	return domain.CapabilityMask(0).With(
		domain.CapChat,
		domain.CapTextGeneration,
		domain.CapFunctionCalling,
		domain.CapToolUsage,
		domain.CapJSONMode,
		domain.CapTextToSpeech,
	)
}

// SupportsModel accepts MiniMax's abab/MiniMax-prefixed chat model names.
func (c *MiniMaxClient) SupportsModel(model string) bool {
	modelID := strings.ToLower(ExtractModelID(model))
	return strings.HasPrefix(modelID, "abab") || strings.HasPrefix(modelID, "minimax")
}

// TextToSpeech synthesizes audio via MiniMax's T2A v2 endpoint.
func (c *MiniMaxClient) TextToSpeech(ctx context.Context, req domain.TTSRequest) (*domain.TTSResult, error) {
	format := req.Format
	if format == "" {
		format = "mp3"
	}

	payload := map[string]any{
		"model": ExtractModelID(req.Model),
		"text":  req.Text,
		"voice_setting": map[string]any{
			"voice_id": req.Voice,
			"speed":    req.Speed,
		},
		"audio_setting": map[string]any{
			"format":      format,
			"sample_rate": req.SampleRateHz,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("minimax: marshal t2a request: %w", err)
	}

	url := fmt.Sprintf("%s/t2a_v2?GroupId=%s", miniMaxAPIURL, c.groupID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewGatewayError(domain.ErrServiceUnavailable, 503, "minimax t2a request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, domain.NewGatewayError(domain.ClassifyHTTPStatus(resp.StatusCode), resp.StatusCode,
			fmt.Sprintf("minimax t2a error: %s", string(errBody)), nil)
	}

	var result struct {
		Data struct {
			Audio string `json:"audio"` // hex-encoded audio payload
		} `json:"data"`
		ExtraInfo struct {
			AudioLength      float64 `json:"audio_length"`
			UsageCharacters int64    `json:"usage_characters"`
		} `json:"extra_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("minimax: decode t2a response: %w", err)
	}

	audio, err := hex.DecodeString(result.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("minimax: decode audio payload: %w", err)
	}

	return &domain.TTSResult{
		Audio:           audio,
		Format:          format,
		CharacterCount:  result.ExtraInfo.UsageCharacters,
		DurationSeconds: result.ExtraInfo.AudioLength / 1000,
	}, nil
}

// Transcribe is unsupported: MiniMax's public API does not currently
// expose a speech-to-text endpoint.
func (c *MiniMaxClient) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (*domain.TranscriptionResult, error) {
	return nil, domain.NewGatewayError(domain.ErrUnsupported, 400, "minimax: transcription is not supported", nil)
}

