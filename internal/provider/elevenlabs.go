// Package provider implements LLM provider clients.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"modelgate/internal/domain"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io/v1"

// ElevenLabsClient implements text-to-speech, speech-to-text, and a
// realtime conversational websocket session. It does not implement
// domain.LLMClient: ElevenLabs has no text chat completion API, so it's
// addressed through domain.AudioCapable and domain.RealtimeCapable
// instead of being registered in the chat-client roster.
type ElevenLabsClient struct {
	apiKey     string
	httpClient *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(apiKey string, settings ...domain.ConnectionSettings) (*ElevenLabsClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: API key is required")
	}
	connSettings := domain.DefaultConnectionSettings()
	if len(settings) > 0 {
		connSettings = settings[0]
	}
	return &ElevenLabsClient{
		apiKey:     apiKey,
		httpClient: BuildHTTPClient(connSettings),
	}, nil
}

func (c *ElevenLabsClient) Provider() domain.Provider { return domain.ProviderElevenLabs }

// Capabilities reports ElevenLabs' audio feature set: speech synthesis,
// transcription, and realtime voice, no text chat.
func (c *ElevenLabsClient) Capabilities() domain.CapabilityMask {
	return domain.CapabilityMask(0).With(
		domain.CapTextToSpeech,
		domain.CapTranscription,
		domain.CapRealtime,
	)
}

// VerifyAuth checks the configured API key against GET /user (implements
// domain.AuthVerifier).
func (c *ElevenLabsClient) VerifyAuth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, elevenLabsAPIURL+"/user", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.NewGatewayError(domain.ErrServiceUnavailable, 503, "elevenlabs auth check failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.NewGatewayError(domain.ClassifyHTTPStatus(resp.StatusCode), resp.StatusCode,
			fmt.Sprintf("elevenlabs auth check: %s", string(body)), nil)
	}
	return nil
}

// TextToSpeech synthesizes audio for a given voice via POST
// /text-to-speech/{voice_id}.
func (c *ElevenLabsClient) TextToSpeech(ctx context.Context, req domain.TTSRequest) (*domain.TTSResult, error) {
	if req.Voice == "" {
		return nil, domain.NewGatewayError(domain.ErrInvalidRequest, 400, "elevenlabs: voice is required", nil)
	}

	payload := map[string]any{
		"text":     req.Text,
		"model_id": ExtractModelID(req.Model),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal tts request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", elevenLabsAPIURL, req.Voice)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewGatewayError(domain.ErrServiceUnavailable, 503, "elevenlabs tts request failed", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read tts response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewGatewayError(domain.ClassifyHTTPStatus(resp.StatusCode), resp.StatusCode,
			fmt.Sprintf("elevenlabs tts error: %s", string(audio)), nil)
	}

	return &domain.TTSResult{
		Audio:          audio,
		Format:         "mp3",
		CharacterCount: int64(len(req.Text)),
	}, nil
}

// Transcribe sends audio to POST /speech-to-text using the scribe model.
func (c *ElevenLabsClient) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (*domain.TranscriptionResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	modelID := ExtractModelID(req.Model)
	if modelID == "" {
		modelID = "scribe_v1"
	}
	if err := writer.WriteField("model_id", modelID); err != nil {
		return nil, err
	}
	if req.Language != "" {
		if err := writer.WriteField("language_code", req.Language); err != nil {
			return nil, err
		}
	}

	part, err := writer.CreateFormFile("file", "audio")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, elevenLabsAPIURL+"/speech-to-text", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewGatewayError(domain.ErrServiceUnavailable, 503, "elevenlabs stt request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, domain.NewGatewayError(domain.ClassifyHTTPStatus(resp.StatusCode), resp.StatusCode,
			fmt.Sprintf("elevenlabs stt error: %s", string(body)), nil)
	}

	var result struct {
		LanguageCode string `json:"language_code"`
		Text         string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode stt response: %w", err)
	}

	return &domain.TranscriptionResult{Text: result.Text, Language: result.LanguageCode}, nil
}

// RealtimeConnect returns the ElevenLabs conversational-AI websocket
// endpoint for the configured agent (implements domain.RealtimeCapable).
func (c *ElevenLabsClient) RealtimeConnect(ctx context.Context, opts domain.RealtimeConnectOptions) (domain.RealtimeEndpoint, error) {
	if opts.Model == "" {
		return domain.RealtimeEndpoint{}, domain.NewGatewayError(domain.ErrInvalidRequest, 400,
			"elevenlabs: agent id (Model) is required for a realtime session", nil)
	}
	url := fmt.Sprintf("wss://api.elevenlabs.io/v1/convai/conversation?agent_id=%s", opts.Model)
	return domain.RealtimeEndpoint{
		URL:     url,
		Headers: map[string]string{"xi-api-key": c.apiKey},
	}, nil
}
