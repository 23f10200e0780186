package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"modelgate/internal/domain"
)

// RealtimeConnect implements domain.RealtimeCapable for OpenAI. OpenAI's
// realtime websocket requires the API key to mint a short-lived client
// secret first (POST /realtime/sessions); the secret, not the raw API
// key, goes on the websocket handshake.
func (c *OpenAIClient) RealtimeConnect(ctx context.Context, opts domain.RealtimeConnectOptions) (domain.RealtimeEndpoint, error) {
	model := opts.Model
	if model == "" {
		model = "gpt-4o-realtime-preview"
	}

	reqBody, err := json.Marshal(map[string]any{
		"model":        model,
		"voice":        opts.Voice,
		"instructions": opts.Instructions,
	})
	if err != nil {
		return domain.RealtimeEndpoint{}, fmt.Errorf("openai realtime: encode session request: %w", err)
	}

	url := c.baseURL + "/realtime/sessions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(reqBody)))
	if err != nil {
		return domain.RealtimeEndpoint{}, fmt.Errorf("openai realtime: build session request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.RealtimeEndpoint{}, domain.NewGatewayError(domain.ErrServiceUnavailable, 503,
			fmt.Sprintf("openai realtime: session request failed: %v", err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RealtimeEndpoint{}, fmt.Errorf("openai realtime: read session response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RealtimeEndpoint{}, domain.NewGatewayError(domain.ErrProviderProtocol, resp.StatusCode,
			fmt.Sprintf("openai realtime: session request returned %d: %s", resp.StatusCode, string(body)), nil)
	}

	var session struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return domain.RealtimeEndpoint{}, fmt.Errorf("openai realtime: decode session response: %w", err)
	}

	return domain.RealtimeEndpoint{
		URL:          "wss://api.openai.com/v1/realtime?model=" + model,
		Subprotocols: []string{"realtime", "openai-insecure-api-key." + session.ClientSecret.Value},
		Headers: map[string]string{
			"Authorization": "Bearer " + session.ClientSecret.Value,
			"OpenAI-Beta":   "realtime=v1",
		},
	}, nil
}
