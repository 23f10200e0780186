// Package provider implements LLM provider clients.
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

const openRouterAPIURL = "https://openrouter.ai/api/v1"

// OpenRouterClient proxies OpenAI's own wire format (OpenRouter is wire
// compatible with the OpenAI chat completions API) while attributing
// requests via OpenRouter's HTTP-Referer/X-Title headers, which affect
// rate limits and show up in the OpenRouter dashboard.
type OpenRouterClient struct {
	*OpenAIClient
}

// NewOpenRouterClient creates an OpenRouter client. referer and title are
// optional; when set they're sent as HTTP-Referer and X-Title on every
// request per OpenRouter's attribution convention.
func NewOpenRouterClient(apiKey, referer, title string, settings ...domain.ConnectionSettings) (*OpenRouterClient, error) {
	base, err := NewOpenAIClient(apiKey, openRouterAPIURL, settings...)
	if err != nil {
		return nil, fmt.Errorf("openrouter: %w", err)
	}

	base.httpClient = withHeaders(base.httpClient, map[string]string{
		"HTTP-Referer": referer,
		"X-Title":      title,
	})

	return &OpenRouterClient{OpenAIClient: base}, nil
}

// Provider returns the provider type.
func (c *OpenRouterClient) Provider() domain.Provider { return domain.ProviderOpenRouter }

// Capabilities overrides the embedded OpenAIClient's mask: OpenRouter
// proxies many upstream families, so it claims the common subset
// rather than OpenAI-specific features like realtime.
func (c *OpenRouterClient) Capabilities() domain.CapabilityMask {
	return domain.CapabilityMask(0).With(
		domain.CapChat,
		domain.CapTextGeneration,
		domain.CapVision,
		domain.CapFunctionCalling,
		domain.CapToolUsage,
		domain.CapJSONMode,
	)
}

// SupportsModel accepts any "org/model" qualified name, since OpenRouter
// proxies dozens of upstream model families under that convention rather
// than a fixed prefix list.
func (c *OpenRouterClient) SupportsModel(model string) bool {
	return strings.Contains(ExtractModelID(model), "/")
}

// VerifyAuth checks the configured API key against OpenRouter's account
// endpoint (implements domain.AuthVerifier).
func (c *OpenRouterClient) VerifyAuth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, openRouterAPIURL+"/auth/key", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.NewGatewayError(domain.ErrServiceUnavailable, 503, "openrouter auth check failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.NewGatewayError(domain.ClassifyHTTPStatus(resp.StatusCode), resp.StatusCode,
			fmt.Sprintf("openrouter auth check: %s", string(body)), nil)
	}
	return nil
}

// ListModels lists models exposed by OpenRouter, each already qualified
// with its upstream org prefix (e.g. "anthropic/claude-3.5-sonnet").
func (c *OpenRouterClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, openRouterAPIURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Context int    `json:"context_length"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	models := make([]domain.ModelInfo, 0, len(result.Data))
	for _, m := range result.Data {
		models = append(models, domain.ModelInfo{
			ID:           fmt.Sprintf("openrouter/%s", m.ID),
			Name:         m.Name,
			Provider:     domain.ProviderOpenRouter,
			ContextLimit: uint32(m.Context),
			Enabled:      true,
		})
	}
	return models, nil
}
