// Package provider implements LLM provider clients.
//
// AWS SAGEMAKER IMPLEMENTATION NOTES:
//
// Unlike Bedrock, a SageMaker real-time inference endpoint has no shared
// request/response schema across models: each endpoint's container decides
// its own input/output contract. This client therefore only handles the
// transport (SigV4-signed InvokeEndpoint calls via the AWS SDK) and a
// pluggable codec that knows how to marshal a ChatRequest into that
// endpoint's expected payload and parse its response back out. The
// default codec assumes an OpenAI-chat-compatible container image, the
// most common shape for custom SageMaker LLM deployments.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"

	"modelgate/internal/domain"
)

// SageMakerCodec translates between the gateway's domain types and one
// endpoint's container-specific wire format.
type SageMakerCodec interface {
	EncodeRequest(req *domain.ChatRequest) ([]byte, error)
	DecodeResponse(model string, body []byte) (*domain.ChatResponse, error)
	ContentType() string
	Accept() string
}

// OpenAIChatCodec assumes the endpoint speaks an OpenAI-chat-compatible
// JSON contract, as produced by most Hugging Face TGI / vLLM SageMaker
// containers.
type OpenAIChatCodec struct{}

func (OpenAIChatCodec) ContentType() string { return "application/json" }
func (OpenAIChatCodec) Accept() string      { return "application/json" }

func (OpenAIChatCodec) EncodeRequest(req *domain.ChatRequest) ([]byte, error) {
	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, map[string]any{"role": msg.Role, "content": messageText(msg)})
	}
	if req.Prompt != "" {
		messages = append(messages, map[string]any{"role": "user", "content": req.Prompt})
	}

	payload := map[string]any{"messages": messages}
	if req.MaxTokens != nil {
		payload["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	return json.Marshal(payload)
}

func messageText(msg domain.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func (OpenAIChatCodec) DecodeResponse(model string, body []byte) (*domain.ChatResponse, error) {
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int32 `json:"prompt_tokens"`
			CompletionTokens int32 `json:"completion_tokens"`
			TotalTokens      int32 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode sagemaker response: %w", err)
	}

	resp := &domain.ChatResponse{
		Model:        model,
		FinishReason: domain.FinishReasonStop,
		Usage: &domain.UsageEvent{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}
	if len(result.Choices) > 0 {
		resp.Content = result.Choices[0].Message.Content
		if result.Choices[0].FinishReason == "length" {
			resp.FinishReason = domain.FinishReasonLength
		}
	}
	return resp, nil
}

// SageMakerConfig configures a single endpoint binding.
type SageMakerConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// EndpointsByModel maps a model ID the gateway sees to a deployed
	// SageMaker endpoint name, since model names don't map 1:1 to
	// endpoints the way they do for hosted providers.
	EndpointsByModel map[string]string
	// DefaultEndpoint is used for any model not found in EndpointsByModel,
	// for the common case of a tenant with exactly one deployed endpoint.
	DefaultEndpoint string
	Codec           SageMakerCodec
}

// SageMakerClient invokes SigV4-signed real-time inference endpoints.
type SageMakerClient struct {
	runtime         *sagemakerruntime.Client
	endpoints       map[string]string
	defaultEndpoint string
	codec           SageMakerCodec
}

// NewSageMakerClient creates a SageMaker client. Streaming isn't modeled
// as a true token stream here: InvokeEndpoint is a single request/response
// round trip, so ChatStream synthesizes a stream from the completed
// response the same way BedrockClient falls back to simulated streaming
// under Bearer-token auth.
func NewSageMakerClient(cfg SageMakerConfig) (*SageMakerClient, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("sagemaker: access key and secret key are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("sagemaker: load aws config: %w", err)
	}

	codec := cfg.Codec
	if codec == nil {
		codec = OpenAIChatCodec{}
	}

	endpoints := cfg.EndpointsByModel
	if endpoints == nil {
		endpoints = make(map[string]string)
	}

	return &SageMakerClient{
		runtime:         sagemakerruntime.NewFromConfig(awsCfg),
		endpoints:       endpoints,
		defaultEndpoint: cfg.DefaultEndpoint,
		codec:           codec,
	}, nil
}

func (c *SageMakerClient) endpointFor(model string) (string, error) {
	modelID := ExtractModelID(model)
	if endpoint, ok := c.endpoints[modelID]; ok {
		return endpoint, nil
	}
	if endpoint, ok := c.endpoints[model]; ok {
		return endpoint, nil
	}
	if c.defaultEndpoint != "" {
		return c.defaultEndpoint, nil
	}
	return "", domain.NewGatewayError(domain.ErrModelNotFound, 404,
		fmt.Sprintf("no sagemaker endpoint configured for model %q", model), nil)
}

func (c *SageMakerClient) Provider() domain.Provider { return domain.ProviderSageMaker }

// Capabilities reports a conservative baseline: SageMaker endpoints
// host arbitrary custom models, so no vision or tool use is assumed.
func (c *SageMakerClient) Capabilities() domain.CapabilityMask {
	return domain.CapabilityMask(0).With(
		domain.CapChat,
		domain.CapTextGeneration,
	)
}

func (c *SageMakerClient) SupportsModel(model string) bool {
	if c.defaultEndpoint != "" {
		return true
	}
	_, ok := c.endpoints[ExtractModelID(model)]
	if ok {
		return true
	}
	_, ok = c.endpoints[model]
	return ok
}

func (c *SageMakerClient) ChatComplete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	endpoint, err := c.endpointFor(req.Model)
	if err != nil {
		return nil, err
	}

	body, err := c.codec.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("sagemaker: encode request: %w", err)
	}

	contentType := c.codec.ContentType()
	accept := c.codec.Accept()
	out, err := c.runtime.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: &endpoint,
		ContentType:  &contentType,
		Accept:       &accept,
		Body:         body,
	})
	if err != nil {
		return nil, domain.NewGatewayError(domain.ErrServiceUnavailable, 503,
			fmt.Sprintf("sagemaker invoke failed: %v", err), err)
	}

	return c.codec.DecodeResponse(req.Model, out.Body)
}

func (c *SageMakerClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	eventChan := make(chan domain.StreamEvent, 4)

	go func() {
		defer close(eventChan)
		resp, err := c.ChatComplete(ctx, req)
		if err != nil {
			eventChan <- domain.FinishEvent{Reason: domain.FinishReasonError}
			return
		}
		if resp.Content != "" {
			eventChan <- domain.TextChunk{Content: resp.Content}
		}
		if resp.Usage != nil {
			eventChan <- *resp.Usage
		}
		eventChan <- domain.FinishEvent{Reason: resp.FinishReason}
	}()

	return eventChan, nil
}

func (c *SageMakerClient) Embed(ctx context.Context, model string, texts []string, dimensions *int32) ([][]float32, int64, error) {
	return nil, 0, domain.NewGatewayError(domain.ErrUnsupported, 400, "sagemaker: embeddings require a codec-specific implementation", nil)
}

func (c *SageMakerClient) CountTokens(ctx context.Context, req *domain.ChatRequest) (int32, error) {
	var totalChars int
	for _, msg := range req.Messages {
		totalChars += len(messageText(msg))
	}
	totalChars += len(req.Prompt) + len(req.SystemPrompt)
	return int32(totalChars / 4), nil
}

func (c *SageMakerClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	models := make([]domain.ModelInfo, 0, len(c.endpoints))
	for modelID, endpoint := range c.endpoints {
		models = append(models, domain.ModelInfo{
			ID:            fmt.Sprintf("sagemaker/%s", modelID),
			Name:          strings.TrimPrefix(modelID, "sagemaker/"),
			Provider:      domain.ProviderSageMaker,
			Enabled:       true,
			NativeModelID: endpoint,
		})
	}
	return models, nil
}
