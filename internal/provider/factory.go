package provider

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"modelgate/internal/cache/embedding"
	"modelgate/internal/cache/semantic"
	"modelgate/internal/domain"
	"modelgate/internal/resilience"
	"modelgate/internal/telemetry"
)

// ChainConfig configures the decorator chain built by BuildClient. Any
// zero-value sub-config disables that layer, so callers can opt out of a
// stage (e.g. no cache for an embeddings-only tenant) without a branch at
// every call site.
type ChainConfig struct {
	Timeout time.Duration

	Retry        resilience.ClassifiedRetryConfig
	ErrorTracker resilience.ErrorTracker
	KeyID        int64
	ProviderID   int64

	Cache         semantic.CacheService
	CachingPolicy domain.CachingPolicy
	RoleID        string // cache isolation key

	Metrics *telemetry.Metrics

	TenantID string
}

// BuildClient wraps base in the decorator chain spec §4.3 requires, from
// the inside out: timeout, then retry-with-error-tracking, then response
// cache, then performance metrics, then context binding as the outermost
// layer so every call arriving at base already carries the bound
// tenant/role context.
func BuildClient(base domain.LLMClient, cfg ChainConfig) domain.LLMClient {
	client := base

	if cfg.Timeout > 0 {
		client = &timeoutClient{inner: client, timeout: cfg.Timeout}
	}

	if cfg.Retry.MaxRetries > 0 {
		tracker := cfg.ErrorTracker
		if tracker == nil {
			tracker = resilience.NoopErrorTracker{}
		}
		client = &retryClient{
			inner:      client,
			config:     cfg.Retry,
			tracker:    tracker,
			keyID:      cfg.KeyID,
			providerID: cfg.ProviderID,
		}
	}

	if cfg.Cache != nil && cfg.CachingPolicy.Enabled {
		client = &cacheClient{
			inner:  client,
			cache:  cfg.Cache,
			policy: cfg.CachingPolicy,
			roleID: cfg.RoleID,
		}
	}

	if cfg.Metrics != nil {
		client = &metricsClient{inner: client, metrics: cfg.Metrics, tenantID: cfg.TenantID}
	}

	client = &contextClient{inner: client, tenantID: cfg.TenantID, roleID: cfg.RoleID}

	return client
}

// timeoutClient bounds every non-streaming call with a fixed deadline.
// Streaming is left alone: a chat stream's total duration is open-ended
// by design, so ChatStream passes the caller's context straight through.
type timeoutClient struct {
	inner   domain.LLMClient
	timeout time.Duration
}

func (c *timeoutClient) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *timeoutClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	return c.inner.ChatStream(ctx, req)
}

func (c *timeoutClient) ChatComplete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	return c.inner.ChatComplete(ctx, req)
}

func (c *timeoutClient) Embed(ctx context.Context, model string, texts []string, dimensions *int32) ([][]float32, int64, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	return c.inner.Embed(ctx, model, texts, dimensions)
}

func (c *timeoutClient) CountTokens(ctx context.Context, req *domain.ChatRequest) (int32, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	return c.inner.CountTokens(ctx, req)
}

func (c *timeoutClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return c.inner.ListModels(ctx)
}

func (c *timeoutClient) Provider() domain.Provider        { return c.inner.Provider() }
func (c *timeoutClient) SupportsModel(model string) bool  { return c.inner.SupportsModel(model) }

// retryClient classifies failures and retries the retryable ones with
// backoff, recording every retried attempt through an ErrorTracker (spec
// §4.2/§4.3).
type retryClient struct {
	inner      domain.LLMClient
	config     resilience.ClassifiedRetryConfig
	tracker    resilience.ErrorTracker
	keyID      int64
	providerID int64
}

func (c *retryClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	// Retrying a stream means retrying only its setup; once events start
	// flowing the caller owns recovery.
	return resilience.RetryClassified(ctx, c.config, c.keyID, c.providerID, c.tracker,
		func(ctx context.Context, attempt int) (<-chan domain.StreamEvent, error) {
			return c.inner.ChatStream(ctx, req)
		})
}

func (c *retryClient) ChatComplete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	return resilience.RetryClassified(ctx, c.config, c.keyID, c.providerID, c.tracker,
		func(ctx context.Context, attempt int) (*domain.ChatResponse, error) {
			return c.inner.ChatComplete(ctx, req)
		})
}

func (c *retryClient) Embed(ctx context.Context, model string, texts []string, dimensions *int32) ([][]float32, int64, error) {
	type embedResult struct {
		vectors [][]float32
		tokens  int64
	}
	res, err := resilience.RetryClassified(ctx, c.config, c.keyID, c.providerID, c.tracker,
		func(ctx context.Context, attempt int) (embedResult, error) {
			vectors, tokens, err := c.inner.Embed(ctx, model, texts, dimensions)
			return embedResult{vectors: vectors, tokens: tokens}, err
		})
	return res.vectors, res.tokens, err
}

func (c *retryClient) CountTokens(ctx context.Context, req *domain.ChatRequest) (int32, error) {
	return resilience.RetryClassified(ctx, c.config, c.keyID, c.providerID, c.tracker,
		func(ctx context.Context, attempt int) (int32, error) {
			return c.inner.CountTokens(ctx, req)
		})
}

func (c *retryClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return c.inner.ListModels(ctx)
}

func (c *retryClient) Provider() domain.Provider       { return c.inner.Provider() }
func (c *retryClient) SupportsModel(model string) bool { return c.inner.SupportsModel(model) }

// cacheClient serves ChatComplete out of the semantic response cache
// before falling through to inner, and populates the cache on a miss.
// Streaming and embeddings are not cached here: streaming responses are
// cached by the dispatcher once fully assembled, and embeddings have
// their own separate cache (internal/cache/embedding).
type cacheClient struct {
	inner  domain.LLMClient
	cache  semantic.CacheService
	policy domain.CachingPolicy
	roleID string

	// miss coalesces concurrent misses against the same fingerprint so a
	// thundering herd of identical requests dispatches to inner at most
	// once; the cache itself makes no such guarantee (spec's open question
	// on at-most-once concurrent build per fingerprint).
	miss singleflight.Group
}

func (c *cacheClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	return c.inner.ChatStream(ctx, req)
}

func (c *cacheClient) ChatComplete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	if resp, hit, err := c.cache.Get(ctx, c.roleID, req.Model, req.Messages, c.policy); err == nil && hit {
		resp.Cached = true
		return resp, nil
	}

	key := c.roleID + "|" + req.Model + "|" + embedding.HashPrompt(embedding.NormalizePrompt(req.Messages))
	result, err, _ := c.miss.Do(key, func() (any, error) {
		resp, err := c.inner.ChatComplete(ctx, req)
		if err != nil {
			return nil, err
		}
		_ = c.cache.Set(ctx, c.roleID, req.Model, string(c.inner.Provider()), req.Messages, resp, c.policy)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ChatResponse), nil
}

func (c *cacheClient) Embed(ctx context.Context, model string, texts []string, dimensions *int32) ([][]float32, int64, error) {
	return c.inner.Embed(ctx, model, texts, dimensions)
}

func (c *cacheClient) CountTokens(ctx context.Context, req *domain.ChatRequest) (int32, error) {
	return c.inner.CountTokens(ctx, req)
}

func (c *cacheClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return c.inner.ListModels(ctx)
}

func (c *cacheClient) Provider() domain.Provider       { return c.inner.Provider() }
func (c *cacheClient) SupportsModel(model string) bool { return c.inner.SupportsModel(model) }

// metricsClient records per-request Prometheus counters/histograms
// through the existing telemetry.RequestRecorder, the same recorder the
// HTTP-facing dispatcher uses for non-cached calls.
type metricsClient struct {
	inner    domain.LLMClient
	metrics  *telemetry.Metrics
	tenantID string
}

func (c *metricsClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	rec := c.metrics.NewRequestRecorder("chat_stream", req.Model, c.tenantID, string(c.inner.Provider()))
	ch, err := c.inner.ChatStream(ctx, req)
	if err != nil {
		errType := "unknown"
		if ge, ok := domain.AsGatewayError(err); ok {
			errType = string(ge.Kind)
		}
		rec.RecordError(errType)
		return nil, err
	}
	rec.RecordSuccess(0, 0, 0)
	return ch, nil
}

func (c *metricsClient) ChatComplete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	rec := c.metrics.NewRequestRecorder("chat_complete", req.Model, c.tenantID, string(c.inner.Provider()))
	resp, err := c.inner.ChatComplete(ctx, req)
	if err != nil {
		errType := "unknown"
		if ge, ok := domain.AsGatewayError(err); ok {
			errType = string(ge.Kind)
		}
		rec.RecordError(errType)
		return nil, err
	}

	var inputTokens, outputTokens int64
	if resp.Usage != nil {
		inputTokens = int64(resp.Usage.PromptTokens)
		outputTokens = int64(resp.Usage.CompletionTokens)
	}
	rec.RecordSuccess(inputTokens, outputTokens, resp.CostUSD)
	return resp, nil
}

func (c *metricsClient) Embed(ctx context.Context, model string, texts []string, dimensions *int32) ([][]float32, int64, error) {
	rec := c.metrics.NewRequestRecorder("embed", model, c.tenantID, string(c.inner.Provider()))
	vectors, tokens, err := c.inner.Embed(ctx, model, texts, dimensions)
	if err != nil {
		rec.RecordError("embed_error")
		return nil, 0, err
	}
	rec.RecordSuccess(tokens, 0, 0)
	return vectors, tokens, nil
}

func (c *metricsClient) CountTokens(ctx context.Context, req *domain.ChatRequest) (int32, error) {
	return c.inner.CountTokens(ctx, req)
}

func (c *metricsClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return c.inner.ListModels(ctx)
}

func (c *metricsClient) Provider() domain.Provider       { return c.inner.Provider() }
func (c *metricsClient) SupportsModel(model string) bool { return c.inner.SupportsModel(model) }

// contextClient is the outermost layer: it stamps tenant/role identity
// onto a request before anything else sees it, so downstream layers
// (cache isolation, metrics labels, error tracking) never have to
// rediscover it.
type contextClient struct {
	inner    domain.LLMClient
	tenantID string
	roleID   string
}

func (c *contextClient) bind(req *domain.ChatRequest) *domain.ChatRequest {
	if req.RoleID == "" {
		bound := *req
		bound.RoleID = c.roleID
		return &bound
	}
	return req
}

func (c *contextClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	return c.inner.ChatStream(ctx, c.bind(req))
}

func (c *contextClient) ChatComplete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	return c.inner.ChatComplete(ctx, c.bind(req))
}

func (c *contextClient) Embed(ctx context.Context, model string, texts []string, dimensions *int32) ([][]float32, int64, error) {
	return c.inner.Embed(ctx, model, texts, dimensions)
}

func (c *contextClient) CountTokens(ctx context.Context, req *domain.ChatRequest) (int32, error) {
	return c.inner.CountTokens(ctx, c.bind(req))
}

func (c *contextClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return c.inner.ListModels(ctx)
}

func (c *contextClient) Provider() domain.Provider       { return c.inner.Provider() }
func (c *contextClient) SupportsModel(model string) bool { return c.inner.SupportsModel(model) }
