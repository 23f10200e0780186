package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelgate/internal/cache/embedding"
	"modelgate/internal/cache/semantic"
	"modelgate/internal/domain"
	"modelgate/internal/resilience"
)

// stubClient is a minimal domain.LLMClient whose ChatComplete is
// scriptable and counts how many times it was actually invoked, so
// tests can assert on decorator behavior (retry attempts, cache
// coalescing) without a real provider.
type stubClient struct {
	calls     int32
	chatFn    func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)
	chatDelay time.Duration
	provider  domain.Provider
}

func (s *stubClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	return nil, errors.New("not implemented")
}

func (s *stubClient) ChatComplete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.chatDelay > 0 {
		time.Sleep(s.chatDelay)
	}
	return s.chatFn(ctx, req)
}

func (s *stubClient) Embed(ctx context.Context, model string, texts []string, dimensions *int32) ([][]float32, int64, error) {
	return nil, 0, nil
}

func (s *stubClient) CountTokens(ctx context.Context, req *domain.ChatRequest) (int32, error) {
	return 0, nil
}

func (s *stubClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) { return nil, nil }
func (s *stubClient) Provider() domain.Provider                                 { return s.provider }
func (s *stubClient) SupportsModel(model string) bool                           { return true }

// fakeCache is an in-memory semantic.CacheService good enough to drive
// cacheClient's get/set/coalesce paths.
type fakeCache struct {
	mu       sync.Mutex
	entries  map[string]*domain.ChatResponse
	setCalls int32
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*domain.ChatResponse)}
}

func (f *fakeCache) cacheKey(roleID, model string, messages []domain.Message) string {
	return roleID + "|" + model + "|" + embedding.HashPrompt(embedding.NormalizePrompt(messages))
}

func (f *fakeCache) Get(ctx context.Context, roleID, model string, messages []domain.Message, cfg domain.CachingPolicy) (*domain.ChatResponse, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.entries[f.cacheKey(roleID, model, messages)]
	if !ok {
		return nil, false, nil
	}
	cp := *resp
	return &cp, true, nil
}

func (f *fakeCache) Set(ctx context.Context, roleID, model, provider string, messages []domain.Message, response *domain.ChatResponse, cfg domain.CachingPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	atomic.AddInt32(&f.setCalls, 1)
	cp := *response
	f.entries[f.cacheKey(roleID, model, messages)] = &cp
	return nil
}

func (f *fakeCache) SetWithLatency(ctx context.Context, req semantic.SetRequest, cfg domain.CachingPolicy) error {
	return f.Set(ctx, req.RoleID, req.Model, req.Provider, req.Messages, req.Response, cfg)
}

func textMessages(text string) []domain.Message {
	return []domain.Message{{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: text}}}}
}

func TestTimeoutClientAppliesDeadlineToChatComplete(t *testing.T) {
	stub := &stubClient{provider: domain.ProviderOpenAI, chatFn: func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	client := &timeoutClient{inner: stub, timeout: 20 * time.Millisecond}

	_, err := client.ChatComplete(context.Background(), &domain.ChatRequest{Model: "gpt-4o"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected a deadline-exceeded error, got %v", err)
	}
}

func TestTimeoutClientPassesChatStreamContextThrough(t *testing.T) {
	stub := &stubClient{provider: domain.ProviderOpenAI}
	client := &timeoutClient{inner: stub, timeout: time.Millisecond}

	ctx := context.Background()
	_, err := client.ChatStream(ctx, &domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected the stub's not-implemented error to pass through untouched")
	}
}

func TestRetryClientRetriesRetryableStatus(t *testing.T) {
	attempts := 0
	stub := &stubClient{provider: domain.ProviderOpenAI, chatFn: func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
		attempts++
		if attempts < 3 {
			return nil, domain.NewGatewayError(domain.ErrRateLimit, 429, "rate limited", nil)
		}
		return &domain.ChatResponse{Content: "ok"}, nil
	}}

	client := &retryClient{
		inner:   stub,
		config:  resilience.ClassifiedRetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		tracker: resilience.NoopErrorTracker{},
	}

	resp, err := client.ChatComplete(context.Background(), &domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected eventual success, got %q", resp.Content)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestCacheClientServesHitWithoutCallingInner(t *testing.T) {
	cache := newFakeCache()
	stub := &stubClient{provider: domain.ProviderOpenAI, chatFn: func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "fresh"}, nil
	}}
	client := &cacheClient{inner: stub, cache: cache, policy: domain.CachingPolicy{Enabled: true}, roleID: "role-1"}

	req := &domain.ChatRequest{Model: "gpt-4o", Messages: textMessages("hello")}

	first, err := client.ChatComplete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Cached {
		t.Error("expected the first call to be a miss, not cached")
	}
	if atomic.LoadInt32(&stub.calls) != 1 {
		t.Fatalf("expected exactly 1 inner call on miss, got %d", stub.calls)
	}

	second, err := client.ChatComplete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Cached {
		t.Error("expected the second call to be served from cache")
	}
	if atomic.LoadInt32(&stub.calls) != 1 {
		t.Errorf("expected no additional inner call on a cache hit, got %d total calls", stub.calls)
	}
}

func TestCacheClientCoalescesConcurrentMisses(t *testing.T) {
	cache := newFakeCache()
	stub := &stubClient{
		provider:  domain.ProviderOpenAI,
		chatDelay: 30 * time.Millisecond,
		chatFn: func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Content: "computed"}, nil
		},
	}
	client := &cacheClient{inner: stub, cache: cache, policy: domain.CachingPolicy{Enabled: true}, roleID: "role-1"}

	req := &domain.ChatRequest{Model: "gpt-4o", Messages: textMessages("concurrent")}

	var wg sync.WaitGroup
	const n = 10
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := client.ChatComplete(context.Background(), req)
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error from a coalesced call: %v", err)
		}
	}
	if got := atomic.LoadInt32(&stub.calls); got != 1 {
		t.Errorf("expected singleflight to coalesce %d concurrent misses into 1 inner call, got %d", n, got)
	}
	if got := atomic.LoadInt32(&cache.setCalls); got != 1 {
		t.Errorf("expected exactly 1 cache write for the coalesced miss, got %d", got)
	}
}

func TestContextClientIsAlwaysOutermostAndPassesThrough(t *testing.T) {
	stub := &stubClient{provider: domain.ProviderAnthropic, chatFn: func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "ctx-ok"}, nil
	}}
	client := BuildClient(stub, ChainConfig{TenantID: "tenant-a", RoleID: "role-a"})

	resp, err := client.ChatComplete(context.Background(), &domain.ChatRequest{Model: "claude-3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ctx-ok" {
		t.Errorf("expected the call to pass through to the base client, got %q", resp.Content)
	}
	if client.Provider() != domain.ProviderAnthropic {
		t.Errorf("expected Provider() to delegate to the base client, got %s", client.Provider())
	}
}

func TestBuildClientSkipsDisabledLayers(t *testing.T) {
	stub := &stubClient{provider: domain.ProviderOpenAI, chatFn: func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "bare"}, nil
	}}

	// Zero-value ChainConfig: no timeout, no retry, no cache, no metrics.
	// BuildClient should still return a usable client wrapped only by
	// the mandatory outermost contextClient.
	client := BuildClient(stub, ChainConfig{})

	if _, ok := client.(*contextClient); !ok {
		t.Fatalf("expected the outermost layer to be contextClient, got %T", client)
	}

	resp, err := client.ChatComplete(context.Background(), &domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "bare" {
		t.Errorf("expected the call to reach the base client unmodified, got %q", resp.Content)
	}
}
