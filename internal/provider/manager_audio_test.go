package provider

import (
	"testing"

	"modelgate/internal/domain"
)

func newTestManager() *Manager {
	return &Manager{
		clients:            make(map[domain.Provider]domain.LLMClient),
		tenantClients:      make(map[string]map[domain.Provider]domain.LLMClient),
		tenantAudioClients: make(map[string]map[domain.Provider]domain.AudioCapable),
		modelCache:         NewModelCacheService(),
	}
}

func TestGetOrCreateTenantAudioClientBuildsElevenLabsDirectly(t *testing.T) {
	m := newTestManager()
	cfg := &domain.ProviderConfig{Provider: domain.ProviderElevenLabs, APIKey: "xi-key"}

	client, err := m.GetOrCreateTenantAudioClient("tenant-1", domain.ProviderElevenLabs, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*ElevenLabsClient); !ok {
		t.Errorf("expected an *ElevenLabsClient, got %T", client)
	}

	// A second call for the same tenant+provider must return the cached instance.
	again, err := m.GetOrCreateTenantAudioClient("tenant-1", domain.ProviderElevenLabs, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != again {
		t.Error("expected the cached client to be reused across calls")
	}
}

func TestGetOrCreateTenantAudioClientRejectsElevenLabsWithoutAPIKey(t *testing.T) {
	m := newTestManager()
	cfg := &domain.ProviderConfig{Provider: domain.ProviderElevenLabs}

	if _, err := m.GetOrCreateTenantAudioClient("tenant-1", domain.ProviderElevenLabs, cfg); err == nil {
		t.Error("expected an error when no API key is configured")
	}
}

func TestGetOrCreateTenantAudioClientAssertsCapabilityOffChatClient(t *testing.T) {
	m := newTestManager()
	cfg := &domain.ProviderConfig{Provider: domain.ProviderMiniMax, APIKey: "mm-key", ExtraSettings: map[string]string{"group_id": "g1"}}

	client, err := m.GetOrCreateTenantAudioClient("tenant-1", domain.ProviderMiniMax, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*MiniMaxClient); !ok {
		t.Errorf("expected a *MiniMaxClient, got %T", client)
	}

	// the underlying chat client cache should also be populated, since
	// audio capability is resolved off the ordinary chat client.
	chatClient, err := m.GetOrCreateTenantClient("tenant-1", domain.ProviderMiniMax, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != chatClient {
		t.Error("expected the audio-capable client and the chat client to be the same cached instance")
	}
}

func TestGetOrCreateTenantAudioClientRejectsUnsupportedProvider(t *testing.T) {
	m := newTestManager()
	cfg := &domain.ProviderConfig{Provider: domain.ProviderAnthropic, APIKey: "anthropic-key"}

	if _, err := m.GetOrCreateTenantAudioClient("tenant-1", domain.ProviderAnthropic, cfg); err == nil {
		t.Error("expected an error for a provider with no audio capability")
	}
}

func TestGetOrCreateTenantRealtimeClientBuildsElevenLabsEndpoint(t *testing.T) {
	m := newTestManager()
	cfg := &domain.ProviderConfig{Provider: domain.ProviderElevenLabs, APIKey: "xi-key"}

	client, err := m.GetOrCreateTenantRealtimeClient("tenant-1", domain.ProviderElevenLabs, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*ElevenLabsClient); !ok {
		t.Errorf("expected an *ElevenLabsClient, got %T", client)
	}
}

func TestGetOrCreateTenantRealtimeClientResolvesOpenAIFromChatClient(t *testing.T) {
	m := newTestManager()
	cfg := &domain.ProviderConfig{Provider: domain.ProviderOpenAI, APIKey: "sk-test"}

	client, err := m.GetOrCreateTenantRealtimeClient("tenant-1", domain.ProviderOpenAI, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*OpenAIClient); !ok {
		t.Errorf("expected an *OpenAIClient, got %T", client)
	}
}

func TestGetOrCreateTenantRealtimeClientRejectsUnsupportedProvider(t *testing.T) {
	m := newTestManager()
	cfg := &domain.ProviderConfig{Provider: domain.ProviderAnthropic, APIKey: "anthropic-key"}

	if _, err := m.GetOrCreateTenantRealtimeClient("tenant-1", domain.ProviderAnthropic, cfg); err == nil {
		t.Error("expected an error for a provider with no realtime capability")
	}
}

func TestInvalidateTenantClientsClearsAudioCache(t *testing.T) {
	m := newTestManager()
	cfg := &domain.ProviderConfig{Provider: domain.ProviderElevenLabs, APIKey: "xi-key"}

	first, err := m.GetOrCreateTenantAudioClient("tenant-1", domain.ProviderElevenLabs, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.InvalidateTenantClients("tenant-1")

	second, err := m.GetOrCreateTenantAudioClient("tenant-1", domain.ProviderElevenLabs, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Error("expected invalidation to force a fresh client instance")
	}
}
