package provider

import (
	"testing"
	"time"

	"modelgate/internal/domain"
)

func TestPoolAcquireReusesClient(t *testing.T) {
	p := NewPool(PoolConfig{MaxConnectionAge: time.Hour, MaxIdleTime: time.Hour, CleanupInterval: time.Hour})
	defer p.Close()

	settings := domain.DefaultConnectionSettings()
	first := p.Acquire(domain.ProviderOpenAI, settings)
	p.Release(domain.ProviderOpenAI)
	second := p.Acquire(domain.ProviderOpenAI, settings)
	p.Release(domain.ProviderOpenAI)

	if first != second {
		t.Error("expected Acquire to return the same pooled client on reuse")
	}
}

func TestPoolAcquireEvictsAgedOutClient(t *testing.T) {
	p := NewPool(PoolConfig{MaxConnectionAge: time.Millisecond, MaxIdleTime: time.Hour, CleanupInterval: time.Hour})
	defer p.Close()

	settings := domain.DefaultConnectionSettings()
	first := p.Acquire(domain.ProviderOpenAI, settings)
	p.Release(domain.ProviderOpenAI)

	time.Sleep(5 * time.Millisecond)

	second := p.Acquire(domain.ProviderOpenAI, settings)
	p.Release(domain.ProviderOpenAI)

	if first == second {
		t.Error("expected an aged-out client to be replaced")
	}
}

func TestPoolEvictStaleRemovesIdleClients(t *testing.T) {
	p := NewPool(PoolConfig{MaxConnectionAge: time.Hour, MaxIdleTime: time.Millisecond, CleanupInterval: time.Hour})
	defer p.Close()

	settings := domain.DefaultConnectionSettings()
	p.Warmup(domain.ProviderOpenAI, settings)

	time.Sleep(5 * time.Millisecond)
	p.evictStale()

	p.mu.Lock()
	_, exists := p.clients[domain.ProviderOpenAI]
	p.mu.Unlock()

	if exists {
		t.Error("expected the idle client to be evicted")
	}
}

func TestPoolEvictStaleSkipsInUseClients(t *testing.T) {
	p := NewPool(PoolConfig{MaxConnectionAge: time.Hour, MaxIdleTime: time.Millisecond, CleanupInterval: time.Hour})
	defer p.Close()

	settings := domain.DefaultConnectionSettings()
	p.Acquire(domain.ProviderOpenAI, settings) // not released: inUse stays 1

	time.Sleep(5 * time.Millisecond)
	p.evictStale()

	p.mu.Lock()
	_, exists := p.clients[domain.ProviderOpenAI]
	p.mu.Unlock()

	if !exists {
		t.Error("expected an in-use client to survive eviction")
	}
}

func TestPoolClose(t *testing.T) {
	p := NewPool(DefaultPoolConfig())
	p.Warmup(domain.ProviderOpenAI, domain.DefaultConnectionSettings())
	p.Close()

	p.mu.Lock()
	n := len(p.clients)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("expected Close to drain all pooled clients, got %d remaining", n)
	}
}
