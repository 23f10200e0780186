package provider

import (
	"net/http"
	"sync"
	"time"

	"modelgate/internal/config"
	"modelgate/internal/domain"
)

// PoolConfig bounds one provider's reusable HTTP transports.
type PoolConfig struct {
	MaxConnections    int
	MaxConnectionAge  time.Duration
	MaxIdleTime       time.Duration
	ConnectionTimeout time.Duration
	CleanupInterval   time.Duration
}

// PoolConfigFromConfig adapts the config-file connection_pool section into
// a provider.PoolConfig.
func PoolConfigFromConfig(cfg config.PoolConfig) PoolConfig {
	return PoolConfig{
		MaxConnections:    cfg.MaxConnectionsPerProvider,
		MaxConnectionAge:  time.Duration(cfg.MaxConnectionAgeSeconds) * time.Second,
		MaxIdleTime:       time.Duration(cfg.MaxIdleTimeSeconds) * time.Second,
		ConnectionTimeout: time.Duration(cfg.ConnectionTimeoutSeconds) * time.Second,
		CleanupInterval:   time.Minute,
	}
}

// DefaultPoolConfig mirrors domain.DefaultConnectionSettings' timeouts.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:    100,
		MaxConnectionAge:  30 * time.Minute,
		MaxIdleTime:       90 * time.Second,
		ConnectionTimeout: 30 * time.Second,
		CleanupInterval:   time.Minute,
	}
}

// pooledClient wraps an *http.Client built by BuildHTTPClient with the
// bookkeeping needed to evict it once it's too old or been idle too long.
type pooledClient struct {
	client     *http.Client
	createdAt  time.Time
	lastUsedAt time.Time
	inUse      int
}

// Pool hands out one *http.Client per provider, recycling it across
// requests instead of letting every call build its own transport (each
// BuildHTTPClient call otherwise spins up fresh idle-conn pools, defeating
// keep-alive reuse). A background cleanup timer evicts clients that have
// aged out or sat idle past the configured bounds.
type Pool struct {
	mu      sync.Mutex
	clients map[domain.Provider]*pooledClient
	config  PoolConfig

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPool creates a connection pool and starts its cleanup timer.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	p := &Pool{
		clients: make(map[domain.Provider]*pooledClient),
		config:  cfg,
		stopCh:  make(chan struct{}),
	}
	go p.cleanupLoop()
	return p
}

// Acquire returns the pooled *http.Client for a provider, building one
// with settings if none exists yet or the existing one has aged out.
func (p *Pool) Acquire(provider domain.Provider, settings domain.ConnectionSettings) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	pc, ok := p.clients[provider]
	if ok && p.config.MaxConnectionAge > 0 && now.Sub(pc.createdAt) > p.config.MaxConnectionAge {
		pc.client.CloseIdleConnections()
		ok = false
	}

	if !ok {
		pc = &pooledClient{
			client:    BuildHTTPClient(settings),
			createdAt: now,
		}
		p.clients[provider] = pc
	}

	pc.lastUsedAt = now
	pc.inUse++
	return pc.client
}

// Release marks one in-flight use of a provider's pooled client as done.
func (p *Pool) Release(provider domain.Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pc, ok := p.clients[provider]; ok && pc.inUse > 0 {
		pc.inUse--
	}
}

// Warmup eagerly builds a provider's client instead of waiting for the
// first request, so the first real call doesn't pay transport setup cost.
func (p *Pool) Warmup(provider domain.Provider, settings domain.ConnectionSettings) {
	p.Acquire(provider, settings)
	p.Release(provider)
}

func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictStale()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) evictStale() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for provider, pc := range p.clients {
		if pc.inUse > 0 {
			continue
		}
		agedOut := p.config.MaxConnectionAge > 0 && now.Sub(pc.createdAt) > p.config.MaxConnectionAge
		idledOut := p.config.MaxIdleTime > 0 && now.Sub(pc.lastUsedAt) > p.config.MaxIdleTime
		if agedOut || idledOut {
			pc.client.CloseIdleConnections()
			delete(p.clients, provider)
		}
	}
}

// Close stops the cleanup timer and closes every pooled client's idle
// connections.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	defer p.mu.Unlock()
	for provider, pc := range p.clients {
		pc.client.CloseIdleConnections()
		delete(p.clients, provider)
	}
}
