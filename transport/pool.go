// Package transport implements the provider transport layer: pooled
// HTTP clients keyed per (provider, model, keyAlias), JSON and SSE
// request execution, upstream error classification, and the one-shot
// auth-refresh replay.
package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ProviderKey identifies a specific (provider, model, keyAlias)
// combination, matching spec §3's ProviderKey = providerId.modelId[.keyAlias].
type ProviderKey string

// PoolConfig holds connection pool configuration, adapted verbatim
// from provider/pool.go's PoolConfig.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
	DisableCompression    bool
	ForceHTTP2            bool
}

// DefaultPoolConfig returns production-grade pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceHTTP2:            true,
	}
}

// PoolMetrics tracks connection pool utilization per ProviderKey.
type PoolMetrics struct {
	ActiveConnections sync.Map // map[ProviderKey]*int64
	TotalRequests     sync.Map
	TotalErrors       sync.Map
	ConnectionReuses  sync.Map
}

// ConnectionPool manages shared HTTP transports/clients per ProviderKey
// with double-checked-locking lazy construction, adapted from
// provider/pool.go's ConnectionPool.
type ConnectionPool struct {
	mu         sync.RWMutex
	transports map[ProviderKey]*http.Transport
	clients    map[ProviderKey]*http.Client
	configs    map[ProviderKey]PoolConfig
	defaults   PoolConfig
	metrics    *PoolMetrics
}

// NewConnectionPool creates a pool manager with the given defaults.
func NewConnectionPool(defaults PoolConfig) *ConnectionPool {
	return &ConnectionPool{
		transports: make(map[ProviderKey]*http.Transport),
		clients:    make(map[ProviderKey]*http.Client),
		configs:    make(map[ProviderKey]PoolConfig),
		defaults:   defaults,
		metrics:    &PoolMetrics{},
	}
}

// Configure sets a custom pool configuration for a specific key,
// invalidating any already-built transport/client.
func (p *ConnectionPool) Configure(key ProviderKey, cfg PoolConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[key] = cfg
	delete(p.transports, key)
	delete(p.clients, key)
}

// GetClient returns a shared HTTP client for key, building one with
// the configured (or default) pool tuning on first access.
func (p *ConnectionPool) GetClient(key ProviderKey, timeout time.Duration) *http.Client {
	p.mu.RLock()
	if c, ok := p.clients[key]; ok {
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c
	}

	cfg := p.configForLocked(key)
	tr := createTransport(cfg)
	p.transports[key] = tr

	client := &http.Client{
		Transport: &metricsRoundTripper{inner: tr, key: key, metrics: p.metrics},
		Timeout:   timeout,
	}
	p.clients[key] = client
	return client
}

// Metrics returns a snapshot of pool utilization per key.
func (p *ConnectionPool) Metrics() map[ProviderKey]map[string]int64 {
	result := make(map[ProviderKey]map[string]int64)

	collect := func(store *sync.Map, field string) {
		store.Range(func(k, v any) bool {
			key := k.(ProviderKey)
			if _, ok := result[key]; !ok {
				result[key] = make(map[string]int64)
			}
			result[key][field] = atomic.LoadInt64(v.(*int64))
			return true
		})
	}
	collect(&p.metrics.TotalRequests, "total_requests")
	collect(&p.metrics.TotalErrors, "total_errors")
	collect(&p.metrics.ActiveConnections, "active_connections")
	collect(&p.metrics.ConnectionReuses, "connection_reuses")
	return result
}

// Close gracefully closes all idle connections across every pool.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}

func (p *ConnectionPool) configForLocked(key ProviderKey) PoolConfig {
	if cfg, ok := p.configs[key]; ok {
		return cfg
	}
	return p.defaults
}

func createTransport(cfg PoolConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}

	t := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableCompression:    cfg.DisableCompression,
	}

	if cfg.ForceHTTP2 {
		t.TLSClientConfig = &tls.Config{NextProtos: []string{"h2", "http/1.1"}, MinVersion: tls.VersionTLS12}
		t.ForceAttemptHTTP2 = true
	}

	return t
}

type metricsRoundTripper struct {
	inner   http.RoundTripper
	key     ProviderKey
	metrics *PoolMetrics
}

func (m *metricsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	active := counter(&m.metrics.ActiveConnections, m.key)
	atomic.AddInt64(active, 1)
	defer atomic.AddInt64(active, -1)

	atomic.AddInt64(counter(&m.metrics.TotalRequests, m.key), 1)

	resp, err := m.inner.RoundTrip(req)
	if err != nil {
		atomic.AddInt64(counter(&m.metrics.TotalErrors, m.key), 1)
		return nil, err
	}
	if !resp.Close {
		atomic.AddInt64(counter(&m.metrics.ConnectionReuses, m.key), 1)
	}
	return resp, nil
}

func counter(store *sync.Map, key ProviderKey) *int64 {
	if v, ok := store.Load(key); ok {
		return v.(*int64)
	}
	c := new(int64)
	actual, _ := store.LoadOrStore(key, c)
	return actual.(*int64)
}
