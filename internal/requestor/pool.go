package requestor

import (
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sebas/featureserver/internal/config"
)

// poolMember is one pooled client for a single origin (scheme+host+port).
type poolMember struct {
	client   *resty.Client
	lastUsed atomic.Int64 // unix nanos
}

// Pool is a process-wide registry of one keep-alive resty.Client per
// webhook origin, bounded by HTTP_POOLSIZE connections and evicted after
// HTTP_POOL_IDLE_TTL_MS of inactivity. HTTP_PIPELINING is not applied to
// the clients. Each origin has exactly one member; there is no
// round-robin or health checking.
type Pool struct {
	mu      sync.RWMutex
	members map[string]*poolMember
	cfg     *config.Config

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPool creates an empty pool and starts its idle-eviction loop.
func NewPool(cfg *config.Config) *Pool {
	p := &Pool{
		members: make(map[string]*poolMember),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go p.evictLoop()
	return p
}

// Get returns the pooled client for u's origin, creating one on first
// use. If pooling is disabled (HTTP_POOL=0), a fresh client is returned
// every time and never registered.
func (p *Pool) Get(u *url.URL) *resty.Client {
	origin := u.Scheme + "://" + u.Host

	if p.cfg != nil && !p.cfg.HTTPPoolEnabled {
		return p.newClient()
	}

	p.mu.RLock()
	m, ok := p.members[origin]
	p.mu.RUnlock()
	if ok {
		m.lastUsed.Store(time.Now().UnixNano())
		return m.client
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.members[origin]; ok {
		m.lastUsed.Store(time.Now().UnixNano())
		return m.client
	}

	m = &poolMember{client: p.newClient()}
	m.lastUsed.Store(time.Now().UnixNano())
	p.members[origin] = m
	return m.client
}

func (p *Pool) newClient() *resty.Client {
	c := resty.New()
	if p.cfg != nil {
		if p.cfg.HTTPTimeout > 0 {
			c.SetTimeout(p.cfg.HTTPTimeout)
		}
		if p.cfg.HTTPPoolSize > 0 {
			c.SetTransport(&http.Transport{
				MaxIdleConns:        p.cfg.HTTPPoolSize,
				MaxIdleConnsPerHost: p.cfg.HTTPPoolSize,
				MaxConnsPerHost:     p.cfg.HTTPPoolSize,
				IdleConnTimeout:     p.cfg.HTTPPoolIdleTTL,
			})
		}
		if p.cfg.HTTPUserAgentHeader != "" {
			c.SetHeader("User-Agent", p.cfg.HTTPUserAgentHeader)
		}
		if p.cfg.HTTPProxyIP != "" {
			proxyURL := url.URL{
				Scheme: p.cfg.HTTPProxyProtocol,
				Host:   p.cfg.HTTPProxyIP,
			}
			if p.cfg.HTTPProxyPort != 0 {
				proxyURL.Host = p.cfg.HTTPProxyIP + ":" + strconv.Itoa(p.cfg.HTTPProxyPort)
			}
			c.SetProxy(proxyURL.String())
		}
	}
	// Retries are driven explicitly by HttpRequestor per the spec's own
	// backoff curve, so resty's built-in retry is left disabled here.
	c.SetRetryCount(0)
	return c
}

func (p *Pool) evictLoop() {
	ttl := 60 * time.Second
	if p.cfg != nil && p.cfg.HTTPPoolIdleTTL > 0 {
		ttl = p.cfg.HTTPPoolIdleTTL
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.evictIdle(ttl)
		}
	}
}

func (p *Pool) evictIdle(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl).UnixNano()
	p.mu.Lock()
	defer p.mu.Unlock()
	for origin, m := range p.members {
		if m.lastUsed.Load() < cutoff {
			delete(p.members, origin)
		}
	}
}

// Close stops the eviction loop. Pooled clients are left to GC.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
