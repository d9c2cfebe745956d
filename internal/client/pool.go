package client

import (
	"sync"

	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// Impersonations is the fixed, ordered set of browser TLS fingerprints the
// poller presents. Retry attempt N maps to Impersonations[N mod len], so
// consecutive attempts never repeat a TLS signature. Chrome targets only:
// the Instagram Android TLS stack resembles Chrome's.
var Impersonations = []profiles.ClientProfile{
	profiles.Chrome_110,
	profiles.Chrome_109,
	profiles.Chrome_108,
	profiles.Chrome_107,
	profiles.Chrome_105,
	profiles.Chrome_103,
}

// Pool caches one HTTP client per impersonation target. Handles are created
// lazily and reused for the lifetime of the pool; proxied and direct handles
// are cached separately because the proxy setting is baked into the client.
type Pool struct {
	proxyURL string

	mu      sync.Mutex
	proxied []tls_client.HttpClient
	direct  []tls_client.HttpClient
}

func NewPool(proxyURL string) *Pool {
	return &Pool{
		proxyURL: proxyURL,
		proxied:  make([]tls_client.HttpClient, len(Impersonations)),
		direct:   make([]tls_client.HttpClient, len(Impersonations)),
	}
}

// HandleFor returns the cached client for one impersonation target,
// creating it on first use. idx is reduced mod len(Impersonations).
// Certificate verification is relaxed only on proxied handles: a forward
// proxy in the path typically presents a substitute certificate.
func (p *Pool) HandleFor(idx int, viaProxy bool) (tls_client.HttpClient, error) {
	idx = ((idx % len(Impersonations)) + len(Impersonations)) % len(Impersonations)

	p.mu.Lock()
	defer p.mu.Unlock()

	cache := p.direct
	if viaProxy {
		cache = p.proxied
	}
	if c := cache[idx]; c != nil {
		return c, nil
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(Impersonations[idx]),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}
	if viaProxy && p.proxyURL != "" {
		options = append(options,
			tls_client.WithProxyUrl(p.proxyURL),
			tls_client.WithInsecureSkipVerify(),
		)
	}

	c, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, err
	}
	cache[idx] = c
	return c, nil
}

// CloseAll releases connection resources of every handle created so far.
// Safe to call with handles never created, and idempotent.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, c := range p.proxied {
		if c != nil {
			c.CloseIdleConnections()
			p.proxied[i] = nil
		}
	}
	for i, c := range p.direct {
		if c != nil {
			c.CloseIdleConnections()
			p.direct[i] = nil
		}
	}
}
