// Package delivery builds the per-subscriber HTTP client and performs
// the outbound POST for one delivery attempt.
package delivery

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/open-zaak/open-notificaties/pkg/auth/oauth"
	"github.com/open-zaak/open-notificaties/pkg/domain"
)

// ClientConfig carries the process-wide outbound HTTP tuning knobs.
type ClientConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	ExtraCABundle  []string
}

// ClientCache builds and memoizes one *http.Client plus one
// gobreaker.CircuitBreaker per subscriber, so TLS handshakes and OAuth2
// token caches are amortized across ticks. It is safe for concurrent use.
type ClientCache struct {
	cfg ClientConfig

	mu       sync.Mutex
	clients  map[uuid]*http.Client
	breakers map[uuid]*gobreaker.CircuitBreaker
	rootPool *x509.CertPool
}

// uuid is a local alias so this file doesn't need to import
// github.com/google/uuid just for a map key type.
type uuid = [16]byte

// NewClientCache loads the configured extra CA bundle once at
// construction.
func NewClientCache(cfg ClientConfig) (*ClientCache, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	for _, path := range cfg.ExtraCABundle {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading extra CA bundle %q: %w", path, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from extra CA bundle %q", path)
		}
	}

	return &ClientCache{
		cfg:      cfg,
		clients:  make(map[uuid]*http.Client),
		breakers: make(map[uuid]*gobreaker.CircuitBreaker),
		rootPool: pool,
	}, nil
}

// Forget releases a subscriber's cached client and breaker. Nothing in
// this module calls it: deleting a Subscription does not evict that
// subscriber's entries from the cache.
func (c *ClientCache) Forget(subID uuid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, subID)
	delete(c.breakers, subID)
}

// ClientFor returns the (possibly newly built) http.Client and circuit
// breaker for sub.
func (c *ClientCache) ClientFor(ctx context.Context, sub domain.Subscription) (*http.Client, *gobreaker.CircuitBreaker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid(sub.ID)
	if cl, ok := c.clients[id]; ok {
		return cl, c.breakers[id], nil
	}

	cl, err := c.buildClient(ctx, sub)
	if err != nil {
		return nil, nil, err
	}
	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        sub.ID.String(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	c.clients[id] = cl
	c.breakers[id] = br
	return cl, br, nil
}

func (c *ClientCache) buildClient(ctx context.Context, sub domain.Subscription) (*http.Client, error) {
	pool := c.rootPool
	if sub.ServerCertificate != "" {
		pool = pool.Clone()
		if !pool.AppendCertsFromPEM([]byte(sub.ServerCertificate)) {
			return nil, fmt.Errorf("invalid server_certificate for subscription %s", sub.ID)
		}
	}

	tlsCfg := &tls.Config{RootCAs: pool}
	if sub.ClientCertificate != "" {
		cert, err := tls.X509KeyPair([]byte(sub.ClientCertificate), []byte(sub.ClientCertificate))
		if err != nil {
			return nil, fmt.Errorf("invalid client_certificate for subscription %s: %w", sub.ID, err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	base := &http.Transport{
		TLSClientConfig: tlsCfg,
		DialContext: (&net.Dialer{
			Timeout: c.cfg.ConnectTimeout,
		}).DialContext,
	}

	var rt http.RoundTripper = base
	switch sub.AuthType {
	case domain.AuthOAuth2ClientCreds:
		src := oauth.NewClientCredentialsSource(ctx, sub.OAuth2TokenURL, sub.ClientID, sub.Secret, sub.OAuth2Scope)
		rt = &oauth.Transport{Source: src, Base: base}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   c.cfg.ConnectTimeout + c.cfg.ReadTimeout,
	}, nil
}
