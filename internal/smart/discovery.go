package smart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	wellKnownPath     = "/.well-known/smart-configuration"
	defaultCacheTTL   = time.Hour
	discoveryDeadline = 10 * time.Second
)

// Configuration is the subset of a SMART server's well-known document the
// launch flow needs.
type Configuration struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	Capabilities                  []string `json:"capabilities"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

type cachedConfig struct {
	cfg     *Configuration
	fetched time.Time
}

// Discoverer fetches and caches SMART configurations per issuer. Concurrent
// lookups of one issuer share a single fetch.
type Discoverer struct {
	client    *http.Client
	ttl       time.Duration
	allowHTTP bool
	now       func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cachedConfig
}

type DiscovererOption func(*Discoverer)

func WithHTTPClient(c *http.Client) DiscovererOption {
	return func(d *Discoverer) { d.client = c }
}

// WithInsecureIssuers accepts http:// issuers. Development only.
func WithInsecureIssuers() DiscovererOption {
	return func(d *Discoverer) { d.allowHTTP = true }
}

func WithCacheTTL(ttl time.Duration) DiscovererOption {
	return func(d *Discoverer) { d.ttl = ttl }
}

func NewDiscoverer(opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		client: &http.Client{Timeout: discoveryDeadline},
		ttl:    defaultCacheTTL,
		now:    time.Now,
		cache:  make(map[string]cachedConfig),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Discoverer) normalizeIssuer(iss string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(iss))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidIssuer, iss)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !d.allowHTTP {
			return "", fmt.Errorf("%w: issuer must use https", ErrInvalidIssuer)
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIssuer, iss)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: issuer must not carry a query or fragment", ErrInvalidIssuer)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Discover returns the configuration for iss. The caller's context bounds
// how long it waits; a fetch it abandons still completes and fills the
// cache for the next caller.
func (d *Discoverer) Discover(ctx context.Context, iss string) (*Configuration, error) {
	iss, err := d.normalizeIssuer(iss)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	hit, ok := d.cache[iss]
	d.mu.RUnlock()
	if ok && d.now().Sub(hit.fetched) < d.ttl {
		return hit.cfg, nil
	}

	ch := d.group.DoChan(iss, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), discoveryDeadline)
		defer cancel()

		cfg, err := d.fetch(fetchCtx, iss)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.cache[iss] = cachedConfig{cfg: cfg, fetched: d.now()}
		d.mu.Unlock()
		return cfg, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Configuration), nil
	}
}

func (d *Discoverer) fetch(ctx context.Context, iss string) (*Configuration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iss+wellKnownPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDiscovery, resp.StatusCode)
	}

	var cfg Configuration
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrDiscovery, err)
	}
	if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: missing endpoints", ErrDiscovery)
	}
	if len(cfg.CodeChallengeMethodsSupported) > 0 && !slices.Contains(cfg.CodeChallengeMethodsSupported, "S256") {
		return nil, fmt.Errorf("%w: server does not support S256 PKCE", ErrDiscovery)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = iss
	}
	return &cfg, nil
}
