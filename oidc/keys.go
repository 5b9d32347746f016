package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/time/rate"

	"github.com/provara/provara/instrumentation"
)

const (
	// maxJWKSDocumentSize bounds remote JWKS responses to keep a hostile
	// endpoint from exhausting memory
	maxJWKSDocumentSize = 1 << 20
)

type cachedJWKS struct {
	set       *jose.JSONWebKeySet
	fetchedAt time.Time
}

// KeyResolver resolves a client's signature-verification key for OIDC
// request objects. A statically registered JWK set is authoritative; only
// clients without one fall back to their remote JWKS URI. Remote documents
// are cached per URI and fetches are throttled so a burst of authorize
// requests cannot stampede the upstream endpoint.
//
// The resolver is safe for concurrent use.
type KeyResolver struct {
	httpClient    *http.Client
	cacheTTL      time.Duration
	fetchInterval time.Duration
	logger        *slog.Logger
	inst          *instrumentation.Instrumentation

	mu       sync.Mutex
	cache    map[string]*cachedJWKS
	limiters map[string]*rate.Limiter
}

// KeyResolverConfig configures a KeyResolver. Zero values select defaults:
// a 10 second HTTP timeout, a 1 hour cache TTL, and one fetch per URI per
// 10 seconds.
type KeyResolverConfig struct {
	HTTPClient      *http.Client
	CacheTTL        time.Duration
	FetchInterval   time.Duration
	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
}

// NewKeyResolver creates a key resolver
func NewKeyResolver(cfg KeyResolverConfig) *KeyResolver {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.FetchInterval <= 0 {
		cfg.FetchInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &KeyResolver{
		httpClient:    cfg.HTTPClient,
		cacheTTL:      cfg.CacheTTL,
		fetchInterval: cfg.FetchInterval,
		logger:        cfg.Logger,
		inst:          cfg.Instrumentation,
		cache:         make(map[string]*cachedJWKS),
		limiters:      make(map[string]*rate.Limiter),
	}
}

// ResolveKey returns the RSA public key identified by kid for the given
// client's key material. Resolution never guesses: an empty kid is rejected,
// a registered local set without the kid is a hard failure with no remote
// fallback, and a client with neither key source cannot verify anything.
func (r *KeyResolver) ResolveKey(ctx context.Context, keys *jose.JSONWebKeySet, jwksURI, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, fmt.Errorf("request object has no kid header, refusing to guess a verification key")
	}

	if keys != nil {
		key, err := findSignatureKey(keys, kid)
		if err != nil {
			// A local set is authoritative; falling back to the remote URI
			// would allow key confusion via a compromised endpoint.
			return nil, fmt.Errorf("registered JWK set: %w", err)
		}
		return key, nil
	}

	if jwksURI == "" {
		return nil, fmt.Errorf("client has neither a registered JWK set nor a JWKS URI")
	}

	set, err := r.fetch(ctx, jwksURI)
	if err != nil {
		return nil, err
	}
	key, err := findSignatureKey(set, kid)
	if err != nil {
		return nil, fmt.Errorf("remote JWKS %s: %w", jwksURI, err)
	}
	return key, nil
}

// findSignatureKey selects by kid, signature use, and RSA key type
func findSignatureKey(set *jose.JSONWebKeySet, kid string) (*rsa.PublicKey, error) {
	for _, key := range set.Key(kid) {
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		if pub, ok := key.Key.(*rsa.PublicKey); ok {
			return pub, nil
		}
	}
	return nil, fmt.Errorf("no RSA signature key with kid %q", kid)
}

// fetch returns the JWKS document behind uri, from cache when fresh. When
// the per-URI throttle denies a refresh, a stale cached document is reused
// rather than failing the request.
func (r *KeyResolver) fetch(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	r.mu.Lock()
	cached := r.cache[uri]
	if cached != nil && time.Since(cached.fetchedAt) < r.cacheTTL {
		r.mu.Unlock()
		return cached.set, nil
	}

	limiter, ok := r.limiters[uri]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(r.fetchInterval), 1)
		r.limiters[uri] = limiter
	}
	allowed := limiter.Allow()
	r.mu.Unlock()

	if !allowed {
		if cached != nil {
			r.logger.Debug("JWKS fetch throttled, reusing stale document", "uri", uri)
			return cached.set, nil
		}
		return nil, fmt.Errorf("JWKS fetch for %s throttled", uri)
	}

	set, err := r.fetchRemote(ctx, uri)
	if err != nil {
		if cached != nil {
			r.logger.Warn("JWKS refresh failed, reusing stale document", "uri", uri, "error", err)
			return cached.set, nil
		}
		return nil, err
	}

	r.mu.Lock()
	r.cache[uri] = &cachedJWKS{set: set, fetchedAt: time.Now()}
	r.mu.Unlock()

	return set, nil
}

func (r *KeyResolver) fetchRemote(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("building JWKS request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS from %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if r.inst != nil {
		r.inst.Metrics().JWKSFetches.Add(ctx, 1)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching JWKS from %s: unexpected status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("reading JWKS body: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("malformed JWKS document from %s: %w", uri, err)
	}
	return &set, nil
}
