package provara

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/provara/provara/instrumentation"
	"github.com/provara/provara/internal/util"
	"github.com/provara/provara/security"
)

// Default lifespans and entropy. Values follow the RFC 6749 and OAuth 2.1
// recommendations; all are overridable via Config.
const (
	DefaultAuthorizeCodeLifespan = 10 * time.Minute
	DefaultAccessTokenLifespan   = time.Hour
	DefaultRefreshTokenLifespan  = 30 * 24 * time.Hour
	DefaultIDTokenLifespan       = time.Hour

	// DefaultClockSkewTolerance is applied to time-based JWT claim checks
	DefaultClockSkewTolerance = 30 * time.Second

	// DefaultTokenEntropy is the number of random bytes behind each opaque token
	DefaultTokenEntropy = 32

	// DefaultMinStateLength is the minimum length of the state parameter
	DefaultMinStateLength = 8

	// MinGlobalSecretLength is the minimum HMAC key length in bytes
	MinGlobalSecretLength = 32
)

// Config holds the provider configuration. Zero values are replaced by secure
// defaults at New; the only required fields are Issuer and GlobalSecret.
type Config struct {
	// Issuer is this provider's issuer identifier, used as the iss claim of
	// minted ID tokens.
	Issuer string

	// Audience is the audience value expected on client-signed request
	// objects (normally the issuer URL of this provider).
	Audience string

	// GlobalSecret keys the HMAC opaque-token strategy. Must be at least
	// MinGlobalSecretLength bytes.
	GlobalSecret []byte

	// Lifespans per token kind. Zero selects the default.
	AuthorizeCodeLifespan time.Duration
	AccessTokenLifespan   time.Duration
	RefreshTokenLifespan  time.Duration
	IDTokenLifespan       time.Duration

	// ClockSkewTolerance is the leeway applied to time-based claim checks
	ClockSkewTolerance time.Duration

	// TokenEntropy is the number of random bytes per opaque token
	TokenEntropy int

	// MinStateLength rejects low-entropy state parameters
	MinStateLength int

	// ScopeStrategy matches requested scopes against registered ones. The
	// same instance is shared by authorization, scope granting, and token
	// validation. Defaults to ExactScopeStrategy.
	ScopeStrategy ScopeStrategy

	// EnforcePKCE requires a code challenge on every authorization code
	// flow. When false, PKCE is validated only if the client sent a
	// challenge.
	EnforcePKCE bool

	// AllowPKCEPlain permits the deprecated plain code challenge method
	AllowPKCEPlain bool

	// HTTPClient performs remote JWKS and request_uri fetches.
	// Defaults to a client with a 10 second timeout.
	HTTPClient *http.Client

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Auditor receives security events (replay detected, client mismatch).
	// Nil disables audit logging.
	Auditor *security.Auditor

	// Instrumentation provides OTel meters and tracers. Nil means no-op.
	Instrumentation *instrumentation.Instrumentation

	// JWKSCacheTTL bounds how long fetched remote key sets are reused
	JWKSCacheTTL time.Duration

	// JWKSFetchInterval throttles fetches per JWKS URI. Defaults to one
	// fetch per 10 seconds with a small burst.
	JWKSFetchInterval time.Duration
}

// applySecureDefaults fills unset fields and logs when insecure overrides are
// active. It returns a copy; the caller's Config is not mutated.
func applySecureDefaults(c *Config, logger *slog.Logger) *Config {
	cfg := *c

	// Issuer comparison must not depend on a trailing slash
	cfg.Issuer = util.NormalizeURL(cfg.Issuer)
	if cfg.Audience == "" {
		cfg.Audience = cfg.Issuer
	}

	if cfg.AuthorizeCodeLifespan <= 0 {
		cfg.AuthorizeCodeLifespan = DefaultAuthorizeCodeLifespan
	}
	if cfg.AccessTokenLifespan <= 0 {
		cfg.AccessTokenLifespan = DefaultAccessTokenLifespan
	}
	if cfg.RefreshTokenLifespan <= 0 {
		cfg.RefreshTokenLifespan = DefaultRefreshTokenLifespan
	}
	if cfg.IDTokenLifespan <= 0 {
		cfg.IDTokenLifespan = DefaultIDTokenLifespan
	}
	if cfg.ClockSkewTolerance <= 0 {
		cfg.ClockSkewTolerance = DefaultClockSkewTolerance
	}
	if cfg.TokenEntropy < DefaultTokenEntropy {
		cfg.TokenEntropy = DefaultTokenEntropy
	}
	if cfg.MinStateLength <= 0 {
		cfg.MinStateLength = DefaultMinStateLength
	}
	if cfg.ScopeStrategy == nil {
		cfg.ScopeStrategy = ExactScopeStrategy
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.JWKSCacheTTL <= 0 {
		cfg.JWKSCacheTTL = time.Hour
	}
	if cfg.JWKSFetchInterval <= 0 {
		cfg.JWKSFetchInterval = 10 * time.Second
	}

	if cfg.AllowPKCEPlain {
		logger.Warn("Allowing 'plain' PKCE method",
			"recommendation", "require S256 unless legacy clients need plain")
	}

	return &cfg
}

// validate checks the required fields once at construction
func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("config: Issuer is required")
	}
	if len(c.GlobalSecret) < MinGlobalSecretLength {
		return fmt.Errorf("config: GlobalSecret must be at least %d bytes, got %d",
			MinGlobalSecretLength, len(c.GlobalSecret))
	}
	return nil
}
