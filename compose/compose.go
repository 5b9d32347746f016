// Package compose wires the default provider: the HMAC opaque-token core
// strategy, the standard flow handlers, introspection and revocation
// delegates, and optionally RS256 ID tokens, JWT access tokens, and signed
// request object support.
//
// Deployments with unusual needs can skip this package and assemble a
// provara.Provider by hand; everything here is plain wiring.
package compose

import (
	"crypto/rsa"

	"github.com/provara/provara"
	"github.com/provara/provara/handler"
	"github.com/provara/provara/oidc"
	"github.com/provara/provara/token"
)

// Storage bundles every contract the default handler set needs. Both
// storage/memory and storage/valkey satisfy it.
type Storage interface {
	provara.ClientRegistry
	provara.AuthorizeCodeStorage
	provara.TokenRevocationStorage
	provara.PKCERequestStorage
	provara.OpenIDConnectRequestStorage
}

// ProviderConfig configures New
type ProviderConfig struct {
	// Config is the provider configuration; Issuer and GlobalSecret are
	// required
	Config *provara.Config

	// Storage backs every persistence contract
	Storage Storage

	// IDTokenKey enables the OpenID Connect explicit flow and signed request
	// object verification. Nil disables both.
	IDTokenKey *rsa.PrivateKey

	// IDTokenKeyID is published as the kid header of minted ID tokens
	IDTokenKeyID string

	// JWTAccessTokens mints RS256 JWT access tokens instead of opaque HMAC
	// tokens. Requires IDTokenKey.
	JWTAccessTokens bool
}

// New assembles a provider with the default handler chains
func New(pc ProviderConfig) (*provara.Provider, error) {
	if pc.Storage == nil {
		return nil, provara.ErrServerError("compose: storage is required")
	}

	p, err := provara.New(pc.Storage, pc.Config)
	if err != nil {
		return nil, err
	}
	cfg := p.Config()

	hmac, err := token.NewHMACStrategy(
		cfg.GlobalSecret,
		cfg.TokenEntropy,
		cfg.AuthorizeCodeLifespan,
		cfg.AccessTokenLifespan,
		cfg.RefreshTokenLifespan,
	)
	if err != nil {
		return nil, provara.ErrServerError(err.Error())
	}

	var jwtStrategy *token.RS256JWTStrategy
	if pc.IDTokenKey != nil {
		jwtStrategy = &token.RS256JWTStrategy{
			PrivateKey: pc.IDTokenKey,
			KeyID:      pc.IDTokenKeyID,
			ClockSkew:  cfg.ClockSkewTolerance,
		}
	}

	var accessStrategy token.AccessTokenStrategy = hmac
	if pc.JWTAccessTokens {
		if jwtStrategy == nil {
			return nil, provara.ErrServerError("compose: JWT access tokens require an IDTokenKey")
		}
		accessStrategy = &token.JWTAccessTokenStrategy{
			HMACStrategy: hmac,
			JWT:          jwtStrategy,
			Issuer:       cfg.Issuer,
			Lifespan:     cfg.AccessTokenLifespan,
		}
	}

	codeHandler := &handler.AuthorizeCodeHandler{
		CodeStrategy:          hmac,
		AccessTokenStrategy:   accessStrategy,
		RefreshTokenStrategy:  hmac,
		Store:                 pc.Storage,
		ScopeStrategy:         cfg.ScopeStrategy,
		AuthorizeCodeLifespan: cfg.AuthorizeCodeLifespan,
		AccessTokenLifespan:   cfg.AccessTokenLifespan,
		RefreshTokenLifespan:  cfg.RefreshTokenLifespan,
		Logger:                cfg.Logger,
		Auditor:               cfg.Auditor,
		Instrumentation:       cfg.Instrumentation,
	}

	implicitHandler := &handler.ImplicitHandler{
		AccessTokenStrategy: accessStrategy,
		Store:               pc.Storage,
		ScopeStrategy:       cfg.ScopeStrategy,
		AccessTokenLifespan: cfg.AccessTokenLifespan,
		Auditor:             cfg.Auditor,
		Instrumentation:     cfg.Instrumentation,
	}

	refreshHandler := &handler.RefreshTokenHandler{
		AccessTokenStrategy:  accessStrategy,
		RefreshTokenStrategy: hmac,
		Store:                pc.Storage,
		AccessTokenLifespan:  cfg.AccessTokenLifespan,
		RefreshTokenLifespan: cfg.RefreshTokenLifespan,
		Auditor:              cfg.Auditor,
		Instrumentation:      cfg.Instrumentation,
	}

	clientCredentialsHandler := &handler.ClientCredentialsHandler{
		AccessTokenStrategy: accessStrategy,
		Store:               pc.Storage,
		ScopeStrategy:       cfg.ScopeStrategy,
		AccessTokenLifespan: cfg.AccessTokenLifespan,
		Auditor:             cfg.Auditor,
		Instrumentation:     cfg.Instrumentation,
	}

	pkceHandler := &handler.PKCEHandler{
		CodeStrategy:    hmac,
		Store:           pc.Storage,
		Enforce:         cfg.EnforcePKCE,
		AllowPlain:      cfg.AllowPKCEPlain,
		Instrumentation: cfg.Instrumentation,
	}

	// Order matters on the authorize chain: the OIDC and PKCE delegates key
	// their side channels by the code signature, so the code handler must
	// have run first.
	p.AuthorizeHandlers = []provara.AuthorizeEndpointHandler{
		codeHandler,
		implicitHandler,
	}
	p.TokenHandlers = []provara.TokenEndpointHandler{
		codeHandler,
		pkceHandler,
		refreshHandler,
		clientCredentialsHandler,
	}

	if jwtStrategy != nil {
		oidcHandler := &handler.OpenIDConnectExplicitHandler{
			CodeStrategy:    hmac,
			IDTokenStrategy: jwtStrategy,
			Store:           pc.Storage,
			Issuer:          cfg.Issuer,
			IDTokenLifespan: cfg.IDTokenLifespan,
		}
		p.AuthorizeHandlers = append(p.AuthorizeHandlers, oidcHandler)
		p.TokenHandlers = append(p.TokenHandlers, oidcHandler)

		resolver := oidc.NewKeyResolver(oidc.KeyResolverConfig{
			HTTPClient:      cfg.HTTPClient,
			CacheTTL:        cfg.JWKSCacheTTL,
			FetchInterval:   cfg.JWKSFetchInterval,
			Logger:          cfg.Logger,
			Instrumentation: cfg.Instrumentation,
		})
		p.RequestObjectProcessor = &oidc.RequestObjectHandler{
			Resolver:   resolver,
			HTTPClient: cfg.HTTPClient,
			Audience:   cfg.Audience,
			ClockSkew:  cfg.ClockSkewTolerance,
			Logger:     cfg.Logger,
		}
	}
	p.AuthorizeHandlers = append(p.AuthorizeHandlers, pkceHandler)

	// Both the plain HMAC strategy and the JWT access-token overlay satisfy
	// CoreStrategy; the overlay keeps HMAC codes and refresh tokens.
	core, ok := accessStrategy.(token.CoreStrategy)
	if !ok {
		core = hmac
	}

	p.Introspectors = []provara.TokenIntrospector{
		&handler.CoreIntrospector{Type: provara.TokenTypeAccessToken, Strategy: core, Store: pc.Storage},
		&handler.CoreIntrospector{Type: provara.TokenTypeRefreshToken, Strategy: hmac, Store: pc.Storage},
	}
	p.Revokers = []provara.TokenRevoker{
		&handler.CoreRevoker{Type: provara.TokenTypeAccessToken, Strategy: core, Store: pc.Storage, Auditor: cfg.Auditor, Instrumentation: cfg.Instrumentation},
		&handler.CoreRevoker{Type: provara.TokenTypeRefreshToken, Strategy: hmac, Store: pc.Storage, Auditor: cfg.Auditor, Instrumentation: cfg.Instrumentation},
	}

	return p, nil
}
