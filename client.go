package provara

import (
	jose "github.com/go-jose/go-jose/v4"
)

// Client is a registered OAuth principal. Clients are immutable once loaded
// and owned by an external registry; the core only reads them, so they may be
// shared freely across concurrent request handling.
type Client struct {
	// ID is the unique client identifier
	ID string

	// HashedSecret is the hashed client secret for confidential clients.
	// Hashing and comparison are delegated to a security.Hasher; the core
	// never sees the plaintext secret.
	HashedSecret []byte

	// RedirectURIs is the ordered list of registered redirection URIs
	RedirectURIs []string

	// GrantTypes lists the grant types the client may use. Empty defaults to
	// authorization_code.
	GrantTypes Arguments

	// ResponseTypes lists the response types the client may request. Empty
	// defaults to code.
	ResponseTypes Arguments

	// Scopes lists the client's registered scopes. Requested scopes are
	// matched against these via the configured ScopeStrategy, not raw
	// equality.
	Scopes Arguments

	// Public marks clients that cannot keep a secret (mobile, SPA)
	Public bool

	// RequestURIs lists pre-registered request_uri values for OIDC request
	// objects. A request_uri not in this list is rejected.
	RequestURIs []string

	// JSONWebKeys is the client's statically registered key set. When set it
	// is authoritative: key resolution never falls back to the remote URI.
	JSONWebKeys *jose.JSONWebKeySet

	// JSONWebKeysURI is the client's remote JWKS endpoint, consulted only
	// when no static key set is registered.
	JSONWebKeysURI string

	// RequestObjectSigningAlg is the single algorithm the client registered
	// for signing request objects (e.g. "RS256" or "none"). Verification is
	// pinned to this value.
	RequestObjectSigningAlg string

	// TokenEndpointAuthMethod and TokenEndpointAuthSigningAlg describe how
	// the client authenticates at the token endpoint. Authentication
	// mechanics are out of scope for the core; the fields are carried for
	// the embedding transport.
	TokenEndpointAuthMethod     string
	TokenEndpointAuthSigningAlg string
}

// GetGrantTypes returns the registered grant types, defaulting to
// authorization_code when none were registered.
func (c *Client) GetGrantTypes() Arguments {
	if len(c.GrantTypes) == 0 {
		return Arguments{string(GrantTypeAuthorizationCode)}
	}
	return c.GrantTypes
}

// GetResponseTypes returns the registered response types, defaulting to code
// when none were registered.
func (c *Client) GetResponseTypes() Arguments {
	if len(c.ResponseTypes) == 0 {
		return Arguments{string(ResponseTypeCode)}
	}
	return c.ResponseTypes
}
