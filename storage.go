package provara

import "context"

// Storage contracts. Only the signature half of a token is ever used as a
// lookup key; implementations never persist the usable bearer value. All
// methods accept context.Context for tracing and cancellation, and all
// lookups distinguish not-found, inactive, and expired via the sentinel
// errors in this package. Concrete persistence technology is out of scope;
// storage/memory ships a reference implementation.

// ClientRegistry loads registered clients. Clients are owned externally and
// immutable once loaded.
type ClientRegistry interface {
	// GetClient retrieves a client by ID; ErrNotFound if unknown
	GetClient(ctx context.Context, id string) (*Client, error)

	// ValidateClientSecret checks a plaintext secret against the client's
	// stored hash. Hashing is delegated to the registry's configured hasher.
	ValidateClientSecret(ctx context.Context, id string, secret []byte) error
}

// AuthorizeCodeStorage binds authorization codes to the requests that minted
// them. Records start active; invalidation flips them inactive and must never
// physically delete, because replay detection requires the record to persist
// in deactivated form.
type AuthorizeCodeStorage interface {
	// CreateAuthorizeCodeSession binds a fresh code signature to a request
	CreateAuthorizeCodeSession(ctx context.Context, signature string, req *Request) error

	// GetAuthorizeCodeSession returns the bound request. Fails with
	// ErrNotFound, ErrInactive (already redeemed, likely replay), or
	// ErrExpired (session expiry passed).
	GetAuthorizeCodeSession(ctx context.Context, signature string) (*Request, error)

	// InvalidateAuthorizeCodeSession atomically flips active to false.
	// At most one caller may succeed for a given signature; later callers
	// observe ErrInactive.
	InvalidateAuthorizeCodeSession(ctx context.Context, signature string) error
}

// AccessTokenStorage persists access token sessions keyed by signature.
type AccessTokenStorage interface {
	CreateAccessTokenSession(ctx context.Context, signature string, req *Request) error

	// GetAccessTokenSession fails with ErrNotFound, ErrInactive, or ErrExpired
	GetAccessTokenSession(ctx context.Context, signature string) (*Request, error)

	// DeleteAccessTokenSession physically removes the session
	DeleteAccessTokenSession(ctx context.Context, signature string) error
}

// RefreshTokenStorage persists refresh token sessions keyed by signature.
type RefreshTokenStorage interface {
	CreateRefreshTokenSession(ctx context.Context, signature string, req *Request) error

	// GetRefreshTokenSession fails with ErrNotFound, ErrInactive, or ErrExpired
	GetRefreshTokenSession(ctx context.Context, signature string) (*Request, error)

	// DeleteRefreshTokenSession physically removes the session
	DeleteRefreshTokenSession(ctx context.Context, signature string) error
}

// TokenRevocationStorage revokes tokens by the originating request ID rather
// than by signature, so revoking one grant's access and refresh tokens
// together only requires knowing the request ID.
type TokenRevocationStorage interface {
	AccessTokenStorage
	RefreshTokenStorage

	// RevokeAccessToken removes every access token session created for the
	// given request ID
	RevokeAccessToken(ctx context.Context, requestID string) error

	// RevokeRefreshToken removes every refresh token session created for the
	// given request ID
	RevokeRefreshToken(ctx context.Context, requestID string) error
}

// PKCERequestStorage is a side channel keyed by authorization code signature
// holding the code-verifier challenge context. Absence is a hard ErrNotFound;
// PKCE presence must be unambiguous to the grant handler, never silently
// defaulted.
type PKCERequestStorage interface {
	CreatePKCERequestSession(ctx context.Context, codeSignature string, req *Request) error
	GetPKCERequestSession(ctx context.Context, codeSignature string) (*Request, error)
	DeletePKCERequestSession(ctx context.Context, codeSignature string) error
}

// OpenIDConnectRequestStorage binds the authorize request that carried the
// openid scope to its code signature so the token endpoint can mint the ID
// token from the original session (nonce included).
type OpenIDConnectRequestStorage interface {
	CreateOpenIDConnectSession(ctx context.Context, codeSignature string, req *Request) error
	GetOpenIDConnectSession(ctx context.Context, codeSignature string) (*Request, error)
	DeleteOpenIDConnectSession(ctx context.Context, codeSignature string) error
}
