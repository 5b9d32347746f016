package token

import (
	"context"
	"strings"

	"github.com/provara/provara"
)

// CodeStrategy mints and validates authorization codes
type CodeStrategy interface {
	// AuthorizeCodeSignature derives the storage key from a presented code
	AuthorizeCodeSignature(code string) (string, error)

	// GenerateAuthorizeCode mints a new code bound to the request, returning
	// the full bearer value and its signature
	GenerateAuthorizeCode(ctx context.Context, req *provara.Request) (code string, signature string, err error)

	// ValidateAuthorizeCode checks the presented code's signature and the
	// stored session's code expiry
	ValidateAuthorizeCode(ctx context.Context, req *provara.Request, code string) error
}

// AccessTokenStrategy mints and validates access tokens
type AccessTokenStrategy interface {
	AccessTokenSignature(token string) (string, error)
	GenerateAccessToken(ctx context.Context, req *provara.Request) (token string, signature string, err error)
	ValidateAccessToken(ctx context.Context, req *provara.Request, token string) error
}

// RefreshTokenStrategy mints and validates refresh tokens
type RefreshTokenStrategy interface {
	RefreshTokenSignature(token string) (string, error)
	GenerateRefreshToken(ctx context.Context, req *provara.Request) (token string, signature string, err error)
	ValidateRefreshToken(ctx context.Context, req *provara.Request, token string) error
}

// CoreStrategy bundles the three token strategies a deployment wires once
type CoreStrategy interface {
	CodeStrategy
	AccessTokenStrategy
	RefreshTokenStrategy
}

// split breaks an opaque token into its token and signature halves. Any part
// count other than two is a malformed-token error.
func split(token string) (payload, signature string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", "", provara.ErrMalformedToken("an opaque token must consist of exactly two dot-separated parts")
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", provara.ErrMalformedToken("an opaque token must not have empty parts")
	}
	return parts[0], parts[1], nil
}
