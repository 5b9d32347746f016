package handler

import (
	"context"

	"github.com/provara/provara"
	"github.com/provara/provara/token"
)

// CoreIntrospector introspects one opaque token kind: it derives the storage
// key from the presented token, loads the session, and re-validates the
// token against it. Register one instance per token kind; the provider sorts
// the chain by the caller's token_type_hint.
type CoreIntrospector struct {
	Type     provara.TokenType
	Strategy token.CoreStrategy
	Store    provara.TokenRevocationStorage
}

var _ provara.TokenIntrospector = (*CoreIntrospector)(nil)

// CanIntrospect reports whether this delegate covers tt
func (i *CoreIntrospector) CanIntrospect(tt provara.TokenType) bool {
	return tt == i.Type
}

// IntrospectToken resolves the token to its stored request. Storage and
// validation failures pass through untouched so the provider can tell token
// invalidity from infrastructure trouble.
func (i *CoreIntrospector) IntrospectToken(ctx context.Context, presented string) (*provara.Request, provara.TokenType, error) {
	switch i.Type {
	case provara.TokenTypeAccessToken:
		signature, err := i.Strategy.AccessTokenSignature(presented)
		if err != nil {
			return nil, i.Type, err
		}
		req, err := i.Store.GetAccessTokenSession(ctx, signature)
		if err != nil {
			return nil, i.Type, err
		}
		if err := i.Strategy.ValidateAccessToken(ctx, req, presented); err != nil {
			return nil, i.Type, err
		}
		return req, i.Type, nil

	case provara.TokenTypeRefreshToken:
		signature, err := i.Strategy.RefreshTokenSignature(presented)
		if err != nil {
			return nil, i.Type, err
		}
		req, err := i.Store.GetRefreshTokenSession(ctx, signature)
		if err != nil {
			return nil, i.Type, err
		}
		if err := i.Strategy.ValidateRefreshToken(ctx, req, presented); err != nil {
			return nil, i.Type, err
		}
		return req, i.Type, nil

	default:
		return nil, i.Type, provara.ErrNotFound.WithDescriptionf("no introspection support for token type %q", i.Type)
	}
}
