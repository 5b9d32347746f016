package provara

import (
	"context"
	"net/url"
)

// AuthorizeEndpointHandler is a delegate in the authorize chain. The chain
// invokes every delegate unconditionally; a delegate whose response types do
// not intersect the request must no-op itself. Store writes should be the
// last effectful step of a delegate, because the chain rolls back nothing.
type AuthorizeEndpointHandler interface {
	HandleAuthorizeEndpointRequest(ctx context.Context, ar *AuthorizeRequest, resp *AuthorizeResponse) error
}

// TokenEndpointHandler is a delegate in the token chain. The chain first asks
// every delegate whether it supports the request; every supporting delegate
// then runs its grant logic, and afterwards populates the response. Keeping
// "can this grant run" separate from "what does it return" lets one grant
// type piggyback response population onto a base grant.
type TokenEndpointHandler interface {
	CanHandleTokenEndpointRequest(r *AccessRequest) bool
	HandleTokenEndpointRequest(ctx context.Context, r *AccessRequest) error
	PopulateTokenEndpointResponse(ctx context.Context, r *AccessRequest, resp *AccessResponse) error
}

// TokenIntrospector is a delegate in the introspection chain. Delegates
// declare which token types they can inspect; the chain tries hint-matched
// delegates first and the first delegate producing a request wins.
type TokenIntrospector interface {
	CanIntrospect(tt TokenType) bool
	IntrospectToken(ctx context.Context, token string) (*Request, TokenType, error)
}

// TokenRevoker is a delegate in the revocation chain. The chain invokes
// supporting delegates until one reports true (revoked) or all report false
// (token not found anywhere, which is inert, not an error). A client identity
// mismatch propagates as a hard error through the whole chain.
type TokenRevoker interface {
	CanRevoke(tt TokenType) bool
	RevokeToken(ctx context.Context, token string, clientID string) (bool, error)
}

// RequestObjectProcessor verifies a client-signed OIDC request object and
// overlays its claims onto the form. Implemented by oidc.RequestObjectHandler.
type RequestObjectProcessor interface {
	ProcessForm(ctx context.Context, client *Client, form url.Values) error
}
