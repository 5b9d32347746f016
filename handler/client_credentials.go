package handler

import (
	"context"
	"time"

	"github.com/provara/provara"
	"github.com/provara/provara/instrumentation"
	"github.com/provara/provara/security"
	"github.com/provara/provara/token"
)

// ClientCredentialsHandler implements the client_credentials grant. Only
// confidential clients qualify; the grant never yields a refresh token
// because the client can always re-authenticate.
type ClientCredentialsHandler struct {
	AccessTokenStrategy token.AccessTokenStrategy
	Store               provara.AccessTokenStorage
	ScopeStrategy       provara.ScopeStrategy
	AccessTokenLifespan time.Duration

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

var _ provara.TokenEndpointHandler = (*ClientCredentialsHandler)(nil)

// CanHandleTokenEndpointRequest supports the client_credentials grant
func (h *ClientCredentialsHandler) CanHandleTokenEndpointRequest(r *provara.AccessRequest) bool {
	return r.GrantTypes.ExactOne(string(provara.GrantTypeClientCredentials))
}

// HandleTokenEndpointRequest grants the requested scopes directly from the
// client registration
func (h *ClientCredentialsHandler) HandleTokenEndpointRequest(ctx context.Context, r *provara.AccessRequest) error {
	if r.Client == nil || r.Client.Public {
		return provara.ErrInvalidClient("the client_credentials grant requires a confidential client")
	}

	for _, scope := range r.RequestedScopes {
		if !h.ScopeStrategy(r.Client.Scopes, scope) {
			return provara.ErrInvalidScope(scope)
		}
		r.GrantScope(scope)
	}

	r.Session.SetExpiresAt(provara.TokenTypeAccessToken, time.Now().UTC().Add(h.AccessTokenLifespan))

	return nil
}

// PopulateTokenEndpointResponse mints and persists the access token
func (h *ClientCredentialsHandler) PopulateTokenEndpointResponse(ctx context.Context, r *provara.AccessRequest, resp *provara.AccessResponse) error {
	accessToken, signature, err := h.AccessTokenStrategy.GenerateAccessToken(ctx, &r.Request)
	if err != nil {
		return err
	}
	if err := h.Store.CreateAccessTokenSession(ctx, signature, r.Request.Sanitize(persistedFormParams)); err != nil {
		return provara.ErrServerError(err.Error())
	}

	resp.SetAccessToken(accessToken)
	resp.SetTokenType(provara.BearerTokenType)
	resp.SetExpiresIn(h.AccessTokenLifespan)
	resp.SetScopes(r.GrantedScopes)

	if h.Instrumentation != nil {
		h.Instrumentation.Metrics().TokensIssued.Add(ctx, 1)
	}
	h.Auditor.LogTokenIssued(r.Session.GetSubject(), clientID(r), string(provara.TokenTypeAccessToken), r.GrantedScopes.String())

	return nil
}
