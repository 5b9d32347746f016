package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/provara/provara"
	"github.com/provara/provara/instrumentation"
	"github.com/provara/provara/security"
	"github.com/provara/provara/token"
)

// ImplicitHandler issues an access token straight from the authorize
// endpoint for the token response type. The token travels in the redirect
// fragment so it never hits server logs or Referer headers as a query
// parameter.
type ImplicitHandler struct {
	AccessTokenStrategy token.AccessTokenStrategy
	Store               provara.AccessTokenStorage
	ScopeStrategy       provara.ScopeStrategy
	AccessTokenLifespan time.Duration

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

var _ provara.AuthorizeEndpointHandler = (*ImplicitHandler)(nil)

// HandleAuthorizeEndpointRequest issues the access token for the token
// response type and marks it handled. As with code issuance the storage
// write precedes any emission into the response.
func (h *ImplicitHandler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *provara.AuthorizeRequest, resp *provara.AuthorizeResponse) error {
	if !ar.ResponseTypes.Has(string(provara.ResponseTypeToken)) {
		return nil
	}

	if !ar.Client.GetGrantTypes().Has(string(provara.GrantTypeImplicit)) {
		return provara.ErrUnauthorizedClient("the client is not allowed to use the implicit grant")
	}

	if !provara.IsSecureRedirectURI(ar.RedirectURI) {
		return provara.ErrRedirectInsecure(ar.RedirectURI)
	}

	for _, scope := range ar.RequestedScopes {
		if !h.ScopeStrategy(ar.Client.Scopes, scope) {
			return provara.ErrInvalidScope(scope)
		}
		ar.GrantScope(scope)
	}

	ar.Session.SetExpiresAt(provara.TokenTypeAccessToken, time.Now().UTC().Add(h.AccessTokenLifespan))

	accessToken, signature, err := h.AccessTokenStrategy.GenerateAccessToken(ctx, &ar.Request)
	if err != nil {
		return err
	}

	if err := h.Store.CreateAccessTokenSession(ctx, signature, ar.Request.Sanitize(persistedFormParams)); err != nil {
		return provara.ErrServerError(err.Error())
	}

	resp.AddFragment(provara.ParamAccessToken, accessToken)
	resp.AddFragment(provara.ParamTokenType, provara.BearerTokenType)
	resp.AddFragment(provara.ParamExpiresIn, strconv.FormatInt(int64(h.AccessTokenLifespan/time.Second), 10))
	resp.AddFragment(provara.ParamState, ar.State)
	resp.AddFragment(provara.ParamScope, ar.GrantedScopes.String())
	ar.SetResponseTypeHandled(provara.ResponseTypeToken)

	if h.Instrumentation != nil {
		h.Instrumentation.Metrics().TokensIssued.Add(ctx, 1)
	}
	h.Auditor.LogTokenIssued(ar.Session.GetSubject(), ar.Client.ID, string(provara.TokenTypeAccessToken), ar.GrantedScopes.String())

	return nil
}
