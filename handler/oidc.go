package handler

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/provara/provara"
	"github.com/provara/provara/token"
)

// oidcSessionFormParams is what the OpenID Connect session keeps from the
// authorize form. The nonce must survive until ID token minting.
var oidcSessionFormParams = []string{
	provara.ParamClientID,
	provara.ParamRedirectURI,
	provara.ParamScope,
	provara.ParamNonce,
}

// OpenIDConnectExplicitHandler adds an ID token to the authorization code
// flow when the openid scope is granted. On the authorize side it snapshots
// the request, nonce included, keyed by the issued code's signature; on the
// token side it redeems that snapshot into an ID token.
//
// It must be registered after the AuthorizeCodeHandler: the snapshot can only
// be keyed once the code exists in the response.
type OpenIDConnectExplicitHandler struct {
	CodeStrategy    token.CodeStrategy
	IDTokenStrategy *token.RS256JWTStrategy
	Store           provara.OpenIDConnectRequestStorage

	Issuer          string
	IDTokenLifespan time.Duration
}

var (
	_ provara.AuthorizeEndpointHandler = (*OpenIDConnectExplicitHandler)(nil)
	_ provara.TokenEndpointHandler     = (*OpenIDConnectExplicitHandler)(nil)
)

// HandleAuthorizeEndpointRequest stores the OpenID Connect session for a
// code request carrying the openid scope
func (h *OpenIDConnectExplicitHandler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *provara.AuthorizeRequest, resp *provara.AuthorizeResponse) error {
	if !ar.GrantedScopes.Has("openid") || !ar.ResponseTypes.ExactOne(string(provara.ResponseTypeCode)) {
		return nil
	}

	code := resp.GetCode()
	if code == "" {
		return provara.ErrServerError("the OpenID Connect session must be stored after the authorization code has been issued")
	}

	signature, err := h.CodeStrategy.AuthorizeCodeSignature(code)
	if err != nil {
		return err
	}

	if err := h.Store.CreateOpenIDConnectSession(ctx, signature, ar.Request.Sanitize(oidcSessionFormParams)); err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}

// CanHandleTokenEndpointRequest supports the authorization_code grant. The
// openid scope check happens later because scopes are only granted once the
// code handler has restored them from the stored request.
func (h *OpenIDConnectExplicitHandler) CanHandleTokenEndpointRequest(r *provara.AccessRequest) bool {
	return r.GrantTypes.ExactOne(string(provara.GrantTypeAuthorizationCode))
}

// HandleTokenEndpointRequest has nothing to validate of its own; code
// validity and client binding are the code handler's responsibility.
func (h *OpenIDConnectExplicitHandler) HandleTokenEndpointRequest(_ context.Context, _ *provara.AccessRequest) error {
	return nil
}

// PopulateTokenEndpointResponse mints the ID token from the stored OpenID
// Connect session and attaches it to the token response. The session is
// deleted afterwards; an ID token is minted at most once per code.
func (h *OpenIDConnectExplicitHandler) PopulateTokenEndpointResponse(ctx context.Context, r *provara.AccessRequest, resp *provara.AccessResponse) error {
	if !r.GrantedScopes.Has("openid") {
		return nil
	}

	code := r.Form.Get(provara.ParamCode)
	signature, err := h.CodeStrategy.AuthorizeCodeSignature(code)
	if err != nil {
		return err
	}

	stored, err := h.Store.GetOpenIDConnectSession(ctx, signature)
	if err != nil {
		if errors.Is(err, provara.ErrNotFound) {
			return provara.ErrServerError("the openid scope was granted but no OpenID Connect session exists for this code")
		}
		return err
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{}
	var headers map[string]any

	if js, ok := r.Session.(*token.JWTSession); ok {
		for k, v := range js.Claims {
			claims[k] = v
		}
		headers = js.Headers
	}

	claims["iss"] = h.Issuer
	claims["sub"] = r.Session.GetSubject()
	claims["aud"] = clientID(r)
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(h.IDTokenLifespan).Unix()
	if nonce := stored.Form.Get(provara.ParamNonce); nonce != "" {
		claims["nonce"] = nonce
	}

	idToken, _, err := h.IDTokenStrategy.Generate(ctx, claims, headers)
	if err != nil {
		return err
	}

	resp.SetExtra("id_token", idToken)

	if err := h.Store.DeleteOpenIDConnectSession(ctx, signature); err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}
