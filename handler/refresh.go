package handler

import (
	"context"
	"errors"
	"time"

	"github.com/provara/provara"
	"github.com/provara/provara/instrumentation"
	"github.com/provara/provara/security"
	"github.com/provara/provara/token"
)

// RefreshTokenHandler implements the refresh_token grant with full rotation:
// every refresh revokes the previous access and refresh tokens before a new
// pair is minted under the same request ID.
type RefreshTokenHandler struct {
	AccessTokenStrategy  token.AccessTokenStrategy
	RefreshTokenStrategy token.RefreshTokenStrategy
	Store                provara.TokenRevocationStorage

	AccessTokenLifespan  time.Duration
	RefreshTokenLifespan time.Duration

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

var _ provara.TokenEndpointHandler = (*RefreshTokenHandler)(nil)

// CanHandleTokenEndpointRequest supports the refresh_token grant
func (h *RefreshTokenHandler) CanHandleTokenEndpointRequest(r *provara.AccessRequest) bool {
	return r.GrantTypes.ExactOne(string(provara.GrantTypeRefreshToken))
}

// HandleTokenEndpointRequest validates the presented refresh token against
// its stored session and adopts the original grant's identity: request ID,
// scopes, and a clone of the session.
func (h *RefreshTokenHandler) HandleTokenEndpointRequest(ctx context.Context, r *provara.AccessRequest) error {
	refreshToken := r.Form.Get(provara.ParamRefreshToken)
	if refreshToken == "" {
		return provara.ErrMissingParameter(provara.ParamRefreshToken)
	}

	signature, err := h.RefreshTokenStrategy.RefreshTokenSignature(refreshToken)
	if err != nil {
		return err
	}

	stored, err := h.Store.GetRefreshTokenSession(ctx, signature)
	if err != nil {
		return err
	}

	if err := h.RefreshTokenStrategy.ValidateRefreshToken(ctx, stored, refreshToken); err != nil {
		if errors.Is(err, provara.ErrSignatureMismatch) {
			h.Auditor.LogSignatureMismatch(clientID(r), string(provara.TokenTypeRefreshToken))
		}
		return err
	}

	if stored.Client == nil || r.Client == nil || stored.Client.ID != r.Client.ID {
		return provara.ErrClientMismatch
	}

	if !r.Client.GetGrantTypes().Has(string(provara.GrantTypeRefreshToken)) {
		return provara.ErrUnauthorizedClient("the client is not allowed to use the refresh_token grant")
	}

	r.ID = stored.ID
	r.RequestedScopes = stored.RequestedScopes
	r.GrantedScopes = stored.GrantedScopes
	r.Session = stored.Session.Clone()

	now := time.Now().UTC()
	r.Session.SetExpiresAt(provara.TokenTypeAccessToken, now.Add(h.AccessTokenLifespan))
	r.Session.SetExpiresAt(provara.TokenTypeRefreshToken, now.Add(h.RefreshTokenLifespan))

	return nil
}

// PopulateTokenEndpointResponse rotates the grant's tokens. The old pair is
// revoked first so a storage failure can strand the client without tokens
// but never leave two live refresh tokens for one grant.
func (h *RefreshTokenHandler) PopulateTokenEndpointResponse(ctx context.Context, r *provara.AccessRequest, resp *provara.AccessResponse) error {
	if err := h.Store.RevokeAccessToken(ctx, r.ID); err != nil {
		return provara.ErrServerError(err.Error())
	}
	if err := h.Store.RevokeRefreshToken(ctx, r.ID); err != nil {
		return provara.ErrServerError(err.Error())
	}

	accessToken, accessSignature, err := h.AccessTokenStrategy.GenerateAccessToken(ctx, &r.Request)
	if err != nil {
		return err
	}
	if err := h.Store.CreateAccessTokenSession(ctx, accessSignature, r.Request.Sanitize(persistedFormParams)); err != nil {
		return provara.ErrServerError(err.Error())
	}

	refreshToken, refreshSignature, err := h.RefreshTokenStrategy.GenerateRefreshToken(ctx, &r.Request)
	if err != nil {
		return err
	}
	if err := h.Store.CreateRefreshTokenSession(ctx, refreshSignature, r.Request.Sanitize(persistedFormParams)); err != nil {
		return provara.ErrServerError(err.Error())
	}

	resp.SetAccessToken(accessToken)
	resp.SetTokenType(provara.BearerTokenType)
	resp.SetExpiresIn(h.AccessTokenLifespan)
	resp.SetScopes(r.GrantedScopes)
	resp.SetExtra(provara.ParamRefreshToken, refreshToken)

	if h.Instrumentation != nil {
		h.Instrumentation.Metrics().TokensIssued.Add(ctx, 1)
	}
	h.Auditor.LogTokenIssued(r.Session.GetSubject(), clientID(r), string(provara.TokenTypeAccessToken), r.GrantedScopes.String())

	return nil
}
