package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/provara/provara"
	"github.com/provara/provara/instrumentation"
	"github.com/provara/provara/security"
	"github.com/provara/provara/token"
)

// persistedFormParams is the form whitelist applied before a request is
// persisted. Everything else, notably request objects and verifier material,
// stays out of storage.
var persistedFormParams = []string{
	provara.ParamClientID,
	provara.ParamRedirectURI,
	provara.ParamScope,
	provara.ParamState,
	provara.ParamNonce,
}

// refreshScopes lists the scopes whose grant entitles the client to a
// refresh token.
var refreshScopes = []string{"offline", "offline_access"}

// CodeFlowStorage is what the authorization code flow needs from storage
type CodeFlowStorage interface {
	provara.AuthorizeCodeStorage
	provara.TokenRevocationStorage
}

// AuthorizeCodeHandler implements the authorization code flow on both
// endpoints: it issues codes for the code response type and redeems them for
// the authorization_code grant type.
type AuthorizeCodeHandler struct {
	// CodeStrategy mints and validates authorization codes
	CodeStrategy token.CodeStrategy

	// AccessTokenStrategy and RefreshTokenStrategy mint the redeemed tokens
	AccessTokenStrategy  token.AccessTokenStrategy
	RefreshTokenStrategy token.RefreshTokenStrategy

	// Store persists code and token sessions
	Store CodeFlowStorage

	// ScopeStrategy matches requested scopes against the client registration
	ScopeStrategy provara.ScopeStrategy

	// Lifespans per token kind
	AuthorizeCodeLifespan time.Duration
	AccessTokenLifespan   time.Duration
	RefreshTokenLifespan  time.Duration

	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

var (
	_ provara.AuthorizeEndpointHandler = (*AuthorizeCodeHandler)(nil)
	_ provara.TokenEndpointHandler     = (*AuthorizeCodeHandler)(nil)
)

// HandleAuthorizeEndpointRequest issues an authorization code when the
// request asks for the code response type. The storage write is the last
// effectful step: on persistence failure no response parameters are emitted
// and the response type stays unhandled, failing the chain's completion
// check.
func (h *AuthorizeCodeHandler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *provara.AuthorizeRequest, resp *provara.AuthorizeResponse) error {
	if !ar.ResponseTypes.Has(string(provara.ResponseTypeCode)) {
		return nil
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

	code, signature, err := h.CodeStrategy.GenerateAuthorizeCode(ctx, &ar.Request)
	if err != nil {
		return err
	}

	ar.Session.SetExpiresAt(provara.TokenTypeAuthorizeCode, time.Now().UTC().Add(h.AuthorizeCodeLifespan))

	if err := h.Store.CreateAuthorizeCodeSession(ctx, signature, ar.Request.Sanitize(persistedFormParams)); err != nil {
		return provara.ErrServerError(err.Error())
	}

	resp.AddQuery(provara.ParamCode, code)
	resp.AddQuery(provara.ParamState, ar.State)
	resp.AddQuery(provara.ParamScope, ar.GrantedScopes.String())
	ar.SetResponseTypeHandled(provara.ResponseTypeCode)

	if h.Instrumentation != nil {
		h.Instrumentation.Metrics().CodesIssued.Add(ctx, 1)
	}
	h.Auditor.LogTokenIssued(ar.Session.GetSubject(), ar.Client.ID, string(provara.TokenTypeAuthorizeCode), ar.GrantedScopes.String())

	return nil
}

// CanHandleTokenEndpointRequest supports the authorization_code grant
func (h *AuthorizeCodeHandler) CanHandleTokenEndpointRequest(r *provara.AccessRequest) bool {
	return r.GrantTypes.ExactOne(string(provara.GrantTypeAuthorizationCode))
}

// HandleTokenEndpointRequest redeems an authorization code: it loads the
// stored request by the code's signature, validates the code, checks client
// identity and redirect URI binding, and invalidates the code. At most one
// redemption can succeed; a second attempt observes the inactive record and
// triggers a revocation cascade on the tokens derived from the first.
func (h *AuthorizeCodeHandler) HandleTokenEndpointRequest(ctx context.Context, r *provara.AccessRequest) error {
	code := r.Form.Get(provara.ParamCode)
	if code == "" {
		return provara.ErrMissingParameter(provara.ParamCode)
	}

	signature, err := h.CodeStrategy.AuthorizeCodeSignature(code)
	if err != nil {
		return err
	}

	stored, err := h.Store.GetAuthorizeCodeSession(ctx, signature)
	if err != nil {
		if errors.Is(err, provara.ErrInactive) {
			return h.onCodeReplay(ctx, r, stored)
		}
		return err
	}

	if err := h.CodeStrategy.ValidateAuthorizeCode(ctx, stored, code); err != nil {
		if errors.Is(err, provara.ErrSignatureMismatch) {
			h.Auditor.LogSignatureMismatch(clientID(r), string(provara.TokenTypeAuthorizeCode))
		}
		return err
	}

	if stored.Client == nil || r.Client == nil || stored.Client.ID != r.Client.ID {
		return provara.ErrClientMismatch
	}

	if storedURI := stored.Form.Get(provara.ParamRedirectURI); storedURI != "" && storedURI != r.Form.Get(provara.ParamRedirectURI) {
		return provara.ErrInvalidGrant("the redirect_uri does not match the one used in the authorize request")
	}

	if err := h.Store.InvalidateAuthorizeCodeSession(ctx, signature); err != nil {
		if errors.Is(err, provara.ErrInactive) {
			return h.onCodeReplay(ctx, r, stored)
		}
		return err
	}

	// The code's request becomes this grant: same ID (so revocation
	// cascades reach every derived token), same scopes, cloned session.
	r.ID = stored.ID
	r.RequestedScopes = stored.RequestedScopes
	r.GrantedScopes = stored.GrantedScopes
	r.Session = stored.Session.Clone()

	now := time.Now().UTC()
	r.Session.SetExpiresAt(provara.TokenTypeAccessToken, now.Add(h.AccessTokenLifespan))
	if r.GrantedScopes.HasOneOf(refreshScopes...) {
		r.Session.SetExpiresAt(provara.TokenTypeRefreshToken, now.Add(h.RefreshTokenLifespan))
	}

	return nil
}

// onCodeReplay handles redemption of an already-invalidated code. The tokens
// minted by the successful redemption are revoked, because a replayed code
// means either the legitimate client or an attacker holds tokens that can no
// longer be trusted.
func (h *AuthorizeCodeHandler) onCodeReplay(ctx context.Context, r *provara.AccessRequest, stored *provara.Request) error {
	if h.Instrumentation != nil {
		h.Instrumentation.Metrics().ReplayDetected.Add(ctx, 1)
	}

	if stored != nil {
		h.Auditor.LogReplayDetected(clientID(r), stored.ID)
		if err := h.Store.RevokeAccessToken(ctx, stored.ID); err != nil {
			h.logger().Error("revoking access tokens after code replay", "request_id", stored.ID, "error", err)
		}
		if err := h.Store.RevokeRefreshToken(ctx, stored.ID); err != nil {
			h.logger().Error("revoking refresh tokens after code replay", "request_id", stored.ID, "error", err)
		}
	} else {
		h.Auditor.LogReplayDetected(clientID(r), "")
	}

	return provara.ErrInactive.WithDescription("the authorization code has already been redeemed")
}

// PopulateTokenEndpointResponse mints the access token, and a refresh token
// when an offline scope was granted, persists both sessions, and assembles
// the token response.
func (h *AuthorizeCodeHandler) PopulateTokenEndpointResponse(ctx context.Context, r *provara.AccessRequest, resp *provara.AccessResponse) error {
	accessToken, accessSignature, err := h.AccessTokenStrategy.GenerateAccessToken(ctx, &r.Request)
	if err != nil {
		return err
	}
	if err := h.Store.CreateAccessTokenSession(ctx, accessSignature, r.Request.Sanitize(persistedFormParams)); err != nil {
		return provara.ErrServerError(err.Error())
	}

	if r.GrantedScopes.HasOneOf(refreshScopes...) {
		refreshToken, refreshSignature, err := h.RefreshTokenStrategy.GenerateRefreshToken(ctx, &r.Request)
		if err != nil {
			return err
		}
		if err := h.Store.CreateRefreshTokenSession(ctx, refreshSignature, r.Request.Sanitize(persistedFormParams)); err != nil {
			return provara.ErrServerError(err.Error())
		}
		resp.SetExtra(provara.ParamRefreshToken, refreshToken)
	}

	resp.SetAccessToken(accessToken)
	resp.SetTokenType(provara.BearerTokenType)
	resp.SetExpiresIn(h.AccessTokenLifespan)
	resp.SetScopes(r.GrantedScopes)

	if h.Instrumentation != nil {
		h.Instrumentation.Metrics().CodesRedeemed.Add(ctx, 1)
		h.Instrumentation.Metrics().TokensIssued.Add(ctx, 1)
	}
	h.Auditor.LogTokenIssued(r.Session.GetSubject(), clientID(r), string(provara.TokenTypeAccessToken), r.GrantedScopes.String())

	return nil
}

func (h *AuthorizeCodeHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func clientID(r *provara.AccessRequest) string {
	if r == nil || r.Client == nil {
		return ""
	}
	return r.Client.ID
}
