package handler

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/provara/provara"
	"github.com/provara/provara/instrumentation"
	"github.com/provara/provara/token"
)

const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// PKCEHandler implements RFC 7636. On the authorize side it records the code
// challenge keyed by the issued code's signature; on the token side it
// validates the presented verifier against that record.
//
// Like the OpenID Connect handler it must run after the AuthorizeCodeHandler
// on the authorize chain so the code signature exists as a storage key.
type PKCEHandler struct {
	CodeStrategy token.CodeStrategy
	Store        provara.PKCERequestStorage

	// Enforce rejects authorize requests without a code challenge
	Enforce bool

	// EnforceForPublicClients rejects challenge-less requests from public
	// clients only
	EnforceForPublicClients bool

	// AllowPlain permits the plain challenge method. S256 is always allowed.
	AllowPlain bool

	Instrumentation *instrumentation.Instrumentation
}

var (
	_ provara.AuthorizeEndpointHandler = (*PKCEHandler)(nil)
	_ provara.TokenEndpointHandler     = (*PKCEHandler)(nil)
)

// HandleAuthorizeEndpointRequest validates and records the code challenge
func (h *PKCEHandler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *provara.AuthorizeRequest, resp *provara.AuthorizeResponse) error {
	if !ar.ResponseTypes.Has(string(provara.ResponseTypeCode)) {
		return nil
	}

	challenge := ar.Form.Get(provara.ParamCodeChallenge)
	method := ar.Form.Get(provara.ParamCodeChallengeMethod)

	if challenge == "" {
		if method != "" {
			return provara.ErrInvalidRequest("a code_challenge_method was supplied without a code_challenge")
		}
		if h.Enforce || (h.EnforceForPublicClients && ar.Client.Public) {
			return provara.ErrInvalidRequest("this client must use PKCE and supply a code_challenge")
		}
		return nil
	}

	switch method {
	case "", provara.PKCEMethodPlain:
		if !h.AllowPlain {
			return provara.ErrInvalidRequest("the plain code_challenge_method is not allowed, use S256")
		}
	case provara.PKCEMethodS256:
	default:
		return provara.ErrInvalidRequest("unsupported code_challenge_method " + method)
	}

	code := resp.GetCode()
	if code == "" {
		return provara.ErrServerError("the PKCE session must be stored after the authorization code has been issued")
	}
	signature, err := h.CodeStrategy.AuthorizeCodeSignature(code)
	if err != nil {
		return err
	}

	if err := h.Store.CreatePKCERequestSession(ctx, signature, ar.Request.Sanitize([]string{
		provara.ParamCodeChallenge,
		provara.ParamCodeChallengeMethod,
		provara.ParamClientID,
	})); err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}

// CanHandleTokenEndpointRequest supports the authorization_code grant
func (h *PKCEHandler) CanHandleTokenEndpointRequest(r *provara.AccessRequest) bool {
	return r.GrantTypes.ExactOne(string(provara.GrantTypeAuthorizationCode))
}

// HandleTokenEndpointRequest validates the code verifier against the
// challenge recorded at authorize time
func (h *PKCEHandler) HandleTokenEndpointRequest(ctx context.Context, r *provara.AccessRequest) error {
	verifier := r.Form.Get(provara.ParamCodeVerifier)

	code := r.Form.Get(provara.ParamCode)
	if code == "" {
		// The code handler reports the missing parameter
		return nil
	}
	signature, err := h.CodeStrategy.AuthorizeCodeSignature(code)
	if err != nil {
		return err
	}

	stored, err := h.Store.GetPKCERequestSession(ctx, signature)
	if err != nil {
		if errors.Is(err, provara.ErrNotFound) {
			if verifier != "" {
				return h.fail(ctx, provara.ErrInvalidGrant("a code_verifier was supplied but no code_challenge was recorded for this code"))
			}
			if h.Enforce || (h.EnforceForPublicClients && r.Client != nil && r.Client.Public) {
				return h.fail(ctx, provara.ErrInvalidGrant("this client must use PKCE but no code_challenge was recorded"))
			}
			return nil
		}
		return err
	}

	if verifier == "" {
		return h.fail(ctx, provara.ErrInvalidGrant("a code_challenge was recorded but no code_verifier was supplied"))
	}
	if err := checkVerifierShape(verifier); err != nil {
		return h.fail(ctx, err)
	}

	challenge := stored.Form.Get(provara.ParamCodeChallenge)
	method := stored.Form.Get(provara.ParamCodeChallengeMethod)

	var derived string
	switch method {
	case provara.PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		derived = verifier
	}

	if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
		return h.fail(ctx, provara.ErrInvalidGrant("the code_verifier does not match the code_challenge"))
	}

	if err := h.Store.DeletePKCERequestSession(ctx, signature); err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}

// PopulateTokenEndpointResponse contributes nothing to the response
func (h *PKCEHandler) PopulateTokenEndpointResponse(_ context.Context, _ *provara.AccessRequest, _ *provara.AccessResponse) error {
	return nil
}

func (h *PKCEHandler) fail(ctx context.Context, err error) error {
	if h.Instrumentation != nil {
		h.Instrumentation.Metrics().PKCEValidationFail.Add(ctx, 1)
	}
	return err
}

// checkVerifierShape enforces the RFC 7636 length and character constraints
func checkVerifierShape(verifier string) error {
	if len(verifier) < minVerifierLength {
		return provara.ErrInvalidGrant("the code_verifier must be at least 43 characters long")
	}
	if len(verifier) > maxVerifierLength {
		return provara.ErrInvalidGrant("the code_verifier must be at most 128 characters long")
	}
	for _, c := range verifier {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return provara.ErrInvalidGrant("the code_verifier contains characters outside the unreserved set")
		}
	}
	return nil
}
