package provara

import (
	"fmt"
	"net/http"
)

// ErrorKind discriminates the failure taxonomy independent of the RFC 6749
// wire code. Internal logic branches on the kind; the embedding transport
// maps Code/Status to a wire error response.
type ErrorKind string

const (
	// Malformed request parameters.
	KindMissingParameter = ErrorKind("missing_parameter")
	KindInvalidParameter = ErrorKind("invalid_parameter")
	KindMalformedToken   = ErrorKind("malformed_token")

	// Redirect URI failures, each distinctly tagged so callers and logs can
	// tell them apart.
	KindRedirectUnmatched = ErrorKind("redirect_uri_unmatched")
	KindRedirectMalformed = ErrorKind("redirect_uri_malformed")
	KindRedirectFragment  = ErrorKind("redirect_uri_has_fragment")
	KindRedirectInsecure  = ErrorKind("redirect_uri_insecure")

	// Scope policy.
	KindScopeRejected = ErrorKind("scope_rejected")

	// Grant and token invalidity. Kept as four distinct kinds; introspection
	// may collapse them to a boolean but internal logic must not conflate
	// "expired" with "never existed".
	KindNotFound          = ErrorKind("not_found")
	KindInactive          = ErrorKind("inactive")
	KindExpired           = ErrorKind("expired")
	KindSignatureMismatch = ErrorKind("signature_mismatch")

	// The token's owning client differs from the requester. Always a hard
	// error, even inside best-effort chains like revocation.
	KindClientMismatch = ErrorKind("client_mismatch")

	// Unsupported or unsatisfied protocol element at the chain-completion
	// check.
	KindUnsupported = ErrorKind("unsupported")

	// Anything surfaced by a collaborator: storage failure, HTTP fetch
	// failure, malformed remote JWKS. Never retried by the core.
	KindUpstream = ErrorKind("upstream")
)

// OAuth error codes from RFC 6749 and RFC 7009.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedTokenType    = "unsupported_token_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
)

// Error is the typed protocol error returned by every provider operation.
// Kind carries the internal taxonomy, Code the OAuth wire code, Description a
// human-readable detail, and Status a suggested HTTP status. The combination
// is enough for the transport layer to produce a lossless wire error.
type Error struct {
	Kind        ErrorKind
	Code        string
	Description string
	Status      int
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches any *Error of the same Kind, so sentinel comparisons like
// errors.Is(err, ErrNotFound) work regardless of the attached description.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDescription returns a copy of the error carrying desc. The original is
// left untouched so shared sentinels stay immutable.
func (e *Error) WithDescription(desc string) *Error {
	c := *e
	c.Description = desc
	return &c
}

// WithDescriptionf is WithDescription with fmt.Sprintf semantics.
func (e *Error) WithDescriptionf(format string, args ...any) *Error {
	return e.WithDescription(fmt.Sprintf(format, args...))
}

// NewError creates a new typed protocol error
func NewError(kind ErrorKind, code, description string, status int) *Error {
	return &Error{Kind: kind, Code: code, Description: description, Status: status}
}

// Sentinel errors for the storage and token-validity taxonomy. Storage
// implementations return these (or values wrapping them) so that handlers can
// distinguish not-found, replay, and expiry.
var (
	ErrNotFound = &Error{
		Kind:   KindNotFound,
		Code:   ErrorCodeInvalidGrant,
		Status: http.StatusBadRequest,

		Description: "The requested resource could not be found",
	}

	ErrInactive = &Error{
		Kind:   KindInactive,
		Code:   ErrorCodeInvalidGrant,
		Status: http.StatusBadRequest,

		Description: "The token has already been used or invalidated",
	}

	ErrExpired = &Error{
		Kind:   KindExpired,
		Code:   ErrorCodeInvalidGrant,
		Status: http.StatusBadRequest,

		Description: "The token has expired",
	}

	ErrSignatureMismatch = &Error{
		Kind:   KindSignatureMismatch,
		Code:   ErrorCodeInvalidToken,
		Status: http.StatusUnauthorized,

		Description: "The token signature does not match its payload",
	}

	ErrClientMismatch = &Error{
		Kind:   KindClientMismatch,
		Code:   ErrorCodeInvalidClient,
		Status: http.StatusUnauthorized,

		Description: "The token was issued to a different client",
	}
)

// Constructors for the remaining kinds, in the style of RFC 6749 wire codes.
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(KindInvalidParameter, ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrMissingParameter indicates a required form parameter is absent
	ErrMissingParameter = func(param string) *Error {
		return NewError(KindMissingParameter, ErrorCodeInvalidRequest,
			fmt.Sprintf("Required parameter %q is missing", param), http.StatusBadRequest)
	}

	// ErrMalformedToken indicates a presented token does not have the expected shape
	ErrMalformedToken = func(desc string) *Error {
		return NewError(KindMalformedToken, ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(KindInvalidParameter, ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates the client is unknown or could not be loaded
	ErrInvalidClient = func(desc string) *Error {
		return NewError(KindInvalidParameter, ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates a requested scope failed acceptance; the first
	// rejected scope is named in the description
	ErrInvalidScope = func(scope string) *Error {
		return NewError(KindScopeRejected, ErrorCodeInvalidScope,
			fmt.Sprintf("The client is not allowed to request scope %q", scope), http.StatusBadRequest)
	}

	// ErrUnauthorizedClient indicates the client may not use the requested grant or response type
	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(KindUnsupported, ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates no handler supports the requested grant type
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(KindUnsupported, ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates a requested response type was never
	// marked handled by any delegate in the authorize chain
	ErrUnsupportedResponseType = func(desc string) *Error {
		return NewError(KindUnsupported, ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrRedirectUnmatched indicates the supplied redirect URI is not registered
	ErrRedirectUnmatched = func(uri string) *Error {
		return NewError(KindRedirectUnmatched, ErrorCodeInvalidRedirectURI,
			fmt.Sprintf("Redirect URI %q is not registered for this client", uri), http.StatusBadRequest)
	}

	// ErrRedirectMalformed indicates the redirect URI is not an absolute URI
	ErrRedirectMalformed = func(uri string) *Error {
		return NewError(KindRedirectMalformed, ErrorCodeInvalidRedirectURI,
			fmt.Sprintf("Redirect URI %q is not a well-formed absolute URI", uri), http.StatusBadRequest)
	}

	// ErrRedirectFragment indicates the redirect URI carries a fragment component
	ErrRedirectFragment = func(uri string) *Error {
		return NewError(KindRedirectFragment, ErrorCodeInvalidRedirectURI,
			fmt.Sprintf("Redirect URI %q must not contain a fragment", uri), http.StatusBadRequest)
	}

	// ErrRedirectInsecure indicates the redirect URI is neither HTTPS nor loopback
	ErrRedirectInsecure = func(uri string) *Error {
		return NewError(KindRedirectInsecure, ErrorCodeInvalidRedirectURI,
			fmt.Sprintf("Redirect URI %q must use HTTPS or point to a loopback address", uri), http.StatusBadRequest)
	}

	// ErrServerError indicates an internal or collaborator failure
	ErrServerError = func(desc string) *Error {
		return NewError(KindUpstream, ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
