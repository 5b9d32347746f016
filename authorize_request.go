package provara

// AuthorizeRequest specializes Request for the authorize endpoint. It is a
// completion state machine: each delegate handler marks the response types it
// satisfied, and the chain fails closed when any requested type remains
// unhandled after every delegate ran.
type AuthorizeRequest struct {
	Request

	// ResponseTypes is the requested response type set, fixed at construction
	ResponseTypes Arguments

	// RedirectURI is the resolved redirection target. Empty until resolved
	// against the client's registered URIs.
	RedirectURI string

	// State is the client's opaque CSRF value
	State string

	handled map[ResponseType]bool
}

// NewAuthorizeRequest returns an authorize request wrapping a fresh base
// request with an empty completion state.
func NewAuthorizeRequest() *AuthorizeRequest {
	return &AuthorizeRequest{
		Request: *NewRequest(),
		handled: make(map[ResponseType]bool),
	}
}

// SetResponseTypeHandled transitions the completion state machine: the given
// response type is marked satisfied.
func (r *AuthorizeRequest) SetResponseTypeHandled(rt ResponseType) {
	if r.handled == nil {
		r.handled = make(map[ResponseType]bool)
	}
	r.handled[rt] = true
}

// IsResponseTypeHandled reports whether the given response type has been
// marked satisfied.
func (r *AuthorizeRequest) IsResponseTypeHandled(rt ResponseType) bool {
	return r.handled[rt]
}

// HasAllResponseTypesBeenHandled reports whether every requested response
// type has been marked satisfied. The authorize chain checks this after all
// delegates ran and fails the request when it is false.
func (r *AuthorizeRequest) HasAllResponseTypesBeenHandled() bool {
	for _, rt := range r.ResponseTypes {
		if !r.handled[ResponseType(rt)] {
			return false
		}
	}
	return true
}

// IsRedirectURIValid reports whether the request's redirect URI resolves and
// validates against the client's registration.
func (r *AuthorizeRequest) IsRedirectURIValid() bool {
	if r.Client == nil {
		return false
	}

	resolved, err := ResolveRedirectURI(r.RedirectURI, r.Client.RedirectURIs)
	if err != nil {
		return false
	}
	return ValidateRedirectURI(resolved) == nil
}
