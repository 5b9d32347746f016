package provara

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Request is the unit of work flowing through every endpoint. It is embedded
// by AuthorizeRequest and AccessRequest, which add endpoint-specific fields
// and forward everything else here.
type Request struct {
	// ID uniquely identifies the request. Assigned once at construction,
	// never reused; token revocation cascades by this value.
	ID string

	// RequestedAt is the time the request was received
	RequestedAt time.Time

	// Client is the requesting client. The request references but does not
	// own it.
	Client *Client

	// RequestedScopes is the set of scopes the client asked for
	RequestedScopes Arguments

	// GrantedScopes is the set of scopes actually granted. Grants accumulate
	// and never shrink. The core does not force GrantedScopes to be a subset
	// of RequestedScopes; handlers are expected to enforce that.
	GrantedScopes Arguments

	// Session carries cross-request state persisted alongside tokens
	Session Session

	// Form is the raw multi-valued parameter map, the source of truth for
	// any parameter not hoisted into a typed field.
	Form url.Values
}

// NewRequest returns a request with a fresh unique ID, the current time, and
// an empty form.
func NewRequest() *Request {
	return &Request{
		ID:          uuid.New().String(),
		RequestedAt: time.Now().UTC(),
		Form:        url.Values{},
	}
}

// AppendRequestedScope adds a scope to the requested set if not already present
func (r *Request) AppendRequestedScope(scope string) {
	if !r.RequestedScopes.Has(scope) {
		r.RequestedScopes = append(r.RequestedScopes, scope)
	}
}

// GrantScope marks a scope as granted. Grants accumulate; granting the same
// scope twice is a no-op.
func (r *Request) GrantScope(scope string) {
	if !r.GrantedScopes.Has(scope) {
		r.GrantedScopes = append(r.GrantedScopes, scope)
	}
}

// Merge overwrites the receiver's time, client, and session from other, unions
// the scope sets, and overlays other's form entries onto the receiver's form
// (other wins on key collision). The receiver's ID is preserved.
func (r *Request) Merge(other *Request) {
	if other == nil {
		return
	}

	if !other.RequestedAt.IsZero() {
		r.RequestedAt = other.RequestedAt
	}
	if other.Client != nil {
		r.Client = other.Client
	}
	if other.Session != nil {
		r.Session = other.Session
	}

	for _, scope := range other.RequestedScopes {
		r.AppendRequestedScope(scope)
	}
	for _, scope := range other.GrantedScopes {
		r.GrantScope(scope)
	}

	if r.Form == nil {
		r.Form = url.Values{}
	}
	for key, values := range other.Form {
		r.Form[key] = append([]string(nil), values...)
	}
}

// Sanitize returns a shallow copy of the request whose form is filtered to
// allowedKeys. Use it before persisting a request so sensitive or oversized
// parameters never reach storage.
func (r *Request) Sanitize(allowedKeys []string) *Request {
	clean := *r
	clean.Form = url.Values{}

	for _, key := range allowedKeys {
		if values, ok := r.Form[key]; ok {
			clean.Form[key] = append([]string(nil), values...)
		}
	}
	return &clean
}
