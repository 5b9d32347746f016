package provara

import (
	"net/http"
	"net/url"
)

// AuthorizeResponse accumulates the parameters delegates emit for the
// authorize endpoint: query parameters for the code flow, fragment parameters
// for the implicit flow, plus response headers. Both containers are
// key-to-list-of-values maps.
//
// AddQuery and AddFragment hoist the special-cased code and state values into
// dedicated accessors as a post-condition of the add; later delegates (PKCE,
// OIDC session binding) read the issued code through GetCode without scanning
// the map.
type AuthorizeResponse struct {
	header   http.Header
	query    url.Values
	fragment url.Values

	code  string
	state string
}

// NewAuthorizeResponse returns an empty authorize response
func NewAuthorizeResponse() *AuthorizeResponse {
	return &AuthorizeResponse{
		header:   http.Header{},
		query:    url.Values{},
		fragment: url.Values{},
	}
}

// AddQuery appends a query parameter. Post-condition: values for "code" and
// "state" are additionally hoisted into GetCode and GetState.
func (r *AuthorizeResponse) AddQuery(key, value string) {
	r.hoist(key, value)
	r.query.Add(key, value)
}

// AddFragment appends a fragment parameter with the same hoisting
// post-condition as AddQuery.
func (r *AuthorizeResponse) AddFragment(key, value string) {
	r.hoist(key, value)
	r.fragment.Add(key, value)
}

func (r *AuthorizeResponse) hoist(key, value string) {
	switch key {
	case ParamCode:
		r.code = value
	case ParamState:
		r.state = value
	}
}

// AddHeader appends a response header
func (r *AuthorizeResponse) AddHeader(key, value string) {
	r.header.Add(key, value)
}

// GetCode returns the issued authorization code, if any delegate emitted one
func (r *AuthorizeResponse) GetCode() string {
	return r.code
}

// GetState returns the echoed state parameter
func (r *AuthorizeResponse) GetState() string {
	return r.state
}

// Query returns the accumulated query parameters
func (r *AuthorizeResponse) Query() url.Values {
	return r.query
}

// Fragment returns the accumulated fragment parameters
func (r *AuthorizeResponse) Fragment() url.Values {
	return r.fragment
}

// Header returns the accumulated response headers
func (r *AuthorizeResponse) Header() http.Header {
	return r.header
}

// RedirectURL renders the final redirect target for the given base URI,
// encoding accumulated parameters into the query and, when present, the
// fragment.
func (r *AuthorizeResponse) RedirectURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", ErrRedirectMalformed(base)
	}

	q := u.Query()
	for key, values := range r.query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()

	if len(r.fragment) > 0 {
		u.Fragment = r.fragment.Encode()
	}
	return u.String(), nil
}
