package provara

import "time"

// AccessResponse assembles the token endpoint result. Delegates populate it
// during the chain's populate phase; ToMap renders the JSON-ready map handed
// to the response writer.
type AccessResponse struct {
	accessToken string
	tokenType   string
	extra       map[string]any
}

// NewAccessResponse returns an empty access response
func NewAccessResponse() *AccessResponse {
	return &AccessResponse{extra: make(map[string]any)}
}

// SetAccessToken sets the issued access token
func (r *AccessResponse) SetAccessToken(token string) {
	r.accessToken = token
}

// GetAccessToken returns the issued access token
func (r *AccessResponse) GetAccessToken() string {
	return r.accessToken
}

// SetTokenType sets the token_type value, normally BearerTokenType
func (r *AccessResponse) SetTokenType(tokenType string) {
	r.tokenType = tokenType
}

// GetTokenType returns the token_type value
func (r *AccessResponse) GetTokenType() string {
	return r.tokenType
}

// SetExpiresIn sets the expires_in field from a duration
func (r *AccessResponse) SetExpiresIn(lifespan time.Duration) {
	r.SetExtra("expires_in", int64(lifespan/time.Second))
}

// SetScopes sets the scope field from the granted scope list
func (r *AccessResponse) SetScopes(scopes Arguments) {
	r.SetExtra(ParamScope, scopes.String())
}

// SetExtra sets an additional response field such as refresh_token or id_token
func (r *AccessResponse) SetExtra(key string, value any) {
	r.extra[key] = value
}

// GetExtra returns an additional response field, or nil
func (r *AccessResponse) GetExtra(key string) any {
	return r.extra[key]
}

// ToMap renders the response as a JSON-ready map
func (r *AccessResponse) ToMap() map[string]any {
	m := make(map[string]any, len(r.extra)+2)
	for k, v := range r.extra {
		m[k] = v
	}
	m["access_token"] = r.accessToken
	m["token_type"] = r.tokenType
	return m
}
