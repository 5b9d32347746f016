package provara

// IntrospectionResponse is the result of introspecting a token. A negative
// result (Active=false) is not an error; the chain produces it when no
// delegate recognized the token, tagged with the caller's type hint.
type IntrospectionResponse struct {
	// Active reports whether the token is currently valid
	Active bool

	// TokenType is the established (or, for inactive results, hinted) type
	TokenType TokenType

	// AccessRequest is the request the token was bound to at issuance.
	// Nil when Active is false.
	AccessRequest *Request

	// Reason records why the token is inactive (not found, expired, replay)
	// for logging; it is never sent to the caller.
	Reason error
}

// ToMap renders the RFC 7662 introspection document as a JSON-ready map.
// Inactive results collapse to {"active": false} so callers cannot probe the
// difference between expired and never-existed tokens.
func (r *IntrospectionResponse) ToMap() map[string]any {
	if !r.Active || r.AccessRequest == nil {
		return map[string]any{"active": false}
	}

	m := map[string]any{
		"active":     true,
		"token_type": string(r.TokenType),
		"scope":      r.AccessRequest.GrantedScopes.String(),
	}
	if r.AccessRequest.Client != nil {
		m["client_id"] = r.AccessRequest.Client.ID
	}
	if r.AccessRequest.Session != nil {
		if sub := r.AccessRequest.Session.GetSubject(); sub != "" {
			m["sub"] = sub
		}
		if username := r.AccessRequest.Session.GetUsername(); username != "" {
			m["username"] = username
		}
		if exp := r.AccessRequest.Session.GetExpiresAt(r.TokenType); !exp.IsZero() {
			m["exp"] = exp.Unix()
		}
	}
	return m
}
