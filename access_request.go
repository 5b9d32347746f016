package provara

// AccessRequest specializes Request for the token endpoint.
type AccessRequest struct {
	Request

	// GrantTypes is the requested grant type set, parsed from the grant_type
	// form parameter. RFC 6749 sends a single value, but the field is a list
	// so hybrid handling stays possible.
	GrantTypes Arguments
}

// NewAccessRequest returns an access request wrapping a fresh base request
func NewAccessRequest() *AccessRequest {
	return &AccessRequest{Request: *NewRequest()}
}
