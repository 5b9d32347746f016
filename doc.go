// Package provara implements an embeddable OAuth 2.0 / OpenID Connect
// provider core. It issues, stores, validates, and revokes authorization
// codes, access tokens, refresh tokens, and ID tokens on behalf of a
// resource server, independent of any particular transport or storage
// technology.
//
// The package deliberately stops at the protocol boundary: callers hand it a
// parsed request (via the RequestReader contract) and receive a structured
// response or a typed *Error back. It does not run an HTTP server, choose a
// serialization format for persisted state, or authenticate client
// credentials; those concerns belong to the embedding application.
//
// The four endpoints (authorize, token, introspect, revoke) are each served
// by a chain of independently pluggable handlers. See the handler package for
// the concrete delegates and the compose package for default wiring.
package provara
