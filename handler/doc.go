// Package handler contains the concrete endpoint chain delegates: the
// authorization code flow (issuance and redemption), the implicit flow, the
// refresh token and client credentials grants, the OpenID Connect explicit
// flow, PKCE enforcement, and the core introspection and revocation
// delegates.
//
// Delegates are independently pluggable. Each one self-selects on the
// request's response or grant types and no-ops otherwise; the chain in the
// root package never skips a delegate on its own.
package handler
