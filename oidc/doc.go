// Package oidc implements the OpenID Connect request-object machinery: a key
// resolver that finds a client's signature-verification key in its registered
// JWK set or behind its JWKS URI, and a handler that verifies signed request
// objects before their claims are trusted as authorize parameters.
package oidc
