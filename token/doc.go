// Package token implements the two signing disciplines behind every
// credential the provider issues: an HMAC-SHA256 opaque-token strategy for
// authorization codes and (by default) access and refresh tokens, and an
// RS256 JWT strategy for ID tokens and optionally access tokens.
//
// Opaque tokens have the wire form "<token>.<signature>". Only the signature
// half is ever used as a storage key; validation re-derives the signature
// from the presented token bytes and compares in constant time, never
// trusting a stored token verbatim.
package token
