// Package security provides the ambient security helpers used across the
// provider core: client secret hashing, at-rest encryption for persisted
// session secrets, clock skew handling, and audit logging of security events.
package security
