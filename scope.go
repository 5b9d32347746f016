package provara

import "strings"

// ScopeStrategy decides whether any of the registered scopes accepts the
// requested scope. A single strategy instance must be shared by
// authorization, scope granting, and token validation in a deployment, or
// scope semantics diverge between issuance and verification.
type ScopeStrategy func(registered Arguments, requested string) bool

// ExactScopeStrategy accepts a requested scope only on exact string equality
// with a registered scope.
func ExactScopeStrategy(registered Arguments, requested string) bool {
	for _, reg := range registered {
		if reg == requested {
			return true
		}
	}
	return false
}

// HierarchicScopeStrategy accepts a requested scope when a registered scope
// is string-equal, or when the registered scope ends in ".*" and the
// requested scope shares the same dot-delimited prefix. "book.*" accepts
// "book.read"; "book" does not accept "book.read", and "book.read" does not
// accept "book".
func HierarchicScopeStrategy(registered Arguments, requested string) bool {
	for _, reg := range registered {
		if reg == requested {
			return true
		}

		if strings.HasSuffix(reg, ".*") {
			prefix := reg[:len(reg)-1] // keeps the trailing dot
			if len(requested) > len(prefix) && strings.HasPrefix(requested, prefix) {
				return true
			}
		}
	}
	return false
}
