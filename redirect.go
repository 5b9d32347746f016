package provara

import (
	"net"
	"net/url"
	"strings"
)

// ResolveRedirectURI resolves an optionally supplied redirect URI against the
// client's registered list. With no supplied value the registered list must
// contain exactly one entry; zero or multiple registered entries with no
// explicit choice is a hard ambiguity error. A supplied value must exactly
// string-match one registered entry, with no prefix or wildcard matching.
func ResolveRedirectURI(supplied string, registered []string) (string, error) {
	if supplied == "" {
		if len(registered) != 1 {
			return "", ErrInvalidRequest("redirect_uri is required when the client has zero or multiple registered redirect URIs")
		}
		return registered[0], nil
	}

	for _, uri := range registered {
		if uri == supplied {
			return supplied, nil
		}
	}
	return "", ErrRedirectUnmatched(supplied)
}

// ValidateRedirectURI checks the format of a resolved redirect URI: it must
// be an absolute URI and must not carry a fragment component. The two
// violations are distinctly typed so callers can message appropriately.
func ValidateRedirectURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" {
		return ErrRedirectMalformed(uri)
	}
	if parsed.Fragment != "" {
		return ErrRedirectFragment(uri)
	}
	return nil
}

// IsSecureRedirectURI reports whether a redirect URI may receive credentials:
// HTTPS, or a loopback host for development.
func IsSecureRedirectURI(uri string) bool {
	parsed, err := url.Parse(uri)
	if err != nil {
		return false
	}

	if strings.EqualFold(parsed.Scheme, "https") {
		return true
	}
	return isLoopbackHost(parsed.Hostname())
}

// isLoopbackHost checks hostname against localhost and the loopback ranges.
// IPv6 brackets are already stripped by url.Hostname.
func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
