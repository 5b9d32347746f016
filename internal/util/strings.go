package util

import "strings"

// SafeTruncate truncates a string to at most maxLen bytes without panicking.
// It is used when logging digests or token prefixes where only a stable
// prefix should appear. A negative maxLen yields an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison by removing trailing slashes.
// Issuer and audience values with and without a trailing slash are
// equivalent.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
