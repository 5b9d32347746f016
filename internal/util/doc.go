// Package util provides small shared helpers that don't belong to any
// domain package.
//
// Key utilities:
//   - SafeTruncate: truncates strings for logging sensitive values
//   - NormalizeURL: strips trailing slashes for issuer and audience comparison
package util
