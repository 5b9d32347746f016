// Package testutil provides test fixtures and assertion helpers shared by
// the package-level test suites.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/provara/provara"
)

// TestGlobalSecret is a 32-byte HMAC key for token strategy tests
var TestGlobalSecret = []byte("0123456789abcdef0123456789abcdef")

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// NewTestClient creates a confidential client registration with an HTTPS
// redirect URI and the usual grant and response types. The bcrypt hash is
// for the secret "secret".
func NewTestClient(id string) *provara.Client {
	return &provara.Client{
		ID:            id,
		HashedSecret:  []byte("$2a$10$pFGtroatzV8if/wh5hH2EeDIjyEnv/lw.U8/3a3NjNLcPuuJeOw2m"),
		RedirectURIs:  []string{"https://client.example.com/callback"},
		GrantTypes:    provara.Arguments{"authorization_code", "refresh_token", "client_credentials", "implicit"},
		ResponseTypes: provara.Arguments{"code", "token"},
		Scopes:        provara.Arguments{"openid", "offline", "books.read", "books.*"},
	}
}

// NewTestRequest creates a request bound to client with a fresh default
// session
func NewTestRequest(client *provara.Client) *provara.Request {
	req := provara.NewRequest()
	req.Client = client
	req.Session = &provara.DefaultSession{
		Subject:  "peter",
		Username: "peter",
	}
	req.Form = url.Values{}
	return req
}

// GenerateRSAKey creates a 2048-bit RSA key for JWT strategy tests
func GenerateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return key
}

// GenerateRandomString generates a random URL-safe string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 challenge and verifier pair
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want any) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}
