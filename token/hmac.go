package token

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/provara/provara"
	"github.com/provara/provara/security"
)

// HMACStrategy implements CoreStrategy with opaque HMAC-SHA256 tokens.
type HMACStrategy struct {
	secret  []byte
	entropy int

	authorizeCodeLifespan time.Duration
	accessTokenLifespan   time.Duration
	refreshTokenLifespan  time.Duration
}

var _ CoreStrategy = (*HMACStrategy)(nil)

// NewHMACStrategy creates an HMAC strategy. The secret must be at least 32
// bytes; entropy below 32 is raised to 32.
func NewHMACStrategy(secret []byte, entropy int, codeLifespan, accessLifespan, refreshLifespan time.Duration) (*HMACStrategy, error) {
	if len(secret) < provara.MinGlobalSecretLength {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes, got %d", provara.MinGlobalSecretLength, len(secret))
	}
	if entropy < provara.DefaultTokenEntropy {
		entropy = provara.DefaultTokenEntropy
	}
	if codeLifespan <= 0 {
		codeLifespan = provara.DefaultAuthorizeCodeLifespan
	}

	return &HMACStrategy{
		secret:                append([]byte(nil), secret...),
		entropy:               entropy,
		authorizeCodeLifespan: codeLifespan,
		accessTokenLifespan:   accessLifespan,
		refreshTokenLifespan:  refreshLifespan,
	}, nil
}

// generate mints a fresh opaque token: entropy random bytes, base64url (no
// padding) as the token half, HMAC-SHA256 over the raw bytes as the signature
// half.
func (s *HMACStrategy) generate() (token string, signature string, err error) {
	raw := make([]byte, s.entropy)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", "", fmt.Errorf("gathering token entropy: %w", err)
	}

	payload := base64.RawURLEncoding.EncodeToString(raw)
	signature = s.sign(raw)
	return payload + "." + signature, signature, nil
}

func (s *HMACStrategy) sign(raw []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// validate re-derives the signature from the presented token bytes and
// compares in constant time. A mismatch is a hard validation failure distinct
// from not-found, which is a storage concern.
func (s *HMACStrategy) validate(token string) error {
	payload, presented, err := split(token)
	if err != nil {
		return err
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return provara.ErrMalformedToken("the token half is not valid base64url")
	}
	presentedMAC, err := base64.RawURLEncoding.DecodeString(presented)
	if err != nil {
		return provara.ErrMalformedToken("the signature half is not valid base64url")
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), presentedMAC) {
		return provara.ErrSignatureMismatch
	}
	return nil
}

func signatureOf(token string) (string, error) {
	_, signature, err := split(token)
	if err != nil {
		return "", err
	}
	return signature, nil
}

// AuthorizeCodeSignature derives the storage key from a presented code
func (s *HMACStrategy) AuthorizeCodeSignature(code string) (string, error) {
	return signatureOf(code)
}

// GenerateAuthorizeCode mints a new authorization code
func (s *HMACStrategy) GenerateAuthorizeCode(_ context.Context, _ *provara.Request) (string, string, error) {
	return s.generate()
}

// ValidateAuthorizeCode checks the code's signature and the session's
// recorded expiry for the authorize code token type. A session without a
// recorded expiry falls back to the issue time plus one code lifespan.
func (s *HMACStrategy) ValidateAuthorizeCode(_ context.Context, req *provara.Request, code string) error {
	if err := s.validate(code); err != nil {
		return err
	}

	if req == nil || req.Session == nil {
		return provara.ErrServerError("an authorize code cannot be validated without its stored session")
	}
	exp := req.Session.GetExpiresAt(provara.TokenTypeAuthorizeCode)
	if exp.IsZero() {
		exp = req.RequestedAt.Add(s.authorizeCodeLifespan)
	}
	if exp.Before(time.Now()) {
		return provara.ErrExpired.WithDescriptionf("the authorization code expired at %s", exp.UTC().Format(time.RFC3339))
	}
	return nil
}

// AccessTokenSignature derives the storage key from a presented access token
func (s *HMACStrategy) AccessTokenSignature(token string) (string, error) {
	return signatureOf(token)
}

// GenerateAccessToken mints a new opaque access token
func (s *HMACStrategy) GenerateAccessToken(_ context.Context, _ *provara.Request) (string, string, error) {
	return s.generate()
}

// ValidateAccessToken checks the token's signature and the session's access
// token expiry, with the default clock skew grace period.
func (s *HMACStrategy) ValidateAccessToken(_ context.Context, req *provara.Request, token string) error {
	if err := s.validate(token); err != nil {
		return err
	}
	return expiryCheck(req, provara.TokenTypeAccessToken)
}

// RefreshTokenSignature derives the storage key from a presented refresh token
func (s *HMACStrategy) RefreshTokenSignature(token string) (string, error) {
	return signatureOf(token)
}

// GenerateRefreshToken mints a new opaque refresh token
func (s *HMACStrategy) GenerateRefreshToken(_ context.Context, _ *provara.Request) (string, string, error) {
	return s.generate()
}

// ValidateRefreshToken checks the token's signature and the session's refresh
// token expiry.
func (s *HMACStrategy) ValidateRefreshToken(_ context.Context, req *provara.Request, token string) error {
	if err := s.validate(token); err != nil {
		return err
	}
	return expiryCheck(req, provara.TokenTypeRefreshToken)
}

func expiryCheck(req *provara.Request, tt provara.TokenType) error {
	if req == nil || req.Session == nil {
		return nil
	}
	exp := req.Session.GetExpiresAt(tt)
	if security.IsExpired(exp) {
		return provara.ErrExpired.WithDescriptionf("the %s expired at %s", tt, exp.UTC().Format(time.RFC3339))
	}
	return nil
}
