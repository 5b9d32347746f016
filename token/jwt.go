package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/provara/provara"
)

// JWTSession is a Session flavor that owns the claim set and header map of a
// JWT to be minted. Both maps are deep-copied on Clone, because the code
// session they originate from is reused to derive token sessions with
// independently evolving claims.
type JWTSession struct {
	provara.DefaultSession

	Claims  jwt.MapClaims
	Headers map[string]any
}

// Clone returns a deep copy of the session including claims and headers
func (s *JWTSession) Clone() provara.Session {
	if s == nil {
		return nil
	}

	base, _ := s.DefaultSession.Clone().(*provara.DefaultSession)
	return &JWTSession{
		DefaultSession: *base,
		Claims:         deepCopyMap(s.Claims),
		Headers:        deepCopyMap(s.Headers),
	}
}

// deepCopyMap copies a claim or header map including nested maps and slices
func deepCopyMap[M ~map[string]any](m M) M {
	if m == nil {
		return nil
	}
	out := make(M, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// RS256JWTStrategy signs and validates compact JWTs with the issuer's RSA
// key. Signing sets the kid and alg headers; validation pins the algorithm to
// RS256 and requires iat and exp.
type RS256JWTStrategy struct {
	// PrivateKey is the issuer's current signing key
	PrivateKey *rsa.PrivateKey

	// KeyID is published as the kid header of every minted token
	KeyID string

	// ClockSkew is the leeway applied to time-based claim checks.
	// Zero selects the default of 30 seconds.
	ClockSkew time.Duration
}

// Generate signs the claim set, merging extra headers on top of kid and alg,
// and returns the compact serialization plus its signature segment.
func (s *RS256JWTStrategy) Generate(_ context.Context, claims jwt.MapClaims, headers map[string]any) (string, string, error) {
	if s.PrivateKey == nil {
		return "", "", provara.ErrServerError("no signing key is configured")
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.KeyID
	for k, v := range headers {
		tok.Header[k] = v
	}

	raw, err := tok.SignedString(s.PrivateKey)
	if err != nil {
		return "", "", provara.ErrServerError("signing token: " + err.Error())
	}

	signature, err := s.Signature(raw)
	if err != nil {
		return "", "", err
	}
	return raw, signature, nil
}

// Validate verifies the compact token against the issuer's public key and
// returns its signature segment. The algorithm is constrained to RS256; iat
// and exp must be present.
func (s *RS256JWTStrategy) Validate(_ context.Context, raw string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(s.leeway()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return &s.PrivateKey.PublicKey, nil
	})
	if err != nil {
		return "", mapJWTError(err)
	}
	if _, ok := claims["iat"]; !ok {
		return "", provara.ErrMalformedToken("the token is missing the required iat claim")
	}

	return s.Signature(raw)
}

// Signature returns the third segment of a compact JWT, the storage key for
// JWT-shaped tokens.
func (s *RS256JWTStrategy) Signature(raw string) (string, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", provara.ErrMalformedToken("a compact JWT must consist of exactly three dot-separated parts")
	}
	return parts[2], nil
}

func (s *RS256JWTStrategy) leeway() time.Duration {
	if s.ClockSkew <= 0 {
		return provara.DefaultClockSkewTolerance
	}
	return s.ClockSkew
}

// mapJWTError translates golang-jwt failures into the provider taxonomy
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return provara.ErrExpired.WithDescription(err.Error())
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return provara.ErrSignatureMismatch.WithDescription(err.Error())
	case errors.Is(err, jwt.ErrTokenMalformed):
		return provara.ErrMalformedToken(err.Error())
	default:
		return provara.ErrMalformedToken(err.Error())
	}
}

// JWTAccessTokenStrategy is a CoreStrategy issuing RS256 JWT access tokens
// while keeping opaque HMAC authorization codes and refresh tokens. Selecting
// it is a deployment decision; the handler chains are oblivious to the token
// shape and keep working off signatures.
type JWTAccessTokenStrategy struct {
	*HMACStrategy

	// JWT signs the access tokens
	JWT *RS256JWTStrategy

	// Issuer is published as the iss claim
	Issuer string

	// Lifespan bounds the exp claim
	Lifespan time.Duration
}

var _ CoreStrategy = (*JWTAccessTokenStrategy)(nil)

// AccessTokenSignature derives the storage key from a presented JWT access token
func (s *JWTAccessTokenStrategy) AccessTokenSignature(token string) (string, error) {
	return s.JWT.Signature(token)
}

// GenerateAccessToken mints a signed JWT access token from the request's
// session and granted scopes.
func (s *JWTAccessTokenStrategy) GenerateAccessToken(ctx context.Context, req *provara.Request) (string, string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":   s.Issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(s.Lifespan).Unix(),
		"jti":   req.ID,
		"scope": req.GrantedScopes.String(),
	}
	if req.Client != nil {
		claims["aud"] = req.Client.ID
	}
	if req.Session != nil {
		if sub := req.Session.GetSubject(); sub != "" {
			claims["sub"] = sub
		}
	}
	if jwtSession, ok := req.Session.(*JWTSession); ok {
		for k, v := range jwtSession.Claims {
			claims[k] = v
		}
	}

	return s.JWT.Generate(ctx, claims, nil)
}

// ValidateAccessToken verifies the JWT's signature and time-based claims
func (s *JWTAccessTokenStrategy) ValidateAccessToken(ctx context.Context, _ *provara.Request, token string) error {
	_, err := s.JWT.Validate(ctx, token)
	return err
}
