package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/provara/provara"
	"github.com/provara/provara/security"
	"github.com/provara/provara/token"
)

// Session kind tags for the serialized envelope. The session field of a
// request is an interface; the tag picks the concrete type on decode.
const (
	sessionKindDefault = "default"
	sessionKindJWT     = "jwt"
)

// wireRequest is the JSON envelope for a persisted request
type wireRequest struct {
	ID              string          `json:"id"`
	RequestedAt     time.Time       `json:"requested_at"`
	Client          *provara.Client `json:"client,omitempty"`
	RequestedScopes []string        `json:"requested_scopes,omitempty"`
	GrantedScopes   []string        `json:"granted_scopes,omitempty"`
	Form            url.Values      `json:"form,omitempty"`
	SessionKind     string          `json:"session_kind,omitempty"`
	Session         json.RawMessage `json:"session,omitempty"`
}

func (s *Store) encodeRequest(req *provara.Request) (string, error) {
	w := wireRequest{
		ID:              req.ID,
		RequestedAt:     req.RequestedAt,
		Client:          req.Client,
		RequestedScopes: req.RequestedScopes,
		GrantedScopes:   req.GrantedScopes,
		Form:            req.Form,
	}

	switch sess := req.Session.(type) {
	case nil:
	case *token.JWTSession:
		raw, err := json.Marshal(sess)
		if err != nil {
			return "", fmt.Errorf("marshaling JWT session: %w", err)
		}
		w.SessionKind = sessionKindJWT
		w.Session = raw
	case *provara.DefaultSession:
		raw, err := json.Marshal(sess)
		if err != nil {
			return "", fmt.Errorf("marshaling session: %w", err)
		}
		w.SessionKind = sessionKindDefault
		w.Session = raw
	default:
		return "", fmt.Errorf("session type %T cannot be persisted to valkey", req.Session)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	if len(data) > maxSessionDataSize {
		return "", fmt.Errorf("serialized session exceeds %d bytes", maxSessionDataSize)
	}

	if s.encryptor.IsEnabled() {
		return s.encryptor.Encrypt(string(data))
	}
	return string(data), nil
}

func (s *Store) decodeRequest(data string) (*provara.Request, error) {
	if s.encryptor.IsEnabled() {
		plain, err := s.encryptor.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("decrypting session: %w", err)
		}
		data = plain
	}

	var w wireRequest
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("unmarshaling request: %w", err)
	}

	req := &provara.Request{
		ID:              w.ID,
		RequestedAt:     w.RequestedAt,
		Client:          w.Client,
		RequestedScopes: w.RequestedScopes,
		GrantedScopes:   w.GrantedScopes,
		Form:            w.Form,
	}
	if req.Form == nil {
		req.Form = url.Values{}
	}

	switch w.SessionKind {
	case "":
	case sessionKindJWT:
		sess := &token.JWTSession{}
		if err := json.Unmarshal(w.Session, sess); err != nil {
			return nil, fmt.Errorf("unmarshaling JWT session: %w", err)
		}
		req.Session = sess
	case sessionKindDefault:
		sess := &provara.DefaultSession{}
		if err := json.Unmarshal(w.Session, sess); err != nil {
			return nil, fmt.Errorf("unmarshaling session: %w", err)
		}
		req.Session = sess
	default:
		return nil, fmt.Errorf("unknown session kind %q", w.SessionKind)
	}

	return req, nil
}

// set writes an encoded request under key with the TTL derived from the
// session's expiry for kind
func (s *Store) set(ctx context.Context, key string, req *provara.Request, kind provara.TokenType) error {
	data, err := s.encodeRequest(req)
	if err != nil {
		return err
	}
	if ttl := ttlFor(req, kind); ttl > 0 {
		return s.client.Do(ctx, s.client.B().Set().Key(key).Value(data).Ex(ttl).Build()).Error()
	}
	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(data).Build()).Error()
}

func (s *Store) get(ctx context.Context, key string) (*provara.Request, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilReply(err) {
			return nil, provara.ErrNotFound
		}
		return nil, provara.ErrServerError(err.Error())
	}
	return s.decodeRequest(data)
}

// CreateAuthorizeCodeSession implements provara.AuthorizeCodeStorage
func (s *Store) CreateAuthorizeCodeSession(ctx context.Context, signature string, req *provara.Request) error {
	start := time.Now()
	err := s.set(ctx, s.codeKey(signature), req, provara.TokenTypeAuthorizeCode)
	s.record(ctx, "create_authorize_code", start, err)
	return err
}

// GetAuthorizeCodeSession implements provara.AuthorizeCodeStorage. The
// redemption tombstone is consulted before the record is declared live.
func (s *Store) GetAuthorizeCodeSession(ctx context.Context, signature string) (*provara.Request, error) {
	start := time.Now()
	req, err := s.get(ctx, s.codeKey(signature))
	if err != nil {
		s.record(ctx, "get_authorize_code", start, err)
		return nil, err
	}

	used, terr := s.client.Do(ctx, s.client.B().Exists().Key(s.codeTombstoneKey(signature)).Build()).AsInt64()
	if terr != nil {
		s.record(ctx, "get_authorize_code", start, terr)
		return nil, provara.ErrServerError(terr.Error())
	}
	if used > 0 {
		s.record(ctx, "get_authorize_code", start, provara.ErrInactive)
		return req, provara.ErrInactive
	}

	if expiresAt := sessionExpiresAt(req, provara.TokenTypeAuthorizeCode); !expiresAt.IsZero() && security.IsExpired(expiresAt) {
		s.record(ctx, "get_authorize_code", start, provara.ErrExpired)
		return req, provara.ErrExpired
	}

	s.record(ctx, "get_authorize_code", start, nil)
	return req, nil
}

// InvalidateAuthorizeCodeSession implements provara.AuthorizeCodeStorage.
// Atomicity rides on SET NX: the first caller creates the tombstone, every
// later caller sees the NX refusal and gets ErrInactive.
func (s *Store) InvalidateAuthorizeCodeSession(ctx context.Context, signature string) error {
	start := time.Now()

	exists, err := s.client.Do(ctx, s.client.B().Exists().Key(s.codeKey(signature)).Build()).AsInt64()
	if err != nil {
		s.record(ctx, "invalidate_authorize_code", start, err)
		return provara.ErrServerError(err.Error())
	}
	if exists == 0 {
		s.record(ctx, "invalidate_authorize_code", start, provara.ErrNotFound)
		return provara.ErrNotFound.WithDescription("no authorization code session for this signature")
	}

	cmd := s.client.B().Set().Key(s.codeTombstoneKey(signature)).Value("1").Nx().Ex(24 * time.Hour).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isNilReply(err) {
			s.record(ctx, "invalidate_authorize_code", start, provara.ErrInactive)
			return provara.ErrInactive
		}
		s.record(ctx, "invalidate_authorize_code", start, err)
		return provara.ErrServerError(err.Error())
	}

	s.record(ctx, "invalidate_authorize_code", start, nil)
	return nil
}

// CreateAccessTokenSession implements provara.AccessTokenStorage
func (s *Store) CreateAccessTokenSession(ctx context.Context, signature string, req *provara.Request) error {
	start := time.Now()
	err := s.createIndexed(ctx, s.accessKey(signature), s.accessIndexKey(req.ID), signature, req, provara.TokenTypeAccessToken)
	s.record(ctx, "create_access_token", start, err)
	return err
}

// GetAccessTokenSession implements provara.AccessTokenStorage
func (s *Store) GetAccessTokenSession(ctx context.Context, signature string) (*provara.Request, error) {
	start := time.Now()
	req, err := s.getToken(ctx, s.accessKey(signature), provara.TokenTypeAccessToken)
	s.record(ctx, "get_access_token", start, err)
	return req, err
}

// DeleteAccessTokenSession implements provara.AccessTokenStorage
func (s *Store) DeleteAccessTokenSession(ctx context.Context, signature string) error {
	start := time.Now()
	err := s.client.Do(ctx, s.client.B().Del().Key(s.accessKey(signature)).Build()).Error()
	s.record(ctx, "delete_access_token", start, err)
	if err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}

// CreateRefreshTokenSession implements provara.RefreshTokenStorage
func (s *Store) CreateRefreshTokenSession(ctx context.Context, signature string, req *provara.Request) error {
	start := time.Now()
	err := s.createIndexed(ctx, s.refreshKey(signature), s.refreshIndexKey(req.ID), signature, req, provara.TokenTypeRefreshToken)
	s.record(ctx, "create_refresh_token", start, err)
	return err
}

// GetRefreshTokenSession implements provara.RefreshTokenStorage
func (s *Store) GetRefreshTokenSession(ctx context.Context, signature string) (*provara.Request, error) {
	start := time.Now()
	req, err := s.getToken(ctx, s.refreshKey(signature), provara.TokenTypeRefreshToken)
	s.record(ctx, "get_refresh_token", start, err)
	return req, err
}

// DeleteRefreshTokenSession implements provara.RefreshTokenStorage
func (s *Store) DeleteRefreshTokenSession(ctx context.Context, signature string) error {
	start := time.Now()
	err := s.client.Do(ctx, s.client.B().Del().Key(s.refreshKey(signature)).Build()).Error()
	s.record(ctx, "delete_refresh_token", start, err)
	if err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}

// RevokeAccessToken implements provara.TokenRevocationStorage
func (s *Store) RevokeAccessToken(ctx context.Context, requestID string) error {
	start := time.Now()
	err := s.revokeIndexed(ctx, s.accessIndexKey(requestID), s.accessKey)
	s.record(ctx, "revoke_access_token", start, err)
	return err
}

// RevokeRefreshToken implements provara.TokenRevocationStorage
func (s *Store) RevokeRefreshToken(ctx context.Context, requestID string) error {
	start := time.Now()
	err := s.revokeIndexed(ctx, s.refreshIndexKey(requestID), s.refreshKey)
	s.record(ctx, "revoke_refresh_token", start, err)
	return err
}

// CreatePKCERequestSession implements provara.PKCERequestStorage
func (s *Store) CreatePKCERequestSession(ctx context.Context, codeSignature string, req *provara.Request) error {
	start := time.Now()
	err := s.set(ctx, s.pkceKey(codeSignature), req, provara.TokenTypeAuthorizeCode)
	s.record(ctx, "create_pkce_session", start, err)
	return err
}

// GetPKCERequestSession implements provara.PKCERequestStorage
func (s *Store) GetPKCERequestSession(ctx context.Context, codeSignature string) (*provara.Request, error) {
	start := time.Now()
	req, err := s.get(ctx, s.pkceKey(codeSignature))
	s.record(ctx, "get_pkce_session", start, err)
	return req, err
}

// DeletePKCERequestSession implements provara.PKCERequestStorage
func (s *Store) DeletePKCERequestSession(ctx context.Context, codeSignature string) error {
	start := time.Now()
	err := s.client.Do(ctx, s.client.B().Del().Key(s.pkceKey(codeSignature)).Build()).Error()
	s.record(ctx, "delete_pkce_session", start, err)
	if err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}

// CreateOpenIDConnectSession implements provara.OpenIDConnectRequestStorage
func (s *Store) CreateOpenIDConnectSession(ctx context.Context, codeSignature string, req *provara.Request) error {
	start := time.Now()
	err := s.set(ctx, s.oidcKey(codeSignature), req, provara.TokenTypeAuthorizeCode)
	s.record(ctx, "create_oidc_session", start, err)
	return err
}

// GetOpenIDConnectSession implements provara.OpenIDConnectRequestStorage
func (s *Store) GetOpenIDConnectSession(ctx context.Context, codeSignature string) (*provara.Request, error) {
	start := time.Now()
	req, err := s.get(ctx, s.oidcKey(codeSignature))
	s.record(ctx, "get_oidc_session", start, err)
	return req, err
}

// DeleteOpenIDConnectSession implements provara.OpenIDConnectRequestStorage
func (s *Store) DeleteOpenIDConnectSession(ctx context.Context, codeSignature string) error {
	start := time.Now()
	err := s.client.Do(ctx, s.client.B().Del().Key(s.oidcKey(codeSignature)).Build()).Error()
	s.record(ctx, "delete_oidc_session", start, err)
	if err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}

// createIndexed stores a token session and adds its signature to the
// request-ID index set used by revocation cascades
func (s *Store) createIndexed(ctx context.Context, key, indexKey, signature string, req *provara.Request, kind provara.TokenType) error {
	if err := s.set(ctx, key, req, kind); err != nil {
		return provara.ErrServerError(err.Error())
	}
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(indexKey).Member(signature).Build()).Error(); err != nil {
		return provara.ErrServerError(err.Error())
	}
	if ttl := ttlFor(req, kind); ttl > 0 {
		if err := s.client.Do(ctx, s.client.B().Expire().Key(indexKey).Seconds(int64(ttl/time.Second)+1).Build()).Error(); err != nil {
			return provara.ErrServerError(err.Error())
		}
	}
	return nil
}

func (s *Store) getToken(ctx context.Context, key string, kind provara.TokenType) (*provara.Request, error) {
	req, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if expiresAt := sessionExpiresAt(req, kind); !expiresAt.IsZero() && security.IsExpired(expiresAt) {
		return req, provara.ErrExpired
	}
	return req, nil
}

func sessionExpiresAt(req *provara.Request, kind provara.TokenType) time.Time {
	if req == nil || req.Session == nil {
		return time.Time{}
	}
	return req.Session.GetExpiresAt(kind)
}

func (s *Store) revokeIndexed(ctx context.Context, indexKey string, keyFor func(string) string) error {
	signatures, err := s.client.Do(ctx, s.client.B().Smembers().Key(indexKey).Build()).AsStrSlice()
	if err != nil {
		if isNilReply(err) {
			return nil
		}
		return provara.ErrServerError(err.Error())
	}

	for _, signature := range signatures {
		if err := s.client.Do(ctx, s.client.B().Del().Key(keyFor(signature)).Build()).Error(); err != nil {
			return provara.ErrServerError(err.Error())
		}
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(indexKey).Build()).Error(); err != nil {
		return provara.ErrServerError(err.Error())
	}
	return nil
}
