// Package memory provides an in-memory implementation of all storage
// contracts. It is suitable for development, testing, and single-instance
// embedding.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/provara/provara"
	"github.com/provara/provara/instrumentation"
	"github.com/provara/provara/security"
)

// record wraps a stored request with its activity flag. Authorization code
// records are never deleted on redemption, only flipped inactive, so a
// second redemption attempt is distinguishable from an unknown code.
type record struct {
	req    *provara.Request
	active bool
}

// Store is an in-memory implementation of every storage contract in the root
// package. All access is guarded by a single RWMutex; the data sets are small
// enough that finer-grained locking buys nothing.
type Store struct {
	mu sync.RWMutex

	clients map[string]*provara.Client

	codes         map[string]*record
	accessTokens  map[string]*record
	refreshTokens map[string]*record
	pkceSessions  map[string]*provara.Request
	oidcSessions  map[string]*provara.Request

	// requestID -> signatures, for revocation cascades
	accessIndex  map[string][]string
	refreshIndex map[string][]string

	hasher security.Hasher
	logger *slog.Logger
	inst   *instrumentation.Instrumentation

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

var (
	_ provara.ClientRegistry              = (*Store)(nil)
	_ provara.AuthorizeCodeStorage        = (*Store)(nil)
	_ provara.AccessTokenStorage          = (*Store)(nil)
	_ provara.RefreshTokenStorage         = (*Store)(nil)
	_ provara.TokenRevocationStorage      = (*Store)(nil)
	_ provara.PKCERequestStorage          = (*Store)(nil)
	_ provara.OpenIDConnectRequestStorage = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

// WithHasher overrides the client secret hasher
func WithHasher(h security.Hasher) Option {
	return func(s *Store) { s.hasher = h }
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithInstrumentation enables storage operation metrics
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Store) { s.inst = inst }
}

// WithCleanupInterval overrides how often expired sessions are swept.
// A non-positive interval disables the sweeper.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupInterval = d }
}

// New creates an in-memory store. The expired-session sweeper runs every
// minute unless overridden; call Close to stop it.
func New(opts ...Option) *Store {
	s := &Store{
		clients:         make(map[string]*provara.Client),
		codes:           make(map[string]*record),
		accessTokens:    make(map[string]*record),
		refreshTokens:   make(map[string]*record),
		pkceSessions:    make(map[string]*provara.Request),
		oidcSessions:    make(map[string]*provara.Request),
		accessIndex:     make(map[string][]string),
		refreshIndex:    make(map[string][]string),
		hasher:          &security.BCryptHasher{},
		logger:          slog.Default(),
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// Close stops the background sweeper
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// CreateClient registers a client. An existing registration with the same ID
// is replaced.
func (s *Store) CreateClient(_ context.Context, client *provara.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = client
	return nil
}

// GetClient implements provara.ClientRegistry
func (s *Store) GetClient(ctx context.Context, id string) (*provara.Client, error) {
	start := time.Now()
	s.mu.RLock()
	client, ok := s.clients[id]
	s.mu.RUnlock()

	var err error
	if !ok {
		err = provara.ErrNotFound.WithDescriptionf("client %q is not registered", id)
	}
	s.record(ctx, "get_client", start, err)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ValidateClientSecret implements provara.ClientRegistry
func (s *Store) ValidateClientSecret(ctx context.Context, id string, secret []byte) error {
	client, err := s.GetClient(ctx, id)
	if err != nil {
		return err
	}
	if client.Public {
		return provara.ErrInvalidClient("public clients have no secret to validate")
	}
	if err := s.hasher.Compare(ctx, client.HashedSecret, secret); err != nil {
		return provara.ErrInvalidClient("the provided client secret is wrong")
	}
	return nil
}

// CreateAuthorizeCodeSession implements provara.AuthorizeCodeStorage
func (s *Store) CreateAuthorizeCodeSession(ctx context.Context, signature string, req *provara.Request) error {
	start := time.Now()
	s.mu.Lock()
	s.codes[signature] = &record{req: req, active: true}
	s.mu.Unlock()
	s.record(ctx, "create_authorize_code", start, nil)
	return nil
}

// GetAuthorizeCodeSession implements provara.AuthorizeCodeStorage. An
// inactive or expired record is returned alongside its error so the caller
// can still reach the originating request for a revocation cascade.
func (s *Store) GetAuthorizeCodeSession(ctx context.Context, signature string) (*provara.Request, error) {
	start := time.Now()
	s.mu.RLock()
	rec, ok := s.codes[signature]
	s.mu.RUnlock()

	var err error
	switch {
	case !ok:
		s.record(ctx, "get_authorize_code", start, provara.ErrNotFound)
		return nil, provara.ErrNotFound.WithDescription("no authorization code session for this signature")
	case !rec.active:
		err = provara.ErrInactive
	case sessionExpired(rec.req, provara.TokenTypeAuthorizeCode):
		err = provara.ErrExpired
	}
	s.record(ctx, "get_authorize_code", start, err)
	if err != nil {
		return rec.req, err
	}
	return rec.req, nil
}

// InvalidateAuthorizeCodeSession implements provara.AuthorizeCodeStorage.
// The check-and-flip happens under the write lock; exactly one caller wins.
func (s *Store) InvalidateAuthorizeCodeSession(ctx context.Context, signature string) error {
	start := time.Now()
	s.mu.Lock()
	rec, ok := s.codes[signature]
	var err error
	switch {
	case !ok:
		err = provara.ErrNotFound.WithDescription("no authorization code session for this signature")
	case !rec.active:
		err = provara.ErrInactive
	default:
		rec.active = false
	}
	s.mu.Unlock()
	s.record(ctx, "invalidate_authorize_code", start, err)
	return err
}

// CreateAccessTokenSession implements provara.AccessTokenStorage
func (s *Store) CreateAccessTokenSession(ctx context.Context, signature string, req *provara.Request) error {
	start := time.Now()
	s.mu.Lock()
	s.accessTokens[signature] = &record{req: req, active: true}
	s.accessIndex[req.ID] = append(s.accessIndex[req.ID], signature)
	s.mu.Unlock()
	s.record(ctx, "create_access_token", start, nil)
	return nil
}

// GetAccessTokenSession implements provara.AccessTokenStorage
func (s *Store) GetAccessTokenSession(ctx context.Context, signature string) (*provara.Request, error) {
	return s.getToken(ctx, s.accessTokens, signature, provara.TokenTypeAccessToken, "get_access_token")
}

// DeleteAccessTokenSession implements provara.AccessTokenStorage
func (s *Store) DeleteAccessTokenSession(ctx context.Context, signature string) error {
	return s.deleteToken(ctx, s.accessTokens, s.accessIndex, signature, "delete_access_token")
}

// CreateRefreshTokenSession implements provara.RefreshTokenStorage
func (s *Store) CreateRefreshTokenSession(ctx context.Context, signature string, req *provara.Request) error {
	start := time.Now()
	s.mu.Lock()
	s.refreshTokens[signature] = &record{req: req, active: true}
	s.refreshIndex[req.ID] = append(s.refreshIndex[req.ID], signature)
	s.mu.Unlock()
	s.record(ctx, "create_refresh_token", start, nil)
	return nil
}

// GetRefreshTokenSession implements provara.RefreshTokenStorage
func (s *Store) GetRefreshTokenSession(ctx context.Context, signature string) (*provara.Request, error) {
	return s.getToken(ctx, s.refreshTokens, signature, provara.TokenTypeRefreshToken, "get_refresh_token")
}

// DeleteRefreshTokenSession implements provara.RefreshTokenStorage
func (s *Store) DeleteRefreshTokenSession(ctx context.Context, signature string) error {
	return s.deleteToken(ctx, s.refreshTokens, s.refreshIndex, signature, "delete_refresh_token")
}

// RevokeAccessToken implements provara.TokenRevocationStorage
func (s *Store) RevokeAccessToken(ctx context.Context, requestID string) error {
	return s.revokeByRequestID(ctx, s.accessTokens, s.accessIndex, requestID, "revoke_access_token")
}

// RevokeRefreshToken implements provara.TokenRevocationStorage
func (s *Store) RevokeRefreshToken(ctx context.Context, requestID string) error {
	return s.revokeByRequestID(ctx, s.refreshTokens, s.refreshIndex, requestID, "revoke_refresh_token")
}

// CreatePKCERequestSession implements provara.PKCERequestStorage
func (s *Store) CreatePKCERequestSession(ctx context.Context, codeSignature string, req *provara.Request) error {
	start := time.Now()
	s.mu.Lock()
	s.pkceSessions[codeSignature] = req
	s.mu.Unlock()
	s.record(ctx, "create_pkce_session", start, nil)
	return nil
}

// GetPKCERequestSession implements provara.PKCERequestStorage
func (s *Store) GetPKCERequestSession(ctx context.Context, codeSignature string) (*provara.Request, error) {
	start := time.Now()
	s.mu.RLock()
	req, ok := s.pkceSessions[codeSignature]
	s.mu.RUnlock()

	var err error
	if !ok {
		err = provara.ErrNotFound.WithDescription("no PKCE session for this code")
	}
	s.record(ctx, "get_pkce_session", start, err)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// DeletePKCERequestSession implements provara.PKCERequestStorage
func (s *Store) DeletePKCERequestSession(ctx context.Context, codeSignature string) error {
	start := time.Now()
	s.mu.Lock()
	delete(s.pkceSessions, codeSignature)
	s.mu.Unlock()
	s.record(ctx, "delete_pkce_session", start, nil)
	return nil
}

// CreateOpenIDConnectSession implements provara.OpenIDConnectRequestStorage
func (s *Store) CreateOpenIDConnectSession(ctx context.Context, codeSignature string, req *provara.Request) error {
	start := time.Now()
	s.mu.Lock()
	s.oidcSessions[codeSignature] = req
	s.mu.Unlock()
	s.record(ctx, "create_oidc_session", start, nil)
	return nil
}

// GetOpenIDConnectSession implements provara.OpenIDConnectRequestStorage
func (s *Store) GetOpenIDConnectSession(ctx context.Context, codeSignature string) (*provara.Request, error) {
	start := time.Now()
	s.mu.RLock()
	req, ok := s.oidcSessions[codeSignature]
	s.mu.RUnlock()

	var err error
	if !ok {
		err = provara.ErrNotFound.WithDescription("no OpenID Connect session for this code")
	}
	s.record(ctx, "get_oidc_session", start, err)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// DeleteOpenIDConnectSession implements provara.OpenIDConnectRequestStorage
func (s *Store) DeleteOpenIDConnectSession(ctx context.Context, codeSignature string) error {
	start := time.Now()
	s.mu.Lock()
	delete(s.oidcSessions, codeSignature)
	s.mu.Unlock()
	s.record(ctx, "delete_oidc_session", start, nil)
	return nil
}

func (s *Store) getToken(ctx context.Context, m map[string]*record, signature string, kind provara.TokenType, op string) (*provara.Request, error) {
	start := time.Now()
	s.mu.RLock()
	rec, ok := m[signature]
	s.mu.RUnlock()

	var err error
	switch {
	case !ok:
		s.record(ctx, op, start, provara.ErrNotFound)
		return nil, provara.ErrNotFound.WithDescriptionf("no %s session for this signature", kind)
	case !rec.active:
		err = provara.ErrInactive
	case sessionExpired(rec.req, kind):
		err = provara.ErrExpired
	}
	s.record(ctx, op, start, err)
	if err != nil {
		return rec.req, err
	}
	return rec.req, nil
}

func (s *Store) deleteToken(ctx context.Context, m map[string]*record, index map[string][]string, signature, op string) error {
	start := time.Now()
	s.mu.Lock()
	if rec, ok := m[signature]; ok {
		index[rec.req.ID] = removeString(index[rec.req.ID], signature)
		if len(index[rec.req.ID]) == 0 {
			delete(index, rec.req.ID)
		}
		delete(m, signature)
	}
	s.mu.Unlock()
	s.record(ctx, op, start, nil)
	return nil
}

func (s *Store) revokeByRequestID(ctx context.Context, m map[string]*record, index map[string][]string, requestID, op string) error {
	start := time.Now()
	s.mu.Lock()
	for _, signature := range index[requestID] {
		delete(m, signature)
	}
	delete(index, requestID)
	s.mu.Unlock()
	s.record(ctx, op, start, nil)
	return nil
}

func (s *Store) record(ctx context.Context, op string, start time.Time, err error) {
	if s.inst == nil {
		return
	}
	s.inst.Metrics().RecordStorageOperation(ctx, op, start, err)
}

// cleanupLoop periodically removes expired sessions. Inactive codes are kept
// until their expiry passes so replay detection keeps working for the code's
// whole lifetime.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sig, rec := range s.codes {
		if sessionExpired(rec.req, provara.TokenTypeAuthorizeCode) {
			delete(s.codes, sig)
			delete(s.pkceSessions, sig)
			delete(s.oidcSessions, sig)
			removed++
		}
	}
	for sig, rec := range s.accessTokens {
		if sessionExpired(rec.req, provara.TokenTypeAccessToken) {
			s.accessIndex[rec.req.ID] = removeString(s.accessIndex[rec.req.ID], sig)
			delete(s.accessTokens, sig)
			removed++
		}
	}
	for sig, rec := range s.refreshTokens {
		if sessionExpired(rec.req, provara.TokenTypeRefreshToken) {
			s.refreshIndex[rec.req.ID] = removeString(s.refreshIndex[rec.req.ID], sig)
			delete(s.refreshTokens, sig)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("swept expired sessions", "removed", removed)
	}
}

// sessionExpired reports whether the per-kind expiry on the stored session
// has passed. A zero expiry means the session does not expire.
func sessionExpired(req *provara.Request, kind provara.TokenType) bool {
	if req == nil || req.Session == nil {
		return false
	}
	expiresAt := req.Session.GetExpiresAt(kind)
	if expiresAt.IsZero() {
		return false
	}
	return security.IsExpired(expiresAt)
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
