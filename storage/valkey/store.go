// Package valkey provides a Valkey-backed implementation of all storage
// contracts for multi-instance deployments. Sessions are serialized to JSON,
// optionally encrypted at rest, and expire server-side via key TTLs derived
// from the session's per-kind expiry.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/provara/provara"
	"github.com/provara/provara/instrumentation"
	"github.com/provara/provara/security"
)

const (
	// DefaultKeyPrefix namespaces every key this store writes
	DefaultKeyPrefix = "provara:"

	// connectionVerifyTimeout bounds the initial PING
	connectionVerifyTimeout = 5 * time.Second

	// maxSessionDataSize caps a serialized session payload (64KB)
	maxSessionDataSize = 64 << 10
)

// Config holds configuration for the Valkey storage backend
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "provara:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// EncryptionKey enables AES-256-GCM encryption of session payloads at
	// rest. Empty disables encryption; otherwise it must be 32 bytes.
	EncryptionKey []byte

	// Hasher verifies client secrets (default bcrypt)
	Hasher security.Hasher

	// Logger is the optional structured logger (default slog.Default())
	Logger *slog.Logger

	// Instrumentation enables storage operation metrics
	Instrumentation *instrumentation.Instrumentation
}

// Store is a Valkey-backed implementation of every storage contract in the
// root package
type Store struct {
	client    valkeygo.Client
	prefix    string
	encryptor *security.Encryptor
	hasher    security.Hasher
	logger    *slog.Logger
	inst      *instrumentation.Instrumentation
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

// New creates a Valkey-backed store and verifies the connection
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = &security.BCryptHasher{}
	}

	encryptor, err := security.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("configuring session encryption: %w", err)
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("creating valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to valkey at %s: %w", cfg.Address, err)
	}

	return &Store{
		client:    client,
		prefix:    prefix,
		encryptor: encryptor,
		hasher:    hasher,
		logger:    logger,
		inst:      cfg.Instrumentation,
	}, nil
}

// Close releases the underlying connection
func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) codeKey(signature string) string {
	return s.prefix + "code:" + signature
}

func (s *Store) codeTombstoneKey(signature string) string {
	return s.prefix + "code:used:" + signature
}

func (s *Store) accessKey(signature string) string {
	return s.prefix + "access:" + signature
}

func (s *Store) refreshKey(signature string) string {
	return s.prefix + "refresh:" + signature
}

func (s *Store) pkceKey(codeSignature string) string {
	return s.prefix + "pkce:" + codeSignature
}

func (s *Store) oidcKey(codeSignature string) string {
	return s.prefix + "oidc:" + codeSignature
}

func (s *Store) clientKey(id string) string {
	return s.prefix + "client:" + id
}

func (s *Store) accessIndexKey(requestID string) string {
	return s.prefix + "idx:access:" + requestID
}

func (s *Store) refreshIndexKey(requestID string) string {
	return s.prefix + "idx:refresh:" + requestID
}

func (s *Store) record(ctx context.Context, op string, start time.Time, err error) {
	if s.inst == nil {
		return
	}
	s.inst.Metrics().RecordStorageOperation(ctx, op, start, err)
}

// isNilReply reports whether err is the Valkey nil reply, i.e. key absent
func isNilReply(err error) bool {
	return err != nil && strings.Contains(err.Error(), "nil message")
}

// ttlFor derives the key TTL from the session's per-kind expiry. Zero means
// no expiry is recorded and the key is stored without TTL.
func ttlFor(req *provara.Request, kind provara.TokenType) time.Duration {
	if req == nil || req.Session == nil {
		return 0
	}
	expiresAt := req.Session.GetExpiresAt(kind)
	if expiresAt.IsZero() {
		return 0
	}
	return time.Until(expiresAt)
}
