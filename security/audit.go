package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/provara/provara/internal/util"
)

// Auditor logs security events with PII protection. Subjects are hashed
// before logging; client IDs are public identifiers and logged verbatim.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event is a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs issuance of a token
func (a *Auditor) LogTokenIssued(subject, clientID, tokenType, scope string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
			"scope":      scope,
		},
	})
}

// LogTokenRevoked logs revocation of a grant's tokens
func (a *Auditor) LogTokenRevoked(clientID, requestID string) {
	a.LogEvent(Event{
		Type:     "token_revoked",
		ClientID: clientID,
		Details: map[string]any{
			"request_id": requestID,
		},
	})
}

// LogReplayDetected logs redemption of an already-invalidated authorization
// code, which indicates a likely code interception.
func (a *Auditor) LogReplayDetected(clientID, requestID string) {
	a.LogEvent(Event{
		Type:     "authorization_code_replay",
		ClientID: clientID,
		Details: map[string]any{
			"request_id": requestID,
		},
	})
}

// LogSignatureMismatch logs a presented token whose signature did not
// re-derive from its payload.
func (a *Auditor) LogSignatureMismatch(clientID, tokenType string) {
	a.LogEvent(Event{
		Type:     "token_signature_mismatch",
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogClientMismatch logs an attempt to act on a token owned by a different
// client. This is a security failure, never an absence.
func (a *Auditor) LogClientMismatch(clientID, operation string) {
	a.LogEvent(Event{
		Type:     "client_identity_mismatch",
		ClientID: clientID,
		Details: map[string]any{
			"operation": operation,
		},
	})
}

// hashForLogging produces a short stable digest so events about the same
// subject correlate without exposing the value.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return util.SafeTruncate(hex.EncodeToString(sum[:]), 16)
}
