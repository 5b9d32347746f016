package security

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestAuditorHashesSubjects(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), true)

	a.LogTokenIssued("peter@example.com", "foo", "access_token", "books.read")

	out := buf.String()
	if strings.Contains(out, "peter@example.com") {
		t.Error("the subject must never appear in the log verbatim")
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshaling log line: %v", err)
	}
	if entry["client_id"] != "foo" {
		t.Errorf("client_id = %v", entry["client_id"])
	}
	if entry["event_type"] != "token_issued" {
		t.Errorf("event_type = %v", entry["event_type"])
	}
	hash, _ := entry["subject_hash"].(string)
	if len(hash) != 16 {
		t.Errorf("subject_hash = %q, want a 16-character digest", hash)
	}
}

func TestAuditorDisabled(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), false)

	a.LogTokenRevoked("foo", "req-1")
	a.LogReplayDetected("foo", "req-1")
	if buf.Len() != 0 {
		t.Errorf("a disabled auditor must stay silent, got %q", buf.String())
	}
}

func TestAuditorNilReceiver(t *testing.T) {
	var a *Auditor
	// Must not panic
	a.LogEvent(Event{Type: "token_issued"})
	a.LogClientMismatch("foo", "revoke")
	a.LogSignatureMismatch("foo", "access_token")
}

func TestAuditorEmptySubject(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), true)

	a.LogTokenRevoked("foo", "req-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshaling log line: %v", err)
	}
	if hash, _ := entry["subject_hash"].(string); hash != "" {
		t.Errorf("an absent subject must hash to empty, got %q", hash)
	}
}
