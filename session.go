package provara

import "time"

// Session carries cross-request state that must survive serialization to
// storage: per-token-type expiries and the authenticated principal. A single
// authorization-code session is reused to derive access-token and
// refresh-token sessions with independently advancing expiries, which is why
// Clone must produce a deep, independent copy.
type Session interface {
	// SetExpiresAt records the expiry for the given token type
	SetExpiresAt(key TokenType, exp time.Time)

	// GetExpiresAt returns the recorded expiry for the given token type, or
	// the zero time if none was recorded
	GetExpiresAt(key TokenType) time.Time

	// GetUsername returns the authenticated username, if any
	GetUsername() string

	// GetSubject returns the subject identifier, if any
	GetSubject() string

	// Clone returns a deep copy sharing no mutable substructure with the
	// receiver
	Clone() Session
}

// DefaultSession is the baseline Session implementation.
type DefaultSession struct {
	ExpiresAt map[TokenType]time.Time
	Username  string
	Subject   string
}

// SetExpiresAt records the expiry for the given token type
func (s *DefaultSession) SetExpiresAt(key TokenType, exp time.Time) {
	if s.ExpiresAt == nil {
		s.ExpiresAt = make(map[TokenType]time.Time)
	}
	s.ExpiresAt[key] = exp
}

// GetExpiresAt returns the recorded expiry for the given token type
func (s *DefaultSession) GetExpiresAt(key TokenType) time.Time {
	if s.ExpiresAt == nil {
		return time.Time{}
	}
	return s.ExpiresAt[key]
}

// GetUsername returns the authenticated username
func (s *DefaultSession) GetUsername() string {
	if s == nil {
		return ""
	}
	return s.Username
}

// GetSubject returns the subject identifier
func (s *DefaultSession) GetSubject() string {
	if s == nil {
		return ""
	}
	return s.Subject
}

// Clone returns a deep copy of the session
func (s *DefaultSession) Clone() Session {
	if s == nil {
		return nil
	}

	clone := &DefaultSession{
		Username: s.Username,
		Subject:  s.Subject,
	}
	if s.ExpiresAt != nil {
		clone.ExpiresAt = make(map[TokenType]time.Time, len(s.ExpiresAt))
		for k, v := range s.ExpiresAt {
			clone.ExpiresAt[k] = v
		}
	}
	return clone
}
