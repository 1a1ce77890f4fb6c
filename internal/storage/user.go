package storage

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider names the sign-in method that created an account.
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
)

// User is one registered identity. Email and PasswordHash are empty when absent;
// federated accounts never carry a hash.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Provider     Provider
	AvatarURL    string
	CreatedAt    time.Time
}

// Session captures a persisted login. Only the user id is kept.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// NormalizeEmail is the comparison key for emails: trimmed and lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUserID returns a time-ordered opaque identifier.
func NewUserID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "u" + uuid.NewString()
	}
	return "u" + id.String()
}
