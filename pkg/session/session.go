package session

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// ErrNotFound is returned when no live session matches a token
var ErrNotFound = errors.New("session not found")

// Session is the server-side record behind a session cookie
type Session struct {
	AccountID int64           `json:"account_id"`
	Email     string          `json:"email"`
	Tenant    string          `json:"tenant,omitempty"`
	Roles     []identity.Role `json:"roles"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions under the hash of their token
type Store interface {
	Save(ctx context.Context, key string, s *Session, ttl time.Duration) error
	Load(ctx context.Context, key string) (*Session, error)
	Delete(ctx context.Context, key string) error
}
