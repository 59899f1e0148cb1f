package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultTTL is the lifetime of a session without activity
const DefaultTTL = 7 * 24 * time.Hour

// Manager establishes and terminates sessions. Tokens never reach the store:
// records are keyed by the token's SHA-256.
type Manager struct {
	store   Store
	ttl     time.Duration
	tokens  *TokenGenerator
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewManager creates a session manager. metrics may be nil.
func NewManager(store Store, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Manager{
		store:   store,
		ttl:     ttl,
		tokens:  NewTokenGenerator(),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// TTL returns the configured session lifetime
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Establish starts a session for account. The session behind previousToken,
// if any, is invalidated first so a login always gets a fresh token.
func (m *Manager) Establish(ctx context.Context, previousToken string, account *identity.Account) (*Session, string, error) {
	if account == nil {
		return nil, "", fmt.Errorf("account is required")
	}

	if previousToken != "" {
		if err := m.Terminate(ctx, previousToken); err != nil {
			return nil, "", fmt.Errorf("failed to invalidate previous session: %w", err)
		}
	}

	token, key, err := m.tokens.GenerateToken()
	if err != nil {
		return nil, "", err
	}

	now := m.now()
	s := &Session{
		AccountID: account.ID,
		Email:     account.Email,
		Tenant:    account.Tenant,
		Roles:     append([]identity.Role(nil), account.Roles...),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	err = m.store.Save(ctx, key, s, m.ttl)
	m.metrics.RecordSessionOperation("establish", err)
	if err != nil {
		return nil, "", fmt.Errorf("failed to save session: %w", err)
	}

	m.logger.WithFields(map[string]interface{}{
		"account_id": account.ID,
		"request_id": observability.GetRequestID(ctx),
	}).Debug("Session established")

	return s, token, nil
}

// Terminate deletes the session behind token. Unknown tokens are not an error.
func (m *Manager) Terminate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := m.store.Delete(ctx, m.tokens.HashToken(token))
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	m.metrics.RecordSessionOperation("terminate", err)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Lookup returns the live session behind token
func (m *Manager) Lookup(ctx context.Context, token string) (*Session, error) {
	if err := m.tokens.ValidateTokenFormat(token); err != nil {
		return nil, ErrNotFound
	}

	s, err := m.store.Load(ctx, m.tokens.HashToken(token))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.metrics.RecordSessionOperation("lookup", err)
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		return nil, ErrNotFound
	}
	if s.Expired(m.now()) {
		return nil, ErrNotFound
	}
	m.metrics.RecordSessionOperation("lookup", nil)
	return s, nil
}
