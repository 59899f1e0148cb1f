package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// DefaultInviteValidity is how long an invitation stays usable after it
// was last sent
const DefaultInviteValidity = 48 * time.Hour

// InviteLedger implements identity.InviteLedger on PostgreSQL
type InviteLedger struct {
	cm       *ConnectionManager
	validFor time.Duration
	now      func() time.Time
}

// NewInviteLedger creates a ledger whose invitations expire after validFor
func NewInviteLedger(cm *ConnectionManager, validFor time.Duration) *InviteLedger {
	if validFor <= 0 {
		validFor = DefaultInviteValidity
	}
	return &InviteLedger{
		cm:       cm,
		validFor: validFor,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Invite records an invitation for email in tenant and returns its token.
// Inviting an address again issues a new token, so an earlier link stops
// working, and restarts the validity window.
func (l *InviteLedger) Invite(ctx context.Context, email, tenant string) (string, error) {
	now := l.now()
	token := uuid.NewString()

	result, err := l.cm.Primary().ExecContext(ctx, `
		UPDATE invitations SET token = $1, updated_at = $2
		WHERE tenant = $3 AND lower(email) = lower($4)
	`, token, now, tenant, email)
	if err != nil {
		return "", fmt.Errorf("failed to refresh invitation: %w", err)
	}
	if refreshed, err := result.RowsAffected(); err == nil && refreshed > 0 {
		return token, nil
	}

	_, err = l.cm.Primary().ExecContext(ctx, `
		INSERT INTO invitations (email, token, tenant, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, email, token, tenant, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create invitation: %w", err)
	}
	return token, nil
}

// Check implements identity.InviteLedger. An empty email matches on token
// and tenant only.
func (l *InviteLedger) Check(ctx context.Context, email, token, tenant string) (identity.Invitation, error) {
	if token == "" {
		return identity.Invitation{}, nil
	}

	var (
		invited   string
		updatedAt time.Time
	)
	err := l.cm.Replica().QueryRowContext(ctx, `
		SELECT email, updated_at FROM invitations WHERE tenant = $1 AND token = $2
	`, tenant, token).Scan(&invited, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Invitation{}, nil
	}
	if err != nil {
		return identity.Invitation{}, fmt.Errorf("failed to look up invitation: %w", err)
	}

	if updatedAt.Before(l.now().Add(-l.validFor)) {
		return identity.Invitation{}, nil
	}
	if email != "" && !strings.EqualFold(invited, email) {
		return identity.Invitation{}, nil
	}
	return identity.Invitation{Present: true}, nil
}

// PurgeExpired deletes invitations past their validity window
func (l *InviteLedger) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := l.cm.Primary().ExecContext(ctx,
		`DELETE FROM invitations WHERE updated_at < $1`, l.now().Add(-l.validFor),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge invitations: %w", err)
	}
	return result.RowsAffected()
}
