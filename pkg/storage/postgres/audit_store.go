package postgres

import (
	"context"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// AuditStore persists authentication audit events
type AuditStore struct {
	cm *ConnectionManager
}

// NewAuditStore creates an audit store over cm
func NewAuditStore(cm *ConnectionManager) *AuditStore {
	return &AuditStore{cm: cm}
}

// RecordAuditEvent implements auth.AuditSink
func (s *AuditStore) RecordAuditEvent(ctx context.Context, event *auth.AuditEvent) error {
	_, err := s.cm.Primary().ExecContext(ctx, `
		INSERT INTO audit_events (action, provider, status, reason, account_id, tenant,
			ip_address, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		event.Action,
		event.Provider,
		event.Status,
		event.Reason,
		event.AccountID,
		event.Tenant,
		event.IPAddress,
		event.UserAgent,
		event.RequestID,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// CountAuditEvents returns the number of events recorded for action
func (s *AuditStore) CountAuditEvents(ctx context.Context, action string) (int, error) {
	var n int
	if err := s.cm.Replica().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE action = $1`, action,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}
