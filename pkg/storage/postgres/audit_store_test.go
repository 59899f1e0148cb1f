package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

func TestAuditStore_RecordAuditEvent(t *testing.T) {
	store := NewAuditStore(setupTestDB(t))
	ctx := context.Background()

	id := int64(42)
	require.NoError(t, store.RecordAuditEvent(ctx, &auth.AuditEvent{
		Action:    auth.ActionLogin,
		Status:    auth.StatusSuccess,
		AccountID: &id,
		IPAddress: "192.0.2.1",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.RecordAuditEvent(ctx, &auth.AuditEvent{
		Action:    auth.ActionCallback,
		Provider:  "google",
		Status:    auth.StatusFailure,
		Reason:    auth.ReasonProviderError,
		CreatedAt: time.Now().UTC(),
	}))

	n, err := store.CountAuditEvents(ctx, auth.ActionLogin)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.CountAuditEvents(ctx, auth.ActionLogout)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuditStore_InsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).WillReturnError(errors.New("read-only transaction"))

	store := NewAuditStore(NewConnectionManagerFromDB(db, nil, quietLogger()))
	err = store.RecordAuditEvent(context.Background(), &auth.AuditEvent{Action: auth.ActionLogin})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit event")
}
