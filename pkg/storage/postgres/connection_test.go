package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func mockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single URL", input: "postgres://localhost:5432/db", expected: []string{"postgres://localhost:5432/db"}},
		{
			name:     "URLs with whitespace and empty entries",
			input:    " postgres://host1:5432/db ,, postgres://host2:5432/db ,",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{name: "only commas and whitespace", input: " , , ", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestConnectionConfig_Defaults(t *testing.T) {
	cfg := ConnectionConfig{}.withDefaults()
	assert.Equal(t, 25, cfg.MaxConns)
	assert.Equal(t, 5, cfg.MinConns)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, time.Hour, cfg.MaxLifetime)

	kept := ConnectionConfig{MaxConns: 3, Timeout: time.Second}.withDefaults()
	assert.Equal(t, 3, kept.MaxConns)
	assert.Equal(t, time.Second, kept.Timeout)
}

func TestNewConnectionManager_InvalidPrimary(t *testing.T) {
	cm, err := NewConnectionManager(ConnectionConfig{
		PrimaryURL: "postgres://invalid:5432/nonexistent?sslmode=disable&connect_timeout=1",
		Timeout:    time.Second,
	}, quietLogger())
	assert.Error(t, err)
	assert.Nil(t, cm)
	assert.Contains(t, err.Error(), "failed to ping primary")
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas falls back to primary", func(t *testing.T) {
		primary := &sql.DB{}
		cm := NewConnectionManagerFromDB(primary, nil, quietLogger())
		assert.Same(t, primary, cm.Replica())
		assert.Same(t, primary, cm.Primary())
	})

	t.Run("round-robin selection", func(t *testing.T) {
		r1, r2, r3 := &sql.DB{}, &sql.DB{}, &sql.DB{}
		cm := NewConnectionManagerFromDB(&sql.DB{}, []*sql.DB{r1, r2, r3}, quietLogger())

		selections := make(map[*sql.DB]int)
		for i := 0; i < 30; i++ {
			selections[cm.Replica()]++
		}
		assert.Equal(t, 10, selections[r1])
		assert.Equal(t, 10, selections[r2])
		assert.Equal(t, 10, selections[r3])
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	t.Run("healthy primary and replicas", func(t *testing.T) {
		primary, primaryMock := mockDB(t)
		replica, replicaMock := mockDB(t)
		primaryMock.ExpectPing()
		replicaMock.ExpectPing()

		cm := NewConnectionManagerFromDB(primary, []*sql.DB{replica}, quietLogger())
		assert.NoError(t, cm.HealthCheck(context.Background()))
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, replicaMock.ExpectationsWereMet())
	})

	t.Run("unhealthy primary", func(t *testing.T) {
		primary, primaryMock := mockDB(t)
		primaryMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := NewConnectionManagerFromDB(primary, nil, quietLogger())
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("some replicas unhealthy", func(t *testing.T) {
		primary, primaryMock := mockDB(t)
		r1, r1Mock := mockDB(t)
		r2, r2Mock := mockDB(t)
		primaryMock.ExpectPing()
		r1Mock.ExpectPing()
		r2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := NewConnectionManagerFromDB(primary, []*sql.DB{r1, r2}, quietLogger())
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("all replicas unhealthy", func(t *testing.T) {
		primary, primaryMock := mockDB(t)
		r1, r1Mock := mockDB(t)
		primaryMock.ExpectPing()
		r1Mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := NewConnectionManagerFromDB(primary, []*sql.DB{r1}, quietLogger())
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy")
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := mockDB(t)
	healthy, healthyMock := mockDB(t)
	broken, brokenMock := mockDB(t)
	healthyMock.ExpectPing()
	brokenMock.ExpectPing().WillReturnError(errors.New("connection refused"))
	brokenMock.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, []*sql.DB{healthy, broken}, quietLogger())
	assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
	assert.Same(t, healthy, cm.Replica())
	assert.Len(t, cm.Stats().Replicas, 1)
}

func TestConnectionManager_Close(t *testing.T) {
	primary, primaryMock := mockDB(t)
	replica, replicaMock := mockDB(t)
	primaryMock.ExpectClose()
	replicaMock.ExpectClose().WillReturnError(errors.New("already closed"))

	cm := NewConnectionManagerFromDB(primary, []*sql.DB{replica}, quietLogger())
	err := cm.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica-0 close error")
	assert.Same(t, primary, cm.Replica(), "replicas are dropped after close")
}
