package postgres

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// setupTestDB opens a migrated in-memory SQLite database. One connection
// keeps every query on the same in-memory database.
func setupTestDB(t *testing.T) *ConnectionManager {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = Migrate(context.Background(), db, DialectSQLite)
	require.NoError(t, err)

	return NewConnectionManagerFromDB(db, nil, quietLogger())
}

func newTestIdentityStore(t *testing.T) *IdentityStore {
	t.Helper()
	store := NewIdentityStore(setupTestDB(t))
	store.bcryptCost = bcrypt.MinCost
	return store
}
