package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect selects the SQL flavour the schema is rendered for. The stores
// only use statements both dialects accept; SQLite backs tests and
// single-node development.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

// Placeholders: {{id}} is the auto-increment primary key, {{ts}} the
// timestamp type.
var migrations = []migration{
	{
		version: 1,
		name:    "accounts",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id {{id}},
				email TEXT NOT NULL,
				tenant TEXT NOT NULL DEFAULT '',
				provider_id TEXT NOT NULL,
				external_uid TEXT,
				display_name TEXT NOT NULL DEFAULT '',
				avatar_url TEXT NOT NULL DEFAULT '',
				password_hash TEXT,
				activation_state TEXT NOT NULL,
				origin TEXT NOT NULL,
				created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (provider_id, external_uid)
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS accounts_tenant_email_idx ON accounts (tenant, lower(email))`,
			`CREATE TABLE IF NOT EXISTS account_roles (
				account_id BIGINT NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
				role TEXT NOT NULL,
				PRIMARY KEY (account_id, role)
			)`,
		},
	},
	{
		version: 2,
		name:    "invitations",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS invitations (
				id {{id}},
				email TEXT NOT NULL,
				token TEXT NOT NULL,
				tenant TEXT NOT NULL DEFAULT '',
				created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (tenant, token)
			)`,
		},
	},
	{
		version: 3,
		name:    "audit_events",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS audit_events (
				id {{id}},
				action TEXT NOT NULL,
				provider TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				account_id BIGINT,
				tenant TEXT NOT NULL DEFAULT '',
				ip_address TEXT NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT '',
				request_id TEXT NOT NULL DEFAULT '',
				created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS audit_events_account_idx ON audit_events (account_id, created_at)`,
		},
	},
}

func (d Dialect) render(stmt string) string {
	id, ts := "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	if d == DialectSQLite {
		id, ts = "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	}
	return strings.NewReplacer("{{id}}", id, "{{ts}}", ts).Replace(stmt)
}

// Migrate brings the schema up to date. Each migration runs in its own
// transaction and is recorded in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) (applied int, err error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at `+dialect.render("{{ts}}")+` NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return 0, err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, dialect, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func apply(ctx context.Context, db *sql.DB, dialect Dialect, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, dialect.render(stmt)); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}
