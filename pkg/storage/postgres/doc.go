// Package postgres persists accounts, invitations and audit events.
//
// IdentityStore implements identity.Store and InviteLedger implements
// identity.InviteLedger over a ConnectionManager that routes lookups to read
// replicas and writes to the primary. Account creation is an insert with
// ON CONFLICT DO NOTHING on (provider_id, external_uid) followed by a
// re-read, so concurrent first sign-ins converge on one account and only the
// inserting call reports created.
//
// The schema is applied with Migrate. Statements are written to run on both
// PostgreSQL and SQLite:
//
//	cm, err := postgres.NewConnectionManager(cfg, logger)
//	if _, err := postgres.Migrate(ctx, cm.Primary(), postgres.DialectPostgres); err != nil {
//		return err
//	}
//	store := postgres.NewIdentityStore(cm)
//
// Local passwords are stored as bcrypt hashes only.
package postgres
