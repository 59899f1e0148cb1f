// Package identity defines the account model shared by every authentication
// path and the contracts of the stores it depends on.
//
// # Accounts
//
// An Account is either local (email/password, Origin == OriginLocal) or
// federated (provisioned from a provider Assertion). Two uniqueness rules hold
// for every Store implementation:
//
//	(provider_id, external_uid)  unique when external_uid is set
//	(email, tenant)              unique regardless of origin
//
// # Stores
//
// Store is consumed by the credential and federated login paths. Create is an
// idempotent upsert: replaying the same assertion returns the existing account
// with created=false, which callers use to avoid duplicate notifications.
//
//	store := identity.NewMemoryStore()
//	account, created, err := store.Create(ctx, assertion, "google", "", identity.RoleUser)
//
// MemoryStore and MemoryInviteLedger back development setups and tests; the
// PostgreSQL implementations live in pkg/storage/postgres.
package identity
