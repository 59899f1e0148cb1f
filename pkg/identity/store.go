package identity

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that match no account
var ErrNotFound = errors.New("account not found")

// TenantScope selects which tenants an email lookup covers
type TenantScope struct {
	Any    bool
	Tenant string
}

// AnyTenant matches accounts in every tenant
var AnyTenant = TenantScope{Any: true}

// InTenant matches accounts of a single tenant ("" is the single-tenant deployment)
func InTenant(tenant string) TenantScope {
	return TenantScope{Tenant: tenant}
}

// Store is the credential/identity store contract.
//
// Implementations must enforce uniqueness of (provider_id, external_uid) and
// of (email, tenant), and Create must be safe under concurrent duplicate calls:
// when an account already exists for the pair it is returned unchanged with
// created=false.
type Store interface {
	// FindByEmail returns the account for email in scope. With AnyTenant,
	// super-admin accounts are preferred over other matches.
	FindByEmail(ctx context.Context, email string, scope TenantScope) (*Account, error)

	// FindByExternalID returns the account linked to (providerID, externalUID)
	FindByExternalID(ctx context.Context, providerID, externalUID string) (*Account, error)

	// Create materializes a federated account from an assertion, atomically
	// with its initial roles.
	Create(ctx context.Context, assertion Assertion, providerID, tenant string, roles ...Role) (account *Account, created bool, err error)

	// VerifyCredential checks password against the account's stored hash
	VerifyCredential(ctx context.Context, account *Account, password string) (bool, error)
}

// InviteLedger validates outstanding invitations
type InviteLedger interface {
	Check(ctx context.Context, email, token, tenant string) (Invitation, error)
}
