package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

const accountColumns = `a.id, a.email, a.tenant, a.provider_id, a.external_uid, a.display_name,
	a.avatar_url, a.activation_state, a.origin, a.created_at, a.updated_at`

// IdentityStore implements identity.Store on PostgreSQL
type IdentityStore struct {
	cm         *ConnectionManager
	bcryptCost int
	now        func() time.Time
}

// NewIdentityStore creates an identity store over cm
func NewIdentityStore(cm *ConnectionManager) *IdentityStore {
	return &IdentityStore{
		cm:         cm,
		bcryptCost: bcrypt.DefaultCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// FindByEmail implements identity.Store. Emails match case-insensitively.
func (s *IdentityStore) FindByEmail(ctx context.Context, email string, scope identity.TenantScope) (*identity.Account, error) {
	var row *sql.Row
	if scope.Any {
		row = s.cm.Replica().QueryRowContext(ctx, `
			SELECT `+accountColumns+`
			FROM accounts a
			WHERE lower(a.email) = lower($1)
			ORDER BY EXISTS (
				SELECT 1 FROM account_roles r WHERE r.account_id = a.id AND r.role = $2
			) DESC, a.id ASC
			LIMIT 1
		`, email, string(identity.RoleSuperAdmin))
	} else {
		row = s.cm.Replica().QueryRowContext(ctx, `
			SELECT `+accountColumns+`
			FROM accounts a
			WHERE a.tenant = $1 AND lower(a.email) = lower($2)
		`, scope.Tenant, email)
	}

	account, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	return s.withRoles(ctx, s.cm.Replica(), account)
}

// FindByExternalID implements identity.Store
func (s *IdentityStore) FindByExternalID(ctx context.Context, providerID, externalUID string) (*identity.Account, error) {
	return s.findByExternalID(ctx, s.cm.Replica(), providerID, externalUID)
}

func (s *IdentityStore) findByExternalID(ctx context.Context, db *sql.DB, providerID, externalUID string) (*identity.Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts a
		WHERE a.provider_id = $1 AND a.external_uid = $2
	`, providerID, externalUID)

	account, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	return s.withRoles(ctx, db, account)
}

// Create implements identity.Store. The insert is a no-op on a
// (provider_id, external_uid) conflict, in which case the existing account
// is read back from the primary and created is false.
func (s *IdentityStore) Create(ctx context.Context, assertion identity.Assertion, providerID, tenant string, roles ...identity.Role) (*identity.Account, bool, error) {
	if assertion.ExternalUID == "" {
		return nil, false, fmt.Errorf("assertion has no external uid")
	}

	now := s.now()
	account := &identity.Account{
		Email:       assertion.Email,
		Tenant:      tenant,
		ProviderID:  providerID,
		ExternalUID: &assertion.ExternalUID,
		DisplayName: assertion.DisplayName,
		AvatarURL:   assertion.AvatarURL,
		Roles:       append([]identity.Role(nil), roles...),
		Activation:  identity.StateActivated,
		Origin:      identity.OriginFederated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.insert(ctx, account, nil)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.findByExternalID(ctx, s.cm.Primary(), providerID, assertion.ExternalUID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read existing account: %w", err)
		}
		return existing, false, nil
	}
	return account, true, nil
}

// AddLocalAccount provisions a local email/password account
func (s *IdentityStore) AddLocalAccount(ctx context.Context, email, tenant, password string, state identity.ActivationState, roles ...identity.Role) (*identity.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if len(roles) == 0 {
		roles = []identity.Role{identity.RoleUser}
	}

	providerID := identity.LocalProvider
	if tenant != "" {
		providerID = tenant
	}

	now := s.now()
	account := &identity.Account{
		Email:      email,
		Tenant:     tenant,
		ProviderID: providerID,
		Roles:      append([]identity.Role(nil), roles...),
		Activation: state,
		Origin:     identity.OriginLocal,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	hashed := string(hash)
	if _, err := s.insert(ctx, account, &hashed); err != nil {
		return nil, err
	}
	return account, nil
}

// insert writes account and its roles in one transaction. It reports false
// when an account with the same external identity already exists.
func (s *IdentityStore) insert(ctx context.Context, account *identity.Account, passwordHash *string) (bool, error) {
	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (email, tenant, provider_id, external_uid, display_name, avatar_url,
			password_hash, activation_state, origin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider_id, external_uid) DO NOTHING
		RETURNING id
	`,
		account.Email,
		account.Tenant,
		account.ProviderID,
		account.ExternalUID,
		account.DisplayName,
		account.AvatarURL,
		passwordHash,
		string(account.Activation),
		string(account.Origin),
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("email %s is already registered in tenant %q: %w", account.Email, account.Tenant, err)
		}
		return false, fmt.Errorf("failed to insert account: %w", err)
	}

	for _, role := range account.Roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_roles (account_id, role) VALUES ($1, $2)`,
			account.ID, string(role),
		); err != nil {
			return false, fmt.Errorf("failed to grant role %s: %w", role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit account: %w", err)
	}
	return true, nil
}

// RemoveRole drops role from an account, as approving a pending signup does
func (s *IdentityStore) RemoveRole(ctx context.Context, accountID int64, role identity.Role) error {
	result, err := s.cm.Primary().ExecContext(ctx,
		`DELETE FROM account_roles WHERE account_id = $1 AND role = $2`,
		accountID, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return identity.ErrNotFound
	}

	_, err = s.cm.Primary().ExecContext(ctx, `UPDATE accounts SET updated_at = $1 WHERE id = $2`, s.now(), accountID)
	if err != nil {
		return fmt.Errorf("failed to touch account: %w", err)
	}
	return nil
}

// VerifyCredential implements identity.Store. Accounts without a password
// hash never verify.
func (s *IdentityStore) VerifyCredential(ctx context.Context, account *identity.Account, password string) (bool, error) {
	var hash sql.NullString
	err := s.cm.Replica().QueryRowContext(ctx,
		`SELECT password_hash FROM accounts WHERE id = $1`, account.ID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read credential: %w", err)
	}
	if !hash.Valid || hash.String == "" {
		return false, nil
	}

	err = bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare credential: %w", err)
	}
}

func (s *IdentityStore) withRoles(ctx context.Context, db *sql.DB, account *identity.Account) (*identity.Account, error) {
	rows, err := db.QueryContext(ctx, `SELECT role FROM account_roles WHERE account_id = $1 ORDER BY role`, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		account.Roles = append(account.Roles, identity.Role(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	return account, nil
}

func scanAccount(row *sql.Row) (*identity.Account, error) {
	var (
		account     identity.Account
		externalUID sql.NullString
		activation  string
		origin      string
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Tenant,
		&account.ProviderID,
		&externalUID,
		&account.DisplayName,
		&account.AvatarURL,
		&activation,
		&origin,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if externalUID.Valid {
		uid := externalUID.String
		account.ExternalUID = &uid
	}
	account.Activation = identity.ActivationState(activation)
	account.Origin = identity.Origin(origin)
	return &account, nil
}

// isUniqueViolation matches unique constraint errors from lib/pq and SQLite
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
