package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MemoryStore implements Store with in-memory maps.
// Used for local development and tests when PostgreSQL is not available.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     int64
	accounts   map[int64]*Account
	byExternal map[string]int64 // key: provider_id:external_uid
	byEmail    map[string]int64 // key: tenant:email
	passwords  map[int64][]byte // bcrypt hashes for local accounts
}

// NewMemoryStore creates an empty in-memory identity store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:     1,
		accounts:   make(map[int64]*Account),
		byExternal: make(map[string]int64),
		byEmail:    make(map[string]int64),
		passwords:  make(map[int64][]byte),
	}
}

func externalKey(providerID, externalUID string) string {
	return providerID + ":" + externalUID
}

func emailKey(tenant, email string) string {
	return tenant + ":" + strings.ToLower(email)
}

// AddLocalAccount provisions a local email/password account. Local accounts
// are created by provisioning flows outside the login path.
func (s *MemoryStore) AddLocalAccount(email, tenant, password string, state ActivationState, roles ...Role) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[emailKey(tenant, email)]; exists {
		return nil, fmt.Errorf("account with email %s already exists in tenant %q", email, tenant)
	}

	if len(roles) == 0 {
		roles = []Role{RoleUser}
	}

	now := time.Now()
	account := &Account{
		ID:         s.nextID,
		Email:      email,
		Tenant:     tenant,
		ProviderID: localProviderID(tenant),
		Roles:      append([]Role(nil), roles...),
		Activation: state,
		Origin:     OriginLocal,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.nextID++

	s.accounts[account.ID] = account
	s.byEmail[emailKey(tenant, email)] = account.ID
	s.passwords[account.ID] = hash

	return cloneAccount(account), nil
}

// RemoveRole drops a role from an account, as an administrator approving a
// pending signup would.
func (s *MemoryStore) RemoveRole(accountID int64, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}

	kept := account.Roles[:0]
	for _, r := range account.Roles {
		if r != role {
			kept = append(kept, r)
		}
	}
	account.Roles = kept
	account.UpdatedAt = time.Now()
	return nil
}

// Count returns the number of stored accounts
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// FindByEmail implements Store
func (s *MemoryStore) FindByEmail(ctx context.Context, email string, scope TenantScope) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !scope.Any {
		id, ok := s.byEmail[emailKey(scope.Tenant, email)]
		if !ok {
			return nil, ErrNotFound
		}
		return cloneAccount(s.accounts[id]), nil
	}

	var matches []*Account
	for _, account := range s.accounts {
		if strings.EqualFold(account.Email, email) {
			matches = append(matches, account)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}

	sort.Slice(matches, func(i, j int) bool {
		si, sj := matches[i].IsSuperAdmin(), matches[j].IsSuperAdmin()
		if si != sj {
			return si
		}
		return matches[i].ID < matches[j].ID
	})
	return cloneAccount(matches[0]), nil
}

// FindByExternalID implements Store
func (s *MemoryStore) FindByExternalID(ctx context.Context, providerID, externalUID string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalKey(providerID, externalUID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

// Create implements Store
func (s *MemoryStore) Create(ctx context.Context, assertion Assertion, providerID, tenant string, roles ...Role) (*Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if assertion.ExternalUID == "" {
		return nil, false, fmt.Errorf("assertion has no external uid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byExternal[externalKey(providerID, assertion.ExternalUID)]; ok {
		return cloneAccount(s.accounts[id]), false, nil
	}
	if _, taken := s.byEmail[emailKey(tenant, assertion.Email)]; taken {
		return nil, false, fmt.Errorf("email %s is already registered in tenant %q", assertion.Email, tenant)
	}

	uid := assertion.ExternalUID
	now := time.Now()
	account := &Account{
		ID:          s.nextID,
		Email:       assertion.Email,
		Tenant:      tenant,
		ProviderID:  providerID,
		ExternalUID: &uid,
		DisplayName: assertion.DisplayName,
		AvatarURL:   assertion.AvatarURL,
		Roles:       append([]Role(nil), roles...),
		Activation:  StateActivated,
		Origin:      OriginFederated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.nextID++

	s.accounts[account.ID] = account
	s.byExternal[externalKey(providerID, uid)] = account.ID
	s.byEmail[emailKey(tenant, account.Email)] = account.ID

	return cloneAccount(account), true, nil
}

// VerifyCredential implements Store
func (s *MemoryStore) VerifyCredential(ctx context.Context, account *Account, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	hash, ok := s.passwords[account.ID]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

func cloneAccount(a *Account) *Account {
	c := *a
	c.Roles = append([]Role(nil), a.Roles...)
	if a.ExternalUID != nil {
		uid := *a.ExternalUID
		c.ExternalUID = &uid
	}
	return &c
}

// localProviderID is the provider column value for local accounts
func localProviderID(tenant string) string {
	if tenant != "" {
		return tenant
	}
	return LocalProvider
}

// LocalProvider identifies local email/password accounts in a single-tenant deployment
const LocalProvider = "gatehouse"

// MemoryInviteLedger implements InviteLedger with an in-memory set
type MemoryInviteLedger struct {
	mu      sync.RWMutex
	invites map[string]string // key: tenant:token → email
}

// NewMemoryInviteLedger creates an empty ledger
func NewMemoryInviteLedger() *MemoryInviteLedger {
	return &MemoryInviteLedger{invites: make(map[string]string)}
}

// Add records an outstanding invitation
func (l *MemoryInviteLedger) Add(email, token, tenant string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invites[tenant+":"+token] = strings.ToLower(email)
}

// Check implements InviteLedger. An empty email matches on token and tenant only.
func (l *MemoryInviteLedger) Check(ctx context.Context, email, token, tenant string) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	if token == "" {
		return Invitation{}, nil
	}

	l.mu.RLock()
	invited, ok := l.invites[tenant+":"+token]
	l.mu.RUnlock()

	if !ok {
		return Invitation{}, nil
	}
	if email != "" && !strings.EqualFold(invited, email) {
		return Invitation{}, nil
	}
	return Invitation{Present: true}, nil
}
