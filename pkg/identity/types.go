package identity

import "time"

// Origin records where an account's identity comes from
type Origin string

const (
	OriginLocal     Origin = "local"     // email/password account
	OriginFederated Origin = "federated" // provisioned from a provider assertion
)

// ActivationState tracks whether a local account confirmed its email
type ActivationState string

const (
	StatePendingActivation ActivationState = "pending_activation"
	StateActivated         ActivationState = "activated"
)

// Role represents an account-level role
type Role string

const (
	RoleUser       Role = "user"        // Default role for every account
	RolePending    Role = "pending"     // Awaiting administrator approval
	RoleAdmin      Role = "admin"       // Tenant administrator
	RoleSuperAdmin Role = "super_admin" // Cross-tenant administrator
)

// Assertion is the normalized identity claim a provider adapter produces
// after a successful external authentication. It is treated as immutable.
type Assertion struct {
	ProviderID    string            `json:"provider_id"`
	ExternalUID   string            `json:"external_uid"`
	Email         string            `json:"email"`
	DisplayName   string            `json:"display_name,omitempty"`
	AvatarURL     string            `json:"avatar_url,omitempty"`
	RawAttributes map[string]string `json:"raw_attributes,omitempty"`
}

// Account is the local identity record
type Account struct {
	ID          int64           `json:"id"`
	Email       string          `json:"email"`
	Tenant      string          `json:"tenant,omitempty"`
	ProviderID  string          `json:"provider_id"`
	ExternalUID *string         `json:"external_uid,omitempty"` // nil for local accounts
	DisplayName string          `json:"display_name,omitempty"`
	AvatarURL   string          `json:"avatar_url,omitempty"`
	Roles       []Role          `json:"roles"`
	Activation  ActivationState `json:"activation_state"`
	Origin      Origin          `json:"origin"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// HasRole reports whether the account carries role
func (a *Account) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the account may bypass tenant scoping
func (a *Account) IsSuperAdmin() bool {
	return a.HasRole(RoleSuperAdmin)
}

// IsLocal reports whether the account authenticates with a local password
func (a *Account) IsLocal() bool {
	return a.Origin == OriginLocal
}

// IsActivated reports whether the account has completed activation
func (a *Account) IsActivated() bool {
	return a.Activation == StateActivated
}

// Invitation is the answer of an invite ledger lookup
type Invitation struct {
	Present bool `json:"present"`
}
