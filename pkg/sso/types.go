package sso

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// Family groups providers by protocol
type Family string

const (
	FamilyLDAP   Family = "ldap"
	FamilySAML   Family = "saml"
	FamilyOAuth2 Family = "oauth2"
	FamilyOIDC   Family = "oidc"
)

// Provider names as they appear in routes and account provider ids
const (
	ProviderLDAP      = "ldap"
	ProviderSAML      = "saml"
	ProviderGoogle    = "google"
	ProviderTwitter   = "twitter"
	ProviderOffice365 = "office365"
)

// Adapter authenticates a user against one external identity provider and
// normalizes the result into an identity.Assertion.
type Adapter interface {
	// Name returns the provider name used in routes
	Name() string

	// Family returns the protocol family
	Family() Family

	// CallbackPath returns the path the provider posts back to
	CallbackPath() string

	// BeginAuth starts authentication, typically by redirecting to the provider
	BeginAuth(w http.ResponseWriter, r *http.Request, state string) error

	// ProduceAssertion validates the provider callback and returns the assertion
	ProduceAssertion(ctx context.Context, r *http.Request) (identity.Assertion, error)
}

var (
	// ErrProviderDisabled is returned for providers not enabled at startup
	ErrProviderDisabled = errors.New("provider is not enabled")

	// ErrMissingAttribute is returned when a required attribute is absent
	ErrMissingAttribute = errors.New("required attribute missing from provider response")
)

// ProviderError is a failure reported by the provider itself, such as an
// OAuth2 error parameter on the callback
type ProviderError struct {
	Provider    string
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return e.Provider + ": " + e.Code + ": " + e.Description
	}
	return e.Provider + ": " + e.Code
}

// AttributeNameFormatBasic is the SAML attribute name format of every requested attribute
const AttributeNameFormatBasic = "urn:oasis:names:tc:SAML:2.0:attrname-format:basic"

// AttributeRequest declares one attribute requested from an assertion-producing provider
type AttributeRequest struct {
	Name         string `json:"name"`
	FriendlyName string `json:"friendly_name"`
	Required     bool   `json:"is_required"`
	NameFormat   string `json:"name_format"`
}

// DefaultAttributeRequests is the fixed attribute schema: email, external
// user id, display name and avatar
func DefaultAttributeRequests() []AttributeRequest {
	return []AttributeRequest{
		{Name: "email", FriendlyName: "email", Required: true, NameFormat: AttributeNameFormatBasic},
		{Name: "user_id", FriendlyName: "username", Required: true, NameFormat: AttributeNameFormatBasic},
		{Name: "name", FriendlyName: "name", Required: true, NameFormat: AttributeNameFormatBasic},
		{Name: "image", FriendlyName: "profile picture", Required: false, NameFormat: AttributeNameFormatBasic},
	}
}
