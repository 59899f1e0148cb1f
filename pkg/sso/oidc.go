package sso

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// Issuers of the OpenID Connect providers
const (
	GoogleIssuer          = "https://accounts.google.com"
	office365IssuerFormat = "https://login.microsoftonline.com/%s/v2.0"
)

// YouTube scopes requested when recording uploads are enabled
var youTubeScopes = []string{
	"https://www.googleapis.com/auth/youtube",
	"https://www.googleapis.com/auth/youtube.upload",
}

// claimsMapper turns verified ID token claims into an assertion
type claimsMapper func(provider string, claims map[string]interface{}) identity.Assertion

// OIDCAdapter implements OpenID Connect SSO. Discovery runs on first use and
// is retried until it succeeds, so startup does not depend on the provider.
type OIDCAdapter struct {
	name            string
	issuer          string
	skipIssuerCheck bool
	callbackURL     string
	clientID        string
	clientSecret    string
	scopes          []string
	authParams      []oauth2.AuthCodeOption
	mapClaims       claimsMapper
	client          *http.Client

	mu           sync.Mutex
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewGoogleAdapter creates the Google adapter
func NewGoogleAdapter(cfg config.GoogleConfig, callbackURL string, client *http.Client) *OIDCAdapter {
	scopes := []string{oidc.ScopeOpenID, "profile", "email"}
	if cfg.EnableYouTubeUploading {
		scopes = append(scopes, youTubeScopes...)
	}
	return &OIDCAdapter{
		name:         ProviderGoogle,
		issuer:       GoogleIssuer,
		callbackURL:  callbackURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       scopes,
		authParams:   []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "select_account")},
		mapClaims:    googleClaims,
		client:       client,
	}
}

// NewOffice365Adapter creates the Microsoft identity platform adapter. The
// "common" tenant issues tokens under each user's directory, so the issuer
// check is skipped for it.
func NewOffice365Adapter(cfg config.Office365Config, callbackURL string, client *http.Client) *OIDCAdapter {
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	multiTenant := tenant == "common" || tenant == "organizations" || tenant == "consumers"
	return &OIDCAdapter{
		name:            ProviderOffice365,
		issuer:          fmt.Sprintf(office365IssuerFormat, tenant),
		skipIssuerCheck: multiTenant,
		callbackURL:     callbackURL,
		clientID:        cfg.ClientID,
		clientSecret:    cfg.ClientSecret,
		scopes:          []string{oidc.ScopeOpenID, "profile", "email", "User.Read"},
		mapClaims:       office365Claims,
		client:          client,
	}
}

// Name implements Adapter
func (a *OIDCAdapter) Name() string { return a.name }

// Family implements Adapter
func (a *OIDCAdapter) Family() Family { return FamilyOIDC }

// CallbackPath implements Adapter
func (a *OIDCAdapter) CallbackPath() string { return pathOf(a.callbackURL) }

// Scopes returns the requested scopes
func (a *OIDCAdapter) Scopes() []string {
	return append([]string(nil), a.scopes...)
}

// discover resolves the provider metadata once
func (a *OIDCAdapter) discover(ctx context.Context) (*oauth2.Config, *oidc.IDTokenVerifier, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.oauth2Config != nil {
		return a.oauth2Config, a.verifier, nil
	}

	// the key set keeps this context for later refreshes
	ctx = withHTTPClient(context.WithoutCancel(ctx), a.client)
	if a.skipIssuerCheck {
		ctx = oidc.InsecureIssuerURLContext(ctx, a.issuer)
	}

	provider, err := oidc.NewProvider(ctx, a.issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover OIDC provider %s: %w", a.name, err)
	}

	a.verifier = provider.Verifier(&oidc.Config{
		ClientID:        a.clientID,
		SkipIssuerCheck: a.skipIssuerCheck,
	})
	a.oauth2Config = &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  a.callbackURL,
		Scopes:       a.scopes,
	}
	return a.oauth2Config, a.verifier, nil
}

// BeginAuth redirects to the authorization endpoint
func (a *OIDCAdapter) BeginAuth(w http.ResponseWriter, r *http.Request, state string) error {
	cfg, _, err := a.discover(r.Context())
	if err != nil {
		return err
	}
	http.Redirect(w, r, cfg.AuthCodeURL(state, a.authParams...), http.StatusFound)
	return nil
}

// ProduceAssertion exchanges the code and verifies the ID token
func (a *OIDCAdapter) ProduceAssertion(ctx context.Context, r *http.Request) (identity.Assertion, error) {
	q := r.URL.Query()
	if code := q.Get("error"); code != "" {
		return identity.Assertion{}, &ProviderError{Provider: a.name, Code: code, Description: q.Get("error_description")}
	}

	code := q.Get("code")
	if code == "" {
		return identity.Assertion{}, fmt.Errorf("missing authorization code")
	}

	cfg, verifier, err := a.discover(ctx)
	if err != nil {
		return identity.Assertion{}, err
	}

	ctx = withHTTPClient(ctx, a.client)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return identity.Assertion{}, fmt.Errorf("missing id_token in response")
	}

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return identity.Assertion{}, fmt.Errorf("failed to parse claims: %w", err)
	}

	assertion := a.mapClaims(a.name, claims)
	if assertion.ExternalUID == "" {
		assertion.ExternalUID = idToken.Subject
	}
	if assertion.ExternalUID == "" {
		return identity.Assertion{}, fmt.Errorf("%w: sub", ErrMissingAttribute)
	}
	return assertion, nil
}

func googleClaims(provider string, claims map[string]interface{}) identity.Assertion {
	return identity.Assertion{
		ProviderID:    provider,
		ExternalUID:   getStringValue(claims, "sub"),
		Email:         getStringValue(claims, "email"),
		DisplayName:   firstNonEmpty(getStringValue(claims, "name"), joinName(getStringValue(claims, "given_name"), getStringValue(claims, "family_name"))),
		AvatarURL:     getStringValue(claims, "picture"),
		RawAttributes: flattenAttributes(claims),
	}
}

// office365Claims prefers the directory object id, which is stable across
// applications, and falls back to the UPN for accounts without an email claim
func office365Claims(provider string, claims map[string]interface{}) identity.Assertion {
	return identity.Assertion{
		ProviderID:    provider,
		ExternalUID:   firstNonEmpty(getStringValue(claims, "oid"), getStringValue(claims, "sub")),
		Email:         strings.ToLower(firstNonEmpty(getStringValue(claims, "email"), getStringValue(claims, "preferred_username"))),
		DisplayName:   getStringValue(claims, "name"),
		RawAttributes: flattenAttributes(claims),
	}
}
