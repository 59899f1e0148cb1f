package sso

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// RegistryOptions carries deployment settings the adapters need
type RegistryOptions struct {
	BaseURL         string // public scheme://host
	RelativeURLRoot string // mount prefix
	Production      bool
	AllowUserSignup bool
	HTTPClient      *http.Client
	Logger          *observability.Logger
}

// Registry is the static set of enabled provider adapters. It is built once
// at startup and read-only afterwards.
type Registry struct {
	adapters        map[string]Adapter
	order           []string
	opts            RegistryOptions
	allowUserSignup bool
	ldapEnabled     bool
}

// NewRegistry enables every provider whose configuration is complete. An
// enabled LDAP provider is exclusive: no other provider is registered and
// self-service signup is reported as disabled.
func NewRegistry(cfg config.ProvidersConfig, opts RegistryOptions) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	opts.RelativeURLRoot = strings.TrimRight(opts.RelativeURLRoot, "/")
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	r := &Registry{
		adapters:        make(map[string]Adapter),
		opts:            opts,
		allowUserSignup: opts.AllowUserSignup,
	}

	if cfg.LDAP.Enabled() {
		r.ldapEnabled = true
		r.allowUserSignup = false
		r.register(NewLDAPAdapter(cfg.LDAP, LDAPCallbackPath(opts.RelativeURLRoot, opts.Production), nil))
		opts.Logger.Info("LDAP provider enabled; other providers and self-service signup are disabled")
		return r, nil
	}

	if cfg.SAML.Enabled() {
		adapter, err := NewSAMLAdapter(cfg.SAML, r.CallbackURL(ProviderSAML), r.AttributeRequests())
		if err != nil {
			return nil, fmt.Errorf("failed to configure SAML provider: %w", err)
		}
		r.register(adapter)
	}

	if cfg.Twitter.Enabled() {
		r.register(NewTwitterAdapter(cfg.Twitter, r.CallbackURL(ProviderTwitter), opts.HTTPClient))
	}

	if cfg.Google.Enabled() {
		r.register(NewGoogleAdapter(cfg.Google, r.CallbackURL(ProviderGoogle), opts.HTTPClient))
	}

	if cfg.Office365.Enabled() {
		r.register(NewOffice365Adapter(cfg.Office365, r.CallbackURL(ProviderOffice365), opts.HTTPClient))
	}

	opts.Logger.WithField("providers", r.Enabled()).Info("Identity providers configured")
	return r, nil
}

// NewStaticRegistry builds a registry from prepared adapters
func NewStaticRegistry(opts RegistryOptions, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters:        make(map[string]Adapter),
		opts:            opts,
		allowUserSignup: opts.AllowUserSignup,
	}
	for _, a := range adapters {
		r.register(a)
		if a.Family() == FamilyLDAP {
			r.ldapEnabled = true
			r.allowUserSignup = false
		}
	}
	return r
}

func (r *Registry) register(a Adapter) {
	if _, exists := r.adapters[a.Name()]; !exists {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
}

// Adapter returns the adapter registered under name
func (r *Registry) Adapter(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Enabled lists enabled provider names in registration order
func (r *Registry) Enabled() []string {
	return append([]string(nil), r.order...)
}

// IsEnabled reports whether name is registered
func (r *Registry) IsEnabled(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

// LDAPEnabled reports whether the directory provider owns sign-in
func (r *Registry) LDAPEnabled() bool {
	return r.ldapEnabled
}

// AllowUserSignup reports whether self-service signup is available
func (r *Registry) AllowUserSignup() bool {
	return r.allowUserSignup
}

// AttributeRequests returns the attribute schema requested from providers
// that support declarative attribute requests
func (r *Registry) AttributeRequests() []AttributeRequest {
	return DefaultAttributeRequests()
}

// CallbackURL builds the callback URL for provider. LDAP always uses its
// fixed callback path because a parameterized callback loses the assertion.
func (r *Registry) CallbackURL(provider string) string {
	if provider == ProviderLDAP {
		return LDAPCallbackPath(r.opts.RelativeURLRoot, r.opts.Production)
	}
	return r.opts.BaseURL + r.opts.RelativeURLRoot + "/auth/" + provider + "/callback"
}

// ProviderInfo describes an enabled provider for clients
type ProviderInfo struct {
	Name   string `json:"name"`
	Family Family `json:"family"`
	Login  string `json:"login_path"`
}

// Describe lists enabled providers sorted by name
func (r *Registry) Describe() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(r.adapters))
	for name, a := range r.adapters {
		infos = append(infos, ProviderInfo{
			Name:   name,
			Family: a.Family(),
			Login:  "/auth/" + name,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// LDAPCallbackPath is the fixed LDAP callback literal: the relative root is
// only prepended in production.
func LDAPCallbackPath(relativeRoot string, production bool) string {
	if !production {
		return "/auth/ldap/callback"
	}
	if relativeRoot == "" {
		relativeRoot = "/b"
	}
	return strings.TrimRight(relativeRoot, "/") + "/auth/ldap/callback"
}

// pathOf returns the path component of an absolute callback URL
func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return rawURL
	}
	return u.Path
}
