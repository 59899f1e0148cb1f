// Package sso provides the identity provider adapters used for federated sign-in.
//
// # Overview
//
// Each adapter authenticates a user against one external provider and
// normalizes the result into an identity.Assertion. Adapters do not touch the
// account store: the auth package decides what an assertion means.
//
// # Supported Providers
//
// LDAP: username-or-email and password bound against a directory (exclusive)
// SAML 2.0: signed assertions verified against a pinned certificate fingerprint
// Twitter: OAuth2 authorization code with PKCE and a user info request
// Google, Office365: OpenID Connect with lazy discovery
//
// # Registry
//
// The Registry is built once at startup from configuration:
//
//	registry, err := sso.NewRegistry(cfg.Providers, sso.RegistryOptions{
//		BaseURL:         cfg.Server.BaseURL,
//		RelativeURLRoot: cfg.Server.RelativeURLRoot,
//		Production:      cfg.Server.Production(),
//		AllowUserSignup: cfg.Auth.AllowUserSignup,
//	})
//
// A provider is enabled only when its configuration is complete. When LDAP is
// enabled no other provider is registered and self-service signup is off.
//
// # Callbacks
//
// Callback URLs are BaseURL + RelativeURLRoot + "/auth/<provider>/callback".
// LDAP uses a fixed literal, see LDAPCallbackPath.
//
// # Security
//
// OAuth2 and OIDC callbacks are bound to the login attempt with a state
// cookie; Twitter additionally uses a PKCE verifier cookie. SAML responses
// are only trusted when signed by a certificate whose SHA-1 or SHA-256
// fingerprint matches the configured value.
package sso
