package sso

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/beevik/etree"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// SAMLAdapter implements SAML 2.0 SSO. The IdP signing certificate is trusted
// only when its fingerprint matches the configured one.
type SAMLAdapter struct {
	cfg         config.SAMLConfig
	callbackURL string
	attributes  []AttributeRequest
	fingerprint []byte
	pinned      *x509.Certificate
}

// NewSAMLAdapter creates the SAML adapter
func NewSAMLAdapter(cfg config.SAMLConfig, callbackURL string, attributes []AttributeRequest) (*SAMLAdapter, error) {
	fingerprint, err := parseFingerprint(cfg.Fingerprint)
	if err != nil {
		return nil, err
	}

	a := &SAMLAdapter{
		cfg:         cfg,
		callbackURL: callbackURL,
		attributes:  attributes,
		fingerprint: fingerprint,
	}

	if cfg.Certificate != "" {
		block, _ := pem.Decode([]byte(cfg.Certificate))
		if block == nil {
			return nil, fmt.Errorf("failed to decode certificate PEM")
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		if !a.matchesFingerprint(cert) {
			return nil, fmt.Errorf("certificate does not match configured fingerprint")
		}
		a.pinned = cert
	}

	return a, nil
}

// Name implements Adapter
func (a *SAMLAdapter) Name() string { return ProviderSAML }

// Family implements Adapter
func (a *SAMLAdapter) Family() Family { return FamilySAML }

// CallbackPath implements Adapter
func (a *SAMLAdapter) CallbackPath() string { return pathOf(a.callbackURL) }

// serviceProvider builds the gosaml2 service provider trusting certs
func (a *SAMLAdapter) serviceProvider(certs ...*x509.Certificate) *saml2.SAMLServiceProvider {
	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      a.cfg.TargetURL,
		ServiceProviderIssuer:       a.cfg.Issuer,
		AssertionConsumerServiceURL: a.callbackURL,
		AudienceURI:                 a.cfg.Issuer,
		IDPCertificateStore:         &dsig.MemoryX509CertificateStore{Roots: certs},
		NameIdFormat:                "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress",
	}
}

// BeginAuth redirects to the IdP with an AuthnRequest
func (a *SAMLAdapter) BeginAuth(w http.ResponseWriter, r *http.Request, state string) error {
	authURL, err := a.serviceProvider().BuildAuthURL(state)
	if err != nil {
		return fmt.Errorf("failed to build auth URL: %w", err)
	}
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// Metadata renders the service provider metadata document
func (a *SAMLAdapter) Metadata() ([]byte, error) {
	ed, err := a.serviceProvider().Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata: %w", err)
	}
	out, err := xml.MarshalIndent(ed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// ProduceAssertion validates the posted SAMLResponse and maps the requested attributes
func (a *SAMLAdapter) ProduceAssertion(ctx context.Context, r *http.Request) (identity.Assertion, error) {
	if err := r.ParseForm(); err != nil {
		return identity.Assertion{}, fmt.Errorf("failed to parse form: %w", err)
	}

	encoded := r.FormValue("SAMLResponse")
	if encoded == "" {
		return identity.Assertion{}, fmt.Errorf("missing SAMLResponse parameter")
	}

	cert, err := a.trustedCertificate(encoded)
	if err != nil {
		return identity.Assertion{}, err
	}

	info, err := a.serviceProvider(cert).RetrieveAssertionInfo(encoded)
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("failed to validate assertion: %w", err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return identity.Assertion{}, fmt.Errorf("assertion has invalid time")
		}
		if info.WarningInfo.NotInAudience {
			return identity.Assertion{}, fmt.Errorf("assertion not in expected audience")
		}
	}

	values := make(map[string]string, len(info.Values))
	for name := range info.Values {
		values[name] = info.Values.Get(name)
	}

	return a.assertionFromAttributes(info.NameID, values)
}

// assertionFromAttributes maps the attribute schema onto an assertion. The
// NameID stands in for a missing user_id.
func (a *SAMLAdapter) assertionFromAttributes(nameID string, values map[string]string) (identity.Assertion, error) {
	if values["user_id"] == "" && nameID != "" {
		values["user_id"] = nameID
	}

	for _, req := range a.attributes {
		if req.Required && values[req.Name] == "" {
			return identity.Assertion{}, fmt.Errorf("%w: %s", ErrMissingAttribute, req.Name)
		}
	}

	return identity.Assertion{
		ProviderID:    ProviderSAML,
		ExternalUID:   values["user_id"],
		Email:         values["email"],
		DisplayName:   values["name"],
		AvatarURL:     values["image"],
		RawAttributes: values,
	}, nil
}

// trustedCertificate returns the certificate signatures must verify against:
// the pinned certificate when configured, otherwise the certificate embedded
// in the response if its fingerprint matches.
func (a *SAMLAdapter) trustedCertificate(encoded string) (*x509.Certificate, error) {
	if a.pinned != nil {
		return a.pinned, nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode SAMLResponse: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("failed to parse SAMLResponse: %w", err)
	}

	for _, el := range doc.FindElements("//X509Certificate") {
		der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(el.Text()), ""))
		if err != nil {
			continue
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			continue
		}
		if a.matchesFingerprint(cert) {
			return cert, nil
		}
	}
	return nil, fmt.Errorf("no certificate in SAMLResponse matches the configured fingerprint")
}

func (a *SAMLAdapter) matchesFingerprint(cert *x509.Certificate) bool {
	var sum []byte
	switch len(a.fingerprint) {
	case sha1.Size:
		s := sha1.Sum(cert.Raw)
		sum = s[:]
	case sha256.Size:
		s := sha256.Sum256(cert.Raw)
		sum = s[:]
	default:
		return false
	}
	return hex.EncodeToString(sum) == hex.EncodeToString(a.fingerprint)
}

// parseFingerprint accepts SHA-1 or SHA-256 hex with optional colons
func parseFingerprint(s string) ([]byte, error) {
	clean := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid certificate fingerprint: %w", err)
	}
	if len(b) != sha1.Size && len(b) != sha256.Size {
		return nil, fmt.Errorf("certificate fingerprint must be SHA-1 or SHA-256, got %d bytes", len(b))
	}
	return b, nil
}

// Fingerprint returns the colon-separated SHA-1 fingerprint of a certificate
func Fingerprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
