package tenant

import (
	"net"
	"regexp"
	"strings"
)

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Resolver maps request hosts to tenant identifiers.
// It is immutable and safe for concurrent use.
type Resolver struct {
	multiTenant bool
	baseDomain  string
}

// NewResolver creates a resolver. baseDomain is optional; when set, only
// strict subdomains of it resolve.
func NewResolver(multiTenant bool, baseDomain string) *Resolver {
	return &Resolver{
		multiTenant: multiTenant,
		baseDomain:  normalizeHost(baseDomain),
	}
}

// MultiTenant reports whether tenant resolution is active
func (r *Resolver) MultiTenant() bool {
	return r.multiTenant
}

// Resolve returns the tenant for host. ok is false when multi-tenant mode is
// off or the host carries no tenant; callers decide how to reject that.
func (r *Resolver) Resolve(host string) (tenant string, ok bool) {
	if !r.multiTenant {
		return "", false
	}

	h := normalizeHost(host)
	if h == "" || h == "localhost" || net.ParseIP(h) != nil {
		return "", false
	}

	labels := strings.Split(h, ".")

	if r.baseDomain != "" {
		suffix := "." + r.baseDomain
		if !strings.HasSuffix(h, suffix) {
			return "", false
		}
		rest := strings.Split(strings.TrimSuffix(h, suffix), ".")
		tenant = rest[len(rest)-1]
	} else {
		if len(labels) < 3 {
			return "", false
		}
		tenant = labels[0]
	}

	if !labelPattern.MatchString(tenant) {
		return "", false
	}
	return tenant, true
}

func normalizeHost(host string) string {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "" {
		return ""
	}

	if strings.HasPrefix(h, "[") {
		// bracketed IPv6, optionally with port
		if end := strings.Index(h, "]"); end > 0 {
			return h[1:end]
		}
		return ""
	}
	if strings.Count(h, ":") == 1 {
		if hostPart, _, err := net.SplitHostPort(h); err == nil {
			h = hostPart
		}
	}
	return strings.TrimSuffix(h, ".")
}
