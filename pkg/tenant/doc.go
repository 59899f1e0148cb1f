// Package tenant derives the tenant of a request from its host when the
// deployment runs in multi-tenant mode.
//
// With a base domain configured, the tenant is the label directly in front
// of it, so a.acme.example.com resolves to acme under example.com. Without
// one, the leftmost label of a host with at least three labels is used.
// IP literals, localhost and the bare base domain carry no tenant.
package tenant
