// Package oidc resolves OpenID Connect discovery documents and the signing
// key sets they reference.
package oidc

import (
	"strings"
)

// TenantPlaceholder appears in the issuer of multi-tenant providers and is
// replaced with the tenant id of the token being verified.
const TenantPlaceholder = "{tenantid}"

// Configuration is the subset of the provider metadata needed to verify
// ID tokens.
type Configuration struct {
	Issuer      string
	JwksURI     string
	SigningAlgs []string
}

func (c Configuration) IsMultiTenant() bool {
	return strings.Contains(c.Issuer, TenantPlaceholder)
}

// ExpectedIssuer substitutes the tenant placeholder of the issuer.
func (c Configuration) ExpectedIssuer(tenantID string) string {
	if !c.IsMultiTenant() {
		return c.Issuer
	}

	return strings.ReplaceAll(c.Issuer, TenantPlaceholder, tenantID)
}
