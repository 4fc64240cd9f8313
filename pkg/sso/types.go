// Package sso implements the federated login flow: the OAuth2
// authorization-code exchange, token introspection, identity mapping to a
// local user record, and best-effort token revocation on logout.
package sso

import "time"

// ProviderConfig holds the identity provider endpoints and credentials.
// Endpoints are externally supplied configuration; when IssuerURL is set,
// the OAuth2 endpoints are filled by OIDC discovery instead.
type ProviderConfig struct {
	ClientID     string        `yaml:"client_id" json:"client_id"`
	ClientSecret string        `yaml:"client_secret" json:"-"`
	RedirectURL  string        `yaml:"redirect_url" json:"redirect_url"`
	Scopes       []string      `yaml:"scopes" json:"scopes"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`

	// Explicit endpoint configuration.
	AuthURL       string `yaml:"auth_url" json:"auth_url"`
	TokenURL      string `yaml:"token_url" json:"token_url"`
	IntrospectURL string `yaml:"introspect_url" json:"introspect_url"`
	UserinfoURL   string `yaml:"userinfo_url" json:"userinfo_url"`
	RevokeURL     string `yaml:"revoke_url" json:"revoke_url"`

	// IssuerURL enables OIDC discovery of auth/token/userinfo endpoints
	// and verified ID tokens.
	IssuerURL string `yaml:"issuer_url" json:"issuer_url"`
}

// DefaultTimeout bounds each provider call when config gives none.
const DefaultTimeout = 10 * time.Second

// Result is the outcome of a completed federated login.
type Result struct {
	DisplayName      string `json:"display_name"`
	Email            string `json:"email"`
	AlreadyConnected bool   `json:"already_connected"`
}

// profile is the userinfo payload subset the catalog keeps.
type profile struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// introspection is the token-introspection payload subset the gates need.
// Field names cover both the RFC 7662 shape (sub/aud) and the legacy
// Google tokeninfo shape (user_id/audience).
type introspection struct {
	Subject   string `json:"sub"`
	UserID    string `json:"user_id"`
	Audience  string `json:"aud"`
	AudienceG string `json:"audience"`
	Error     string `json:"error"`
	ErrorDesc string `json:"error_description"`
}

func (i *introspection) subject() string {
	if i.Subject != "" {
		return i.Subject
	}
	return i.UserID
}

func (i *introspection) audience() string {
	if i.Audience != "" {
		return i.Audience
	}
	return i.AudienceG
}
