package sso

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/catalogkit/catalogd/pkg/auth"
	"github.com/catalogkit/catalogd/pkg/catalog"
	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/session"
)

// UserDirectory maps a federated identity to a local user record.
type UserDirectory interface {
	LookupOrCreateUser(ctx context.Context, name, email, picture string) (*catalog.User, error)
}

// Federator executes the authorization-code exchange and its validation
// gates. Every provider call carries a bounded timeout and fails closed
// to the corresponding auth error.
type Federator struct {
	config       ProviderConfig
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	httpClient   *http.Client
	sessions     *session.Manager
	users        UserDirectory
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// NewFederator creates a federator. With IssuerURL set, the OAuth2
// endpoints come from OIDC discovery and ID tokens are verified against
// the provider's keys; otherwise the explicitly configured endpoints are
// used as-is.
func NewFederator(ctx context.Context, cfg ProviderConfig, sessions *session.Manager, users UserDirectory, logger *observability.Logger, metrics *observability.Metrics) (*Federator, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client_secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	f := &Federator{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sessions:   sessions,
		users:      users,
		logger:     logger,
		metrics:    metrics,
	}

	endpoint := oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
	if cfg.IssuerURL != "" {
		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
		}
		endpoint = provider.Endpoint()
		f.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		if f.config.UserinfoURL == "" {
			var claims struct {
				UserinfoEndpoint string `json:"userinfo_endpoint"`
			}
			if err := provider.Claims(&claims); err == nil {
				f.config.UserinfoURL = claims.UserinfoEndpoint
			}
		}
	}
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		return nil, fmt.Errorf("auth_url and token_url are required without an issuer")
	}
	if f.config.UserinfoURL == "" {
		return nil, fmt.Errorf("userinfo_url is required")
	}

	f.oauth2Config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	}
	return f, nil
}

// AuthCodeURL returns the provider authorization URL for a state token.
func (f *Federator) AuthCodeURL(state string) string {
	return f.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Complete runs the federated login gates in order. Each failure
// short-circuits with its distinct auth error; the caller converts every
// one of them into a 401 without leaking provider detail.
func (f *Federator) Complete(ctx context.Context, sess *session.Session, state, code string) (Result, error) {
	// Gate 1: single-use state token.
	if err := f.sessions.ConsumeState(ctx, sess, state); err != nil {
		return Result{}, err
	}

	// Gate 2: authorization code exchange.
	token, err := f.exchange(ctx, code)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", auth.ErrCodeExchangeFailed, err)
	}

	// Gate 3: token introspection.
	intro, err := f.introspect(ctx, token.AccessToken)
	if err != nil {
		return Result{}, err
	}

	// Gate 4: the introspected subject must equal the subject embedded in
	// the exchanged credential, defending against token substitution.
	credSubject, err := f.credentialSubject(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if credSubject != intro.subject() {
		return Result{}, auth.ErrSubjectMismatch
	}

	// Gate 5: the token must have been minted for this application.
	if intro.audience() != f.config.ClientID {
		return Result{}, auth.ErrAudienceMismatch
	}

	// Gate 6: idempotent completion for an already-connected subject.
	if sess.Claim.Federated() && sess.Claim.Subject == credSubject {
		return Result{
			DisplayName:      sess.Claim.DisplayName,
			AlreadyConnected: true,
		}, nil
	}

	// Gate 7: profile fetch.
	prof, err := f.fetchProfile(ctx, token)
	if err != nil {
		return Result{}, err
	}

	// Gate 8: map to a local user record, creating one on first login.
	user, err := f.users.LookupOrCreateUser(ctx, prof.Name, prof.Email, prof.Picture)
	if err != nil {
		return Result{}, fmt.Errorf("failed to map federated user: %w", err)
	}

	// Gate 9: merge into the session.
	sess.Claim = auth.FederatedClaim(user.Name, credSubject, token.AccessToken, user.ID)
	if err := f.sessions.Save(ctx, sess); err != nil {
		return Result{}, err
	}

	if f.metrics != nil {
		f.metrics.LoginsTotal.WithLabelValues(string(auth.UserTypeFederated)).Inc()
	}
	f.logger.WithFields(map[string]interface{}{
		"subject": credSubject,
		"user_id": user.ID,
	}).Info("federated login completed")

	return Result{DisplayName: user.Name, Email: user.Email}, nil
}

// Revoke presents the stored access token to the provider's revocation
// endpoint. Failure is logged and swallowed: revocation must never block
// logout.
func (f *Federator) Revoke(ctx context.Context, accessToken string) {
	if f.config.RevokeURL == "" || accessToken == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		f.logger.WithError(err).Warn("failed to build revocation request")
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.WithError(err).Warn("token revocation failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		f.logger.WithField("status", resp.StatusCode).Warn("provider rejected token revocation")
	}
}

func (f *Federator) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	return f.oauth2Config.Exchange(ctx, code)
}

func (f *Federator) introspect(ctx context.Context, accessToken string) (*introspection, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	introspectURL := f.config.IntrospectURL + "?access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, introspectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	defer resp.Body.Close()

	var intro introspection
	if err := json.NewDecoder(resp.Body).Decode(&intro); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	if resp.StatusCode != http.StatusOK || intro.Error != "" {
		return nil, fmt.Errorf("%w: %s", auth.ErrTokenInvalid, intro.Error)
	}
	return &intro, nil
}

// credentialSubject extracts the subject embedded in the exchanged
// credential's ID token. With a discovered issuer the token is verified
// against the provider's keys; otherwise the claims are decoded directly,
// and introspection remains the authoritative check.
func (f *Federator) credentialSubject(ctx context.Context, token *oauth2.Token) (string, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("%w: missing id_token", auth.ErrTokenInvalid)
	}

	if f.verifier != nil {
		idToken, err := f.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return "", fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
		}
		return idToken.Subject, nil
	}

	parts := strings.Split(rawIDToken, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed id_token", auth.ErrTokenInvalid)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: malformed id_token payload", auth.ErrTokenInvalid)
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: malformed id_token claims", auth.ErrTokenInvalid)
	}
	return claims.Subject, nil
}

func (f *Federator) fetchProfile(ctx context.Context, token *oauth2.Token) (*profile, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.UserinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: userinfo returned %d: %s", auth.ErrTokenInvalid, resp.StatusCode, string(body))
	}

	var prof profile
	if err := json.NewDecoder(resp.Body).Decode(&prof); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}
	if prof.Email == "" {
		return nil, fmt.Errorf("%w: missing email in userinfo", auth.ErrTokenInvalid)
	}
	if prof.Name == "" {
		prof.Name = prof.Email
	}
	return &prof, nil
}
