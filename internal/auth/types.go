// Package auth implements multi-provider OAuth credential management.
// It covers the auth_accounts.json v2 store, PKCE authorization flows for
// OpenAI, Anthropic and Google, and token refresh policy.
package auth

import (
	"context"
	"time"
)

// ProviderID identifies a cloud LLM provider.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGoogle    ProviderID = "google"
)

// String returns the wire form of the provider ID.
func (p ProviderID) String() string { return string(p) }

// DisplayName returns the human-readable provider name.
func (p ProviderID) DisplayName() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAnthropic:
		return "Anthropic"
	case ProviderGoogle:
		return "Google"
	}
	return string(p)
}

// Credentials holds the OAuth tokens for one provider account.
type Credentials struct {
	Provider     ProviderID             `json:"provider"`
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// TokenResponse is the normalized result of a code exchange or refresh.
type TokenResponse struct {
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	ExpiresIn    int64                  `json:"expires_in,omitempty"`
	TokenType    string                 `json:"token_type"`
	Scope        string                 `json:"scope,omitempty"`
	Extra        map[string]interface{} `json:"-"`
}

// ExpiresAt converts ExpiresIn into an absolute expiry, or nil when the
// provider did not report one.
func (t *TokenResponse) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	exp := now.Add(time.Duration(t.ExpiresIn) * time.Second)
	return &exp
}

// OAuthConfig describes a provider's OAuth endpoints.
type OAuthConfig struct {
	ClientID    string
	AuthURL     string
	TokenURL    string
	RedirectURI string
	Scopes      []string
	UsePKCE     bool
}

// ProviderAuth is the capability set every provider driver implements.
type ProviderAuth interface {
	ProviderID() ProviderID
	OAuthConfig() OAuthConfig

	// AuthorizationURL builds the browser URL for the PKCE flow.
	AuthorizationURL(state, codeVerifier string) string

	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error)

	// RefreshToken obtains a fresh access token. A non-2xx response maps
	// to ErrTokenExpired.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)

	// NeedsRefresh reports whether the credentials expire within the
	// 5-minute skew window. Credentials without an expiry never refresh.
	NeedsRefresh(creds *Credentials) bool

	// ExtractMetadata pulls provider-specific profile info (email, plan)
	// out of a token response.
	ExtractMetadata(resp *TokenResponse) map[string]interface{}
}

// refreshSkew is the window before expiry at which a token is considered due.
const refreshSkew = 5 * time.Minute

// timeNow is swapped in tests.
var timeNow = time.Now

func needsRefreshAt(creds *Credentials, now time.Time) bool {
	if creds == nil || creds.ExpiresAt == nil {
		return false
	}
	return creds.ExpiresAt.Before(now.Add(refreshSkew))
}
