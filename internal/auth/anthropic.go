package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// Anthropic OAuth endpoints, discovered from the Claude Code OAuth flow.
const (
	anthropicDefaultClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	anthropicAuthURL         = "https://claude.ai/oauth/authorize"
	anthropicTokenURL        = "https://console.anthropic.com/v1/oauth/token"
	anthropicRedirectURI     = "https://console.anthropic.com/oauth/code/callback"
)

var anthropicScopes = []string{"org:create_api_key", "user:profile", "user:inference"}

// AnthropicAuth implements ProviderAuth for Claude OAuth (PKCE S256).
type AnthropicAuth struct {
	client *http.Client
}

// NewAnthropicAuth creates the Anthropic auth driver.
func NewAnthropicAuth(client *http.Client) *AnthropicAuth {
	if client == nil {
		client = defaultHTTPClient
	}
	return &AnthropicAuth{client: client}
}

func (a *AnthropicAuth) ProviderID() ProviderID { return ProviderAnthropic }

func anthropicClientID() string {
	if id := os.Getenv("ANTHROPIC_OAUTH_CLIENT_ID"); id != "" {
		return id
	}
	return anthropicDefaultClientID
}

func (a *AnthropicAuth) OAuthConfig() OAuthConfig {
	return OAuthConfig{
		ClientID:    anthropicClientID(),
		AuthURL:     anthropicAuthURL,
		TokenURL:    anthropicTokenURL,
		RedirectURI: anthropicRedirectURI,
		Scopes:      anthropicScopes,
		UsePKCE:     true,
	}
}

func (a *AnthropicAuth) AuthorizationURL(state, codeVerifier string) string {
	challenge := CodeChallenge(codeVerifier)
	return fmt.Sprintf(
		"%s?client_id=%s&redirect_uri=%s&response_type=code&scope=%s&state=%s&code_challenge=%s&code_challenge_method=S256",
		anthropicAuthURL,
		urlEncode(anthropicClientID()),
		urlEncode(anthropicRedirectURI),
		urlEncode(strings.Join(anthropicScopes, " ")),
		urlEncode(state),
		urlEncode(challenge),
	)
}

func (a *AnthropicAuth) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", anthropicClientID())
	form.Set("code", code)
	form.Set("code_verifier", codeVerifier)
	form.Set("redirect_uri", anthropicRedirectURI)

	tr, _, err := tokenRequest(ctx, a.client, anthropicTokenURL, form)
	if err != nil {
		return nil, err
	}
	tr.Scope = strings.Join(anthropicScopes, " ")
	return tr, nil
}

func (a *AnthropicAuth) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", anthropicClientID())
	form.Set("refresh_token", refreshToken)

	tr, _, err := tokenRequest(ctx, a.client, anthropicTokenURL, form)
	if err != nil {
		var oe *OAuthError
		if errors.As(err, &oe) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}
	tr.Scope = strings.Join(anthropicScopes, " ")
	return tr, nil
}

func (a *AnthropicAuth) NeedsRefresh(creds *Credentials) bool {
	return needsRefreshAt(creds, timeNow())
}

// ExtractMetadata returns minimal provider info. Anthropic OAuth access
// tokens (sk-ant-oat01-...) do not carry profile claims.
func (a *AnthropicAuth) ExtractMetadata(_ *TokenResponse) map[string]interface{} {
	return map[string]interface{}{"provider": "anthropic"}
}
