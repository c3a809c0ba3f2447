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

// OpenAI OAuth endpoints for the ChatGPT login flow.
const (
	openaiDefaultClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
	openaiAuthURL         = "https://auth.openai.com/authorize"
	openaiTokenURL        = "https://auth.openai.com/oauth/token"
	openaiRedirectURI     = "https://platform.openai.com/auth/callback"
)

var openaiScopes = []string{"openid", "profile", "email"}

// OpenAIAuth implements ProviderAuth for ChatGPT OAuth (PKCE S256).
type OpenAIAuth struct {
	client *http.Client
}

// NewOpenAIAuth creates the OpenAI auth driver.
func NewOpenAIAuth(client *http.Client) *OpenAIAuth {
	if client == nil {
		client = defaultHTTPClient
	}
	return &OpenAIAuth{client: client}
}

func (a *OpenAIAuth) ProviderID() ProviderID { return ProviderOpenAI }

func openaiClientID() string {
	if id := os.Getenv("OPENAI_OAUTH_CLIENT_ID"); id != "" {
		return id
	}
	return openaiDefaultClientID
}

func (a *OpenAIAuth) OAuthConfig() OAuthConfig {
	return OAuthConfig{
		ClientID:    openaiClientID(),
		AuthURL:     openaiAuthURL,
		TokenURL:    openaiTokenURL,
		RedirectURI: openaiRedirectURI,
		Scopes:      openaiScopes,
		UsePKCE:     true,
	}
}

func (a *OpenAIAuth) AuthorizationURL(state, codeVerifier string) string {
	challenge := CodeChallenge(codeVerifier)
	return fmt.Sprintf(
		"%s?client_id=%s&redirect_uri=%s&response_type=code&scope=%s&state=%s&code_challenge=%s&code_challenge_method=S256",
		openaiAuthURL,
		urlEncode(openaiClientID()),
		urlEncode(openaiRedirectURI),
		urlEncode(strings.Join(openaiScopes, " ")),
		urlEncode(state),
		urlEncode(challenge),
	)
}

func (a *OpenAIAuth) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", openaiClientID())
	form.Set("code", code)
	form.Set("code_verifier", codeVerifier)
	form.Set("redirect_uri", openaiRedirectURI)

	tr, _, err := tokenRequest(ctx, a.client, openaiTokenURL, form)
	if err != nil {
		return nil, err
	}
	tr.Scope = strings.Join(openaiScopes, " ")
	return tr, nil
}

func (a *OpenAIAuth) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", openaiClientID())
	form.Set("refresh_token", refreshToken)
	form.Set("scope", strings.Join(openaiScopes, " "))

	tr, _, err := tokenRequest(ctx, a.client, openaiTokenURL, form)
	if err != nil {
		var oe *OAuthError
		if errors.As(err, &oe) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}
	tr.Scope = strings.Join(openaiScopes, " ")
	return tr, nil
}

func (a *OpenAIAuth) NeedsRefresh(creds *Credentials) bool {
	return needsRefreshAt(creds, timeNow())
}

// ExtractMetadata decodes the id_token JWT for email, account ID and
// ChatGPT plan type.
func (a *OpenAIAuth) ExtractMetadata(resp *TokenResponse) map[string]interface{} {
	meta := map[string]interface{}{"provider": "openai"}
	if resp == nil || resp.Extra == nil {
		return meta
	}
	idToken, _ := resp.Extra["id_token"].(string)
	claims := decodeJWTPayload(idToken)
	if claims == nil {
		return meta
	}
	if email, ok := claims["email"]; ok {
		meta["email"] = email
	}
	if name, ok := claims["name"]; ok {
		meta["name"] = name
	}
	if authClaim, ok := claims["https://api.openai.com/auth"].(map[string]interface{}); ok {
		if v, ok := authClaim["user_id"]; ok {
			meta["account_id"] = v
		}
		if v, ok := authClaim["chatgpt_plan_type"]; ok {
			meta["plan_type"] = v
		}
	}
	return meta
}
