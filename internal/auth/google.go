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

// Google OAuth endpoints, matching the gemini-cli login flow.
const (
	googleDefaultClientID = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	googleAuthURL         = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL        = "https://oauth2.googleapis.com/token"
)

var googleScopes = []string{
	"https://www.googleapis.com/auth/generativelanguage.tuning",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"openid",
}

// GoogleAuth implements ProviderAuth for Gemini OAuth (PKCE S256) with a
// localhost redirect.
type GoogleAuth struct {
	client       *http.Client
	redirectPort int
}

// NewGoogleAuth creates the Google auth driver. redirectPort 0 means the
// callback server picks a port before the URL is built.
func NewGoogleAuth(client *http.Client, redirectPort int) *GoogleAuth {
	if client == nil {
		client = defaultHTTPClient
	}
	return &GoogleAuth{client: client, redirectPort: redirectPort}
}

func (a *GoogleAuth) ProviderID() ProviderID { return ProviderGoogle }

func googleClientID() string {
	if id := os.Getenv("GOOGLE_OAUTH_CLIENT_ID"); id != "" {
		return id
	}
	return googleDefaultClientID
}

// googleClientSecret reads the installed-app client secret. Google's token
// endpoint requires it even for PKCE flows.
func googleClientSecret() string {
	return os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET")
}

func (a *GoogleAuth) redirectURI() string {
	return fmt.Sprintf("http://localhost:%d", a.redirectPort)
}

func (a *GoogleAuth) OAuthConfig() OAuthConfig {
	return OAuthConfig{
		ClientID:    googleClientID(),
		AuthURL:     googleAuthURL,
		TokenURL:    googleTokenURL,
		RedirectURI: a.redirectURI(),
		Scopes:      googleScopes,
		UsePKCE:     true,
	}
}

func (a *GoogleAuth) AuthorizationURL(state, codeVerifier string) string {
	challenge := CodeChallenge(codeVerifier)
	return fmt.Sprintf(
		"%s?client_id=%s&redirect_uri=%s&response_type=code&scope=%s&state=%s&code_challenge=%s&code_challenge_method=S256&access_type=offline&prompt=consent",
		googleAuthURL,
		urlEncode(googleClientID()),
		urlEncode(a.redirectURI()),
		urlEncode(strings.Join(googleScopes, " ")),
		urlEncode(state),
		urlEncode(challenge),
	)
}

func (a *GoogleAuth) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", googleClientID())
	if secret := googleClientSecret(); secret != "" {
		form.Set("client_secret", secret)
	}
	form.Set("code", code)
	form.Set("code_verifier", codeVerifier)
	form.Set("redirect_uri", a.redirectURI())

	tr, _, err := tokenRequest(ctx, a.client, googleTokenURL, form)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (a *GoogleAuth) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", googleClientID())
	if secret := googleClientSecret(); secret != "" {
		form.Set("client_secret", secret)
	}
	form.Set("refresh_token", refreshToken)

	tr, _, err := tokenRequest(ctx, a.client, googleTokenURL, form)
	if err != nil {
		var oe *OAuthError
		if errors.As(err, &oe) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}
	return tr, nil
}

func (a *GoogleAuth) NeedsRefresh(creds *Credentials) bool {
	return needsRefreshAt(creds, timeNow())
}

// ExtractMetadata decodes the id_token JWT for email and profile info.
func (a *GoogleAuth) ExtractMetadata(resp *TokenResponse) map[string]interface{} {
	meta := map[string]interface{}{"provider": "google"}
	if resp == nil || resp.Extra == nil {
		return meta
	}
	idToken, _ := resp.Extra["id_token"].(string)
	claims := decodeJWTPayload(idToken)
	if claims == nil {
		return meta
	}
	for _, key := range []string{"email", "name", "picture", "sub"} {
		if v, ok := claims[key]; ok {
			meta[key] = v
		}
	}
	return meta
}
