package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultHTTPClient is shared by the drivers; token endpoints are quick.
var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// DriverFor returns the auth driver for a provider.
func DriverFor(provider ProviderID) (ProviderAuth, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIAuth(defaultHTTPClient), nil
	case ProviderAnthropic:
		return NewAnthropicAuth(defaultHTTPClient), nil
	case ProviderGoogle:
		return NewGoogleAuth(defaultHTTPClient, 0), nil
	}
	return nil, &ConfigError{Msg: fmt.Sprintf("unknown provider %q", provider)}
}

// tokenRequest posts a form-encoded body to a token endpoint and decodes the
// normalized TokenResponse. The raw response body lands in Extra so drivers
// can pull provider-specific fields (id_token etc).
func tokenRequest(ctx context.Context, client *http.Client, tokenURL string, form url.Values) (*TokenResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &OAuthError{
			Code:        resp.Status,
			Description: string(body),
		}
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding token response: %w", err)
	}

	var extra map[string]interface{}
	if err := json.Unmarshal(body, &extra); err == nil {
		tr.Extra = extra
	}
	if tr.TokenType == "" {
		tr.TokenType = "Bearer"
	}
	return &tr, resp.StatusCode, nil
}

// decodeJWTPayload base64url-decodes the middle segment of a JWT without
// verifying the signature. Good enough for profile metadata; never used for
// authorization decisions.
func decodeJWTPayload(token string) map[string]interface{} {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil
	}
	return claims
}
