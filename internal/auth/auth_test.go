package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestGenerateCodeVerifier(t *testing.T) {
	v1, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatal(err)
	}
	v2, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatal(err)
	}
	if v1 == v2 {
		t.Error("verifiers must be unique")
	}
	if strings.ContainsAny(v1, "+/=") {
		t.Errorf("verifier must be base64url without padding: %s", v1)
	}
}

func TestCodeChallenge(t *testing.T) {
	// RFC 7636 appendix B test vector.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := CodeChallenge(verifier); got != want {
		t.Errorf("challenge: expected %s, got %s", want, got)
	}
}

func TestNeedsRefresh_Skew(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry recorded", nil, false},
		{"expires in an hour", timePtr(now.Add(time.Hour)), false},
		{"expires in four minutes", timePtr(now.Add(4 * time.Minute)), true},
		{"already expired", timePtr(now.Add(-time.Minute)), true},
	}
	for _, tc := range cases {
		creds := &Credentials{AccessToken: "tok", ExpiresAt: tc.expiresAt}
		if got := needsRefreshAt(creds, now); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	if needsRefreshAt(nil, now) {
		t.Error("nil credentials never need refresh")
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestAnthropicAuthorizationURL(t *testing.T) {
	d := NewAnthropicAuth(nil)
	u, err := url.Parse(d.AuthorizationURL("state123", "verifier456"))
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "claude.ai" {
		t.Errorf("unexpected host %s", u.Host)
	}
	q := u.Query()
	if q.Get("code_challenge_method") != "S256" {
		t.Error("expected S256 challenge method")
	}
	if q.Get("code_challenge") != CodeChallenge("verifier456") {
		t.Error("challenge does not match verifier")
	}
	if q.Get("state") != "state123" {
		t.Error("state not propagated")
	}
	scope := q.Get("scope")
	for _, want := range []string{"org:create_api_key", "user:profile", "user:inference"} {
		if !strings.Contains(scope, want) {
			t.Errorf("scope missing %s: %s", want, scope)
		}
	}
}

func TestClientIDEnvOverride(t *testing.T) {
	t.Setenv("ANTHROPIC_OAUTH_CLIENT_ID", "custom-client-id")
	d := NewAnthropicAuth(nil)
	if got := d.OAuthConfig().ClientID; got != "custom-client-id" {
		t.Errorf("env override ignored, got %s", got)
	}
}

func TestGoogleAuthorizationURL_OfflineAccess(t *testing.T) {
	d := NewGoogleAuth(nil, 8085)
	u, err := url.Parse(d.AuthorizationURL("s", "v"))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" {
		t.Error("expected access_type=offline for refresh token issuance")
	}
	if q.Get("prompt") != "consent" {
		t.Error("expected prompt=consent")
	}
	if got := q.Get("redirect_uri"); !strings.Contains(got, "8085") {
		t.Errorf("redirect URI should carry the loopback port, got %s", got)
	}
}

func TestTokenRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type: %s", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
			"account_id":    "acct-99",
		})
	}))
	defer srv.Close()

	resp, status, err := tokenRequest(context.Background(), srv.Client(), srv.URL, url.Values{
		"grant_type": {"authorization_code"},
	})
	if err != nil {
		t.Fatalf("tokenRequest failed: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status: %d", status)
	}
	if resp.AccessToken != "at-1" || resp.RefreshToken != "rt-1" {
		t.Errorf("unexpected tokens: %+v", resp)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expires_in: %d", resp.ExpiresIn)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("missing token_type should default to Bearer, got %q", resp.TokenType)
	}
	if resp.Extra["account_id"] != "acct-99" {
		t.Errorf("extra fields not captured: %v", resp.Extra)
	}
}

func TestTokenRequest_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, status, err := tokenRequest(context.Background(), srv.Client(), srv.URL, url.Values{})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if status != http.StatusBadRequest {
		t.Errorf("status: %d", status)
	}
	oe, ok := err.(*OAuthError)
	if !ok {
		t.Fatalf("expected OAuthError, got %T", err)
	}
	if !strings.Contains(oe.Description, "invalid_grant") {
		t.Errorf("response body not surfaced: %s", oe.Description)
	}
}

func TestTokenResponse_ExpiresAt(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	resp := &TokenResponse{ExpiresIn: 3600}
	got := resp.ExpiresAt(now)
	if got == nil || !got.Equal(now.Add(time.Hour)) {
		t.Errorf("expected %v, got %v", now.Add(time.Hour), got)
	}

	noExpiry := &TokenResponse{}
	if noExpiry.ExpiresAt(now) != nil {
		t.Error("zero expires_in should yield nil expiry")
	}
}

func TestDecodeJWTPayload(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"email":"u@example.com","sub":"123"}`))
	token := "header." + payload + ".sig"

	claims := decodeJWTPayload(token)
	if claims == nil || claims["email"] != "u@example.com" {
		t.Errorf("claims: %v", claims)
	}

	if decodeJWTPayload("not-a-jwt") != nil {
		t.Error("expected nil for malformed token")
	}
}

// fakeDriver counts refresh attempts for the manager escalation tests.
type fakeDriver struct {
	ProviderAuth
	refreshCalls int
	refreshResp  *TokenResponse
	refreshErr   error
}

func (f *fakeDriver) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	f.refreshCalls++
	return f.refreshResp, f.refreshErr
}

func (f *fakeDriver) NeedsRefresh(creds *Credentials) bool {
	return needsRefreshAt(creds, time.Now())
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := LoadStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(s)
}

func TestManager_AccessToken_NoAccount(t *testing.T) {
	m := newTestManager(t)
	if _, _, err := m.AccessToken(context.Background(), ProviderOpenAI); err != ErrNotAuthenticated {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestManager_AccessToken_FreshToken(t *testing.T) {
	m := newTestManager(t)

	exp := time.Now().Add(time.Hour)
	if _, err := m.Store().StoreCredentials(ProviderAnthropic, &Credentials{
		AccessToken: "fresh", RefreshToken: "rt", ExpiresAt: &exp,
	}, "u@x.io"); err != nil {
		t.Fatal(err)
	}

	fake := &fakeDriver{}
	m.SetDriver(ProviderAnthropic, fake)

	tok, _, err := m.AccessToken(context.Background(), ProviderAnthropic)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "fresh" {
		t.Errorf("expected fresh, got %s", tok)
	}
	if fake.refreshCalls != 0 {
		t.Errorf("fresh token must not trigger a refresh, got %d calls", fake.refreshCalls)
	}
}

func TestManager_AccessToken_RefreshesExpired(t *testing.T) {
	m := newTestManager(t)

	exp := time.Now().Add(-time.Minute)
	if _, err := m.Store().StoreCredentials(ProviderAnthropic, &Credentials{
		AccessToken: "stale", RefreshToken: "rt", ExpiresAt: &exp,
	}, "u@x.io"); err != nil {
		t.Fatal(err)
	}

	fake := &fakeDriver{refreshResp: &TokenResponse{
		AccessToken: "renewed", RefreshToken: "rt2", ExpiresIn: 3600,
	}}
	m.SetDriver(ProviderAnthropic, fake)

	tok, creds, err := m.AccessToken(context.Background(), ProviderAnthropic)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "renewed" {
		t.Errorf("expected renewed, got %s", tok)
	}
	if fake.refreshCalls != 1 {
		t.Errorf("expected exactly one refresh attempt, got %d", fake.refreshCalls)
	}
	if creds == nil || creds.RefreshToken != "rt2" {
		t.Errorf("store not updated after refresh: %+v", creds)
	}
}

func TestManager_AccessToken_RefreshFailure(t *testing.T) {
	m := newTestManager(t)

	exp := time.Now().Add(-time.Minute)
	if _, err := m.Store().StoreCredentials(ProviderAnthropic, &Credentials{
		AccessToken: "stale", RefreshToken: "rt", ExpiresAt: &exp,
	}, "u@x.io"); err != nil {
		t.Fatal(err)
	}

	fake := &fakeDriver{refreshErr: ErrTokenExpired}
	m.SetDriver(ProviderAnthropic, fake)

	if _, _, err := m.AccessToken(context.Background(), ProviderAnthropic); err != ErrNotAuthenticated {
		t.Errorf("failed refresh must escalate to ErrNotAuthenticated, got %v", err)
	}
	if fake.refreshCalls != 1 {
		t.Errorf("expected a single refresh attempt, got %d", fake.refreshCalls)
	}
}

func TestManager_AccessToken_NoRefreshToken(t *testing.T) {
	m := newTestManager(t)

	exp := time.Now().Add(-time.Minute)
	if _, err := m.Store().StoreCredentials(ProviderAnthropic, &Credentials{
		AccessToken: "stale-but-only-option", ExpiresAt: &exp,
	}, "u@x.io"); err != nil {
		t.Fatal(err)
	}
	m.SetDriver(ProviderAnthropic, &fakeDriver{})

	tok, _, err := m.AccessToken(context.Background(), ProviderAnthropic)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "stale-but-only-option" {
		t.Errorf("without a refresh token the stale token is returned as-is, got %s", tok)
	}
}
