package auth

import (
	"context"
	"fmt"

	"codexkit/internal/logging"
)

// Manager ties the credential store to the provider drivers and enforces
// the refresh policy: one refresh attempt on an expired token, after which
// the failure escalates to ErrNotAuthenticated.
type Manager struct {
	store   *Store
	drivers map[ProviderID]ProviderAuth
}

// NewManager creates a manager over a loaded store with the default drivers.
func NewManager(store *Store) *Manager {
	return &Manager{
		store: store,
		drivers: map[ProviderID]ProviderAuth{
			ProviderOpenAI:    NewOpenAIAuth(nil),
			ProviderAnthropic: NewAnthropicAuth(nil),
			ProviderGoogle:    NewGoogleAuth(nil, 0),
		},
	}
}

// Store exposes the underlying credential store.
func (m *Manager) Store() *Store { return m.store }

// Driver returns the auth driver for a provider.
func (m *Manager) Driver(provider ProviderID) (ProviderAuth, error) {
	d, ok := m.drivers[provider]
	if !ok {
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown provider %q", provider)}
	}
	return d, nil
}

// SetDriver overrides a driver; used by tests and the login command.
func (m *Manager) SetDriver(provider ProviderID, d ProviderAuth) {
	m.drivers[provider] = d
}

// AccessToken returns a valid access token for the provider's active
// account, refreshing once if the token is inside the skew window.
func (m *Manager) AccessToken(ctx context.Context, provider ProviderID) (string, *Credentials, error) {
	creds := m.store.GetCredentials(provider)
	if creds == nil || creds.AccessToken == "" {
		return "", nil, ErrNotAuthenticated
	}

	driver, err := m.Driver(provider)
	if err != nil {
		return "", nil, err
	}

	if !driver.NeedsRefresh(creds) {
		return creds.AccessToken, creds, nil
	}

	if creds.RefreshToken == "" {
		logging.AuthWarn("%s token due for refresh but no refresh token stored", provider)
		return creds.AccessToken, creds, nil
	}

	logging.AuthDebug("%s token inside refresh window, refreshing", provider)
	tr, err := driver.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		// One attempt only; a failed refresh means re-login.
		logging.AuthError("%s token refresh failed: %v", provider, err)
		return "", nil, ErrNotAuthenticated
	}

	expiresAt := tr.ExpiresAt(timeNow())
	if err := m.store.UpdateToken(provider, tr.AccessToken, tr.RefreshToken, expiresAt); err != nil {
		return "", nil, err
	}

	fresh := m.store.GetCredentials(provider)
	return tr.AccessToken, fresh, nil
}
