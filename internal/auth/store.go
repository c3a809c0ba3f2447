package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"codexkit/internal/logging"
)

// authAccountsFile is the storage file name inside the codex home directory.
const authAccountsFile = "auth_accounts.json"

// schemaVersion is the current auth_accounts.json schema version.
const schemaVersion = 2

// Account is one stored provider account with credentials and metadata.
type Account struct {
	ID          string                 `json:"id"`
	Provider    string                 `json:"provider"`
	Mode        string                 `json:"mode"`
	Label       string                 `json:"label"`
	Credentials StoredCredentials      `json:"credentials"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	LastUsedAt  time.Time              `json:"last_used_at"`
}

// StoredCredentials is the on-disk token material.
type StoredCredentials struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// storeFile is the auth_accounts.json v2 disk format.
type storeFile struct {
	Version        int               `json:"version"`
	ActiveAccounts map[string]string `json:"active_accounts"`
	Accounts       []*Account        `json:"accounts"`
}

// Store manages the multi-provider credential file. All mutating operations
// follow a load-modify-save discipline under one in-memory lock; permission
// bits are reapplied on every write.
type Store struct {
	home string

	mu             sync.Mutex
	activeAccounts map[string]string
	accounts       []*Account
}

// LoadStore reads auth_accounts.json from home. A missing file yields an
// empty version-2 store; malformed JSON is a ConfigError.
func LoadStore(home string) (*Store, error) {
	s := &Store{
		home:           home,
		activeAccounts: make(map[string]string),
	}

	path := filepath.Join(home, authAccountsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("malformed %s: %v", authAccountsFile, err)}
	}

	if f.ActiveAccounts != nil {
		s.activeAccounts = f.ActiveAccounts
	}
	s.accounts = f.Accounts
	logging.AuthDebug("loaded credential store: %d accounts", len(s.accounts))
	return s, nil
}

// Save writes the store with owner-only permissions, creating parent
// directories as needed.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	f := storeFile{
		Version:        schemaVersion,
		ActiveAccounts: s.activeAccounts,
		Accounts:       s.accounts,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential store: %w", err)
	}

	path := filepath.Join(s.home, authAccountsFile)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	// WriteFile only applies the mode on create; an existing file keeps
	// whatever bits it had, so reapply.
	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("setting permissions on %s: %w", path, err)
		}
	}
	return nil
}

// GetActive returns the active account for a provider, or nil.
func (s *Store) GetActive(provider ProviderID) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getActiveLocked(provider)
}

func (s *Store) getActiveLocked(provider ProviderID) *Account {
	id, ok := s.activeAccounts[provider.String()]
	if !ok {
		return nil
	}
	for _, a := range s.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// GetCredentials returns the credentials of the provider's active account.
func (s *Store) GetCredentials(provider ProviderID) *Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.getActiveLocked(provider)
	if acct == nil {
		return nil
	}
	return &Credentials{
		Provider:     provider,
		AccessToken:  acct.Credentials.AccessToken,
		RefreshToken: acct.Credentials.RefreshToken,
		ExpiresAt:    acct.Credentials.ExpiresAt,
		Metadata:     acct.Metadata,
	}
}

// AccountsForProvider returns copies of all accounts for a provider.
func (s *Store) AccountsForProvider(provider ProviderID) []Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Account
	for _, a := range s.accounts {
		if a.Provider == provider.String() {
			out = append(out, *a)
		}
	}
	return out
}

// StoreCredentials upserts an account by (provider, label) and always sets
// it active for the provider. Returns the account ID.
func (s *Store) StoreCredentials(provider ProviderID, creds *Credentials, label string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var accountID string

	for _, a := range s.accounts {
		if a.Provider == provider.String() && a.Label == label {
			a.Credentials = StoredCredentials{
				AccessToken:  creds.AccessToken,
				RefreshToken: creds.RefreshToken,
				ExpiresAt:    creds.ExpiresAt,
			}
			a.Metadata = creds.Metadata
			a.LastUsedAt = now
			accountID = a.ID
			break
		}
	}

	if accountID == "" {
		accountID = uuid.NewString()
		s.accounts = append(s.accounts, &Account{
			ID:       accountID,
			Provider: provider.String(),
			Mode:     "oauth",
			Label:    label,
			Credentials: StoredCredentials{
				AccessToken:  creds.AccessToken,
				RefreshToken: creds.RefreshToken,
				ExpiresAt:    creds.ExpiresAt,
			},
			Metadata:   creds.Metadata,
			CreatedAt:  now,
			LastUsedAt: now,
		})
	}

	s.activeAccounts[provider.String()] = accountID

	if err := s.saveLocked(); err != nil {
		return "", err
	}
	logging.Auth("stored credentials for %s account %q", provider, label)
	return accountID, nil
}

// UpdateToken replaces the access token on the provider's active account.
// Used after a refresh. Fails with ErrNotAuthenticated when no account is
// active.
func (s *Store) UpdateToken(provider ProviderID, accessToken string, refreshToken string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.getActiveLocked(provider)
	if acct == nil {
		return ErrNotAuthenticated
	}

	acct.Credentials.AccessToken = accessToken
	if refreshToken != "" {
		acct.Credentials.RefreshToken = refreshToken
	}
	acct.Credentials.ExpiresAt = expiresAt
	acct.LastUsedAt = time.Now().UTC()

	return s.saveLocked()
}

// SetActiveAccount marks an account active for its provider. The account
// must exist and belong to the provider.
func (s *Store) SetActiveAccount(provider ProviderID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.ID == accountID && a.Provider == provider.String() {
			s.activeAccounts[provider.String()] = accountID
			return s.saveLocked()
		}
	}
	return &ConfigError{Msg: fmt.Sprintf("account %s not found for provider %s", accountID, provider)}
}

// RemoveAccount deletes an account and clears any active slot referencing it.
func (s *Store) RemoveAccount(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.accounts[:0]
	for _, a := range s.accounts {
		if a.ID != accountID {
			kept = append(kept, a)
		}
	}
	s.accounts = kept

	for provider, id := range s.activeAccounts {
		if id == accountID {
			delete(s.activeAccounts, provider)
		}
	}

	return s.saveLocked()
}

// FilePath returns the store path for a codex home directory.
func FilePath(home string) string {
	return filepath.Join(home, authAccountsFile)
}
