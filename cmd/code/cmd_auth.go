package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codexkit/internal/auth"
)

var authLabel string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider OAuth accounts",
}

var authLoginCmd = &cobra.Command{
	Use:   "login [openai|anthropic|google]",
	Short: "Log in to a model provider via OAuth (PKCE)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return runLogin(ctx, auth.ProviderID(args[0]))
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [provider]",
	Short: "Remove the active account for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuthStore()
		if err != nil {
			return err
		}
		provider := auth.ProviderID(args[0])
		account := store.GetActive(provider)
		if account == nil {
			fmt.Printf("No active %s account\n", provider.DisplayName())
			return nil
		}
		if err := store.RemoveAccount(account.ID); err != nil {
			return err
		}
		fmt.Printf("Logged out of %s (%s)\n", provider.DisplayName(), account.Label)
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored accounts per provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuthStore()
		if err != nil {
			return err
		}
		providers := []auth.ProviderID{auth.ProviderOpenAI, auth.ProviderAnthropic, auth.ProviderGoogle}
		for _, p := range providers {
			accounts := store.AccountsForProvider(p)
			if len(accounts) == 0 {
				fmt.Printf("%-10s (not logged in)\n", p.DisplayName())
				continue
			}
			active := store.GetActive(p)
			for _, a := range accounts {
				marker := " "
				if active != nil && active.ID == a.ID {
					marker = "*"
				}
				expiry := "no expiry"
				if a.Credentials.ExpiresAt != nil {
					expiry = "expires " + a.Credentials.ExpiresAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("%-10s %s %s (%s)\n", p.DisplayName(), marker, a.Label, expiry)
			}
		}
		return nil
	},
}

func runLogin(ctx context.Context, provider auth.ProviderID) error {
	store, err := openAuthStore()
	if err != nil {
		return err
	}

	verifier, err := auth.GenerateCodeVerifier()
	if err != nil {
		return err
	}
	state, err := randomState()
	if err != nil {
		return err
	}

	var (
		driver auth.ProviderAuth
		code   string
	)
	switch provider {
	case auth.ProviderGoogle:
		// Google redirects to localhost; bind the callback server first
		// so its port can go into the authorization URL.
		cs, err := auth.StartCallbackServer(0, state)
		if err != nil {
			return err
		}
		driver = auth.NewGoogleAuth(nil, cs.Port())

		fmt.Println("Open this URL in your browser to authorize:")
		fmt.Println("  " + driver.AuthorizationURL(state, verifier))
		fmt.Println("Waiting for the browser callback...")
		code, err = cs.Wait(ctx)
		if err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}
	case auth.ProviderOpenAI, auth.ProviderAnthropic:
		driver, err = auth.DriverFor(provider)
		if err != nil {
			return err
		}
		fmt.Println("Open this URL in your browser to authorize:")
		fmt.Println("  " + driver.AuthorizationURL(state, verifier))
		fmt.Print("Paste the authorization code: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading authorization code: %w", err)
		}
		code = strings.TrimSpace(line)
		if code == "" {
			return fmt.Errorf("empty authorization code")
		}
	default:
		return fmt.Errorf("unknown provider %q (want openai, anthropic, or google)", provider)
	}

	resp, err := driver.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	creds := &auth.Credentials{
		Provider:     provider,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt(time.Now()),
		Metadata:     driver.ExtractMetadata(resp),
	}
	accountID, err := store.StoreCredentials(provider, creds, authLabel)
	if err != nil {
		return err
	}
	logger.Info("stored credentials",
		zap.String("provider", string(provider)),
		zap.String("account", accountID))
	fmt.Printf("Logged in to %s\n", provider.DisplayName())
	return nil
}

// openAuthStore loads auth_accounts.json from the user-level codex home.
func openAuthStore() (*auth.Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	codexHome := filepath.Join(home, ".codex")
	if err := os.MkdirAll(codexHome, 0o700); err != nil {
		return nil, err
	}
	return auth.LoadStore(codexHome)
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func init() {
	authLoginCmd.Flags().StringVar(&authLabel, "label", "", "Account label (default: provider-derived)")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}
