package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for the auth taxonomy.
var (
	// ErrNotAuthenticated means no usable credential exists for a provider.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrTokenExpired means the access token is expired and refresh failed
	// or was not attempted yet.
	ErrTokenExpired = errors.New("token expired")
)

// OAuthError carries the provider's error envelope from a failed token
// endpoint call.
type OAuthError struct {
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth error %s", e.Code)
}

// ConfigError reports a logical misuse of the credential store.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }
