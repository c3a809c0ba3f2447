// Package router maps model names onto providers and picks the native or
// CLI execution path for each request.
package router

import (
	"fmt"
	"strings"
	"time"

	"codexkit/internal/logging"
)

// Provider is the backing service for a model.
type Provider string

const (
	ProviderChatGPT Provider = "chatgpt"
	ProviderClaude  Provider = "claude"
	ProviderGemini  Provider = "gemini"
)

// Path selects how the request is executed.
type Path string

const (
	PathNative Path = "native" // in-process streaming client
	PathCLI    Path = "cli"    // external CLI via the pty provider
)

// CLIRoutingSettings controls the external-CLI execution path.
type CLIRoutingSettings struct {
	Verbosity      string
	NonInteractive bool
	Timeout        time.Duration

	// EnableGeminiCLI opts in to the Gemini CLI path. Off by default; the
	// native client is the supported route.
	EnableGeminiCLI bool
	// PreferClaudeCLI routes Claude models through the CLI streaming
	// provider instead of the native client.
	PreferClaudeCLI bool
}

// DefaultCLIRoutingSettings returns the conservative defaults.
func DefaultCLIRoutingSettings() CLIRoutingSettings {
	return CLIRoutingSettings{
		Verbosity:      "normal",
		NonInteractive: true,
		Timeout:        120 * time.Second,
	}
}

// Route is a resolved execution decision.
type Route struct {
	Provider Provider
	Path     Path
	Settings CLIRoutingSettings
}

// CLIDisabledError is returned when a caller asks for a CLI path that is
// switched off; the message tells them which native route to use instead.
type CLIDisabledError struct {
	Provider Provider
}

func (e *CLIDisabledError) Error() string {
	return fmt.Sprintf("%s CLI routing is disabled; use the native client or enable it in config", e.Provider)
}

// ClassifyModel maps a model name to its provider. Unknown names fall back
// to ChatGPT, the in-process default.
func ClassifyModel(model string) Provider {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"), strings.Contains(m, "opus"),
		strings.Contains(m, "sonnet"), strings.Contains(m, "haiku"):
		return ProviderClaude
	case strings.Contains(m, "gemini"):
		return ProviderGemini
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"),
		strings.Contains(m, "codex"):
		return ProviderChatGPT
	default:
		return ProviderChatGPT
	}
}

// Router resolves models to execution routes under one settings object.
type Router struct {
	settings CLIRoutingSettings
}

// New creates a router with the given CLI settings.
func New(settings CLIRoutingSettings) *Router {
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultCLIRoutingSettings().Timeout
	}
	return &Router{settings: settings}
}

// Settings returns the routing settings carried on every route.
func (r *Router) Settings() CLIRoutingSettings { return r.settings }

// Route resolves a model name to a provider and path.
func (r *Router) Route(model string) (Route, error) {
	provider := ClassifyModel(model)
	route := Route{Provider: provider, Path: PathNative, Settings: r.settings}

	switch provider {
	case ProviderChatGPT:
		// Always native.
	case ProviderClaude:
		if r.settings.PreferClaudeCLI {
			route.Path = PathCLI
		}
	case ProviderGemini:
		if r.settings.EnableGeminiCLI {
			route.Path = PathCLI
		}
	}

	logging.RouterDebug("model %s -> %s/%s", model, route.Provider, route.Path)
	return route, nil
}

// RouteCLI resolves a model while insisting on the CLI path; a disabled CLI
// is a structured error rather than a silent fallback.
func (r *Router) RouteCLI(model string) (Route, error) {
	provider := ClassifyModel(model)
	switch provider {
	case ProviderGemini:
		if !r.settings.EnableGeminiCLI {
			return Route{}, &CLIDisabledError{Provider: ProviderGemini}
		}
	case ProviderChatGPT:
		return Route{}, &CLIDisabledError{Provider: ProviderChatGPT}
	}
	return Route{Provider: provider, Path: PathCLI, Settings: r.settings}, nil
}
