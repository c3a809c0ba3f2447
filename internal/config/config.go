// Package config loads layered configuration: compiled defaults, then an
// optional TOML file, then SPECKIT_-prefixed environment variables. A
// field registry maps strongly-typed field paths to their TOML and
// environment spellings.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"codexkit/internal/logging"
)

const envPrefix = "SPECKIT_"

// FileNotFoundError means an explicitly configured file path does not
// exist. The default path being absent is not an error.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

// SchemaValidationError wraps a failed post-merge validation.
type SchemaValidationError struct {
	Err error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("config schema validation failed: %v", e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// ProviderConfig holds per-provider model settings; providers are dynamic
// keys under [models].
type ProviderConfig struct {
	OAuthClientID string `koanf:"oauth_client_id"`
	BaseURL       string `koanf:"base_url"`
	DefaultModel  string `koanf:"default_model"`
	Reasoning     string `koanf:"reasoning"`
}

type GeneralConfig struct {
	Workspace    string `koanf:"workspace" validate:"required"`
	DefaultModel string `koanf:"default_model" validate:"required"`
	LogLevel     string `koanf:"log_level" validate:"oneof=debug info warn error"`
}

type QualityGatesConfig struct {
	SchemaValidation bool   `koanf:"schema_validation"`
	MinGrade         string `koanf:"min_grade" validate:"omitempty,oneof=A B C D F"`
}

type EvidenceConfig struct {
	Base             string `koanf:"base"`
	ArchiveAfterDays int    `koanf:"archive_after_days" validate:"min=1"`
	PurgeAfterDays   int    `koanf:"purge_after_days" validate:"min=1"`
	WarningMB        int    `koanf:"warning_mb" validate:"min=1"`
	HardMB           int    `koanf:"hard_mb" validate:"min=1"`
	Enabled          bool   `koanf:"enabled"`
	DryRun           bool   `koanf:"dry_run"`
}

type BudgetConfig struct {
	DefaultBudget float64 `koanf:"default_budget" validate:"min=0"`
}

type PTYConfig struct {
	Binary          string `koanf:"binary"`
	InitTimeoutSecs int    `koanf:"init_timeout_secs" validate:"min=1"`
	TurnTimeoutSecs int    `koanf:"turn_timeout_secs" validate:"min=1"`
}

type UndoConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Config is the merged view of all layers.
type Config struct {
	General      GeneralConfig             `koanf:"general"`
	Models       map[string]ProviderConfig `koanf:"models"`
	QualityGates QualityGatesConfig        `koanf:"quality_gates"`
	Evidence     EvidenceConfig            `koanf:"evidence"`
	Budget       BudgetConfig              `koanf:"budget"`
	PTY          PTYConfig                 `koanf:"pty"`
	Undo         UndoConfig                `koanf:"undo"`
}

// Defaults returns the compiled-in layer as dotted keys.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"general.workspace":               ".",
		"general.default_model":           "claude-sonnet-4",
		"general.log_level":               "info",
		"quality_gates.schema_validation": false,
		"quality_gates.min_grade":         "C",
		"evidence.base":                   ".speckit/evidence",
		"evidence.archive_after_days":     30,
		"evidence.purge_after_days":       180,
		"evidence.warning_mb":             45,
		"evidence.hard_mb":                50,
		"evidence.enabled":                true,
		"evidence.dry_run":                false,
		"budget.default_budget":           2.0,
		"pty.binary":                      "gemini",
		"pty.init_timeout_secs":           10,
		"pty.turn_timeout_secs":           120,
		"undo.enabled":                    true,
	}
}

// Load merges defaults, the TOML file at path (optional when path is
// empty), and SPECKIT_ environment variables. Validation runs only when
// quality_gates.schema_validation is set after the merge.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		k.Set(key, value)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, &FileNotFoundError{Path: path}
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		logging.Config("loaded config file %s", path)
	}

	k.Load(env.Provider(envPrefix, ".", envTransform), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.QualityGates.SchemaValidation {
		if err := validator.New().Struct(cfg); err != nil {
			return nil, &SchemaValidationError{Err: err}
		}
	}
	return &cfg, nil
}

// envTransform maps SPECKIT_QUALITY_GATES__MIN_GRADE to
// quality_gates.min_grade: the double underscore separates nesting
// levels, single underscores stay inside one segment.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
