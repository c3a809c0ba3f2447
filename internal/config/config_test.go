package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Evidence.ArchiveAfterDays != 30 || cfg.Evidence.PurgeAfterDays != 180 {
		t.Errorf("evidence defaults = %+v", cfg.Evidence)
	}
	if cfg.Budget.DefaultBudget != 2.0 {
		t.Errorf("budget default = %v", cfg.Budget.DefaultBudget)
	}
	if cfg.PTY.Binary != "gemini" {
		t.Errorf("pty binary = %q", cfg.PTY.Binary)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speckit.toml")
	body := `
[general]
workspace = "/srv/work"

[evidence]
warning_mb = 10

[models.anthropic]
oauth_client_id = "client-abc"
default_model = "claude-opus-4"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.Workspace != "/srv/work" {
		t.Errorf("workspace = %q", cfg.General.Workspace)
	}
	if cfg.Evidence.WarningMB != 10 {
		t.Errorf("warning_mb = %d, want file override 10", cfg.Evidence.WarningMB)
	}
	if cfg.Evidence.HardMB != 50 {
		t.Errorf("hard_mb = %d, want untouched default 50", cfg.Evidence.HardMB)
	}
	p, ok := cfg.Models["anthropic"]
	if !ok || p.OAuthClientID != "client-abc" || p.DefaultModel != "claude-opus-4" {
		t.Errorf("models.anthropic = %+v", cfg.Models)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speckit.toml")
	os.WriteFile(path, []byte("[quality_gates]\nmin_grade = \"B\"\n"), 0o644)

	t.Setenv("SPECKIT_QUALITY_GATES__MIN_GRADE", "A")
	t.Setenv("SPECKIT_EVIDENCE__DRY_RUN", "true")
	t.Setenv("SPECKIT_MODELS__GOOGLE__OAUTH_CLIENT_ID", "env-client")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QualityGates.MinGrade != "A" {
		t.Errorf("min_grade = %q, want env override A", cfg.QualityGates.MinGrade)
	}
	if !cfg.Evidence.DryRun {
		t.Error("dry_run not overridden by env")
	}
	if cfg.Models["google"].OAuthClientID != "env-client" {
		t.Errorf("models.google = %+v", cfg.Models["google"])
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	var nf *FileNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want FileNotFoundError", err)
	}
}

func TestLoad_SchemaValidationGated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speckit.toml")
	// Invalid log level; only rejected once validation is switched on.
	os.WriteFile(path, []byte("[general]\nlog_level = \"loud\"\n"), 0o644)

	if _, err := Load(path); err != nil {
		t.Fatalf("validation ran while disabled: %v", err)
	}

	t.Setenv("SPECKIT_QUALITY_GATES__SCHEMA_VALIDATION", "true")
	_, err := Load(path)
	var sv *SchemaValidationError
	if !errors.As(err, &sv) {
		t.Fatalf("err = %v, want SchemaValidationError", err)
	}
}

func TestFieldPath_Roundtrip(t *testing.T) {
	cases := []struct {
		path FieldPath
		key  string
		env  string
	}{
		{FieldPath{Field: FieldGeneralWorkspace}, "general.workspace", "SPECKIT_GENERAL__WORKSPACE"},
		{FieldPath{Field: FieldEvidenceArchiveAfterDays}, "evidence.archive_after_days", "SPECKIT_EVIDENCE__ARCHIVE_AFTER_DAYS"},
		{FieldPath{Field: FieldProviderOAuthClientID, Provider: "anthropic"}, "models.anthropic.oauth_client_id", "SPECKIT_MODELS__ANTHROPIC__OAUTH_CLIENT_ID"},
		{FieldPath{Field: FieldProviderReasoning, Provider: "openai"}, "models.openai.reasoning", "SPECKIT_MODELS__OPENAI__REASONING"},
	}
	for _, c := range cases {
		key, err := c.path.TOMLKey()
		if err != nil || key != c.key {
			t.Errorf("TOMLKey(%+v) = %q, %v; want %q", c.path, key, err, c.key)
		}
		env, err := c.path.EnvVar()
		if err != nil || env != c.env {
			t.Errorf("EnvVar(%+v) = %q, %v; want %q", c.path, env, err, c.env)
		}
		back, ok := FieldFromKey(c.key)
		if !ok || back != c.path {
			t.Errorf("FieldFromKey(%q) = %+v, %v; want %+v", c.key, back, ok, c.path)
		}
		fromEnv, ok := FieldFromEnv(c.env)
		if !ok || fromEnv != c.path {
			t.Errorf("FieldFromEnv(%q) = %+v, %v; want %+v", c.env, fromEnv, ok, c.path)
		}
	}
}

func TestFieldPath_DynamicRequiresProvider(t *testing.T) {
	_, err := (FieldPath{Field: FieldProviderBaseURL}).TOMLKey()
	if err == nil {
		t.Fatal("expected error for dynamic field without provider")
	}
	if _, ok := FieldFromKey("no.such.key"); ok {
		t.Error("unknown key resolved")
	}
	if _, ok := FieldFromEnv("OTHER_PREFIX__X"); ok {
		t.Error("foreign env var resolved")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speckit.toml")
	os.WriteFile(path, []byte("[budget]\ndefault_budget = 1.0\n"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, path, func(c *Config) { got <- c })
	}()

	// Give the watcher a moment to register, then rewrite.
	time.Sleep(100 * time.Millisecond)
	os.WriteFile(path, []byte("[budget]\ndefault_budget = 5.5\n"), 0o644)

	select {
	case cfg := <-got:
		if cfg.Budget.DefaultBudget != 5.5 {
			t.Errorf("reloaded budget = %v, want 5.5", cfg.Budget.DefaultBudget)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	cancel()
	<-done
}
