// Package pipeline holds per-SPEC stage configuration: which stages are
// enabled and which model slots serve each stage, persisted as
// docs/<SPEC_ID>/pipeline.toml.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml"

	"codexkit/internal/logging"
)

// Stage is one step of the spec-kit pipeline.
type Stage string

const (
	StageSpecify   Stage = "specify"
	StagePlan      Stage = "plan"
	StageTasks     Stage = "tasks"
	StageImplement Stage = "implement"
	StageValidate  Stage = "validate"
	StageAudit     Stage = "audit"
	StageUnlock    Stage = "unlock"
)

// AllStages lists the stages in execution order.
var AllStages = []Stage{
	StageSpecify, StagePlan, StageTasks, StageImplement,
	StageValidate, StageAudit, StageUnlock,
}

// MaxSlotsPerStage bounds how many models may serve one stage.
const MaxSlotsPerStage = 3

// Slot is one model assignment, optionally with a reasoning level.
type Slot struct {
	Model     string
	Reasoning string
}

// ParseSlot decodes the "model" or "model:reasoning" wire form.
func ParseSlot(s string) (Slot, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Slot{}, fmt.Errorf("empty model slot")
	}
	model, reasoning, found := strings.Cut(s, ":")
	if model == "" || (found && reasoning == "") {
		return Slot{}, fmt.Errorf("malformed model slot %q", s)
	}
	return Slot{Model: model, Reasoning: reasoning}, nil
}

func (s Slot) String() string {
	if s.Reasoning == "" {
		return s.Model
	}
	return s.Model + ":" + s.Reasoning
}

// Config is one SPEC's pipeline setup.
type Config struct {
	SpecID      string
	Enabled     map[Stage]bool
	Assignments map[Stage][]Slot
}

// DefaultConfig enables every stage with a single default slot.
func DefaultConfig(specID, defaultModel string) *Config {
	cfg := &Config{
		SpecID:      specID,
		Enabled:     make(map[Stage]bool, len(AllStages)),
		Assignments: make(map[Stage][]Slot, len(AllStages)),
	}
	for _, st := range AllStages {
		cfg.Enabled[st] = true
		cfg.Assignments[st] = []Slot{{Model: defaultModel}}
	}
	return cfg
}

// Validate enforces the structural invariants: every enabled stage has
// at least one slot and no stage exceeds the slot bound.
func (c *Config) Validate() error {
	if c.SpecID == "" {
		return fmt.Errorf("pipeline config has no spec id")
	}
	for _, st := range AllStages {
		slots := c.Assignments[st]
		if c.Enabled[st] && len(slots) == 0 {
			return fmt.Errorf("stage %s is enabled but has no model slots", st)
		}
		if len(slots) > MaxSlotsPerStage {
			return fmt.Errorf("stage %s has %d slots, maximum is %d", st, len(slots), MaxSlotsPerStage)
		}
	}
	return nil
}

// ConfigurationError wraps a failed save for the UI.
type ConfigurationError struct {
	SpecID string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pipeline configuration for %s: %v", e.SpecID, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// fileFormat is the TOML shape: [enabled_stages] plus one
// [models.<stage>] table per assigned stage.
type fileFormat struct {
	EnabledStages map[string]bool        `toml:"enabled_stages"`
	Models        map[string]stageModels `toml:"models"`
}

type stageModels struct {
	Slots []string `toml:"slots"`
}

// ConfigPath returns docs/<SPEC_ID>/pipeline.toml under root. The SPEC
// directory may carry a slug suffix; an existing match wins.
func ConfigPath(root, specID string) string {
	docs := filepath.Join(root, "docs")
	if entries, err := os.ReadDir(docs); err == nil {
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), specID) {
				return filepath.Join(docs, e.Name(), "pipeline.toml")
			}
		}
	}
	return filepath.Join(docs, specID, "pipeline.toml")
}

// Save validates and writes the config. Failures come back as a
// ConfigurationError so the configurator can keep its modal open.
func (c *Config) Save(root string) (string, error) {
	if err := c.Validate(); err != nil {
		return "", &ConfigurationError{SpecID: c.SpecID, Err: err}
	}

	ff := fileFormat{
		EnabledStages: make(map[string]bool, len(c.Enabled)),
		Models:        make(map[string]stageModels, len(c.Assignments)),
	}
	for st, on := range c.Enabled {
		ff.EnabledStages[string(st)] = on
	}
	for st, slots := range c.Assignments {
		encoded := make([]string, len(slots))
		for i, s := range slots {
			encoded[i] = s.String()
		}
		ff.Models[string(st)] = stageModels{Slots: encoded}
	}

	data, err := toml.Marshal(ff)
	if err != nil {
		return "", &ConfigurationError{SpecID: c.SpecID, Err: err}
	}
	path := ConfigPath(root, c.SpecID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &ConfigurationError{SpecID: c.SpecID, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &ConfigurationError{SpecID: c.SpecID, Err: err}
	}
	logging.Pipeline("saved %s", path)
	return path, nil
}

// LoadConfig reads docs/<SPEC_ID>/pipeline.toml.
func LoadConfig(root, specID string) (*Config, error) {
	path := ConfigPath(root, specID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ff fileFormat
	if err := toml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg := &Config{
		SpecID:      specID,
		Enabled:     make(map[Stage]bool, len(ff.EnabledStages)),
		Assignments: make(map[Stage][]Slot, len(ff.Models)),
	}
	for name, on := range ff.EnabledStages {
		cfg.Enabled[Stage(name)] = on
	}
	for name, sm := range ff.Models {
		slots := make([]Slot, 0, len(sm.Slots))
		for _, raw := range sm.Slots {
			slot, err := ParseSlot(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: stage %s: %w", path, name, err)
			}
			slots = append(slots, slot)
		}
		cfg.Assignments[Stage(name)] = slots
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
