package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"codexkit/internal/app"
)

type eventRecorder struct {
	events []app.Event
}

func (r *eventRecorder) Emit(ev app.Event) { r.events = append(r.events, ev) }

func press(t *testing.T, c tea.Model, key string) tea.Model {
	t.Helper()
	var msg tea.Msg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEscape}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case " ":
		msg = tea.KeyMsg{Type: tea.KeySpace}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, _ := c.Update(msg)
	return next
}

func newTestConfigurator(t *testing.T, root string) (*Configurator, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	cfg := DefaultConfig("SPEC-KIT-030", "claude-sonnet-4")
	return NewConfigurator(cfg, root, rec), rec
}

func TestConfigurator_ModeTransitions(t *testing.T) {
	c, _ := newTestConfigurator(t, t.TempDir())
	if c.current() != modeStageList {
		t.Fatalf("initial mode = %v", c.current())
	}

	press(t, c, "enter") // StageList -> StageDetails
	if c.current() != modeStageDetails || c.stage != StageSpecify {
		t.Fatalf("after enter: mode=%v stage=%v", c.current(), c.stage)
	}

	press(t, c, "m") // StageDetails -> ModelSelection
	if c.current() != modeModelSelection {
		t.Fatalf("after m: mode=%v", c.current())
	}

	press(t, c, "enter") // slot -> ModelPicker
	if c.current() != modeModelPicker {
		t.Fatalf("after slot enter: mode=%v", c.current())
	}

	// claude-opus-4 has reasoning options -> ReasoningPicker.
	press(t, c, "enter")
	if c.current() != modeReasoningPicker {
		t.Fatalf("after model enter: mode=%v", c.current())
	}
	press(t, c, "down")
	press(t, c, "enter") // commit, back to ModelSelection
	if c.current() != modeModelSelection {
		t.Fatalf("after reasoning enter: mode=%v", c.current())
	}
	got := c.cfg.Assignments[StageSpecify][0]
	if got != (Slot{Model: "claude-opus-4", Reasoning: "extended"}) {
		t.Errorf("committed slot = %+v", got)
	}

	// Esc pops back one mode at a time.
	press(t, c, "esc")
	if c.current() != modeStageDetails {
		t.Fatalf("after esc: mode=%v", c.current())
	}
}

func TestConfigurator_ModelWithoutReasoningCommitsDirectly(t *testing.T) {
	c, _ := newTestConfigurator(t, t.TempDir())
	press(t, c, "enter") // details
	press(t, c, "m")     // model selection
	press(t, c, "enter") // picker
	// Move to claude-sonnet-4 (no reasoning options).
	press(t, c, "down")
	press(t, c, "enter")
	if c.current() != modeModelSelection {
		t.Fatalf("mode = %v, want direct return to ModelSelection", c.current())
	}
	if got := c.cfg.Assignments[StageSpecify][0]; got != (Slot{Model: "claude-sonnet-4"}) {
		t.Errorf("slot = %+v", got)
	}
}

func TestConfigurator_ToggleStage(t *testing.T) {
	c, _ := newTestConfigurator(t, t.TempDir())
	press(t, c, "down") // plan
	press(t, c, "enter")
	if c.stage != StagePlan {
		t.Fatalf("stage = %v", c.stage)
	}
	press(t, c, " ")
	if c.cfg.Enabled[StagePlan] {
		t.Error("toggle did not disable plan")
	}
	press(t, c, " ")
	if !c.cfg.Enabled[StagePlan] {
		t.Error("toggle did not re-enable plan")
	}
}

func TestConfigurator_EscFromStageListCancels(t *testing.T) {
	c, rec := newTestConfigurator(t, t.TempDir())
	press(t, c, "esc")
	if len(rec.events) != 1 {
		t.Fatalf("events = %+v", rec.events)
	}
	if _, ok := rec.events[0].(app.PipelineConfigurationCancelled); !ok {
		t.Errorf("event = %T", rec.events[0])
	}
}

func TestConfigurator_SaveEmitsSavedEvent(t *testing.T) {
	root := t.TempDir()
	c, rec := newTestConfigurator(t, root)
	press(t, c, "q")

	if len(rec.events) != 1 {
		t.Fatalf("events = %+v", rec.events)
	}
	saved, ok := rec.events[0].(app.PipelineConfigurationSaved)
	if !ok {
		t.Fatalf("event = %T", rec.events[0])
	}
	if saved.SpecID != "SPEC-KIT-030" {
		t.Errorf("SpecID = %q", saved.SpecID)
	}
	if _, err := os.Stat(saved.Path); err != nil {
		t.Errorf("saved file missing: %v", err)
	}
	if filepath.Base(saved.Path) != "pipeline.toml" {
		t.Errorf("path = %q", saved.Path)
	}
}

func TestConfigurator_SaveErrorKeepsModalOpen(t *testing.T) {
	c, rec := newTestConfigurator(t, t.TempDir())
	// Break the config so Save fails validation.
	c.cfg.Assignments[StageSpecify] = nil

	press(t, c, "q")
	if c.done {
		t.Error("configurator closed on failed save")
	}
	if len(rec.events) != 1 {
		t.Fatalf("events = %+v", rec.events)
	}
	if _, ok := rec.events[0].(app.PipelineConfigurationError); !ok {
		t.Errorf("event = %T", rec.events[0])
	}
	if c.saveErr == "" {
		t.Error("save error not surfaced in view state")
	}
	if view := c.View(); view == "" {
		t.Error("view empty while modal should stay open")
	}
}
