package commands

import (
	"context"
	"fmt"
	"strings"

	"codexkit/internal/app"
)

// Deps are the hooks the builtin spec-kit commands call into. Nil hooks
// produce a structured error instead of a silent no-op.
type Deps struct {
	CreateSpec func(ctx context.Context, description string) (specID, slug string, err error)
	RunStage   func(ctx context.Context, stage string, args []string) error
	Status     func(ctx context.Context) (string, error)
	Configure  func(ctx context.Context, specID string) error
	Undo       func(ctx context.Context) error
}

// stageCommands are the pipeline stages exposed one-to-one as commands.
var stageCommands = []struct {
	stage       string
	description string
}{
	{"specify", "Write or refine the specification for the current SPEC"},
	{"plan", "Produce the implementation plan"},
	{"tasks", "Break the plan into tasks"},
	{"implement", "Execute the task list"},
	{"validate", "Run validation against the acceptance criteria"},
	{"audit", "Audit the implemented change"},
	{"unlock", "Unlock a gated stage"},
	{"clarify", "Ask clarifying questions about the PRD"},
	{"analyze", "Run the native analysis engines"},
	{"checklist", "Generate the quality checklist"},
	{"auto", "Run the remaining stages without stopping"},
}

// RegisterBuiltins installs the speckit.* command set.
func RegisterBuiltins(r *Registry, deps Deps) error {
	cmds := []*Command{
		{
			Name:         "speckit.new",
			Aliases:      []string{"speckit.create"},
			Description:  "Create a new SPEC from a short description",
			RequiresArgs: true,
			Execute: func(ctx context.Context, ui app.EventSink, args []string) error {
				if deps.CreateSpec == nil {
					return fmt.Errorf("speckit.new: no spec creator wired")
				}
				specID, slug, err := deps.CreateSpec(ctx, strings.Join(args, " "))
				if err != nil {
					ui.Emit(app.InsertHistoryCell{Kind: app.CellError, Text: err.Error()})
					return err
				}
				ui.Emit(app.InsertHistoryCell{
					Kind: app.CellSuccess,
					Text: fmt.Sprintf("Created %s (%s)", specID, slug),
				})
				return nil
			},
		},
		{
			Name:        "speckit.status",
			Description: "Show pipeline and budget status for the active SPEC",
			Execute: func(ctx context.Context, ui app.EventSink, args []string) error {
				if deps.Status == nil {
					return fmt.Errorf("speckit.status: no status provider wired")
				}
				text, err := deps.Status(ctx)
				if err != nil {
					return err
				}
				ui.Emit(app.InsertHistoryCell{Kind: app.CellNotice, Text: text})
				return nil
			},
		},
		{
			Name:        "speckit.configure",
			Description: "Open the pipeline configurator",
			Execute: func(ctx context.Context, ui app.EventSink, args []string) error {
				if deps.Configure == nil {
					return fmt.Errorf("speckit.configure: no configurator wired")
				}
				specID := ""
				if len(args) > 0 {
					specID = args[0]
				}
				return deps.Configure(ctx, specID)
			},
		},
		{
			Name:        "speckit.undo",
			Aliases:     []string{"undo"},
			Description: "Show undo options for the last snapshots",
			Execute: func(ctx context.Context, ui app.EventSink, args []string) error {
				if deps.Undo == nil {
					return fmt.Errorf("speckit.undo: no undo manager wired")
				}
				return deps.Undo(ctx)
			},
		},
	}

	for _, sc := range stageCommands {
		stage := sc.stage
		cmds = append(cmds, &Command{
			Name:        "speckit." + stage,
			Description: sc.description,
			Execute: func(ctx context.Context, ui app.EventSink, args []string) error {
				if deps.RunStage == nil {
					return fmt.Errorf("speckit.%s: no stage runner wired", stage)
				}
				return deps.RunStage(ctx, stage, args)
			},
		})
	}

	// Bootstrap commands run before any SPEC exists.
	for _, name := range []string{"stage0.bootstrap", "stage0.preflight"} {
		stage := name
		cmds = append(cmds, &Command{
			Name:        stage,
			Description: "Workspace bootstrap step",
			Execute: func(ctx context.Context, ui app.EventSink, args []string) error {
				if deps.RunStage == nil {
					return fmt.Errorf("%s: no stage runner wired", stage)
				}
				return deps.RunStage(ctx, stage, args)
			},
		})
	}

	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}
