package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"

	"codexkit/internal/app"
)

// guardrailFile is the on-disk shape of guardrails.yaml.
type guardrailFile struct {
	Guardrails []guardrailEntry `yaml:"guardrails"`
}

type guardrailEntry struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Script      string   `yaml:"script"`
	Aliases     []string `yaml:"aliases"`
}

// LoadGuardrails reads guardrails.yaml and registers each entry as a
// guardrail command. Every guardrail keeps a spec-ops-* alias: explicit
// aliases are preserved, and one is derived from the name when absent.
func LoadGuardrails(r *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var gf guardrailFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, entry := range gf.Guardrails {
		if entry.Name == "" || entry.Script == "" {
			return fmt.Errorf("%s: guardrail needs both name and script", path)
		}
		cmd := &Command{
			Name:            entry.Name,
			Aliases:         withSpecOpsAlias(entry.Name, entry.Aliases),
			Description:     entry.Description,
			Guardrail:       true,
			GuardrailScript: entry.Script,
			Execute:         runGuardrailScript(entry.Script),
		}
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

// withSpecOpsAlias guarantees the stable spec-ops-* spelling survives.
func withSpecOpsAlias(name string, aliases []string) []string {
	for _, a := range aliases {
		if strings.HasPrefix(a, "spec-ops-") {
			return aliases
		}
	}
	short := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		short = name[i+1:]
	}
	return append(append([]string(nil), aliases...), "spec-ops-"+short)
}

func runGuardrailScript(script string) ExecuteFunc {
	return func(ctx context.Context, ui app.EventSink, args []string) error {
		cmd := exec.CommandContext(ctx, script, args...)
		out, err := cmd.CombinedOutput()
		text := strings.TrimSpace(string(out))
		if err != nil {
			if text != "" {
				ui.Emit(app.InsertHistoryCell{Kind: app.CellError, Text: text})
			}
			return fmt.Errorf("guardrail %s: %w", script, err)
		}
		if text != "" {
			ui.Emit(app.InsertHistoryCell{Kind: app.CellSuccess, Text: text})
		}
		return nil
	}
}
