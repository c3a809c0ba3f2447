package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"codexkit/internal/app"
	"codexkit/internal/config"
	"codexkit/internal/pipeline"
)

// defaultModel picks the first provider with a configured default, in a
// stable preference order.
func defaultModel(cfg *config.Config) string {
	for _, provider := range []string{"anthropic", "openai", "google"} {
		if p, ok := cfg.Models[provider]; ok && p.DefaultModel != "" {
			return p.DefaultModel
		}
	}
	return "claude-sonnet-4"
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline [spec-id]",
	Short: "Configure the stage pipeline for one SPEC",
	Long: `Opens the interactive pipeline configurator: toggle stages on and
off and assign model slots per stage. The result is saved to the SPEC's
docs directory as pipeline.toml.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specID := args[0]
		root := resolveWorkspace()

		appCfg, err := loadConfig()
		if err != nil {
			return err
		}
		var cfg *pipeline.Config
		if _, statErr := os.Stat(pipeline.ConfigPath(root, specID)); statErr == nil {
			cfg, err = pipeline.LoadConfig(root, specID)
			if err != nil {
				return err
			}
		} else {
			cfg = pipeline.DefaultConfig(specID, defaultModel(appCfg))
		}

		var outcome string
		sink := app.SinkFunc(func(ev app.Event) {
			switch e := ev.(type) {
			case app.PipelineConfigurationSaved:
				outcome = fmt.Sprintf("Saved pipeline configuration: %s", e.Path)
			case app.PipelineConfigurationCancelled:
				outcome = "Configuration cancelled; nothing saved."
			}
		})

		conf := pipeline.NewConfigurator(cfg, root, sink)
		if _, err := tea.NewProgram(conf).Run(); err != nil {
			return fmt.Errorf("configurator failed: %w", err)
		}
		if outcome != "" {
			fmt.Println(outcome)
		}
		return nil
	},
}
