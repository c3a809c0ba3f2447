package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"codexkit/internal/spec"
)

var newCmd = &cobra.Command{
	Use:   "new [description...]",
	Short: "Create a new SPEC from a short description",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := spec.Create(strings.Join(args, " "), resolveWorkspace())
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%s)\n", created.SpecID, created.Slug)
		fmt.Printf("  %s\n", created.Dir)
		return nil
	},
}
