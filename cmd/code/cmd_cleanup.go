package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codexkit/internal/evidence"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Archive and purge aged evidence files",
	Long: `Runs the evidence lifecycle over .codex/evidence/: files older than
the archive threshold are packed into per-SPEC tarballs, files past the
purge threshold are deleted, and in-progress SPECs are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		appCfg, err := loadConfig()
		if err != nil {
			return err
		}

		base := appCfg.Evidence.Base
		if base == "" {
			base = filepath.Join(resolveWorkspace(), ".codex", "evidence")
		}
		cfg := evidence.DefaultConfig(base)
		cfg.ArchiveAfterDays = appCfg.Evidence.ArchiveAfterDays
		cfg.PurgeAfterDays = appCfg.Evidence.PurgeAfterDays
		cfg.WarningMB = appCfg.Evidence.WarningMB
		cfg.HardMB = appCfg.Evidence.HardMB
		cfg.Enabled = appCfg.Evidence.Enabled
		cfg.DryRun = cleanupDryRun || appCfg.Evidence.DryRun

		summary := evidence.NewCleaner(cfg).RunDailyCleanup(ctx)

		prefix := ""
		if summary.DryRun {
			prefix = "[dry-run] "
		}
		fmt.Printf("%sArchived %d file(s), purged %d file(s), reclaimed %s\n",
			prefix, summary.FilesArchived, summary.FilesPurged, humanBytes(summary.SpaceReclaimed))
		if len(summary.ExemptedSpecs) > 0 {
			fmt.Printf("In progress (skipped): %s\n", strings.Join(summary.ExemptedSpecs, ", "))
		}
		for _, w := range summary.Warnings {
			fmt.Println("warning: " + w)
		}
		for _, e := range summary.Errors {
			fmt.Println("error: " + e)
		}
		if summary.AutomationBlocked {
			return fmt.Errorf("evidence directory is over the hard size limit; automation blocked")
		}

		logger.Info("cleanup complete",
			zap.Int("archived", summary.FilesArchived),
			zap.Int("purged", summary.FilesPurged),
			zap.Int64("reclaimed_bytes", summary.SpaceReclaimed),
			zap.Bool("dry_run", summary.DryRun))
		return nil
	},
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report what would change without touching disk")
}
