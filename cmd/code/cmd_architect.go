package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codexkit/internal/architect"
)

var (
	architectForce          bool
	architectYes            bool
	architectSkipGit        bool
	architectSkipComplexity bool
	architectSkipSkeleton   bool
	architectLegacy         bool
)

var architectCmd = &cobra.Command{
	Use:   "architect",
	Short: "Repository analysis vault (ingest artifacts, cached answers, audits)",
}

var architectRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the ingest artifacts (churn matrix, complexity map, skeleton)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		v, err := vaultOrInit()
		if err != nil {
			return err
		}
		opts := architect.RefreshOptions{
			SkipGit:        architectSkipGit,
			SkipComplexity: architectSkipComplexity,
			SkipSkeleton:   architectSkipSkeleton,
			Legacy:         architectLegacy,
		}
		if err := v.Refresh(ctx, opts); err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		logger.Info("vault refreshed", zap.String("root", v.Root))
		fmt.Printf("Vault refreshed: %s\n", v.Dir)
		return nil
	},
}

var architectAskCmd = &cobra.Command{
	Use:   "ask [query...]",
	Short: "Answer a repository question, using the answers cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		v, err := architect.FindVault(resolveWorkspace())
		if err != nil {
			return fmt.Errorf("no architect vault found; run 'code architect refresh' first")
		}
		res, err := v.Ask(ctx, strings.Join(args, " "), architectForce || architectYes)
		if err != nil {
			return err
		}
		if res.Notice != "" {
			fmt.Println(res.Notice)
			return nil
		}
		if res.FromCache {
			fmt.Fprintf(os.Stderr, "(cached: %s)\n", res.Path)
		}
		fmt.Print(architect.Render(res.Body))
		return nil
	},
}

var architectAuditCmd = &cobra.Command{
	Use:   "audit [package]",
	Short: "Audit one package, caching the result under audits/",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		v, err := architect.FindVault(resolveWorkspace())
		if err != nil {
			return fmt.Errorf("no architect vault found; run 'code architect refresh' first")
		}
		res, err := v.Audit(ctx, args[0], architectForce || architectYes)
		if err != nil {
			return err
		}
		if res.Notice != "" {
			fmt.Println(res.Notice)
			return nil
		}
		fmt.Print(architect.Render(res.Body))
		return nil
	},
}

var architectStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault freshness and recent cached answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := architect.FindVault(resolveWorkspace())
		if err != nil {
			fmt.Println("Vault: NOT INITIALIZED")
			return nil
		}
		fmt.Printf("Vault:     %s\n", v.Dir)
		fmt.Printf("Freshness: %s\n", v.Freshness())
		if hash, ok := v.StoredHash(); ok {
			fmt.Printf("Head:      %s\n", hash)
		}
		answers := v.RecentAnswers(5)
		if len(answers) > 0 {
			fmt.Println("\nRecent answers:")
			for _, a := range answers {
				fmt.Printf("  %s  (%s)\n", a.Name, a.Modified.Format("2006-01-02 15:04"))
			}
		}
		audits := v.RecentAudits(5)
		if len(audits) > 0 {
			fmt.Println("\nRecent audits:")
			for _, a := range audits {
				fmt.Printf("  %s  (%s)\n", a.Name, a.Modified.Format("2006-01-02 15:04"))
			}
		}
		return nil
	},
}

var architectClearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete all cached answers and audits",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := architect.FindVault(resolveWorkspace())
		if err != nil {
			return fmt.Errorf("no architect vault found")
		}
		if !architectYes {
			fmt.Print("Delete all cached answers and audits? [y/N] ")
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}
		n, err := v.ClearCache()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d cached file(s)\n", n)
		return nil
	},
}

// vaultOrInit finds the vault above the workspace or creates one at the
// workspace root.
func vaultOrInit() (*architect.Vault, error) {
	ws := resolveWorkspace()
	if v, err := architect.FindVault(ws); err == nil {
		return v, nil
	}
	return architect.InitVault(ws)
}

func init() {
	architectCmd.PersistentFlags().BoolVarP(&architectYes, "yes", "y", false, "Skip confirmation prompts and cached results")
	architectAskCmd.Flags().BoolVarP(&architectForce, "force", "f", false, "Bypass the answer cache")
	architectAuditCmd.Flags().BoolVarP(&architectForce, "force", "f", false, "Bypass the audit cache")
	architectRefreshCmd.Flags().BoolVar(&architectSkipGit, "skip-git", false, "Skip the churn matrix")
	architectRefreshCmd.Flags().BoolVar(&architectSkipComplexity, "skip-complexity", false, "Skip the complexity map")
	architectRefreshCmd.Flags().BoolVar(&architectSkipSkeleton, "skip-skeleton", false, "Skip the repository skeleton")
	architectRefreshCmd.Flags().BoolVar(&architectLegacy, "legacy", false, "Write legacy-layout artifacts")

	architectCmd.AddCommand(architectRefreshCmd)
	architectCmd.AddCommand(architectAskCmd)
	architectCmd.AddCommand(architectAuditCmd)
	architectCmd.AddCommand(architectStatusCmd)
	architectCmd.AddCommand(architectClearCacheCmd)
}
