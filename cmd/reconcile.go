// File: cmd/reconcile.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/internal/collector"
	"github.com/xkilldash9x/vulnsync-cli/internal/gateway"
	"github.com/xkilldash9x/vulnsync-cli/internal/normalize"
	"github.com/xkilldash9x/vulnsync-cli/internal/observability"
	"github.com/xkilldash9x/vulnsync-cli/internal/reconcile"
	"github.com/xkilldash9x/vulnsync-cli/internal/reporting"
	"github.com/xkilldash9x/vulnsync-cli/internal/titles"
)

// newReconcileCmd creates and configures the `reconcile` command.
func newReconcileCmd() *cobra.Command {
	var (
		input       string
		scope       string
		dryRun      bool
		forceUpdate bool
		concurrency int
		outputPath  string
		format      string
	)

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconciles a vulnerability report against GitHub tracking issues",
		Long: `Reads a scanner report (CSV or JSON), scores each repository in the
selected scope and creates, updates, closes or reopens the per-repository
tracking issue so the tracker matches the scan. Project-board status follows
the issue state. Use --dry-run to preview the mutations without applying
them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if scope == "" {
				scope = cfg.DefaultScope
			}
			if concurrency > 0 {
				cfg.Reconciler.Concurrency = concurrency
			}

			repositories, err := cfg.RepositoriesForScope(scope)
			if err != nil {
				return err
			}
			if len(repositories) == 0 {
				return fmt.Errorf("scope %q contains no repositories", scope)
			}

			template, err := titles.New(cfg.Issues.TitleFormat)
			if err != nil {
				return fmt.Errorf("invalid issues.title_format: %w", err)
			}

			alerts, err := collector.New(logger).Collect(input)
			if err != nil {
				return err
			}
			records := normalize.New(cfg.Reconciler, logger).Normalize(alerts)

			var gw gateway.Gateway
			gw, err = gateway.NewGitHubGateway(cfg.GitHub, logger)
			if err != nil {
				return err
			}
			if dryRun {
				gw = gateway.NewDryRunGateway(gw, logger)
			}

			runner := reconcile.NewRunner(cfg, gw, template, logger)
			summary, err := runner.Run(ctx, repositories, records, reconcile.Options{
				Scope:       scope,
				DryRun:      dryRun,
				ForceUpdate: forceUpdate,
			})
			if err != nil {
				return err
			}

			reporter, err := reporting.New(format, outputPath)
			if err != nil {
				return err
			}
			if err := reporter.Write(summary); err != nil {
				reporter.Close()
				return fmt.Errorf("writing run summary: %w", err)
			}
			if err := reporter.Close(); err != nil {
				return fmt.Errorf("closing run summary output: %w", err)
			}

			if summary.ExitCode() != 0 {
				logger.Warn("Run finished with repository failures",
					zap.Int("failures", summary.Failures))
				return errPartialFailure
			}
			return nil
		},
	}

	reconcileCmd.Flags().StringVarP(&input, "input", "i", "", "scanner report file or directory (required)")
	reconcileCmd.Flags().StringVar(&scope, "scope", "", "scope to reconcile (default from config)")
	reconcileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan mutations without applying them")
	reconcileCmd.Flags().BoolVar(&forceUpdate, "force-update", false, "rewrite owned issues even when content is unchanged")
	reconcileCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of repositories reconciled in parallel (default from config)")
	reconcileCmd.Flags().StringVarP(&outputPath, "output", "o", "", "run summary output path (default stdout)")
	reconcileCmd.Flags().StringVarP(&format, "format", "f", "text", "run summary format: text or json")
	_ = reconcileCmd.MarkFlagRequired("input")

	return reconcileCmd
}
