package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofix/internal/scheduler"
)

type fixOptions struct {
	maxRetries int
	sequential bool
	batchID    string
	format     string
	issues     issueFlags
}

func newFixCmd(root *rootOptions) *cobra.Command {
	opts := &fixOptions{}
	cmd := &cobra.Command{
		Use:   "fix <issues-file>",
		Short: "Fix a batch of issues in this process",
		Long: `Fix runs every issue in the issues file (YAML or JSON) through the
registered strategies and prints the batch report.

The command exits non-zero unless the batch status is "completed".

Examples:
  # Fix issues with the configured retry budget
  autofix fix issues.yaml

  # One issue at a time, no retries
  autofix fix --sequential --max-retries 0 issues.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFix(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", -1, "extra passes over the strategies (default from config)")
	cmd.Flags().BoolVar(&opts.sequential, "sequential", false, "process issues one at a time")
	cmd.Flags().StringVar(&opts.batchID, "batch-id", "", "batch identifier (generated when empty)")
	cmd.Flags().StringVarP(&opts.format, "output", "o", formatJSON, "report format: json or yaml")
	opts.issues.register(cmd)
	return cmd
}

func runFix(cmd *cobra.Command, root *rootOptions, opts *fixOptions, path string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, root.configPath)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	issues, err := a.loadIssues(ctx, path, &opts.issues)
	if err != nil {
		return err
	}

	sched, err := a.scheduler()
	if err != nil {
		return err
	}

	bo := a.batchOptions()
	bo.BatchID = opts.batchID
	if opts.maxRetries >= 0 {
		bo.MaxRetries = opts.maxRetries
	}
	if opts.sequential {
		bo.Parallel = false
	}

	report := sched.ProcessBatch(ctx, issues, bo)
	a.logger.Info(ctx, "batch finished",
		zap.String("batch.id", report.BatchID),
		zap.String("status", string(report.Status)),
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))

	if err := writeOutput(cmd.OutOrStdout(), opts.format, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if report.Status != scheduler.StatusCompleted {
		return fmt.Errorf("batch %s %s: %w", report.BatchID, report.Status, errIncomplete)
	}
	return nil
}
