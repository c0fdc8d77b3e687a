package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofix/internal/backend"
)

type swarmOptions struct {
	mode    string
	workers int
	format  string
	issues  issueFlags
}

// swarmReport is the output of the swarm command.
type swarmReport struct {
	Mode       backend.Mode         `json:"mode" yaml:"mode"`
	Workers    []string             `json:"workers" yaml:"workers"`
	Total      int                  `json:"total" yaml:"total"`
	Successful int                  `json:"successful" yaml:"successful"`
	Results    []backend.WorkResult `json:"results" yaml:"results"`
}

func newSwarmCmd(root *rootOptions) *cobra.Command {
	opts := &swarmOptions{}
	cmd := &cobra.Command{
		Use:   "swarm <issues-file>",
		Short: "Fix issues through the execution backends",
		Long: `Swarm converts each issue to a work item and dispatches the batch to a
worker pool. In parallel mode the remote coordinator configured under
backend.remote is tried first; when it cannot spawn workers the batch
falls back to a single local worker.

Examples:
  # Use the configured backend
  autofix swarm issues.yaml

  # Force the in-process executor
  autofix swarm --mode sequential issues.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwarm(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "", "backend mode: parallel or sequential (default from config)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "number of workers to spawn (default from config)")
	cmd.Flags().StringVarP(&opts.format, "output", "o", formatJSON, "report format: json or yaml")
	opts.issues.register(cmd)
	return cmd
}

func runSwarm(cmd *cobra.Command, root *rootOptions, opts *swarmOptions, path string) error {
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

	if opts.mode != "" {
		if !backend.Mode(opts.mode).Valid() {
			return fmt.Errorf("invalid mode %q", opts.mode)
		}
		a.cfg.Backend.Mode = opts.mode
	}
	if opts.workers > 0 {
		a.cfg.Backend.Workers = opts.workers
	}

	sched, err := a.scheduler()
	if err != nil {
		return err
	}
	sel, err := a.selector(sched.TaskHandler(a.cfg.Scheduler.MaxRetries))
	if err != nil {
		return err
	}
	defer func() {
		if err := sel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn(ctx, "failed to close workers", zap.Error(err))
		}
	}()

	results, err := sel.ExecuteFixes(ctx, issues)
	if err != nil {
		return err
	}

	report := swarmReport{
		Mode:    sel.Mode(),
		Workers: sel.Workers(),
		Total:   len(results),
		Results: results,
	}
	for _, r := range results {
		if r.Success {
			report.Successful++
		}
	}
	a.logger.Info(ctx, "swarm finished",
		zap.String("mode", string(report.Mode)),
		zap.Int("total", report.Total),
		zap.Int("successful", report.Successful))

	if err := writeOutput(cmd.OutOrStdout(), opts.format, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if report.Successful != report.Total {
		return fmt.Errorf("%d of %d tasks failed: %w", report.Total-report.Successful, report.Total, errIncomplete)
	}
	return nil
}
