package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofix/internal/backend"
	"github.com/fyrsmithlabs/autofix/internal/config"
	"github.com/fyrsmithlabs/autofix/internal/ignore"
	"github.com/fyrsmithlabs/autofix/internal/issue"
	"github.com/fyrsmithlabs/autofix/internal/logging"
	"github.com/fyrsmithlabs/autofix/internal/mutator"
	"github.com/fyrsmithlabs/autofix/internal/retry"
	"github.com/fyrsmithlabs/autofix/internal/scheduler"
	"github.com/fyrsmithlabs/autofix/internal/secrets"
	"github.com/fyrsmithlabs/autofix/internal/strategy"
	"github.com/fyrsmithlabs/autofix/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/autofix"

// app holds the dependencies shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

// newApp loads configuration and initializes logging and telemetry.
//
// Telemetry failures degrade to no-op providers; they never stop a run.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	logCfg.Output.OTEL = cfg.Telemetry.Enabled
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		logger.Warn(ctx, "telemetry disabled", zap.Error(err))
		tel = nil
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

// close flushes telemetry and the logger.
func (a *app) close(ctx context.Context) {
	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *app) zapLogger() *zap.Logger {
	return a.logger.Underlying()
}

func (a *app) secretScanner() (secrets.Scanner, error) {
	m := a.cfg.Mutator
	if m.SecretScanner == "gitleaks" {
		return secrets.NewGitleaks(m.SecretAllowList)
	}
	return secrets.NewDetector(secrets.DefaultRules(), m.SecretAllowList)
}

func (a *app) mutator() (*mutator.Mutator, error) {
	m := a.cfg.Mutator
	scanner, err := a.secretScanner()
	if err != nil {
		return nil, fmt.Errorf("secret scanner: %w", err)
	}
	linters := mutator.DefaultLinters(scanner, m.LintCommand, m.LintTimeout.Duration(), mutator.ExecRunner{})
	return mutator.New(mutator.Config{
		MaxBackups:       m.MaxBackups,
		SmokeTestTimeout: m.SmokeTestTimeout.Duration(),
		SmokeTestDir:     m.SmokeTestDir,
	}, a.zapLogger().Named("mutator"), mutator.WithLinters(linters...)), nil
}

func (a *app) scheduler() (*scheduler.Scheduler, error) {
	mut, err := a.mutator()
	if err != nil {
		return nil, err
	}
	set, err := strategy.DefaultRegistry().Resolve(strategy.Deps{
		Mutator:          mut,
		Logger:           a.zapLogger().Named("strategy"),
		SmokeTestCommand: a.cfg.Scheduler.SmokeTestCommand,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve strategies: %w", err)
	}
	return scheduler.New(set, a.logger.Named("scheduler"),
		scheduler.WithTracer(a.telemetry.Tracer(instrumentationName))), nil
}

func (a *app) batchOptions() scheduler.BatchOptions {
	return scheduler.BatchOptions{
		MaxRetries: a.cfg.Scheduler.MaxRetries,
		Parallel:   !a.cfg.Scheduler.Sequential,
	}
}

func (a *app) retryPolicy() retry.Policy {
	r := a.cfg.Backend.Retry
	return retry.Policy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay.Duration(),
		Multiplier:   r.Multiplier,
		MaxDelay:     r.MaxDelay.Duration(),
		Jitter:       !r.NoJitter,
		Logger:       a.zapLogger().Named("retry"),
	}
}

// selector builds the backend selector. The local executor runs tasks
// through handler; the remote pool is only configured when an endpoint is set.
func (a *app) selector(handler backend.TaskHandler) (*backend.Selector, error) {
	b := a.cfg.Backend
	local := backend.NewLocalExecutor(handler, a.zapLogger().Named("local"))

	var remote backend.ExecutionBackend
	if b.Remote.Endpoint != "" {
		rc := backend.RemoteConfig{
			Endpoint:                 b.Remote.Endpoint,
			Token:                    b.Remote.Token.Value(),
			ProbeTimeout:             b.Remote.ProbeTimeout.Duration(),
			RequestTimeout:           b.Remote.RequestTimeout.Duration(),
			BatchTimeout:             b.Remote.BatchTimeout.Duration(),
			RateLimit:                b.Remote.RateLimit,
			Burst:                    b.Remote.Burst,
			OptimisticMissingResults: b.Remote.OptimisticMissingResults,
			Retry:                    a.retryPolicy(),
		}
		pool, err := backend.NewRemotePool(rc, a.zapLogger().Named("remote"))
		if err != nil {
			return nil, fmt.Errorf("remote pool: %w", err)
		}
		remote = pool
	} else if b.Mode == string(backend.ModeParallel) {
		a.logger.Info(context.Background(), "no remote endpoint configured, using local executor")
	}

	return backend.NewSelector(backend.SelectorConfig{
		PreferParallel: b.Mode == string(backend.ModeParallel) && remote != nil,
		WorkerKind:     b.WorkerKind,
		Workers:        b.Workers,
	}, remote, local, a.zapLogger(), backend.WithMeter(a.telemetry.Meter(instrumentationName))), nil
}

// errIncomplete marks a run that finished but did not fix everything.
var errIncomplete = errors.New("not all issues were fixed")

// issueFlags selects which issues of an issues file are processed.
type issueFlags struct {
	ignoreRoot string
	noIgnore   bool
}

func (f *issueFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ignoreRoot, "ignore-root", ".", "directory holding the "+ignore.FileName+" file")
	cmd.Flags().BoolVar(&f.noIgnore, "no-ignore", false, "process issues in ignored files too")
}

// loadIssues reads the issues file and drops issues whose file is ignored.
func (a *app) loadIssues(ctx context.Context, path string, f *issueFlags) ([]issue.Issue, error) {
	issues, err := issue.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if f.noIgnore {
		return issues, nil
	}
	m, err := ignore.Load(f.ignoreRoot)
	if err != nil {
		return nil, fmt.Errorf("load ignore file: %w", err)
	}
	kept := issues[:0]
	for _, is := range issues {
		if m.Match(is.FilePath) {
			a.logger.Info(ctx, "skipping issue in ignored file",
				zap.String("issue.id", is.ID), zap.String("path", is.FilePath))
			continue
		}
		kept = append(kept, is)
	}
	return kept, nil
}
