package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofix/internal/coordinator"
)

type serveOptions struct {
	host string
	port int
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker coordinator",
		Long: `Serve starts the HTTP coordinator that remote swarm runs dispatch to.
Workers run tasks through the same strategies as "autofix fix".

The server shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "listen port (default from config)")
	return cmd
}

// runServe blocks until ctx is cancelled or the server fails.
func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	a, err := newApp(ctx, root.configPath)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	cc := a.cfg.Coordinator
	cfg := coordinator.Config{
		Host:  cc.Host,
		Port:  cc.Port,
		Token: cc.Token.Value(),
		Pool: coordinator.PoolConfig{
			MaxConcurrency:      cc.MaxConcurrency,
			MaxWorkers:          cc.MaxWorkers,
			DefaultBatchTimeout: cc.DefaultBatchTimeout.Duration(),
			CleanupWait:         cc.CleanupWait.Duration(),
		},
		ShutdownTimeout: cc.ShutdownTimeout.Duration(),
	}
	if opts.host != "" {
		cfg.Host = opts.host
	}
	if opts.port > 0 {
		cfg.Port = opts.port
	}
	if cfg.Token == "" {
		a.logger.Warn(ctx, "coordinator token not set, requests are unauthenticated")
	}

	sched, err := a.scheduler()
	if err != nil {
		return err
	}
	srv, err := coordinator.NewServer(cfg, sched.TaskHandler(a.cfg.Scheduler.MaxRetries), a.zapLogger().Named("coordinator"))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("coordinator: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info(ctx, "shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(ctx, "shutdown failed", zap.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("coordinator: %w", err)
	}
	return nil
}
