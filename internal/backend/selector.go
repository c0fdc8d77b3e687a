package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/autofix/internal/issue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// instrumentationName names the backend meter.
const instrumentationName = "github.com/fyrsmithlabs/autofix/internal/backend"

// DefaultWorkerKind is the worker kind requested when none is configured.
const DefaultWorkerKind = "fixer"

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	// PreferParallel tries the remote pool before the local executor.
	PreferParallel bool
	WorkerKind     string
	Workers        int
}

// Selector chooses a backend at Initialize and owns its workers.
//
// The only backend change after Initialize is the failover from the remote
// pool to the local executor when remote spawning fails.
type Selector struct {
	cfg       SelectorConfig
	remote    ExecutionBackend
	local     ExecutionBackend
	logger    *zap.Logger
	failovers metric.Int64Counter

	mu          sync.Mutex
	active      ExecutionBackend
	workers     []string
	initialized bool
	closed      bool

	// inflight counts ExecuteFixes calls past the closed check.
	inflight sync.WaitGroup
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithMeter records failovers on m instead of the global meter.
func WithMeter(m metric.Meter) SelectorOption {
	return func(s *Selector) { s.failovers = newFailoverCounter(m) }
}

// NewSelector creates a Selector. remote may be nil, in which case the
// local executor is always used. A nil local gets a LocalExecutor without a
// handler.
func NewSelector(cfg SelectorConfig, remote, local ExecutionBackend, logger *zap.Logger, opts ...SelectorOption) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkerKind == "" {
		cfg.WorkerKind = DefaultWorkerKind
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if local == nil {
		local = NewLocalExecutor(nil, logger)
	}
	s := &Selector{
		cfg:    cfg,
		remote: remote,
		local:  local,
		logger: logger.Named("selector"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.failovers == nil {
		s.failovers = newFailoverCounter(otel.Meter(instrumentationName))
	}
	return s
}

func newFailoverCounter(m metric.Meter) metric.Int64Counter {
	c, err := m.Int64Counter(
		"autofix.backend.failover.total",
		metric.WithDescription("Total number of failovers from the remote pool to the local executor"),
		metric.WithUnit("{failover}"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return c
}

// Initialize selects the backend and spawns its workers. Calling it again
// after success is a no-op.
func (s *Selector) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(ctx)
}

func (s *Selector) initializeLocked(ctx context.Context) error {
	if s.initialized {
		return nil
	}

	active := s.local
	switch {
	case !s.cfg.PreferParallel:
		s.logger.Info("using sequential backend")
	case s.remote != nil && s.remote.IsAvailable(ctx):
		active = s.remote
		s.logger.Info("using remote parallel backend")
	default:
		s.logger.Info("remote backend unavailable, using sequential backend")
	}

	ids, err := active.SpawnWorkers(ctx, s.cfg.WorkerKind, s.cfg.Workers)
	if active == s.remote && (err != nil || len(ids) == 0) {
		s.logger.Info("remote spawn failed, falling back to sequential backend", zap.Error(err))
		if s.failovers != nil {
			s.failovers.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "spawn_failed")))
		}
		active = s.local
		ids, err = active.SpawnWorkers(ctx, s.cfg.WorkerKind, 1)
	}
	if err != nil {
		return fmt.Errorf("spawn workers: %w", err)
	}
	if len(ids) == 0 {
		return ErrNoWorkers
	}

	s.active = active
	s.workers = ids
	s.initialized = true
	s.logger.Info("backend initialized",
		zap.String("mode", string(active.Mode())),
		zap.Int("workers", len(ids)),
	)
	return nil
}

// ExecuteFixes runs one work item per issue and returns results in input
// order. It initializes the selector on first use. Tasks the backend never
// answered, and every task of a batch whose dispatch failed, are reported as
// failures.
func (s *Selector) ExecuteFixes(ctx context.Context, issues []issue.Issue) ([]WorkResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("execute fixes: selector is shut down")
	}
	if err := s.initializeLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	active, workers := s.active, append([]string(nil), s.workers...)
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	items := make([]WorkItem, len(issues))
	for i, is := range issues {
		items[i] = ItemFromIssue(i, is)
	}

	results, err := active.ExecuteBatch(ctx, workers, items)
	if err != nil {
		s.logger.Error("batch dispatch failed", zap.Int("tasks", len(items)), zap.Error(err))
	}

	out := make([]WorkResult, len(items))
	for i, item := range items {
		if err != nil {
			out[i] = Failure(item.TaskID, "", fmt.Sprintf("dispatch failed: %v", err))
			continue
		}
		res, ok := results[item.TaskID]
		if !ok {
			res = Failure(item.TaskID, "", "backend returned no result")
			res.Metadata = map[string]string{"status": "unknown"}
		}
		out[i] = res
	}
	return out, nil
}

// Shutdown closes the active backend's workers once in-flight ExecuteFixes
// calls have returned, or when ctx is done. It is idempotent.
func (s *Selector) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if !s.initialized {
		s.mu.Unlock()
		return nil
	}
	active, workers := s.active, s.workers
	s.workers = nil
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("closing workers with batches still in flight", zap.Error(ctx.Err()))
	}

	if err := active.CloseWorkers(context.WithoutCancel(ctx), workers); err != nil {
		return fmt.Errorf("shutdown %s backend: %w", active.Mode(), err)
	}
	s.logger.Info("backend shut down", zap.Int("workers", len(workers)))
	return nil
}

// Mode reports the active backend's mode, or the empty Mode before Initialize.
func (s *Selector) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.Mode()
}

// Active returns the selected backend, or nil before Initialize.
func (s *Selector) Active() ExecutionBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Workers returns the worker ids owned by the active backend.
func (s *Selector) Workers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.workers...)
}
