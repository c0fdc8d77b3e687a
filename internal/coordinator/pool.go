package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/autofix/internal/backend"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCount is returned for a spawn request with a non-positive count.
	ErrInvalidCount = errors.New("worker count must be positive")
	// ErrPoolExhausted is returned when a spawn would exceed the worker limit.
	ErrPoolExhausted = errors.New("worker pool exhausted")
	// ErrUnknownWorker is returned when a batch names a worker that was never spawned.
	ErrUnknownWorker = errors.New("unknown worker")
)

// Worker is a spawned worker slot.
type Worker struct {
	ID        string
	Kind      string
	CreatedAt time.Time
}

// PoolConfig bounds a Pool.
type PoolConfig struct {
	// MaxConcurrency is the number of tasks running at once across batches.
	MaxConcurrency int
	// MaxWorkers caps the number of open workers.
	MaxWorkers int
	// DefaultBatchTimeout applies when a batch does not set one.
	DefaultBatchTimeout time.Duration
	// CleanupWait is the grace period after a batch timeout.
	CleanupWait time.Duration
}

// taskResult is a result tagged with the task's submission index.
type taskResult struct {
	index int
	res   backend.WorkResult
}

// Pool tracks workers and runs batches.
type Pool struct {
	cfg     PoolConfig
	handler backend.TaskHandler
	sem     chan struct{}
	logger  *zap.Logger

	mu      sync.Mutex
	workers map[string]Worker
}

// NewPool creates a Pool running tasks through handler.
func NewPool(cfg PoolConfig, handler backend.TaskHandler, logger *zap.Logger) (*Pool, error) {
	if handler == nil {
		return nil, errors.New("task handler is required")
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("max concurrency must be positive, got %d", cfg.MaxConcurrency)
	}
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("max workers must be positive, got %d", cfg.MaxWorkers)
	}
	if cfg.DefaultBatchTimeout <= 0 {
		cfg.DefaultBatchTimeout = 300 * time.Second
	}
	if cfg.CleanupWait < 0 {
		cfg.CleanupWait = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:     cfg,
		handler: handler,
		sem:     make(chan struct{}, cfg.MaxConcurrency),
		logger:  logger,
		workers: make(map[string]Worker),
	}, nil
}

// Spawn opens count workers of kind.
func (p *Pool) Spawn(kind string, count int) ([]string, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers)+count > p.cfg.MaxWorkers {
		return nil, fmt.Errorf("%w: %d open, %d requested, limit %d", ErrPoolExhausted, len(p.workers), count, p.cfg.MaxWorkers)
	}

	ids := make([]string, 0, count)
	now := time.Now()
	for i := 0; i < count; i++ {
		w := Worker{ID: "worker-" + uuid.NewString(), Kind: kind, CreatedAt: now}
		p.workers[w.ID] = w
		ids = append(ids, w.ID)
	}
	WorkersOpen.Set(float64(len(p.workers)))
	return ids, nil
}

// Close releases workers and returns how many were open.
func (p *Pool) Close(ids []string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	closed := 0
	for _, id := range ids {
		if _, ok := p.workers[id]; ok {
			delete(p.workers, id)
			closed++
		}
	}
	WorkersOpen.Set(float64(len(p.workers)))
	return closed
}

// Len returns the number of open workers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// RunBatch executes the tasks of req concurrently and returns the results of
// the tasks that finished, in submission order.
func (p *Pool) RunBatch(ctx context.Context, req backend.BatchRequest) ([]backend.WorkResult, error) {
	if len(req.Tasks) == 0 {
		return []backend.WorkResult{}, nil
	}
	if len(req.WorkerIDs) == 0 {
		return nil, backend.ErrNoWorkers
	}
	if err := p.checkWorkers(req.WorkerIDs); err != nil {
		return nil, err
	}

	timeout := p.cfg.DefaultBatchTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()
	done := make(chan taskResult, len(req.Tasks))

	for i, task := range req.Tasks {
		worker := req.Assignments[task.TaskID]
		if worker == "" {
			worker = req.WorkerIDs[i%len(req.WorkerIDs)]
		}
		go func() {
			select {
			case p.sem <- struct{}{}:
			case <-taskCtx.Done():
				return
			}
			defer func() { <-p.sem }()
			done <- taskResult{index: i, res: p.run(taskCtx, worker, task)}
		}()
	}

	collected := make([]taskResult, 0, len(req.Tasks))
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

collect:
	for len(collected) < len(req.Tasks) {
		select {
		case r := <-done:
			collected = append(collected, r)
		case <-deadline.C:
			p.logger.Warn("batch timed out, waiting for running tasks",
				zap.Duration("timeout", timeout),
				zap.Duration("cleanup_wait", p.cfg.CleanupWait),
				zap.Int("finished", len(collected)),
				zap.Int("tasks", len(req.Tasks)),
			)
			cancelTasks()
			break collect
		case <-ctx.Done():
			cancelTasks()
			break collect
		}
	}

	if len(collected) < len(req.Tasks) {
		collected = p.drain(done, collected, len(req.Tasks))
	}

	sort.Slice(collected, func(a, b int) bool { return collected[a].index < collected[b].index })
	results := make([]backend.WorkResult, len(collected))
	for k, r := range collected {
		results[k] = r.res
		if r.res.Success {
			TasksTotal.WithLabelValues("success").Inc()
		} else {
			TasksTotal.WithLabelValues("failure").Inc()
		}
	}
	if omitted := len(req.Tasks) - len(results); omitted > 0 {
		TasksTotal.WithLabelValues("omitted").Add(float64(omitted))
		p.logger.Warn("omitting unfinished tasks", zap.Int("omitted", omitted))
	}
	return results, nil
}

// drain collects results for up to the cleanup wait.
func (p *Pool) drain(done <-chan taskResult, collected []taskResult, total int) []taskResult {
	wait := time.NewTimer(p.cfg.CleanupWait)
	defer wait.Stop()
	for len(collected) < total {
		select {
		case r := <-done:
			collected = append(collected, r)
		case <-wait.C:
			return collected
		}
	}
	return collected
}

func (p *Pool) checkWorkers(ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if _, ok := p.workers[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
		}
	}
	return nil
}

func (p *Pool) run(ctx context.Context, worker string, task backend.WorkItem) (res backend.WorkResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task handler panicked", zap.String("task_id", task.TaskID), zap.Any("panic", r))
			res = backend.Failure(task.TaskID, worker, fmt.Sprintf("task handler panicked: %v", r))
		}
		res.TaskID = task.TaskID
		res.WorkerID = worker
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
	}()
	return p.handler(ctx, task)
}
