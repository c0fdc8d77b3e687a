package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoWorkers is returned when a batch is submitted without workers.
var ErrNoWorkers = errors.New("no workers available")

const errNoHandler = "no task handler configured"

// LocalExecutor runs work items one at a time in the calling goroutine.
// Worker ids are bookkeeping only.
type LocalExecutor struct {
	handler TaskHandler
	logger  *zap.Logger

	mu      sync.Mutex
	next    int
	workers map[string]struct{}
}

// NewLocalExecutor creates a LocalExecutor. A nil handler reports every task
// as failed.
func NewLocalExecutor(handler TaskHandler, logger *zap.Logger) *LocalExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		handler = defaultHandler
	}
	return &LocalExecutor{
		handler: handler,
		logger:  logger.Named("local"),
		workers: make(map[string]struct{}),
	}
}

func defaultHandler(_ context.Context, item WorkItem) WorkResult {
	return Failure(item.TaskID, "", errNoHandler)
}

// IsAvailable implements ExecutionBackend. The local executor is always available.
func (l *LocalExecutor) IsAvailable(context.Context) bool { return true }

// Mode implements ExecutionBackend.
func (l *LocalExecutor) Mode() Mode { return ModeSequential }

// SpawnWorkers implements ExecutionBackend.
func (l *LocalExecutor) SpawnWorkers(_ context.Context, kind string, count int) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("spawn %d workers: count must be positive", count)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("local-worker-%d", l.next)
		l.next++
		l.workers[id] = struct{}{}
		ids = append(ids, id)
	}
	l.logger.Debug("spawned local workers", zap.String("kind", kind), zap.Strings("worker_ids", ids))
	return ids, nil
}

// ExecuteBatch implements ExecutionBackend. Tasks run in descending priority
// order; ties keep their submission order.
func (l *LocalExecutor) ExecuteBatch(ctx context.Context, workerIDs []string, tasks []WorkItem) (map[string]WorkResult, error) {
	results := make(map[string]WorkResult, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}
	if len(workerIDs) == 0 {
		return nil, ErrNoWorkers
	}

	ordered := append([]WorkItem(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })
	WorkItemsDispatchedTotal.WithLabelValues(string(ModeSequential)).Add(float64(len(ordered)))

	for i, task := range ordered {
		worker := workerIDs[i%len(workerIDs)]
		var res WorkResult
		if err := ctx.Err(); err != nil {
			res = Failure(task.TaskID, worker, err.Error())
		} else {
			res = l.run(ctx, worker, task)
		}
		recordResult(ModeSequential, res, false)
		results[task.TaskID] = res
	}
	return results, nil
}

func (l *LocalExecutor) run(ctx context.Context, worker string, task WorkItem) (res WorkResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task handler panicked", zap.String("task_id", task.TaskID), zap.Any("panic", r))
			res = Failure(task.TaskID, worker, fmt.Sprintf("task handler panicked: %v", r))
		}
		res.TaskID = task.TaskID
		res.WorkerID = worker
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
	}()
	return l.handler(ctx, task)
}

// CloseWorkers implements ExecutionBackend. Unknown ids are ignored.
func (l *LocalExecutor) CloseWorkers(_ context.Context, workerIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range workerIDs {
		delete(l.workers, id)
	}
	return nil
}

// Workers returns the number of open workers.
func (l *LocalExecutor) Workers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.workers)
}

var _ ExecutionBackend = (*LocalExecutor)(nil)
