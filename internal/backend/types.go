package backend

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/autofix/internal/issue"
)

// Mode describes how a backend executes a batch.
type Mode string

const (
	// ModeParallel runs tasks concurrently on remote workers.
	ModeParallel Mode = "parallel"
	// ModeSequential runs tasks one at a time in-process.
	ModeSequential Mode = "sequential"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeParallel || m == ModeSequential
}

// WorkItem is one unit of work derived from an issue.
type WorkItem struct {
	TaskID          string            `json:"task_id" yaml:"task_id"`
	IssueType       issue.Type        `json:"issue_type" yaml:"issue_type"`
	FilePaths       []string          `json:"file_paths,omitempty" yaml:"file_paths,omitempty"`
	InstructionText string            `json:"instruction_text" yaml:"instruction_text"`
	Priority        int               `json:"priority" yaml:"priority"`
	Context         map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
}

// WorkResult is the outcome of one WorkItem.
type WorkResult struct {
	TaskID            string            `json:"task_id" yaml:"task_id"`
	WorkerID          string            `json:"worker_id" yaml:"worker_id"`
	Success           bool              `json:"success" yaml:"success"`
	FilesModified     []string          `json:"files_modified,omitempty" yaml:"files_modified,omitempty"`
	FixesAppliedCount int               `json:"fixes_applied_count" yaml:"fixes_applied_count"`
	Errors            []string          `json:"errors,omitempty" yaml:"errors,omitempty"`
	Duration          time.Duration     `json:"duration" yaml:"duration"`
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Failure builds an unsuccessful result for taskID.
func Failure(taskID, workerID string, errs ...string) WorkResult {
	return WorkResult{TaskID: taskID, WorkerID: workerID, Errors: errs}
}

// TaskHandler executes a single work item. Handlers report failure through
// the result; they must not panic.
type TaskHandler func(ctx context.Context, item WorkItem) WorkResult

// ExecutionBackend runs batches of work items on workers it owns.
type ExecutionBackend interface {
	// IsAvailable reports whether the backend can accept work.
	IsAvailable(ctx context.Context) bool
	// SpawnWorkers creates count workers of the given kind.
	SpawnWorkers(ctx context.Context, kind string, count int) ([]string, error)
	// ExecuteBatch runs tasks on workerIDs and returns results keyed by task id.
	ExecuteBatch(ctx context.Context, workerIDs []string, tasks []WorkItem) (map[string]WorkResult, error)
	// CloseWorkers releases workers.
	CloseWorkers(ctx context.Context, workerIDs []string) error
	// Mode reports how the backend executes.
	Mode() Mode
}
