package scheduler

import (
	"time"

	"github.com/fyrsmithlabs/autofix/internal/issue"
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	StatusPending    BatchStatus = "pending"
	StatusInProgress BatchStatus = "in_progress"
	StatusCompleted  BatchStatus = "completed"
	StatusFailed     BatchStatus = "failed"
	StatusPartial    BatchStatus = "partial"
)

const (
	// ConfidenceThreshold is the minimum confidence a strategy must report
	// before it is applied.
	ConfidenceThreshold = 0.7

	// DefaultMaxRetries is the number of extra passes after the first.
	DefaultMaxRetries = 2

	errExhausted = "no strategy could fix this issue"
)

// BatchOptions control a single ProcessBatch call.
type BatchOptions struct {
	// BatchID identifies the batch in logs and reports. Generated when empty.
	BatchID string
	// MaxRetries is the number of extra passes over the candidates.
	MaxRetries int
	// Parallel runs issues concurrently when the batch has more than one.
	Parallel bool
}

// DefaultBatchOptions returns parallel execution with two retries.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{MaxRetries: DefaultMaxRetries, Parallel: true}
}

// IssueAttemptRecord is the outcome of running one issue through the protocol.
type IssueAttemptRecord struct {
	Issue         issue.Issue `json:"issue" yaml:"issue"`
	Success       bool        `json:"success" yaml:"success"`
	Confidence    float64     `json:"confidence" yaml:"confidence"`
	Attempted     bool        `json:"attempted" yaml:"attempted"`
	Error         string      `json:"error,omitempty" yaml:"error,omitempty"`
	FilesModified []string    `json:"files_modified,omitempty" yaml:"files_modified,omitempty"`
	RetryCount    int         `json:"retry_count" yaml:"retry_count"`
	StrategyUsed  string      `json:"strategy_used,omitempty" yaml:"strategy_used,omitempty"`
}

// BatchReport aggregates the records of a batch.
type BatchReport struct {
	BatchID     string               `json:"batch_id" yaml:"batch_id"`
	Status      BatchStatus          `json:"status" yaml:"status"`
	Total       int                  `json:"total" yaml:"total"`
	Successful  int                  `json:"successful" yaml:"successful"`
	Failed      int                  `json:"failed" yaml:"failed"`
	Skipped     int                  `json:"skipped" yaml:"skipped"`
	SuccessRate float64              `json:"success_rate" yaml:"success_rate"`
	Results     []IssueAttemptRecord `json:"results" yaml:"results"`
	StartTime   time.Time            `json:"start_time" yaml:"start_time"`
	EndTime     time.Time            `json:"end_time" yaml:"end_time"`
	Duration    time.Duration        `json:"duration" yaml:"duration"`
}

// aggregate fills the counters and status from Results.
func (r *BatchReport) aggregate() {
	r.Total = len(r.Results)
	r.Successful, r.Failed, r.Skipped = 0, 0, 0
	for _, rec := range r.Results {
		switch {
		case rec.Success:
			r.Successful++
		case !rec.Attempted:
			r.Skipped++
		default:
			r.Failed++
		}
	}

	r.SuccessRate = 0
	if r.Total > 0 {
		r.SuccessRate = float64(r.Successful) / float64(r.Total)
	}

	switch {
	case r.Successful == r.Total:
		r.Status = StatusCompleted
	case r.Successful > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusFailed
	}
}
