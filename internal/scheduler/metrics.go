package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Issue outcomes used as the "outcome" label.
const (
	outcomeFixed   = "fixed"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

var (
	// IssuesTotal counts processed issues by outcome.
	IssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "scheduler",
			Name:      "issues_total",
			Help:      "Total number of issues processed by outcome",
		},
		[]string{"outcome"},
	)

	// StrategyAttemptsTotal counts strategy applications. Labels: strategy, result (success, failure, error)
	StrategyAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "scheduler",
			Name:      "strategy_attempts_total",
			Help:      "Total number of strategy applications by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	// BatchDuration observes batch wall time by final status.
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autofix",
			Subsystem: "scheduler",
			Name:      "batch_duration_seconds",
			Help:      "Batch processing duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)
)

func recordIssue(rec IssueAttemptRecord) {
	switch {
	case rec.Success:
		IssuesTotal.WithLabelValues(outcomeFixed).Inc()
	case !rec.Attempted:
		IssuesTotal.WithLabelValues(outcomeSkipped).Inc()
	default:
		IssuesTotal.WithLabelValues(outcomeFailed).Inc()
	}
}

func recordAttempt(strategy, result string) {
	StrategyAttemptsTotal.WithLabelValues(strategy, result).Inc()
}
