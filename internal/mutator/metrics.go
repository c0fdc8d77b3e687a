package mutator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mutation outcomes used as the "result" label.
const (
	resultSuccess      = "success"
	resultUnchanged    = "unchanged"
	resultPrecondition = "precondition_failed"
	resultBackup       = "backup_failed"
	resultWrite        = "write_failed"
	resultValidation   = "validation_failed"
	resultSmoke        = "smoke_test_failed"
)

var (
	// MutationsTotal counts mutation calls by outcome.
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "mutator",
			Name:      "mutations_total",
			Help:      "Total number of transactional file mutations by outcome",
		},
		[]string{"result"},
	)

	// RollbacksTotal counts rollbacks. Labels: result (restored, failed)
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "mutator",
			Name:      "rollbacks_total",
			Help:      "Total number of rollbacks performed after a failed validation or smoke test",
		},
		[]string{"result"},
	)

	// BackupsPrunedTotal counts backup files removed by rotation.
	BackupsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "mutator",
			Name:      "backups_pruned_total",
			Help:      "Total number of backup files removed by rotation",
		},
	)
)

func recordMutation(result string) {
	MutationsTotal.WithLabelValues(result).Inc()
}

func recordRollback(ok bool) {
	if ok {
		RollbacksTotal.WithLabelValues("restored").Inc()
	} else {
		RollbacksTotal.WithLabelValues("failed").Inc()
	}
}
