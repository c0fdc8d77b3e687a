package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkersOpen is the number of open workers.
	WorkersOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "autofix",
			Subsystem: "coordinator",
			Name:      "workers_open",
			Help:      "Number of currently open workers",
		},
	)

	// BatchesTotal counts batch requests. Labels: result (ok, rejected)
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "coordinator",
			Name:      "batches_total",
			Help:      "Total number of batch requests by result",
		},
		[]string{"result"},
	)

	// TasksTotal counts tasks. Labels: result (success, failure, omitted)
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "coordinator",
			Name:      "tasks_total",
			Help:      "Total number of tasks by result, including tasks omitted after a batch timeout",
		},
		[]string{"result"},
	)
)
