package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkItemsDispatchedTotal counts work items handed to a backend.
	WorkItemsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "backend",
			Name:      "work_items_dispatched_total",
			Help:      "Total number of work items dispatched by backend mode",
		},
		[]string{"mode"},
	)

	// WorkResultsTotal counts work results. Labels: mode, result (success, failure, missing)
	WorkResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "backend",
			Name:      "work_results_total",
			Help:      "Total number of work results by backend mode and result",
		},
		[]string{"mode", "result"},
	)

	// RemoteRequestsTotal counts coordinator calls. Labels: path, result (ok, error)
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofix",
			Subsystem: "backend",
			Name:      "remote_requests_total",
			Help:      "Total number of requests to the remote coordinator by path and result",
		},
		[]string{"path", "result"},
	)
)

func recordResult(mode Mode, res WorkResult, missing bool) {
	switch {
	case missing:
		WorkResultsTotal.WithLabelValues(string(mode), "missing").Inc()
	case res.Success:
		WorkResultsTotal.WithLabelValues(string(mode), "success").Inc()
	default:
		WorkResultsTotal.WithLabelValues(string(mode), "failure").Inc()
	}
}
