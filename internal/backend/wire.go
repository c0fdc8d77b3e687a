package backend

// HTTP paths served by the coordinator.
const (
	PathHealth  = "/health"
	PathSpawn   = "/api/v1/workers/spawn"
	PathBatches = "/api/v1/batches"
	PathClose   = "/api/v1/workers/close"
	PathMetrics = "/metrics"
)

// SpawnRequest asks the coordinator for count workers of kind.
type SpawnRequest struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// SpawnResponse lists the spawned worker ids.
type SpawnResponse struct {
	WorkerIDs []string `json:"worker_ids"`
}

// BatchRequest submits tasks with their worker assignments.
type BatchRequest struct {
	WorkerIDs      []string          `json:"worker_ids"`
	Tasks          []WorkItem        `json:"tasks"`
	Assignments    map[string]string `json:"assignments,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// BatchResponse carries results for the tasks that finished.
type BatchResponse struct {
	Results []WorkResult `json:"results"`
}

// CloseRequest releases workers.
type CloseRequest struct {
	WorkerIDs []string `json:"worker_ids"`
}

// CloseResponse reports how many workers were released.
type CloseResponse struct {
	Closed int `json:"closed"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
}

// ErrorResponse is the body of every non-2xx coordinator reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
