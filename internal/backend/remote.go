package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/autofix/internal/retry"
	"github.com/fyrsmithlabs/autofix/internal/secrets"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrSpawnFailed is returned when the coordinator cannot provide workers.
var ErrSpawnFailed = errors.New("remote spawn failed")

const (
	// DefaultProbeTimeout bounds the availability probe.
	DefaultProbeTimeout = 2 * time.Second
	// DefaultCleanupWait is the coordinator's grace period after a batch timeout.
	DefaultCleanupWait = 30 * time.Second

	maxResponseBytes = 16 << 20
	maxErrorBody     = 512

	errMissingResult = "no result returned by remote worker"
)

// RemoteConfig configures a RemotePool.
type RemoteConfig struct {
	// Endpoint is the coordinator base URL, e.g. http://127.0.0.1:8787.
	Endpoint string
	// Token is sent as a bearer token when non-empty.
	Token string

	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	// BatchTimeout is forwarded to the coordinator and bounds a batch call
	// together with the cleanup wait.
	BatchTimeout time.Duration

	// RateLimit is the request rate in requests per second. Zero disables pacing.
	RateLimit float64
	Burst     int

	// OptimisticMissingResults reports tasks absent from a batch response as
	// successful instead of failed.
	OptimisticMissingResults bool

	Retry retry.Policy
}

// DefaultRemoteConfig returns the defaults for endpoint.
func DefaultRemoteConfig(endpoint string) RemoteConfig {
	return RemoteConfig{
		Endpoint:       endpoint,
		ProbeTimeout:   DefaultProbeTimeout,
		RequestTimeout: 30 * time.Second,
		BatchTimeout:   300 * time.Second,
		RateLimit:      10,
		Burst:          5,
		Retry:          retry.DefaultPolicy(),
	}
}

// RemotePool dispatches work to a remote coordinator over HTTP.
type RemotePool struct {
	cfg      RemoteConfig
	base     *url.URL
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	redactor *secrets.Detector

	probeOnce sync.Once
	available bool
}

// RemoteOption configures a RemotePool.
type RemoteOption func(*RemotePool)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(p *RemotePool) { p.client = c }
}

// NewRemotePool creates a pool for cfg.Endpoint. No request is made until
// IsAvailable or another method is called.
func NewRemotePool(cfg RemoteConfig, logger *zap.Logger, opts ...RemoteOption) (*RemotePool, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("remote pool: endpoint is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote pool: parse endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote pool: endpoint scheme must be http or https, got %q", base.Scheme)
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("remote pool: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("remote")
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	p := &RemotePool{
		cfg:      cfg,
		base:     base,
		client:   &http.Client{},
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
		redactor: secrets.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Mode implements ExecutionBackend.
func (p *RemotePool) Mode() Mode { return ModeParallel }

// IsAvailable implements ExecutionBackend. The first call probes the health
// endpoint; the answer is cached for the lifetime of the pool.
func (p *RemotePool) IsAvailable(ctx context.Context) bool {
	p.probeOnce.Do(func() {
		pctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
		defer cancel()

		var health HealthResponse
		err := p.do(pctx, http.MethodGet, PathHealth, nil, &health)
		p.available = err == nil
		if err != nil {
			p.logger.Info("remote coordinator unreachable", zap.String("endpoint", p.base.String()), zap.Error(err))
			return
		}
		p.logger.Debug("remote coordinator reachable", zap.String("status", health.Status))
	})
	return p.available
}

// SpawnWorkers implements ExecutionBackend. It is not retried: any failure,
// including an empty worker list, is reported as ErrSpawnFailed so the
// caller can fail over.
func (p *RemotePool) SpawnWorkers(ctx context.Context, kind string, count int) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("spawn %d workers: count must be positive", count)
	}
	rctx, cancel := p.requestContext(ctx, 0)
	defer cancel()

	var resp SpawnResponse
	if err := p.do(rctx, http.MethodPost, PathSpawn, SpawnRequest{Kind: kind, Count: count}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	if len(resp.WorkerIDs) == 0 {
		return nil, fmt.Errorf("%w: coordinator returned no workers", ErrSpawnFailed)
	}
	p.logger.Info("spawned remote workers", zap.String("kind", kind), zap.Int("count", len(resp.WorkerIDs)))
	return resp.WorkerIDs, nil
}

// ExecuteBatch implements ExecutionBackend. Tasks are assigned to workers
// round-robin and submitted in one request.
func (p *RemotePool) ExecuteBatch(ctx context.Context, workerIDs []string, tasks []WorkItem) (map[string]WorkResult, error) {
	results := make(map[string]WorkResult, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}
	if len(workerIDs) == 0 {
		return nil, ErrNoWorkers
	}

	assignments := make(map[string]string, len(tasks))
	for i, task := range tasks {
		assignments[task.TaskID] = workerIDs[i%len(workerIDs)]
	}
	req := BatchRequest{
		WorkerIDs:      workerIDs,
		Tasks:          tasks,
		Assignments:    assignments,
		TimeoutSeconds: int(p.cfg.BatchTimeout / time.Second),
	}
	WorkItemsDispatchedTotal.WithLabelValues(string(ModeParallel)).Add(float64(len(tasks)))

	resp, err := retry.DoValue(ctx, p.cfg.Retry, func(ctx context.Context) (BatchResponse, error) {
		rctx, cancel := p.requestContext(ctx, p.cfg.BatchTimeout+DefaultCleanupWait)
		defer cancel()
		var resp BatchResponse
		err := p.do(rctx, http.MethodPost, PathBatches, req, &resp)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("execute batch: %w", err)
	}

	for _, res := range resp.Results {
		worker, ok := assignments[res.TaskID]
		if !ok {
			p.logger.Warn("ignoring result for unknown task", zap.String("task_id", res.TaskID))
			continue
		}
		if res.WorkerID == "" {
			res.WorkerID = worker
		}
		recordResult(ModeParallel, res, false)
		results[res.TaskID] = res
	}

	for _, task := range tasks {
		if _, ok := results[task.TaskID]; ok {
			continue
		}
		res := p.missingResult(task.TaskID, assignments[task.TaskID])
		recordResult(ModeParallel, res, true)
		results[task.TaskID] = res
	}
	return results, nil
}

// missingResult synthesizes the result of a task the coordinator never answered.
func (p *RemotePool) missingResult(taskID, worker string) WorkResult {
	if p.cfg.OptimisticMissingResults {
		p.logger.Warn("assuming success for missing remote result", zap.String("task_id", taskID))
		return WorkResult{
			TaskID:   taskID,
			WorkerID: worker,
			Success:  true,
			Metadata: map[string]string{"status": "assumed"},
		}
	}
	p.logger.Warn("remote result missing", zap.String("task_id", taskID), zap.String("worker_id", worker))
	res := Failure(taskID, worker, errMissingResult)
	res.Metadata = map[string]string{"status": "unknown"}
	return res
}

// CloseWorkers implements ExecutionBackend.
func (p *RemotePool) CloseWorkers(ctx context.Context, workerIDs []string) error {
	if len(workerIDs) == 0 {
		return nil
	}
	err := p.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		rctx, cancel := p.requestContext(ctx, 0)
		defer cancel()
		var resp CloseResponse
		return p.do(rctx, http.MethodPost, PathClose, CloseRequest{WorkerIDs: workerIDs}, &resp)
	})
	if err != nil {
		return fmt.Errorf("close workers: %w", err)
	}
	return nil
}

// requestContext bounds a single call by RequestTimeout, or by override when positive.
func (p *RemotePool) requestContext(ctx context.Context, override time.Duration) (context.Context, context.CancelFunc) {
	d := p.cfg.RequestTimeout
	if override > 0 {
		d = override
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// do performs one JSON request. Transport failures, 429 and 5xx responses
// are marked transient.
func (p *RemotePool) do(ctx context.Context, method, path string, in, out any) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		RemoteRequestsTotal.WithLabelValues(path, result).Inc()
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return retry.Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, p.errorText(data))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.Transient(statusErr)
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorText extracts a short, redacted message from an error body.
func (p *RemotePool) errorText(data []byte) string {
	var er ErrorResponse
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return p.redactor.Redact(msg)
}

var _ ExecutionBackend = (*RemotePool)(nil)
