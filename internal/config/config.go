// Package config provides configuration loading for autofix.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging" json:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry" json:"telemetry"`
	Scheduler   SchedulerConfig   `koanf:"scheduler" json:"scheduler"`
	Mutator     MutatorConfig     `koanf:"mutator" json:"mutator"`
	Backend     BackendConfig     `koanf:"backend" json:"backend"`
	Coordinator CoordinatorConfig `koanf:"coordinator" json:"coordinator"`
}

// LoggingConfig selects level, encoding and sampling of the zap logger.
type LoggingConfig struct {
	Level    string `koanf:"level" json:"level"`
	Format   string `koanf:"format" json:"format"`
	Sampling bool   `koanf:"sampling" json:"sampling"`
	Caller   bool   `koanf:"caller" json:"caller"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled" json:"enabled"`
	Endpoint        string   `koanf:"endpoint" json:"endpoint"`
	Protocol        string   `koanf:"protocol" json:"protocol"`
	Insecure        bool     `koanf:"insecure" json:"insecure"`
	ServiceName     string   `koanf:"service_name" json:"service_name"`
	SamplingRate    float64  `koanf:"sampling_rate" json:"sampling_rate"`
	ExportInterval  Duration `koanf:"export_interval" json:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
}

// SchedulerConfig controls batch processing.
type SchedulerConfig struct {
	// MaxRetries is the number of extra passes over the candidate
	// strategies after the first one fails.
	MaxRetries int `koanf:"max_retries" json:"max_retries"`

	// Sequential disables the goroutine-per-issue fan-out.
	Sequential bool `koanf:"sequential" json:"sequential"`

	// SmokeTestCommand is passed to strategies for every mutation.
	SmokeTestCommand string `koanf:"smoke_test_command" json:"smoke_test_command"`
}

// MutatorConfig controls the transactional file mutator.
type MutatorConfig struct {
	MaxBackups       int      `koanf:"max_backups" json:"max_backups"`
	SmokeTestTimeout Duration `koanf:"smoke_test_timeout" json:"smoke_test_timeout"`
	SmokeTestDir     string   `koanf:"smoke_test_dir" json:"smoke_test_dir"`
	LintCommand      string   `koanf:"lint_command" json:"lint_command"`
	LintTimeout      Duration `koanf:"lint_timeout" json:"lint_timeout"`

	// SecretScanner is "rules" (built-in rule set) or "gitleaks".
	SecretScanner   string   `koanf:"secret_scanner" json:"secret_scanner"`
	SecretAllowList []string `koanf:"secret_allow_list" json:"secret_allow_list"`
}

// BackendConfig selects and configures the execution backend.
type BackendConfig struct {
	// Mode is "parallel" (prefer the remote pool) or "sequential".
	Mode       string       `koanf:"mode" json:"mode"`
	WorkerKind string       `koanf:"worker_kind" json:"worker_kind"`
	Workers    int          `koanf:"workers" json:"workers"`
	Remote     RemoteConfig `koanf:"remote" json:"remote"`
	Retry      RetryConfig  `koanf:"retry" json:"retry"`
}

// RemoteConfig configures the HTTP client of the remote worker pool.
type RemoteConfig struct {
	Endpoint       string   `koanf:"endpoint" json:"endpoint"`
	Token          Secret   `koanf:"token" json:"token"`
	ProbeTimeout   Duration `koanf:"probe_timeout" json:"probe_timeout"`
	RequestTimeout Duration `koanf:"request_timeout" json:"request_timeout"`
	BatchTimeout   Duration `koanf:"batch_timeout" json:"batch_timeout"`
	RateLimit      float64  `koanf:"rate_limit" json:"rate_limit"`
	Burst          int      `koanf:"burst" json:"burst"`

	// OptimisticMissingResults reports tasks absent from a batch response
	// as successful instead of failed.
	OptimisticMissingResults bool `koanf:"optimistic_missing_results" json:"optimistic_missing_results"`
}

// RetryConfig configures transport retries.
type RetryConfig struct {
	MaxAttempts  int      `koanf:"max_attempts" json:"max_attempts"`
	InitialDelay Duration `koanf:"initial_delay" json:"initial_delay"`
	Multiplier   float64  `koanf:"multiplier" json:"multiplier"`
	MaxDelay     Duration `koanf:"max_delay" json:"max_delay"`
	NoJitter     bool     `koanf:"no_jitter" json:"no_jitter"`
}

// CoordinatorConfig configures the coordination HTTP service.
type CoordinatorConfig struct {
	Host                string   `koanf:"host" json:"host"`
	Port                int      `koanf:"port" json:"port"`
	Token               Secret   `koanf:"token" json:"token"`
	MaxConcurrency      int      `koanf:"max_concurrency" json:"max_concurrency"`
	MaxWorkers          int      `koanf:"max_workers" json:"max_workers"`
	DefaultBatchTimeout Duration `koanf:"default_batch_timeout" json:"default_batch_timeout"`
	CleanupWait         Duration `koanf:"cleanup_wait" json:"cleanup_wait"`
	ShutdownTimeout     Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	// Telemetry
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "autofix"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}

	// Scheduler
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 2
	}

	// Mutator
	if cfg.Mutator.MaxBackups == 0 {
		cfg.Mutator.MaxBackups = 5
	}
	if cfg.Mutator.SmokeTestTimeout == 0 {
		cfg.Mutator.SmokeTestTimeout = Duration(300 * time.Second)
	}
	if cfg.Mutator.LintTimeout == 0 {
		cfg.Mutator.LintTimeout = Duration(60 * time.Second)
	}
	if cfg.Mutator.SecretScanner == "" {
		cfg.Mutator.SecretScanner = "rules"
	}

	// Backend
	if cfg.Backend.Mode == "" {
		cfg.Backend.Mode = "parallel"
	}
	if cfg.Backend.WorkerKind == "" {
		cfg.Backend.WorkerKind = "fixer"
	}
	if cfg.Backend.Workers == 0 {
		cfg.Backend.Workers = 4
	}
	if cfg.Backend.Remote.ProbeTimeout == 0 {
		cfg.Backend.Remote.ProbeTimeout = Duration(2 * time.Second)
	}
	if cfg.Backend.Remote.RequestTimeout == 0 {
		cfg.Backend.Remote.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Backend.Remote.BatchTimeout == 0 {
		cfg.Backend.Remote.BatchTimeout = Duration(300 * time.Second)
	}
	if cfg.Backend.Remote.RateLimit == 0 {
		cfg.Backend.Remote.RateLimit = 10
	}
	if cfg.Backend.Remote.Burst == 0 {
		cfg.Backend.Remote.Burst = 5
	}
	if cfg.Backend.Retry.MaxAttempts == 0 {
		cfg.Backend.Retry.MaxAttempts = 3
	}
	if cfg.Backend.Retry.InitialDelay == 0 {
		cfg.Backend.Retry.InitialDelay = Duration(500 * time.Millisecond)
	}
	if cfg.Backend.Retry.Multiplier == 0 {
		cfg.Backend.Retry.Multiplier = 2.0
	}
	if cfg.Backend.Retry.MaxDelay == 0 {
		cfg.Backend.Retry.MaxDelay = Duration(10 * time.Second)
	}

	// Coordinator
	if cfg.Coordinator.Host == "" {
		cfg.Coordinator.Host = "127.0.0.1"
	}
	if cfg.Coordinator.Port == 0 {
		cfg.Coordinator.Port = 8787
	}
	if cfg.Coordinator.MaxConcurrency == 0 {
		cfg.Coordinator.MaxConcurrency = 8
	}
	if cfg.Coordinator.MaxWorkers == 0 {
		cfg.Coordinator.MaxWorkers = 64
	}
	if cfg.Coordinator.DefaultBatchTimeout == 0 {
		cfg.Coordinator.DefaultBatchTimeout = Duration(300 * time.Second)
	}
	if cfg.Coordinator.CleanupWait == 0 {
		cfg.Coordinator.CleanupWait = Duration(30 * time.Second)
	}
	if cfg.Coordinator.ShutdownTimeout == 0 {
		cfg.Coordinator.ShutdownTimeout = Duration(10 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry.sampling_rate must be in [0, 1], got %v", c.Telemetry.SamplingRate)
	}

	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0, got %d", c.Scheduler.MaxRetries)
	}
	if c.Mutator.MaxBackups < 1 {
		return fmt.Errorf("mutator.max_backups must be >= 1, got %d", c.Mutator.MaxBackups)
	}
	if c.Mutator.SecretScanner != "rules" && c.Mutator.SecretScanner != "gitleaks" {
		return fmt.Errorf("mutator.secret_scanner must be 'rules' or 'gitleaks', got %q", c.Mutator.SecretScanner)
	}

	if c.Backend.Mode != "parallel" && c.Backend.Mode != "sequential" {
		return fmt.Errorf("backend.mode must be 'parallel' or 'sequential', got %q", c.Backend.Mode)
	}
	if c.Backend.Workers < 1 {
		return fmt.Errorf("backend.workers must be >= 1, got %d", c.Backend.Workers)
	}
	if ep := c.Backend.Remote.Endpoint; ep != "" {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backend.remote.endpoint must be an http(s) URL, got %q", ep)
		}
	}
	if c.Backend.Remote.RateLimit < 0 {
		return fmt.Errorf("backend.remote.rate_limit must be >= 0, got %v", c.Backend.Remote.RateLimit)
	}
	if c.Backend.Retry.MaxAttempts < 1 {
		return fmt.Errorf("backend.retry.max_attempts must be >= 1, got %d", c.Backend.Retry.MaxAttempts)
	}
	if c.Backend.Retry.Multiplier < 1 {
		return fmt.Errorf("backend.retry.multiplier must be >= 1, got %v", c.Backend.Retry.Multiplier)
	}

	if c.Coordinator.Port < 1 || c.Coordinator.Port > 65535 {
		return fmt.Errorf("coordinator.port must be between 1 and 65535, got %d", c.Coordinator.Port)
	}
	if c.Coordinator.MaxConcurrency < 1 {
		return fmt.Errorf("coordinator.max_concurrency must be >= 1, got %d", c.Coordinator.MaxConcurrency)
	}
	if c.Coordinator.MaxWorkers < 1 {
		return fmt.Errorf("coordinator.max_workers must be >= 1, got %d", c.Coordinator.MaxWorkers)
	}
	return nil
}
