package coordinator

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/autofix/internal/backend"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds coordinator server configuration.
type Config struct {
	Host string
	Port int
	// Token, when set, is required as a bearer token on every route except
	// the health check.
	Token string

	Pool            PoolConfig
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a loopback server with a small pool.
func DefaultConfig() Config {
	return Config{
		Host: "127.0.0.1",
		Port: 8787,
		Pool: PoolConfig{
			MaxConcurrency:      8,
			MaxWorkers:          64,
			DefaultBatchTimeout: 300 * time.Second,
			CleanupWait:         backend.DefaultCleanupWait,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server exposes a Pool over HTTP.
type Server struct {
	echo   *echo.Echo
	pool   *Pool
	logger *zap.Logger
	config Config
}

// NewServer creates a coordinator that runs tasks through handler.
func NewServer(cfg Config, handler backend.TaskHandler, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	pool, err := NewPool(cfg.Pool, handler, logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("coordinator pool: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second

	s := &Server{
		echo:   e,
		pool:   pool,
		logger: logger,
		config: cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})
	if cfg.Token != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Skipper: func(c echo.Context) bool { return c.Path() == backend.PathHealth },
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Token)) == 1, nil
			},
			ErrorHandler: func(error, echo.Context) error {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			},
		}))
	}

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET(backend.PathHealth, s.handleHealth)
	s.echo.GET(backend.PathMetrics, echo.WrapHandler(promhttp.Handler()))

	s.echo.POST(backend.PathSpawn, s.handleSpawn)
	s.echo.POST(backend.PathBatches, s.handleBatch)
	s.echo.POST(backend.PathClose, s.handleClose)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, backend.HealthResponse{Status: "ok", Workers: s.pool.Len()})
}

func (s *Server) handleSpawn(c echo.Context) error {
	var req backend.SpawnRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid spawn request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ids, err := s.pool.Spawn(req.Kind, req.Count)
	switch {
	case errors.Is(err, ErrInvalidCount):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPoolExhausted):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		return err
	}

	s.logger.Info("spawned workers", zap.String("kind", req.Kind), zap.Int("count", len(ids)))
	return c.JSON(http.StatusOK, backend.SpawnResponse{WorkerIDs: ids})
}

func (s *Server) handleBatch(c echo.Context) error {
	var req backend.BatchRequest
	if err := c.Bind(&req); err != nil {
		BatchesTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("invalid batch request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	results, err := s.pool.RunBatch(c.Request().Context(), req)
	if err != nil {
		BatchesTotal.WithLabelValues("rejected").Inc()
		if errors.Is(err, ErrUnknownWorker) || errors.Is(err, backend.ErrNoWorkers) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	BatchesTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("batch finished", zap.Int("tasks", len(req.Tasks)), zap.Int("results", len(results)))
	return c.JSON(http.StatusOK, backend.BatchResponse{Results: results})
}

func (s *Server) handleClose(c echo.Context) error {
	var req backend.CloseRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid close request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	closed := s.pool.Close(req.WorkerIDs)
	s.logger.Info("closed workers", zap.Int("closed", closed))
	return c.JSON(http.StatusOK, backend.CloseResponse{Closed: closed})
}

// handleError renders every error as backend.ErrorResponse.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, backend.ErrorResponse{Error: msg})
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting coordinator", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down coordinator")
	return s.echo.Shutdown(ctx)
}
