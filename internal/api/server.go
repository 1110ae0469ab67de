package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-history/internal/samplestore"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HistoryService is the scheduler surface the API drives.
type HistoryService interface {
	Statuses() []backfill.ChannelStatus
	Status(resourceID string) (backfill.ChannelStatus, error)
	Trigger(resourceID string) error
	SyncNow(ctx context.Context, resourceID string) (backfill.Result, error)
}

// RunLister returns finished runs of a resource, newest first.
type RunLister interface {
	Recent(ctx context.Context, resourceID string, limit int) ([]samplestore.RunRecord, error)
}

// HealthChecker is implemented by every component reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionReporter reports the broker connection for metrics.
type ConnectionReporter interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	History  HistoryService
	Runs     RunLister // optional: /runs answers 503 without it
	Checks   map[string]HealthChecker
	MQTT     ConnectionReporter // optional
	Version  string
}

// Server is the HTTP API server of the history service.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	history   HistoryService
	runs      RunLister
	checks    map[string]HealthChecker
	mqtt      ConnectionReporter
	version   string
	startTime time.Time
	server    *http.Server
	hub       *statusHub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but the WebSocket hub
// exists straight away so status callbacks can be wired before startup.
//
// Parameters:
//   - deps: Required dependencies (config, logger, history service)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.History == nil {
		return nil, fmt.Errorf("history service is required")
	}

	return &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		history:   deps.History,
		runs:      deps.Runs,
		checks:    deps.Checks,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       newStatusHub(deps.Config.WebSocket, deps.Logger),
		tickets:   newTicketStore(),
	}, nil
}

// PublishStatus sends st to stream clients subscribed to its resource.
// It is safe to call before Start.
func (s *Server) PublishStatus(st backfill.ChannelStatus) {
	s.hub.publish(st)
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for background goroutines (not the listener lifetime)
//
// Returns:
//   - error: If the server was already started
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
