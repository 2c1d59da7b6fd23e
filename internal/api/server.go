package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/pentair-cloud-core/internal/auth"
	"github.com/nerrad567/pentair-cloud-core/internal/climate"
	"github.com/nerrad567/pentair-cloud-core/internal/credentials"
	"github.com/nerrad567/pentair-cloud-core/internal/device"
	"github.com/nerrad567/pentair-cloud-core/internal/entity"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/pentair-cloud-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Core is the device side of the API. It is satisfied by *hub.Hub.
type Core interface {
	Devices() []device.Device
	Device(id string) (*device.Device, error)
	Activate(ctx context.Context, deviceID string, programID int) bool
	Deactivate(ctx context.Context, deviceID string, programID int) bool
	StopAllPrograms(ctx context.Context, deviceID string) bool
	UpdateStatus(ctx context.Context, force bool) error
	PopulateDevices(ctx context.Context) error
	Authenticate(ctx context.Context, username, password string) bool
}

// Entities resolves entity sets. It is satisfied by *entity.Directory.
type Entities interface {
	For(deviceID string) (*entity.Set, error)
	Entity(deviceID, key string) (*entity.Entity, error)
}

// Thermostats resolves pool thermostats. It is satisfied by *climate.Group.
type Thermostats interface {
	For(deviceID string) (*climate.Thermostat, error)
}

// Session reports the cloud sign-in. It is satisfied by *credentials.Manager.
type Session interface {
	Authenticated() bool
	Current() (credentials.Credential, bool)
}

// Recorder observes request latency. It is satisfied by *metrics.Metrics.
type Recorder interface {
	HTTPRequest(route, method string, status int, d time.Duration)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger
	Core     Core
	Entities Entities

	// Climate is nil when the thermostat is disabled.
	Climate Thermostats

	// MetricsHandler serves the Prometheus exposition. Optional.
	MetricsHandler http.Handler
	// Recorder receives per-route latency. Optional.
	Recorder Recorder
	// Session adds the sign-in state to /health. Optional.
	Session Session

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	metricsCfg     config.MetricsConfig
	logger         *logging.Logger
	core           Core
	entities       Entities
	climate        Thermostats
	metricsHandler http.Handler
	recorder       Recorder
	session        Session
	apiKey         *auth.Hash
	tickets        *ticketStore
	version        string
	startTime      time.Time
	server         *http.Server
	hub            *Hub
	externalHub    bool               // true if hub was injected externally
	cancel         context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but Observe and Notify
// may be called at any time.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Core == nil {
		return nil, fmt.Errorf("core is required")
	}
	if deps.Entities == nil {
		return nil, fmt.Errorf("entities are required")
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		metricsCfg:     deps.Metrics,
		logger:         deps.Logger,
		core:           deps.Core,
		entities:       deps.Entities,
		climate:        deps.Climate,
		metricsHandler: deps.MetricsHandler,
		recorder:       deps.Recorder,
		session:        deps.Session,
		tickets:        newTicketStore(),
		version:        deps.Version,
		startTime:      time.Now(),
	}

	if deps.Config.APIKeyHash != "" {
		h, err := auth.ParseHash(deps.Config.APIKeyHash)
		if err != nil {
			return nil, fmt.Errorf("api key hash: %w", err)
		}
		s.apiKey = &h
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	s.hub.SetSnapshot(s.deviceSnapshot)

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", s.server.Addr, "api_key_required", s.apiKey != nil)
	go func() {
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

// HealthCheck verifies the API server is running.
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
