package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/wirehome/internal/audit"
	"github.com/nerrad567/wirehome/internal/automation"
	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/eventbus"
	"github.com/nerrad567/wirehome/internal/infrastructure/config"
	"github.com/nerrad567/wirehome/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Devices is the read-only registry view. *device.Registry implements it.
type Devices interface {
	Devices() []device.Device
	Device(id string) (*device.Device, error)
}

// AlarmView exposes the engine's published state. *automation.Engine
// implements it.
type AlarmView interface {
	Snapshot() automation.Snapshot
}

// Commander accepts remote commands. *remote.Injector implements it.
type Commander interface {
	Arm(source string)
	Disarm(credential, source string) error
	Override(role string, value float64, source string) error
}

// EventSource provides live event subscriptions. *eventbus.Bus
// implements it.
type EventSource interface {
	Subscribe(name string, capacity int, kinds ...eventbus.Kind) *eventbus.Subscription
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Devices  Devices
	Alarm    AlarmView
	Commands Commander

	// Optional collaborators. Routes backed by a nil dependency answer 503.
	Events  EventSource
	Journal audit.Repository
	Metrics http.Handler

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	devices  Devices
	alarm    AlarmView
	commands Commander
	events   EventSource
	journal  audit.Repository
	metrics  http.Handler
	version  string

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	addr string
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, devices, alarm view, commander)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Alarm == nil {
		return nil, fmt.Errorf("alarm view is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("commander is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		devices:  deps.Devices,
		alarm:    deps.Alarm,
		commands: deps.Commands,
		events:   deps.Events,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		version:  deps.Version,
		hub:      NewHub(deps.Logger),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It binds the listener synchronously so address errors surface here, then
// serves in a background goroutine. When an event source is configured the
// hub relays core events to WebSocket clients until Close.
//
// Parameters:
//   - ctx: Parent context for the hub relay
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.events != nil {
		sub := s.events.Subscribe("websocket", eventbus.DefaultCapacity, streamKinds...)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.hub.Run(srvCtx, sub)
		}()
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.Addr())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
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
	s.wg.Wait()

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
