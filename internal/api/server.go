package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/radiolink/internal/bridge"
	"github.com/nerrad567/radiolink/internal/infrastructure/config"
	"github.com/nerrad567/radiolink/internal/infrastructure/logging"
	"github.com/nerrad567/radiolink/internal/radio"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Radio is the local module surface the API drives. *radio.Device satisfies it.
type Radio interface {
	Info() radio.Info
	Stats() radio.Stats
	IsOpen() bool
	AddDataListener(fn func(radio.Message)) (remove func())
	Send(ctx context.Context, dst radio.Destination, payload []byte, opts radio.SendOptions) (radio.TransmitStatus, error)
	SendAsync(dst radio.Destination, payload []byte, opts radio.SendOptions) error
}

// Registry is the peer registry surface the API uses. *radio.Network satisfies it.
type Registry interface {
	Devices() []*radio.RemoteDevice
	DeviceBy64(a radio.Address64) (*radio.RemoteDevice, bool)
	NumberOfDevices() int
	Clear()
	DiscoverDevices(ctx context.Context, timeout time.Duration) ([]*radio.RemoteDevice, error)
	DiscoverAllDevicesByID(ctx context.Context, id string, timeout time.Duration) ([]*radio.RemoteDevice, error)
}

// SightingStore lists the peer audit trail. *bridge.SightingRecorder satisfies it.
type SightingStore interface {
	Sightings(ctx context.Context) ([]bridge.Sighting, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Radio    Radio
	Registry Registry

	// Sightings is optional; without it GET /sightings answers 404.
	Sightings SightingStore

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	radio     Radio
	registry  Registry
	sightings SightingStore
	version   string
	startTime time.Time

	hub            *Hub
	removeListener func()

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// Parameters:
//   - deps: Required dependencies (logger, radio, registry)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Radio == nil {
		return nil, fmt.Errorf("radio is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		radio:     deps.Radio,
		registry:  deps.Registry,
		sightings: deps.Sightings,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HandlePeerEvent forwards a registry change to WebSocket clients.
func (s *Server) HandlePeerEvent(ev radio.PeerEvent) {
	s.hub.HandlePeerEvent(ev)
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, streams received payloads to it and launches
// the HTTP listener in a background goroutine. The server can be stopped
// with Close().
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	s.removeListener = s.radio.AddDataListener(s.hub.HandleMessage)

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if s.removeListener != nil {
		s.removeListener()
	}
	cancel()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
