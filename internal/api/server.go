package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/swetrack-sync/internal/history"
	"github.com/nerrad567/swetrack-sync/internal/infrastructure/config"
	"github.com/nerrad567/swetrack-sync/internal/infrastructure/logging"
	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Coordinator is the part of tracker.Coordinator the API uses.
type Coordinator interface {
	Status() tracker.Status
	RequestRefresh()
}

// SnapshotSource is the part of tracker.Store the API uses.
type SnapshotSource interface {
	Current() *tracker.Snapshot
	Subscribe(fn func(*tracker.Snapshot)) (unsubscribe func())
}

// HistoryReader is the part of history.Repository the API uses.
type HistoryReader interface {
	ListCycles(ctx context.Context, limit int) ([]history.CycleEntry, error)
	GetDeviceHistory(ctx context.Context, deviceID string, limit int) ([]history.DeviceEntry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Coordinator Coordinator
	Snapshots   SnapshotSource
	History     HistoryReader // optional; history routes answer 503 without it
	Version     string
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	coordinator Coordinator
	snapshots   SnapshotSource
	history     HistoryReader
	version     string

	router      http.Handler
	hub         *Hub
	server      *http.Server
	listener    net.Listener
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("snapshot source is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		coordinator: deps.Coordinator,
		snapshots:   deps.Snapshots,
		history:     deps.History,
		version:     deps.Version,
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.SetInitial(ChannelSnapshot, func() any {
		return newSnapshotEvent(s.snapshots.Current(), true)
	})
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start relays published snapshots to WebSocket clients and begins
// listening. The listener runs in a background goroutine until Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.subscribeSnapshots()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.Close() //nolint:errcheck // already failing
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// subscribeSnapshots broadcasts every published snapshot on the
// snapshot channel.
func (s *Server) subscribeSnapshots() {
	s.unsubscribe = s.snapshots.Subscribe(func(snap *tracker.Snapshot) {
		s.hub.Broadcast(ChannelSnapshot, newSnapshotEvent(snap, false))
	})
}

// HandleCycle relays a cycle report on the cycle channel. Register it with
// tracker.Coordinator.OnCycle.
func (s *Server) HandleCycle(report tracker.CycleReport) {
	s.hub.Broadcast(ChannelCycle, newCycleEvent(report))
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
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
