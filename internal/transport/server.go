package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/instrument-station/internal/infrastructure/config"
	"github.com/nerrad567/instrument-station/internal/infrastructure/logging"
	"github.com/nerrad567/instrument-station/internal/protocol"
	"github.com/nerrad567/instrument-station/internal/station"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight HTTP
// requests during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Handler executes one instruction. *station.Dispatcher satisfies it.
type Handler interface {
	Handle(ctx context.Context, in protocol.Instruction) protocol.Response
}

// HealthChecker is implemented by every infrastructure client the station
// reports on at /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the transport server.
type Deps struct {
	Config  config.TransportConfig
	JWT     config.JWTConfig
	Logger  *logging.Logger
	Handler Handler
	Metrics *station.Metrics         // optional: enables /metrics
	Health  map[string]HealthChecker // optional: components listed at /health
	Version string
}

// Server is the station's request channel.
//
// Each WebSocket connection gets its own identity and is served by one
// goroutine, so replies on a connection come back in request order.
// Separate connections are served concurrently; instrument-level ordering
// is the Dispatcher's concern.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg     config.TransportConfig
	jwt     config.JWTConfig
	logger  *logging.Logger
	handler Handler
	metrics *station.Metrics
	health  map[string]HealthChecker
	version string

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	ctx      context.Context
	cancel   context.CancelFunc
	sessions map[*session]struct{}
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// New creates a transport server. It does not listen until Start.
//
// Parameters:
//   - deps: Required dependencies (logger, handler)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Handler == nil {
		return nil, fmt.Errorf("instruction handler is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      deps.Config,
		jwt:      deps.JWT,
		logger:   deps.Logger.Component("transport"),
		handler:  deps.Handler,
		metrics:  deps.Metrics,
		health:   deps.Health,
		version:  deps.Version,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Instrument clients are programs, not browsers.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	return s, nil
}

// Start begins listening on the configured address.
//
// The listener is bound before Start returns, so a port of 0 can be
// resolved immediately through Addr.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Duration(s.cfg.ReadTimeout) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.IdleTimeout) * time.Second,
		// No WriteTimeout: it would apply to hijacked WebSocket connections'
		// handshake only, and the write pump manages its own deadlines.
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("transport server error", "error", err)
		}
	}()

	s.logger.Info("request channel listening", "address", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting connections, closes every open session and waits
// for their goroutines to finish.
func (s *Server) Close() error {
	s.cancel()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		s.logger.Info("request channel shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down transport server: %w", shutdownErr)
		}
	}

	// Shutdown does not track hijacked connections.
	s.mu.Lock()
	for sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// HealthCheck reports whether the server is accepting connections.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transport health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("transport server not started")
	}
	return nil
}

// SessionCount returns the number of open connections.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	if s.metrics != nil {
		s.metrics.RecordConnection(1)
	}
	return true
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordConnection(-1)
	}
	s.wg.Done()
}
