// Package server exposes containers to clients over websocket sync feeds.
// Each feed carries an initial full snapshot followed by one JSON message
// per committed transaction, routed through the event hub.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stackvault/stackvault/internal/core/container"
	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/observability/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr string
	MaxClients int

	// Per-client send buffer; clients that cannot drain it are dropped.
	SendBufferSize int
	WriteTimeout   time.Duration
	PingInterval   time.Duration

	LogLevel log.Level
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     "127.0.0.1:8080",
		MaxClients:     10_000,
		SendBufferSize: 64,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// Server serves container sync feeds. Containers are exposed by id; a feed
// client subscribes to exactly one container per connection.
type Server struct {
	config Config
	logger log.Log
	hub    *events.Hub

	containers  sync.Map // map[uuid.UUID]container.Container
	clients     sync.Map // map[string]*session
	clientCount int64

	httpServer *http.Server

	running int32
	closed  int32
}

// New creates a server around an event hub. The hub may be shared with other
// consumers; the server only adds subscriptions, never watches containers it
// was not given.
func New(config Config, hub *events.Hub) *Server {
	logger := log.New(config.LogLevel).With(log.String("component", "server"))

	s := &Server{
		config: config,
		logger: logger,
		hub:    hub,
	}

	s.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Int("max_clients", config.MaxClients))

	return s
}

// Expose publishes a container on the feed endpoint. The hub starts watching
// it; clients can subscribe by its id.
func (s *Server) Expose(c container.Container) {
	s.containers.Store(c.ID(), c)
	s.hub.Watch(c)
	s.logger.Info("Container exposed",
		log.String("container", c.ID().String()),
		log.Int("capacity", c.Capacity()))
}

// Lookup returns an exposed container by id.
func (s *Server) Lookup(id uuid.UUID) (container.Container, error) {
	v, ok := s.containers.Load(id)
	if !ok {
		return nil, ErrUnknownContainer
	}
	return v.(container.Container), nil
}

// Start begins serving. It returns once the listener is up; serving happens
// on background goroutines until Stop.
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Listener stopped", log.Error(err))
		}
	}()

	s.logger.Info("Server started", log.String("addr", s.config.ListenAddr))
	return nil
}

// Stop shuts the listener down and disconnects every client.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("Shutdown did not complete cleanly", log.Error(err))
		}
	}

	s.clients.Range(func(_, value any) bool {
		value.(*session).close()
		return true
	})

	s.logger.Info("Server stopped")
	return nil
}

// Close stops the server and cancels every hub subscription it created.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop(context.Background())
	}
	s.hub.Close()
	s.logger.Info("Server closed")
	return nil
}

// Stats contains server statistics.
type Stats struct {
	ClientCount int64
	Running     bool
	Hub         events.Metrics
}

func (s *Server) GetStats() Stats {
	return Stats{
		ClientCount: atomic.LoadInt64(&s.clientCount),
		Running:     atomic.LoadInt32(&s.running) == 1,
		Hub:         s.hub.Metrics(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
