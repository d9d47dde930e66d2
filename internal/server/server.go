// Package server exposes the engine and the sync protocol over WebSocket.
// It carries no game rules of its own: every frame is decoded, normalized
// and handed to the engine or the synchronizer.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lox/cascadeslots/internal/cascadesync"
	"github.com/lox/cascadeslots/internal/engine"
)

// Config wires a Server to its collaborators.
type Config struct {
	Engine  *engine.Engine
	Sync    *cascadesync.Synchronizer
	Results *cascadesync.ResultCache
	Logger  zerolog.Logger
}

// Server represents the WebSocket server.
type Server struct {
	engine   *engine.Engine
	sync     *cascadesync.Synchronizer
	results  *cascadesync.ResultCache
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu          sync.RWMutex
	connections map[*Connection]struct{}
	httpServer  *http.Server
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine:  cfg.Engine,
		sync:    cfg.Sync,
		results: cfg.Results,
		upgrader: websocket.Upgrader{
			// Browser clients are served from arbitrary origins; auth sits in
			// front of this service.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
		},
		logger:      cfg.Logger.With().Str("component", "server").Logger(),
		connections: make(map[*Connection]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handler returns the HTTP handler serving /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", l.Addr().String()).Msg("Starting WebSocket server")
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting connections and closes the open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	srv := s.httpServer
	conns := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close() // Ignore close errors during shutdown
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Connections returns the number of open WebSocket connections.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := newConnection(s.ctx, conn, s)
	s.mu.Lock()
	s.connections[client] = struct{}{}
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Debug().Int("total", total).Str("remote", r.RemoteAddr).Msg("Client connected")

	client.Start()
	go func() {
		<-client.ctx.Done()
		s.mu.Lock()
		delete(s.connections, client)
		total := len(s.connections)
		s.mu.Unlock()
		s.logger.Debug().Int("total", total).Msg("Client disconnected")
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK") // Ignore write errors for health check
}
