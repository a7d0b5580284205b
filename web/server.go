// Package web serves the HTTP surface: WebSocket upgrades, health, point
// listing, and the admin reconnect/endpoint controls.
package web

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"plantlink/bridge"
	"plantlink/cache"
	"plantlink/config"
	"plantlink/logging"
	"plantlink/stream"
)

// Bridge is what the handlers need from the connection manager.
type Bridge interface {
	Status() bridge.HealthStatus
	RequestReconnect()
	SetPrimaryEndpoint(address string)
}

// Server is the HTTP server for the API and WebSocket endpoints.
type Server struct {
	config      *config.WebConfig
	bridge      Bridge
	broadcaster *stream.Broadcaster
	cache       *cache.Cache

	server  *http.Server
	router  chi.Router
	running bool
	mu      sync.RWMutex
}

// NewServer creates the web server over the given bridge and broadcaster.
func NewServer(cfg *config.WebConfig, b Bridge, bc *stream.Broadcaster, c *cache.Cache) *Server {
	s := &Server{
		config:      cfg,
		bridge:      b,
		broadcaster: bc,
		cache:       c,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the chi router with all routes.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ws", s.handleWS)
		r.Get("/status", s.handleStatus)
		r.Get("/points", s.handlePoints)
		r.Get("/points/{point}", s.handleSinglePoint)
		r.Post("/reconnect", s.handleReconnect)
		r.Post("/endpoint", s.handleEndpoint)
	})

	s.router = r
}

// debugLogWriter adapts logging.DebugLog to an io.Writer for use with log.Logger.
type debugLogWriter string

func (tag debugLogWriter) Write(p []byte) (n int, err error) {
	logging.DebugLog(string(tag), "%s", string(p))
	return len(p), nil
}

// Verify debugLogWriter implements io.Writer.
var _ io.Writer = debugLogWriter("")

// corsMiddleware adds CORS headers for API access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	// Bind before returning so a taken port fails Start itself rather
	// than dying silently in the serve goroutine.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(debugLogWriter("web"), "", 0),
	}

	go func() {
		if err := s.server.Serve(ln); err != http.ErrServerClosed {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Stop halts the HTTP server gracefully and disconnects all WebSocket
// clients.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	s.broadcaster.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.config.Host, s.config.Port)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
