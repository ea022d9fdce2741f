package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/hakari/internal/auth"
)

// Server is the hakari HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Store  JobStore
	Events Enqueuer
	Pinger Pinger
	JWTMgr *auth.JWTManager
	Logger *slog.Logger

	// AdminAPIKeyHash, when set, is the Argon2id hash of a bearer key
	// accepted with operator rights in place of a JWT.
	AdminAPIKeyHash string

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:   cfg.Store,
		Events:  cfg.Events,
		Pinger:  cfg.Pinger,
		Logger:  cfg.Logger,
		Version: cfg.Version,
	})

	mux := http.NewServeMux()

	// Job lifecycle (any authenticated caller).
	anyRole := requireRole(auth.RoleUser, auth.RoleOperator)
	mux.Handle("POST /v1/jobs", anyRole(http.HandlerFunc(h.HandleCreateJob)))
	mux.Handle("GET /v1/jobs/{job_id}", anyRole(http.HandlerFunc(h.HandleGetJob)))
	mux.Handle("POST /v1/jobs/{job_id}/cancel", anyRole(http.HandlerFunc(h.HandleCancelJob)))

	// Raw event intake: build/run services and operators only.
	operatorOnly := requireRole(auth.RoleOperator)
	mux.Handle("POST /v1/events", operatorOnly(http.HandlerFunc(h.HandlePostEvent)))

	// Health (no auth).
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → body limit → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, cfg.AdminAPIKeyHash, handler)
	if cfg.MaxRequestBodyBytes > 0 {
		handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
