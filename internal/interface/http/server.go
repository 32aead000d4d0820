// Package http implements the operator REST API of the achievement engine:
// catalog and ledger inspection, the recent-unlock feed and a manual
// evaluation trigger.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lyutobor/OneuiBot-sub000/internal/application/engine"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/interface/http/handlers"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr to listen on (default: ":8080").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	// APIKeyHeader - header name for API key authentication.
	APIKeyHeader string

	// APIKey guards the write endpoints. Empty disables them.
	APIKey string

	// Version is reported by the health endpoint.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodyBytes: 64 << 10,
		APIKeyHeader: "X-API-Key",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator is the engine surface the API uses.
type Evaluator interface {
	Catalog() *achievement.Catalog
	Run(ctx context.Context, userID, chatID int64, event achievement.EvaluationContext) *engine.Report
	EvaluateAchievements(userID, chatID int64, event map[string]any)
}

// LedgerReader reads one user's ledger rows.
type LedgerReader interface {
	ListUnlockedAndProgress(ctx context.Context, userID int64) (*achievement.Snapshot, error)
}

// AuditReader lists a user's audit trail, newest first.
type AuditReader interface {
	ListAudit(ctx context.Context, userID int64, limit int) ([]achievement.AuditEntry, error)
}

// RecentFeed lists recent unlocks; userID 0 means everyone.
type RecentFeed interface {
	Recent(ctx context.Context, userID int64, n int) ([]achievement.AuditEntry, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
// Audit, Feed and Features are optional; their endpoints answer 503
// without them.
type Dependencies struct {
	Engine        Evaluator
	Ledger        LedgerReader
	Audit         AuditReader
	Feed          RecentFeed
	Features      FeatureAdmin
	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = def.APIKeyHeader
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.logger = s.logger.With(logger.Component("http"))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Read Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /api/v1/achievements", s.handleListCatalog)
	s.router.HandleFunc("GET /api/v1/achievements/recent", s.handleRecent)
	s.router.HandleFunc("GET /api/v1/users/{id}/achievements", s.handleUserAchievements)
	s.router.HandleFunc("GET /api/v1/users/{id}/audit", s.handleUserAudit)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Operator Endpoints (API key)
	// ─────────────────────────────────────────────────────────────────────────
	auth := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKey, denyJSON)
	s.router.Handle("POST /api/v1/achievements/evaluate", auth.Middleware(http.HandlerFunc(s.handleEvaluate)))
	s.router.Handle("GET /api/v1/features", auth.Middleware(http.HandlerFunc(s.handleListFeatures)))
	s.router.Handle("PUT /api/v1/features/{name}", auth.Middleware(http.HandlerFunc(s.handleSetRollout)))
	s.router.Handle("PUT /api/v1/features/{name}/users/{id}", auth.Middleware(http.HandlerFunc(s.handleSetOverride)))
	s.router.Handle("DELETE /api/v1/features/{name}/users/{id}", auth.Middleware(http.HandlerFunc(s.handleClearOverride)))
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return handlers.Chain(s.router,
		handlers.RequestID,
		handlers.Recovery(s.logger, func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
		}),
		handlers.Logging(s.logger),
		handlers.SecurityHeaders,
		handlers.RequestSizeLimit(s.config.MaxBodyBytes),
	)
}

func denyJSON(w http.ResponseWriter, r *http.Request, code, message string) {
	writeJSONError(w, r, http.StatusUnauthorized, code, message)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: handlers.GetRequestID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: handlers.GetRequestID(r.Context()),
	})
}
