// Package explorer serves the admin dashboard: collection and knowledge
// base browsing plus reconciliation runs over HTTP.
package explorer

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/efebarandurmaz/kbadmin/internal/knowledge"
	"github.com/efebarandurmaz/kbadmin/internal/metasync"
	"github.com/efebarandurmaz/kbadmin/internal/observability"
	"github.com/efebarandurmaz/kbadmin/internal/store"
)

//go:embed static
var staticFS embed.FS

// Config holds explorer server configuration.
type Config struct {
	ListenAddr string // e.g. ":5555"
	// KeepAlive is the SSE ping interval.
	KeepAlive time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":5555",
		KeepAlive:  30 * time.Second,
	}
}

// Server is the explorer HTTP server.
type Server struct {
	config    *Config
	store     store.Store
	knowledge *knowledge.Reader
	service   *metasync.Service
	runs      *RunStore
	hub       *Hub
	metrics   *observability.KBMetrics
	handler   http.Handler
	server    *http.Server
}

// New creates a fully wired explorer. kb may be nil when no knowledge
// database is configured.
func New(config *Config, svc *metasync.Service, kb *knowledge.Reader, metrics *observability.KBMetrics) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 30 * time.Second
	}
	if metrics == nil {
		metrics = observability.Metrics()
	}

	s := &Server{
		config:    config,
		store:     svc.Store(),
		knowledge: kb,
		service:   svc,
		runs:      NewRunStore(),
		hub:       NewHub(),
		metrics:   metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/collections", s.handleCollections)
	mux.HandleFunc("/api/collections/", s.handleCollectionDetail)
	mux.HandleFunc("/api/kb", s.handleKnowledgeBases)
	mux.HandleFunc("/api/kb/", s.handleKnowledgeBaseDetail)
	mux.HandleFunc("/api/reconcile", s.handleReconcile)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/", s.handleRunDetail)
	mux.HandleFunc("/api/events", s.handleSSE)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/", s.handleStatic)

	s.handler = corsMiddleware(s.loggingMiddleware(mux))
	s.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Runs returns the run history.
func (s *Server) Runs() *RunStore {
	return s.runs
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	slog.Info("Starting explorer", "addr", s.config.ListenAddr, "knowledge", s.knowledge != nil)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("explorer server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping explorer")
	return s.server.Shutdown(ctx)
}

// handleStatic serves embedded static files
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	staticFiles, err := fs.Sub(staticFS, "static")
	if err != nil {
		slog.Error("Failed to access static files", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.FileServer(http.FS(staticFiles)).ServeHTTP(w, r)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// loggingMiddleware traces, counts and logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := observability.StartHTTPSpan(r.Context(), r.Method, r.URL.Path)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.metrics.RecordHTTP(r.Method, time.Since(start), rec.status)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
