// Package api serves the router's two HTTP surfaces: the OpenAI-compatible
// chat proxy on /v1 and the JWT-protected admin API on /api.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clawinfra/clawrouter/internal/catalog"
	"github.com/clawinfra/clawrouter/internal/router"
	"github.com/clawinfra/clawrouter/internal/telemetry"
	"github.com/clawinfra/clawrouter/internal/upstream"
	"github.com/clawinfra/clawrouter/internal/usage"
)

// ChatBackend is the upstream surface the proxy needs.
type ChatBackend interface {
	Chat(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error)
	ChatStream(ctx context.Context, req upstream.ChatRequest, fn func(upstream.StreamChunk) error) error
}

// UsageLog is the persistence surface the server needs. Nil disables logging.
type UsageLog interface {
	RecordDecision(ctx context.Context, d *router.RoutingDecision) error
	RecordFeedback(ctx context.Context, decisionID string, obs router.Observed) error
	Summarize(ctx context.Context, window time.Duration) (*usage.Summary, error)
}

// Options wires the server's collaborators.
type Options struct {
	Port      int
	Engine    *router.Engine
	Upstream  ChatBackend
	Usage     UsageLog
	Telemetry telemetry.Publisher
	Catalog   *catalog.Catalog
	JWTSecret string
	Logger    *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	port       int
	engine     *router.Engine
	backend    ChatBackend
	usageLog   UsageLog
	telemetry  telemetry.Publisher
	catalog    *catalog.Catalog
	jwtSecret  []byte
	logger     *slog.Logger
	httpServer *http.Server
	started    time.Time
}

// NewServer creates a new API server.
func NewServer(o Options) *Server {
	if o.Telemetry == nil {
		o.Telemetry = telemetry.Disabled{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	var secret []byte
	if o.JWTSecret != "" {
		secret = []byte(o.JWTSecret)
	}
	return &Server{
		port:      o.Port,
		engine:    o.Engine,
		backend:   o.Upstream,
		usageLog:  o.Usage,
		telemetry: o.Telemetry,
		catalog:   o.Catalog,
		jwtSecret: secret,
		logger:    o.Logger.With("component", "api"),
	}
}

// Handler builds the route table. Split from Start so tests can drive the
// mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.Handle("/api/stats", s.authMiddleware(http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/health", s.authMiddleware(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/api/models", s.authMiddleware(http.HandlerFunc(s.handleModels)))
	mux.Handle("/api/sessions", s.authMiddleware(http.HandlerFunc(s.handleSessions)))

	// WS auth rides a query param because browsers cannot set headers here.
	mux.HandleFunc("/api/ws/stats", s.handleStatsWS)

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start starts the HTTP server and blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

// handleStats returns engine counters, savings, and the usage summary.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats := map[string]any{
		"engine":  s.engine.Stats(),
		"savings": s.engine.SavingsReport(),
	}
	if s.usageLog != nil {
		sum, err := s.usageLog.Summarize(r.Context(), 24*time.Hour)
		if err != nil {
			s.logger.Warn("usage summary failed", "error", err)
		} else {
			stats["usage"] = sum
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth returns per-model health records.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Health().Stats())
}

// handleModels returns the model catalog.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.Models())
}

// handleSessions returns active session snapshots.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Sessions().Sessions())
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
