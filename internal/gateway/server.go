// Package gateway is the development backend: conversation persistence,
// attachment storage and the streaming chat endpoint over one HTTP server.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"recruitbot/internal/domain"
	"recruitbot/internal/memory"
	"recruitbot/internal/metrics"
)

const (
	maxBodySize     = 1 << 20 // 1MB
	shutdownTimeout = 5 * time.Second

	limiterPruneInterval = 5 * time.Minute
)

// Server serves the REST and streaming API the chat client talks to.
type Server struct {
	addr            string
	token           string
	publicURL       string
	version         string
	metricsEndpoint string

	store     *memory.SQLiteStore
	files     *FileStore
	responder domain.Responder
	limiter   *OwnerLimiter
	metrics   *metrics.GatewayMetrics
	logger    *slog.Logger
	now       func() time.Time

	server *http.Server
}

type ServerConfig struct {
	Addr      string
	Token     string // bearer token; empty disables auth
	PublicURL string // base of attachment URLs; derived from the request when empty
	Version   string

	Store     *memory.SQLiteStore
	Files     *FileStore
	Responder domain.Responder
	Limiter   *OwnerLimiter // nil disables rate limiting

	// Metrics is optional; MetricsEndpoint is only served when both are set.
	Metrics         *metrics.GatewayMetrics
	MetricsEndpoint string

	Logger *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewGatewayMetrics(metrics.NewMetricsCollector())
		cfg.MetricsEndpoint = ""
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		addr:            cfg.Addr,
		token:           cfg.Token,
		publicURL:       strings.TrimSuffix(cfg.PublicURL, "/"),
		version:         cfg.Version,
		metricsEndpoint: cfg.MetricsEndpoint,
		store:           cfg.Store,
		files:           cfg.Files,
		responder:       cfg.Responder,
		limiter:         cfg.Limiter,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		now:             time.Now,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/conversations", s.requireAuth(s.handleCreateConversation))
	mux.HandleFunc("GET /api/conversations", s.requireAuth(s.handleListConversations))
	mux.HandleFunc("PATCH /api/conversations/{id}", s.requireAuth(s.handleRenameConversation))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.requireAuth(s.handleDeleteConversation))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.requireAuth(s.handleListMessages))
	mux.HandleFunc("POST /api/attachments", s.requireAuth(s.handleUpload))
	mux.HandleFunc("POST /api/chat/stream", s.requireAuth(s.handleStream))

	// Public: attachment URLs are handed to the responder and the UI as-is.
	mux.HandleFunc("GET /files/{name}", s.handleFile)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	if s.metricsEndpoint != "" {
		mux.Handle("GET "+s.metricsEndpoint, s.metrics.Collector().Handler())
	}

	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("gateway started",
		"addr", "http://"+s.addr,
		"responder", s.responder.Name(),
		"auth", s.token != "",
		"rate_limit", s.limiter != nil,
	)

	if s.limiter != nil {
		go s.pruneLimiter(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Prune(); n > 0 {
				s.logger.Debug("pruned idle rate limit buckets", "count", n)
			}
		}
	}
}

// requireAuth wraps a handler with bearer token auth when a token is set.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(rw, r)
			return
		}
		auth := r.Header.Get("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			rw.Header().Set("WWW-Authenticate", `Bearer realm="recruitbot"`)
			writeError(rw, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(rw, r)
	}
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"time":      s.now().Format(time.RFC3339),
		"responder": s.responder.Name(),
		"database":  "ok",
	}
	if err := s.store.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
	}
	if err := s.responder.Healthy(r.Context()); err != nil {
		status["status"] = "degraded"
		status["responder_error"] = err.Error()
	}
	writeJSON(rw, http.StatusOK, status)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

// decodeBody reads a size-limited JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// storeError maps a persistence error to an HTTP response.
func (s *Server) storeError(rw http.ResponseWriter, op string, err error) {
	if errors.Is(err, memory.ErrNotFound) {
		writeError(rw, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("store operation failed", "op", op, "err", err)
	writeError(rw, http.StatusInternalServerError, op+" failed")
}
