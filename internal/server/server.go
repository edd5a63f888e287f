// Package server provides HTTP server initialization and lifecycle management
// for the capsule journaling API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scrypster/capsule/internal/config"
	"github.com/scrypster/capsule/internal/engine"
	"github.com/scrypster/capsule/web/handlers"
)

// Deps are the components the server exposes.
type Deps struct {
	Machine  *engine.Machine
	Journal  *engine.JournalService
	Hub      *handlers.WebSocketHub // optional; nil disables /ws
	Gatherer prometheus.Gatherer    // optional; nil disables /metrics
	Logger   *zap.Logger
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// NewHandler builds the full route table with middleware applied.
func NewHandler(cfg *config.Config, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()

	var events engine.EventSink
	if deps.Hub != nil {
		events = deps.Hub
	}
	api := handlers.NewJournalHandlers(deps.Machine, deps.Journal, handlers.NewSessionRegistry(), events, logger)

	// API routes (require the bearer token when one is configured)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/login", api.Login)
	apiMux.HandleFunc("GET /api/session/{user}", api.GetSession)
	apiMux.HandleFunc("POST /api/session/{user}/quick-profile", api.SubmitQuickProfile)
	apiMux.HandleFunc("POST /api/session/{user}/consent", api.GiveConsent)
	apiMux.HandleFunc("POST /api/session/{user}/answers", api.AnswerQuestion)
	apiMux.HandleFunc("POST /api/session/{user}/entries", api.SubmitEntry)
	apiMux.HandleFunc("POST /api/session/{user}/past-self", api.EnterPastSelf)
	apiMux.HandleFunc("DELETE /api/session/{user}/past-self", api.ExitPastSelf)
	apiMux.HandleFunc("POST /api/session/{user}/past-self/messages", api.AskPastSelf)
	apiMux.HandleFunc("GET /api/users/{user}/entries", api.ListEntries)
	apiMux.HandleFunc("GET /api/users/{user}/memory", api.GetMemory)

	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg.Server.APIToken))

	// Health endpoint, no auth required
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// WebSocket endpoint (origin validation handles security)
	if deps.Hub != nil {
		mux.Handle("GET /ws", deps.Hub)
	}

	// Wrap entire server with logging, rate limiting, then security headers
	rateLimiter := handlers.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	handler := handlers.RequestLogger(mux, logger.Named("http"))
	handler = handlers.RateLimitMiddleware(handler, rateLimiter)
	handler = securityHeadersMiddleware(handler)
	return handler
}

// Start listens on the configured address and serves until ctx is done.
// It returns the actual address being listened on (useful for testing with
// port 0).
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if deps.Hub != nil {
		go deps.Hub.Run()
	}

	// Create server with security timeouts. Generation can take a while,
	// so the write timeout leaves room for the configured LLM timeout.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if deps.Hub != nil {
			deps.Hub.Stop()
		}
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", zap.Error(err))
		}
		if deps.Hub != nil {
			deps.Hub.Stop()
		}
	}()

	return actualAddr, nil
}
