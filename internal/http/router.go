package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Pinger reports whether a dependency can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig wires the ops endpoints. A nil Store makes /readyz always ready
// and a nil Metrics handler leaves /metrics unrouted.
type RouterConfig struct {
	Store        Pinger
	Metrics      http.Handler
	Logger       *slog.Logger
	ReadyTimeout time.Duration
}

// NewRouter builds the ops router.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}
	responder := newResponder(cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		responder.writeJSON(req.Context(), w, http.StatusOK, statusResponse{Status: "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Store != nil {
			ctx, cancel := context.WithTimeout(req.Context(), cfg.ReadyTimeout)
			defer cancel()
			if err := cfg.Store.Ping(ctx); err != nil {
				responder.writeError(req.Context(), w, http.StatusServiceUnavailable, "unavailable", err)
				return
			}
		}
		responder.writeJSON(req.Context(), w, http.StatusOK, statusResponse{Status: "ready"})
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	return r
}

// NewServer returns an http.Server for handler with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
