// Package server provides HTTP server construction for chat-sync.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/chat-sync/internal/auth"
)

// Health is the body of /healthz.
type Health struct {
	Status            string `json:"status"`
	UserID            string `json:"user_id,omitempty"`
	Connected         bool   `json:"connected"`
	ActiveControllers int    `json:"active_controllers"`
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	// Keys guards /mcp. With no keys configured /mcp is not mounted.
	Keys       *auth.Store
	MCPHandler http.Handler
	Metrics    http.Handler
	Health     func() Health
	Logger     *slog.Logger
}

// NewMux builds the HTTP mux with health, metrics and MCP endpoints. The
// MCP endpoint is protected by the API key middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth(cfg.Health))

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	if cfg.MCPHandler != nil && cfg.Keys != nil && cfg.Keys.Len() > 0 {
		authMiddleware := auth.Middleware(cfg.Keys, cfg.Logger)
		mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	}

	return mux
}

func handleHealth(health func() Health) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := Health{Status: "ok"}
		if health != nil {
			h = health()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		if h.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(h)
	}
}

// New wraps mux in an http.Server with the usual timeouts.
func New(addr string, mux http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
