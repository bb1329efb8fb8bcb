package server

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/highlight-relay/config"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(ctx context.Context, dbx *sql.DB, ctrl Controller, cfg *config.Config) http.Handler {
	authCfg := loadAuthConfig()
	rateLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	handlers := NewHandlers(ctx, dbx, ctrl, cfg)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Probes
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Status surface
	mux.HandleFunc("/status", handlers.HandleStatus)
	mux.HandleFunc("/events", handlers.HandleStatusSSE)

	// Highlights. The trigger drives real OBS requests, so it is
	// rate-limited per IP.
	mux.Handle("/highlight", rateLimitMiddleware(http.HandlerFunc(handlers.HandleHighlight), rateLimiter))
	mux.HandleFunc("/highlights", handlers.HandleHighlights)

	// Settings and connection control (admin-protected, rate-limited)
	mux.Handle("/settings", adminAuth(http.HandlerFunc(handlers.HandleSettings), authCfg))
	mux.Handle("/connect", adminAuth(rateLimitMiddleware(http.HandlerFunc(handlers.HandleConnect), rateLimiter), authCfg))
	mux.Handle("/disconnect", adminAuth(rateLimitMiddleware(http.HandlerFunc(handlers.HandleDisconnect), rateLimiter), authCfg))

	return correlationMiddleware(tracingMiddleware(corsMiddleware(mux)))
}
