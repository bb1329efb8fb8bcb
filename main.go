// Command highlight-relay connects a Twitch chat channel to an OBS Studio
// instance. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Maintains an authenticated obs-websocket session with auto-reconnect
//     and keepalive, supervised in the background.
//   - Watches Twitch chat for moderator-flagged messages and pushes them to
//     the configured OBS browser source.
//   - Exposes an HTTP API with /healthz, /status, /metrics, the manual
//     highlight trigger, and the settings surface.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/highlight-relay/chat"
	"github.com/onnwee/highlight-relay/config"
	"github.com/onnwee/highlight-relay/db"
	"github.com/onnwee/highlight-relay/oauth"
	"github.com/onnwee/highlight-relay/obs"
	"github.com/onnwee/highlight-relay/server"
	"github.com/onnwee/highlight-relay/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("highlight-relay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// OBS client: credentials come from the settings table with env
	// defaults, re-read on every connect attempt and highlight.
	settings := &db.SettingsStore{DB: database, Defaults: cfg}
	client := obs.NewClient(obs.Options{Settings: settings})
	defer client.Close()

	// Mirror session state into the connected gauge.
	go func() {
		updates, cancel := client.Subscribe()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case st := <-updates:
				telemetry.SetConnected(st.Connected)
			}
		}
	}()

	if err := client.Connect(ctx); err != nil {
		// Non-fatal: the API can fix settings and reconnect.
		slog.Warn("initial obs connect failed", slog.Any("err", err))
	}

	// Chat observer (disabled when Twitch creds are missing).
	observer := &chat.Observer{
		Channel:     cfg.TwitchChannel,
		BotUsername: cfg.TwitchBotUsername,
		OAuthToken:  cfg.TwitchOAuthToken,
		DB:          database,
		Highlighter: client,
	}
	go observer.Run(ctx)

	// Keep the stored Twitch bot token fresh.
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute,
			oauth.TwitchRefreshFunc(cfg.TwitchClientID, cfg.TwitchClientSecret))
	}

	// HTTP server (health/status/metrics/highlight/settings)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewMux(ctx, database, client, cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	client.Disconnect()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", slog.Any("err", err))
	}
}
