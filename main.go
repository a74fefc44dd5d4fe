// Command lilybot is the main entrypoint for the song-request relay bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres (audit archive + token store) and runs idempotent migrations.
//   - Builds the YouTube client (API key or stored OAuth token).
//   - Starts the Discord command surface, the optional Twitch request bridge,
//     and a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lypsing/lilybot/config"
	"github.com/lypsing/lilybot/db"
	"github.com/lypsing/lilybot/discord"
	"github.com/lypsing/lilybot/queue"
	"github.com/lypsing/lilybot/server"
	"github.com/lypsing/lilybot/session"
	"github.com/lypsing/lilybot/telemetry"
	"github.com/lypsing/lilybot/twitchchat"
	"github.com/lypsing/lilybot/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

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
	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
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
	if err := cfg.ValidateDiscordReady(); err != nil {
		slog.Error("discord not configured", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("lilybot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// DB: audit archive + token store
	database, err := db.Connect()
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

	// YouTube client. A missing key only disables the start command; the bot
	// still runs and reports the misconfiguration when asked to start.
	ytClient, err := youtubeapi.New(ctx, cfg, db.Store{DB: database})
	if err != nil {
		slog.Warn("youtube api not available", slog.Any("err", err))
		ytClient = nil
	}

	engine := queue.NewEngine()
	registry := session.NewRegistry()

	deps := discord.Deps{
		Config:   cfg,
		Queue:    engine,
		Registry: registry,
		DB:       database,
	}
	if ytClient != nil {
		deps.API = ytClient
	}
	bot, err := discord.New(deps)
	if err != nil {
		slog.Error("failed to create discord bot", slog.Any("err", err))
		os.Exit(1)
	}
	if err := bot.Start(ctx); err != nil {
		slog.Error("failed to start discord bot", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := bot.Stop(); err != nil {
			slog.Error("failed to close discord session", slog.Any("err", err))
		}
	}()

	// Optional Twitch request bridge for simulcast streams.
	go twitchchat.StartRequestBridge(ctx, twitchchat.Deps{
		Config:   cfg,
		Queue:    engine,
		Registry: registry,
		Notifier: bot,
		DB:       database,
	})

	// Keep-alive HTTP server (health/status/metrics)
	go func() {
		if err := server.Start(ctx, server.Deps{DB: database, Queue: engine, Registry: registry}, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
