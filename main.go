// Command live-moderation is the entrypoint for the live shopping moderation API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the note template store (memory, Postgres or bbolt) and loads the catalogue.
//   - Wires mirrors (platform moderation API, Twitch Helix, YouTube live chat, NATS)
//     and chat ingesters into the session manager.
//   - Starts the template auto-archive job and the HTTP API.
//
// Shutdown is graceful on SIGINT/SIGTERM: the HTTP server drains, then every
// open session is closed.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/live-moderation/config"
	"github.com/onnwee/live-moderation/mirror"
	"github.com/onnwee/live-moderation/moderation"
	"github.com/onnwee/live-moderation/server"
	"github.com/onnwee/live-moderation/telemetry"
	"github.com/onnwee/live-moderation/templates"
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
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("live-moderation", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openTemplateStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open template store", slog.String("store", cfg.TemplateStore), slog.Any("err", err))
		os.Exit(1)
	}
	defer store.close()

	registry := templates.NewRegistry(templates.WithStore(store.Store))
	if err := registry.Load(ctx); err != nil {
		slog.Error("failed to load templates", slog.Any("err", err))
		os.Exit(1)
	}

	mirrors, err := newMirrors(ctx, cfg)
	if err != nil {
		slog.Error("failed to configure mirrors", slog.Any("err", err))
		os.Exit(1)
	}
	defer mirrors.close()

	sessions := moderation.NewManager(ctx, moderation.ManagerConfig{
		Mirror: mirrors.forSession,
		Queue:  newChatFactory(cfg, mirrors).Open,
		Notes:  registry,
		Dispatch: moderation.DispatcherConfig{
			Retryable:     mirror.IsRetryable,
			MaxConcurrent: cfg.MirrorMaxConcurrent,
			MaxRetries:    cfg.MirrorMaxRetries,
			Backoff:       cfg.MirrorBackoff,
			CallTimeout:   cfg.MirrorCallTimeout,
		},
		JournalCapacity: cfg.JournalCapacity,
		UndoLimit:       cfg.UndoLimit,
		ExpiryInterval:  cfg.ExpiryInterval,
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		go servePprof()
	}

	policy := templates.LoadArchivePolicy()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		templates.StartAutoArchiveJob(gctx, registry, policy)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx, server.Deps{
			Sessions:  sessions,
			Templates: registry,
			Archive:   policy,
			Checks:    store.checks,
		}, cfg.HTTPAddr)
	})

	if err := g.Wait(); err != nil {
		slog.Error("service stopped with error", slog.Any("err", err))
	}
	slog.Info("shutting down")
	sessions.CloseAll()
}

func servePprof() {
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
	// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
	srv := &http.Server{
		Addr:              pprofAddr,
		Handler:           nil, // default mux exposes /debug/pprof
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("pprof server error", slog.Any("err", err))
	}
}
