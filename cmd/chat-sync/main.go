package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/chat-sync/internal/auth"
	"github.com/alexjbarnes/chat-sync/internal/config"
	"github.com/alexjbarnes/chat-sync/internal/logging"
	"github.com/alexjbarnes/chat-sync/internal/mcpserver"
	"github.com/alexjbarnes/chat-sync/internal/metrics"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/outbox"
	"github.com/alexjbarnes/chat-sync/internal/querycache"
	"github.com/alexjbarnes/chat-sync/internal/server"
	"github.com/alexjbarnes/chat-sync/internal/session"
	"github.com/alexjbarnes/chat-sync/internal/state"
	"github.com/alexjbarnes/chat-sync/internal/transport"
)

var Version = "dev"

func main() {
	// Handle gen-api-key subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "gen-api-key" {
		fmt.Println(auth.GenerateKey())
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("chat-sync starting",
		slog.String("version", Version),
		slog.String("user_id", cfg.UserID),
		slog.Bool("http", cfg.EnableHTTP),
		slog.Bool("outbox", cfg.OutboxDir != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	var presets []querycache.Preset
	if cfg.QueriesFile != "" {
		presets, err = querycache.LoadPresets(cfg.QueriesFile)
		if err != nil {
			return fmt.Errorf("loading query presets: %w", err)
		}

		logger.Info("query presets loaded", slog.Int("count", len(presets)))
	}

	var sessions *session.Manager

	m := metrics.New(func() int { return sessions.ActiveControllers() })

	sessions = session.NewManager(appState, session.Config{
		Client:                transport.NewClient(cfg.APIURL, cfg.APIKey, nil),
		StreamURL:             cfg.WSURL,
		APIKey:                cfg.APIKey,
		Policy:                cfg.RetryPolicy(),
		SyncThreshold:         cfg.SyncThreshold,
		UploadConcurrency:     cfg.UploadConcurrency,
		UploadRatePerSecond:   cfg.UploadRatePerSecond,
		ThumbnailMaxDim:       cfg.ThumbnailMaxDim,
		UploadUnmeteredOnly:   cfg.UploadUnmeteredOnly,
		UploadRecheckInterval: cfg.UploadRecheckInterval,
		NetworkMetered:        cfg.NetworkMetered,
		Presets:               presets,
		Metrics:               m,
		Logger:                logger,
	})

	sess, err := sessions.Login(ctx, models.User{ID: cfg.UserID}, cfg.UserToken)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	defer func() {
		if err := sessions.Logout(); err != nil {
			logger.Warn("logout", slog.String("error", err.Error()))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(sessions.Wait)

	if cfg.OutboxDir != "" {
		box := outbox.New(cfg.OutboxDir, sess.Sync, outbox.Options{Logger: logger})
		g.Go(func() error {
			return box.Watch(gctx)
		})
	}

	if cfg.EnableHTTP {
		g.Go(func() error {
			return runHTTP(gctx, cfg, sessions, m, logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("chat-sync stopped")

	return nil
}

// runHTTP serves /healthz, /metrics and, when API keys are configured,
// the MCP tools.
func runHTTP(ctx context.Context, cfg *config.Config, sessions *session.Manager, m *metrics.Metrics, logger *slog.Logger) error {
	keys, err := cfg.ParseMCPAPIKeys()
	if err != nil {
		return fmt.Errorf("parsing MCP API keys: %w", err)
	}

	httpLogger := logger.With(slog.String("service", "http"))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "chat-sync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, sessions)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		Keys:       auth.NewStore(keys),
		MCPHandler: mcpHandler,
		Metrics:    m.Handler(),
		Health:     healthFunc(sessions),
		Logger:     httpLogger,
	})

	srv := server.New(cfg.HTTPListenAddr, mux)

	httpLogger.Info("starting HTTP server",
		slog.String("listen", cfg.HTTPListenAddr),
		slog.Bool("mcp", len(keys) > 0),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		httpLogger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

func healthFunc(sessions *session.Manager) func() server.Health {
	return func() server.Health {
		s, err := sessions.Current()
		if err != nil {
			return server.Health{Status: "logged_out"}
		}

		return server.Health{
			Status:            "ok",
			UserID:            s.User.ID,
			Connected:         s.Online(),
			ActiveControllers: sessions.ActiveControllers(),
		}
	}
}
