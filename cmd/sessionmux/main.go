// sessionmux keeps a bounded set of prioritized WebSocket channel sessions
// open against the upload service, acknowledges delivered messages and fans
// them out to local consumers.
//
// Usage: sessionmux -config configs/sessionmux.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/sessionmux/internal/api"
	"github.com/rickgao/sessionmux/internal/auth"
	"github.com/rickgao/sessionmux/internal/catalog"
	"github.com/rickgao/sessionmux/internal/config"
	"github.com/rickgao/sessionmux/internal/connection"
	"github.com/rickgao/sessionmux/internal/database"
	"github.com/rickgao/sessionmux/internal/logging"
	"github.com/rickgao/sessionmux/internal/metrics"
	"github.com/rickgao/sessionmux/internal/poller"
	"github.com/rickgao/sessionmux/internal/session"
	"github.com/rickgao/sessionmux/internal/version"
	"github.com/rickgao/sessionmux/internal/writer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/sessionmux.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("sessionmux failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.New(cfg.Log, os.Stdout)
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting sessionmux",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Server.WSURL,
		"transport", cfg.Server.Transport,
	)

	cred, err := auth.FromConfig(cfg.Server.Token, cfg.Server.TokenFile, cfg.Server.TokenParam, cfg.Server.TokenHeader)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if exp, ok := cred.ExpiresAt(); ok {
		if cred.Expired(time.Now()) {
			logger.Warn("token has expired, handshakes will likely be rejected", "expired_at", exp)
		} else {
			logger.Info("token loaded", "expires_at", exp)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session manager
	collector := metrics.NewCollector()
	factory := connection.NewClientFactory(connection.Endpoint{
		BaseURL:    cfg.Server.WSURL,
		PathPrefix: cfg.Server.PathPrefix,
		Auth:       cred,
	}, cfg.ClientConfig(), logger.With("component", "client"))

	mgr := session.New(cfg.SessionConfig(), factory,
		session.WithLogger(logger),
		session.WithPoolMetrics(collector),
		session.WithHubMetrics(collector),
	)
	collector.TrackOutstanding(mgr.Outstanding)
	removeSummary := mgr.OnSummary(collector.ObserveSummary)
	defer removeSummary()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}

	status := &statusServer{
		channels:    mgr,
		metrics:     collector.Handler(),
		metricsPath: cfg.Metrics.Path,
		logger:      logger.With("component", "http"),
	}

	// Archive
	var (
		dbPool  *pgxpool.Pool
		archive *writer.MessageWriter
	)
	if cfg.Archive.Enabled {
		db := cfg.Archive.Database
		logger.Info("connecting to archive database", "host", db.Host, "port", db.Port, "database", db.Name)

		dbPool, err = database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect archive database: %w", err)
		}
		defer dbPool.Close()

		if cfg.Archive.Migrate {
			if err := database.Migrate(ctx, dbPool); err != nil {
				return fmt.Errorf("migrate archive database: %w", err)
			}
		}

		archive = writer.NewMessageWriter(writer.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			InstanceID:    cfg.Instance.ID,
		}, mgr.Subscribe(cfg.Archive.BufferSize), dbPool, logger.With("component", "writer"))
		if err := archive.Start(ctx); err != nil {
			return fmt.Errorf("start archive writer: %w", err)
		}

		status.db = dbPool
		status.writer = archive
	}

	// Session API
	var apiClient *api.Client
	if cfg.Catalog.Enabled || cfg.Fallback.Enabled {
		apiClient = api.NewClient(cfg.API.BaseURL, cred,
			api.WithLogger(logger.With("component", "api")),
			api.WithTimeout(cfg.API.Timeout),
			api.WithRetries(cfg.API.MaxRetries, time.Second),
		)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           status.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channels
	var sessions *catalog.Catalog
	if cfg.Catalog.Enabled {
		sessions = catalog.New(catalog.Config{
			Interval: cfg.Catalog.Interval,
			Limit:    cfg.Catalog.Limit,
			Pinned:   cfg.Channels,
		}, apiClient, mgr, logger.With("component", "catalog"))

		logger.Info("starting session catalog (initial sync)")
		if err := sessions.Start(ctx); err != nil {
			return fmt.Errorf("start session catalog: %w", err)
		}
		status.catalog = sessions
	} else {
		for _, r := range mgr.ConnectToChannels(ctx, cfg.Channels) {
			if r.Err == nil {
				logger.Info("channel connected", "channel", r.ChannelID, "priority", r.Priority)
			}
		}
	}

	var fallback *poller.Poller
	if cfg.Fallback.Enabled {
		fallback = poller.New(poller.Config{
			Interval:    cfg.Fallback.Interval,
			Concurrency: cfg.Fallback.Concurrency,
			Timeout:     cfg.API.Timeout,
		}, apiClient, mgr, logger.With("component", "poller"))
		if err := fallback.Start(ctx); err != nil {
			return fmt.Errorf("start fallback poller: %w", err)
		}
		status.poller = fallback
	}

	go func() {
		logger.Info("starting status server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", "error", err)
			stop()
		}
	}()

	summary := mgr.Summary()
	logger.Info("sessionmux running",
		"connected", len(summary.ConnectedChannels),
		"tracked", len(summary.States),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Producers first, then connections, then the archive flush.
	if fallback != nil {
		if err := fallback.Stop(shutdownCtx); err != nil {
			logger.Warn("fallback poller stop", "error", err)
		}
	}
	if sessions != nil {
		if err := sessions.Stop(shutdownCtx); err != nil {
			logger.Warn("session catalog stop", "error", err)
		}
	}
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("session manager stop", "error", err)
	}
	if archive != nil {
		if err := archive.Stop(shutdownCtx); err != nil {
			logger.Warn("archive writer stop", "error", err)
		}
		stats := archive.Stats()
		logger.Info("archive flushed", "inserts", stats.Inserts, "conflicts", stats.Conflicts, "errors", stats.Errors)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status server shutdown", "error", err)
	}

	logger.Info("sessionmux stopped")
	return nil
}
