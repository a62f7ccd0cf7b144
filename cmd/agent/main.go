package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fandirect/macbridge/internal/chatdb"
	"github.com/fandirect/macbridge/internal/config"
	"github.com/fandirect/macbridge/internal/health"
	"github.com/fandirect/macbridge/internal/httpapi"
	"github.com/fandirect/macbridge/internal/logging"
	"github.com/fandirect/macbridge/internal/metrics"
	"github.com/fandirect/macbridge/internal/poller"
	"github.com/fandirect/macbridge/internal/queue"
	"github.com/fandirect/macbridge/internal/remote"
	"github.com/fandirect/macbridge/internal/storage"
	"github.com/fandirect/macbridge/internal/tracing"
	"github.com/fandirect/macbridge/internal/transport"
)

var version = "dev"

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("macbridge-agent")

	shutdown, err := tracing.InitTracing(ctx, "macbridge-agent")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	// Remote backend. The agent can run send-only without it, but inbound
	// relay and status mirroring need the connection.
	var pool *pgxpool.Pool
	var store *remote.Store
	if cfg.Remote.DSN != "" {
		pool, err = remote.Connect(ctx, cfg.Remote.DSN)
		if err != nil {
			logger.Plain().WithError(err).Fatal("remote backend connect failed")
		}
		defer pool.Close()
		store = remote.NewStore(pool)
	} else {
		logger.Plain().Warn("REMOTE_DSN not set, running without status mirroring or inbound relay")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// Health/metrics endpoint.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, cfg.Poller.ChatDBPath))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.API.MetricsAddr, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", metricsSrv.Addr).Info("metrics server starting")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("metrics server failed")
		}
	}()

	// Outbound pipeline.
	storageClient := storage.NewClient(cfg.Remote.StorageBaseURL, cfg.Remote.StorageBucket, cfg.Remote.StorageServiceKey)
	fetcher := storage.NewMediaFetcher(storageClient, filepath.Join(cfg.Poller.StagingDir, "outbound"))
	sender := transport.NewAppleScriptSender(nil)

	var sink queue.StatusSink
	if store != nil {
		sink = store
	}
	q := queue.New(sender, sink, fetcher, queue.Options{
		RateLimit:     cfg.Queue.RateLimit,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		Backoff:       cfg.Queue.BackoffSchedule,
		CheckInterval: cfg.Queue.CheckInterval,
	})
	go q.Run(ctx)

	// Inbound pipeline.
	if store != nil {
		mappings := remote.NewMappingCache(store, cfg.Poller.MappingRefresh)
		if err := mappings.Refresh(ctx); err != nil {
			logger.Plain().WithError(err).Warn("initial mapping refresh failed, starting with no mappings")
		}
		go mappings.Run(ctx)

		reader, err := chatdb.Open(cfg.Poller.ChatDBPath)
		if err != nil {
			logger.Plain().WithError(err).WithField("path", cfg.Poller.ChatDBPath).Error("chat store unavailable, inbound relay disabled")
		} else {
			defer reader.Close()

			relay, err := storage.NewRelay(storageClient, cfg.Poller.StagingDir)
			if err != nil {
				logger.Plain().WithError(err).Fatal("cannot create attachment staging dir")
			}

			watchPath := ""
			if cfg.Poller.WatchForChanges {
				watchPath = cfg.Poller.ChatDBPath
			}
			p := poller.New(reader, mappings, relay, store, poller.Options{
				MessagesDir:  cfg.Poller.MessagesDir,
				PollInterval: cfg.Poller.PollInterval,
				WatchPath:    watchPath,
			})
			if err := p.Init(ctx); err != nil {
				logger.Plain().WithError(err).Fatal("poll cursor initialization failed")
			}
			go p.Run(ctx)
		}

		if cfg.Remote.HeartbeatInterval > 0 {
			go heartbeatLoop(ctx, store, cfg.Remote.HeartbeatInterval, logger)
		}
	}

	// Front door.
	api := httpapi.NewServer(q, cfg.API.Key)
	go func() {
		if err := api.Start(cfg.API.Addr); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("front door failed")
		}
	}()

	logger.Plain().WithField("version", version).Info("agent started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down agent")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	_ = api.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("agent stopped")
}

// heartbeatLoop upserts this host's liveness row so the backend can tell a
// dead agent from a quiet one.
func heartbeatLoop(ctx context.Context, store *remote.Store, interval time.Duration, logger *logging.Logger) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	beat := func() {
		hbCtx, hbCancel := context.WithTimeout(ctx, 5*time.Second)
		defer hbCancel()
		if err := store.Heartbeat(hbCtx, host, version); err != nil {
			logger.Plain().WithError(err).Warn("heartbeat failed")
		}
	}

	beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}
