package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/efreitasn/predictbook/internal/config"
	"github.com/efreitasn/predictbook/internal/engine"
	"github.com/efreitasn/predictbook/internal/events"
	"github.com/efreitasn/predictbook/internal/handler"
	"github.com/efreitasn/predictbook/internal/relay"
	"github.com/efreitasn/predictbook/internal/service"
	"github.com/efreitasn/predictbook/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Persistence.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	snapshots, err := store.OpenSnapshotStore(filepath.Join(cfg.DataDir, "snapshots"))
	if err != nil {
		return err
	}
	defer snapshots.Close()

	fills, err := store.OpenFillJournal(filepath.Join(cfg.DataDir, "fills.db"))
	if err != nil {
		return err
	}
	defer fills.Close()

	orders := store.NewOrderStore()

	// Event fan-out.
	bus := events.NewBus(cfg.BusBuffer, logger.Named("bus"))
	defer bus.Close()
	publisher := service.NewPublisher(orders, fills, bus, logger.Named("publisher"))

	// Engine.
	registry := engine.NewRegistry(nil)
	oracle := engine.NewManualOracle()
	settlement := engine.NewSettlement(registry, oracle, nil)
	watcher := engine.NewResolutionWatcher(cfg.ResolutionInterval, settlement, publisher, logger.Named("watcher"))

	// Services.
	marketSvc := service.NewMarketService(registry, settlement, oracle, watcher, fills, publisher)
	orderSvc := service.NewOrderService(registry, orders, publisher)
	accountSvc := service.NewAccountService(registry, fills)
	dispatcher := service.NewDispatcher(orderSvc, marketSvc)
	chainhookSvc := service.NewChainhookService(dispatcher, accountSvc, marketSvc, logger.Named("chainhook"))

	// Rebuild markets from the last snapshots before accepting traffic.
	snapshotJob := service.NewSnapshotJob(cfg.SnapshotInterval, registry, snapshots, orders, logger.Named("snapshot"))
	restored, err := snapshotJob.RestoreAll()
	if err != nil {
		return fmt.Errorf("restore snapshots: %w", err)
	}
	for _, m := range restored {
		watcher.Add(m)
	}
	logger.Info("markets restored", zap.Int("count", len(restored)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := relay.NewHub(logger)
	go hub.Run(ctx, bus.Subscribe().Events())

	if len(cfg.KafkaBrokers) > 0 {
		sink := relay.NewKafkaSink(relay.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger)
		go sink.Run(ctx, bus.Subscribe().Events())
		logger.Info("kafka sink enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	watcher.Start(ctx)
	snapshotJob.Start(ctx)

	// Router.
	router := handler.NewRouter(handler.Services{
		Markets:   marketSvc,
		Orders:    orderSvc,
		Accounts:  accountSvc,
		Chainhook: chainhookSvc,
	}, handler.RouterOptions{
		CORSOrigins:   cfg.CORSOrigins,
		WebhookSecret: cfg.WebhookSecret,
		Relay:         hub,
	}, logger.Named("http"))

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop HTTP server, stop background jobs, then write
	// a final snapshot of every market.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	cancel()

	if err := snapshotJob.RunOnce(); err != nil {
		logger.Error("final snapshot failed", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

// newLogger builds a JSON production logger at the given level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
