package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/courier-dispatch/internal/config"
	"github.com/example/courier-dispatch/internal/directory"
	"github.com/example/courier-dispatch/internal/engine"
	"github.com/example/courier-dispatch/internal/eta"
	httpapi "github.com/example/courier-dispatch/internal/http"
	"github.com/example/courier-dispatch/internal/logging"
	"github.com/example/courier-dispatch/internal/proximity"
	"github.com/example/courier-dispatch/internal/rest"
	"github.com/example/courier-dispatch/internal/socket"
	"github.com/example/courier-dispatch/internal/storage"
	"github.com/example/courier-dispatch/internal/store"
	"github.com/example/courier-dispatch/internal/telemetry"
)

func main() {
	cfg, err := config.LoadAgentConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// real-time store: Redis when configured, in-memory for local runs
	var st store.Store
	var redisStore *store.RedisStore
	if cfg.RedisAddr != "" {
		redisStore = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisStore.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable at startup, writes will retry per tick", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		st = redisStore
	} else {
		st = store.NewMemoryStore()
	}

	var mirror *store.KafkaMirror
	if len(cfg.KafkaBrokers) > 0 {
		mirror = store.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer mirror.Close()
	}

	var dlog storage.DeliveryLog = storage.NewMemoryLog()
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(logger, cfg.PGDSN)
		}
		pg, err := storage.NewPostgresLog(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres unavailable, delivery log stays in memory", "error", err)
		} else {
			dlog = pg
			defer pg.Close()
		}
	}

	samples := telemetry.NewSampleCache()
	effects := proximity.LogEffects{Log: logger}
	prox := proximity.NewAlerter(proximity.NewPulseAlarm(effects, effects), logger)
	dir := directory.New()

	conn := socket.NewManager(cfg.SocketURL, nil, logger)
	conn.SetAcceptTimeout(cfg.AcceptTimeout)
	defer conn.Close()

	restc := rest.NewClient(cfg.RESTBaseURL)

	var eng *engine.Engine
	pub := telemetry.NewPublisher(st, mirror, samples, dir, prox, logger,
		cfg.DriverID, cfg.DriverName, func() bool { return eng != nil && eng.Online() })
	pub.SetDriverInterval(cfg.TelemetryInterval)
	var est eta.Estimator = eta.Heuristic{}
	if cfg.OSRMEndpoint != "" {
		est = eta.Fallback{
			Primary:   eta.NewCached(eta.NewOSRMClient(cfg.OSRMEndpoint), 30*time.Second),
			Secondary: eta.Heuristic{},
		}
	}
	pub.SetEstimator(est)
	defer pub.Stop()

	eng = engine.New(logger, dir, conn, restc, pub, prox, dlog,
		engine.LogNotifier{Log: logger}, cfg.DriverID, cfg.DriverName)
	conn.SetHandler(eng)

	if cfg.DriverToken != "" {
		restc.SetToken(cfg.DriverToken)
		conn.SetToken(cfg.DriverToken)
	}

	go eng.RunSnapshots(ctx, cfg.SnapshotInterval)

	api := httpapi.NewServer(logger, eng, samples)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("courier agent listening", "addr", cfg.HTTPAddr, "driver_id", cfg.DriverID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	eng.SetOnline(context.Background(), false)
	if redisStore != nil {
		_ = redisStore.Close()
	}
	logger.Info("courier agent stopped")
}

func runMigrations(logger *slog.Logger, dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Warn("migration db open failed", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_deliveries.sql"))
	if err != nil {
		logger.Warn("migration file unreadable", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Warn("migration exec failed", "error", err)
	}
}
