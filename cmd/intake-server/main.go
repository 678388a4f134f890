// cmd/intake-server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leader-intake/internal/api"
	"leader-intake/internal/common/config"
	"leader-intake/internal/common/database"
	"leader-intake/internal/common/logger"
	"leader-intake/internal/common/observability"
	"leader-intake/internal/services/intake"
	"leader-intake/internal/services/review"
	"leader-intake/internal/store"
	"leader-intake/internal/store/migrations"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// backend is the storage the services run against plus what /ready checks.
type backend struct {
	slots        store.SlotStore
	applications store.ApplicationStore
	ready        func(ctx context.Context) error
	closers      []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, zapLog *zap.Logger, log logger.Logger) (*backend, error) {
	b := &backend{}
	var checks []func(ctx context.Context) error

	switch cfg.Database.Driver {
	case config.DriverMemory:
		slots, applications := store.NewMemoryStores(nil)
		b.slots, b.applications = slots, applications
		zapLog.Warn("Using in-memory storage, data is lost on restart")

	case config.DriverPostgres:
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pg.Close)
		checks = append(checks, pg.Ping)
		zapLog.Info("PostgreSQL connected successfully")

		if cfg.Database.Postgres.AutoMigrate {
			if err := migrations.Apply(ctx, pg.DB); err != nil {
				b.Close()
				return nil, err
			}
			zapLog.Info("Database migrations applied")
		}

		b.slots = store.NewPostgresSlotStore(pg.DB, nil)
		b.applications = store.NewPostgresApplicationStore(pg.DB, nil)
	}

	if cfg.Database.Redis.Enabled {
		var rdb *database.RedisClient
		err := retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, rdb.Close)
		checks = append(checks, rdb.Ping)
		zapLog.Info("Redis connected successfully, caching slot roster")

		b.slots = store.NewCachedSlotStore(b.slots, rdb.Client, config.GetDuration(cfg.Cache.SlotsTTL), log)
	}

	b.ready = func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return b, nil
}

func main() {
	configPath := flag.String("config", "", "Path to a config file (defaults to ./configs/config.yaml)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting intake server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("driver", cfg.Database.Driver),
	)

	obs := observability.New(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := openBackend(ctx, cfg, zapLog, log)
	if err != nil {
		zapLog.Fatal("storage initialization failed", zap.Error(err))
	}
	defer b.Close()

	intakeSvc := intake.NewService(intake.LoadConfig(cfg.Intake), b.slots, b.applications, log, obs)
	reviewSvc := review.NewService(b.slots, b.applications, cfg.Intake.DefaultAvatar, log)

	handler := api.NewHandler(intakeSvc, reviewSvc, api.Limits{
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		MaxImageBytes: cfg.Intake.MaxImageBytes,
	}, log)

	opts := api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Ready:          b.ready,
	}
	if cfg.RateLimit.Enabled {
		opts.Limiter = api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, log)
		opts.Limiter.StartCleanup(ctx, 10*time.Minute)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewRouter(handler, opts, log),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	zapLog.Info("Shutdown signal received, draining requests...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http server shutdown failed", zap.Error(err))
	}
	cancel()

	zapLog.Info("Intake server stopped")
}
