// cmd/tools/roster-init/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"leader-intake/internal/common/config"
	"leader-intake/internal/common/database"
	apperrors "leader-intake/internal/common/errors"
	apiclient "leader-intake/internal/common/http"
	"leader-intake/internal/common/logger"
	"leader-intake/internal/models"
	"leader-intake/internal/services/review"
	"leader-intake/internal/store"
	"leader-intake/internal/store/migrations"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (defaults to ./configs/config.yaml)")
	apiURL := flag.String("api", "", "Base URL of a running intake server; when set the roster is created over HTTP")
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations and exit")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	zapLog := logger.New("info", "console", "stderr")
	defer zapLog.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		slots []models.Slot
		err   error
	)
	if *apiURL != "" {
		slots, err = initializeRemote(ctx, *apiURL, *timeout)
	} else {
		slots, err = initializeLocal(ctx, *configPath, *migrateOnly, zapLog)
	}

	if apperrors.IsCode(err, apperrors.ErrCodeAlreadyInitialized) {
		zapLog.Info("Roster already initialized, nothing to do")
		return
	}
	if err != nil {
		zapLog.Error("roster initialization failed", zap.Error(err))
		os.Exit(1)
	}

	for _, slot := range slots {
		fmt.Printf("%d\t%s\t%s\n", slot.Position, slot.ID, slot.Status)
	}
}

func initializeRemote(ctx context.Context, baseURL string, timeout time.Duration) ([]models.Slot, error) {
	client := apiclient.NewClient(baseURL, timeout)

	var slots []models.Slot
	if err := client.PostJSON(ctx, "/api/slots", nil, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func initializeLocal(ctx context.Context, configPath string, migrateOnly bool, zapLog *zap.Logger) ([]models.Slot, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("local initialization needs the postgres driver, got %q; use -api for a running server", cfg.Database.Driver)
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	defer pg.Close()
	if err := pg.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	if err := migrations.Apply(ctx, pg.DB); err != nil {
		return nil, err
	}
	zapLog.Info("Database migrations applied")
	if migrateOnly {
		return nil, nil
	}

	log := logger.NewZapAdapter(zapLog)
	var slotStore store.SlotStore = store.NewPostgresSlotStore(pg.DB, nil)
	if cfg.Database.Redis.Enabled {
		rdb, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return nil, err
		}
		defer rdb.Close()
		// Initialize drops the cached roster on success.
		slotStore = store.NewCachedSlotStore(slotStore, rdb.Client, config.GetDuration(cfg.Cache.SlotsTTL), log)
	}

	svc := review.NewService(slotStore, store.NewPostgresApplicationStore(pg.DB, nil), cfg.Intake.DefaultAvatar, log)
	return svc.InitializeRoster(ctx)
}
