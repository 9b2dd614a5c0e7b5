package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/checkin/config"
	"github.com/cppla/checkin/controllers"
	"github.com/cppla/checkin/models"
	"github.com/cppla/checkin/routes"
	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/store"
	"github.com/cppla/checkin/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		utils.Logger.Fatal("record store init failed", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}

	timeout := time.Duration(cfg.StoreTimeoutSec) * time.Second
	invalidateUsers := func() { utils.InvalidateByPrefix(utils.UsersCachePrefix) }

	checkins := services.NewCheckInService(backend,
		services.WithLocker(utils.NewUserLocker(utils.GetRedis(), time.Duration(cfg.LockTTLSec)*time.Second)),
		services.WithTimeout(timeout),
		services.WithLogger(utils.Logger.Named("checkin")),
		services.WithWriteHook(func(string) { invalidateUsers() }),
	)
	stats := services.NewStatsReader(backend, nil, timeout)
	importer := services.NewImporter(backend, timeout, utils.Logger.Named("import"), invalidateUsers)

	r := routes.SetupRouter(cfg, routes.Handlers{
		CheckIn: controllers.NewCheckInController(checkins, stats),
		Users:   controllers.NewUsersController(backend, timeout, time.Duration(cfg.UsersCacheTTLSec)*time.Second),
		Import:  controllers.NewImportController(importer, cfg.ImportMaxBytes),
		Setup:   controllers.NewSetupController(backend, timeout),
	})

	closeRedis := func() {
		if rc := utils.GetRedis(); rc != nil {
			_ = rc.Close()
		}
	}

	utils.Sugar.Infof("Starting server on port %s (backend=%s, graceful)", cfg.AppPort, cfg.StoreBackend)
	if err := utils.GraceServer(":"+cfg.AppPort, r, closeBackend, closeRedis); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}

// openBackend connects the configured record store and returns a close func.
func openBackend(cfg config.AppConfig) (store.Backend, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgrest:
		if cfg.SupabaseURL == "" || cfg.SupabaseAPIKey == "" {
			return nil, nil, fmt.Errorf("supabase url and api key are required for the %q backend", cfg.StoreBackend)
		}
		st := store.NewPostgrestStore(cfg.SupabaseURL, cfg.SupabaseAPIKey, cfg.SupabaseSchema, utils.Logger.Named("postgrest"))
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.StoreTimeoutSec)*time.Second)
		defer cancel()
		switch _, err := st.EnsureTable(ctx); {
		case errors.Is(err, store.ErrTableMissing):
			utils.Logger.Warn("users table missing, see /api/setup-db")
		case errors.Is(err, store.ErrVersionMissing):
			utils.Logger.Warn("users table has no version column, see /api/setup-db")
		case err != nil:
			utils.Logger.Warn("supabase not reachable at boot", zap.Error(err))
		}
		return st, func() {}, nil

	case config.StoreBackendSQL:
		db := config.InitDatabase(&models.CheckInRecord{})
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		st := store.NewGormStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.StoreTimeoutSec)*time.Second)
		defer cancel()
		if _, err := st.EnsureTable(ctx); err != nil {
			closeDB()
			return nil, nil, err
		}
		return st, closeDB, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
