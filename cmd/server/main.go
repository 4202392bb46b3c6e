// Package main is the entry point for the tickerbrief service: a daily
// pipeline that precomputes one analytical brief per ticker and serves them
// from a two-tier cache.
//
// Startup sequence:
//  1. Load configuration from environment variables (.env supported)
//  2. Initialize structured logging
//  3. Open and migrate the five databases
//  4. Wire repositories, the compute pipeline, and the query service
//  5. Register the scheduled daily run and the cache reaper
//  6. Start the HTTP server and wait for a shutdown signal
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tickerbrief/internal/artifacts"
	"github.com/aristath/tickerbrief/internal/cache"
	"github.com/aristath/tickerbrief/internal/compute"
	"github.com/aristath/tickerbrief/internal/config"
	"github.com/aristath/tickerbrief/internal/database"
	"github.com/aristath/tickerbrief/internal/domain"
	"github.com/aristath/tickerbrief/internal/fanout"
	"github.com/aristath/tickerbrief/internal/ledger"
	"github.com/aristath/tickerbrief/internal/query"
	"github.com/aristath/tickerbrief/internal/scheduler"
	"github.com/aristath/tickerbrief/internal/server"
	"github.com/aristath/tickerbrief/internal/snapshots"
	"github.com/aristath/tickerbrief/internal/universe"
	"github.com/aristath/tickerbrief/internal/worker"
	"github.com/aristath/tickerbrief/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting tickerbrief")

	// Databases. The ledger gets the durable profile: it is the authority on
	// what has and has not been computed. The cache gets the fast profile:
	// every row in it is re-derivable.
	openDB := func(name string, profile database.DatabaseProfile) *database.DB {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			log.Fatal().Err(err).Str("database", name).Msg("Failed to open database")
		}
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", name).Msg("Failed to migrate database")
		}
		return db
	}

	universeDB := openDB("universe", database.ProfileStandard)
	snapshotsDB := openDB("snapshots", database.ProfileStandard)
	ledgerDB := openDB("ledger", database.ProfileLedger)
	artifactsDB := openDB("artifacts", database.ProfileStandard)
	cacheDB := openDB("cache", database.ProfileCache)

	defer universeDB.Close()
	defer snapshotsDB.Close()
	defer ledgerDB.Close()
	defer artifactsDB.Close()
	defer cacheDB.Close()

	// Repositories.
	universeRepo := universe.NewRepository(universeDB.Conn())
	snapshotRepo := snapshots.NewRepository(snapshotsDB.Conn())
	ledgerRepo := ledger.NewRepository(ledgerDB.Conn(), log)
	artifactRepo := artifacts.NewRepository(artifactsDB.Conn())

	if err := seedUniverse(universeRepo, cfg.UniverseSeed, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed universe")
	}

	// Tier-2 cache backend: sqlite by default, S3/R2 when configured.
	var tier2 cache.Store = cache.NewSQLiteStore(cacheDB.Conn())
	if cfg.CacheBackend == "s3" {
		s3Store, err := cache.NewS3Store(context.Background(), cfg.S3)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 cache backend")
		}
		tier2 = s3Store
		log.Info().Str("bucket", cfg.S3.Bucket).Msg("Using S3 cache backend")
	}
	cacheManager := cache.NewManager(tier2, cfg.CacheTTL, log)

	// Compute pipeline.
	computer := compute.NewTechnicalComputer(log)
	w := worker.New(ledgerRepo, snapshotRepo, computer, artifactRepo, cacheManager, cfg.WorkerTimeout, log)
	fanoutController := fanout.NewController(
		universeRepo, ledgerRepo, w,
		cfg.WorkerConcurrency, cfg.MaxAttempts, cfg.ComputeRatePerMin,
		log,
	)

	queryService := query.NewService(cacheManager, ledgerRepo, artifactRepo, snapshotRepo, computer, log)

	// Scheduled jobs: the daily run and the cache reaper.
	sched := scheduler.New(log)
	dailyRun := scheduler.NewDailyRunJob(
		fanoutController, ledgerRepo, snapshotRepo, universeRepo,
		cfg.ReadinessTimeout, cfg.ReadinessPoll,
		log,
	)
	if err := sched.AddJob(cfg.RunSchedule, dailyRun); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.RunSchedule).Msg("Failed to register daily run")
	}
	if err := sched.AddJob("15 3 * * *", cache.NewReaperJob(cacheManager, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cache reaper")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server.
	srv := server.New(server.Config{
		Port:          cfg.Port,
		Log:           log,
		BriefHandlers: server.NewBriefHandlers(queryService, log),
		RunHandlers:   server.NewRunHandlers(fanoutController, ledgerRepo, log),
		SystemHandlers: server.NewSystemHandlers(
			[]*database.DB{universeDB, snapshotsDB, ledgerDB, artifactsDB, cacheDB},
			queryService,
			log,
		),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}

// seedUniverse loads the configured seed symbols into an empty universe.
// A populated universe is left alone so operator edits survive restarts.
func seedUniverse(repo *universe.Repository, seed []string, log zerolog.Logger) error {
	if len(seed) == 0 {
		return nil
	}
	count, err := repo.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, symbol := range seed {
		if err := repo.Upsert(domain.Ticker{Symbol: symbol, Active: true}); err != nil {
			return err
		}
	}
	log.Info().Int("symbols", len(seed)).Msg("Seeded ticker universe")
	return nil
}
