package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/fleet-commander/internal/api"
	"github.com/alvesdmateus/fleet-commander/internal/command"
	"github.com/alvesdmateus/fleet-commander/internal/hub"
	"github.com/alvesdmateus/fleet-commander/internal/orchestrator"
	"github.com/alvesdmateus/fleet-commander/internal/registry"
	"github.com/alvesdmateus/fleet-commander/internal/state"
	"github.com/alvesdmateus/fleet-commander/internal/version"
	"github.com/alvesdmateus/fleet-commander/pkg/config"
	"github.com/alvesdmateus/fleet-commander/pkg/database"
)

func main() {
	// Initialize logger
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	setLogLevel(cfg.Server.LogLevel)

	log.Info().
		Str("app", "fleet-commander").
		Str("port", cfg.Server.Port).
		Msg("Starting application")

	// Connect to database
	dbConfig := database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	db, err := database.New(dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	// Run migrations
	if err := database.Migrate(db, state.Models()...); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	if err := database.HealthCheck(db); err != nil {
		log.Fatal().Err(err).Msg("Database health check failed")
	}

	log.Info().Msg("Database is healthy")

	repo := state.NewRepository(db)

	// Connection hub and command fan-out
	agentHub := hub.New(log.Logger)
	dispatcher := command.NewDispatcher(agentHub, log.Logger)

	// Release feed and version negotiation
	feed := version.NewReleaseFeed(cfg.Updates.ReleaseFeedURL, cfg.Updates.RequestTimeout, log.Logger)
	negotiator := version.NewNegotiator(feed, agentHub, dispatcher, cfg.Updates.DownloadURL, log.Logger)

	if bundled, err := version.ReadCurrent(cfg.Updates.VersionFile); err != nil {
		log.Warn().Err(err).Msg("Bundled agent version unknown, relying on release feed only")
	} else {
		log.Info().Str("agent_version", bundled).Msg("Bundled agent version")
	}

	// Registry digest poller
	manifests := registry.NewClient(cfg.Registry.RequestTimeout, log.Logger)
	poller := registry.NewPoller(repo, manifests, cfg.Registry.BatchSize, cfg.Registry.BatchDelay, cfg.Registry.DefaultHost, log.Logger)

	// Job orchestration: engine, handlers, in-process worker, scheduler
	engine, err := orchestrator.Initialize(orchestrator.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		Retention:     cfg.Queue.Retention,
		BackoffBase:   cfg.Queue.BackoffBase,
	}, repo, agentHub, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize orchestrator")
	}

	handlers := orchestrator.NewHandlers(repo, dispatcher, negotiator, poller, feed, log.Logger)
	worker := orchestrator.NewWorker(engine, handlers, cfg.Worker.PollTimeout, log.Logger)
	scheduler := orchestrator.NewScheduler(engine, log.Logger)
	scheduler.ScheduleAll(
		orchestrator.Schedule{Every: updateCheckInterval(repo, cfg.Scheduler.UpdateCheckFallback)},
		orchestrator.Schedule{Every: cfg.Scheduler.ImagePollEvery, Anchor: cfg.Scheduler.ImagePollAnchor},
		orchestrator.Schedule{Every: cfg.Scheduler.CleanupEvery, Anchor: cfg.Scheduler.CleanupAnchor},
	)

	// Background tasks run until shutdown
	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bg sync.WaitGroup

	bg.Add(1)
	go func() {
		defer bg.Done()
		feed.Run(bgCtx, cfg.Updates.RefreshInterval)
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		worker.Start(bgCtx)
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		scheduler.Run(bgCtx)
	}()

	// Agent websocket endpoint
	directory := api.NewHostDirectory(repo, log.Logger)
	agentSocket := hub.NewHandler(agentHub, directory, cfg.Hub.HeartbeatTimeout, cfg.Hub.WriteTimeout, log.Logger)

	// HTTP server
	apiServer := api.NewServer(api.Deps{
		DB:           db,
		Repo:         repo,
		Hub:          agentHub,
		AgentSocket:  agentSocket,
		Engine:       engine,
		Updater:      negotiator,
		FleetUpdater: negotiator,
		Broadcast:    dispatcher,
		Pusher:       dispatcher,
		Scheduler:    scheduler,
	})
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Msg("Application ready")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down application...")

	// Stop the scheduler, worker and feed, then close agent sockets, then
	// the queues with the broker connection last
	bgCancel()
	bg.Wait()

	agentHub.CloseAll()

	if err := engine.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Orchestrator shutdown reported errors")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Application stopped")
}

// updateCheckInterval reads the configured polling interval from settings,
// falling back to the static default before any admin has set one
func updateCheckInterval(repo *state.Repository, fallback time.Duration) time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	minutes, err := repo.GetPollIntervalMinutes(ctx)
	if err != nil || minutes <= 0 {
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}

// setLogLevel sets the global log level based on configuration
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
