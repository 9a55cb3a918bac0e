package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/fleet-commander/internal/orchestrator"
	"github.com/alvesdmateus/fleet-commander/internal/registry"
	"github.com/alvesdmateus/fleet-commander/internal/state"
	"github.com/alvesdmateus/fleet-commander/pkg/config"
	"github.com/alvesdmateus/fleet-commander/pkg/database"
)

// The standalone worker consumes the queues that run without live agent
// connections. Agent-facing queues (report-request, agent-update,
// update-check) are consumed inside the server process, which owns the hub.
var standaloneQueues = []string{
	orchestrator.AutomationImagePoll,
	orchestrator.AutomationHistoryCleanup,
}

func main() {
	// Initialize logger
	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	zlog.Info().Msg("Starting fleet-commander worker")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Connect to database
	zlog.Info().Msg("Connecting to database...")
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
		zlog.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close(db)

	zlog.Info().Msg("Database connected successfully")

	// Run migrations
	if err := database.Migrate(db, state.Models()...); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	repo := state.NewRepository(db)

	// Connect to the broker and build the engine
	engine, err := orchestrator.Initialize(orchestrator.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		Retention:     cfg.Queue.Retention,
		BackoffBase:   cfg.Queue.BackoffBase,
	}, repo, noAgents{}, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize orchestrator")
	}

	zlog.Info().Msg("Broker connected successfully")

	// The standalone queues only need the poller and the repository
	manifests := registry.NewClient(cfg.Registry.RequestTimeout, zlog)
	poller := registry.NewPoller(repo, manifests, cfg.Registry.BatchSize, cfg.Registry.BatchDelay, cfg.Registry.DefaultHost, zlog)

	handlers := orchestrator.NewHandlers(repo, nil, nil, poller, nil, zlog)
	worker := orchestrator.NewWorker(engine, handlers, cfg.Worker.PollTimeout, zlog, standaloneQueues...)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	zlog.Info().Strs("queues", standaloneQueues).Msg("Worker ready")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info().Msg("Shutting down worker...")

	cancel()
	<-done

	if err := engine.Shutdown(); err != nil {
		zlog.Error().Err(err).Msg("Orchestrator shutdown reported errors")
	}

	zlog.Info().Msg("Worker stopped")
}

// noAgents satisfies the engine's connection view for a process without a hub
type noAgents struct{}

func (noAgents) ConnectedIDs() []string { return nil }
