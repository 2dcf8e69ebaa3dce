// Package main is the entry point for the chat game server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chat-game-server/internal/command"
	"chat-game-server/internal/config"
	"chat-game-server/internal/game"
	"chat-game-server/internal/game/dice"
	"chat-game-server/internal/game/lowcard"
	"chat-game-server/internal/ingress"
	"chat-game-server/internal/ledger"
	"chat-game-server/internal/moderation"
	"chat-game-server/internal/pkg/db"
	"chat-game-server/internal/realtime"
	"chat-game-server/internal/repository"
	"chat-game-server/internal/store"
	"chat-game-server/internal/tasks"
	"chat-game-server/internal/timer"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Msg("Configuration loaded successfully")

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	health := db.NewHealth()
	health.Add("postgres", dbPool.HealthCheck)

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	roomRepo := repository.NewRoomRepository(dbPool.Pool)
	messageRepo := repository.NewMessageRepository(dbPool.Pool)

	// Ephemeral state and ledger cache
	var (
		stateStore   store.Store
		balanceCache ledger.Cache
		redisClient  *redis.Client
	)
	switch cfg.Store.Backend {
	case "memory":
		stateStore = store.NewMemory()
		balanceCache = ledger.NewMemoryCache()
		log.Warn().Msg("Using in-memory state store, state is not shared between instances")
	default:
		redisClient, err = db.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer redisClient.Close()
		health.Add("redis", db.RedisCheck(redisClient))
		stateStore = store.NewRedis(redisClient)
		balanceCache = ledger.NewRedisCache(redisClient)
	}

	hub := realtime.NewHub()
	ledgerService := ledger.NewService(balanceCache, userRepo, hub)

	taskRunner := tasks.NewRunner(cfg.Tasks)
	timers := timer.NewOrchestrator()

	// Initialize game registry and register games
	gameRegistry := game.NewRegistry()
	if err := gameRegistry.Register(dice.New(&dice.Config{
		Settings: game.SettingsFromConfig(cfg.Games.Dice),
	})); err != nil {
		log.Fatal().Err(err).Msg("Failed to register dice game")
	}
	if err := gameRegistry.Register(lowcard.New(&lowcard.Config{
		Settings: game.SettingsFromConfig(cfg.Games.LowCard),
	})); err != nil {
		log.Fatal().Err(err).Msg("Failed to register low card game")
	}

	engine := game.NewEngine(gameRegistry, stateStore, ledgerService, timers, hub, game.Options{
		StartLockTTL: cfg.Games.StartLock,
		Tasks:        taskRunner,
	})

	dispatcher := command.New(command.Deps{
		Registry:  gameRegistry,
		Engine:    engine,
		Store:     stateStore,
		Rooms:     roomRepo,
		Notifier:  hub,
		Announcer: hub,
		IsAdmin:   cfg.IsAdmin,
	})

	log.Info().
		Int("game_count", gameRegistry.Count()).
		Strs("verbs", dispatcher.Verbs()).
		Msg("Games registered")

	pipeline := ingress.New(cfg.Ingress, ingress.Deps{
		Store:      stateStore,
		Rooms:      roomRepo,
		Moderation: moderation.New(stateStore),
		Commands:   dispatcher,
		Chat:       hub,
		History:    messageRepo,
		Tasks:      taskRunner,
	})

	go hub.Run(ctx)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           realtime.NewRouter(realtime.NewHandler(ctx, hub, pipeline, userRepo), cfg.Server.WSPath, health),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("ws_path", cfg.Server.WSPath).Msg("Server is starting...")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Pending phase timers are dropped; their sessions expire from the store.
	timers.Stop()
	taskRunner.Close()
	log.Info().Msg("Server stopped gracefully")
}
