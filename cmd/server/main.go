package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kazerdira/nighthost/internal/api"
	"github.com/kazerdira/nighthost/internal/bus"
	"github.com/kazerdira/nighthost/internal/config"
	"github.com/kazerdira/nighthost/internal/game"
	"github.com/kazerdira/nighthost/internal/journal"
	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
	"github.com/kazerdira/nighthost/internal/store"
)

func main() {
	// Load .env file (ignore error in production where env vars are set directly)
	_ = godotenv.Load("../../.env")
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Server.Environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	roles.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshotStore, err := store.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer snapshotStore.Close()
	logger.Info("Connected to redis")

	// The event journal is optional; an empty DSN runs without it.
	var eventJournal game.Journal
	if cfg.Postgres.DSN != "" {
		j, err := journal.New(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			logger.Fatal("Failed to connect to postgres", zap.Error(err))
		}
		defer j.Close()
		eventJournal = j
		logger.Info("Event journal enabled")
	}

	wsHub := bus.NewHub(logger)
	go wsHub.Run(ctx)
	logger.Info("WebSocket hub started")

	registry := game.NewRegistry(wsHub, snapshotStore, eventJournal, cfg.Game, logger)
	wsHub.SetSink(func(roomCode, uid string, env models.Envelope) {
		coord, err := registry.Get(roomCode)
		if err != nil {
			return
		}
		coord.Post(uid, env)
	})

	// Bring back rooms that were live before the last restart.
	registry.Rehydrate(ctx)
	go registry.RunJanitor(ctx)

	handler := api.NewHandler(registry, wsHub, cfg, logger)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", handler.Health)

	public := router.Group("/api/v1")
	{
		public.POST("/auth/guest", handler.GuestLogin)
	}

	protected := router.Group("/api/v1")
	protected.Use(api.AuthRequired(cfg.JWT.Secret))
	{
		protected.POST("/rooms", handler.CreateRoom)
		protected.GET("/rooms", handler.ListRooms)
		protected.GET("/rooms/:code", handler.GetRoom)

		// WebSocket join; auth travels on the token query param.
		protected.GET("/rooms/:code/ws", handler.HandleWebSocket)
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	// Room loops stop first; snapshots stay in redis for the next boot.
	registry.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}
