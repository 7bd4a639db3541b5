/*
Package main is the entry point for the Curenium messaging server.

It is responsible for loading configuration, initializing the global logging system,
connecting to the database and object storage, starting the room hub and the presence
sweep, setting up the HTTP server, and gracefully handling operating system interrupt
signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Plannorium/curenium-sub005/internal/app/chat"
	"github.com/Plannorium/curenium-sub005/internal/app/db"
	"github.com/Plannorium/curenium-sub005/internal/app/presence"
	"github.com/Plannorium/curenium-sub005/internal/app/store"
	"github.com/Plannorium/curenium-sub005/internal/app/storage"
	"github.com/Plannorium/curenium-sub005/internal/configs"
	"github.com/Plannorium/curenium-sub005/internal/handler"
	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("presence_sweep_interval", cfg.PresenceSweepInterval).
		Dur("presence_stale_after", cfg.PresenceStaleAfter).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to the database and run migrations
	pool, err := db.NewPool(cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to initialize database connection")
	}
	defer pool.Close()

	// Initialize attachment storage
	storageService, err := storage.NewStorageService(storage.ServiceConfig{
		S3BucketName:      cfg.S3BucketName,
		S3Endpoint:        cfg.S3Endpoint,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		logx.Fatal(err, "Failed to initialize storage service")
	}

	messageStore := store.NewPostgres(pool)
	verifier := chat.NewJWTVerifier(cfg.JWTSecret)

	// Room hub: one coordinator per active room, created lazily
	hub := chat.NewHub(messageStore, verifier, chat.Config{})

	// Presence tracker with its background sweep
	tracker := presence.NewTracker(presence.NewPostgresStore(pool), cfg.PresenceSweepInterval, cfg.PresenceStaleAfter)
	go tracker.Run(ctx)

	deps := &handler.AppDeps{
		Hub:            hub,
		Store:          messageStore,
		Conversations:  chat.NewConversationAggregator(messageStore, chat.DefaultRecentLimit),
		Presence:       tracker,
		StorageService: storageService,
		Config:         cfg,
	}

	router := handler.Router(deps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Curenium Messaging Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	hub.Shutdown()

	logx.Info("Server gracefully stopped.")
}
