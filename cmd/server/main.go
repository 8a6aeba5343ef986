package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"formpulse-backend/internal/config"
	"formpulse-backend/internal/database"
	"formpulse-backend/internal/finalizer"
	"formpulse-backend/internal/handlers"
	"formpulse-backend/internal/middleware"
	"formpulse-backend/internal/models"
	"formpulse-backend/internal/repository"
	"formpulse-backend/internal/retention"
	"formpulse-backend/internal/router"
	"formpulse-backend/internal/storage"
	"formpulse-backend/internal/websocket"
)

func main() {
	log.Println("🚀 Starting FormPulse Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Step 5: Initialize Blob Storage ────
	chunkStore, err := storage.NewLocalStore(cfg.StoragePath)
	if err != nil {
		log.Fatalf("✗ Blob storage initialization failed: %v", err)
	}
	log.Printf("✓ Blob storage ready at %s", cfg.StoragePath)

	// ──── Initialize Repositories ────
	sessionRepo := repository.NewSessionRepo(pool)
	heatmapRepo := repository.NewHeatmapRepo(pool)

	// ──── Step 6: Start Finalizer Worker Pool ────
	finalizerPool := finalizer.NewPool(redisClients.Queue, sessionRepo, chunkStore, cfg.FinalizerWorkers)
	finalizerPool.Start()

	// ──── Step 7: Start Retention Sweeper ────
	sweeper := retention.NewSweeper(
		sessionRepo,
		chunkStore,
		heatmapRepo,
		func(uuid.UUID) int { return cfg.RetentionDays },
		[]byte(cfg.RetentionHashKey),
	)
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case <-ticker.C:
				sweeper.Sweep(context.Background())
			}
		}
	}()
	log.Printf("✓ Retention sweeper scheduled (every 24h, %d day default)", cfg.RetentionDays)

	// ──── Initialize Handlers ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	captureConfig := models.CaptureConfig{
		RecordingEnabled: true,
		SamplingRate:     float64(cfg.SamplingRatePercent) / 100,
		HeatmapsEnabled:  true,
	}
	activityCache := &handlers.RedisActivityCache{Client: redisClients.Queue}
	enqueueFinalize := func(ctx context.Context, sessionID uuid.UUID) error {
		return finalizer.Enqueue(ctx, redisClients.Queue, sessionID)
	}

	recordingHandler := handlers.NewRecordingHandler(sessionRepo, chunkStore, activityCache, enqueueFinalize, captureConfig)
	sessionHandler := handlers.NewSessionHandler(sessionRepo, chunkStore)
	heatmapHandler := handlers.NewHeatmapHandler(heatmapRepo)
	retentionHandler := handlers.NewRetentionHandler(sweeper)

	// ──── Step 8: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)
	log.Println("✓ WebSocket hub started")

	// ──── Step 9: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		recordingHandler,
		sessionHandler,
		heatmapHandler,
		retentionHandler,
		wsHub,
		cfg.DashboardURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		finalizerPool.Stop()
		close(sweepDone)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ FormPulse Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
