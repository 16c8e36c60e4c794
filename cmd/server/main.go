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

	"collab-engine/internal/api"
	"collab-engine/internal/config"
	"collab-engine/internal/db"
	"collab-engine/internal/engine"
	"collab-engine/internal/repository"
	"collab-engine/internal/services"
	"collab-engine/internal/services/collaboration"
	"collab-engine/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting collaborative session engine...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing first so everything downstream is traced
	jaegerShutdown, err := telemetry.InitJaeger("collab-engine", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Session engine: the registry owns every live session
	registry := engine.NewRegistry(cfg.DefaultMaxParticipants)

	// Optional Postgres archive behind a worker pool, so persistence never
	// blocks a session mutation
	var archiver *services.Archiver
	if cfg.ArchiveEnabled() {
		database, err := db.NewGorm(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer database.Close()

		historyRepo := repository.NewHistoryRepository(database.DB)
		archiver = services.NewArchiver(historyRepo, cfg.ArchiveWorkers, cfg.ArchiveQueueSize)
		archiver.Start()
		registry.SetArchiver(archiver)
	} else {
		log.Println("  No DB_HOST configured, running memory-only")
	}

	// Fan-out hub with optional Redis relay for multi-node rooms
	hub := collaboration.NewHub(registry)
	if cfg.RedisAddr != "" {
		relay, err := collaboration.NewRelay(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis relay: %v", err)
		}
		hub.SetRelay(relay)
	}
	hub.Start()

	// WebSocket handler
	wsHandler := collaboration.NewWebSocketHandler(hub)

	// REST mirror with dependency injection
	handler := api.NewHandler(registry, hub, wsHandler)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 API Endpoints:")
		log.Printf("   POST   /api/sessions                  - Create session")
		log.Printf("   POST   /api/sessions/:id/join         - Join session")
		log.Printf("   POST   /api/sessions/:id/changes      - Apply change")
		log.Printf("   POST   /api/sessions/:id/undo         - Undo")
		log.Printf("   POST   /api/sessions/:id/redo         - Redo")
		log.Printf("   POST   /api/sessions/:id/comments     - Add comment")
		log.Printf("   GET    /api/sessions/:id/snapshot     - Point-in-time snapshot")
		log.Printf("   GET    /api/sessions/:id/export       - Export change history")
		log.Printf("   WS     /ws/sessions/:id               - Join session room")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Stop producers before the archive pool so nothing races a closing queue
	hub.Shutdown()

	if archiver != nil {
		archiver.Shutdown()
	}

	log.Println("✓ Server shutdown complete")
}
