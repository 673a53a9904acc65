package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/VoidMesh/terrain/config"
	"github.com/VoidMesh/terrain/internal/logging"
	"github.com/VoidMesh/terrain/services/chunkstore"
	"github.com/VoidMesh/terrain/services/geometry"
	"github.com/VoidMesh/terrain/services/heightfield"
	"github.com/VoidMesh/terrain/services/heightquery"
	"github.com/VoidMesh/terrain/services/lod"
	"github.com/VoidMesh/terrain/services/streaming"
)

// Serve assembles the terrain engine from configuration, starts the
// streaming tick loop, and serves the debug/telemetry API until a
// shutdown signal arrives.
func Serve() {
	cfg, err := config.Load(os.Getenv("TERRAIN_CONFIG"))
	if err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log.Debug("Configuration loaded",
		"chunk_size", cfg.Terrain.ChunkSize,
		"resolution", cfg.Terrain.Resolution,
		"render_distance", cfg.Streaming.RenderDistance,
		"seed", cfg.Noise.Seed)

	// Shared engine components; the config value is immutable and passed
	// by reference, there is no global engine state.
	field := heightfield.New(cfg.Noise, cfg.Terrain.MaxHeight)
	policy := lod.NewPolicy(cfg.Lod)
	builder := geometry.NewBuilder(field, cfg.Terrain, policy.Levels())

	var store streaming.StoreInterface
	if cfg.Store.Enabled {
		s, err := chunkstore.Open(cfg.Store.Path, cfg.Noise.Seed)
		if err != nil {
			log.Fatal("Failed to open chunk store", "error", err)
		}
		defer s.Close()
		store = s
		log.Info("Chunk store enabled", "path", cfg.Store.Path)
	}

	manager := streaming.NewManager(cfg.Streaming, cfg.Terrain, builder, store)
	defer manager.Close()

	query := heightquery.NewService(manager, field, cfg.Terrain.ChunkSize)

	viewer := &viewerState{}

	// Background streaming loop, same shape as any game update tick.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx, viewer.get)

	handler := NewHandler(cfg, manager, policy, query, viewer)
	router := SetupRoutes(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Starting terrain debug server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info("Shutting down server...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server exited")
}
