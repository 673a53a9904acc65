package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/log"

	"github.com/VoidMesh/terrain/cmd/debug/models"
	"github.com/VoidMesh/terrain/config"
	"github.com/VoidMesh/terrain/services/chunkstore"
	"github.com/VoidMesh/terrain/services/geometry"
	"github.com/VoidMesh/terrain/services/heightfield"
	"github.com/VoidMesh/terrain/services/heightquery"
	"github.com/VoidMesh/terrain/services/lod"
	"github.com/VoidMesh/terrain/services/streaming"
)

func main() {
	configPath := flag.String("config", "", "Path to the terrain config file")
	storePath := flag.String("store", "", "Optional sqlite chunk store path")
	logLevel := flag.String("log", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	// TUI owns the terminal; keep the logger quiet unless asked.
	switch *logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}

	if len(os.Getenv("DEBUG")) > 0 {
		f, err := tea.LogToFile("debug.log", "debug")
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		defer f.Close()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	field := heightfield.New(cfg.Noise, cfg.Terrain.MaxHeight)
	policy := lod.NewPolicy(cfg.Lod)
	builder := geometry.NewBuilder(field, cfg.Terrain, policy.Levels())

	var store streaming.StoreInterface
	if *storePath != "" {
		s, err := chunkstore.Open(*storePath, cfg.Noise.Seed)
		if err != nil {
			log.Fatal("Failed to open chunk store", "error", err, "path", *storePath)
		}
		defer s.Close()
		store = s
	}

	manager := streaming.NewManager(cfg.Streaming, cfg.Terrain, builder, store)
	defer manager.Close()

	query := heightquery.NewService(manager, field, cfg.Terrain.ChunkSize)

	view := models.NewStreamView(cfg, manager, policy, query)
	program := tea.NewProgram(view, tea.WithAltScreen())

	log.Info("Starting terrain streaming visualizer", "seed", cfg.Noise.Seed, "render_distance", cfg.Streaming.RenderDistance)

	if _, err := program.Run(); err != nil {
		log.Fatal("Error running visualizer", "error", err)
	}
}
