package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"swarmgrid/internal/api"
	"swarmgrid/internal/config"
	"swarmgrid/internal/fixed"
	"swarmgrid/internal/sim"
	"swarmgrid/internal/spatial"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🐝 ================================")
	log.Println("🐝  SWARMGRID - ARENA")
	log.Println("🐝  Staggered dual-grid index")
	log.Println("🐝 ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig := config.Load()
	worldCfg := appConfig.World
	indexCfg := appConfig.Index
	serverCfg := appConfig.Server

	classes, err := indexCfg.ClassSpecs()
	if err != nil {
		log.Fatalf("❌ Bad INDEX_CLASSES: %v", err)
	}

	log.Printf("🗺️ World: %dx%d, %d agents max, %d at start, %d TPS",
		worldCfg.Size, worldCfg.Size, worldCfg.MaxEntities,
		worldCfg.InitialEntities, worldCfg.TickRate)
	log.Printf("⚙️ Index: %d size classes, move budget %.0f%%, frag threshold %.0f%%",
		len(classes), indexCfg.MoveFraction*100, indexCfg.FragThreshold*100)
	log.Printf("🎲 Seed: %d (same seed, same run)", worldCfg.Seed)

	bounds := spatial.Bounds{
		Min: fixed.VecFromInt(0, 0),
		Max: fixed.VecFromInt(worldCfg.Size, worldCfg.Size),
	}

	idx, err := spatial.New(spatial.Config{
		Bounds:             bounds,
		Classes:            classes,
		MaxEntities:        worldCfg.MaxEntities,
		MoveFraction:       indexCfg.MoveFraction,
		FragThreshold:      indexCfg.FragThreshold,
		RebuildBudget:      indexCfg.RebuildBudget,
		Workers:            worldCfg.Workers,
		OversizedAllowance: indexCfg.OversizedAllowance,
	})
	if err != nil {
		log.Fatalf("❌ Index rejected config: %v", err)
	}

	simCfg := sim.DefaultConfig()
	simCfg.Bounds = bounds
	simCfg.MaxEntities = worldCfg.MaxEntities
	simCfg.InitialEntities = worldCfg.InitialEntities
	simCfg.TickRate = worldCfg.TickRate
	simCfg.Workers = worldCfg.Workers
	simCfg.Seed = worldCfg.Seed
	simCfg.MoveRate = worldCfg.MoveRate

	world, err := sim.New(simCfg, idx)
	if err != nil {
		log.Fatalf("❌ World init failed: %v", err)
	}

	// Per-tick metric export rides the tick callback; it is atomic counter
	// work only, cheap enough to run under the world lock.
	world.OnTick = api.RecordTickResult

	// Start tick journal
	if appConfig.Journal.Path != "" {
		if err := world.StartJournal(appConfig.Journal.Path); err != nil {
			log.Printf("⚠️ Journal disabled: %v", err)
		} else {
			log.Printf("📝 Journal: %s", appConfig.Journal.Path)
		}
	}

	// Start debug server
	debugCfg := api.DefaultObservabilityConfig()
	debugCfg.Enabled = serverCfg.DebugEnabled
	debugCfg.ListenAddr = serverCfg.DebugAddr
	if err := api.StartDebugServer(debugCfg); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	world.Start()
	log.Println("✅ Simulation started")

	// Gauge sampler for the slow-moving stats. 1 Hz is plenty; the
	// journal delta feed only tolerates a single caller.
	samplerStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st := world.Stats()
				api.UpdateClassStats(st.Index.Classes)
				api.UpdateQueryStats(st.Index)
				api.UpdateJournalStats(st.Journal)
			case <-samplerStop:
				return
			}
		}
	}()

	server := api.NewServer(world, serverCfg.CORSOrigins)
	server.BroadcastInterval = time.Duration(serverCfg.BroadcastMs) * time.Millisecond

	// Start API server in goroutine
	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Arena ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	close(samplerStop)
	server.Stop()
	world.Stop()
	world.StopJournal()
	log.Println("👋 Goodbye!")
}
