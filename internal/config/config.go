// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all world, index, and server
// settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"swarmgrid/internal/fixed"
	"swarmgrid/internal/spatial"
)

// =============================================================================
// WORLD / SIMULATION CONFIGURATION
// =============================================================================

// WorldConfig holds the simulation settings.
type WorldConfig struct {
	Size            int     // World edge length (the world is square)
	MaxEntities     int     // Hard cap on live agents
	InitialEntities int     // Population spawned at startup
	TickRate        int     // Simulation ticks per second
	Workers         int     // Steering workers (0 = GOMAXPROCS)
	Seed            uint64  // RNG seed; same seed, same run
	MoveRate        float64 // Fraction of agents stepping per tick
}

// DefaultWorld returns the default simulation configuration.
func DefaultWorld() WorldConfig {
	return WorldConfig{
		Size:            1024,
		MaxEntities:     10000,
		InitialEntities: 2000,
		TickRate:        20,
		Workers:         0,
		Seed:            1,
		MoveRate:        0.20,
	}
}

// WorldFromEnv returns the simulation configuration with environment
// variable overrides. Environment variables take precedence over defaults.
func WorldFromEnv() WorldConfig {
	cfg := DefaultWorld()

	if v := getEnvInt("WORLD_SIZE", 0); v > 0 {
		cfg.Size = v
	}
	if v := getEnvInt("MAX_ENTITIES", 0); v > 0 {
		cfg.MaxEntities = v
	}
	if v := getEnvInt("INITIAL_ENTITIES", -1); v >= 0 {
		cfg.InitialEntities = v
	}
	if v := getEnvInt("TICK_RATE", 0); v > 0 {
		cfg.TickRate = v
	}
	if v := getEnvInt("WORKERS", 0); v > 0 {
		cfg.Workers = v
	}
	if v := getEnvUint("SEED", 0); v > 0 {
		cfg.Seed = v
	}
	if v := getEnvFloat("MOVE_RATE", 0); v > 0 && v <= 1 {
		cfg.MoveRate = v
	}

	return cfg
}

// =============================================================================
// INDEX CONFIGURATION
// =============================================================================

// IndexConfig holds the spatial index tuning.
type IndexConfig struct {
	// Classes is a comma list of maxRadius:cellSize pairs, ascending by
	// radius, e.g. "0.5:4,4:16,20:48".
	Classes string

	MoveFraction       float64 // Per-tick move budget as a fraction of MaxEntities
	FragThreshold      float64 // Saturated-cell fraction that queues a rebuild
	RebuildBudget      int     // Max entities repacked per tick
	OversizedAllowance int     // Entities tolerated above the largest class
}

// DefaultIndex returns the default index configuration. The class ladder
// matches the spawn radius mix: mostly tiny, a few medium, rare large.
func DefaultIndex() IndexConfig {
	return IndexConfig{
		Classes:            "0.5:4,4:16,20:48",
		MoveFraction:       0.25,
		FragThreshold:      0.10,
		RebuildBudget:      250_000,
		OversizedAllowance: 8,
	}
}

// IndexFromEnv returns the index configuration with environment overrides.
func IndexFromEnv() IndexConfig {
	cfg := DefaultIndex()

	if v := os.Getenv("INDEX_CLASSES"); v != "" {
		cfg.Classes = v
	}
	if v := getEnvFloat("MOVE_FRACTION", 0); v > 0 && v <= 1 {
		cfg.MoveFraction = v
	}
	if v := getEnvFloat("FRAG_THRESHOLD", 0); v > 0 && v <= 1 {
		cfg.FragThreshold = v
	}
	if v := getEnvInt("REBUILD_BUDGET", 0); v > 0 {
		cfg.RebuildBudget = v
	}
	if v := getEnvInt("OVERSIZED_ALLOWANCE", -1); v >= 0 {
		cfg.OversizedAllowance = v
	}

	return cfg
}

// ClassSpecs parses the Classes string into index class specs.
func (c IndexConfig) ClassSpecs() ([]spatial.ClassSpec, error) {
	parts := strings.Split(c.Classes, ",")
	specs := make([]spatial.ClassSpec, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.Split(part, ":")
		if len(pair) != 2 {
			return nil, fmt.Errorf("config: class %q is not maxRadius:cellSize", part)
		}
		maxRadius, err := strconv.ParseFloat(strings.TrimSpace(pair[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("config: class %q: bad radius: %w", part, err)
		}
		cellSize, err := strconv.ParseFloat(strings.TrimSpace(pair[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("config: class %q: bad cell size: %w", part, err)
		}
		if maxRadius <= 0 || cellSize <= 0 {
			return nil, fmt.Errorf("config: class %q: values must be positive", part)
		}
		specs = append(specs, spatial.ClassSpec{
			MaxRadius: fixed.FromFloat(maxRadius),
			CellSize:  fixed.FromFloat(cellSize),
		})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("config: no size classes in %q", c.Classes)
	}
	return specs, nil
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	Port         int
	BroadcastMs  int      // Snapshot frame cadence over WebSocket
	CORSOrigins  []string // Extra allowed origins beyond localhost
	DebugEnabled bool     // pprof/metrics server on localhost
	DebugAddr    string
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:         8080,
		BroadcastMs:  100,
		CORSOrigins:  nil,
		DebugEnabled: true,
		DebugAddr:    "127.0.0.1:6060",
	}
}

// ServerFromEnv returns the server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if v := getEnvInt("PORT", 0); v > 0 {
		cfg.Port = v
	}
	if v := getEnvInt("BROADCAST_MS", 0); v > 0 {
		cfg.BroadcastMs = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}
	cfg.DebugEnabled = getEnvBool("DEBUG_ENABLED", cfg.DebugEnabled)
	if v := os.Getenv("DEBUG_ADDR"); v != "" {
		cfg.DebugAddr = v
	}

	return cfg
}

// =============================================================================
// JOURNAL CONFIGURATION
// =============================================================================

// JournalConfig holds the tick journal settings.
type JournalConfig struct {
	Path string // NDJSON output path; empty disables writing
}

// DefaultJournal returns the default journal configuration (disabled).
func DefaultJournal() JournalConfig {
	return JournalConfig{Path: ""}
}

// JournalFromEnv returns the journal configuration with environment
// overrides.
func JournalFromEnv() JournalConfig {
	cfg := DefaultJournal()
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		cfg.Path = v
	}
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	World   WorldConfig
	Index   IndexConfig
	Server  ServerConfig
	Journal JournalConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		World:   WorldFromEnv(),
		Index:   IndexFromEnv(),
		Server:  ServerFromEnv(),
		Journal: JournalFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint(key string, defaultVal uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return defaultVal
	}
}
