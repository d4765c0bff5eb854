// Package api exposes the simulation over HTTP and WebSocket: JSON stats
// and control endpoints, a PNG occupancy heatmap, and a binary snapshot
// stream. The router factory is pure so tests can mount it on httptest.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"swarmgrid/internal/fixed"
	"swarmgrid/internal/sim"
	"swarmgrid/internal/spatial"
	"swarmgrid/internal/viz"
)

// WorldInterface is the slice of the simulation the API layer uses. Keeping
// it an interface lets handler tests run against a mock without a tick loop.
type WorldInterface interface {
	// Stats returns current simulation and index counters.
	Stats() sim.Stats
	// Tick returns the current tick number.
	Tick() uint64
	// Snapshot returns the latest published tick snapshot.
	Snapshot() *sim.Snapshot
	// EnqueueSpawn queues agents for the next tick. False means queue full.
	EnqueueSpawn(count int, radius fixed.Scalar, mask uint32) bool
	// EnqueueDespawn queues removals for the next tick. False means queue full.
	EnqueueDespawn(count int) bool
	// Pause freezes the tick loop; Resume unfreezes it.
	Pause()
	Resume()
	// Paused reports the pause state.
	Paused() bool
	// CellCounts copies one grid's per-cell occupancy for rendering.
	CellCounts(class int, sel spatial.GridSelector, dst []int32) ([]int32, int32, int32)
}

// RouterConfig carries everything NewRouter needs. Designed for dependency
// injection in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    World: mockWorld,
//	    RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// World is the simulation the API fronts (required).
	World WorldInterface

	// RateLimiter is an optional pre-built limiter. When nil, one is
	// created from RateLimitConfig (or the defaults).
	RateLimiter *IPRateLimiter

	// RateLimitConfig configures a fresh limiter when RateLimiter is nil.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins overrides the allowed origins. Nil means localhost.
	CORSOrigins []string

	// HeatmapCache memoizes rendered heatmap PNGs. When nil, a private
	// cache is created.
	HeatmapCache *viz.RenderCache

	// DisableLogging drops the request logger (useful in benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	world WorldInterface
	cache *viz.RenderCache
}

// NewRouter builds the HTTP router with middleware and routes. It is pure
// construction with no listeners, so it can be handed straight to
// httptest.NewServer. (The rate limiter's sweep goroutine only exists if
// the caller did not pass one in; pass RateLimiter to avoid even that.)
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS so rejected requests stay cheap.
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rlCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rlCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rlCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	cache := cfg.HeatmapCache
	if cache == nil {
		cache = viz.NewRenderCache(0)
	}
	h := &routerHandlers{world: cfg.World, cache: cache}

	r.Route("/api", func(r chi.Router) {
		// Read side
		r.Get("/stats", h.handleGetStats)
		r.Get("/classes", h.handleGetClasses)
		r.Get("/snapshot", h.handleGetSnapshot)
		r.Get("/heatmap.png", h.handleHeatmap)

		// Control side
		r.Post("/spawn", h.handleSpawn)
		r.Post("/despawn", h.handleDespawn)
		r.Post("/pause", h.handlePause)
		r.Post("/resume", h.handleResume)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
