package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swarmgrid/internal/sim"
	"swarmgrid/internal/spatial"
)

// Metrics with bounded cardinality: class indexes are capped by the index
// config, grids are always "a"/"b", reject reasons are a fixed set.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_tick_duration_seconds",
		Help:    "Full simulation tick time",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_commit_duration_seconds",
		Help:    "Index commit time (parallel detect plus serial apply)",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
	})

	detectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_detect_duration_seconds",
		Help:    "Parallel placement pass inside commit",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	})

	entityCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_entities",
		Help: "Current live agent count",
	})

	migrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_migrations_total",
		Help: "Committed moves that crossed a grid cell boundary",
	})

	rebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_rebuilds_total",
		Help: "Grid rebuilds triggered by fragmentation or saturation",
	})

	repackedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_repacked_entities_total",
		Help: "Entities repacked by grid rebuilds",
	})

	moveDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_move_drops_total",
		Help: "Move notifications dropped because the per-tick budget was full",
	})

	truncationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_query_truncations_total",
		Help: "Neighbor queries truncated by scratch capacity",
	})

	spawnRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_spawn_rejects_total",
		Help: "Spawn commands rejected at the entity capacity limit",
	})

	classFragmentation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_class_fragmentation",
		Help: "Saturated-cell fraction per size class and grid",
	}, []string{"class", "grid"})

	classSaturated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_class_saturated_cells",
		Help: "Cells at their headroom limit per size class and grid",
	}, []string{"class", "grid"})

	classEntities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_class_entities",
		Help: "Live entities per size class",
	}, []string{"class"})

	classWatermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_class_watermark",
		Help: "Per-cell headroom watermark per size class",
	}, []string{"class"})

	queriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "index_queries_total",
		Help: "Radius queries served by the index",
	})

	queryHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "index_query_hits_total",
		Help: "Candidate handles returned by radius queries",
	})

	journalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_events_total",
		Help: "Events accepted by the tick journal",
	})

	journalDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_events_dropped_total",
		Help: "Events dropped by the journal rate limiter or ring rollover",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiting or origin checks",
	}, []string{"reason"}) // "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently connected WebSocket clients",
	})

	wsFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_frames_total",
		Help: "Snapshot frames broadcast over WebSocket",
	})
)

// journalPrev and queryPrev remember the last sampled cumulative counters so
// they can be fed to counters as deltas. Only one sampler goroutine may
// touch them.
var (
	journalPrev sim.JournalStats
	queryPrev   struct{ queries, hits uint64 }
)

// RecordTickResult exports one tick's timings and per-tick deltas.
func RecordTickResult(r sim.TickResult) {
	tickDuration.Observe(r.Duration.Seconds())
	commitDuration.Observe(r.CommitDuration.Seconds())
	detectDuration.Observe(r.Report.Detect.Seconds())
	entityCount.Set(float64(r.Entities))
	migrationsTotal.Add(float64(r.Report.Migrations))
	rebuildsTotal.Add(float64(r.Report.Rebuilds))
	repackedTotal.Add(float64(r.Report.Repacked))
	moveDropsTotal.Add(float64(r.Overflows))
	truncationsTotal.Add(float64(r.Truncated))
	spawnRejectsTotal.Add(float64(r.Rejects))
}

// UpdateClassStats refreshes the per-class gauges. Intended to be sampled
// every few ticks, not every tick.
func UpdateClassStats(classes []spatial.ClassStats) {
	grids := [2]string{"a", "b"}
	for i, c := range classes {
		label := strconv.Itoa(i)
		classEntities.WithLabelValues(label).Set(float64(c.Count))
		classWatermark.WithLabelValues(label).Set(float64(c.Watermark))
		for g, name := range grids {
			classFragmentation.WithLabelValues(label, name).Set(c.Frag[g])
			classSaturated.WithLabelValues(label, name).Set(float64(c.Saturated[g]))
		}
	}
}

// UpdateQueryStats feeds the index's cumulative query counters as deltas.
// Not safe for concurrent callers; sample from one goroutine.
func UpdateQueryStats(s spatial.Stats) {
	if s.Queries >= queryPrev.queries {
		queriesTotal.Add(float64(s.Queries - queryPrev.queries))
	}
	if s.QueryHits >= queryPrev.hits {
		queryHitsTotal.Add(float64(s.QueryHits - queryPrev.hits))
	}
	queryPrev.queries, queryPrev.hits = s.Queries, s.QueryHits
}

// UpdateJournalStats feeds the cumulative journal counters as deltas. Not
// safe for concurrent callers; sample from one goroutine.
func UpdateJournalStats(s sim.JournalStats) {
	if s.Total >= journalPrev.Total {
		journalTotal.Add(float64(s.Total - journalPrev.Total))
	}
	if s.Dropped >= journalPrev.Dropped {
		journalDropped.Add(float64(s.Dropped - journalPrev.Dropped))
	}
	journalPrev = s
}

// RecordConnectionRejected increments the rejection counter. reason must be
// one of the bounded set listed on the metric.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSConnections updates the WebSocket connection gauge.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSFrames counts one broadcast snapshot frame.
func IncrementWSFrames() {
	wsFramesTotal.Inc()
}

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // Keep on 127.0.0.1 in production
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only
	}
}

// StartDebugServer starts the internal pprof/metrics server. It refuses to
// bind off-localhost unless ALLOW_DEBUG_EXTERNAL=true, because pprof on a
// public interface is a DoS handle.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ Debug server forced to localhost")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	go func() {
		log.Printf("📊 Debug server on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
