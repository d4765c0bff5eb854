package spatial

import (
	"sync/atomic"
	"time"

	"swarmgrid/internal/fixed"
)

// counters aggregates lifetime event counts. Mutation counters are written
// only from the owning goroutine; query counters are atomic because reads
// run concurrently between Commits.
type counters struct {
	inserts    uint64
	removes    uint64
	moves      uint64
	migrations uint64
	rebuilds   uint64
	repacked   uint64
	drops      uint64 // moves rejected at the pending cap

	queries     uint64 // atomic
	queryHits   uint64 // atomic
	truncations uint64 // atomic
}

// ClassStats describes one size class. Float fields are diagnostic
// conversions; nothing on a tick path reads them back.
type ClassStats struct {
	MaxRadius float64 `json:"max_radius"`
	CellSize  float64 `json:"cell_size"`
	Watermark float64 `json:"watermark"`
	Count     int     `json:"count"`
	Capacity  int     `json:"capacity"`
	Oversized int     `json:"oversized"`

	// Indexed by GridSelector: A then B.
	Cells     [2]int     `json:"cells"`
	Saturated [2]int     `json:"saturated"`
	Frag      [2]float64 `json:"frag"`
}

// Stats is a point-in-time snapshot of the index. Take it from the tick
// goroutine; concurrent queries only perturb the query counters.
type Stats struct {
	Tick     uint64       `json:"tick"`
	Live     int          `json:"live"`
	Capacity int          `json:"capacity"`
	Classes  []ClassStats `json:"classes"`

	Inserts    uint64 `json:"inserts"`
	Removes    uint64 `json:"removes"`
	Moves      uint64 `json:"moves"`
	Migrations uint64 `json:"migrations"`
	Rebuilds   uint64 `json:"rebuilds"`
	Repacked   uint64 `json:"repacked"`

	Queries     uint64 `json:"queries"`
	QueryHits   uint64 `json:"query_hits"`
	Truncations uint64 `json:"truncations"`

	MoveDrops       uint64 `json:"move_drops"`
	Warnings        uint64 `json:"warnings"`
	WarningsMuted   uint64 `json:"warnings_muted"`
	PendingCapacity int    `json:"pending_capacity"`
}

// TickReport summarizes what one Commit did. Detect is wall-clock
// instrumentation and the only field that varies between identical runs.
type TickReport struct {
	Tick       uint64        `json:"tick"`
	Applied    int           `json:"applied"`
	Migrations int           `json:"migrations"`
	Rebuilds   int           `json:"rebuilds"`
	Repacked   int           `json:"repacked"`
	Detect     time.Duration `json:"detect_ns"`
}

// Stats assembles a snapshot of live counts, per-class occupancy and
// fragmentation, and lifetime counters.
func (ix *Index) Stats() Stats {
	s := Stats{
		Tick:     ix.tick,
		Live:     int(ix.live),
		Capacity: ix.cfg.MaxEntities,
		Classes:  make([]ClassStats, len(ix.classes)),

		Inserts:    ix.count.inserts,
		Removes:    ix.count.removes,
		Moves:      ix.count.moves,
		Migrations: ix.count.migrations,
		Rebuilds:   ix.count.rebuilds,
		Repacked:   ix.count.repacked,

		Queries:     atomic.LoadUint64(&ix.count.queries),
		QueryHits:   atomic.LoadUint64(&ix.count.queryHits),
		Truncations: atomic.LoadUint64(&ix.count.truncations),

		MoveDrops:       ix.count.drops,
		PendingCapacity: cap(ix.pending),
	}
	s.Warnings, s.WarningsMuted = ix.warn.counts()

	for i, sc := range ix.classes {
		cs := ClassStats{
			MaxRadius: fixed.ToFloat(sc.maxRadius),
			CellSize:  fixed.ToFloat(sc.cellSize),
			Watermark: fixed.ToFloat(sc.watermark),
			Count:     int(sc.count),
			Capacity:  int(sc.capacity),
		}
		if i == len(ix.classes)-1 {
			cs.Oversized = int(ix.cls.oversized)
		}
		for sel, g := range sc.grids {
			cs.Cells[sel] = len(g.ranges)
			cs.Saturated[sel] = int(g.saturated)
			cs.Frag[sel] = g.fragRatio()
		}
		s.Classes[i] = cs
	}
	return s
}
