package sim

import (
	"sync/atomic"
	"time"
)

// EntityView is an immutable copy of one agent for observers. Value types
// only, converted out of fixed-point at the boundary.
type EntityView struct {
	ID     uint32  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Mask   uint32  `json:"mask"`
}

// Snapshot is a complete immutable view of one tick for rendering, the
// WebSocket hub, and the stats endpoints. Entities is capped; EntityCount
// carries the true population.
type Snapshot struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Tick      uint64    `json:"tick"`

	Entities    []EntityView `json:"entities"`
	EntityCount int          `json:"entityCount"`

	// Commit summary for the tick this snapshot closed.
	Applied    int `json:"applied"`
	Migrations int `json:"migrations"`
	Rebuilds   int `json:"rebuilds"`
	Repacked   int `json:"repacked"`

	TickDuration time.Duration `json:"tickDurationNs"`
}

// SnapshotPool pre-allocates snapshots to avoid GC pressure.
// Uses triple buffering for lock-free producer/consumer.
type SnapshotPool struct {
	snapshots [3]Snapshot
	writeIdx  uint32 // atomic - producer index
	readIdx   uint32 // atomic - consumer index
	sequence  uint64 // atomic - monotonic sequence
}

// NewSnapshotPool creates a pool whose entity slices hold up to viewCap
// entries each.
func NewSnapshotPool(viewCap int) *SnapshotPool {
	if viewCap < 1 {
		viewCap = 1
	}
	pool := &SnapshotPool{}
	for i := 0; i < 3; i++ {
		pool.snapshots[i] = Snapshot{
			Entities: make([]EntityView, 0, viewCap),
		}
	}
	return pool
}

// AcquireWrite gets the next write slot (producer only, called from the tick
// loop). The entity slice is reset but keeps its capacity.
func (p *SnapshotPool) AcquireWrite() *Snapshot {
	idx := atomic.AddUint32(&p.writeIdx, 1) % 3
	snap := &p.snapshots[idx]

	snap.Entities = snap.Entities[:0]
	snap.Sequence = atomic.AddUint64(&p.sequence, 1)
	snap.Timestamp = time.Now()
	return snap
}

// PublishWrite marks the write complete and advances the read pointer.
func (p *SnapshotPool) PublishWrite() {
	atomic.StoreUint32(&p.readIdx, atomic.LoadUint32(&p.writeIdx))
}

// AcquireRead gets the latest complete snapshot (any goroutine). Before the
// first publish it returns the zero snapshot with sequence 0.
func (p *SnapshotPool) AcquireRead() *Snapshot {
	idx := atomic.LoadUint32(&p.readIdx) % 3
	return &p.snapshots[idx]
}
