// Package spatial implements a deterministic proximity index for large
// crowds of circular entities.
//
// Entities are bucketed by radius into size classes. Each class owns a
// staggered pair of uniform grids sharing one cell size: grid A at zero
// offset, grid B shifted by half a cell on both axes. An entity lives in
// exactly one cell of exactly one grid, whichever containing cell's center
// is nearer, so it always sits within half a cell diagonal of its cell
// center and neighborhood scans stay tight without neighbor-of-neighbor
// walks.
//
// Cell membership is stored in per-grid arenas: one contiguous handle
// array per grid, carved into per-cell ranges with headroom between them.
// Inserts and removes are O(1) inside a range; when a cell's headroom runs
// out the grid is repacked with equal headroom per cell, incrementally and
// under a per-tick budget. Nothing allocates after construction.
//
// Movement is deferred: NotifyMoved records intent, Commit resolves all
// recorded moves in a parallel read-only pass and applies them serially.
// Queries between Commits see the previous tick's placements. All
// coordinates are Q32.32 fixed point, so identical call sequences produce
// identical results on every platform.
package spatial

import (
	"math"
	"sync/atomic"
	"time"

	"swarmgrid/internal/fixed"
)

// occupancy is the per-entity bookkeeping record. Records live in one dense
// array indexed by Handle.Index; generation decides staleness.
type occupancy struct {
	generation    uint32
	slot          int32
	col           int32
	row           int32
	lastMoveEntry int32
	lastMoveTick  uint64 // tick+1 of the latest NotifyMoved; zero = never
	class         int8
	sel           GridSelector
	oversized     bool
	live          bool
}

// Index is the proximity index. Construction sizes every buffer; the tick
// path never allocates.
//
// Concurrency contract: Insert, Remove, NotifyMoved, Commit and Grow belong
// to one goroutine (the tick driver). QueryRadius may run from any number
// of goroutines between Commits, each with its own QueryScratch.
type Index struct {
	cfg     Config
	classes []*sizeClass
	cls     *classifier

	positions []fixed.Vec
	radii     []fixed.Scalar
	masks     []uint32
	records   []occupancy

	free []uint32
	live int32

	pending []moveEntry
	scratch []workerScratch

	pool    *detectPool
	compact *compactor
	warn    *warner

	tick  uint64
	count counters
}

// New builds an index from cfg. Every arena, record and scratch buffer is
// allocated here, sized from MaxEntities and the class layout.
func New(cfg Config) (*Index, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ix := &Index{
		cfg:       cfg,
		classes:   make([]*sizeClass, len(cfg.Classes)),
		cls:       newClassifier(cfg.Classes, int32(cfg.OversizedAllowance), cfg.Strict),
		positions: make([]fixed.Vec, cfg.MaxEntities),
		radii:     make([]fixed.Scalar, cfg.MaxEntities),
		masks:     make([]uint32, cfg.MaxEntities),
		records:   make([]occupancy, cfg.MaxEntities),
		free:      make([]uint32, 0, cfg.MaxEntities),
		warn:      newWarner(cfg.Logf),
	}

	maxArena := int32(0)
	for i, spec := range cfg.Classes {
		capacity := int32(cfg.MaxEntities)
		if spec.MaxEntities > 0 {
			capacity = int32(spec.MaxEntities)
		}
		sc := newSizeClass(i, spec, cfg.Bounds, capacity, cfg.FragThreshold)
		for _, g := range sc.grids {
			if n := int32(len(g.arena)); n > maxArena {
				maxArena = n
			}
		}
		ix.classes[i] = sc
	}
	ix.compact = newCompactor(int32(cfg.RebuildBudget), maxArena)

	// Generation zero is reserved so a zero Handle never validates. Free
	// indices are stacked high to low, so handles are issued low to high.
	for i := range ix.records {
		ix.records[i].generation = 1
	}
	for i := cfg.MaxEntities - 1; i >= 0; i-- {
		ix.free = append(ix.free, uint32(i))
	}

	moveCap := int(math.Ceil(cfg.MoveFraction * float64(cfg.MaxEntities)))
	if moveCap < 1 {
		moveCap = 1
	}
	ix.pending = make([]moveEntry, 0, moveCap)

	// Scratch 0 also serves the inline detect path, so it must hold a full
	// tick's moves; the rest only ever see one chunk.
	perWorker := (moveCap + cfg.Workers - 1) / cfg.Workers
	ix.scratch = make([]workerScratch, cfg.Workers)
	ix.scratch[0].verdicts = make([]verdict, 0, moveCap)
	for i := 1; i < cfg.Workers; i++ {
		ix.scratch[i].verdicts = make([]verdict, 0, perWorker)
	}

	ix.pool = newDetectPool(ix, cfg.Workers)
	return ix, nil
}

// Close stops the detect workers. The index stays usable; later Commits
// resolve moves inline.
func (ix *Index) Close() {
	ix.pool.stop()
}

// record resolves a handle to its live occupancy record.
func (ix *Index) record(h Handle) (*occupancy, error) {
	if h.Index >= uint32(len(ix.records)) {
		return nil, ErrInvalidHandle
	}
	rec := &ix.records[h.Index]
	if !rec.live || rec.generation != h.Generation {
		return nil, ErrInvalidHandle
	}
	return rec, nil
}

// Insert registers an entity and places it immediately; it is visible to
// queries before the next Commit. Returns ErrCapacityExceeded when the
// index or the entity's size class is full.
func (ix *Index) Insert(pos fixed.Vec, radius fixed.Scalar, mask uint32) (Handle, error) {
	if radius < 0 {
		return Handle{}, &ConfigError{"radius", "must not be negative"}
	}
	if len(ix.free) == 0 {
		return Handle{}, ErrCapacityExceeded
	}

	class, fallback, err := ix.cls.classify(radius)
	if err != nil {
		return Handle{}, err
	}
	sc := ix.classes[class]
	if sc.count >= sc.capacity {
		ix.cls.release(fallback)
		return Handle{}, ErrCapacityExceeded
	}
	if fallback {
		ix.warn.warnf("oversized radius %.3f falls back to class %d", fixed.ToFloat(radius), class)
	}

	idx := ix.free[len(ix.free)-1]
	ix.free = ix.free[:len(ix.free)-1]
	h := Handle{Index: idx, Generation: ix.records[idx].generation}

	sel, col, row := sc.place(pos)
	g := sc.grids[sel]
	slot := ix.mustInsert(class, g, g.cell(col, row), h)

	ix.positions[idx] = pos
	ix.radii[idx] = radius
	ix.masks[idx] = mask
	ix.records[idx] = occupancy{
		generation: h.Generation,
		slot:       slot,
		col:        col,
		row:        row,
		class:      int8(class),
		sel:        sel,
		oversized:  fallback,
		live:       true,
	}

	sc.count++
	sc.noteRadius(radius)
	ix.live++
	ix.count.inserts++
	return h, nil
}

// mustInsert places h into a cell, repacking the grid once if the cell's
// headroom ran out. The arena's per-cell slack guarantees the retry
// succeeds while the class is under capacity, so a second failure means
// corrupted bookkeeping.
func (ix *Index) mustInsert(class int, g *grid, cell int32, h Handle) int32 {
	slot, ok := g.insert(cell, h)
	if ok {
		return slot
	}
	repacked := g.total
	g.rebuild(ix.compact.spare)
	ix.count.rebuilds++
	ix.count.repacked += uint64(repacked)
	ix.warn.warnf("forced rebuild: class %d grid %s, cell %d out of headroom", class, g.sel, cell)
	slot, ok = g.insert(cell, h)
	if !ok {
		panic("spatial: cell insert failed after rebuild")
	}
	return slot
}

// Remove deletes an entity immediately. The handle is invalidated; queued
// moves for it become no-ops.
func (ix *Index) Remove(h Handle) error {
	rec, err := ix.record(h)
	if err != nil {
		return err
	}

	sc := ix.classes[rec.class]
	g := sc.grids[rec.sel]
	moved, hadMove := g.remove(g.cell(rec.col, rec.row), rec.slot)
	if hadMove {
		ix.records[moved.Index].slot = rec.slot
	}

	rec.live = false
	rec.generation++
	if rec.generation == 0 {
		rec.generation = 1
	}
	ix.free = append(ix.free, h.Index)

	sc.count--
	ix.cls.release(rec.oversized)
	ix.live--
	ix.count.removes++
	return nil
}

// NotifyMoved records a position change to be resolved by the next Commit.
// Queries keep seeing the old position until then. When several calls name
// the same entity in one tick, the last one wins. Returns
// ErrScratchOverflow once the tick's move budget is spent; the move is
// dropped and the entity keeps its committed position.
func (ix *Index) NotifyMoved(h Handle, pos fixed.Vec) error {
	rec, err := ix.record(h)
	if err != nil {
		return err
	}
	if len(ix.pending) == cap(ix.pending) {
		ix.count.drops++
		if ix.cfg.Strict {
			panic("spatial: pending move budget exhausted")
		}
		ix.warn.warnf("move budget exhausted (%d), dropping move for handle %d", cap(ix.pending), h.Index)
		return ErrScratchOverflow
	}

	rec.lastMoveTick = ix.tick + 1
	rec.lastMoveEntry = int32(len(ix.pending))
	ix.pending = append(ix.pending, moveEntry{h: h, pos: pos})
	ix.count.moves++
	return nil
}

// detectRange computes placement verdicts for pending[lo:hi) into scratch
// slot. Strictly read-only on shared state; each worker owns its slot.
func (ix *Index) detectRange(slot int, lo, hi int32) {
	s := &ix.scratch[slot]
	s.verdicts = s.verdicts[:0]
	stamp := ix.tick + 1

	for i := lo; i < hi; i++ {
		e := ix.pending[i]
		rec := ix.records[e.h.Index]
		if !rec.live || rec.generation != e.h.Generation {
			continue // removed (or replaced) after the notify
		}
		if rec.lastMoveTick != stamp || rec.lastMoveEntry != i {
			continue // superseded by a later notify this tick
		}
		sc := ix.classes[rec.class]
		sel, col, row := sc.place(e.pos)
		s.verdicts = append(s.verdicts, verdict{
			h:    e.h,
			pos:  e.pos,
			col:  col,
			row:  row,
			sel:  sel,
			move: sel != rec.sel || col != rec.col || row != rec.row,
		})
	}
}

// Commit resolves every recorded move and runs incremental compaction.
// Verdicts are computed in parallel over fixed chunks and applied in
// submission order, so the result is identical for any worker count.
func (ix *Index) Commit() TickReport {
	rebuildsBefore := ix.count.rebuilds
	repackedBefore := ix.count.repacked

	detectStart := time.Now()
	used := ix.pool.run(len(ix.pending))
	detect := time.Since(detectStart)

	applied, migrations := 0, 0
	for si := 0; si < used; si++ {
		for _, v := range ix.scratch[si].verdicts {
			rec := &ix.records[v.h.Index]
			ix.positions[v.h.Index] = v.pos
			if v.move {
				sc := ix.classes[rec.class]
				old := sc.grids[rec.sel]
				moved, hadMove := old.remove(old.cell(rec.col, rec.row), rec.slot)
				if hadMove {
					ix.records[moved.Index].slot = rec.slot
				}
				g := sc.grids[v.sel]
				rec.slot = ix.mustInsert(int(rec.class), g, g.cell(v.col, v.row), v.h)
				rec.sel = v.sel
				rec.col = v.col
				rec.row = v.row
				migrations++
			}
			applied++
		}
	}
	ix.pending = ix.pending[:0]

	for class, sc := range ix.classes {
		for sel, g := range sc.grids {
			if g.overThreshold() {
				ix.compact.enqueue(class, GridSelector(sel))
			}
		}
	}
	rebuilds, repacked := ix.compact.step(ix.classes)
	ix.count.rebuilds += uint64(rebuilds)
	ix.count.repacked += uint64(repacked)
	ix.count.migrations += uint64(migrations)

	ix.tick++
	return TickReport{
		Tick:       ix.tick,
		Applied:    applied,
		Migrations: migrations,
		Rebuilds:   int(ix.count.rebuilds - rebuildsBefore),
		Repacked:   int(ix.count.repacked - repackedBefore),
		Detect:     detect,
	}
}

// QueryRadius appends every entity whose circle intersects the query circle
// to scratch and returns the hits. Results are deterministic given the same
// committed state; order is scan order, not distance order. On scratch
// exhaustion the filled prefix is returned with ErrScratchOverflow.
//
// Safe to call concurrently between Commits; each caller needs its own
// scratch.
func (ix *Index) QueryRadius(pos fixed.Vec, radius fixed.Scalar, filter QueryFilter, scratch *QueryScratch) ([]Handle, error) {
	if scratch == nil {
		return nil, &ConfigError{"scratch", "must not be nil"}
	}
	if radius < 0 {
		return nil, &ConfigError{"radius", "must not be negative"}
	}
	scratch.reset()
	atomic.AddUint64(&ix.count.queries, 1)

	hits := ix.scan(pos, radius, filter, scratch)
	atomic.AddUint64(&ix.count.queryHits, uint64(len(hits)))
	if scratch.truncated {
		atomic.AddUint64(&ix.count.truncations, 1)
		if ix.cfg.Strict {
			panic("spatial: query scratch exhausted")
		}
		ix.warn.warnf("query scratch exhausted at %d hits", len(hits))
		return hits, ErrScratchOverflow
	}
	return hits, nil
}

// scan is the body of QueryRadius. Per class it widens the range by the
// radius watermark, walks the covered cell box of both grids, and keeps
// entities passing the exact circle test. The cheap axis rejects also keep
// the squared distance inside the representable range.
func (ix *Index) scan(pos fixed.Vec, radius fixed.Scalar, filter QueryFilter, scratch *QueryScratch) []Handle {
	hits := scratch.hits
	for _, sc := range ix.classes {
		if sc.count == 0 {
			continue
		}
		reach := radius + sc.watermark
		lo := fixed.Vec{X: pos.X - reach, Y: pos.Y - reach}
		hi := fixed.Vec{X: pos.X + reach, Y: pos.Y + reach}

		for _, g := range sc.grids {
			c0, r0 := sc.coords(g, lo)
			c1, r1 := sc.coords(g, hi)
			for row := r0; row <= r1; row++ {
				base := row * g.cols
				for col := c0; col <= c1; col++ {
					for _, h := range g.view(base + col) {
						i := h.Index
						if filter.Mask != 0 && ix.masks[i]&filter.Mask == 0 {
							continue
						}
						if h == filter.Exclude {
							continue
						}
						maxD := radius + ix.radii[i]
						p := ix.positions[i]
						if fixed.Abs(p.X-pos.X) > maxD || fixed.Abs(p.Y-pos.Y) > maxD {
							continue
						}
						if fixed.DistSq(p, pos) > fixed.Mul(maxD, maxD) {
							continue
						}
						if len(hits) == cap(hits) {
							scratch.truncated = true
							scratch.hits = hits
							return hits
						}
						hits = append(hits, h)
					}
				}
			}
		}
	}
	scratch.hits = hits
	return hits
}

// Len returns the live entity count.
func (ix *Index) Len() int { return int(ix.live) }

// Tick returns the number of completed Commits.
func (ix *Index) Tick() uint64 { return ix.tick }

// Pending returns how many moves await the next Commit.
func (ix *Index) Pending() int { return len(ix.pending) }

// Contains reports whether h currently names a live entity.
func (ix *Index) Contains(h Handle) bool {
	_, err := ix.record(h)
	return err == nil
}

// Position returns the committed position of h.
func (ix *Index) Position(h Handle) (fixed.Vec, error) {
	if _, err := ix.record(h); err != nil {
		return fixed.Vec{}, err
	}
	return ix.positions[h.Index], nil
}

// Radius returns the radius of h.
func (ix *Index) Radius(h Handle) (fixed.Scalar, error) {
	if _, err := ix.record(h); err != nil {
		return 0, err
	}
	return ix.radii[h.Index], nil
}

// Mask returns the filter mask of h.
func (ix *Index) Mask(h Handle) (uint32, error) {
	if _, err := ix.record(h); err != nil {
		return 0, err
	}
	return ix.masks[h.Index], nil
}

// Placement reports which grid cell currently holds h.
func (ix *Index) Placement(h Handle) (sel GridSelector, col, row int32, err error) {
	rec, err := ix.record(h)
	if err != nil {
		return 0, 0, 0, err
	}
	return rec.sel, rec.col, rec.row, nil
}

// CellCounts copies one grid's per-cell entity counts into dst (grown if
// short) and returns it with the grid dimensions. Diagnostic path, used by
// the heatmap rendering.
func (ix *Index) CellCounts(class int, sel GridSelector, dst []int32) ([]int32, int32, int32) {
	if class < 0 || class >= len(ix.classes) {
		return dst[:0], 0, 0
	}
	g := ix.classes[class].grids[sel]
	n := len(g.ranges)
	if cap(dst) < n {
		dst = make([]int32, n)
	}
	dst = dst[:n]
	for i := range g.ranges {
		dst[i] = g.ranges[i].length
	}
	return dst, g.cols, g.rows
}

// Grow raises MaxEntities between ticks, re-placing every entity into
// re-sized arenas. Handles survive; pending moves must be committed first.
// Classes with an explicit per-class cap keep it.
func (ix *Index) Grow(newMax int) error {
	if len(ix.pending) != 0 {
		return &ConfigError{"Grow", "pending moves not committed"}
	}
	if newMax <= ix.cfg.MaxEntities {
		return &ConfigError{"Grow", "new capacity must exceed the current one"}
	}
	if newMax > maxEntityLimit {
		return &ConfigError{"Grow", "new capacity above the hard limit"}
	}

	positions := make([]fixed.Vec, newMax)
	copy(positions, ix.positions)
	radii := make([]fixed.Scalar, newMax)
	copy(radii, ix.radii)
	masks := make([]uint32, newMax)
	copy(masks, ix.masks)
	records := make([]occupancy, newMax)
	copy(records, ix.records)
	for i := ix.cfg.MaxEntities; i < newMax; i++ {
		records[i].generation = 1
	}

	// New indices go to the bottom of the free stack so the old, denser
	// range keeps being preferred.
	free := make([]uint32, 0, newMax)
	for i := newMax - 1; i >= ix.cfg.MaxEntities; i-- {
		free = append(free, uint32(i))
	}
	free = append(free, ix.free...)

	classes := make([]*sizeClass, len(ix.classes))
	maxArena := int32(0)
	for i, spec := range ix.cfg.Classes {
		capacity := int32(newMax)
		if spec.MaxEntities > 0 {
			capacity = int32(spec.MaxEntities)
		}
		sc := newSizeClass(i, spec, ix.cfg.Bounds, capacity, ix.cfg.FragThreshold)
		sc.watermark = ix.classes[i].watermark
		sc.count = ix.classes[i].count
		for _, g := range sc.grids {
			if n := int32(len(g.arena)); n > maxArena {
				maxArena = n
			}
		}
		classes[i] = sc
	}

	ix.positions = positions
	ix.radii = radii
	ix.masks = masks
	ix.records = records
	ix.free = free
	ix.classes = classes
	ix.compact = newCompactor(int32(ix.cfg.RebuildBudget), maxArena)

	// Same bounds, same cell sizes: every entity re-lands in the cell its
	// record already names, only slots change.
	for i := range ix.records {
		rec := &ix.records[i]
		if !rec.live {
			continue
		}
		h := Handle{Index: uint32(i), Generation: rec.generation}
		g := ix.classes[rec.class].grids[rec.sel]
		rec.slot = ix.mustInsert(int(rec.class), g, g.cell(rec.col, rec.row), h)
	}

	moveCap := int(math.Ceil(ix.cfg.MoveFraction * float64(newMax)))
	if moveCap < 1 {
		moveCap = 1
	}
	ix.pending = make([]moveEntry, 0, moveCap)
	perWorker := (moveCap + ix.cfg.Workers - 1) / ix.cfg.Workers
	ix.scratch = make([]workerScratch, ix.cfg.Workers)
	ix.scratch[0].verdicts = make([]verdict, 0, moveCap)
	for i := 1; i < ix.cfg.Workers; i++ {
		ix.scratch[i].verdicts = make([]verdict, 0, perWorker)
	}

	old := ix.cfg.MaxEntities
	ix.cfg.MaxEntities = newMax
	ix.warn.logf("spatial: capacity grown %d -> %d", old, newMax)
	return nil
}
