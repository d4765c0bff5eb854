package spatial

// gridRef names one grid of one class's staggered pair.
type gridRef struct {
	class int8
	sel   GridSelector
}

// compactor schedules equal-headroom rebuilds. Grids whose saturated-cell
// fraction crosses their threshold are queued at the end of a Commit and
// drained under a per-tick entity budget, so repack cost spreads across
// ticks instead of spiking one. The queue is a small fixed ring; the queued
// flags keep each grid in it at most once.
type compactor struct {
	budget int32

	ring  [2 * maxSizeClasses]gridRef
	head  int32
	count int32

	queued [maxSizeClasses][2]bool

	// spare is the shared repack buffer, sized for the largest arena.
	spare []Handle
}

func newCompactor(budget int32, maxArena int32) *compactor {
	return &compactor{
		budget: budget,
		spare:  make([]Handle, maxArena),
	}
}

// enqueue adds a grid to the rebuild queue if it is not already waiting.
func (c *compactor) enqueue(class int, sel GridSelector) {
	if c.queued[class][sel] {
		return
	}
	c.queued[class][sel] = true
	tail := (c.head + c.count) % int32(len(c.ring))
	c.ring[tail] = gridRef{class: int8(class), sel: sel}
	c.count++
}

// step drains the queue under the tick budget. The first grid drained each
// tick rebuilds regardless of its cost, otherwise a grid holding more
// entities than the whole budget would starve forever. Grids that fell back
// under their threshold while waiting are dropped without a rebuild.
func (c *compactor) step(classes []*sizeClass) (rebuilds, repacked int32) {
	for c.count > 0 {
		ref := c.ring[c.head]
		g := classes[ref.class].grids[ref.sel]
		cost := g.total
		if rebuilds > 0 && repacked+cost > c.budget {
			break
		}
		c.head = (c.head + 1) % int32(len(c.ring))
		c.count--
		c.queued[ref.class][ref.sel] = false
		if !g.overThreshold() {
			continue
		}
		g.rebuild(c.spare)
		rebuilds++
		repacked += cost
	}
	return rebuilds, repacked
}
