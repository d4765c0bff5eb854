package sim

import (
	"errors"
	"sync/atomic"

	"swarmgrid/internal/fixed"
	"swarmgrid/internal/spatial"
)

// golden is the 64-bit golden-ratio multiplier used to decorrelate per-agent
// streams derived from one tick seed.
const golden = 0x9E3779B97F4A7C15

// agentSeed derives an independent RNG stream for agent i this tick. The
// same (tickSeed, i) pair always yields the same stream, so steering is
// reproducible regardless of which worker runs the chunk.
func agentSeed(tickSeed uint64, i int) uint64 {
	return tickSeed ^ (uint64(i)+1)*golden
}

// steerRange computes next positions and velocities for agents [lo, hi).
// It only reads shared state (index queries and current agent fields) and
// writes the per-agent nextPos/nextVel slots, so chunks run in parallel.
// Moves are handed to the index serially afterwards.
func (w *World) steerRange(worker, lo, hi int) {
	scratch := w.scratch[worker]

	for i := lo; i < hi; i++ {
		a := &w.agents[i]
		w.nextPos[i] = a.pos
		w.nextVel[i] = a.vel

		r := fixed.NewRand(agentSeed(w.tickSeed, i))
		if int(r.Next()%1000) >= w.stepPermille {
			continue // resting this tick
		}

		vel := fixed.Add(a.vel, fixed.V(r.Sym(w.cfg.WanderJitter), r.Sym(w.cfg.WanderJitter)))

		hits, err := w.idx.QueryRadius(a.pos, w.cfg.SeparationRadius, spatial.QueryFilter{Exclude: a.h}, scratch)
		if err != nil {
			if !errors.Is(err, spatial.ErrScratchOverflow) {
				continue
			}
			// Truncated neighborhood still steers on the prefix.
			atomic.AddUint64(&w.truncatedTick, 1)
		}

		if push := w.separation(a, hits); push != (fixed.Vec{}) {
			vel = fixed.Add(vel, fixed.ScaleVec(push, w.cfg.SeparationGain))
		}
		vel = fixed.ClampLen(vel, w.cfg.MaxSpeed)

		moved := fixed.Add(a.pos, vel)
		clamped := w.cfg.Bounds.Clamp(moved)
		// Bounce off the border instead of sliding along it.
		if clamped.X != moved.X {
			vel.X = -vel.X
		}
		if clamped.Y != moved.Y {
			vel.Y = -vel.Y
		}

		w.nextPos[i] = clamped
		w.nextVel[i] = vel
	}
}

// separation sums push vectors away from each neighbor, weighted so closer
// neighbors push harder. Neighbors past the sampling radius (reachable
// because queries overlap bounding circles) contribute nothing.
func (w *World) separation(a *agent, hits []spatial.Handle) fixed.Vec {
	var push fixed.Vec
	for _, n := range hits {
		npos, err := w.idx.Position(n)
		if err != nil {
			continue
		}
		away := fixed.Sub(a.pos, npos)
		d := fixed.Len(away)
		if d >= w.cfg.SeparationRadius {
			continue
		}
		if d == 0 {
			// Exactly stacked: nudge along a fixed axis; the wander jitter
			// breaks the symmetry next tick.
			push = fixed.Add(push, fixed.V(fixed.One, 0))
			continue
		}
		push = fixed.Add(push, fixed.ScaleVec(fixed.Normalize(away), w.cfg.SeparationRadius-d))
	}
	return push
}
