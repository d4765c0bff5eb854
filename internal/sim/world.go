// Package sim drives a swarm of wandering agents over a spatial index. It
// exists to exercise the index the way a game server would: a fixed-rate
// tick loop, parallel neighbor queries, deferred move notification, and a
// single commit point per tick. Everything observable (positions, stats,
// snapshots) is deterministic for a given seed and configuration.
package sim

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"swarmgrid/internal/fixed"
	"swarmgrid/internal/spatial"
)

// Config controls the simulation. Zero fields fall back to defaults.
type Config struct {
	// Bounds is the world rectangle agents are confined to.
	Bounds spatial.Bounds

	// MaxEntities caps the swarm size. Spawns beyond it are rejected.
	MaxEntities int

	// InitialEntities is the population spawned before the first tick.
	InitialEntities int

	// TickRate is ticks per second for the background loop.
	TickRate int

	// Workers is the number of goroutines used for the steering phase.
	// Zero means GOMAXPROCS.
	Workers int

	// Seed drives all randomness. The same seed, config, and command
	// sequence reproduce the same run regardless of Workers.
	Seed uint64

	// MoveRate is the fraction of agents that step on a given tick.
	MoveRate float64

	// MaxSpeed clamps agent velocity per tick.
	MaxSpeed fixed.Scalar

	// WanderJitter is the per-tick random velocity perturbation.
	WanderJitter fixed.Scalar

	// SeparationRadius is the neighbor query radius for avoidance.
	SeparationRadius fixed.Scalar

	// SeparationGain scales the avoidance push.
	SeparationGain fixed.Scalar

	// SnapshotEntities caps how many agents a published snapshot carries.
	SnapshotEntities int

	// CommandBuffer is the capacity of the spawn/despawn command queue.
	CommandBuffer int

	// ScratchCapacity sizes each worker's neighbor query buffer.
	ScratchCapacity int
}

// DefaultConfig returns the tuning used by the demo server.
func DefaultConfig() Config {
	return Config{
		Bounds: spatial.Bounds{
			Min: fixed.VecFromInt(0, 0),
			Max: fixed.VecFromInt(1024, 1024),
		},
		MaxEntities:      10000,
		InitialEntities:  2000,
		TickRate:         20,
		Workers:          0,
		Seed:             1,
		MoveRate:         0.20,
		MaxSpeed:         fixed.FromInt(2),
		WanderJitter:     fixed.FromFloat(0.5),
		SeparationRadius: fixed.FromInt(6),
		SeparationGain:   fixed.FromFloat(0.35),
		SnapshotEntities: 2048,
		CommandBuffer:    256,
		ScratchCapacity:  256,
	}
}

func (c Config) withDefaults() Config {
	if c.Bounds == (spatial.Bounds{}) {
		c.Bounds = DefaultConfig().Bounds
	}
	if c.MaxEntities <= 0 {
		c.MaxEntities = 10000
	}
	if c.InitialEntities < 0 {
		c.InitialEntities = 0
	}
	if c.InitialEntities > c.MaxEntities {
		c.InitialEntities = c.MaxEntities
	}
	if c.TickRate <= 0 {
		c.TickRate = 20
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.MoveRate <= 0 || c.MoveRate > 1 {
		c.MoveRate = 0.20
	}
	if c.MaxSpeed <= 0 {
		c.MaxSpeed = fixed.FromInt(2)
	}
	if c.WanderJitter <= 0 {
		c.WanderJitter = fixed.FromFloat(0.5)
	}
	if c.SeparationRadius <= 0 {
		c.SeparationRadius = fixed.FromInt(6)
	}
	if c.SeparationGain <= 0 {
		c.SeparationGain = fixed.FromFloat(0.35)
	}
	if c.SnapshotEntities <= 0 {
		c.SnapshotEntities = 2048
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = 256
	}
	if c.ScratchCapacity <= 0 {
		c.ScratchCapacity = 256
	}
	return c
}

// TickResult summarizes one completed tick. Passed to the OnTick callback.
type TickResult struct {
	Tick           uint64
	Duration       time.Duration
	CommitDuration time.Duration
	Report         spatial.TickReport
	Entities       int
	Spawned        int
	Despawned      int
	Overflows      int
	Truncated      int
	Rejects        int
}

// Stats is a point-in-time view of the simulation, for monitoring.
type Stats struct {
	Tick           uint64        `json:"tick"`
	Entities       int           `json:"entities"`
	Paused         bool          `json:"paused"`
	LastTickNs     int64         `json:"lastTickNs"`
	AvgTickNs      int64         `json:"avgTickNs"`
	Overflows      uint64        `json:"overflows"`
	Rejects        uint64        `json:"rejects"`
	Truncated      uint64        `json:"truncated"`
	CommandBacklog int           `json:"commandBacklog"`
	Index          spatial.Stats `json:"index"`
	Journal        JournalStats  `json:"journal"`
}

type agent struct {
	h      spatial.Handle
	pos    fixed.Vec
	vel    fixed.Vec
	radius fixed.Scalar
	mask   uint32
}

// World owns the agents and the index they live in. All mutation happens on
// the tick goroutine under mu; readers take RLock or go through the
// lock-free snapshot pool.
type World struct {
	mu  sync.RWMutex
	cfg Config
	idx *spatial.Index

	rng          *fixed.Rand
	tickSeed     uint64
	stepPermille int
	workers      int

	agents  []agent
	nextPos []fixed.Vec
	nextVel []fixed.Vec
	scratch []*spatial.QueryScratch

	commands *CommandQueue
	cmdBuf   []Command
	pool     *SnapshotPool
	journal  *Journal

	running  bool
	paused   atomic.Bool
	ticker   *time.Ticker
	stopChan chan struct{}

	tickNum     uint64
	lastTickNs  int64
	totalTickNs int64
	tickCount   uint64
	overflows   uint64
	rejects     uint64
	truncated   uint64

	truncatedTick uint64 // atomic, reset each tick

	// OnTick, when set before Start, runs at the end of every tick on the
	// tick goroutine while the world lock is held. Keep it cheap; it is
	// meant for metrics export.
	OnTick func(TickResult)
}

// New builds a world over idx and spawns the initial population. The index
// capacity bounds the effective MaxEntities.
func New(cfg Config, idx *spatial.Index) (*World, error) {
	if idx == nil {
		return nil, fmt.Errorf("sim: index is required")
	}
	cfg = cfg.withDefaults()
	if c := idx.Stats().Capacity; cfg.MaxEntities > c {
		cfg.MaxEntities = c
	}
	if cfg.InitialEntities > cfg.MaxEntities {
		cfg.InitialEntities = cfg.MaxEntities
	}

	w := &World{
		cfg:          cfg,
		idx:          idx,
		rng:          fixed.NewRand(cfg.Seed),
		stepPermille: int(cfg.MoveRate * 1000),
		workers:      cfg.Workers,
		agents:       make([]agent, 0, cfg.MaxEntities),
		nextPos:      make([]fixed.Vec, cfg.MaxEntities),
		nextVel:      make([]fixed.Vec, cfg.MaxEntities),
		scratch:      make([]*spatial.QueryScratch, cfg.Workers),
		commands:     NewCommandQueue(cfg.CommandBuffer),
		cmdBuf:       make([]Command, cfg.CommandBuffer),
		pool:         NewSnapshotPool(cfg.SnapshotEntities),
		journal:      NewJournal(),
		stopChan:     make(chan struct{}),
	}
	for i := range w.scratch {
		w.scratch[i] = spatial.NewQueryScratch(cfg.ScratchCapacity)
	}
	for i := 0; i < cfg.InitialEntities; i++ {
		if !w.spawnOne(0, 0) {
			return nil, fmt.Errorf("sim: initial spawn %d/%d rejected by index", i, cfg.InitialEntities)
		}
	}
	w.publishSnapshot(spatial.TickReport{}, 0)
	return w, nil
}

// Start launches the background tick loop. Safe to call once.
func (w *World) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.ticker = time.NewTicker(time.Second / time.Duration(w.cfg.TickRate))
	w.mu.Unlock()

	go func() {
		for {
			select {
			case <-w.ticker.C:
				w.tick()
			case <-w.stopChan:
				return
			}
		}
	}()
	log.Printf("🎮 Simulation started: %d agents, %d TPS, %d workers", w.Len(), w.cfg.TickRate, w.workers)
}

// Stop halts the tick loop. The world stays readable afterwards.
func (w *World) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	if w.ticker != nil {
		w.ticker.Stop()
	}
	close(w.stopChan)
	log.Println("🛑 Simulation stopped")
}

// Step runs exactly one tick synchronously. Intended for tests and offline
// runs while the background loop is stopped.
func (w *World) Step() {
	w.tick()
}

func (w *World) tick() {
	start := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.paused.Load() {
		w.publishSnapshot(spatial.TickReport{}, 0)
		return
	}

	w.tickNum++
	w.tickSeed = w.rng.Next()

	spawned, rejected, despawned := w.drainCommands()

	// Parallel phase: steering reads the index and writes only its own
	// nextPos/nextVel slots. The index itself is not mutated here.
	n := len(w.agents)
	if n > 0 {
		chunk := (n + w.workers - 1) / w.workers
		var wg sync.WaitGroup
		for k := 0; k < w.workers && k*chunk < n; k++ {
			lo := k * chunk
			hi := lo + chunk
			if hi > n {
				hi = n
			}
			wg.Add(1)
			go func(worker, lo, hi int) {
				defer wg.Done()
				w.steerRange(worker, lo, hi)
			}(k, lo, hi)
		}
		wg.Wait()
	}

	// Serial phase: move notification is not thread safe, so intents are
	// applied in agent order. An agent whose notify overflows the move
	// budget keeps its old position and velocity for this tick.
	overflows := 0
	for i := range w.agents {
		a := &w.agents[i]
		if w.nextPos[i] == a.pos {
			a.vel = w.nextVel[i]
			continue
		}
		if err := w.idx.NotifyMoved(a.h, w.nextPos[i]); err != nil {
			overflows++
			continue
		}
		a.pos = w.nextPos[i]
		a.vel = w.nextVel[i]
	}

	commitStart := time.Now()
	report := w.idx.Commit()
	commitDur := time.Since(commitStart)

	truncated := int(atomic.SwapUint64(&w.truncatedTick, 0))
	dur := time.Since(start)

	w.overflows += uint64(overflows)
	w.rejects += uint64(rejected)
	w.truncated += uint64(truncated)
	w.lastTickNs = dur.Nanoseconds()
	w.totalTickNs += dur.Nanoseconds()
	w.tickCount++

	w.journal.Emit(EventTick, w.tickNum, TickPayload{
		Entities:   len(w.agents),
		Applied:    report.Applied,
		Migrations: report.Migrations,
		Rebuilds:   report.Rebuilds,
		Repacked:   report.Repacked,
		DurationNs: dur.Nanoseconds(),
	})
	if overflows > 0 {
		w.journal.Emit(EventMoveOverflow, w.tickNum, CountPayload{Count: overflows})
	}
	if truncated > 0 {
		w.journal.Emit(EventTruncation, w.tickNum, CountPayload{Count: truncated})
	}
	if report.Rebuilds > 0 {
		w.journal.Emit(EventRebuild, w.tickNum, RebuildPayload{Rebuilds: report.Rebuilds, Repacked: report.Repacked})
	}

	w.publishSnapshot(report, dur)

	if cb := w.OnTick; cb != nil {
		cb(TickResult{
			Tick:           w.tickNum,
			Duration:       dur,
			CommitDuration: commitDur,
			Report:         report,
			Entities:       len(w.agents),
			Spawned:        spawned,
			Despawned:      despawned,
			Overflows:      overflows,
			Truncated:      truncated,
			Rejects:        rejected,
		})
	}
}

func (w *World) drainCommands() (spawned, rejected, despawned int) {
	n := w.commands.DrainTo(w.cmdBuf)
	for _, cmd := range w.cmdBuf[:n] {
		switch cmd.Op {
		case OpSpawn:
			for j := int32(0); j < cmd.Count; j++ {
				if !w.spawnOne(cmd.Radius, cmd.Mask) {
					rejected += int(cmd.Count - j)
					break
				}
				spawned++
			}
		case OpDespawn:
			count := int(cmd.Count)
			if count > len(w.agents) {
				count = len(w.agents)
			}
			for j := 0; j < count; j++ {
				last := len(w.agents) - 1
				if err := w.idx.Remove(w.agents[last].h); err == nil {
					despawned++
				}
				w.agents = w.agents[:last]
			}
		}
	}
	if spawned > 0 || rejected > 0 {
		w.journal.Emit(EventSpawn, w.tickNum, SpawnPayload{Spawned: spawned, Rejected: rejected})
	}
	if rejected > 0 {
		w.journal.Emit(EventCapacityReject, w.tickNum, CountPayload{Count: rejected})
	}
	if despawned > 0 {
		w.journal.Emit(EventDespawn, w.tickNum, DespawnPayload{Removed: despawned})
	}
	return spawned, rejected, despawned
}

// spawnOne inserts a single agent at a random position. A zero radius draws
// from the population mix; a zero mask picks one of the three demo layers.
func (w *World) spawnOne(radius fixed.Scalar, mask uint32) bool {
	if len(w.agents) >= w.cfg.MaxEntities {
		return false
	}
	pos := fixed.V(
		w.rng.Range(w.cfg.Bounds.Min.X, w.cfg.Bounds.Max.X),
		w.rng.Range(w.cfg.Bounds.Min.Y, w.cfg.Bounds.Max.Y),
	)
	if radius <= 0 {
		radius = w.sampleRadius()
	}
	if mask == 0 {
		mask = 1 << uint(w.rng.Intn(3))
	}
	h, err := w.idx.Insert(pos, radius, mask)
	if err != nil {
		return false
	}
	vel := fixed.ClampLen(fixed.V(w.rng.Sym(w.cfg.MaxSpeed), w.rng.Sym(w.cfg.MaxSpeed)), w.cfg.MaxSpeed)
	w.agents = append(w.agents, agent{h: h, pos: pos, vel: vel, radius: radius, mask: mask})
	return true
}

// sampleRadius draws a radius from the default population mix: mostly small
// bodies, a few medium, the occasional large one. The ranges line up with
// the default size classes.
func (w *World) sampleRadius() fixed.Scalar {
	switch p := w.rng.Intn(50); {
	case p == 0:
		return w.rng.Range(fixed.FromInt(5), fixed.FromInt(20))
	case p < 5:
		return w.rng.Range(fixed.One, fixed.FromInt(4))
	default:
		return w.rng.Range(fixed.FromFloat(0.2), fixed.FromFloat(0.5))
	}
}

// publishSnapshot fills the next write buffer and flips it live. Caller
// holds mu.
func (w *World) publishSnapshot(report spatial.TickReport, dur time.Duration) {
	snap := w.pool.AcquireWrite()
	snap.Tick = w.tickNum
	snap.EntityCount = len(w.agents)
	snap.Applied = report.Applied
	snap.Migrations = report.Migrations
	snap.Rebuilds = report.Rebuilds
	snap.Repacked = report.Repacked
	snap.TickDuration = dur
	limit := cap(snap.Entities)
	for i := 0; i < len(w.agents) && i < limit; i++ {
		a := &w.agents[i]
		snap.Entities = append(snap.Entities, EntityView{
			ID:     a.h.Index,
			X:      fixed.ToFloat(a.pos.X),
			Y:      fixed.ToFloat(a.pos.Y),
			Radius: fixed.ToFloat(a.radius),
			Mask:   a.mask,
		})
	}
	w.pool.PublishWrite()
}

// EnqueueSpawn asks the next tick to add count agents. Zero radius and mask
// mean "pick for me". Returns false when the command queue is full.
func (w *World) EnqueueSpawn(count int, radius fixed.Scalar, mask uint32) bool {
	if count <= 0 {
		return false
	}
	return w.commands.TryPush(Command{Op: OpSpawn, Count: int32(count), Radius: radius, Mask: mask})
}

// EnqueueDespawn asks the next tick to remove count agents, newest first.
// Returns false when the command queue is full.
func (w *World) EnqueueDespawn(count int) bool {
	if count <= 0 {
		return false
	}
	return w.commands.TryPush(Command{Op: OpDespawn, Count: int32(count)})
}

// Pause freezes the tick loop without stopping it. Snapshots keep flowing.
func (w *World) Pause() { w.paused.Store(true) }

// Resume unfreezes a paused world.
func (w *World) Resume() { w.paused.Store(false) }

// Paused reports whether the world is paused.
func (w *World) Paused() bool { return w.paused.Load() }

// Snapshot returns the most recently published tick snapshot. Lock-free.
func (w *World) Snapshot() *Snapshot {
	return w.pool.AcquireRead()
}

// Stats returns a consistent view of the simulation and index counters.
func (w *World) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var avg int64
	if w.tickCount > 0 {
		avg = w.totalTickNs / int64(w.tickCount)
	}
	return Stats{
		Tick:           w.tickNum,
		Entities:       len(w.agents),
		Paused:         w.paused.Load(),
		LastTickNs:     w.lastTickNs,
		AvgTickNs:      avg,
		Overflows:      w.overflows,
		Rejects:        w.rejects,
		Truncated:      w.truncated,
		CommandBacklog: w.commands.Len(),
		Index:          w.idx.Stats(),
		Journal:        w.journal.Stats(),
	}
}

// Tick returns the current tick number.
func (w *World) Tick() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tickNum
}

// Len returns the live agent count.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.agents)
}

// CellCounts exposes the index's per-cell occupancy for one grid, for the
// heatmap endpoint. See spatial.Index.CellCounts for the dst contract.
func (w *World) CellCounts(class int, sel spatial.GridSelector, dst []int32) ([]int32, int32, int32) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.idx.CellCounts(class, sel, dst)
}

// StartJournal begins writing simulation events to path. An empty path
// keeps counting events without writing them.
func (w *World) StartJournal(path string) error {
	return w.journal.Start(path)
}

// StopJournal flushes and closes the event journal.
func (w *World) StopJournal() {
	w.journal.Stop()
}
