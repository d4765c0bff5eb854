package sim

import (
	"runtime"
	"sync/atomic"

	"swarmgrid/internal/fixed"
)

// CommandOp selects what a queued command does.
type CommandOp uint8

const (
	OpSpawn CommandOp = iota + 1
	OpDespawn
)

// Command is a control request carried from HTTP/WebSocket handlers into the
// tick loop. Zero-valued optional fields mean "pick for me": Radius 0 samples
// the default size mix, Mask 0 picks a random group bit.
type Command struct {
	Op     CommandOp
	Count  int32
	Radius fixed.Scalar
	Mask   uint32
}

// cachePad keeps hot atomics on separate cache lines (64 bytes on x86-64).
type cachePad [64]byte

// cmdSlot pairs a command with its publication sequence so a consumer never
// observes a claimed-but-unwritten slot.
type cmdSlot struct {
	seq uint64 // atomic
	cmd Command
}

// CommandQueue is a bounded MPSC ring buffer (Vyukov bounded queue). Any
// goroutine may TryPush; only the tick loop may pop. Producers claim a slot
// with CAS on head, write the command, then publish by bumping the slot's
// sequence, so the consumer sees fully written commands only.
type CommandQueue struct {
	_    cachePad
	head uint64 // atomic - producer claim position
	_    cachePad
	tail uint64 // atomic - consumer position
	_    cachePad
	mask  uint64
	slots []cmdSlot
}

// NewCommandQueue creates a queue with capacity rounded up to a power of two.
func NewCommandQueue(capacity int) *CommandQueue {
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &CommandQueue{
		mask:  uint64(size - 1),
		slots: make([]cmdSlot, size),
	}
	for i := range q.slots {
		q.slots[i].seq = uint64(i)
	}
	return q
}

// TryPush enqueues a command. Returns false when the ring is full, which is
// the backpressure signal handlers surface as 503.
func (q *CommandQueue) TryPush(cmd Command) bool {
	for {
		head := atomic.LoadUint64(&q.head)
		slot := &q.slots[head&q.mask]
		seq := atomic.LoadUint64(&slot.seq)

		switch {
		case seq == head:
			// Slot free for this lap; claim it.
			if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
				slot.cmd = cmd
				atomic.StoreUint64(&slot.seq, head+1)
				return true
			}
		case seq < head:
			// Slot still holds an unconsumed command from the previous lap.
			return false
		}
		// Lost the race or observed a mid-claim slot; retry.
		runtime.Gosched()
	}
}

// TryPop removes one command. Single consumer only.
func (q *CommandQueue) TryPop() (Command, bool) {
	tail := atomic.LoadUint64(&q.tail)
	slot := &q.slots[tail&q.mask]
	if atomic.LoadUint64(&slot.seq) != tail+1 {
		return Command{}, false
	}
	cmd := slot.cmd
	// Free the slot for the producer's next lap.
	atomic.StoreUint64(&slot.seq, tail+q.mask+1)
	atomic.StoreUint64(&q.tail, tail+1)
	return cmd, true
}

// DrainTo pops into a preallocated buffer and returns the count written.
// Called once per tick so command application is batched and allocation-free.
func (q *CommandQueue) DrainTo(buf []Command) int {
	n := 0
	for n < len(buf) {
		cmd, ok := q.TryPop()
		if !ok {
			break
		}
		buf[n] = cmd
		n++
	}
	return n
}

// Len returns the approximate backlog. Stale the moment it returns.
func (q *CommandQueue) Len() int {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the ring capacity.
func (q *CommandQueue) Cap() int {
	return int(q.mask + 1)
}
