package sim

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	journalRingSize   = 1024                   // Circular buffer size
	journalMaxPerSec  = 5000                   // Global rate limit
	journalBatchSize  = 64                     // Entries per batch write
	journalFlushEvery = 100 * time.Millisecond // How often to flush
)

// EventType classifies journal entries.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventTick              // Tick boundary with commit summary
	EventSpawn
	EventDespawn
	EventCapacityReject // Insert refused, size class arena full
	EventMoveOverflow   // Deferred-move budget exhausted
	EventRebuild        // One or more grids repacked this tick
	EventTruncation     // Steering queries that overflowed their scratch
)

// String returns a stable name for NDJSON consumers.
func (t EventType) String() string {
	switch t {
	case EventTick:
		return "tick"
	case EventSpawn:
		return "spawn"
	case EventDespawn:
		return "despawn"
	case EventCapacityReject:
		return "capacity_reject"
	case EventMoveOverflow:
		return "move_overflow"
	case EventRebuild:
		return "rebuild"
	case EventTruncation:
		return "truncation"
	default:
		return "unknown"
	}
}

// JournalVersion guards replay compatibility.
const JournalVersion uint8 = 1

// Entry is one journal record.
type Entry struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Name      string          `json:"name"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic
	Tick      uint64          `json:"tick"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Typed payloads.

// TickPayload summarizes what one tick did.
type TickPayload struct {
	Entities   int   `json:"entities"`
	Applied    int   `json:"applied"`
	Migrations int   `json:"migrations"`
	Rebuilds   int   `json:"rebuilds"`
	Repacked   int   `json:"repacked"`
	DurationNs int64 `json:"durationNs"`
}

// SpawnPayload records a drained spawn batch.
type SpawnPayload struct {
	Spawned  int `json:"spawned"`
	Rejected int `json:"rejected"`
}

// DespawnPayload records a drained despawn batch.
type DespawnPayload struct {
	Removed int `json:"removed"`
}

// CountPayload is the generic count for overflow/reject/truncation events.
type CountPayload struct {
	Count int `json:"count"`
}

// RebuildPayload records compaction work.
type RebuildPayload struct {
	Rebuilds int `json:"rebuilds"`
	Repacked int `json:"repacked"`
}

// encodePayload marshals a payload; nil on failure keeps the entry emittable.
func encodePayload(payload interface{}) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// Journal is a bounded, rate-limited event log with an async NDJSON writer.
// Emit never blocks the tick loop: under pressure the oldest entries roll off
// and the drop counter rises.
type Journal struct {
	// Circular buffer (producer is the tick loop, consumer is writerLoop)
	buffer    [journalRingSize]Entry
	writeHead uint64 // atomic - producer position
	readHead  uint64 // atomic - consumer position

	limiter *rate.Limiter

	// Async writer
	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// File output
	filePath string
	file     *os.File
	fileMu   sync.Mutex

	// Stats for monitoring
	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

// JournalStats is the monitoring view of a journal.
type JournalStats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Pending uint64 `json:"pending"`
	Running bool   `json:"running"`
}

// NewJournal creates a stopped journal; Start begins the writer.
func NewJournal() *Journal {
	return &Journal{
		limiter:  rate.NewLimiter(journalMaxPerSec, journalMaxPerSec/10),
		stopChan: make(chan struct{}),
	}
}

// Start opens the NDJSON file (empty path = counting only, no file) and
// launches the async writer.
func (j *Journal) Start(filePath string) error {
	if j.running.Load() {
		return nil
	}

	j.filePath = filePath
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		j.file = file
	}

	j.running.Store(true)
	j.writerWg.Add(1)
	go j.writerLoop()
	return nil
}

// Stop flushes remaining entries and closes the file.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		j.running.Store(false)
		close(j.stopChan)
		j.writerWg.Wait()

		j.fileMu.Lock()
		if j.file != nil {
			j.file.Close()
		}
		j.fileMu.Unlock()
	})
}

// Emit appends an entry. Returns false when stopped, rate limited, or rolled
// over, which callers are free to ignore.
func (j *Journal) Emit(eventType EventType, tick uint64, payload interface{}) bool {
	if !j.running.Load() {
		return false
	}

	if !j.limiter.Allow() {
		atomic.AddUint64(&j.droppedCount, 1)
		return false
	}

	pos := atomic.AddUint64(&j.writeHead, 1) - 1
	tail := atomic.LoadUint64(&j.readHead)

	// Buffer full: drop the oldest entry (rolling window).
	if pos-tail >= journalRingSize {
		atomic.AddUint64(&j.readHead, 1)
		atomic.AddUint64(&j.droppedCount, 1)
	}

	j.buffer[pos%journalRingSize] = Entry{
		Version:   JournalVersion,
		Type:      eventType,
		Name:      eventType.String(),
		Timestamp: time.Now().UnixNano(),
		Sequence:  pos,
		Tick:      tick,
		Payload:   encodePayload(payload),
	}

	atomic.AddUint64(&j.totalCount, 1)
	return true
}

// writerLoop batches and writes entries to disk asynchronously.
func (j *Journal) writerLoop() {
	defer j.writerWg.Done()

	ticker := time.NewTicker(journalFlushEvery)
	defer ticker.Stop()

	batch := make([]Entry, 0, journalBatchSize)

	for {
		select {
		case <-j.stopChan:
			for {
				batch = j.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				j.flushBatch(batch)
			}

		case <-ticker.C:
			batch = j.collectBatch(batch[:0])
			if len(batch) > 0 {
				j.flushBatch(batch)
			}
		}
	}
}

// collectBatch reads available entries from the ring.
func (j *Journal) collectBatch(batch []Entry) []Entry {
	head := atomic.LoadUint64(&j.writeHead)
	tail := atomic.LoadUint64(&j.readHead)

	for i := tail; i < head && len(batch) < journalBatchSize; i++ {
		batch = append(batch, j.buffer[i%journalRingSize])
	}

	if len(batch) > 0 {
		atomic.AddUint64(&j.readHead, uint64(len(batch)))
	}
	return batch
}

// flushBatch appends newline-delimited JSON.
func (j *Journal) flushBatch(batch []Entry) {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	if j.file == nil {
		return
	}

	for _, entry := range batch {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		j.file.Write(data)
		j.file.Write([]byte("\n"))
	}
}

// Stats returns monitoring counters.
func (j *Journal) Stats() JournalStats {
	head := atomic.LoadUint64(&j.writeHead)
	tail := atomic.LoadUint64(&j.readHead)
	return JournalStats{
		Total:   atomic.LoadUint64(&j.totalCount),
		Dropped: atomic.LoadUint64(&j.droppedCount),
		Pending: head - tail,
		Running: j.running.Load(),
	}
}
