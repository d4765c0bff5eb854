package sim

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// TestJournalEmitBeforeStart verifies entries are refused while stopped
func TestJournalEmitBeforeStart(t *testing.T) {
	j := NewJournal()
	if j.Emit(EventTick, 1, nil) {
		t.Error("Emit before Start should return false")
	}
	if s := j.Stats(); s.Total != 0 || s.Running {
		t.Errorf("Expected idle stats, got %+v", s)
	}
}

// TestJournalWritesNDJSON verifies entries land in the file as one JSON
// object per line with monotonic sequences
func TestJournalWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.ndjson")

	j := NewJournal()
	if err := j.Start(path); err != nil {
		t.Fatal(err)
	}

	j.Emit(EventTick, 1, TickPayload{Entities: 10, Applied: 3, DurationNs: 1000})
	j.Emit(EventSpawn, 1, SpawnPayload{Spawned: 5})
	j.Emit(EventMoveOverflow, 2, CountPayload{Count: 7})
	j.Stop()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Line %d is not valid JSON: %v", len(entries), err)
		}
		entries = append(entries, e)
	}

	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Sequence != uint64(i) {
			t.Errorf("Entry %d: expected sequence %d, got %d", i, i, e.Sequence)
		}
		if e.Version != JournalVersion {
			t.Errorf("Entry %d: wrong version %d", i, e.Version)
		}
	}
	if entries[0].Name != "tick" || entries[2].Name != "move_overflow" {
		t.Errorf("Unexpected names: %q, %q", entries[0].Name, entries[2].Name)
	}

	var tp TickPayload
	if err := json.Unmarshal(entries[0].Payload, &tp); err != nil {
		t.Fatal(err)
	}
	if tp.Entities != 10 || tp.Applied != 3 {
		t.Errorf("Tick payload did not round-trip: %+v", tp)
	}
}

// TestJournalNoFile verifies a journal started without a path still counts
func TestJournalNoFile(t *testing.T) {
	j := NewJournal()
	if err := j.Start(""); err != nil {
		t.Fatal(err)
	}
	defer j.Stop()

	for i := uint64(0); i < 5; i++ {
		if !j.Emit(EventTick, i, nil) {
			t.Fatalf("Emit %d failed", i)
		}
	}
	if s := j.Stats(); s.Total != 5 {
		t.Errorf("Expected 5 total, got %d", s.Total)
	}
}

// TestJournalRateLimit verifies the global limiter sheds load instead of
// letting a hot loop flood the ring
func TestJournalRateLimit(t *testing.T) {
	j := NewJournal()
	if err := j.Start(""); err != nil {
		t.Fatal(err)
	}

	burst := journalMaxPerSec / 10
	accepted := 0
	total := burst + 100
	for i := 0; i < total; i++ {
		if j.Emit(EventTick, uint64(i), nil) {
			accepted++
		}
	}
	j.Stop()

	if accepted < burst {
		t.Errorf("Expected at least the burst %d accepted, got %d", burst, accepted)
	}
	if accepted == total {
		t.Error("Expected the limiter to reject some entries")
	}
	s := j.Stats()
	if s.Total != uint64(accepted) {
		t.Errorf("Expected total %d, got %d", accepted, s.Total)
	}
	if s.Dropped != uint64(total-accepted) {
		t.Errorf("Expected %d dropped, got %d", total-accepted, s.Dropped)
	}
}

// TestJournalRollover verifies the ring drops oldest entries under pressure
// instead of blocking the producer
func TestJournalRollover(t *testing.T) {
	j := NewJournal()
	j.limiter = rate.NewLimiter(rate.Inf, 0)
	if err := j.Start(""); err != nil {
		t.Fatal(err)
	}

	total := journalRingSize + 400
	for i := 0; i < total; i++ {
		if !j.Emit(EventTick, uint64(i), nil) {
			t.Fatalf("Emit %d was refused with an unlimited limiter", i)
		}
	}
	j.Stop()

	s := j.Stats()
	if s.Total != uint64(total) {
		t.Errorf("Expected total %d, got %d", total, s.Total)
	}
	if s.Dropped == 0 {
		t.Error("Expected rollover drops, got none")
	}
}

// TestJournalStopIdempotent verifies double Stop is safe
func TestJournalStopIdempotent(t *testing.T) {
	j := NewJournal()
	if err := j.Start(""); err != nil {
		t.Fatal(err)
	}
	j.Emit(EventTick, 1, nil)
	j.Stop()
	j.Stop()

	if j.Emit(EventTick, 2, nil) {
		t.Error("Emit after Stop should return false")
	}
}

// TestJournalFlushTiming verifies the periodic flush lands entries without
// waiting for Stop
func TestJournalFlushTiming(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flush.ndjson")

	j := NewJournal()
	if err := j.Start(path); err != nil {
		t.Fatal(err)
	}
	defer j.Stop()

	j.Emit(EventRebuild, 3, RebuildPayload{Rebuilds: 1, Repacked: 40})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Entry was not flushed within the deadline")
}
