package spatial

import (
	"sync"
	"testing"

	"swarmgrid/internal/fixed"
)

// driveChurn runs a deterministic op sequence against ix: insert a
// population, then per round move a large slice of it, remove and re-add a
// few, commit. Returns the handles in insertion order.
func driveChurn(t *testing.T, ix *Index, seed uint64, rounds int) []Handle {
	t.Helper()
	r := fixed.NewRand(seed)
	lo, hi := fixed.FromInt(0), fixed.FromInt(256)

	handles := make([]Handle, 0, 300)
	for i := 0; i < 200; i++ {
		radius := r.Range(0, fixed.FromFloat(0.5))
		if i%10 == 0 {
			radius = r.Range(fixed.One, fixed.FromInt(20))
		}
		h, err := ix.Insert(fixed.Vec{X: r.Range(lo, hi), Y: r.Range(lo, hi)}, radius, 1)
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		handles = append(handles, h)
	}
	ix.Commit()

	for round := 0; round < rounds; round++ {
		// Enough moves to force the parallel detect path.
		for i := 0; i < 90; i++ {
			h := handles[r.Intn(len(handles))]
			if !ix.Contains(h) {
				continue
			}
			pos := fixed.Vec{X: r.Range(lo, hi), Y: r.Range(lo, hi)}
			if err := ix.NotifyMoved(h, pos); err != nil {
				t.Fatalf("NotifyMoved failed: %v", err)
			}
		}
		for i := 0; i < 3; i++ {
			h := handles[r.Intn(len(handles))]
			if ix.Contains(h) {
				if err := ix.Remove(h); err != nil {
					t.Fatalf("Remove failed: %v", err)
				}
			}
		}
		h, err := ix.Insert(fixed.Vec{X: r.Range(lo, hi), Y: r.Range(lo, hi)}, r.Range(0, fixed.FromFloat(0.5)), 1)
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		handles = append(handles, h)
		ix.Commit()
	}
	return handles
}

// stateSignature captures everything observable about the index for one
// driven handle set: committed positions, placements, and query output in
// result order.
func stateSignature(t *testing.T, ix *Index, handles []Handle, seed uint64) []uint64 {
	t.Helper()
	var sig []uint64
	for _, h := range handles {
		if !ix.Contains(h) {
			sig = append(sig, ^uint64(0))
			continue
		}
		pos, _ := ix.Position(h)
		sel, col, row, _ := ix.Placement(h)
		sig = append(sig, uint64(pos.X), uint64(pos.Y),
			uint64(sel), uint64(col)<<32|uint64(uint32(row)))
	}

	r := fixed.NewRand(seed)
	scratch := NewQueryScratch(512)
	for q := 0; q < 12; q++ {
		pos := fixed.Vec{X: r.Range(0, fixed.FromInt(256)), Y: r.Range(0, fixed.FromInt(256))}
		hits, err := ix.QueryRadius(pos, r.Range(0, fixed.FromInt(25)), QueryFilter{}, scratch)
		if err != nil {
			t.Fatalf("QueryRadius failed: %v", err)
		}
		for _, h := range hits {
			sig = append(sig, uint64(h.Index)<<32|uint64(h.Generation))
		}
		sig = append(sig, ^uint64(1))
	}
	return sig
}

// TestWorkerCountIndependence verifies a single-worker and a many-worker
// index produce bit-identical state and query output for the same ops
func TestWorkerCountIndependence(t *testing.T) {
	one := newTestIndex(t, func(c *Config) { c.MaxEntities = 400; c.Workers = 1 })
	many := newTestIndex(t, func(c *Config) { c.MaxEntities = 400; c.Workers = 8 })

	h1 := driveChurn(t, one, 99, 12)
	h2 := driveChurn(t, many, 99, 12)
	if len(h1) != len(h2) {
		t.Fatalf("Handle streams diverged: %d vs %d", len(h1), len(h2))
	}
	for i := range h1 {
		if h1[i] != h2[i] {
			t.Fatalf("Handle %d diverged: %v vs %v", i, h1[i], h2[i])
		}
	}

	s1 := stateSignature(t, one, h1, 5)
	s2 := stateSignature(t, many, h2, 5)
	if len(s1) != len(s2) {
		t.Fatalf("Signature lengths differ: %d vs %d", len(s1), len(s2))
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Fatalf("Signatures diverge at %d: %x vs %x", i, s1[i], s2[i])
		}
	}
}

// TestParallelDetectChunking verifies batch sizes around the inline
// threshold and worker-count boundaries all apply fully
func TestParallelDetectChunking(t *testing.T) {
	counts := []int{1, 63, 64, 65, 96, 250}
	ix := newTestIndex(t, func(c *Config) { c.MaxEntities = 1000; c.Workers = 4 })

	handles := make([]Handle, 250)
	for i := range handles {
		handles[i] = mustInsertAt(t, ix, float64(i%50)*5, float64(i/50)*5, 0.5)
	}
	ix.Commit()

	for _, n := range counts {
		for i := 0; i < n; i++ {
			if err := ix.NotifyMoved(handles[i], fixed.VecFromFloat(float64(i%50)*5+1, float64(i/50)*5+1)); err != nil {
				t.Fatalf("NotifyMoved %d failed: %v", i, err)
			}
		}
		report := ix.Commit()
		if report.Applied != n {
			t.Errorf("Batch %d: expected %d applied, got %d", n, n, report.Applied)
		}
		// Walk them back for the next batch size.
		for i := 0; i < n; i++ {
			ix.NotifyMoved(handles[i], fixed.VecFromFloat(float64(i%50)*5, float64(i/50)*5))
		}
		ix.Commit()
	}
}

// TestConcurrentQueriesDuringMoves verifies queries from many goroutines
// stay safe while moves are being recorded, before the Commit
func TestConcurrentQueriesDuringMoves(t *testing.T) {
	ix := newTestIndex(t, func(c *Config) { c.MaxEntities = 500 })
	handles := make([]Handle, 300)
	for i := range handles {
		handles[i] = mustInsertAt(t, ix, float64(i%20)*3, float64(i/20)*3, 0.5)
	}
	ix.Commit()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			r := fixed.NewRand(seed)
			scratch := NewQueryScratch(512)
			for i := 0; i < 200; i++ {
				pos := fixed.Vec{X: r.Range(0, fixed.FromInt(60)), Y: r.Range(0, fixed.FromInt(60))}
				if _, err := ix.QueryRadius(pos, fixed.FromInt(5), QueryFilter{}, scratch); err != nil {
					t.Errorf("QueryRadius failed: %v", err)
					return
				}
			}
		}(uint64(w + 1))
	}

	// Record moves on the tick goroutine while the queries run.
	for i, h := range handles[:100] {
		if err := ix.NotifyMoved(h, fixed.VecFromFloat(float64(i%20)*3+0.5, float64(i/20)*3+0.5)); err != nil {
			t.Fatalf("NotifyMoved failed: %v", err)
		}
	}
	wg.Wait()

	report := ix.Commit()
	if report.Applied != 100 {
		t.Errorf("Expected 100 applied after concurrent reads, got %d", report.Applied)
	}
}
