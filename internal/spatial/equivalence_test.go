package spatial

import (
	"sort"
	"testing"

	"swarmgrid/internal/fixed"
)

// oracleEntity mirrors one live entity for the brute-force reference scan.
type oracleEntity struct {
	pos    fixed.Vec
	radius fixed.Scalar
	mask   uint32
}

// bruteQuery is the O(n) reference: exact circle intersection, same mask
// and exclusion rules as the index.
func bruteQuery(entities map[Handle]oracleEntity, pos fixed.Vec, radius fixed.Scalar, filter QueryFilter) map[Handle]bool {
	out := make(map[Handle]bool)
	for h, e := range entities {
		if filter.Mask != 0 && e.mask&filter.Mask == 0 {
			continue
		}
		if h == filter.Exclude {
			continue
		}
		maxD := radius + e.radius
		if fixed.DistSq(e.pos, pos) <= fixed.Mul(maxD, maxD) {
			out[h] = true
		}
	}
	return out
}

func sortedHandles(set map[Handle]bool) []Handle {
	out := make([]Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].Generation < out[j].Generation
	})
	return out
}

// TestQueryMatchesBruteForce churns a mixed-class population through moves,
// removals and inserts, comparing every query against the O(n) reference
func TestQueryMatchesBruteForce(t *testing.T) {
	ix := newTestIndex(t, func(c *Config) { c.MaxEntities = 600 })
	r := fixed.NewRand(7)

	oracle := make(map[Handle]oracleEntity)
	var live []Handle
	lo, hi := fixed.FromInt(0), fixed.FromInt(256)

	randomRadius := func() fixed.Scalar {
		if r.Intn(4) == 0 {
			return r.Range(fixed.FromFloat(0.5)+1, fixed.FromInt(20))
		}
		return r.Range(0, fixed.FromFloat(0.5))
	}
	insertOne := func() {
		pos := fixed.Vec{X: r.Range(lo, hi), Y: r.Range(lo, hi)}
		radius := randomRadius()
		mask := uint32(1) << uint(r.Intn(3))
		h, err := ix.Insert(pos, radius, mask)
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		oracle[h] = oracleEntity{pos: pos, radius: radius, mask: mask}
		live = append(live, h)
	}

	for i := 0; i < 400; i++ {
		insertOne()
	}

	type pendingMove struct {
		h   Handle
		pos fixed.Vec
	}

	for round := 0; round < 25; round++ {
		// Moves are deferred in both the index and the oracle.
		var moves []pendingMove
		for i := 0; i < 40; i++ {
			h := live[r.Intn(len(live))]
			pos := fixed.Vec{X: r.Range(lo, hi), Y: r.Range(lo, hi)}
			if err := ix.NotifyMoved(h, pos); err != nil {
				t.Fatalf("NotifyMoved failed: %v", err)
			}
			moves = append(moves, pendingMove{h, pos})
		}

		for i := 0; i < 5 && len(live) > 50; i++ {
			k := r.Intn(len(live))
			h := live[k]
			if err := ix.Remove(h); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			delete(oracle, h)
			live[k] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		for i := 0; i < 5; i++ {
			insertOne()
		}

		ix.Commit()
		// Last write wins, removed entities drop out, like the index.
		for _, m := range moves {
			if e, ok := oracle[m.h]; ok {
				e.pos = m.pos
				oracle[m.h] = e
			}
		}

		scratch := NewQueryScratch(len(oracle) + 1)
		for q := 0; q < 20; q++ {
			pos := fixed.Vec{X: r.Range(lo, hi), Y: r.Range(lo, hi)}
			radius := r.Range(0, fixed.FromInt(30))
			filter := QueryFilter{}
			switch r.Intn(3) {
			case 1:
				filter.Mask = uint32(1) << uint(r.Intn(3))
			case 2:
				filter.Exclude = live[r.Intn(len(live))]
			}

			hits, err := ix.QueryRadius(pos, radius, filter, scratch)
			if err != nil {
				t.Fatalf("QueryRadius failed: %v", err)
			}
			got := make(map[Handle]bool, len(hits))
			for _, h := range hits {
				if got[h] {
					t.Fatalf("Duplicate handle %v in query results", h)
				}
				got[h] = true
			}

			want := bruteQuery(oracle, pos, radius, filter)
			if len(got) != len(want) {
				t.Fatalf("Round %d query %d: index found %d, reference %d\nindex: %v\nreference: %v",
					round, q, len(got), len(want), sortedHandles(got), sortedHandles(want))
			}
			for h := range want {
				if !got[h] {
					t.Fatalf("Round %d query %d: reference hit %v missing from index results", round, q, h)
				}
			}
		}
	}
}
