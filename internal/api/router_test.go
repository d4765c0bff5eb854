package api

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"swarmgrid/internal/fixed"
	"swarmgrid/internal/sim"
	"swarmgrid/internal/spatial"
	"swarmgrid/internal/viz"
)

type spawnCall struct {
	count  int
	radius fixed.Scalar
	mask   uint32
}

// mockWorld implements WorldInterface with canned data and call recording.
type mockWorld struct {
	mu         sync.Mutex
	stats      sim.Stats
	snap       *sim.Snapshot
	spawns     []spawnCall
	despawns   []int
	paused     bool
	queueFull  bool
	counts     []int32
	cols, rows int32
}

func newMockWorld() *mockWorld {
	return &mockWorld{
		stats: sim.Stats{
			Tick:     42,
			Entities: 3,
			Index: spatial.Stats{
				Tick:    42,
				Live:    3,
				Classes: []spatial.ClassStats{{CellSize: 4, Watermark: 8, Count: 3}},
			},
		},
		snap: &sim.Snapshot{
			Sequence:    9,
			Tick:        42,
			EntityCount: 3,
			Entities: []sim.EntityView{
				{ID: 1, X: 10, Y: 20, Radius: 0.4, Mask: 1},
				{ID: 2, X: 30, Y: 40, Radius: 0.4, Mask: 2},
				{ID: 3, X: 50, Y: 60, Radius: 2.5, Mask: 1},
			},
			TickDuration: 3 * time.Millisecond,
		},
		counts: []int32{0, 2, 5, 0, 1, 0, 9, 0, 0, 3, 0, 0},
		cols:   4,
		rows:   3,
	}
}

func (m *mockWorld) Stats() sim.Stats        { return m.stats }
func (m *mockWorld) Tick() uint64            { return m.stats.Tick }
func (m *mockWorld) Snapshot() *sim.Snapshot { return m.snap }

func (m *mockWorld) EnqueueSpawn(count int, radius fixed.Scalar, mask uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueFull {
		return false
	}
	m.spawns = append(m.spawns, spawnCall{count, radius, mask})
	return true
}

func (m *mockWorld) EnqueueDespawn(count int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueFull {
		return false
	}
	m.despawns = append(m.despawns, count)
	return true
}

func (m *mockWorld) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

func (m *mockWorld) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
}

func (m *mockWorld) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *mockWorld) CellCounts(class int, sel spatial.GridSelector, dst []int32) ([]int32, int32, int32) {
	if class != 0 {
		return dst[:0], 0, 0
	}
	return m.counts, m.cols, m.rows
}

func (m *mockWorld) lastSpawn() (spawnCall, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.spawns) == 0 {
		return spawnCall{}, 0
	}
	return m.spawns[len(m.spawns)-1], len(m.spawns)
}

// newTestServer mounts a pure router over a mock world with rate limiting
// effectively off.
func newTestServer(t *testing.T, world WorldInterface) *httptest.Server {
	t.Helper()
	router := NewRouter(RouterConfig{
		World:           world,
		RateLimitConfig: &RateLimitConfig{RequestsPerSecond: 10000, Burst: 10000, CleanupInterval: time.Minute},
		DisableLogging:  true,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

// TestStatsEndpoint verifies /api/stats serves the world's stats as JSON.
func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, newMockWorld())

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}

	var got sim.Stats
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if got.Tick != 42 || got.Entities != 3 {
		t.Errorf("Expected tick 42 with 3 entities, got tick %d with %d", got.Tick, got.Entities)
	}
	if got.Index.Live != 3 {
		t.Errorf("Expected 3 live entities in index stats, got %d", got.Index.Live)
	}
}

// TestClassesEndpoint verifies /api/classes serves per-class stats.
func TestClassesEndpoint(t *testing.T) {
	ts := newTestServer(t, newMockWorld())

	resp, err := http.Get(ts.URL + "/api/classes")
	if err != nil {
		t.Fatalf("GET /api/classes failed: %v", err)
	}
	defer resp.Body.Close()

	var got struct {
		Tick    uint64               `json:"tick"`
		Classes []spatial.ClassStats `json:"classes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode classes: %v", err)
	}
	if len(got.Classes) != 1 {
		t.Fatalf("Expected 1 class, got %d", len(got.Classes))
	}
	if got.Classes[0].Watermark != 8 {
		t.Errorf("Expected watermark 8, got %.1f", got.Classes[0].Watermark)
	}
}

// TestSnapshotEndpoint verifies /api/snapshot serves the published snapshot.
func TestSnapshotEndpoint(t *testing.T) {
	ts := newTestServer(t, newMockWorld())

	resp, err := http.Get(ts.URL + "/api/snapshot")
	if err != nil {
		t.Fatalf("GET /api/snapshot failed: %v", err)
	}
	defer resp.Body.Close()

	var got sim.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if got.Tick != 42 || len(got.Entities) != 3 {
		t.Errorf("Expected snapshot tick 42 with 3 views, got tick %d with %d", got.Tick, len(got.Entities))
	}
}

// TestSpawnEndpoint verifies /api/spawn queues commands, applies defaults
// and caps, and rejects bad input.
func TestSpawnEndpoint(t *testing.T) {
	world := newMockWorld()
	ts := newTestServer(t, world)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCount  int
	}{
		{"explicit", `{"count":25,"radius":1.5,"mask":2}`, http.StatusAccepted, 25},
		{"defaults", `{}`, http.StatusAccepted, defaultBatch},
		{"capped", `{"count":5000}`, http.StatusAccepted, maxBatch},
		{"bad json", `{count}`, http.StatusBadRequest, 0},
		{"negative radius", `{"count":1,"radius":-2}`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/spawn", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST /api/spawn failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantStatus != http.StatusAccepted {
				return
			}
			call, _ := world.lastSpawn()
			if call.count != tt.wantCount {
				t.Errorf("Expected queued count %d, got %d", tt.wantCount, call.count)
			}
		})
	}

	world.mu.Lock()
	first := world.spawns[0]
	world.mu.Unlock()
	if first.radius != fixed.FromFloat(1.5) || first.mask != 2 {
		t.Errorf("Expected radius 1.5 mask 2 on first call, got %.2f mask %d",
			fixed.ToFloat(first.radius), first.mask)
	}
}

// TestSpawnQueueFull verifies a full command queue maps to 503.
func TestSpawnQueueFull(t *testing.T) {
	world := newMockWorld()
	world.queueFull = true
	ts := newTestServer(t, world)

	resp, err := http.Post(ts.URL+"/api/spawn", "application/json", strings.NewReader(`{"count":1}`))
	if err != nil {
		t.Fatalf("POST /api/spawn failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

// TestDespawnEndpoint verifies /api/despawn queues removals.
func TestDespawnEndpoint(t *testing.T) {
	world := newMockWorld()
	ts := newTestServer(t, world)

	resp, err := http.Post(ts.URL+"/api/despawn", "application/json", strings.NewReader(`{"count":7}`))
	if err != nil {
		t.Fatalf("POST /api/despawn failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	if len(world.despawns) != 1 || world.despawns[0] != 7 {
		t.Errorf("Expected one despawn of 7, got %v", world.despawns)
	}
}

// TestPauseResumeEndpoints verifies the pause endpoints toggle the world.
func TestPauseResumeEndpoints(t *testing.T) {
	world := newMockWorld()
	ts := newTestServer(t, world)

	resp, err := http.Post(ts.URL+"/api/pause", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/pause failed: %v", err)
	}
	resp.Body.Close()
	if !world.Paused() {
		t.Error("Expected world paused after /api/pause")
	}

	resp, err = http.Post(ts.URL+"/api/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/resume failed: %v", err)
	}
	resp.Body.Close()
	if world.Paused() {
		t.Error("Expected world running after /api/resume")
	}
}

// TestHeatmapEndpoint verifies the heatmap renders a PNG and validates its
// query parameters.
func TestHeatmapEndpoint(t *testing.T) {
	ts := newTestServer(t, newMockWorld())

	resp, err := http.Get(ts.URL + "/api/heatmap.png?class=0&grid=a")
	if err != nil {
		t.Fatalf("GET /api/heatmap.png failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %s", ct)
	}
	if _, err := png.Decode(resp.Body); err != nil {
		t.Errorf("Response is not a valid PNG: %v", err)
	}

	resp2, err := http.Get(ts.URL + "/api/heatmap.png?class=9")
	if err != nil {
		t.Fatalf("GET with unknown class failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown class, got %d", resp2.StatusCode)
	}

	resp3, err := http.Get(ts.URL + "/api/heatmap.png?grid=z")
	if err != nil {
		t.Fatalf("GET with bad grid failed: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad grid, got %d", resp3.StatusCode)
	}
}

// TestHeatmapCache verifies repeated requests within one tick are served
// from the render cache.
func TestHeatmapCache(t *testing.T) {
	cache := viz.NewRenderCache(0)
	router := NewRouter(RouterConfig{
		World:           newMockWorld(),
		RateLimitConfig: &RateLimitConfig{RequestsPerSecond: 10000, Burst: 10000, CleanupInterval: time.Minute},
		HeatmapCache:    cache,
		DisableLogging:  true,
	})
	ts := httptest.NewServer(router)
	defer ts.Close()

	var bodies [2][]byte
	for i := range bodies {
		resp, err := http.Get(ts.URL + "/api/heatmap.png")
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("Reading response %d failed: %v", i, err)
		}
		bodies[i] = body
	}

	if cache.Hits() != 1 || cache.Misses() != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d and %d", cache.Hits(), cache.Misses())
	}
	if !bytes.Equal(bodies[0], bodies[1]) {
		t.Error("Expected identical bytes from the cached frame")
	}
}

// TestHealthz verifies the liveness endpoint.
func TestHealthz(t *testing.T) {
	ts := newTestServer(t, newMockWorld())

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

// TestRateLimitRejects verifies over-budget requests get 429.
func TestRateLimitRejects(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             2,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	router := NewRouter(RouterConfig{
		World:          newMockWorld(),
		RateLimiter:    limiter,
		DisableLogging: true,
	})
	ts := httptest.NewServer(router)
	defer ts.Close()

	status := make([]int, 3)
	for i := range status {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		resp.Body.Close()
		status[i] = resp.StatusCode
	}

	if status[0] != http.StatusOK || status[1] != http.StatusOK {
		t.Errorf("Expected first two requests to pass, got %v", status)
	}
	if status[2] != http.StatusTooManyRequests {
		t.Errorf("Expected third request limited, got %d", status[2])
	}

	stats := limiter.GetStats()
	if stats["rejected"] == 0 {
		t.Error("Expected the limiter to count rejections")
	}
}
