package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"swarmgrid/internal/fixed"
	"swarmgrid/internal/spatial"
	"swarmgrid/internal/viz"
)

// Per-request caps so one POST cannot flood the command queue.
const (
	defaultBatch = 10
	maxBatch     = 1000
)

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.world.Stats())
}

func (h *routerHandlers) handleGetClasses(w http.ResponseWriter, r *http.Request) {
	stats := h.world.Stats()
	writeJSON(w, map[string]interface{}{
		"tick":    stats.Tick,
		"classes": stats.Index.Classes,
	})
}

func (h *routerHandlers) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.world.Snapshot())
}

func (h *routerHandlers) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count  int     `json:"count"`
		Radius float64 `json:"radius"`
		Mask   uint32  `json:"mask"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		req.Count = defaultBatch
	}
	if req.Count > maxBatch {
		req.Count = maxBatch
	}
	if req.Radius < 0 {
		writeError(w, "Radius must not be negative", http.StatusBadRequest)
		return
	}

	if !h.world.EnqueueSpawn(req.Count, fixed.FromFloat(req.Radius), req.Mask) {
		writeError(w, "Command queue full", http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{
		"queued": true,
		"count":  req.Count,
	})
}

func (h *routerHandlers) handleDespawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		req.Count = defaultBatch
	}
	if req.Count > maxBatch {
		req.Count = maxBatch
	}

	if !h.world.EnqueueDespawn(req.Count) {
		writeError(w, "Command queue full", http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{
		"queued": true,
		"count":  req.Count,
	})
}

func (h *routerHandlers) handlePause(w http.ResponseWriter, r *http.Request) {
	h.world.Pause()
	writeJSON(w, map[string]bool{"paused": true})
}

func (h *routerHandlers) handleResume(w http.ResponseWriter, r *http.Request) {
	h.world.Resume()
	writeJSON(w, map[string]bool{"paused": false})
}

// handleHeatmap renders one grid's occupancy as a PNG.
// Query params: class (default 0), grid ("a" or "b", default "a").
func (h *routerHandlers) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	class := 0
	if v := r.URL.Query().Get("class"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, "Invalid class", http.StatusBadRequest)
			return
		}
		class = parsed
	}

	sel := spatial.GridA
	gridName := "a"
	switch r.URL.Query().Get("grid") {
	case "", "a", "A":
	case "b", "B":
		sel = spatial.GridB
		gridName = "b"
	default:
		writeError(w, "Grid must be \"a\" or \"b\"", http.StatusBadRequest)
		return
	}

	// The grid only changes on a tick boundary, so within one tick every
	// request for the same class/grid serves the same bytes.
	tick := h.world.Tick()
	if png := h.cache.Get(class, gridName, tick); png != nil {
		writePNG(w, png)
		return
	}

	counts, cols, rows := h.world.CellCounts(class, sel, nil)
	if cols == 0 || rows == 0 {
		writeError(w, "Unknown class", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	err := viz.Render(&buf, viz.Heatmap{
		Counts: counts,
		Cols:   cols,
		Rows:   rows,
		Title:  fmt.Sprintf("class %d grid %s", class, gridName),
	})
	if err != nil {
		writeError(w, "Render failed", http.StatusInternalServerError)
		return
	}

	h.cache.Put(class, gridName, tick, buf.Bytes())
	writePNG(w, buf.Bytes())
}

func writePNG(w http.ResponseWriter, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}
