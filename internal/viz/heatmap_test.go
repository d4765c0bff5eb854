package viz

import (
	"bytes"
	"image/png"
	"testing"
)

// TestRenderProducesPNG verifies a render decodes as a PNG of the expected
// size with hot cells distinguishable from empty ones.
func TestRenderProducesPNG(t *testing.T) {
	const cols, rows = 6, 4
	counts := make([]int32, cols*rows)
	counts[0] = 12 // cell (0,0) hot
	counts[9] = 3  // cell (3,1) warm

	var buf bytes.Buffer
	err := Render(&buf, Heatmap{Counts: counts, Cols: cols, Rows: rows, Title: "class 0 grid A"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Output is not a valid PNG: %v", err)
	}

	cell := cellPixels(cols, rows)
	bounds := img.Bounds()
	if bounds.Dx() != cols*cell || bounds.Dy() != rows*cell {
		t.Errorf("Expected %dx%d image, got %dx%d", cols*cell, rows*cell, bounds.Dx(), bounds.Dy())
	}

	// Sample cell centers: the hot cell must differ from an empty one.
	hot := img.At(cell/2, cell/2)
	empty := img.At(cell+cell/2, cell/2)
	if hot == empty {
		t.Error("Expected hot and empty cells to render differently")
	}
}

// TestRenderValidation verifies malformed requests are rejected.
func TestRenderValidation(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, Heatmap{Counts: []int32{1, 2}, Cols: 3, Rows: 1}); err == nil {
		t.Error("Expected an error for a count/dimension mismatch")
	}
	if err := Render(&buf, Heatmap{Counts: nil, Cols: 0, Rows: 0}); err == nil {
		t.Error("Expected an error for an empty grid")
	}
}

// TestRampColorOrdering verifies the ramp gets hotter with occupancy.
func TestRampColorOrdering(t *testing.T) {
	low := rampColor(0.05)
	high := rampColor(1.0)
	if low == high {
		t.Fatal("Expected distinct colors at the ramp ends")
	}
	if high.R <= low.R {
		t.Errorf("Expected the hot end to be redder: low R=%d, high R=%d", low.R, high.R)
	}
}
