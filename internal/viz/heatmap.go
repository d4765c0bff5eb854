// Package viz renders diagnostic images for the index. Its single product
// is the per-cell occupancy heatmap served by the harness API.
package viz

import (
	"fmt"
	"image/color"
	"io"

	"github.com/fogleman/gg"
)

const (
	// maxImageEdge caps the longer output edge; big grids get smaller
	// cells rather than a bigger image.
	maxImageEdge = 1024

	minCellPx = 4
	maxCellPx = 48
)

// Heatmap is one render request: the counts of a single grid, row-major,
// exactly Cols*Rows long. Title is optional and drawn in the top-left.
type Heatmap struct {
	Counts []int32
	Cols   int32
	Rows   int32
	Title  string
}

// Render draws the heatmap and encodes it as a PNG. Cell color scales with
// occupancy relative to the fullest cell, so the image always uses the
// whole ramp regardless of absolute load.
func Render(w io.Writer, hm Heatmap) error {
	if hm.Cols <= 0 || hm.Rows <= 0 {
		return fmt.Errorf("viz: empty grid %dx%d", hm.Cols, hm.Rows)
	}
	if int(hm.Cols)*int(hm.Rows) != len(hm.Counts) {
		return fmt.Errorf("viz: %d counts for a %dx%d grid", len(hm.Counts), hm.Cols, hm.Rows)
	}

	cell := cellPixels(int(hm.Cols), int(hm.Rows))
	width := int(hm.Cols) * cell
	height := int(hm.Rows) * cell

	var peak int32 = 1
	for _, c := range hm.Counts {
		if c > peak {
			peak = c
		}
	}

	dc := gg.NewContext(width, height)

	dc.SetColor(color.RGBA{12, 12, 28, 255})
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()

	for row := int32(0); row < hm.Rows; row++ {
		for col := int32(0); col < hm.Cols; col++ {
			count := hm.Counts[row*hm.Cols+col]
			if count == 0 {
				continue
			}
			dc.SetColor(rampColor(float64(count) / float64(peak)))
			dc.DrawRectangle(float64(col*int32(cell)), float64(row*int32(cell)), float64(cell), float64(cell))
			dc.Fill()
		}
	}

	// Cell borders on top of the fills.
	dc.SetColor(color.RGBA{30, 30, 45, 255})
	dc.SetLineWidth(1)
	for x := 0; x <= width; x += cell {
		dc.DrawLine(float64(x), 0, float64(x), float64(height))
		dc.Stroke()
	}
	for y := 0; y <= height; y += cell {
		dc.DrawLine(0, float64(y), float64(width), float64(y))
		dc.Stroke()
	}

	if hm.Title != "" {
		dc.SetColor(color.RGBA{200, 200, 210, 255})
		dc.DrawString(hm.Title, 6, 14)
	}

	return dc.EncodePNG(w)
}

// cellPixels picks a cell edge so the image stays within maxImageEdge.
func cellPixels(cols, rows int) int {
	longest := cols
	if rows > longest {
		longest = rows
	}
	px := maxImageEdge / longest
	if px < minCellPx {
		px = minCellPx
	}
	if px > maxCellPx {
		px = maxCellPx
	}
	return px
}

// rampColor maps occupancy t in (0, 1] onto a cold-to-hot gradient.
func rampColor(t float64) color.RGBA {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	stops := [...]color.RGBA{
		{36, 62, 140, 255},
		{38, 160, 160, 255},
		{222, 202, 60, 255},
		{222, 60, 40, 255},
	}
	scaled := t * float64(len(stops)-1)
	i := int(scaled)
	if i >= len(stops)-1 {
		return stops[len(stops)-1]
	}
	frac := scaled - float64(i)
	a, b := stops[i], stops[i+1]
	return color.RGBA{
		R: lerpByte(a.R, b.R, frac),
		G: lerpByte(a.G, b.G, frac),
		B: lerpByte(a.B, b.B, frac),
		A: 255,
	}
}

func lerpByte(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
