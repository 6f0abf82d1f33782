package imaging

import (
	"image"
	"math"
)

// Geometry describes where the scaled source lands on the output canvas.
type Geometry struct {
	CanvasWidth   int
	CanvasHeight  int
	ContentWidth  int
	ContentHeight int
	OffsetX       int
	OffsetY       int
}

// Padded reports whether the canvas is larger than the content.
func (g Geometry) Padded() bool {
	return g.ContentWidth != g.CanvasWidth || g.ContentHeight != g.CanvasHeight
}

// Identity reports whether the geometry leaves a srcW x srcH image untouched.
func (g Geometry) Identity(srcW, srcH int) bool {
	return !g.Padded() && g.ContentWidth == srcW && g.ContentHeight == srcH
}

// ContentRect is the destination rectangle of the scaled source on the canvas.
func (g Geometry) ContentRect() image.Rectangle {
	return image.Rect(g.OffsetX, g.OffsetY, g.OffsetX+g.ContentWidth, g.OffsetY+g.ContentHeight)
}

// Contain computes the output geometry for a srcW x srcH source.
//
// With both width and height the source is scaled to fit inside the box, keeping its aspect ratio,
// and centred on a canvas of exactly width x height. With one axis the other follows the aspect
// ratio. With neither the source size is kept.
func Contain(srcW, srcH int, width, height *int) Geometry {
	if srcW <= 0 || srcH <= 0 {
		return Geometry{}
	}
	switch {
	case width != nil && height != nil:
		boxW, boxH := atLeastOne(*width), atLeastOne(*height)
		scale := math.Min(float64(boxW)/float64(srcW), float64(boxH)/float64(srcH))
		cw := clamp(scaleDim(srcW, scale), boxW)
		ch := clamp(scaleDim(srcH, scale), boxH)
		return Geometry{
			CanvasWidth:   boxW,
			CanvasHeight:  boxH,
			ContentWidth:  cw,
			ContentHeight: ch,
			OffsetX:       (boxW - cw) / 2,
			OffsetY:       (boxH - ch) / 2,
		}
	case width != nil:
		w := atLeastOne(*width)
		h := scaleDim(srcH, float64(w)/float64(srcW))
		return Geometry{CanvasWidth: w, CanvasHeight: h, ContentWidth: w, ContentHeight: h}
	case height != nil:
		h := atLeastOne(*height)
		w := scaleDim(srcW, float64(h)/float64(srcH))
		return Geometry{CanvasWidth: w, CanvasHeight: h, ContentWidth: w, ContentHeight: h}
	default:
		return Geometry{CanvasWidth: srcW, CanvasHeight: srcH, ContentWidth: srcW, ContentHeight: srcH}
	}
}

func scaleDim(v int, scale float64) int {
	return atLeastOne(int(math.Round(float64(v) * scale)))
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

func clamp(v, upper int) int {
	if v > upper {
		return upper
	}
	return v
}
