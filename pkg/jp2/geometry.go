package jp2

import (
	"image"
	"math/bits"
)

// MaxResolutions returns floor(log2(min(w,h)))+1, the most resolution
// levels an image of that size can carry. It is 0 for an empty image.
func MaxResolutions(w, h int) int {
	m := min(w, h)
	if m < 1 {
		return 0
	}
	return bits.Len(uint(m))
}

// ScaleDim halves d once per discarded level, rounding up each time.
// (5 -> 3 -> 2 -> 1, where a single shift by 3 would give 0.)
func ScaleDim(d, levels int) int {
	for i := 0; i < levels; i++ {
		d = (d + 1) >> 1
	}
	return d
}

// ReducedSize returns the output size after discarding levels
func ReducedSize(w, h, levels int) (int, int) {
	return ScaleDim(w, levels), ScaleDim(h, levels)
}

// reduceRegion maps a rectangle already clipped to the full image onto the
// grid of a resolution level levels below full, halving both corners with
// round-up like the image itself. The result is never empty.
func reduceRegion(r image.Rectangle, levels, w, h int) image.Rectangle {
	out := image.Rect(
		ScaleDim(r.Min.X, levels), ScaleDim(r.Min.Y, levels),
		ScaleDim(r.Max.X, levels), ScaleDim(r.Max.Y, levels),
	)
	rw, rh := ReducedSize(w, h, levels)
	out.Min.X = min(out.Min.X, rw-1)
	out.Min.Y = min(out.Min.Y, rh-1)
	if out.Max.X <= out.Min.X {
		out.Max.X = out.Min.X + 1
	}
	if out.Max.Y <= out.Min.Y {
		out.Max.Y = out.Min.Y + 1
	}
	return out
}
