package jp2

import (
	"cmp"
	"math"
	"slices"

	"github.com/jpfielding/jp2.go/pkg/codec"
)

// rateControl holds the canonical layer targets: ratios descending, PSNR
// ascending with 0 (lossless) last. Either order puts the lowest fidelity
// layer first.
type rateControl struct {
	mode   codec.RateMode
	layers []float64
}

func (rc *rateControl) setRatios(ratios []float64) error {
	if rc.mode == codec.RateQuality {
		return invalid("ratio", ratios, "visual quality is already set")
	}
	if len(ratios) == 0 {
		return invalid("ratio", ratios, "at least one layer is required")
	}
	for _, r := range ratios {
		if !(r > 0) || math.IsInf(r, 0) {
			return invalid("ratio", r, "must be a finite value > 0")
		}
	}
	rc.mode = codec.RateRatio
	rc.layers = canonicalRatios(ratios)
	return nil
}

func (rc *rateControl) setQualities(psnr []float64) error {
	if rc.mode == codec.RateRatio {
		return invalid("quality", psnr, "compression ratio is already set")
	}
	if len(psnr) == 0 {
		return invalid("quality", psnr, "at least one layer is required")
	}
	for _, q := range psnr {
		if !(q >= 0) || math.IsInf(q, 0) {
			return invalid("quality", q, "must be a finite value >= 0")
		}
	}
	rc.mode = codec.RateQuality
	rc.layers = canonicalQualities(psnr)
	return nil
}

// numLayers is the quality layer count the encoded header will carry
func (rc *rateControl) numLayers() int {
	return max(len(rc.layers), 1)
}

func canonicalRatios(ratios []float64) []float64 {
	out := slices.Clone(ratios)
	slices.SortFunc(out, func(a, b float64) int { return cmp.Compare(b, a) })
	return out
}

func canonicalQualities(psnr []float64) []float64 {
	out := slices.Clone(psnr)
	slices.SortFunc(out, func(a, b float64) int {
		switch {
		case a == b:
			return 0
		case a == 0:
			return 1
		case b == 0:
			return -1
		}
		return cmp.Compare(a, b)
	})
	return out
}
