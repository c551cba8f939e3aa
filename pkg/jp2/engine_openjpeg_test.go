//go:build openjpeg && cgo

package jp2

import (
	"fmt"
	"image"
	"math"
	"testing"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineGuard routes calls to the real engine
func engineGuard(t *testing.T) Option {
	t.Helper()
	g := codec.NewGuard(DefaultCodec(), 0)
	t.Cleanup(func() { g.Close() })
	return WithGuard(g)
}

// noiseImage fills an opaque image with xorshift noise, which no rate
// control can compress losslessly
func noiseImage(w, h int) *Image {
	img := NewImage(w, h, false)
	seed := uint32(88172645)
	for i := range img.Pix {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		img.Pix[i] = 0xFF000000 | seed&0xFFFFFF
	}
	return img
}

func psnr(a, b *Image) float64 {
	m := mse(a, b)
	if m == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(255*255/m)
}

func TestEngine_LosslessRoundTrip(t *testing.T) {
	opt := engineGuard(t)
	grey := greyImage(9, 7)
	greyAlpha := testImage(9, 7, true, 2)
	for i, p := range greyAlpha.Pix {
		a, v, _, _ := unpack(p)
		greyAlpha.Pix[i] = pack(a, v, v, v)
	}
	tests := []struct {
		name  string
		img   *Image
		comps int
	}{
		{"grey", grey, 1},
		{"grey alpha", greyAlpha, 2},
		{"rgb", testImage(33, 17, false, 3), 3},
		{"rgba", testImage(33, 17, true, 4), 4},
	}
	for _, tt := range tests {
		for _, format := range []Format{FormatJP2, FormatJ2K} {
			t.Run(fmt.Sprintf("%s %s", tt.name, format), func(t *testing.T) {
				data := encodeWith(t, tt.img, opt, func(e *Encoder) {
					require.NoError(t, e.SetOutputFormat(format))
				})
				hdr, err := ReadHeader(FromBytes(data))
				require.NoError(t, err)
				assert.Equal(t, tt.comps, hdr.NumComponents)
				assert.Equal(t, tt.img.HasAlpha, hdr.HasAlpha)

				img := decodeWith(t, data, opt, func(d *Decoder) { d.DisablePremultiplication() })
				assert.Equal(t, tt.img.Pix, img.Pix)
			})
		}
	}
}

func TestEngine_RatioTracksBudget(t *testing.T) {
	opt := engineGuard(t)
	src := noiseImage(128, 128)
	raw := float64(128 * 128 * 3)

	tests := []struct {
		ratios []float64
		budget float64
	}{
		{[]float64{4}, raw / 4},
		{[]float64{8}, raw / 8},
		{[]float64{16}, raw / 16},
		{[]float64{16, 8, 4}, raw / 4},
	}
	sizes := make([]int, len(tests))
	for i, tt := range tests {
		t.Run(fmt.Sprint(tt.ratios), func(t *testing.T) {
			data := encodeWith(t, src, opt, func(e *Encoder) {
				require.NoError(t, e.SetOutputFormat(FormatJ2K))
				require.NoError(t, e.SetCompressionRatio(tt.ratios...))
			})
			sizes[i] = len(data)
			assert.InEpsilon(t, tt.budget, float64(len(data)), 0.05, "%d bytes for budget %.0f", len(data), tt.budget)

			hdr, err := ReadHeader(FromBytes(data))
			require.NoError(t, err)
			assert.Equal(t, len(tt.ratios), hdr.NumQualityLayers)
		})
	}
	assert.Greater(t, sizes[0], sizes[1])
	assert.Greater(t, sizes[1], sizes[2])
}

func TestEngine_QualityLayers(t *testing.T) {
	opt := engineGuard(t)
	src := testImage(128, 128, false, 21)
	targets := []float64{20, 30, 40}

	layered := encodeWith(t, src, opt, func(e *Encoder) {
		require.NoError(t, e.SetOutputFormat(FormatJ2K))
		require.NoError(t, e.SetVisualQuality(targets...))
	})

	prev := 0.0
	for k, q := range targets {
		got := decodeWith(t, layered, opt, func(d *Decoder) {
			require.NoError(t, d.SetLayersToDecode(k+1))
		})
		p := psnr(src, got)
		assert.Greater(t, p, prev, "layers %d", k+1)
		prev = p

		single := encodeWith(t, src, opt, func(e *Encoder) {
			require.NoError(t, e.SetOutputFormat(FormatJ2K))
			require.NoError(t, e.SetVisualQuality(q))
		})
		alone := psnr(src, decodeWith(t, single, opt, nil))
		assert.InDelta(t, alone, p, 1.0, "layers %d against a single %v dB layer", k+1, q)
	}

	// a lossless final layer restores the source exactly
	lossless := encodeWith(t, src, opt, func(e *Encoder) {
		require.NoError(t, e.SetVisualQuality(25, 0))
	})
	assert.Equal(t, src.Pix, decodeWith(t, lossless, opt, nil).Pix)
	coarse := decodeWith(t, lossless, opt, func(d *Decoder) {
		require.NoError(t, d.SetLayersToDecode(1))
	})
	assert.Less(t, psnr(src, coarse), math.Inf(1))
}

func TestEngine_ReduceAndRegion(t *testing.T) {
	opt := engineGuard(t)
	src := testImage(64, 48, false, 22)
	data := encodeWith(t, src, opt, nil)

	tests := []struct {
		name   string
		skip   int
		region image.Rectangle
		wantW  int
		wantH  int
	}{
		{"skip 1", 1, image.Rectangle{}, 32, 24},
		{"skip 3", 3, image.Rectangle{}, 8, 6},
		{"skip 2 region", 2, image.Rect(8, 8, 40, 40), 8, 8},
		{"region", 0, image.Rect(10, 5, 30, 25), 20, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := decodeWith(t, data, opt, func(d *Decoder) {
				require.NoError(t, d.SetSkipResolutions(tt.skip))
				if !tt.region.Empty() {
					require.NoError(t, d.SetRegion(tt.region))
				}
			})
			assert.Equal(t, tt.wantW, img.Width)
			assert.Equal(t, tt.wantH, img.Height)
			if tt.skip == 0 {
				for y := 0; y < img.Height; y++ {
					for x := 0; x < img.Width; x++ {
						require.Equal(t, src.ARGBAt(tt.region.Min.X+x, tt.region.Min.Y+y), img.ARGBAt(x, y))
					}
				}
			}
		})
	}
}
