package jp2

import (
	"testing"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/codec/codectest"
	"github.com/stretchr/testify/require"
)

// fakeGuard returns an in-memory codec behind a fresh-per-call guard
func fakeGuard(t *testing.T) (*codectest.Codec, Option) {
	t.Helper()
	fake := codectest.New()
	g := codec.NewGuard(fake, 0)
	t.Cleanup(func() { g.Close() })
	return fake, WithGuard(g)
}

// testImage builds a w x h image whose pixels differ by position and seed.
// With alpha, the alpha channel sweeps 0..255 across the image.
func testImage(w, h int, alpha bool, seed int) *Image {
	img := NewImage(w, h, alpha)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r := uint8(x*7 + seed)
			g := uint8(y*11 + 3*seed)
			b := uint8(x*y + 5*seed)
			a := uint8(0xFF)
			if alpha {
				a = uint8((x + y*w) * 255 / max(w*h-1, 1))
			}
			img.SetARGB(x, y, pack(a, r, g, b))
		}
	}
	return img
}

func greyImage(w, h int) *Image {
	img := NewImage(w, h, false)
	for i := range img.Pix {
		v := uint8(i * 13)
		img.Pix[i] = pack(0xFF, v, v, v)
	}
	return img
}

// encodeWith encodes img through opt after applying setup
func encodeWith(t *testing.T, img *Image, opt Option, setup func(*Encoder)) []byte {
	t.Helper()
	enc, err := NewEncoder(img, opt)
	require.NoError(t, err)
	if setup != nil {
		setup(enc)
	}
	out, err := enc.Encode()
	require.NoError(t, err)
	return out
}

// decodeWith decodes data through opt after applying setup
func decodeWith(t *testing.T, data []byte, opt Option, setup func(*Decoder)) *Image {
	t.Helper()
	dec := NewDecoder(FromBytes(data), opt)
	if setup != nil {
		setup(dec)
	}
	img, err := dec.Decode()
	require.NoError(t, err)
	return img
}

// mse is the mean squared error over the colour bytes of two equal-size images
func mse(a, b *Image) float64 {
	var sum float64
	for i := range a.Pix {
		_, ar, ag, ab := unpack(a.Pix[i])
		_, br, bg, bb := unpack(b.Pix[i])
		for _, d := range []int{int(ar) - int(br), int(ag) - int(bg), int(ab) - int(bb)} {
			sum += float64(d * d)
		}
	}
	return sum / float64(3*len(a.Pix))
}
