package jp2

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEncoder_Validation(t *testing.T) {
	_, err := NewEncoder(nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewEncoder(&Image{})
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewEncoder(&Image{Width: 2, Height: 2, Pix: make([]uint32, 3)})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	enc, err := NewEncoder(testImage(64, 64, false, 0))
	require.NoError(t, err)
	p := enc.Params()
	assert.Equal(t, FormatJP2, p.Format)
	assert.Equal(t, DefaultResolutions, p.NumResolutions)
	assert.Equal(t, codec.RateLossless, p.Mode)
	assert.True(t, p.Lossless())

	small, err := NewEncoder(testImage(5, 4, false, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, small.Params().NumResolutions, "default is capped by image size")
}

func TestEncoder_SetOutputFormat(t *testing.T) {
	enc, err := NewEncoder(testImage(4, 4, false, 0))
	require.NoError(t, err)
	assert.NoError(t, enc.SetOutputFormat(FormatJ2K))
	assert.Equal(t, FormatJ2K, enc.Params().Format)
	assert.ErrorIs(t, enc.SetOutputFormat(Format(7)), ErrInvalidParameter)
	assert.Equal(t, FormatJ2K, enc.Params().Format, "rejected value leaves the setting alone")
}

func TestMaxResolutions(t *testing.T) {
	tests := []struct {
		w, h int
		want int
	}{
		{1, 1, 1},
		{2, 2, 2},
		{5, 4, 3},
		{64, 63, 6},
		{64, 64, 7},
		{1024, 1024, 11},
		{0, 10, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaxResolutions(tt.w, tt.h), "%dx%d", tt.w, tt.h)
	}
}

func TestEncoder_SetNumResolutions(t *testing.T) {
	enc, err := NewEncoder(testImage(64, 64, false, 0))
	require.NoError(t, err)
	for n := 1; n <= 7; n++ {
		assert.NoError(t, enc.SetNumResolutions(n), n)
	}
	for _, n := range []int{0, -1, 8, 20} {
		var pe *ParamError
		err := enc.SetNumResolutions(n)
		require.True(t, errors.As(err, &pe), n)
		assert.Equal(t, "numResolutions", pe.Param)
	}
	assert.Equal(t, 7, enc.Params().NumResolutions)
}

func TestEncoder_RateControl(t *testing.T) {
	tests := []struct {
		name     string
		ratios   []float64
		quality  []float64
		want     []float64
		mode     codec.RateMode
		lossless bool
	}{
		{"ratios sorted descending", []float64{10, 40, 20}, nil, []float64{40, 20, 10}, codec.RateRatio, false},
		{"single ratio one", []float64{1}, nil, []float64{1}, codec.RateRatio, true},
		{"ratio ending lossless", []float64{1, 30}, nil, []float64{30, 1}, codec.RateRatio, true},
		{"quality sorted ascending", nil, []float64{30, 50, 20}, []float64{20, 30, 50}, codec.RateQuality, false},
		{"quality zero last", nil, []float64{0, 45, 30}, []float64{30, 45, 0}, codec.RateQuality, true},
		{"single quality zero", nil, []float64{0}, []float64{0}, codec.RateQuality, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncoder(testImage(8, 8, false, 0))
			require.NoError(t, err)
			if tt.ratios != nil {
				require.NoError(t, enc.SetCompressionRatio(tt.ratios...))
			} else {
				require.NoError(t, enc.SetVisualQuality(tt.quality...))
			}
			p := enc.Params()
			assert.Equal(t, tt.want, p.Layers)
			assert.Equal(t, tt.mode, p.Mode)
			assert.Equal(t, tt.lossless, p.Lossless())
			assert.Equal(t, len(tt.want), p.NumLayers())
		})
	}
}

func TestEncoder_RateControlValidation(t *testing.T) {
	newEnc := func() *Encoder {
		enc, err := NewEncoder(testImage(8, 8, false, 0))
		require.NoError(t, err)
		return enc
	}

	enc := newEnc()
	assert.ErrorIs(t, enc.SetCompressionRatio(), ErrInvalidParameter)
	assert.ErrorIs(t, enc.SetCompressionRatio(0), ErrInvalidParameter)
	assert.ErrorIs(t, enc.SetCompressionRatio(10, -2), ErrInvalidParameter)
	assert.ErrorIs(t, enc.SetCompressionRatio(math.NaN()), ErrInvalidParameter)
	assert.ErrorIs(t, enc.SetCompressionRatio(math.Inf(1)), ErrInvalidParameter)
	assert.ErrorIs(t, enc.SetVisualQuality(), ErrInvalidParameter)
	assert.ErrorIs(t, enc.SetVisualQuality(-1), ErrInvalidParameter)
	assert.Equal(t, codec.RateLossless, enc.Params().Mode, "rejected values change nothing")

	enc = newEnc()
	require.NoError(t, enc.SetCompressionRatio(20))
	require.NoError(t, enc.SetCompressionRatio(30, 10), "same family may be replaced")
	assert.ErrorIs(t, enc.SetVisualQuality(40), ErrInvalidParameter)
	assert.Equal(t, []float64{30, 10}, enc.Params().Layers)

	enc = newEnc()
	require.NoError(t, enc.SetVisualQuality(40))
	assert.ErrorIs(t, enc.SetCompressionRatio(20), ErrInvalidParameter)
}

func TestEncode_LosslessRoundTrip(t *testing.T) {
	_, opt := fakeGuard(t)
	for _, alpha := range []bool{false, true} {
		src := testImage(33, 17, alpha, 11)
		data := encodeWith(t, src, opt, func(e *Encoder) {
			require.NoError(t, e.SetCompressionRatio(1))
		})
		hdr, err := ReadHeader(FromBytes(data))
		require.NoError(t, err)
		assert.Equal(t, 1, hdr.NumQualityLayers)
		assert.Equal(t, alpha, hdr.HasAlpha)

		img := decodeWith(t, data, opt, func(d *Decoder) { d.DisablePremultiplication() })
		assert.Equal(t, src.Pix, img.Pix, "alpha=%v", alpha)
	}
}

func TestEncode_HeaderReflectsParams(t *testing.T) {
	_, opt := fakeGuard(t)
	data := encodeWith(t, testImage(64, 64, false, 12), opt, func(e *Encoder) {
		require.NoError(t, e.SetOutputFormat(FormatJ2K))
		require.NoError(t, e.SetNumResolutions(7))
		require.NoError(t, e.SetVisualQuality(20, 30, 40))
	})
	hdr, err := ReadHeader(FromBytes(data))
	require.NoError(t, err)
	assert.Equal(t, FormatJ2K, hdr.Format)
	assert.Equal(t, 7, hdr.NumResolutions)
	assert.Equal(t, 3, hdr.NumQualityLayers)
}

func TestEncode_PremultipliedSource(t *testing.T) {
	_, opt := fakeGuard(t)
	src := testImage(16, 8, true, 13)
	pre := &Image{Width: src.Width, Height: src.Height, HasAlpha: true, Pix: append([]uint32(nil), src.Pix...)}
	pre.Premultiply()

	fromStraight := encodeWith(t, src, opt, nil)
	fromPre := encodeWith(t, pre, opt, nil)

	a := decodeWith(t, fromStraight, opt, nil)
	b := decodeWith(t, fromPre, opt, nil)
	assert.True(t, b.IsPremultiplied())
	// straightening 8-bit premultiplied colour is lossy, re-premultiplying is not
	assert.Equal(t, a.Pix, b.Pix)
}

func TestEncode_OutputsIdentical(t *testing.T) {
	_, opt := fakeGuard(t)
	enc, err := NewEncoder(testImage(20, 20, true, 14), opt)
	require.NoError(t, err)
	require.NoError(t, enc.SetCompressionRatio(10, 5))

	buf, err := enc.Encode()
	require.NoError(t, err)

	var w bytes.Buffer
	n, err := enc.EncodeTo(&w)
	require.NoError(t, err)
	assert.Equal(t, int64(len(buf)), n)
	assert.Equal(t, buf, w.Bytes())

	path := filepath.Join(t.TempDir(), "out.jp2")
	require.NoError(t, enc.EncodeFile(path))
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf, onDisk)

	err = enc.EncodeFile(filepath.Join(t.TempDir(), "no", "such", "dir.jp2"))
	assert.ErrorIs(t, err, ErrWrite)

	_, err = enc.EncodeTo(failingWriter{})
	assert.ErrorIs(t, err, ErrWrite)
}

func TestEncode_CodecFailure(t *testing.T) {
	fake, opt := fakeGuard(t)
	fake.FailEncode = errors.New("no memory")
	enc, err := NewEncoder(testImage(8, 8, false, 0), opt)
	require.NoError(t, err)
	out, err := enc.Encode()
	assert.ErrorIs(t, err, ErrCodec)
	assert.Nil(t, out)
	assert.ErrorIs(t, enc.EncodeFile(filepath.Join(t.TempDir(), "x.jp2")), ErrCodec)
}

func TestEncode_DefaultCodec(t *testing.T) {
	enc, err := NewEncoder(testImage(16, 16, false, 15))
	require.NoError(t, err)
	require.NoError(t, enc.SetOutputFormat(FormatJ2K))
	require.NoError(t, enc.SetNumResolutions(3))
	out, err := enc.Encode()
	require.NoError(t, err)

	hdr, err := ReadHeader(FromBytes(out))
	require.NoError(t, err)
	assert.Equal(t, 16, hdr.Width)
	assert.Equal(t, 16, hdr.Height)
	assert.Equal(t, 3, hdr.NumResolutions)
	assert.Equal(t, 3, hdr.NumComponents)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestNewEncoder_CopiesImage(t *testing.T) {
	_, opt := fakeGuard(t)
	pristine := testImage(12, 10, true, 16)
	want := encodeWith(t, pristine, opt, nil)

	tests := []struct {
		name   string
		mutate func(*Image)
	}{
		{"pixels", func(m *Image) {
			for i := range m.Pix {
				m.Pix[i] = 0xFF123456
			}
		}},
		{"alpha flag", func(m *Image) { m.HasAlpha = false }},
		{"premultiplied flag", func(m *Image) { m.Premultiplied = true }},
		{"pixel slice swapped", func(m *Image) { m.Pix = make([]uint32, len(m.Pix)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testImage(12, 10, true, 16)
			enc, err := NewEncoder(src, opt)
			require.NoError(t, err)
			tt.mutate(src)
			got, err := enc.Encode()
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.True(t, enc.Params().HasAlpha)
		})
	}
}

func TestEncode_GreyDetectionOnStraightColour(t *testing.T) {
	_, opt := fakeGuard(t)
	tests := []struct {
		name  string
		pix   uint32
		comps int
	}{
		// 2 and 3 at alpha 2 both straighten to 255
		{"premultiplied channels differ, straight grey", pack(2, 2, 3, 3), 2},
		{"premultiplied grey", pack(0x80, 0x20, 0x20, 0x20), 2},
		{"premultiplied colour", pack(0x80, 0x40, 0x10, 0x10), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := NewImage(4, 4, true)
			for i := range img.Pix {
				img.Pix[i] = tt.pix
			}
			img.Premultiplied = true
			data := encodeWith(t, img, opt, nil)
			hdr, err := ReadHeader(FromBytes(data))
			require.NoError(t, err)
			assert.Equal(t, tt.comps, hdr.NumComponents)
			assert.True(t, hdr.HasAlpha)
		})
	}
}
