// Package gojp2 adapts github.com/mrjoshuak/go-jpeg2000 to the codec
// contract. The library works on image.Image values, so planes are packed
// into the standard library image types here.
//
// The library's encoder is complete, but v1.0.0 decodes tile data to a
// placeholder image, so sessions refuse to decode rather than return wrong
// pixels. Build with -tags openjpeg for a full engine.
package gojp2

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	jpeg2000 "github.com/mrjoshuak/go-jpeg2000"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/jp2/codestream"
)

// ErrDecodeUnsupported is returned by Decode: go-jpeg2000 v1.0.0 does not
// reconstruct tile data
var ErrDecodeUnsupported = errors.New("go-jpeg2000 cannot decode tile data; build with -tags openjpeg")

// Codec is the pure-Go JPEG 2000 encoder
type Codec struct{}

var _ codec.Codec = (*Codec)(nil)

// New creates the engine
func New() *Codec {
	return &Codec{}
}

// Name returns the engine identifier
func (c *Codec) Name() string {
	return "go-jpeg2000"
}

// NewSession creates a session with its own output buffer
func (c *Codec) NewSession() (codec.Session, error) {
	return &session{}, nil
}

type session struct {
	buf    bytes.Buffer
	closed bool
}

func (s *session) Close() error {
	s.closed = true
	s.buf = bytes.Buffer{}
	return nil
}

func (s *session) Decode(data []byte, p codec.DecodeParams) ([]codec.Plane, error) {
	if s.closed {
		return nil, codec.ErrSessionClosed
	}
	return nil, ErrDecodeUnsupported
}

func (s *session) Encode(planes []codec.Plane, p codec.EncodeParams) ([]byte, error) {
	if s.closed {
		return nil, codec.ErrSessionClosed
	}
	img, err := joinPlanes(planes)
	if err != nil {
		return nil, err
	}
	opts := &jpeg2000.Options{
		Format:           jpeg2000.FormatJ2K,
		NumResolutions:   p.NumResolutions,
		NumLayers:        p.NumLayers(),
		ProgressionOrder: jpeg2000.LRCP,
		CodeBlockSize:    image.Point{X: 6, Y: 6},
		Lossless:         p.Lossless(),
	}
	if !opts.Lossless {
		// the library quantizes to a single quality, set from the finest layer
		finest := p.Layers[len(p.Layers)-1]
		switch p.Mode {
		case codec.RateRatio:
			opts.Quality = QualityFromRatio(finest)
		case codec.RateQuality:
			opts.Quality = QualityFromPSNR(finest)
		}
	}

	s.buf.Reset()
	if err := jpeg2000.Encode(&s.buf, img, opts); err != nil {
		return nil, err
	}
	out := bytes.Clone(s.buf.Bytes())
	if p.Format == codec.FormatJP2 {
		return codestream.WrapJP2(out, p.HasAlpha)
	}
	return out, nil
}

// QualityFromPSNR maps a PSNR target in dB onto the library's 1-100 scale:
// 20 dB and below is 1, 60 dB and above is 100.
func QualityFromPSNR(db float64) int {
	q := int(math.Round((db - 20) * 99 / 40))
	return min(max(q+1, 1), 100)
}

// QualityFromRatio maps a compression ratio onto the library's 1-100
// scale, inversely: 2:1 and below is 100, 200:1 and above is 1. The
// library scales wavelet coefficients by the quality, so output shrinks
// as the ratio grows, though it does not hit the ratio's byte budget.
func QualityFromRatio(ratio float64) int {
	if ratio <= 0 {
		return 100
	}
	q := int(math.Round(200 / ratio))
	return min(max(q, 1), 100)
}

// joinPlanes packs planes into the image type the library encodes with the
// same component count; grey+alpha has no such type and becomes RGBA.
func joinPlanes(planes []codec.Plane) (image.Image, error) {
	if len(planes) < 1 || len(planes) > 4 {
		return nil, fmt.Errorf("unsupported component count %d", len(planes))
	}
	w, h, precision := planes[0].Width, planes[0].Height, planes[0].Precision
	for i := range planes {
		if err := planes[i].Check(); err != nil {
			return nil, fmt.Errorf("plane %d: %w", i, err)
		}
		if planes[i].Width != w || planes[i].Height != h || planes[i].Precision != precision {
			return nil, fmt.Errorf("plane %d geometry differs from plane 0", i)
		}
		if planes[i].Signed {
			return nil, fmt.Errorf("plane %d: signed samples are not supported", i)
		}
		if dx, dy := planes[i].Step(); dx != 1 || dy != 1 {
			return nil, fmt.Errorf("plane %d: subsampled components are not supported", i)
		}
	}
	if precision != 8 && precision != 16 {
		return nil, fmt.Errorf("unsupported precision %d", precision)
	}

	rect := image.Rect(0, 0, w, h)
	n := w * h
	chans := make([][]int32, 4)
	switch len(planes) {
	case 1:
		if precision == 8 {
			g := image.NewGray(rect)
			for i, v := range planes[0].Data {
				g.Pix[i] = uint8(v)
			}
			return g, nil
		}
		g := image.NewGray16(rect)
		for i, v := range planes[0].Data {
			g.Pix[2*i], g.Pix[2*i+1] = uint8(v>>8), uint8(v)
		}
		return g, nil
	case 2:
		chans[0], chans[1], chans[2], chans[3] = planes[0].Data, planes[0].Data, planes[0].Data, planes[1].Data
	case 3:
		chans[0], chans[1], chans[2] = planes[0].Data, planes[1].Data, planes[2].Data
	case 4:
		chans[0], chans[1], chans[2], chans[3] = planes[0].Data, planes[1].Data, planes[2].Data, planes[3].Data
	}

	if precision == 8 {
		if chans[3] == nil {
			m := image.NewRGBA(rect)
			for i := 0; i < n; i++ {
				copy(m.Pix[4*i:], []uint8{uint8(chans[0][i]), uint8(chans[1][i]), uint8(chans[2][i]), 0xFF})
			}
			return m, nil
		}
		m := image.NewNRGBA(rect)
		for i := 0; i < n; i++ {
			copy(m.Pix[4*i:], []uint8{uint8(chans[0][i]), uint8(chans[1][i]), uint8(chans[2][i]), uint8(chans[3][i])})
		}
		return m, nil
	}

	if chans[3] == nil {
		m := image.NewRGBA64(rect)
		for i := 0; i < n; i++ {
			putBE16(m.Pix[8*i:], chans[0][i], chans[1][i], chans[2][i], 0xFFFF)
		}
		return m, nil
	}
	m := image.NewNRGBA64(rect)
	for i := 0; i < n; i++ {
		putBE16(m.Pix[8*i:], chans[0][i], chans[1][i], chans[2][i], chans[3][i])
	}
	return m, nil
}

func putBE16(b []uint8, vals ...int32) {
	for i, v := range vals {
		b[2*i], b[2*i+1] = uint8(v>>8), uint8(v)
	}
}
