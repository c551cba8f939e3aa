package jp2

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/util"
)

// DefaultResolutions is the resolution count used when none is set, capped
// by what the image size allows
const DefaultResolutions = 6

// Encoder compresses one Image. Setters validate immediately. The same
// Encoder produces identical bytes from Encode, EncodeTo and EncodeFile.
type Encoder struct {
	img    *Image
	format Format
	numRes int
	rate   rateControl
	opts   options
}

// NewEncoder prepares a lossless JP2 encode of img. The Encoder keeps its
// own copy of the pixels, so later changes to img do not reach the output.
func NewEncoder(img *Image, opts ...Option) (*Encoder, error) {
	switch {
	case img == nil:
		return nil, invalid("image", nil, "must not be nil")
	case img.Width <= 0 || img.Height <= 0:
		return nil, invalid("image", fmt.Sprintf("%dx%d", img.Width, img.Height), "must not be empty")
	case len(img.Pix) != img.Width*img.Height:
		return nil, invalid("image", len(img.Pix), "pixel count does not match dimensions")
	}
	return &Encoder{
		img: &Image{
			Width:         img.Width,
			Height:        img.Height,
			HasAlpha:      img.HasAlpha,
			Premultiplied: img.Premultiplied,
			Pix:           slices.Clone(img.Pix),
		},
		format: FormatJP2,
		numRes: min(DefaultResolutions, MaxResolutions(img.Width, img.Height)),
		opts:   newOptions(opts),
	}, nil
}

// SetOutputFormat chooses a JP2 file or a raw J2K codestream
func (e *Encoder) SetOutputFormat(f Format) error {
	if !f.Valid() {
		return invalid("format", int(f), "want jp2 or j2k")
	}
	e.format = f
	return nil
}

// SetNumResolutions sets the resolution level count, 1 up to
// MaxResolutions(width, height)
func (e *Encoder) SetNumResolutions(n int) error {
	if hi := MaxResolutions(e.img.Width, e.img.Height); n < 1 || n > hi {
		return invalid("numResolutions", n, fmt.Sprintf("must be in [1, %d] for %dx%d", hi, e.img.Width, e.img.Height))
	}
	e.numRes = n
	return nil
}

// SetCompressionRatio requests one quality layer per ratio. A single ratio
// of 1 is lossless. Mixing with SetVisualQuality is rejected.
func (e *Encoder) SetCompressionRatio(ratios ...float64) error {
	return e.rate.setRatios(ratios)
}

// SetVisualQuality requests one quality layer per PSNR target in dB. A
// single 0 is lossless. Mixing with SetCompressionRatio is rejected.
func (e *Encoder) SetVisualQuality(psnr ...float64) error {
	return e.rate.setQualities(psnr)
}

// Params returns what will be handed to the codec
func (e *Encoder) Params() codec.EncodeParams {
	return codec.EncodeParams{
		Format:         e.format,
		NumResolutions: e.numRes,
		Mode:           e.rate.mode,
		Layers:         append([]float64(nil), e.rate.layers...),
		HasAlpha:       e.img.HasAlpha,
	}
}

// Encode returns the encoded bytes
func (e *Encoder) Encode() ([]byte, error) {
	params := e.Params()
	log := e.opts.logger.With(slog.String("call", util.NewCallID()))
	planes := e.planes()
	log.Debug("encoding",
		slog.Int("width", e.img.Width), slog.Int("height", e.img.Height),
		slog.Int("components", len(planes)), slog.String("format", params.Format.String()),
		slog.Int("resolutions", params.NumResolutions), slog.String("rate", params.Mode.String()),
		slog.Any("layers", params.Layers))

	out, err := e.opts.guard.Encode(planes, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	log.Debug("encoded", slog.Int("bytes", len(out)))
	return out, nil
}

// EncodeTo writes the encoded bytes to w and returns how many were written
func (e *Encoder) EncodeTo(w io.Writer) (int64, error) {
	out, err := e.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(out)
	if err != nil {
		return int64(n), fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return int64(n), nil
}

// EncodeFile writes the encoded bytes to path, replacing it atomically
func (e *Encoder) EncodeFile(path string) error {
	out, err := e.Encode()
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(path, out, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// planes splits the image into 1 (grey), 2 (grey+alpha), 3 (RGB) or 4
// (RGBA) 8-bit planes. Premultiplied pixels are straightened before the
// grey test, so it sees the colour that is written.
func (e *Encoder) planes() []codec.Plane {
	m := e.img
	n := len(m.Pix)
	pix := m.Pix
	if m.Premultiplied {
		pix = make([]uint32, n)
		for i, p := range m.Pix {
			pix[i] = straight(p)
		}
	}
	grey := true
	for _, p := range pix {
		_, r, g, b := unpack(p)
		if r != g || g != b {
			grey = false
			break
		}
	}
	nc := 3
	if grey {
		nc = 1
	}
	if m.HasAlpha {
		nc++
	}

	planes := make([]codec.Plane, nc)
	for c := range planes {
		planes[c] = codec.Plane{Width: m.Width, Height: m.Height, Precision: 8, Data: make([]int32, n)}
	}
	for i, p := range pix {
		a, r, g, b := unpack(p)
		if grey {
			planes[0].Data[i] = int32(r)
		} else {
			planes[0].Data[i] = int32(r)
			planes[1].Data[i] = int32(g)
			planes[2].Data[i] = int32(b)
		}
		if m.HasAlpha {
			planes[nc-1].Data[i] = int32(a)
		}
	}
	return planes
}
