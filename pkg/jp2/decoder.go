package jp2

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/util"
)

// Decoder decodes one Source. Setters validate immediately; Decode consumes
// the Decoder.
type Decoder struct {
	src         *Source
	skip        int
	layers      int
	region      *image.Rectangle
	premultiply bool
	used        bool
	opts        options
}

// NewDecoder prepares a full-resolution, all-layer, premultiplied decode
func NewDecoder(src *Source, opts ...Option) *Decoder {
	return &Decoder{src: src, premultiply: true, opts: newOptions(opts)}
}

// SetSkipResolutions discards the n finest resolution levels. Values past
// the coarsest level are clamped at decode time.
func (d *Decoder) SetSkipResolutions(n int) error {
	if d.used {
		return ErrConsumed
	}
	if n < 0 {
		return invalid("skipResolutions", n, "must be >= 0")
	}
	d.skip = n
	return nil
}

// SetLayersToDecode limits decoding to the first n quality layers. 0, or
// more than the image has, decodes all of them.
func (d *Decoder) SetLayersToDecode(n int) error {
	if d.used {
		return ErrConsumed
	}
	if n < 0 {
		return invalid("layersToDecode", n, "must be >= 0")
	}
	d.layers = n
	return nil
}

// SetRegion restricts the output to r, given in full-resolution pixels
func (d *Decoder) SetRegion(r image.Rectangle) error {
	if d.used {
		return ErrConsumed
	}
	r = r.Canon()
	if r.Empty() {
		return invalid("region", r, "must not be empty")
	}
	d.region = &r
	return nil
}

// DisablePremultiplication keeps colour channels unscaled by alpha
func (d *Decoder) DisablePremultiplication() {
	d.premultiply = false
}

// ReadHeader reads the source header without consuming the Decoder
func (d *Decoder) ReadHeader() (Header, error) {
	if d.used {
		return Header{}, ErrConsumed
	}
	return readHeader(d.src, d.opts.maxSize)
}

// Decode reconstructs the image. Any failure returns no image at all.
func (d *Decoder) Decode() (*Image, error) {
	if d.used {
		return nil, ErrConsumed
	}
	d.used = true
	log := d.opts.logger.With(slog.String("call", util.NewCallID()), slog.String("source", d.src.String()))

	data, info, err := d.src.load(d.opts.maxSize)
	if err != nil {
		log.Debug("decode rejected", slog.Any("error", err))
		return nil, err
	}
	hdr := headerFromInfo(info)

	skip := min(d.skip, hdr.NumResolutions-1)
	outW, outH := ReducedSize(hdr.Width, hdr.Height, skip)
	layers := hdr.NumQualityLayers
	if d.layers > 0 && d.layers < layers {
		layers = d.layers
	}

	out := image.Rect(0, 0, outW, outH)
	params := codec.DecodeParams{
		Format:     info.Format,
		Reduce:     skip,
		Layers:     layers,
		Components: hdr.NumComponents,
	}
	if d.region != nil {
		clip := d.region.Intersect(image.Rect(0, 0, hdr.Width, hdr.Height))
		if clip.Empty() {
			return nil, fmt.Errorf("%w: %v outside %dx%d", ErrInvalidRegion, *d.region, hdr.Width, hdr.Height)
		}
		win := reduceRegion(clip, skip, hdr.Width, hdr.Height)
		params.Window = &win
		out = win
	}
	log.Debug("decoding",
		slog.Int("width", hdr.Width), slog.Int("height", hdr.Height),
		slog.Int("reduce", skip), slog.Int("layers", layers),
		slog.Any("window", params.Window))

	planes, err := d.opts.guard.Decode(data, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	img, err := packPlanes(planes, out, hdr.HasAlpha)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	switch {
	case !img.HasAlpha:
	case hdr.PremultipliedAlpha:
		img.Premultiplied = true
		if !d.premultiply {
			img.Unpremultiply()
		}
	case d.premultiply:
		img.Premultiply()
	}
	log.Debug("decoded", slog.Int("width", img.Width), slog.Int("height", img.Height),
		slog.Bool("premultiplied", img.Premultiplied))
	return img, nil
}

// packPlanes interleaves 1 (grey), 2 (grey+alpha), 3 (RGB) or 4 (RGBA)
// component planes into packed pixels covering win, given in reduced
// resolution coordinates. Subsampled planes are upsampled by replication.
func packPlanes(planes []codec.Plane, win image.Rectangle, hasAlpha bool) (*Image, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("codec returned no planes")
	}
	w, h := win.Dx(), win.Dy()
	grids := make([]sampleGrid, len(planes))
	for i := range planes {
		if err := planes[i].Check(); err != nil {
			return nil, fmt.Errorf("plane %d: %w", i, err)
		}
		g, err := newSampleGrid(&planes[i], win)
		if err != nil {
			return nil, fmt.Errorf("plane %d: %w", i, err)
		}
		grids[i] = g
	}

	r, g, b, a := 0, 0, 0, -1
	switch n := len(planes); {
	case n <= 2:
		if n == 2 && hasAlpha {
			a = 1
		}
	default:
		r, g, b = 0, 1, 2
		if n >= 4 && hasAlpha {
			a = 3
		}
	}

	img := &Image{Width: w, Height: h, HasAlpha: a >= 0, Pix: make([]uint32, w*h)}
	at := func(c, x, y int) uint8 {
		return to8(&planes[c], grids[c].index(x, y, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			alpha := uint8(0xFF)
			if a >= 0 {
				alpha = at(a, x, y)
			}
			img.Pix[y*w+x] = pack(alpha, at(r, x, y), at(g, x, y), at(b, x, y))
		}
	}
	return img, nil
}

// sampleGrid maps output columns and rows to plane samples. Nil tables mean
// the plane matches the output one to one.
type sampleGrid struct {
	stride     int
	cols, rows []int
}

func newSampleGrid(p *codec.Plane, win image.Rectangle) (sampleGrid, error) {
	dx, dy := p.Step()
	if dx == 1 && dy == 1 && p.Width == win.Dx() && p.Height == win.Dy() {
		return sampleGrid{}, nil
	}
	cols, err := sampleAxis(win.Min.X, win.Max.X, dx, p.X0, p.Width)
	if err != nil {
		return sampleGrid{}, fmt.Errorf("columns: %w", err)
	}
	rows, err := sampleAxis(win.Min.Y, win.Max.Y, dy, p.Y0, p.Height)
	if err != nil {
		return sampleGrid{}, fmt.Errorf("rows: %w", err)
	}
	return sampleGrid{stride: p.Width, cols: cols, rows: rows}, nil
}

// sampleAxis returns the sample index for every pixel in [lo, hi). On a
// subsampled axis edge rounding may land one sample outside the plane; that
// is clamped.
func sampleAxis(lo, hi, step, origin, n int) ([]int, error) {
	slack := 0
	if step > 1 {
		slack = 1
	}
	out := make([]int, 0, hi-lo)
	for v := lo; v < hi; v++ {
		i := v/step - origin
		if i < -slack || i >= n+slack {
			return nil, fmt.Errorf("pixel %d maps to sample %d of %d", v, i, n)
		}
		out = append(out, min(max(i, 0), n-1))
	}
	return out, nil
}

func (g sampleGrid) index(x, y, w int) int {
	if g.cols == nil {
		return y*w + x
	}
	return g.rows[y]*g.stride + g.cols[x]
}

// to8 maps sample i of p onto 0..255
func to8(p *codec.Plane, i int) uint8 {
	v := int64(p.Data[i])
	if p.Signed {
		v += 1 << (p.Precision - 1)
	}
	switch {
	case p.Precision > 8:
		v >>= p.Precision - 8
	case p.Precision < 8:
		v = v * 255 / (1<<p.Precision - 1)
	}
	return uint8(min(max(v, 0), 255))
}
