package jp2

import (
	"image"
	"image/color"
)

// Image is a decoded picture with one packed 0xAARRGGBB value per pixel,
// row-major. Without alpha every pixel's alpha byte is 0xFF. When
// Premultiplied is set the colour bytes are already scaled by alpha/255.
type Image struct {
	Width         int
	Height        int
	HasAlpha      bool
	Premultiplied bool
	Pix           []uint32
}

var _ image.Image = (*Image)(nil)

// NewImage allocates an opaque black image
func NewImage(w, h int, hasAlpha bool) *Image {
	pix := make([]uint32, w*h)
	for i := range pix {
		pix[i] = 0xFF000000
	}
	return &Image{Width: w, Height: h, HasAlpha: hasAlpha, Pix: pix}
}

// IsPremultiplied reports whether colour bytes are scaled by alpha
func (m *Image) IsPremultiplied() bool {
	return m.Premultiplied
}

// ARGBAt returns the packed pixel at x, y
func (m *Image) ARGBAt(x, y int) uint32 {
	return m.Pix[y*m.Width+x]
}

// SetARGB stores a packed pixel at x, y
func (m *Image) SetARGB(x, y int, argb uint32) {
	m.Pix[y*m.Width+x] = argb
}

// ColorModel follows the premultiplication state
func (m *Image) ColorModel() color.Model {
	if m.Premultiplied {
		return color.RGBAModel
	}
	return color.NRGBAModel
}

// Bounds is anchored at the origin
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// At returns color.RGBA for premultiplied images and color.NRGBA otherwise
func (m *Image) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(m.Bounds())) {
		return color.NRGBA{}
	}
	a, r, g, b := unpack(m.ARGBAt(x, y))
	if m.Premultiplied {
		return color.RGBA{R: r, G: g, B: b, A: a}
	}
	return color.NRGBA{R: r, G: g, B: b, A: a}
}

// FromImage converts any image into an un-premultiplied Image. HasAlpha is
// set when any pixel is not fully opaque.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	m := &Image{Width: b.Dx(), Height: b.Dy(), Pix: make([]uint32, b.Dx()*b.Dy())}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var c color.NRGBA
			switch s := src.(type) {
			case *image.NRGBA:
				c = s.NRGBAAt(x, y)
			case *image.Gray:
				v := s.GrayAt(x, y).Y
				c = color.NRGBA{R: v, G: v, B: v, A: 0xFF}
			default:
				c = color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			}
			if c.A != 0xFF {
				m.HasAlpha = true
			}
			m.Pix[i] = pack(c.A, c.R, c.G, c.B)
			i++
		}
	}
	return m
}

func pack(a, r, g, b uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func unpack(p uint32) (a, r, g, b uint8) {
	return uint8(p >> 24), uint8(p >> 16), uint8(p >> 8), uint8(p)
}
