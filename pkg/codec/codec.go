// Package codec defines the contract between the decode/encode orchestration
// and the transform/entropy engine that does the actual JPEG 2000 work, and
// the Guard that keeps engine sessions from being shared between calls.
package codec

import (
	"errors"
	"fmt"
	"image"

	"github.com/jpfielding/jp2.go/pkg/jp2/codestream"
)

// Format re-exports the container kind
type Format = codestream.Format

// Container kinds
const (
	FormatJ2K = codestream.FormatJ2K
	FormatJP2 = codestream.FormatJP2
)

// ErrSessionClosed is returned by sessions used after Close
var ErrSessionClosed = errors.New("codec session closed")

// Plane is one image component as a row-major sample grid. A component
// subsampled by DX, DY holds one sample per DX by DY block of pixels.
type Plane struct {
	Width     int
	Height    int
	Precision int // bits per sample
	Signed    bool
	Data      []int32
	// DX and DY are the component's subsampling factors; 0 means 1.
	DX, DY int
	// X0 and Y0 place Data[0] on the component grid of the (reduced)
	// image, so pixel x maps to sample x/DX - X0.
	X0, Y0 int
}

// Step returns the subsampling factors, at least 1
func (p *Plane) Step() (dx, dy int) {
	return max(p.DX, 1), max(p.DY, 1)
}

// Check verifies the sample count matches the plane geometry
func (p *Plane) Check() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("plane size %dx%d", p.Width, p.Height)
	}
	if len(p.Data) != p.Width*p.Height {
		return fmt.Errorf("plane %dx%d holds %d samples", p.Width, p.Height, len(p.Data))
	}
	if p.Precision < 1 || p.Precision > 31 {
		return fmt.Errorf("plane precision %d", p.Precision)
	}
	return nil
}

// RateMode selects how layer targets are interpreted
type RateMode int

const (
	// RateLossless requests a single reversible layer.
	RateLossless RateMode = iota
	// RateRatio targets compression ratios, one per layer.
	RateRatio
	// RateQuality targets PSNR in dB, one per layer; 0 means lossless.
	RateQuality
)

// String names the rate mode
func (m RateMode) String() string {
	switch m {
	case RateLossless:
		return "lossless"
	case RateRatio:
		return "ratio"
	case RateQuality:
		return "quality"
	default:
		return "unknown"
	}
}

// DecodeParams tells the engine how much of the codestream to reconstruct
type DecodeParams struct {
	Format Format
	// Reduce is the number of highest resolution levels to discard.
	Reduce int
	// Layers is the number of quality layers to decode, 0 for all.
	Layers int
	// Components is the number of planes the caller expects back.
	Components int
	// Window restricts output to a rectangle in reduced-resolution
	// coordinates; nil decodes the whole image.
	Window *image.Rectangle
}

// EncodeParams describes the codestream the engine must produce
type EncodeParams struct {
	Format         Format
	NumResolutions int
	Mode           RateMode
	// Layers holds one target per quality layer, lowest fidelity first.
	Layers   []float64
	HasAlpha bool
}

// NumLayers returns the number of quality layers requested
func (p EncodeParams) NumLayers() int {
	if len(p.Layers) == 0 {
		return 1
	}
	return len(p.Layers)
}

// Lossless reports whether the finest layer must be reversible
func (p EncodeParams) Lossless() bool {
	switch p.Mode {
	case RateRatio:
		return len(p.Layers) == 0 || p.Layers[len(p.Layers)-1] <= 1
	case RateQuality:
		return len(p.Layers) == 0 || p.Layers[len(p.Layers)-1] == 0
	default:
		return true
	}
}

// Session is a stateful engine context. A session is never used by two
// calls at once; the Guard enforces that.
type Session interface {
	Decode(data []byte, p DecodeParams) ([]Plane, error)
	Encode(planes []Plane, p EncodeParams) ([]byte, error)
	Close() error
}

// Codec creates engine sessions
type Codec interface {
	// Name returns the engine identifier (e.g., "go-jpeg2000")
	Name() string
	NewSession() (Session, error)
}
