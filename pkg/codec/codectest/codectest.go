// Package codectest provides an in-memory codec for tests. It writes real
// codestream headers (SIZ, COD, SOT) around uncompressed sample data, so the
// header reader sees what a real engine would produce, and it records every
// call it serves.
package codectest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/jp2/codestream"
)

// ErrOverlap is returned when a session is entered by two calls at once
var ErrOverlap = errors.New("codectest: session used concurrently")

// Call is one recorded engine invocation
type Call struct {
	Op      string // "decode" or "encode"
	Session int
	Decode  codec.DecodeParams
	Encode  codec.EncodeParams
}

// Codec is a deterministic engine. Samples are stored as given, subsampled
// planes included, with the first plane setting the image size. On decode a
// lossy (9/7) codestream loses its lowest sample bit, and every quality layer
// left out costs one more bit, so fidelity rises with each layer decoded and
// only lossless codestreams decoded in full round-trip exactly.
type Codec struct {
	// FailDecode and FailEncode, when set, are returned by every session.
	FailDecode error
	FailEncode error
	// Delay holds each call open to widen any window for overlapping use.
	Delay time.Duration

	mu       sync.Mutex
	calls    []Call
	created  int
	closed   int
	overlaps int
}

var _ codec.Codec = (*Codec)(nil)

// New creates a test codec
func New() *Codec {
	return &Codec{}
}

// Name returns the engine identifier
func (c *Codec) Name() string {
	return "codectest"
}

// NewSession creates a session
func (c *Codec) NewSession() (codec.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
	return &session{c: c, id: c.created}, nil
}

// Calls returns a copy of the recorded calls
func (c *Codec) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// LastCall returns the most recent call
func (c *Codec) LastCall() (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return Call{}, false
	}
	return c.calls[len(c.calls)-1], true
}

// Sessions returns how many sessions were created and closed
func (c *Codec) Sessions() (created, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created, c.closed
}

// Overlaps returns how many times a session was entered while busy
func (c *Codec) Overlaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlaps
}

func (c *Codec) record(call Call) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

type session struct {
	c      *Codec
	id     int
	busy   atomic.Bool
	closed atomic.Bool
}

func (s *session) enter() error {
	if s.closed.Load() {
		return codec.ErrSessionClosed
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.c.mu.Lock()
		s.c.overlaps++
		s.c.mu.Unlock()
		return ErrOverlap
	}
	if s.c.Delay > 0 {
		time.Sleep(s.c.Delay)
	}
	return nil
}

func (s *session) leave() {
	s.busy.Store(false)
}

func (s *session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.c.mu.Lock()
	s.c.closed++
	s.c.mu.Unlock()
	return nil
}

func (s *session) Encode(planes []codec.Plane, p codec.EncodeParams) ([]byte, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()
	s.c.record(Call{Op: "encode", Session: s.id, Encode: p})
	if s.c.FailEncode != nil {
		return nil, s.c.FailEncode
	}
	if len(planes) == 0 {
		return nil, errors.New("codectest: no planes")
	}
	// the first plane sets the image size
	w, h := planes[0].Width, planes[0].Height
	if dx, dy := planes[0].Step(); dx != 1 || dy != 1 {
		return nil, errors.New("codectest: first plane must not be subsampled")
	}
	comps := make([]codestream.ComponentInfo, len(planes))
	for i := range planes {
		if err := planes[i].Check(); err != nil {
			return nil, fmt.Errorf("codectest: plane %d: %w", i, err)
		}
		dx, dy := planes[i].Step()
		if cw, ch := ceilDiv(w, dx), ceilDiv(h, dy); planes[i].Width != cw || planes[i].Height != ch {
			return nil, fmt.Errorf("codectest: plane %d is %dx%d, want %dx%d", i, planes[i].Width, planes[i].Height, cw, ch)
		}
		if planes[i].Precision > 16 {
			return nil, fmt.Errorf("codectest: plane %d precision %d", i, planes[i].Precision)
		}
		comps[i] = codestream.ComponentInfo{Precision: planes[i].Precision, Signed: planes[i].Signed, XRsiz: dx, YRsiz: dy}
	}
	if p.NumResolutions < 1 {
		return nil, fmt.Errorf("codectest: %d resolutions", p.NumResolutions)
	}

	tile := make([]byte, 0, 2*w*h)
	for _, pl := range planes {
		for _, v := range pl.Data {
			tile = binary.BigEndian.AppendUint16(tile, uint16(v))
		}
	}

	var buf bytes.Buffer
	cw := codestream.NewWriter(&buf)
	cw.WriteSOC()
	cw.WriteSIZ(codestream.BuildSIZ(w, h, comps))
	cw.WriteCOD(codestream.BuildCOD(p.NumResolutions, p.NumLayers(), p.Lossless(), len(planes) >= 3))
	cw.WriteSegment(codestream.MarkerCOM, append([]byte{0, 1}, "codectest "+p.Mode.String()...))
	cw.WriteSOT(&codestream.SOTMarker{TilePartLen: uint32(14 + len(tile)), NumTileParts: 1})
	cw.WriteSOD()
	cw.WriteBytes(tile)
	cw.WriteEOC()
	if err := cw.Flush(); err != nil {
		return nil, err
	}
	if p.Format == codec.FormatJP2 {
		return codestream.WrapJP2(buf.Bytes(), p.HasAlpha)
	}
	return buf.Bytes(), nil
}

func (s *session) Decode(data []byte, p codec.DecodeParams) ([]codec.Plane, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()
	s.c.record(Call{Op: "decode", Session: s.id, Decode: p})
	if s.c.FailDecode != nil {
		return nil, s.c.FailDecode
	}

	cs, info, err := codestream.ExtractCodestream(data)
	if err != nil {
		return nil, err
	}
	pos := int(info.HeaderLength)
	if pos+14 > len(cs) || binary.BigEndian.Uint16(cs[pos:]) != codestream.MarkerSOT {
		return nil, errors.New("codectest: no tile-part")
	}
	tile := cs[pos+14:]

	w, h, nc := info.Width(), info.Height(), info.NumComponents()
	need := 0
	for _, ci := range info.SIZ.Components {
		need += 2 * ceilDiv(w, int(ci.XRsiz)) * ceilDiv(h, int(ci.YRsiz))
	}
	if len(tile) < need {
		return nil, fmt.Errorf("codectest: tile holds %d bytes, need %d", len(tile), need)
	}

	reduce := p.Reduce
	if reduce < 0 || reduce >= info.NumResolutions() {
		return nil, fmt.Errorf("codectest: cannot reduce %d of %d resolutions", reduce, info.NumResolutions())
	}
	rw, rh := w, h
	for i := 0; i < reduce; i++ {
		rw, rh = (rw+1)>>1, (rh+1)>>1
	}
	win := image.Rect(0, 0, rw, rh)
	if p.Window != nil {
		win = p.Window.Intersect(win)
		if win.Empty() {
			return nil, fmt.Errorf("codectest: window %v outside %dx%d", *p.Window, rw, rh)
		}
	}

	lost := 0
	if total := info.NumQualityLayers(); p.Layers > 0 && p.Layers < total {
		lost = total - p.Layers
	}
	if info.COD.Transform == codestream.TransformIrreversible97 {
		lost++
	}
	mask := ^int32(1<<lost - 1)

	planes := make([]codec.Plane, nc)
	base := 0
	for c := 0; c < nc; c++ {
		ci := info.SIZ.Components[c]
		dx, dy := int(ci.XRsiz), int(ci.YRsiz)
		cw, ch := ceilDiv(w, dx), ceilDiv(h, dy)
		// the window on this component's reduced grid
		crw, crh := ceilDiv(cw, 1<<reduce), ceilDiv(ch, 1<<reduce)
		cwin := image.Rect(win.Min.X/dx, win.Min.Y/dy, ceilDiv(win.Max.X, dx), ceilDiv(win.Max.Y, dy)).
			Intersect(image.Rect(0, 0, crw, crh))
		pl := codec.Plane{
			Width:     cwin.Dx(),
			Height:    cwin.Dy(),
			Precision: ci.Precision,
			Signed:    ci.Signed,
			DX:        dx,
			DY:        dy,
			X0:        cwin.Min.X,
			Y0:        cwin.Min.Y,
			Data:      make([]int32, 0, cwin.Dx()*cwin.Dy()),
		}
		for y := cwin.Min.Y; y < cwin.Max.Y; y++ {
			for x := cwin.Min.X; x < cwin.Max.X; x++ {
				off := 2 * (base + (y<<reduce)*cw + (x << reduce))
				raw := binary.BigEndian.Uint16(tile[off:])
				v := int32(raw)
				if ci.Signed {
					v = int32(int16(raw))
				}
				pl.Data = append(pl.Data, v&mask)
			}
		}
		planes[c] = pl
		base += cw * ch
	}
	return planes, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
