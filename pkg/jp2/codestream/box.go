package codestream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Signatures recognized at the start of a JPEG 2000 byte stream
var (
	SignatureJP2      = []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20, 0x0D, 0x0A, 0x87, 0x0A}
	SignatureJP2Short = []byte{0x0D, 0x0A, 0x87, 0x0A}
	SignatureJ2K      = []byte{0xFF, 0x4F, 0xFF, 0x51}
)

// JP2 box types (ISO/IEC 15444-1 Annex I)
const (
	BoxSignature = 0x6A502020 // 'jP  '
	BoxFileType  = 0x66747970 // 'ftyp'
	BoxHeader    = 0x6A703268 // 'jp2h'
	BoxImageHdr  = 0x69686472 // 'ihdr'
	BoxColour    = 0x636F6C72 // 'colr'
	BoxChanDef   = 0x63646566 // 'cdef'
	BoxCodestrm  = 0x6A703263 // 'jp2c'

	brandJP2 = 0x6A703220 // 'jp2 '
)

// maxHeaderBox bounds the payload of a header box that is read into memory
const maxHeaderBox = 64 << 10

// Enumerated colourspaces written in the colr box
const (
	ColourSpaceSRGB = 16
	ColourSpaceGrey = 17
)

// Channel types from the cdef box
const (
	ChannelColour        = 0
	ChannelOpacity       = 1
	ChannelPremultiplied = 2
)

// ChannelDef is one entry of a cdef box
type ChannelDef struct {
	Index uint16
	Type  uint16
	Assoc uint16
}

// Info is everything learned from a header-only pass over JPEG 2000 data
type Info struct {
	Format      Format
	SIZ         SIZMarker
	COD         CODMarker
	Channels    []ChannelDef // cdef entries, nil when absent
	ColourSpace uint32       // enumerated colourspace from colr, 0 when absent

	// CodestreamOffset is the position of SOC from the start of the input.
	CodestreamOffset int64
	// CodestreamLength is the declared jp2c payload size, -1 when it runs to
	// the end of the input.
	CodestreamLength int64
	// HeaderLength is the size of the main header, SOC included.
	HeaderLength int64
}

// Width returns the image width
func (i *Info) Width() int { return i.SIZ.Width() }

// Height returns the image height
func (i *Info) Height() int { return i.SIZ.Height() }

// NumComponents returns the number of image components
func (i *Info) NumComponents() int { return len(i.SIZ.Components) }

// NumResolutions returns decomposition levels plus one
func (i *Info) NumResolutions() int { return int(i.COD.DecompLevels) + 1 }

// NumQualityLayers returns the number of quality layers
func (i *Info) NumQualityLayers() int { return int(i.COD.NumLayers) }

// HasAlpha reports whether one of the channels is an opacity channel. Without
// a cdef box the convention of 2 (grey+alpha) or 4 (RGBA) components applies.
func (i *Info) HasAlpha() bool {
	if i.Channels != nil {
		for _, ch := range i.Channels {
			if ch.Type == ChannelOpacity || ch.Type == ChannelPremultiplied {
				return true
			}
		}
		return false
	}
	n := i.NumComponents()
	return n == 2 || n == 4
}

// PremultipliedAlpha reports whether the cdef box declares the opacity
// channel as premultiplied, meaning colour samples are already scaled by it
func (i *Info) PremultipliedAlpha() bool {
	for _, ch := range i.Channels {
		if ch.Type == ChannelPremultiplied {
			return true
		}
	}
	return false
}

// Detect identifies the container kind from the leading bytes
func Detect(b []byte) (Format, bool) {
	switch {
	case bytes.HasPrefix(b, SignatureJP2), bytes.HasPrefix(b, SignatureJP2Short):
		return FormatJP2, true
	case bytes.HasPrefix(b, SignatureJ2K):
		return FormatJ2K, true
	default:
		return FormatJ2K, false
	}
}

// Parse reads the JP2 boxes (if any) and the main codestream header from r.
// Reading stops at the first tile-part, so r is never read to the end.
func Parse(r io.Reader) (*Info, error) {
	br := NewByteReader(r)
	lead, err := br.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	info := &Info{CodestreamLength: -1}
	switch {
	case bytes.Equal(lead, SignatureJ2K):
		info.Format = FormatJ2K
		return info, readMain(info, io.MultiReader(bytes.NewReader(lead), br.r), 0)
	case bytes.Equal(lead, SignatureJP2[:4]):
		rest, err := br.ReadBytes(len(SignatureJP2) - 4)
		if err != nil || !bytes.Equal(rest, SignatureJP2[4:]) {
			return nil, ErrSignature
		}
	case bytes.Equal(lead, SignatureJP2Short):
		// bare signature box payload, boxes follow directly
	default:
		return nil, ErrSignature
	}

	info.Format = FormatJP2
	if err := walkBoxes(info, br, -1, false); err != nil {
		return nil, err
	}
	cs := io.Reader(br.r)
	if info.CodestreamLength >= 0 {
		cs = io.LimitReader(cs, info.CodestreamLength)
	}
	return info, readMain(info, cs, info.CodestreamOffset)
}

func readMain(info *Info, r io.Reader, offset int64) error {
	cr := NewReader(r)
	if err := cr.ReadMainHeader(); err != nil {
		return err
	}
	info.SIZ = cr.SIZ
	info.COD = cr.COD
	info.CodestreamOffset = offset
	info.HeaderLength = cr.HeaderLength()
	return nil
}

type boxHeader struct {
	typ     uint32
	payload int64 // -1 when the box runs to end of input
	size    int64 // header bytes
}

func readBoxHeader(br *ByteReader) (boxHeader, error) {
	lbox, err := br.ReadUint32()
	if err != nil {
		return boxHeader{}, err
	}
	typ, err := br.ReadUint32()
	if err != nil {
		return boxHeader{}, err
	}
	h := boxHeader{typ: typ, size: 8}
	switch {
	case lbox == 0:
		h.payload = -1
	case lbox == 1:
		xl, err := br.ReadUint64()
		if err != nil {
			return boxHeader{}, err
		}
		h.size = 16
		if xl < 16 || xl > 1<<62 {
			return boxHeader{}, fmt.Errorf("%w: extended length %d", ErrInvalidBox, xl)
		}
		h.payload = int64(xl) - 16
	case lbox < 8:
		return boxHeader{}, fmt.Errorf("%w: length %d", ErrInvalidBox, lbox)
	default:
		h.payload = int64(lbox) - 8
	}
	return h, nil
}

// walkBoxes iterates boxes until jp2c is found. limit bounds the walk inside
// a superbox; -1 means the top level.
func walkBoxes(info *Info, br *ByteReader, limit int64, nested bool) error {
	start := br.Offset()
	for limit < 0 || br.Offset()-start < limit {
		h, err := readBoxHeader(br)
		if err != nil {
			if !nested && err == io.ErrUnexpectedEOF {
				return ErrNoCodestream
			}
			return err
		}
		if nested {
			left := limit - (br.Offset() - start)
			if h.payload < 0 || h.payload > left {
				return fmt.Errorf("%w: box %08x overruns its superbox", ErrInvalidBox, h.typ)
			}
		}
		switch h.typ {
		case BoxCodestrm:
			if nested {
				return fmt.Errorf("%w: jp2c inside superbox", ErrInvalidBox)
			}
			info.CodestreamOffset = br.Offset()
			info.CodestreamLength = h.payload
			return nil
		case BoxHeader:
			if h.payload < 0 {
				return fmt.Errorf("%w: unbounded jp2h", ErrInvalidBox)
			}
			if err := walkBoxes(info, br, h.payload, true); err != nil {
				return err
			}
		case BoxChanDef:
			if err := readChannelDefs(info, br, h.payload); err != nil {
				return err
			}
		case BoxColour:
			if err := readColour(info, br, h.payload); err != nil {
				return err
			}
		default:
			if h.payload < 0 {
				return ErrNoCodestream
			}
			if err := br.Skip(h.payload); err != nil {
				return err
			}
		}
	}
	return nil
}

func readChannelDefs(info *Info, br *ByteReader, payload int64) error {
	if payload < 2 || payload > maxHeaderBox {
		return fmt.Errorf("%w: cdef length %d", ErrInvalidBox, payload)
	}
	n, err := br.ReadUint16()
	if err != nil {
		return err
	}
	if int64(n)*6+2 != payload {
		return fmt.Errorf("%w: cdef declares %d channels in %d bytes", ErrInvalidBox, n, payload)
	}
	raw, err := br.ReadBytes(int(n) * 6)
	if err != nil {
		return err
	}
	info.Channels = make([]ChannelDef, n)
	for i := range info.Channels {
		b := raw[i*6:]
		info.Channels[i] = ChannelDef{
			Index: binary.BigEndian.Uint16(b[0:2]),
			Type:  binary.BigEndian.Uint16(b[2:4]),
			Assoc: binary.BigEndian.Uint16(b[4:6]),
		}
	}
	return nil
}

func readColour(info *Info, br *ByteReader, payload int64) error {
	if payload < 3 || payload > maxHeaderBox {
		return fmt.Errorf("%w: colr length %d", ErrInvalidBox, payload)
	}
	raw, err := br.ReadBytes(int(payload))
	if err != nil {
		return err
	}
	// METH 1 carries an enumerated colourspace, other methods carry a profile
	if raw[0] == 1 && len(raw) >= 7 && info.ColourSpace == 0 {
		info.ColourSpace = binary.BigEndian.Uint32(raw[3:7])
	}
	return nil
}
