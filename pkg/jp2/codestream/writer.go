package codestream

import (
	"bytes"
	"fmt"
	"io"
)

// Writer writes JPEG 2000 codestream marker segments
type Writer struct {
	w *ByteWriter
}

// NewWriter creates a new codestream writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: NewByteWriter(w)}
}

// WriteSOC writes the Start of Codestream marker
func (c *Writer) WriteSOC() error {
	return c.w.WriteUint16(MarkerSOC)
}

// WriteSIZ writes the SIZ marker segment
func (c *Writer) WriteSIZ(siz *SIZMarker) error {
	if err := c.w.WriteUint16(MarkerSIZ); err != nil {
		return err
	}
	// Length: 38 + 3*numComponents
	if err := c.w.WriteUint16(uint16(38 + 3*len(siz.Components))); err != nil {
		return err
	}
	if err := c.w.WriteUint16(siz.Rsiz); err != nil {
		return err
	}
	for _, v := range []uint32{
		siz.XSiz, siz.YSiz, siz.XOsiz, siz.YOsiz,
		siz.XTsiz, siz.YTsiz, siz.XTOsiz, siz.YTOsiz,
	} {
		if err := c.w.WriteUint32(v); err != nil {
			return err
		}
	}
	if err := c.w.WriteUint16(uint16(len(siz.Components))); err != nil {
		return err
	}
	for _, comp := range siz.Components {
		ssiz := byte(comp.Precision - 1)
		if comp.Signed {
			ssiz |= 0x80
		}
		if err := c.w.WriteBytes([]byte{ssiz, byte(comp.XRsiz), byte(comp.YRsiz)}); err != nil {
			return err
		}
	}
	return nil
}

// WriteCOD writes the COD marker segment
func (c *Writer) WriteCOD(cod *CODMarker) error {
	if err := c.w.WriteUint16(MarkerCOD); err != nil {
		return err
	}
	length := uint16(12)
	if cod.Scod&CodingStylePrecinctsUser != 0 {
		length += uint16(len(cod.PrecinctSizes))
	}
	if err := c.w.WriteUint16(length); err != nil {
		return err
	}
	if err := c.w.WriteBytes([]byte{cod.Scod, byte(cod.Progression)}); err != nil {
		return err
	}
	if err := c.w.WriteUint16(cod.NumLayers); err != nil {
		return err
	}
	if err := c.w.WriteBytes([]byte{
		cod.MCT, cod.DecompLevels,
		cod.CodeBlockWidthExp, cod.CodeBlockHeightExp,
		cod.CodeBlockStyle, byte(cod.Transform),
	}); err != nil {
		return err
	}
	if cod.Scod&CodingStylePrecinctsUser != 0 {
		return c.w.WriteBytes(cod.PrecinctSizes)
	}
	return nil
}

// WriteSegment writes an arbitrary marker segment with its length field
func (c *Writer) WriteSegment(marker uint16, payload []byte) error {
	if err := c.w.WriteUint16(marker); err != nil {
		return err
	}
	if err := c.w.WriteUint16(uint16(len(payload) + 2)); err != nil {
		return err
	}
	return c.w.WriteBytes(payload)
}

// WriteSOT writes a tile-part header
func (c *Writer) WriteSOT(sot *SOTMarker) error {
	if err := c.w.WriteUint16(MarkerSOT); err != nil {
		return err
	}
	if err := c.w.WriteUint16(10); err != nil { // Fixed length
		return err
	}
	if err := c.w.WriteUint16(sot.TileIndex); err != nil {
		return err
	}
	if err := c.w.WriteUint32(sot.TilePartLen); err != nil {
		return err
	}
	return c.w.WriteBytes([]byte{sot.TilePartIdx, sot.NumTileParts})
}

// WriteSOD writes the Start of Data marker
func (c *Writer) WriteSOD() error {
	return c.w.WriteUint16(MarkerSOD)
}

// WriteEOC writes the End of Codestream marker
func (c *Writer) WriteEOC() error {
	return c.w.WriteUint16(MarkerEOC)
}

// WriteBytes writes raw bytes
func (c *Writer) WriteBytes(data []byte) error {
	return c.w.WriteBytes(data)
}

// Flush flushes the underlying buffer
func (c *Writer) Flush() error {
	return c.w.Flush()
}

// BuildSIZ creates a single-tile SIZ marker from image parameters
func BuildSIZ(width, height int, components []ComponentInfo) *SIZMarker {
	return &SIZMarker{
		XSiz:       uint32(width),
		YSiz:       uint32(height),
		XTsiz:      uint32(width),
		YTsiz:      uint32(height),
		Components: components,
	}
}

// BuildCOD creates a COD marker with 64x64 code-blocks
func BuildCOD(numResolutions, numLayers int, reversible, useMCT bool) *CODMarker {
	cod := &CODMarker{
		Progression:        ProgressionLRCP,
		NumLayers:          uint16(numLayers),
		DecompLevels:       byte(numResolutions - 1),
		CodeBlockWidthExp:  4,
		CodeBlockHeightExp: 4,
		Transform:          TransformIrreversible97,
	}
	if reversible {
		cod.Transform = TransformReversible53
	}
	if useMCT {
		cod.MCT = 1
	}
	return cod
}

// WrapJP2 places a raw codestream in a minimal JP2 file: signature, ftyp,
// jp2h (ihdr, colr and, when hasAlpha, cdef) and jp2c. The last component
// is declared as straight opacity.
func WrapJP2(cs []byte, hasAlpha bool) ([]byte, error) {
	if hasAlpha {
		return wrapJP2(cs, ChannelOpacity)
	}
	return wrapJP2(cs, -1)
}

// WrapJP2Premultiplied is WrapJP2 for a codestream whose colour samples are
// already scaled by its last component
func WrapJP2Premultiplied(cs []byte) ([]byte, error) {
	return wrapJP2(cs, ChannelPremultiplied)
}

// wrapJP2 declares the last component with alphaType, or no alpha when
// alphaType is negative
func wrapJP2(cs []byte, alphaType int) ([]byte, error) {
	hasAlpha := alphaType >= 0
	cr := NewReader(bytes.NewReader(cs))
	if err := cr.ReadMainHeader(); err != nil {
		return nil, fmt.Errorf("reading codestream header: %w", err)
	}
	siz := cr.SIZ
	nc := len(siz.Components)

	var out bytes.Buffer
	bw := NewByteWriter(&out)
	box := func(typ uint32, payload []byte) {
		bw.WriteUint32(uint32(8 + len(payload)))
		bw.WriteUint32(typ)
		bw.WriteBytes(payload)
	}

	bw.WriteBytes(SignatureJP2)
	box(BoxFileType, be32(brandJP2, 0, brandJP2))

	var hdr bytes.Buffer
	hw := NewByteWriter(&hdr)
	sub := func(typ uint32, payload []byte) {
		hw.WriteUint32(uint32(8 + len(payload)))
		hw.WriteUint32(typ)
		hw.WriteBytes(payload)
	}
	bpc := byte(siz.Components[0].Precision - 1)
	if siz.Components[0].Signed {
		bpc |= 0x80
	}
	for _, c := range siz.Components[1:] {
		if c.Precision != siz.Components[0].Precision || c.Signed != siz.Components[0].Signed {
			bpc = 0xFF // varies per component
			break
		}
	}
	ihdr := append(be32(uint32(siz.Height()), uint32(siz.Width())),
		byte(nc>>8), byte(nc), bpc, 7, 0, 0)
	sub(BoxImageHdr, ihdr)

	cspace := uint32(ColourSpaceSRGB)
	if nc <= 2 {
		cspace = ColourSpaceGrey
	}
	sub(BoxColour, append([]byte{1, 0, 0}, be32(cspace)...))

	if hasAlpha || nc == 2 || nc == 4 {
		cdef := []byte{byte(nc >> 8), byte(nc)}
		for i := 0; i < nc; i++ {
			typ, assoc := ChannelColour, i+1
			if hasAlpha && i == nc-1 {
				typ, assoc = alphaType, 0
			}
			cdef = append(cdef, byte(i>>8), byte(i), byte(typ>>8), byte(typ), byte(assoc>>8), byte(assoc))
		}
		sub(BoxChanDef, cdef)
	}
	if err := hw.Flush(); err != nil {
		return nil, err
	}
	box(BoxHeader, hdr.Bytes())
	box(BoxCodestrm, cs)
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func be32(vals ...uint32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = append(out, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return out
}
