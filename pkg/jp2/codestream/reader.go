package codestream

import (
	"errors"
	"fmt"
	"io"
)

// Common errors
var (
	ErrInvalidMarker = errors.New("invalid marker")
	ErrInvalidSIZ    = errors.New("invalid SIZ marker")
	ErrInvalidCOD    = errors.New("invalid COD marker")
	ErrInvalidBox    = errors.New("invalid JP2 box")
	ErrNoCodestream  = errors.New("no codestream found")
	ErrTruncated     = errors.New("truncated codestream")
	ErrSignature     = errors.New("not a JPEG 2000 signature")
)

// Reader reads the main header of a JPEG 2000 codestream
type Reader struct {
	r   *ByteReader
	SIZ SIZMarker
	COD CODMarker

	hasSIZ bool
	hasCOD bool
	start  int64
	end    int64
}

// NewReader creates a new codestream reader
func NewReader(r io.Reader) *Reader {
	return newReader(NewByteReader(r))
}

func newReader(br *ByteReader) *Reader {
	return &Reader{r: br, start: br.Offset()}
}

// HeaderLength returns the number of bytes from SOC up to, not including,
// the first SOT marker. Only valid after ReadMainHeader succeeded.
func (c *Reader) HeaderLength() int64 {
	return c.end - c.start
}

// ReadMainHeader reads the main header (SOC through first SOT). It stops
// before any tile data so the cost is bounded by the header size.
func (c *Reader) ReadMainHeader() error {
	marker, err := c.r.ReadUint16()
	if err != nil {
		return fmt.Errorf("reading SOC: %w", err)
	}
	if marker != MarkerSOC {
		return fmt.Errorf("%w: expected SOC (0x%04X), got 0x%04X", ErrInvalidMarker, MarkerSOC, marker)
	}

	for {
		at := c.r.Offset()
		marker, err = c.r.ReadUint16()
		if err != nil {
			return fmt.Errorf("reading marker: %w", err)
		}
		if marker>>8 != 0xFF {
			return fmt.Errorf("%w: 0x%04X at offset %d", ErrInvalidMarker, marker, at-c.start)
		}

		switch marker {
		case MarkerSIZ:
			if c.hasSIZ {
				return fmt.Errorf("%w: duplicate SIZ", ErrInvalidSIZ)
			}
			if err := c.readSIZ(); err != nil {
				return err
			}
			c.hasSIZ = true
		case MarkerCOD:
			if err := c.readCOD(); err != nil {
				return err
			}
			c.hasCOD = true
		case MarkerSOT, MarkerSOD:
			c.end = at
			if !c.hasSIZ {
				return fmt.Errorf("%w: missing from main header", ErrInvalidSIZ)
			}
			if !c.hasCOD {
				return fmt.Errorf("%w: missing from main header", ErrInvalidCOD)
			}
			return nil
		case MarkerEOC:
			return fmt.Errorf("%w: EOC before first tile-part", ErrTruncated)
		default:
			if !c.hasSIZ {
				return fmt.Errorf("%w: SIZ must follow SOC, got 0x%04X", ErrInvalidSIZ, marker)
			}
			// COC, QCD, QCC, COM and the rest are skipped by length
			if err := c.skipSegment(); err != nil {
				return err
			}
		}
	}
}

func (c *Reader) skipSegment() error {
	length, err := c.r.ReadUint16()
	if err != nil {
		return err
	}
	if length < 2 {
		return fmt.Errorf("%w: segment length %d", ErrInvalidMarker, length)
	}
	return c.r.Skip(int64(length) - 2)
}

// readSIZ reads the SIZ marker segment
func (c *Reader) readSIZ() error {
	length, err := c.r.ReadUint16()
	if err != nil {
		return err
	}
	if length < 41 { // Minimum SIZ length
		return ErrInvalidSIZ
	}

	fields := []*uint32{
		&c.SIZ.XSiz, &c.SIZ.YSiz, &c.SIZ.XOsiz, &c.SIZ.YOsiz,
		&c.SIZ.XTsiz, &c.SIZ.YTsiz, &c.SIZ.XTOsiz, &c.SIZ.YTOsiz,
	}
	if c.SIZ.Rsiz, err = c.r.ReadUint16(); err != nil {
		return err
	}
	for _, f := range fields {
		if *f, err = c.r.ReadUint32(); err != nil {
			return err
		}
	}

	numComps, err := c.r.ReadUint16()
	if err != nil {
		return err
	}
	if numComps == 0 || int(length) != 38+3*int(numComps) {
		return fmt.Errorf("%w: %d components in %d bytes", ErrInvalidSIZ, numComps, length)
	}
	if c.SIZ.XSiz <= c.SIZ.XOsiz || c.SIZ.YSiz <= c.SIZ.YOsiz {
		return fmt.Errorf("%w: empty image area", ErrInvalidSIZ)
	}
	if c.SIZ.XTsiz == 0 || c.SIZ.YTsiz == 0 {
		return fmt.Errorf("%w: zero tile size", ErrInvalidSIZ)
	}

	c.SIZ.Components = make([]ComponentInfo, numComps)
	for i := range c.SIZ.Components {
		ssiz, err := c.r.ReadByte()
		if err != nil {
			return err
		}
		c.SIZ.Components[i].Signed = (ssiz & 0x80) != 0
		c.SIZ.Components[i].Precision = int(ssiz&0x7F) + 1

		xrsiz, err := c.r.ReadByte()
		if err != nil {
			return err
		}
		yrsiz, err := c.r.ReadByte()
		if err != nil {
			return err
		}
		if xrsiz == 0 || yrsiz == 0 {
			return fmt.Errorf("%w: zero subsampling on component %d", ErrInvalidSIZ, i)
		}
		c.SIZ.Components[i].XRsiz = int(xrsiz)
		c.SIZ.Components[i].YRsiz = int(yrsiz)
	}

	return nil
}

// readCOD reads the COD marker segment
func (c *Reader) readCOD() error {
	length, err := c.r.ReadUint16()
	if err != nil {
		return err
	}
	if length < 12 {
		return ErrInvalidCOD
	}

	raw, err := c.r.ReadBytes(int(length) - 2)
	if err != nil {
		return err
	}
	c.COD = CODMarker{
		Scod:               raw[0],
		Progression:        ProgressionOrder(raw[1]),
		NumLayers:          uint16(raw[2])<<8 | uint16(raw[3]),
		MCT:                raw[4],
		DecompLevels:       raw[5],
		CodeBlockWidthExp:  raw[6],
		CodeBlockHeightExp: raw[7],
		CodeBlockStyle:     raw[8],
		Transform:          TransformType(raw[9]),
	}
	if c.COD.NumLayers == 0 {
		return fmt.Errorf("%w: zero quality layers", ErrInvalidCOD)
	}
	if c.COD.DecompLevels > 32 {
		return fmt.Errorf("%w: %d decomposition levels", ErrInvalidCOD, c.COD.DecompLevels)
	}
	if c.COD.Scod&CodingStylePrecinctsUser != 0 {
		c.COD.PrecinctSizes = raw[10:]
	}

	return nil
}
