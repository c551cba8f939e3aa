package codestream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// CheckComplete verifies that data holds the whole codestream described by
// info: the jp2c box fits, and every tile-part declared by an SOT marker lies
// inside the data. Only marker headers are visited, never packet data.
func CheckComplete(data []byte, info *Info) error {
	return CheckCompleteAt(bytes.NewReader(data), int64(len(data)), info)
}

// CheckCompleteAt is CheckComplete over size bytes of r
func CheckCompleteAt(r io.ReaderAt, size int64, info *Info) error {
	start := info.CodestreamOffset
	end := size
	if start > end {
		return fmt.Errorf("%w: codestream starts at %d of %d bytes", ErrTruncated, start, end)
	}
	if info.CodestreamLength >= 0 {
		if start+info.CodestreamLength > end {
			return fmt.Errorf("%w: jp2c box declares %d bytes, %d present", ErrTruncated, info.CodestreamLength, end-start)
		}
		end = start + info.CodestreamLength
	}
	return checkTileParts(io.NewSectionReader(r, start, end-start), end-start, info.HeaderLength)
}

// CheckTileParts walks the tile-part chain of a raw codestream starting after
// a main header of headerLen bytes.
func CheckTileParts(cs []byte, headerLen int64) error {
	return checkTileParts(bytes.NewReader(cs), int64(len(cs)), headerLen)
}

func checkTileParts(r io.ReaderAt, size, headerLen int64) error {
	var buf [12]byte
	pos := headerLen
	if pos > size {
		return fmt.Errorf("%w: main header is %d bytes, %d present", ErrTruncated, headerLen, size)
	}
	for pos < size {
		if pos+2 > size {
			return fmt.Errorf("%w: partial marker at %d", ErrTruncated, pos)
		}
		if _, err := r.ReadAt(buf[:2], pos); err != nil {
			return err
		}
		switch marker := binary.BigEndian.Uint16(buf[:2]); marker {
		case MarkerEOC:
			return nil
		case MarkerSOD:
			// single tile without SOT, length is not declared anywhere
			return nil
		case MarkerSOT:
			if pos+12 > size {
				return fmt.Errorf("%w: partial SOT at %d", ErrTruncated, pos)
			}
			if _, err := r.ReadAt(buf[:12], pos); err != nil {
				return err
			}
			psot := int64(binary.BigEndian.Uint32(buf[6:10]))
			if psot == 0 {
				// last tile-part runs up to EOC
				if size-pos < 14 {
					return fmt.Errorf("%w: open-ended tile-part without EOC", ErrTruncated)
				}
				if _, err := r.ReadAt(buf[:2], size-2); err != nil {
					return err
				}
				if binary.BigEndian.Uint16(buf[:2]) != MarkerEOC {
					return fmt.Errorf("%w: open-ended tile-part without EOC", ErrTruncated)
				}
				return nil
			}
			if psot < 14 {
				return fmt.Errorf("%w: tile-part length %d at %d", ErrInvalidMarker, psot, pos)
			}
			if pos+psot > size {
				return fmt.Errorf("%w: tile-part at %d needs %d bytes, %d present", ErrTruncated, pos, psot, size-pos)
			}
			pos += psot
		default:
			return fmt.Errorf("%w: 0x%04X where a tile-part was expected", ErrInvalidMarker, marker)
		}
	}
	return nil
}

// ExtractCodestream returns the raw codestream held by data, which may be a
// J2K stream or a JP2 file.
func ExtractCodestream(data []byte) ([]byte, *Info, error) {
	info, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	start := info.CodestreamOffset
	end := int64(len(data))
	if info.CodestreamLength >= 0 {
		if start+info.CodestreamLength > end {
			return nil, nil, fmt.Errorf("%w: jp2c box overruns input", ErrTruncated)
		}
		end = start + info.CodestreamLength
	}
	return data[start:end], info, nil
}
