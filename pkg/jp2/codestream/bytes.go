package codestream

import (
	"bufio"
	"fmt"
	"io"
)

// ByteReader provides big-endian access to a buffered stream and tracks
// how many bytes have been consumed.
type ByteReader struct {
	r   *bufio.Reader
	off int64
}

// NewByteReader creates a new byte reader
func NewByteReader(r io.Reader) *ByteReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ByteReader{r: br}
}

// Offset returns the number of bytes consumed so far
func (b *ByteReader) Offset() int64 {
	return b.off
}

// ReadByte reads a single byte
func (b *ByteReader) ReadByte() (byte, error) {
	c, err := b.r.ReadByte()
	if err != nil {
		return 0, unexpected(err)
	}
	b.off++
	return c, nil
}

// ReadUint16 reads a big-endian uint16
func (b *ByteReader) ReadUint16() (uint16, error) {
	hi, err := b.ReadByte()
	if err != nil {
		return 0, err
	}
	lo, err := b.ReadByte()
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// ReadUint32 reads a big-endian uint32
func (b *ByteReader) ReadUint32() (uint32, error) {
	var val uint32
	for i := 0; i < 4; i++ {
		c, err := b.ReadByte()
		if err != nil {
			return 0, err
		}
		val = (val << 8) | uint32(c)
	}
	return val, nil
}

// ReadUint64 reads a big-endian uint64
func (b *ByteReader) ReadUint64() (uint64, error) {
	hi, err := b.ReadUint32()
	if err != nil {
		return 0, err
	}
	lo, err := b.ReadUint32()
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// ReadBytes reads n bytes
func (b *ByteReader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read of %d bytes", n)
	}
	data := make([]byte, n)
	read, err := io.ReadFull(b.r, data)
	b.off += int64(read)
	if err != nil {
		return nil, unexpected(err)
	}
	return data, nil
}

// Skip discards n bytes
func (b *ByteReader) Skip(n int64) error {
	for n > 0 {
		chunk := n
		if chunk > 1<<30 {
			chunk = 1 << 30
		}
		d, err := b.r.Discard(int(chunk))
		b.off += int64(d)
		if err != nil {
			return unexpected(err)
		}
		n -= chunk
	}
	return nil
}

// unexpected turns a clean EOF in the middle of a structure into
// io.ErrUnexpectedEOF so callers can tell truncation from a missing input.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ByteWriter provides big-endian output over a buffered writer
type ByteWriter struct {
	w *bufio.Writer
}

// NewByteWriter creates a new byte writer
func NewByteWriter(w io.Writer) *ByteWriter {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &ByteWriter{w: bw}
}

// WriteByte writes a single byte
func (b *ByteWriter) WriteByte(c byte) error {
	return b.w.WriteByte(c)
}

// WriteUint16 writes a big-endian uint16
func (b *ByteWriter) WriteUint16(v uint16) error {
	if err := b.w.WriteByte(byte(v >> 8)); err != nil {
		return err
	}
	return b.w.WriteByte(byte(v))
}

// WriteUint32 writes a big-endian uint32
func (b *ByteWriter) WriteUint32(v uint32) error {
	for i := 24; i >= 0; i -= 8 {
		if err := b.w.WriteByte(byte(v >> i)); err != nil {
			return err
		}
	}
	return nil
}

// WriteBytes writes multiple bytes
func (b *ByteWriter) WriteBytes(data []byte) error {
	_, err := b.w.Write(data)
	return err
}

// Flush flushes the buffer
func (b *ByteWriter) Flush() error {
	return b.w.Flush()
}
