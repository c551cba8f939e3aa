package jp2

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jpfielding/jp2.go/pkg/jp2/codestream"
)

// DefaultMaxInputSize bounds how much a Source will hold in memory
const DefaultMaxInputSize = 512 << 20

type sourceKind int

const (
	sourceBytes sourceKind = iota
	sourceStream
	sourceFile
)

// Source is where encoded data comes from: a byte slice, a stream or a file.
// Every kind yields the same header and pixels for the same content. A
// stream is drained once, on first use, and replayed from memory afterwards.
type Source struct {
	kind sourceKind
	data []byte
	r    io.Reader
	path string

	drained bool
	err     error
}

// FromBytes reads from b, which must not be modified while in use
func FromBytes(b []byte) *Source {
	return &Source{kind: sourceBytes, data: b}
}

// FromReader reads from r
func FromReader(r io.Reader) *Source {
	return &Source{kind: sourceStream, r: r}
}

// FromFile reads from the file at path
func FromFile(path string) *Source {
	return &Source{kind: sourceFile, path: path}
}

func (s *Source) String() string {
	switch s.kind {
	case sourceStream:
		return "stream"
	case sourceFile:
		return s.path
	default:
		return fmt.Sprintf("bytes[%d]", len(s.data))
	}
}

// open returns random access to the content and a release func that is
// always safe to call.
func (s *Source) open(maxSize int64) (io.ReaderAt, int64, func(), error) {
	nop := func() {}
	switch s.kind {
	case sourceStream:
		if s.r == nil {
			return nil, 0, nop, errors.New("nil reader")
		}
		if !s.drained {
			s.drained = true
			s.data, s.err = io.ReadAll(io.LimitReader(s.r, maxSize+1))
		}
		if s.err != nil {
			return nil, 0, nop, s.err
		}
	case sourceFile:
		if s.path == "" {
			return nil, 0, nop, errors.New("empty path")
		}
		f, err := os.Open(s.path)
		if err != nil {
			return nil, 0, nop, err
		}
		release := func() { f.Close() }
		st, err := f.Stat()
		if err != nil {
			release()
			return nil, 0, nop, err
		}
		if err := checkSize(st.Size(), maxSize); err != nil {
			release()
			return nil, 0, nop, err
		}
		return f, st.Size(), release, nil
	}
	if err := checkSize(int64(len(s.data)), maxSize); err != nil {
		return nil, 0, nop, err
	}
	return bytes.NewReader(s.data), int64(len(s.data)), nop, nil
}

func checkSize(size, maxSize int64) error {
	switch {
	case size == 0:
		return errors.New("empty input")
	case size > maxSize:
		return fmt.Errorf("input exceeds %d bytes", maxSize)
	}
	return nil
}

// inspect parses the headers and checks that every declared tile-part is
// present, without reading tile data.
func (s *Source) inspect(maxSize int64) (*codestream.Info, error) {
	ra, size, release, err := s.open(maxSize)
	defer release()
	if err != nil {
		return nil, s.fail(err)
	}
	info, err := codestream.Parse(io.NewSectionReader(ra, 0, size))
	if err != nil {
		return nil, s.fail(err)
	}
	if err := codestream.CheckCompleteAt(ra, size, info); err != nil {
		return nil, s.fail(err)
	}
	return info, nil
}

// load returns the whole content along with its verified header
func (s *Source) load(maxSize int64) ([]byte, *codestream.Info, error) {
	ra, size, release, err := s.open(maxSize)
	defer release()
	if err != nil {
		return nil, nil, s.fail(err)
	}
	data := s.data
	if s.kind == sourceFile {
		data = make([]byte, size)
		if _, err := io.ReadFull(io.NewSectionReader(ra, 0, size), data); err != nil {
			return nil, nil, s.fail(err)
		}
	}
	info, err := codestream.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, s.fail(err)
	}
	if err := codestream.CheckComplete(data, info); err != nil {
		return nil, nil, s.fail(err)
	}
	return data, info, nil
}

func (s *Source) fail(err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFormat, s, err)
}
