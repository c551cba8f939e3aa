package jp2

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/jpfielding/jp2.go/pkg/jp2/codestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsJPEG2000(t *testing.T) {
	_, opt := fakeGuard(t)
	jp2File := encodeWith(t, testImage(8, 8, false, 1), opt, nil)
	j2kStream := encodeWith(t, testImage(8, 8, false, 1), opt, func(e *Encoder) {
		require.NoError(t, e.SetOutputFormat(FormatJ2K))
	})

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"nil", nil, false},
		{"empty", []byte{}, false},
		{"three bytes", []byte{0x0D, 0x0A, 0x87}, false},
		{"short signature", []byte{0x0D, 0x0A, 0x87, 0x0A}, true},
		{"jp2", jp2File, true},
		{"j2k", j2kStream, true},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D}, false},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsJPEG2000(tt.data))
		})
	}

	f, ok := DetectFormat(jp2File)
	assert.True(t, ok)
	assert.Equal(t, FormatJP2, f)
	f, ok = DetectFormat(j2kStream)
	assert.True(t, ok)
	assert.Equal(t, FormatJ2K, f)
}

func TestReadHeader_SourcesAgree(t *testing.T) {
	_, opt := fakeGuard(t)
	data := encodeWith(t, testImage(37, 23, true, 2), opt, func(e *Encoder) {
		require.NoError(t, e.SetNumResolutions(5))
		require.NoError(t, e.SetCompressionRatio(40, 10, 20))
	})
	path := filepath.Join(t.TempDir(), "img.jp2")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	want := Header{
		Width:            37,
		Height:           23,
		HasAlpha:         true,
		NumResolutions:   5,
		NumQualityLayers: 3,
		Format:           FormatJP2,
		NumComponents:    4,
		Precision:        8,
	}
	for name, src := range map[string]*Source{
		"bytes":  FromBytes(data),
		"reader": FromReader(bytes.NewReader(data)),
		"file":   FromFile(path),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := ReadHeader(src)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestReadHeader_Failures(t *testing.T) {
	_, opt := fakeGuard(t)
	data := encodeWith(t, testImage(32, 32, false, 3), opt, func(e *Encoder) {
		require.NoError(t, e.SetOutputFormat(FormatJ2K))
	})

	// jp2h holding a colr box whose extended length is 1<<62
	hugeColr := append([]byte{}, codestream.SignatureJP2...)
	hugeColr = append(hugeColr,
		0, 0, 0, 40, 'j', 'p', '2', 'h',
		0, 0, 0, 1, 'c', 'o', 'l', 'r',
		0x40, 0, 0, 0, 0, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 16)

	tests := []struct {
		name string
		src  *Source
	}{
		{"nil bytes", FromBytes(nil)},
		{"colr length 1<<62", FromBytes(hugeColr)},
		{"colr length 1<<62 stream", FromReader(bytes.NewReader(hugeColr))},
		{"nil reader", FromReader(nil)},
		{"empty path", FromFile("")},
		{"missing file", FromFile(filepath.Join(t.TempDir(), "nope.jp2"))},
		{"png", FromBytes([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))},
		{"half", FromBytes(data[:len(data)/2])},
		{"half stream", FromReader(bytes.NewReader(data[:len(data)/2]))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(tt.src)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	_, err := ReadHeader(FromFile(filepath.Join(t.TempDir(), "nope.jp2")))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = ReadHeader(FromBytes(data[:len(data)/2]))
	assert.ErrorIs(t, err, codestream.ErrTruncated)
	_, err = ReadHeader(FromBytes(hugeColr))
	assert.ErrorIs(t, err, codestream.ErrInvalidBox)
}

func TestReadHeader_MaxInputSize(t *testing.T) {
	_, opt := fakeGuard(t)
	data := encodeWith(t, testImage(16, 16, false, 4), opt, nil)

	dec := NewDecoder(FromBytes(data), opt, WithMaxInputSize(int64(len(data)-1)))
	_, err := dec.ReadHeader()
	assert.ErrorIs(t, err, ErrFormat)

	dec = NewDecoder(FromReader(bytes.NewReader(data)), opt, WithMaxInputSize(int64(len(data))))
	hdr, err := dec.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, 16, hdr.Width)
	img, err := dec.Decode()
	require.NoError(t, err, "a drained stream is replayed for the decode")
	assert.Equal(t, 16, img.Width)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("j2k")
	require.NoError(t, err)
	assert.Equal(t, FormatJ2K, f)
	f, err = ParseFormat("jp2")
	require.NoError(t, err)
	assert.Equal(t, FormatJP2, f)
	_, err = ParseFormat("png")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
