//go:build openjpeg && cgo

package jp2

import (
	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/codec/openjpeg"
)

// DefaultCodec returns the OpenJPEG engine
func DefaultCodec() codec.Codec {
	return openjpeg.New()
}
