//go:build !(openjpeg && cgo)

package jp2

import (
	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/codec/gojp2"
)

// DefaultCodec returns the pure-Go engine. It encodes, but refuses to
// decode tile data; build with -tags openjpeg for a full engine.
func DefaultCodec() codec.Codec {
	return gojp2.New()
}
