package jp2

import (
	"log/slog"
	"sync"

	"github.com/jpfielding/jp2.go/pkg/codec"
)

// DefaultGuard is the process-wide guard over DefaultCodec(). It creates a
// fresh session per call.
var DefaultGuard = sync.OnceValue(func() *codec.Guard {
	return codec.NewGuard(DefaultCodec(), 0)
})

// Option configures a Decoder or Encoder
type Option func(*options)

type options struct {
	logger  *slog.Logger
	guard   *codec.Guard
	maxSize int64
}

func newOptions(opts []Option) options {
	o := options{maxSize: DefaultMaxInputSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.guard == nil {
		o.guard = DefaultGuard()
	}
	return o
}

// WithLogger sets the logger, slog.Default() otherwise
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGuard routes codec calls through g instead of DefaultGuard()
func WithGuard(g *codec.Guard) Option {
	return func(o *options) { o.guard = g }
}

// WithMaxInputSize bounds the encoded input a Decoder will read
func WithMaxInputSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSize = n
		}
	}
}
