//go:build openjpeg && cgo

package openjpeg

/*
#cgo pkg-config: libopenjp2
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#ifndef __has_include
#define __has_include(x) 0
#endif
#if __has_include(<openjpeg-2.5/openjpeg.h>)
#include <openjpeg-2.5/openjpeg.h>
#elif __has_include(<openjpeg-2.4/openjpeg.h>)
#include <openjpeg-2.4/openjpeg.h>
#elif __has_include(<openjpeg-2.3/openjpeg.h>)
#include <openjpeg-2.3/openjpeg.h>
#else
#include <openjpeg.h>
#endif

typedef struct {
	uint8_t *data;
	size_t length;
	size_t capacity;
	size_t offset;
	int writing;
} jp2go_buffer;

typedef struct {
	char text[256];
} jp2go_msg;

static jp2go_buffer* jp2go_buffer_new(void *data, size_t len) {
	jp2go_buffer *b = (jp2go_buffer*)calloc(1, sizeof(jp2go_buffer));
	if (!b) {
		free(data);
		return NULL;
	}
	b->data = (uint8_t*)data;
	b->length = len;
	b->capacity = len;
	return b;
}

static void jp2go_buffer_free(jp2go_buffer *b) {
	if (!b) {
		return;
	}
	free(b->data);
	free(b);
}

static OPJ_SIZE_T jp2go_read(void *dst, OPJ_SIZE_T n, void *user) {
	jp2go_buffer *b = (jp2go_buffer*)user;
	if (b->offset >= b->length) {
		return (OPJ_SIZE_T)-1;
	}
	size_t left = b->length - b->offset;
	if ((size_t)n > left) {
		n = (OPJ_SIZE_T)left;
	}
	memcpy(dst, b->data + b->offset, (size_t)n);
	b->offset += (size_t)n;
	return n;
}

static OPJ_SIZE_T jp2go_write(void *src, OPJ_SIZE_T n, void *user) {
	jp2go_buffer *b = (jp2go_buffer*)user;
	size_t end = b->offset + (size_t)n;
	if (end > b->capacity) {
		size_t cap = b->capacity ? b->capacity : 65536;
		while (cap < end) {
			cap *= 2;
		}
		uint8_t *grown = (uint8_t*)realloc(b->data, cap);
		if (!grown) {
			return (OPJ_SIZE_T)-1;
		}
		b->data = grown;
		b->capacity = cap;
	}
	if (b->offset > b->length) {
		memset(b->data + b->length, 0, b->offset - b->length);
	}
	memcpy(b->data + b->offset, src, (size_t)n);
	b->offset = end;
	if (end > b->length) {
		b->length = end;
	}
	return n;
}

static OPJ_OFF_T jp2go_skip(OPJ_OFF_T n, void *user) {
	jp2go_buffer *b = (jp2go_buffer*)user;
	if (n < 0) {
		if ((size_t)(-n) > b->offset) {
			return -1;
		}
		b->offset -= (size_t)(-n);
		return n;
	}
	if (!b->writing) {
		size_t left = b->length > b->offset ? b->length - b->offset : 0;
		if ((size_t)n > left) {
			if (left == 0) {
				return -1;
			}
			n = (OPJ_OFF_T)left;
		}
	}
	b->offset += (size_t)n;
	return n;
}

static OPJ_BOOL jp2go_seek(OPJ_OFF_T n, void *user) {
	jp2go_buffer *b = (jp2go_buffer*)user;
	if (n < 0 || (!b->writing && (size_t)n > b->length)) {
		return OPJ_FALSE;
	}
	b->offset = (size_t)n;
	return OPJ_TRUE;
}

static opj_stream_t* jp2go_stream(jp2go_buffer *b, OPJ_BOOL input) {
	opj_stream_t *s = opj_stream_create(OPJ_J2K_STREAM_CHUNK_SIZE, input);
	if (!s) {
		return NULL;
	}
	opj_stream_set_user_data(s, b, NULL);
	if (input) {
		opj_stream_set_user_data_length(s, b->length);
		opj_stream_set_read_function(s, jp2go_read);
	} else {
		opj_stream_set_write_function(s, jp2go_write);
	}
	opj_stream_set_skip_function(s, jp2go_skip);
	opj_stream_set_seek_function(s, jp2go_seek);
	return s;
}

static void jp2go_on_error(const char *msg, void *client) {
	jp2go_msg *m = (jp2go_msg*)client;
	if (m && msg && m->text[0] == 0) {
		strncpy(m->text, msg, sizeof(m->text) - 1);
	}
}

static void jp2go_quiet(const char *msg, void *client) {
	(void)msg;
	(void)client;
}

static void jp2go_handlers(opj_codec_t *codec, jp2go_msg *m) {
	opj_set_error_handler(codec, jp2go_on_error, m);
	opj_set_warning_handler(codec, jp2go_quiet, NULL);
	opj_set_info_handler(codec, jp2go_quiet, NULL);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"image"
	"slices"
	"strings"
	"unsafe"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/jp2/codestream"
)

// maxLayers is the size of OpenJPEG's per-layer rate tables
const maxLayers = 100

var errAlloc = errors.New("openjpeg: allocation failed")

// Codec is the OpenJPEG engine
type Codec struct{}

var _ codec.Codec = (*Codec)(nil)

// New creates the engine
func New() *Codec {
	return &Codec{}
}

// Name returns the engine identifier with the library version
func (c *Codec) Name() string {
	return "openjpeg-" + C.GoString(C.opj_version())
}

// NewSession creates a session. OpenJPEG codec objects live for one call,
// so a session only tracks whether it was closed.
func (c *Codec) NewSession() (codec.Session, error) {
	return &session{}, nil
}

type session struct {
	closed bool
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

// failure reports the first error OpenJPEG logged during stage
func failure(m *C.jp2go_msg, stage string) error {
	if text := strings.TrimSpace(C.GoString(&m.text[0])); text != "" {
		return fmt.Errorf("openjpeg %s: %s", stage, text)
	}
	return fmt.Errorf("openjpeg %s failed", stage)
}

func newMsg() *C.jp2go_msg {
	return (*C.jp2go_msg)(C.calloc(1, C.sizeof_jp2go_msg))
}

func (s *session) Decode(data []byte, p codec.DecodeParams) ([]codec.Plane, error) {
	if s.closed {
		return nil, codec.ErrSessionClosed
	}
	cs := data
	if p.Format == codec.FormatJP2 {
		var err error
		if cs, _, err = codestream.ExtractCodestream(data); err != nil {
			return nil, err
		}
	}
	if len(cs) == 0 {
		return nil, errors.New("openjpeg: empty codestream")
	}

	buf := C.jp2go_buffer_new(C.CBytes(cs), C.size_t(len(cs)))
	if buf == nil {
		return nil, errAlloc
	}
	defer C.jp2go_buffer_free(buf)
	stream := C.jp2go_stream(buf, C.OPJ_TRUE)
	if stream == nil {
		return nil, errAlloc
	}
	defer C.opj_stream_destroy(stream)

	dec := C.opj_create_decompress(C.OPJ_CODEC_J2K)
	if dec == nil {
		return nil, errAlloc
	}
	defer C.opj_destroy_codec(dec)
	msg := newMsg()
	defer C.free(unsafe.Pointer(msg))
	C.jp2go_handlers(dec, msg)

	var par C.opj_dparameters_t
	C.opj_set_default_decoder_parameters(&par)
	par.cp_reduce = C.OPJ_UINT32(p.Reduce)
	par.cp_layer = C.OPJ_UINT32(p.Layers)
	if C.opj_setup_decoder(dec, &par) == 0 {
		return nil, failure(msg, "setup")
	}

	var img *C.opj_image_t
	if C.opj_read_header(stream, dec, &img) == 0 || img == nil {
		return nil, failure(msg, "header")
	}
	defer C.opj_image_destroy(img)

	x0, y0 := int(img.x0), int(img.y0)
	if p.Window != nil {
		// the decode area is given on the full-resolution grid
		r := p.Reduce
		area := image.Rect(
			x0+p.Window.Min.X<<r, y0+p.Window.Min.Y<<r,
			x0+p.Window.Max.X<<r, y0+p.Window.Max.Y<<r,
		).Intersect(image.Rect(x0, y0, int(img.x1), int(img.y1)))
		if area.Empty() {
			return nil, fmt.Errorf("openjpeg: window %v outside the image", *p.Window)
		}
		if C.opj_set_decode_area(dec, img,
			C.OPJ_INT32(area.Min.X), C.OPJ_INT32(area.Min.Y),
			C.OPJ_INT32(area.Max.X), C.OPJ_INT32(area.Max.Y)) == 0 {
			return nil, failure(msg, "decode area")
		}
	}
	if C.opj_decode(dec, stream, img) == 0 {
		return nil, failure(msg, "decode")
	}
	if C.opj_end_decompress(dec, stream) == 0 {
		return nil, failure(msg, "end decode")
	}

	comps := unsafe.Slice(img.comps, int(img.numcomps))
	planes := make([]codec.Plane, len(comps))
	for i, comp := range comps {
		w, h := int(comp.w), int(comp.h)
		if comp.data == nil || w == 0 || h == 0 {
			return nil, fmt.Errorf("openjpeg: component %d is empty", i)
		}
		dx, dy := int(comp.dx), int(comp.dy)
		src := unsafe.Slice((*int32)(unsafe.Pointer(comp.data)), w*h)
		planes[i] = codec.Plane{
			Width:     w,
			Height:    h,
			Precision: int(comp.prec),
			Signed:    comp.sgnd != 0,
			Data:      slices.Clone(src),
			DX:        dx,
			DY:        dy,
			// component origin relative to the image origin on the reduced grid
			X0: int(comp.x0) - ceilDivPow2(ceilDiv(x0, dx), p.Reduce),
			Y0: int(comp.y0) - ceilDivPow2(ceilDiv(y0, dy), p.Reduce),
		}
	}
	return planes, nil
}

func (s *session) Encode(planes []codec.Plane, p codec.EncodeParams) ([]byte, error) {
	if s.closed {
		return nil, codec.ErrSessionClosed
	}
	n := len(planes)
	if n < 1 || n > 4 {
		return nil, fmt.Errorf("openjpeg: unsupported component count %d", n)
	}
	if p.NumLayers() > maxLayers {
		return nil, fmt.Errorf("openjpeg: %d quality layers, at most %d", p.NumLayers(), maxLayers)
	}
	// the first plane sets the image size
	w, h := planes[0].Width, planes[0].Height
	cpar := make([]C.opj_image_cmptparm_t, n)
	for i := range planes {
		pl := &planes[i]
		if err := pl.Check(); err != nil {
			return nil, fmt.Errorf("openjpeg: plane %d: %w", i, err)
		}
		dx, dy := pl.Step()
		if i == 0 && (dx != 1 || dy != 1) {
			return nil, errors.New("openjpeg: first plane must not be subsampled")
		}
		if pl.Width != ceilDiv(w, dx) || pl.Height != ceilDiv(h, dy) {
			return nil, fmt.Errorf("openjpeg: plane %d is %dx%d, want %dx%d", i, pl.Width, pl.Height, ceilDiv(w, dx), ceilDiv(h, dy))
		}
		if pl.Precision > 16 {
			return nil, fmt.Errorf("openjpeg: plane %d precision %d", i, pl.Precision)
		}
		cpar[i].dx = C.OPJ_UINT32(dx)
		cpar[i].dy = C.OPJ_UINT32(dy)
		cpar[i].w = C.OPJ_UINT32(pl.Width)
		cpar[i].h = C.OPJ_UINT32(pl.Height)
		cpar[i].prec = C.OPJ_UINT32(pl.Precision)
		if pl.Signed {
			cpar[i].sgnd = 1
		}
	}

	var space C.OPJ_COLOR_SPACE = C.OPJ_CLRSPC_SRGB
	if n <= 2 {
		space = C.OPJ_CLRSPC_GRAY
	}
	img := C.opj_image_create(C.OPJ_UINT32(n), &cpar[0], space)
	if img == nil {
		return nil, errAlloc
	}
	defer C.opj_image_destroy(img)
	img.x0, img.y0 = 0, 0
	img.x1, img.y1 = C.OPJ_UINT32(w), C.OPJ_UINT32(h)
	for i, comp := range unsafe.Slice(img.comps, n) {
		dst := unsafe.Slice((*int32)(unsafe.Pointer(comp.data)), len(planes[i].Data))
		copy(dst, planes[i].Data)
	}

	var par C.opj_cparameters_t
	C.opj_set_default_encoder_parameters(&par)
	par.numresolution = C.int(p.NumResolutions)
	par.prog_order = C.OPJ_LRCP
	// the colour transform needs three full-size components
	if n >= 3 && sameGrid(planes[:3]) {
		par.tcp_mct = 1
	}
	if !p.Lossless() {
		par.irreversible = 1
	}
	par.tcp_numlayers = C.int(p.NumLayers())
	switch p.Mode {
	case codec.RateRatio:
		for i, r := range p.Layers {
			if r <= 1 {
				r = 0 // all remaining passes
			}
			par.tcp_rates[i] = C.float(r)
		}
		par.cp_disto_alloc = 1
	case codec.RateQuality:
		for i, q := range p.Layers {
			par.tcp_distoratio[i] = C.float(q)
		}
		par.cp_fixed_quality = 1
	default:
		par.tcp_rates[0] = 0
		par.cp_disto_alloc = 1
	}

	out := C.jp2go_buffer_new(nil, 0)
	if out == nil {
		return nil, errAlloc
	}
	defer C.jp2go_buffer_free(out)
	out.writing = 1
	stream := C.jp2go_stream(out, C.OPJ_FALSE)
	if stream == nil {
		return nil, errAlloc
	}
	defer C.opj_stream_destroy(stream)

	enc := C.opj_create_compress(C.OPJ_CODEC_J2K)
	if enc == nil {
		return nil, errAlloc
	}
	defer C.opj_destroy_codec(enc)
	msg := newMsg()
	defer C.free(unsafe.Pointer(msg))
	C.jp2go_handlers(enc, msg)

	if C.opj_setup_encoder(enc, &par, img) == 0 {
		return nil, failure(msg, "setup")
	}
	if C.opj_start_compress(enc, img, stream) == 0 {
		return nil, failure(msg, "start")
	}
	if C.opj_encode(enc, stream) == 0 {
		return nil, failure(msg, "encode")
	}
	if C.opj_end_compress(enc, stream) == 0 {
		return nil, failure(msg, "end encode")
	}

	cs := C.GoBytes(unsafe.Pointer(out.data), C.int(out.length))
	if p.Format == codec.FormatJP2 {
		return codestream.WrapJP2(cs, p.HasAlpha)
	}
	return cs, nil
}

func sameGrid(planes []codec.Plane) bool {
	for i := range planes {
		if dx, dy := planes[i].Step(); dx != 1 || dy != 1 {
			return false
		}
	}
	return true
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func ceilDivPow2(a, n int) int {
	return (a + 1<<n - 1) >> n
}
