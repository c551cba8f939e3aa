package codec_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jpfielding/jp2.go/pkg/codec"
	"github.com/jpfielding/jp2.go/pkg/codec/codectest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlanes(w, h, n int) []codec.Plane {
	planes := make([]codec.Plane, n)
	for c := range planes {
		data := make([]int32, w*h)
		for i := range data {
			data[i] = int32((i*7 + c*31) % 256)
		}
		planes[c] = codec.Plane{Width: w, Height: h, Precision: 8, Data: data}
	}
	return planes
}

func losslessParams() codec.EncodeParams {
	return codec.EncodeParams{Format: codec.FormatJ2K, NumResolutions: 3, Mode: codec.RateLossless}
}

func TestGuard_FreshSessionPerCall(t *testing.T) {
	fake := codectest.New()
	g := codec.NewGuard(fake, 0)
	assert.False(t, g.Pooled())

	planes := testPlanes(9, 5, 3)
	for i := 0; i < 4; i++ {
		out, err := g.Encode(planes, losslessParams())
		require.NoError(t, err)
		got, err := g.Decode(out, codec.DecodeParams{Format: codec.FormatJ2K, Components: 3})
		require.NoError(t, err)
		assert.Equal(t, planes, got)
	}

	created, closed := fake.Sessions()
	assert.Equal(t, 8, created)
	assert.Equal(t, 8, closed)

	seen := map[int]bool{}
	for _, c := range fake.Calls() {
		assert.False(t, seen[c.Session], "session %d reused", c.Session)
		seen[c.Session] = true
	}
}

func TestGuard_PoolNeverSharesSession(t *testing.T) {
	fake := codectest.New()
	fake.Delay = time.Millisecond
	g := codec.NewGuard(fake, 2)
	assert.True(t, g.Pooled())

	planes := testPlanes(4, 4, 1)
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				if _, err := g.Encode(planes, losslessParams()); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Zero(t, fake.Overlaps())
	created, closed := fake.Sessions()
	assert.LessOrEqual(t, created, 2)
	assert.Zero(t, closed)
	assert.Len(t, fake.Calls(), 64)

	require.NoError(t, g.Close())
	_, closed = fake.Sessions()
	assert.Equal(t, created, closed)
}

func TestGuard_FailedSessionIsDiscarded(t *testing.T) {
	fake := codectest.New()
	boom := errors.New("boom")
	fake.FailDecode = boom
	g := codec.NewGuard(fake, 1)
	defer g.Close()

	for i := 0; i < 2; i++ {
		_, err := g.Decode([]byte{0xFF}, codec.DecodeParams{})
		assert.ErrorIs(t, err, boom)
	}
	created, closed := fake.Sessions()
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, closed)

	fake.FailDecode = nil
	_, err := g.Encode(testPlanes(2, 2, 1), losslessParams())
	require.NoError(t, err)
	created, closed = fake.Sessions()
	assert.Equal(t, 3, created)
	assert.Equal(t, 2, closed)
}

func TestGuard_Closed(t *testing.T) {
	for _, size := range []int{0, 3} {
		fake := codectest.New()
		g := codec.NewGuard(fake, size)
		require.NoError(t, g.Close())
		require.NoError(t, g.Close())

		_, err := g.Encode(testPlanes(2, 2, 1), losslessParams())
		assert.ErrorIs(t, err, codec.ErrGuardClosed)
		created, _ := fake.Sessions()
		assert.Zero(t, created)
	}
}

func TestEncodeParams(t *testing.T) {
	tests := []struct {
		name     string
		params   codec.EncodeParams
		layers   int
		lossless bool
	}{
		{"default", codec.EncodeParams{}, 1, true},
		{"ratios", codec.EncodeParams{Mode: codec.RateRatio, Layers: []float64{40, 10, 4}}, 3, false},
		{"ratios to lossless", codec.EncodeParams{Mode: codec.RateRatio, Layers: []float64{20, 1}}, 2, true},
		{"quality", codec.EncodeParams{Mode: codec.RateQuality, Layers: []float64{30, 45}}, 2, false},
		{"quality to lossless", codec.EncodeParams{Mode: codec.RateQuality, Layers: []float64{30, 0}}, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.layers, tt.params.NumLayers())
			assert.Equal(t, tt.lossless, tt.params.Lossless())
		})
	}
	assert.Equal(t, "ratio", codec.RateRatio.String())
}
