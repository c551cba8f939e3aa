package codec

import (
	"errors"
	"fmt"
	"sync"
)

// ErrGuardClosed is returned once Close has been called on a Guard
var ErrGuardClosed = errors.New("codec guard closed")

// Guard lends engine sessions to one call at a time. With a pool size of
// zero every call gets a fresh session that is closed when the call returns;
// otherwise at most size sessions exist and callers wait for a free one.
type Guard struct {
	codec Codec
	size  int
	slots chan struct{}

	mu     sync.Mutex
	idle   []Session
	closed bool
}

// NewGuard wraps c. size <= 0 means a fresh session per call.
func NewGuard(c Codec, size int) *Guard {
	g := &Guard{codec: c}
	if size > 0 {
		g.size = size
		g.slots = make(chan struct{}, size)
	}
	return g
}

// Codec returns the wrapped engine
func (g *Guard) Codec() Codec {
	return g.codec
}

// Pooled reports whether sessions are reused between calls
func (g *Guard) Pooled() bool {
	return g.size > 0
}

// Decode runs a decode on an exclusively held session
func (g *Guard) Decode(data []byte, p DecodeParams) (planes []Plane, err error) {
	err = g.with(func(s Session) error {
		planes, err = s.Decode(data, p)
		return err
	})
	return planes, err
}

// Encode runs an encode on an exclusively held session
func (g *Guard) Encode(planes []Plane, p EncodeParams) (out []byte, err error) {
	err = g.with(func(s Session) error {
		out, err = s.Encode(planes, p)
		return err
	})
	return out, err
}

// with acquires a session, runs fn and releases the session on every path,
// including a panic inside the engine.
func (g *Guard) with(fn func(Session) error) (err error) {
	s, err := g.acquire()
	if err != nil {
		return err
	}
	healthy := false
	defer func() {
		if cerr := g.release(s, healthy); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s session: %w", g.codec.Name(), cerr)
		}
	}()
	if err = fn(s); err != nil {
		return err
	}
	healthy = true
	return nil
}

func (g *Guard) acquire() (Session, error) {
	if g.size == 0 {
		g.mu.Lock()
		closed := g.closed
		g.mu.Unlock()
		if closed {
			return nil, ErrGuardClosed
		}
		return g.codec.NewSession()
	}

	g.slots <- struct{}{}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		<-g.slots
		return nil, ErrGuardClosed
	}
	if n := len(g.idle); n > 0 {
		s := g.idle[n-1]
		g.idle = g.idle[:n-1]
		g.mu.Unlock()
		return s, nil
	}
	g.mu.Unlock()

	s, err := g.codec.NewSession()
	if err != nil {
		<-g.slots
		return nil, err
	}
	return s, nil
}

// release returns a healthy session to the pool, or closes it. A session
// whose call failed is never reused.
func (g *Guard) release(s Session, healthy bool) error {
	if g.size == 0 {
		return s.Close()
	}
	defer func() { <-g.slots }()

	g.mu.Lock()
	if healthy && !g.closed {
		g.idle = append(g.idle, s)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()
	return s.Close()
}

// Close releases pooled sessions. Calls already holding a session finish
// normally and close it on release.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	var errs []error
	for _, s := range g.idle {
		errs = append(errs, s.Close())
	}
	g.idle = nil
	return errors.Join(errs...)
}
