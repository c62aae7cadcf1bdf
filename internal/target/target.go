// Package target provides gaze target sources. A source reports where on
// the shared canvas the eyes should look, or that nothing was detected.
package target

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
)

// Source reports the gaze target in canvas coordinates at time now
// (seconds). ok is false when no target is available this tick.
type Source interface {
	Target(now float64) (p r2.Vec, ok bool)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(now float64) (r2.Vec, bool)

func (f SourceFunc) Target(now float64) (r2.Vec, bool) { return f(now) }

// Fixed always looks at one point.
type Fixed struct {
	Point r2.Vec
}

func (f Fixed) Target(float64) (r2.Vec, bool) { return f.Point, true }

// None never detects a target.
type None struct{}

func (None) Target(float64) (r2.Vec, bool) { return r2.Vec{}, false }

// Sweep traces a Lissajous figure around Center so every panel gets to
// look in every direction.
type Sweep struct {
	Center    r2.Vec
	Amplitude r2.Vec
	// FreqX and FreqY are in Hz.
	FreqX float64
	FreqY float64
	Phase float64
}

// NewSweep covers most of a w x h canvas centred on the origin.
func NewSweep(w, h float64) Sweep {
	return Sweep{
		Amplitude: r2.Vec{X: 0.45 * w, Y: 0.45 * h},
		FreqX:     0.13,
		FreqY:     0.21,
		Phase:     math.Pi / 2,
	}
}

func (s Sweep) Target(now float64) (r2.Vec, bool) {
	return r2.Vec{
		X: s.Center.X + s.Amplitude.X*math.Sin(2*math.Pi*s.FreqX*now),
		Y: s.Center.Y + s.Amplitude.Y*math.Sin(2*math.Pi*s.FreqY*now+s.Phase),
	}, true
}

// Manual holds a target set from outside the frame loop, for example by the
// debug API. A target older than TTL seconds is reported as absent; a zero
// TTL keeps it until cleared. Safe for concurrent use.
type Manual struct {
	TTL float64

	mu    sync.Mutex
	point r2.Vec
	set   bool
	at    float64
	dirty bool
}

// Set points the eyes at p. The TTL counts from the first tick that sees it.
func (m *Manual) Set(p r2.Vec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.point = p
	m.set = true
	m.dirty = true
}

// Clear removes the target.
func (m *Manual) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = false
}

// Point returns the current target regardless of age.
func (m *Manual) Point() (r2.Vec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.point, m.set
}

func (m *Manual) Target(now float64) (r2.Vec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return r2.Vec{}, false
	}
	if m.dirty {
		m.at = now
		m.dirty = false
	}
	if m.TTL > 0 && now-m.at > m.TTL {
		return r2.Vec{}, false
	}
	return m.point, true
}

// Fallback asks Primary first and Secondary when Primary has no target.
type Fallback struct {
	Primary   Source
	Secondary Source
}

func (f Fallback) Target(now float64) (r2.Vec, bool) {
	if p, ok := f.Primary.Target(now); ok {
		return p, true
	}
	return f.Secondary.Target(now)
}
