// Package gaze turns a raw gaze target on the shared canvas into a damped
// pupil offset inside one panel's render space.
package gaze

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// DefaultGain is the damping constant used by the installation.
const DefaultGain = 0.6

// Smoother damps the pupil towards the gaze target and maps the damped
// position to a bounded offset from the panel centre. It is deterministic
// and not safe for concurrent use.
type Smoother struct {
	gain      float64
	center    r2.Vec
	maxRadius float64
	span      float64

	pos r2.Vec
	vel r2.Vec
	acc r2.Vec

	offset r2.Vec
}

// NewSmoother builds a smoother for a panel whose centre sits at center on
// the canvas. maxRadius bounds the pupil offset in render units and span is
// the canvas distance at which the pupil reaches maxRadius.
func NewSmoother(gain float64, center r2.Vec, maxRadius, span float64) (*Smoother, error) {
	if !(gain > 0 && gain < 1) {
		return nil, fmt.Errorf("gaze gain must be in (0,1), got %v", gain)
	}
	if !(maxRadius >= 0) || math.IsInf(maxRadius, 0) {
		return nil, fmt.Errorf("max radius must be finite and non-negative, got %v", maxRadius)
	}
	if !(span > 0) || math.IsInf(span, 0) {
		return nil, fmt.Errorf("reference span must be positive, got %v", span)
	}
	return &Smoother{gain: gain, center: center, maxRadius: maxRadius, span: span}, nil
}

// Update feeds the target for this tick and returns the pupil offset in
// render space (y up, origin at the render centre). When ok is false the
// previous position is held and the previous offset returned.
func (s *Smoother) Update(target r2.Vec, ok bool) r2.Vec {
	if !ok || !finite(target) {
		return s.offset
	}

	// The rest velocity is never integrated, so the acceleration term is the
	// full error between position and target and the filter settles on it.
	newVel := r2.Sub(s.pos, target)
	s.acc = r2.Sub(s.vel, newVel)
	s.pos = r2.Add(s.pos, r2.Scale(s.gain, s.acc))

	d := r2.Sub(s.pos, s.center)
	dist := r2.Norm(d)
	if dist == 0 {
		s.offset = r2.Vec{}
		return s.offset
	}
	radius := s.maxRadius * math.Min(1, dist/s.span)
	theta := math.Atan2(d.Y, d.X)
	s.offset = r2.Vec{X: radius * math.Cos(theta), Y: radius * math.Sin(theta)}
	return s.offset
}

// Offset returns the most recent pupil offset.
func (s *Smoother) Offset() r2.Vec { return s.offset }

// Position returns the damped target position on the canvas.
func (s *Smoother) Position() r2.Vec { return s.pos }

// Acceleration returns the correction applied on the last update.
func (s *Smoother) Acceleration() r2.Vec { return s.acc }

// MaxRadius returns the bound on the offset magnitude.
func (s *Smoother) MaxRadius() float64 { return s.maxRadius }

func finite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}
