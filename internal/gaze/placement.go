package gaze

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Placement is the affine map from a panel's render space (origin at the
// render centre, y up) to the shared canvas.
type Placement struct {
	center r2.Vec
	scale  r2.Vec
	angle  float64
}

// NewPlacement places a panel of the given physical size at center on the
// canvas. Physical units are multiplied by canvasScale; the height is negated
// so that render y-up maps to canvas y-up once the render target is flipped.
func NewPlacement(center, physical r2.Vec, canvasScale float64, renderW, renderH int) Placement {
	var scale r2.Vec
	if renderW > 0 && renderH > 0 {
		scale = r2.Vec{
			X: physical.X * canvasScale / float64(renderW),
			Y: -physical.Y * canvasScale / float64(renderH),
		}
	}
	return Placement{center: center, scale: scale}
}

// WithAngle returns a copy of p rotated by angle radians about its centre.
func (p Placement) WithAngle(angle float64) Placement {
	p.angle = angle
	return p
}

// Center returns the canvas position of the render origin.
func (p Placement) Center() r2.Vec { return p.center }

// Scale returns the per-axis canvas units per render unit.
func (p Placement) Scale() r2.Vec { return p.scale }

// Validate rejects degenerate transforms.
func (p Placement) Validate() error {
	if p.scale.X == 0 || p.scale.Y == 0 || !finite(p.scale) {
		return fmt.Errorf("degenerate placement scale %v", p.scale)
	}
	if !finite(p.center) || math.IsNaN(p.angle) || math.IsInf(p.angle, 0) {
		return fmt.Errorf("non-finite placement %v angle %v", p.center, p.angle)
	}
	return nil
}

// ToCanvas maps a render-space point onto the canvas.
func (p Placement) ToCanvas(v r2.Vec) r2.Vec {
	scaled := r2.Vec{X: v.X * p.scale.X, Y: v.Y * p.scale.Y}
	return r2.Add(p.center, rotate(scaled, p.angle))
}

// ToRender maps a canvas point into render space. It is the inverse of
// ToCanvas for a valid placement.
func (p Placement) ToRender(v r2.Vec) r2.Vec {
	local := rotate(r2.Sub(v, p.center), -p.angle)
	return r2.Vec{X: local.X / p.scale.X, Y: local.Y / p.scale.Y}
}

func rotate(v r2.Vec, angle float64) r2.Vec {
	if angle == 0 {
		return v
	}
	sin, cos := math.Sincos(angle)
	return r2.Vec{X: v.X*cos - v.Y*sin, Y: v.X*sin + v.Y*cos}
}
