package gaze

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func newTestSmoother(t *testing.T) *Smoother {
	t.Helper()
	s, err := NewSmoother(DefaultGain, r2.Vec{X: 100, Y: 50}, 6, 600)
	require.NoError(t, err)
	return s
}

func TestSmoother_ConvergesOnTarget(t *testing.T) {
	s := newTestSmoother(t)
	target := r2.Vec{X: 400, Y: -200}
	for i := 0; i < 60; i++ {
		s.Update(target, true)
	}
	assert.InDelta(t, target.X, s.Position().X, 1e-6)
	assert.InDelta(t, target.Y, s.Position().Y, 1e-6)
}

func TestSmoother_FirstStepUsesGain(t *testing.T) {
	s := newTestSmoother(t)
	s.Update(r2.Vec{X: 10, Y: 0}, true)
	// starts at the origin and moves gain of the way
	assert.InDelta(t, 6.0, s.Position().X, 1e-12)
	assert.InDelta(t, 6.0, s.Acceleration().X, 1e-12)
}

func TestSmoother_Bounded(t *testing.T) {
	s := newTestSmoother(t)
	targets := []r2.Vec{
		{X: 1e9, Y: 0},
		{X: -1e12, Y: 1e12},
		{X: 0, Y: -5e7},
		{X: 100, Y: 50},
		{X: 3, Y: 4},
	}
	for i := 0; i < 200; i++ {
		off := s.Update(targets[i%len(targets)], true)
		require.LessOrEqual(t, r2.Norm(off), s.MaxRadius()+1e-9, "offset %v exceeds bound", off)
	}
}

func TestSmoother_Direction(t *testing.T) {
	s := newTestSmoother(t)
	var off r2.Vec
	for i := 0; i < 100; i++ {
		off = s.Update(r2.Vec{X: 100, Y: 50 + 300}, true)
	}
	// 300 of a 600 span is half the radius, straight up
	assert.InDelta(t, 0, off.X, 1e-6)
	assert.InDelta(t, 3, off.Y, 1e-6)
}

func TestSmoother_AbsentTargetHolds(t *testing.T) {
	s := newTestSmoother(t)
	s.Update(r2.Vec{X: 500, Y: 500}, true)
	pos, off := s.Position(), s.Offset()

	for i := 0; i < 10; i++ {
		got := s.Update(r2.Vec{}, false)
		assert.Equal(t, off, got)
	}
	assert.Equal(t, pos, s.Position())

	got := s.Update(r2.Vec{X: math.NaN(), Y: 0}, true)
	assert.Equal(t, off, got, "non-finite target treated as absent")
}

func TestSmoother_AtCenterIsZero(t *testing.T) {
	s, err := NewSmoother(0.5, r2.Vec{}, 6, 100)
	require.NoError(t, err)
	assert.Equal(t, r2.Vec{}, s.Update(r2.Vec{}, true))
}

func TestSmoother_Deterministic(t *testing.T) {
	seq := []r2.Vec{{X: 1, Y: 2}, {X: -40, Y: 3}, {X: 900, Y: -20}, {X: 0, Y: 0}}
	a, b := newTestSmoother(t), newTestSmoother(t)
	for _, v := range seq {
		assert.Equal(t, a.Update(v, true), b.Update(v, true))
	}
}

func TestNewSmoother_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		gain      float64
		maxRadius float64
		span      float64
	}{
		{"zero gain", 0, 1, 1},
		{"gain one", 1, 1, 1},
		{"nan gain", math.NaN(), 1, 1},
		{"negative radius", 0.5, -1, 1},
		{"zero span", 0.5, 1, 0},
		{"inf span", 0.5, 1, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSmoother(tt.gain, r2.Vec{}, tt.maxRadius, tt.span)
			assert.Error(t, err)
		})
	}
}
