// Package blink implements the eyelid state machine. Each update produces a
// closure amount in [0,1]: 0 is fully open, 1 fully shut.
package blink

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// State is the phase of a blink.
type State int

const (
	Dormant State = iota
	Closing
	Closed
	Opening
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Timing holds the blink durations in seconds and the spontaneous blink rate.
type Timing struct {
	ShuttingTime    float64
	ClosedTime      float64
	OpeningTime     float64
	BlinksPerSecond float64
}

// DefaultTiming matches the installation's tuned values.
func DefaultTiming() Timing {
	return Timing{
		ShuttingTime:    0.12,
		ClosedTime:      0.08,
		OpeningTime:     0.18,
		BlinksPerSecond: 0.2,
	}
}

// Validate reports negative durations or rates.
func (t Timing) Validate() error {
	if t.ShuttingTime < 0 || t.ClosedTime < 0 || t.OpeningTime < 0 {
		return fmt.Errorf("blink durations must be non-negative (close %.3f, closed %.3f, open %.3f)",
			t.ShuttingTime, t.ClosedTime, t.OpeningTime)
	}
	if t.BlinksPerSecond < 0 || math.IsNaN(t.BlinksPerSecond) {
		return fmt.Errorf("blinks per second must be non-negative, got %v", t.BlinksPerSecond)
	}
	return nil
}

// Source supplies uniform values in [0,1) for the spontaneous blink trial.
type Source interface {
	Float64() float64
}

// Controller is the blink state machine for one eye. It is not safe for
// concurrent use.
type Controller struct {
	timing Timing
	rng    Source

	state   State
	start   float64
	value   float64
	last    float64
	started bool
}

// New returns a dormant controller. A nil rng uses math/rand/v2.
func New(timing Timing, rng Source) *Controller {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Controller{timing: timing, rng: rng}
}

// Value returns the closure from the most recent update.
func (c *Controller) Value() float64 { return c.value }

// State returns the current phase.
func (c *Controller) State() State { return c.state }

// Trigger starts a blink at now unless one is already in progress.
func (c *Controller) Trigger(now float64) {
	if c.state == Dormant {
		c.state, c.start = Closing, now
	}
}

// Probability returns the chance that a dormant eye starts a blink during an
// interval of dt seconds.
func (c *Controller) Probability(dt float64) float64 {
	if dt <= 0 || c.timing.BlinksPerSecond <= 0 {
		return 0
	}
	return 1 - math.Exp(-c.timing.BlinksPerSecond*dt)
}

// Update advances the state machine to now (seconds since start) and returns
// the closure amount. now must not go backwards.
func (c *Controller) Update(now float64) float64 {
	dt := 0.0
	if c.started {
		dt = now - c.last
	}
	c.last, c.started = now, true

	switch c.state {
	case Dormant:
		c.value = 0
		if p := c.Probability(dt); p > 0 && c.rng.Float64() < p {
			c.state, c.start = Closing, now
		}
	case Closing:
		t := now - c.start
		if t >= c.timing.ShuttingTime {
			c.state, c.start = Closed, now
			c.value = 1
		} else {
			c.value = easeInSine(t, 0, 1, c.timing.ShuttingTime)
		}
	case Closed:
		c.value = 1
		if now-c.start >= c.timing.ClosedTime {
			c.state, c.start = Opening, now
		}
	case Opening:
		t := now - c.start
		if t >= c.timing.OpeningTime {
			c.state = Dormant
			c.value = 0
		} else {
			c.value = 1 - easeOutSine(t, 0, 1, c.timing.OpeningTime)
		}
	}
	return c.value
}

// easeInSine and easeOutSine are the Penner sine easings: t elapsed, b start
// value, c change in value, d duration.
func easeInSine(t, b, c, d float64) float64 {
	return -c*math.Cos(t/d*(math.Pi/2)) + c + b
}

func easeOutSine(t, b, c, d float64) float64 {
	return c*math.Sin(t/d*(math.Pi/2)) + b
}
