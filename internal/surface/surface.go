// Package surface provides an offscreen render target whose pixels are read
// back asynchronously into a shared image. The frame loop reads that image
// with TryRead and never waits for the readback.
package surface

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gg"

	"github.com/banshee-data/scopae/internal/monitoring"
)

// Canvas is the drawing surface handed to a scene. Coordinates are in
// pixels with the origin at the top left.
type Canvas interface {
	Width() int
	Height() int
	Clear(c color.Color)
	FillEllipse(x, y, rx, ry float64, c color.Color)
	FillRect(x, y, w, h float64, c color.Color)
}

// Frame is a captured image with the sequence number of the render it came
// from. A zero Frame means nothing has been captured yet.
type Frame struct {
	Image *image.RGBA
	Seq   uint64
}

// Stats counts capture outcomes.
type Stats struct {
	Requested uint64 `json:"requested"`
	Dropped   uint64 `json:"dropped"`
	Completed uint64 `json:"completed"`
	Stale     uint64 `json:"stale"`
	Failed    uint64 `json:"failed"`
}

// Surface is an offscreen render target plus its readback state. Render,
// RequestCapture and TryRead belong to the frame loop; completions arrive
// on the readback's goroutines.
type Surface struct {
	dc       *gg.Context
	readback Readback
	renders  uint64

	mu     sync.Mutex
	latest Frame

	requested, dropped, completed, stale, failed atomic.Uint64
}

// New creates a width x height surface. A nil readback uses a single
// worker AsyncReadback with a queue of two.
func New(width, height int, rb Readback) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	if rb == nil {
		rb = NewAsyncReadback(1, 2)
	}
	return &Surface{dc: gg.NewContext(width, height), readback: rb}, nil
}

// Width returns the render width in pixels.
func (s *Surface) Width() int { return s.dc.Width() }

// Height returns the render height in pixels.
func (s *Surface) Height() int { return s.dc.Height() }

// Render clears the target to black and draws scene onto it.
func (s *Surface) Render(scene func(Canvas)) error {
	s.dc.ClearWithColor(gg.Black)
	c := &canvas{dc: s.dc}
	if scene != nil {
		scene(c)
	}
	s.renders++
	if c.err != nil {
		return fmt.Errorf("render: %w", c.err)
	}
	return nil
}

// RequestCapture copies the current target into a staging image and hands
// it to the readback. It returns false if the readback refused the job.
func (s *Surface) RequestCapture() bool {
	s.requested.Add(1)
	if err := s.dc.FlushGPU(); err != nil {
		monitoring.Debugf("surface: flush before capture: %v", err)
	}
	staging, ok := s.dc.Image().(*image.RGBA)
	if !ok {
		s.dropped.Add(1)
		return false
	}
	if !s.readback.Submit(Job{Seq: s.renders, Image: staging}, s.complete) {
		s.dropped.Add(1)
		return false
	}
	return true
}

// complete publishes a finished job unless a newer one already landed.
func (s *Surface) complete(job Job, err error) {
	if err != nil {
		s.failed.Add(1)
		monitoring.Debugf("surface: readback of frame %d failed: %v", job.Seq, err)
		return
	}
	if job.Image == nil {
		s.failed.Add(1)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Seq <= s.latest.Seq {
		s.stale.Add(1)
		return
	}
	s.latest = Frame{Image: job.Image, Seq: job.Seq}
	s.completed.Add(1)
}

// TryRead returns the latest captured frame without blocking. ok is false
// when a completion holds the lock; callers keep their previous result.
// Published images are never modified.
func (s *Surface) TryRead() (Frame, bool) {
	if !s.mu.TryLock() {
		return Frame{}, false
	}
	defer s.mu.Unlock()
	return s.latest, true
}

// Stats returns the capture counters.
func (s *Surface) Stats() Stats {
	return Stats{
		Requested: s.requested.Load(),
		Dropped:   s.dropped.Load(),
		Completed: s.completed.Load(),
		Stale:     s.stale.Load(),
		Failed:    s.failed.Load(),
	}
}

// Close stops the readback and releases the render target.
func (s *Surface) Close() error {
	s.readback.Close()
	return s.dc.Close()
}

type canvas struct {
	dc  *gg.Context
	err error
}

func (c *canvas) Width() int  { return c.dc.Width() }
func (c *canvas) Height() int { return c.dc.Height() }

func (c *canvas) Clear(col color.Color) {
	c.dc.ClearWithColor(gg.FromColor(col))
}

func (c *canvas) FillEllipse(x, y, rx, ry float64, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawEllipse(x, y, rx, ry)
	c.fill()
}

func (c *canvas) FillRect(x, y, w, h float64, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawRectangle(x, y, w, h)
	c.fill()
}

func (c *canvas) fill() {
	if err := c.dc.Fill(); err != nil && c.err == nil {
		c.err = err
	}
}
