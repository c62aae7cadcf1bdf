// Package panel renders one LED-matrix eye and turns the latest captured
// render into that panel's packet body.
package panel

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/scopae/internal/blink"
	"github.com/banshee-data/scopae/internal/gaze"
	"github.com/banshee-data/scopae/internal/packet"
	"github.com/banshee-data/scopae/internal/surface"
)

// DefaultUpscale is the render oversampling used by the installation.
const DefaultUpscale = 3

// Config describes one physical panel.
type Config struct {
	Name     string
	Rows     int
	Cols     int
	Upscale  int
	Rotation packet.Rotation
	Filter   Filter

	// Position is the panel centre on the canvas, Physical its size in
	// physical units, CanvasScale the canvas units per physical unit.
	Position    r2.Vec
	Physical    r2.Vec
	CanvasScale float64

	Gain          float64
	ReferenceSpan float64
	Blink         blink.Timing
}

// Validate reports configuration that cannot produce a panel.
func (c Config) Validate() error {
	if c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("panel %q: resolution must be positive, got %dx%d", c.Name, c.Rows, c.Cols)
	}
	if c.Upscale <= 0 {
		return fmt.Errorf("panel %q: upscale must be positive, got %d", c.Name, c.Upscale)
	}
	if c.Rotation < packet.Rotate0 || c.Rotation > packet.Rotate270 {
		return fmt.Errorf("panel %q: invalid rotation %d", c.Name, c.Rotation)
	}
	if _, err := ParseFilter(string(c.Filter)); err != nil {
		return fmt.Errorf("panel %q: %w", c.Name, err)
	}
	if !(c.Gain > 0 && c.Gain < 1) {
		return fmt.Errorf("panel %q: gaze gain must be in (0,1), got %v", c.Name, c.Gain)
	}
	if !(c.ReferenceSpan > 0) || math.IsInf(c.ReferenceSpan, 0) {
		return fmt.Errorf("panel %q: reference span must be positive, got %v", c.Name, c.ReferenceSpan)
	}
	if err := c.placement().Validate(); err != nil {
		return fmt.Errorf("panel %q: %w", c.Name, err)
	}
	if err := c.Blink.Validate(); err != nil {
		return fmt.Errorf("panel %q: %w", c.Name, err)
	}
	return nil
}

func (c Config) renderSize() (w, h int) {
	return c.Cols * c.Upscale, c.Rows * c.Upscale
}

func (c Config) placement() gaze.Placement {
	w, h := c.renderSize()
	return gaze.NewPlacement(c.Position, c.Physical, c.CanvasScale, w, h)
}

// Status is a copy of a panel's observable state.
type Status struct {
	Name        string        `json:"name"`
	Rows        int           `json:"rows"`
	Cols        int           `json:"cols"`
	Rotation    int           `json:"rotation"`
	Closure     float64       `json:"closure"`
	BlinkState  string        `json:"blink_state"`
	Offset      r2.Vec        `json:"offset"`
	Center      r2.Vec        `json:"center"`
	Pupil       r2.Vec        `json:"pupil"`
	FrameSeq    uint64        `json:"frame_seq"`
	HasPacket   bool          `json:"has_packet"`
	Capture     surface.Stats `json:"capture"`
	PacketBytes int           `json:"packet_bytes"`
}

// Panel owns a render surface, a blink controller and a gaze smoother.
// All methods are called from the frame loop.
type Panel struct {
	cfg       Config
	surface   *surface.Surface
	blink     *blink.Controller
	smoother  *gaze.Smoother
	placement gaze.Placement
	eyeR      float64

	seq     uint64
	packet  []byte
	preview *image.Gray
}

// New builds a panel. rb and rng may be nil for the defaults.
func New(cfg Config, rb surface.Readback, rng blink.Source) (*Panel, error) {
	if cfg.Filter == "" {
		cfg.Filter = FilterTriangle
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filter, _ := ParseFilter(string(cfg.Filter))
	cfg.Filter = filter

	w, h := cfg.renderSize()
	pl := cfg.placement()
	maxRadius := math.Min(float64(w), float64(h)) / 2
	sm, err := gaze.NewSmoother(cfg.Gain, pl.Center(), maxRadius, cfg.ReferenceSpan)
	if err != nil {
		return nil, fmt.Errorf("panel %q: %w", cfg.Name, err)
	}
	surf, err := surface.New(w, h, rb)
	if err != nil {
		return nil, fmt.Errorf("panel %q: %w", cfg.Name, err)
	}

	return &Panel{
		cfg:       cfg,
		surface:   surf,
		blink:     blink.New(cfg.Blink, rng),
		smoother:  sm,
		placement: pl,
		eyeR:      float64(h) / 4,
	}, nil
}

// Name returns the configured panel name.
func (p *Panel) Name() string { return p.cfg.Name }

// Size returns the native rows and columns.
func (p *Panel) Size() (rows, cols int) { return p.cfg.Rows, p.cfg.Cols }

// WireSize returns the rows and columns of the encoded body, which are
// swapped from Size for 90 and 270 degree mounts.
func (p *Panel) WireSize() (rows, cols int) {
	if p.cfg.Rotation == packet.Rotate90 || p.cfg.Rotation == packet.Rotate270 {
		return p.cfg.Cols, p.cfg.Rows
	}
	return p.cfg.Rows, p.cfg.Cols
}

// Blank returns an all-dark body of the same length as this panel's
// real packets.
func (p *Panel) Blank() []byte {
	return packet.Blank(p.WireSize())
}

// Update advances the blink to now and feeds the gaze target. ok is false
// when no target was detected this tick.
func (p *Panel) Update(target r2.Vec, ok bool, now float64) {
	p.blink.Update(now)
	p.smoother.Update(target, ok)
}

// TriggerBlink starts a blink at now.
func (p *Panel) TriggerBlink(now float64) {
	p.blink.Trigger(now)
}

// RenderTick draws the eye, requests a capture and, if a newer capture is
// readable, rebuilds the packet and preview from it.
func (p *Panel) RenderTick() error {
	err := p.surface.Render(p.drawEye)
	p.surface.RequestCapture()

	frame, ok := p.surface.TryRead()
	if !ok || frame.Image == nil || frame.Seq == p.seq {
		return err
	}
	native := Downsample(frame.Image, p.cfg.Rows, p.cfg.Cols, p.cfg.Filter)
	p.preview = native
	p.packet = packet.Encode(packet.Rotate(native, p.cfg.Rotation))
	p.seq = frame.Seq
	return err
}

// drawEye draws the pupil and both eyelids. Render space is y down here,
// so the y-up gaze offset is negated.
func (p *Panel) drawEye(c surface.Canvas) {
	off := p.smoother.Offset()
	x := float64(c.Width())/2 + off.X
	y := float64(c.Height())/2 - off.Y
	r := p.eyeR

	c.FillEllipse(x, y, r, r, color.White)

	lid := r * p.blink.Value()
	if lid <= 0 {
		return
	}
	c.FillRect(x-r, y-r, 2*r, lid, color.Black)
	c.FillRect(x-r, y+r-lid, 2*r, lid, color.Black)
}

// SerialPacket returns the body built from the most recent capture. ok is
// false only before the first capture has been read. The slice must not be
// modified.
func (p *Panel) SerialPacket() ([]byte, bool) {
	return p.packet, p.packet != nil
}

// Preview returns the native-resolution luma image behind the current
// packet, before rotation, or nil before the first capture.
func (p *Panel) Preview() *image.Gray {
	return p.preview
}

// Status returns a copy of the panel's state.
func (p *Panel) Status() Status {
	off := p.smoother.Offset()
	return Status{
		Name:        p.cfg.Name,
		Rows:        p.cfg.Rows,
		Cols:        p.cfg.Cols,
		Rotation:    p.cfg.Rotation.Degrees(),
		Closure:     p.blink.Value(),
		BlinkState:  p.blink.State().String(),
		Offset:      off,
		Center:      p.placement.Center(),
		Pupil:       p.placement.ToCanvas(off),
		FrameSeq:    p.seq,
		HasPacket:   p.packet != nil,
		Capture:     p.surface.Stats(),
		PacketBytes: len(p.packet),
	}
}

// Close releases the render surface.
func (p *Panel) Close() error {
	return p.surface.Close()
}
