// Package eyes runs the frame loop: it feeds every panel the gaze target,
// renders and packetizes them, and writes one framed session per tick to
// the serial link.
package eyes

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/scopae/internal/monitoring"
	"github.com/banshee-data/scopae/internal/packet"
	"github.com/banshee-data/scopae/internal/panel"
	"github.com/banshee-data/scopae/internal/target"
	"github.com/banshee-data/scopae/internal/timeutil"
)

// ErrNoPanel is returned for a panel index that does not exist.
var ErrNoPanel = errors.New("no such panel")

// Link is the byte sink for sessions. serialmux.Connection implements it.
type Link interface {
	Write(p []byte) bool
}

// Options tune the loop. Zero values take the defaults.
type Options struct {
	TickInterval     time.Duration
	PadMissingPanels bool
	StatsWindow      time.Duration
	HistoryLength    int
	Clock            timeutil.Clock
	// OnWindow receives each completed statistics window on the loop
	// goroutine and must not block.
	OnWindow func(WindowStats)
}

const (
	DefaultTickInterval  = time.Second / 60
	DefaultStatsWindow   = 10 * time.Second
	DefaultHistoryLength = 600
)

// Snapshot is the state published after a tick. It is never mutated once
// published.
type Snapshot struct {
	Tick         uint64         `json:"tick"`
	Now          float64        `json:"now"`
	Target       r2.Vec         `json:"target"`
	HasTarget    bool           `json:"has_target"`
	Written      bool           `json:"written"`
	SessionBytes int            `json:"session_bytes"`
	Skipped      int            `json:"skipped"`
	Panels       []panel.Status `json:"panels"`

	Previews []*image.Gray `json:"-"`
	Bodies   [][]byte      `json:"-"`
}

// Sample is one history point for charting.
type Sample struct {
	Now     float64   `json:"now"`
	Closure []float64 `json:"closure"`
	Offset  []float64 `json:"offset"`
}

// Model owns the panels and the link.
type Model struct {
	panels []*panel.Panel
	link   Link
	source target.Source
	opts   Options
	clock  timeutil.Clock
	start  time.Time

	blinks chan int

	// loop-owned
	tick   uint64
	window windowAccumulator

	mu      sync.RWMutex
	snap    Snapshot
	history []Sample
	histPos int
	histLen int
}

// NewModel builds a model over panels, which must be non-empty. Panel order
// is the order of bodies in every session.
func NewModel(panels []*panel.Panel, link Link, source target.Source, opts Options) (*Model, error) {
	if len(panels) == 0 {
		return nil, errors.New("eyes: at least one panel is required")
	}
	if link == nil {
		return nil, errors.New("eyes: link is required")
	}
	if source == nil {
		source = target.None{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = DefaultStatsWindow
	}
	if opts.HistoryLength <= 0 {
		opts.HistoryLength = DefaultHistoryLength
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	m := &Model{
		panels:  panels,
		link:    link,
		source:  source,
		opts:    opts,
		clock:   opts.Clock,
		start:   opts.Clock.Now(),
		blinks:  make(chan int, 16),
		history: make([]Sample, opts.HistoryLength),
	}
	m.window.reset(m.start)
	return m, nil
}

// PanelCount returns the number of panels.
func (m *Model) PanelCount() int { return len(m.panels) }

// TriggerBlink asks panel i to blink on the next tick. Safe for concurrent
// use; requests beyond the queue depth are dropped.
func (m *Model) TriggerBlink(i int) error {
	if i < 0 || i >= len(m.panels) {
		return fmt.Errorf("%w: %d", ErrNoPanel, i)
	}
	select {
	case m.blinks <- i:
	default:
	}
	return nil
}

// TickResult reports what one tick sent.
type TickResult struct {
	Written bool
	Bytes   int
	Skipped int
}

// Tick runs one frame at now seconds since start: target, then update and
// render of every panel, then a single framed session write.
func (m *Model) Tick(now float64) TickResult {
	began := m.clock.Now()
	m.tick++

	pt, ok := m.source.Target(now)
	m.drainBlinks(now)

	bodies := make([][]byte, 0, len(m.panels))
	statuses := make([]panel.Status, len(m.panels))
	previews := make([]*image.Gray, len(m.panels))
	sent := make([][]byte, len(m.panels))
	var res TickResult

	for i, p := range m.panels {
		p.Update(pt, ok, now)
		if err := p.RenderTick(); err != nil {
			monitoring.Debugf("panel %s: render: %v", p.Name(), err)
		}

		body, has := p.SerialPacket()
		switch {
		case has:
			bodies = append(bodies, body)
			sent[i] = body
		case m.opts.PadMissingPanels:
			bodies = append(bodies, p.Blank())
		default:
			res.Skipped++
		}
		statuses[i] = p.Status()
		previews[i] = p.Preview()
	}

	session := packet.Session(bodies...)
	res.Written = m.link.Write(session)
	res.Bytes = len(session)

	m.publish(Snapshot{
		Tick:         m.tick,
		Now:          now,
		Target:       pt,
		HasTarget:    ok,
		Written:      res.Written,
		SessionBytes: res.Bytes,
		Skipped:      res.Skipped,
		Panels:       statuses,
		Previews:     previews,
		Bodies:       sent,
	})

	end := m.clock.Now()
	m.window.add(res, end.Sub(began))
	if end.Sub(m.window.start) >= m.opts.StatsWindow {
		ws := m.window.close(end)
		if m.opts.OnWindow != nil {
			m.opts.OnWindow(ws)
		}
		m.window.reset(end)
	}
	return res
}

func (m *Model) drainBlinks(now float64) {
	for {
		select {
		case i := <-m.blinks:
			m.panels[i].TriggerBlink(now)
		default:
			return
		}
	}
}

func (m *Model) publish(s Snapshot) {
	sample := Sample{
		Now:     s.Now,
		Closure: make([]float64, len(s.Panels)),
		Offset:  make([]float64, len(s.Panels)),
	}
	for i, st := range s.Panels {
		sample.Closure[i] = st.Closure
		sample.Offset[i] = r2.Norm(st.Offset)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = s
	m.history[m.histPos] = sample
	m.histPos = (m.histPos + 1) % len(m.history)
	if m.histLen < len(m.history) {
		m.histLen++
	}
}

// Snapshot returns the state published by the latest tick.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// History returns the retained samples, oldest first.
func (m *Model) History() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Sample, 0, m.histLen)
	start := (m.histPos - m.histLen + len(m.history)) % len(m.history)
	for i := 0; i < m.histLen; i++ {
		out = append(out, m.history[(start+i)%len(m.history)])
	}
	return out
}

// Run ticks at the configured interval until ctx is done, then closes the
// panels.
func (m *Model) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()
	defer m.closePanels()

	monitoring.Logf("eyes: running %d panels every %v", len(m.panels), m.opts.TickInterval)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("eyes: stopping after %d ticks", m.tick)
			return nil
		case <-ticker.C():
			m.Tick(timeutil.Seconds(m.clock, m.start))
		}
	}
}

func (m *Model) closePanels() {
	for _, p := range m.panels {
		if err := p.Close(); err != nil {
			monitoring.Logf("panel %s: close: %v", p.Name(), err)
		}
	}
}
