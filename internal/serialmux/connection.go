// Package serialmux owns the serial link to the panel controller. The link
// is opened lazily, writes are best effort, and a failed write drops the
// data and closes the port so the next write reopens it.
package serialmux

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/scopae/internal/monitoring"
	"github.com/banshee-data/scopae/internal/timeutil"
)

var (
	// ErrNotConnected is returned when the port could not be opened.
	ErrNotConnected = errors.New("serial port not connected")
	// ErrWriteFailed is returned when a write errored or was short.
	ErrWriteFailed = errors.New("failed to write to serial port")
)

// EventKind classifies link state changes.
type EventKind string

const (
	EventOpened      EventKind = "opened"
	EventOpenFailed  EventKind = "open_failed"
	EventWriteFailed EventKind = "write_failed"
	EventClosed      EventKind = "closed"
)

// LinkEvent is emitted when the link changes state.
type LinkEvent struct {
	Kind  EventKind `json:"kind"`
	Port  string    `json:"port"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// LinkStatus is a snapshot of the link and its counters.
type LinkStatus struct {
	Port          string    `json:"port"`
	Options       string    `json:"options"`
	Connected     bool      `json:"connected"`
	Opens         uint64    `json:"opens"`
	OpenFailures  uint64    `json:"open_failures"`
	Writes        uint64    `json:"writes"`
	WriteFailures uint64    `json:"write_failures"`
	BytesWritten  uint64    `json:"bytes_written"`
	LastError     string    `json:"last_error,omitempty"`
	LastChange    time.Time `json:"last_change"`
}

// Option configures a Connection.
type Option func(*Connection)

// WithActivityLogging logs link state changes through monitoring.Logf.
func WithActivityLogging(on bool) Option {
	return func(c *Connection) { c.logActivity = on }
}

// WithEventHook calls fn for every link state change. fn runs with the
// connection locked and must not block or call back into the Connection.
func WithEventHook(fn func(LinkEvent)) Option {
	return func(c *Connection) { c.onEvent = fn }
}

// WithClock sets the clock used to timestamp events.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Connection) { c.clock = clock }
}

// Connection is the single serial link shared by all panels.
type Connection struct {
	path    string
	opts    PortOptions
	factory SerialPortFactory

	logActivity bool
	onEvent     func(LinkEvent)
	clock       timeutil.Clock
	lister      PortLister

	// writeMu serialises Send; mu guards the fields below it
	writeMu sync.Mutex
	mu      sync.Mutex
	port    SerialPorter
	status  LinkStatus
	failing bool
}

// NewConnection returns an unopened connection to path.
func NewConnection(path string, opts PortOptions, factory SerialPortFactory, options ...Option) *Connection {
	c := &Connection{
		path:    path,
		opts:    opts,
		factory: factory,
		clock:   timeutil.RealClock{},
	}
	for _, o := range options {
		o(c)
	}
	c.status = LinkStatus{Port: path, Options: opts.String()}
	return c
}

// Path returns the device path.
func (c *Connection) Path() string { return c.path }

// Open opens the port if it is not already open.
func (c *Connection) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked()
}

func (c *Connection) openLocked() error {
	if c.port != nil {
		return nil
	}
	port, err := c.factory.Open(c.path, c.opts)
	if err == nil && port == nil {
		err = errors.New("factory returned no port")
	}
	if err != nil {
		c.status.OpenFailures++
		c.status.LastError = err.Error()
		// report the first failure of a run, not every retry
		if !c.failing {
			c.failing = true
			c.emit(EventOpenFailed, err)
		}
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	c.port = port
	c.failing = false
	c.status.Connected = true
	c.status.Opens++
	c.status.LastError = ""
	c.emit(EventOpened, nil)
	return nil
}

// Send writes p, opening the port first if needed. Errors wrap
// ErrNotConnected or ErrWriteFailed; a failed write closes the port and p
// is discarded. Status stays readable while a write is in flight.
func (c *Connection) Send(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if err := c.openLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	port := c.port
	c.mu.Unlock()

	n, err := port.Write(p)
	if err == nil && n != len(p) {
		err = fmt.Errorf("short write %d of %d bytes", n, len(p))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.status.WriteFailures++
		c.status.LastError = err.Error()
		c.emit(EventWriteFailed, err)
		// Reset or Close may already have dropped this port
		if c.port == port {
			c.closeLocked()
		}
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	c.status.Writes++
	c.status.BytesWritten += uint64(n)
	return nil
}

// Write sends p and reports whether it reached the port. It never panics,
// never retries and never buffers.
func (c *Connection) Write(p []byte) bool {
	return c.Send(p) == nil
}

// Connected reports whether the port is open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// Status returns a copy of the link status.
func (c *Connection) Status() LinkStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Reset closes the port so the next write reopens it.
func (c *Connection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		c.emit(EventClosed, nil)
		c.closeLocked()
	}
}

// Close closes the port.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	c.status.Connected = false
	c.status.LastChange = c.clock.Now()
	c.emit(EventClosed, err)
	return err
}

func (c *Connection) closeLocked() {
	if err := c.port.Close(); err != nil {
		monitoring.Debugf("serial: close %s: %v", c.path, err)
	}
	c.port = nil
	c.status.Connected = false
	c.status.LastChange = c.clock.Now()
}

func (c *Connection) emit(kind EventKind, err error) {
	ev := LinkEvent{Kind: kind, Port: c.path, At: c.clock.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	c.status.LastChange = ev.At
	if c.logActivity {
		if err != nil {
			monitoring.Logf("serial %s: %s: %v", c.path, kind, err)
		} else {
			monitoring.Logf("serial %s: %s", c.path, kind)
		}
	}
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
