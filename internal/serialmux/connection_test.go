package serialmux

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/scopae/internal/timeutil"
)

type eventLog struct {
	mu     sync.Mutex
	events []LinkEvent
}

func (l *eventLog) record(ev LinkEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func TestConnection_WriteBeforeOpenStaysDisconnected(t *testing.T) {
	factory := NewMockSerialPortFactory(nil)
	factory.Error = errors.New("no such device")
	conn := NewConnection("/dev/ttyACM0", PortOptions{}, factory)

	if conn.Write([]byte{255, 254}) {
		t.Fatal("Write reported success without a port")
	}
	if conn.Connected() {
		t.Error("connection marked connected after failed open")
	}
	if factory.Calls() != 1 {
		t.Fatalf("Open calls = %d, want 1", factory.Calls())
	}

	// next write tries again
	conn.Write([]byte{255, 254})
	if factory.Calls() != 2 {
		t.Errorf("Open calls = %d, want 2 (reopen on next write)", factory.Calls())
	}

	err := conn.Send([]byte{1})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestConnection_LazyOpenAndWrite(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)
	conn := NewConnection("/dev/ttyACM0", PortOptions{BaudRate: 57600}, factory)

	if conn.Connected() {
		t.Fatal("connected before first write")
	}
	if !conn.Write([]byte{255, 1, 2, 254}) {
		t.Fatal("Write failed")
	}
	if !conn.Connected() {
		t.Error("not connected after successful write")
	}
	if call := factory.LastCall(); call == nil || call.Path != "/dev/ttyACM0" || call.Opts.BaudRate != 57600 {
		t.Errorf("unexpected open call %+v", call)
	}
	if !bytes.Equal(port.GetWrittenData(), []byte{255, 1, 2, 254}) {
		t.Errorf("written = %v", port.GetWrittenData())
	}

	conn.Write([]byte{255, 254})
	if factory.Calls() != 1 {
		t.Errorf("Open calls = %d, want 1 while connected", factory.Calls())
	}
	st := conn.Status()
	if st.Writes != 2 || st.BytesWritten != 6 || st.Opens != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestConnection_WriteFailureDropsAndReopens(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)
	var log eventLog
	conn := NewConnection("/dev/ttyACM0", PortOptions{}, factory, WithEventHook(log.record))

	conn.Write([]byte{1})
	port.WriteError = errors.New("device unplugged")

	err := conn.Send([]byte{2, 3})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Send error = %v, want ErrWriteFailed", err)
	}
	if conn.Connected() {
		t.Error("still connected after write failure")
	}
	if !port.IsClosed() {
		t.Error("port not closed after write failure")
	}

	port.Reset()
	if !conn.Write([]byte{4}) {
		t.Fatal("write after reopen failed")
	}
	if factory.Calls() != 2 {
		t.Errorf("Open calls = %d, want 2", factory.Calls())
	}
	// failed data is never replayed
	if !bytes.Equal(port.GetWrittenData(), []byte{4}) {
		t.Errorf("written after reopen = %v, want [4]", port.GetWrittenData())
	}

	want := []EventKind{EventOpened, EventWriteFailed, EventOpened}
	got := log.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestConnection_ShortWriteIsFailure(t *testing.T) {
	port := NewTestableSerialPort()
	conn := NewConnection("p", PortOptions{}, NewMockSerialPortFactory(port))
	port.ShortWrite = true

	if err := conn.Send([]byte{1, 2, 3}); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Send error = %v, want ErrWriteFailed", err)
	}
	if conn.Status().WriteFailures != 1 {
		t.Errorf("WriteFailures = %d", conn.Status().WriteFailures)
	}
}

func TestConnection_OpenFailureReportedOnce(t *testing.T) {
	factory := NewMockSerialPortFactory(NewTestableSerialPort())
	factory.Error = errors.New("busy")
	var log eventLog
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	conn := NewConnection("p", PortOptions{}, factory, WithEventHook(log.record), WithClock(clock))

	for i := 0; i < 5; i++ {
		conn.Write([]byte{0})
	}
	if got := log.kinds(); len(got) != 1 || got[0] != EventOpenFailed {
		t.Fatalf("events = %v, want one open_failed", got)
	}
	if st := conn.Status(); st.OpenFailures != 5 || st.LastError != "busy" {
		t.Errorf("status = %+v", st)
	}

	factory.SetError(nil)
	if err := conn.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := log.kinds(); len(got) != 2 || got[1] != EventOpened {
		t.Errorf("events = %v", got)
	}
	if !log.events[0].At.Equal(clock.Now()) {
		t.Errorf("event time = %v, want %v", log.events[0].At, clock.Now())
	}
}

func TestConnection_ResetAndClose(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)
	conn := NewConnection("p", PortOptions{}, factory)

	if err := conn.Close(); err != nil {
		t.Errorf("Close on unopened connection = %v", err)
	}
	if err := conn.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	conn.Reset()
	if conn.Connected() {
		t.Error("connected after Reset")
	}

	port.Reset()
	conn.Open()
	port.CloseError = errors.New("close failed")
	if err := conn.Close(); err == nil {
		t.Error("Close should return the port's close error")
	}
	if conn.Connected() {
		t.Error("connected after Close")
	}
}

func TestConnection_WriteNeverPanicsWithNilFactoryPort(t *testing.T) {
	factory := SerialPortOpener(func(string, PortOptions) (SerialPorter, error) {
		return nil, errors.New("gone")
	})
	conn := NewConnection("p", PortOptions{}, factory)
	for i := 0; i < 3; i++ {
		if conn.Write(nil) {
			t.Fatal("unexpected success")
		}
	}
}

func TestConnection_StatusNotBlockedBySlowWrite(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteLatency = 500 * time.Millisecond
	conn := NewConnection("p", PortOptions{}, NewMockSerialPortFactory(port))

	sent := make(chan error, 1)
	go func() { sent <- conn.Send([]byte{0xFF, 0xFE}) }()

	deadline := time.Now().Add(time.Second)
	for {
		port.mu.Lock()
		calls := port.WriteCalls
		port.mu.Unlock()
		if calls > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("write never started")
		}
		time.Sleep(time.Millisecond)
	}

	got := make(chan LinkStatus, 1)
	go func() { got <- conn.Status() }()
	select {
	case st := <-got:
		if !st.Connected {
			t.Error("Status during write should report connected")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Status blocked behind an in-flight write")
	}

	if err := <-sent; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if st := conn.Status(); st.Writes != 1 || st.BytesWritten != 2 {
		t.Errorf("Status after write = %+v", st)
	}
}
