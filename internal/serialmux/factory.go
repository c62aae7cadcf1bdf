package serialmux

import (
	"fmt"
	"os"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/banshee-data/scopae/internal/monitoring"
)

// RealSerialPortFactory opens hardware ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns the hardware port factory.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens the serial device at path.
func (f *RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// FilePortFactory stands in for hardware in dev mode: every open creates a
// fresh temp file that receives the raw wire stream.
type FilePortFactory struct {
	// Dir is passed to os.CreateTemp; empty means the default temp dir.
	Dir string
}

// Open creates the capture file. path and opts are only logged.
func (f *FilePortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	file, err := os.CreateTemp(f.Dir, "scopae_serial_*.bin")
	if err != nil {
		return nil, fmt.Errorf("create mock serial port file: %w", err)
	}
	monitoring.Logf("Writing mock serial port %s (%s) output to %s", path, opts, file.Name())
	return file, nil
}

// PortInfo describes a serial device found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// PortLister enumerates serial devices. Replaced in tests.
type PortLister func() ([]PortInfo, error)

// ListPorts returns the serial devices on this host, sorted by name. USB
// details are included when the platform enumerator provides them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil && len(details) > 0 {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
			})
		}
		sortPorts(ports)
		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(names))
	for _, n := range names {
		ports = append(ports, PortInfo{Name: n})
	}
	sortPorts(ports)
	return ports, nil
}

func sortPorts(ports []PortInfo) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
}
