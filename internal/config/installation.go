// Package config loads the installation description: the serial link, the
// canvas, motion tuning and the ordered list of panels on the bus.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/scopae/internal/blink"
	"github.com/banshee-data/scopae/internal/packet"
	"github.com/banshee-data/scopae/internal/panel"
	"github.com/banshee-data/scopae/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical installation defaults file.
const DefaultConfigPath = "config/scopae.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// InstallationConfig is the root configuration. Scalar fields are pointers
// so that partial files fall back to the Get* defaults.
type InstallationConfig struct {
	Serial SerialConfig `json:"serial" yaml:"serial"`

	TickRateHz *float64 `json:"tick_rate_hz,omitempty" yaml:"tick_rate_hz,omitempty"`

	// Canvas is the shared virtual space panels are placed on.
	CanvasWidth  *float64 `json:"canvas_width,omitempty" yaml:"canvas_width,omitempty"`
	CanvasHeight *float64 `json:"canvas_height,omitempty" yaml:"canvas_height,omitempty"`
	CanvasScale  *float64 `json:"canvas_scale,omitempty" yaml:"canvas_scale,omitempty"`

	GazeGain      *float64 `json:"gaze_gain,omitempty" yaml:"gaze_gain,omitempty"`
	ReferenceSpan *float64 `json:"reference_span,omitempty" yaml:"reference_span,omitempty"`

	BlinkShuttingTime   *float64 `json:"blink_shutting_time,omitempty" yaml:"blink_shutting_time,omitempty"`
	BlinkClosedTime     *float64 `json:"blink_closed_time,omitempty" yaml:"blink_closed_time,omitempty"`
	BlinkOpeningTime    *float64 `json:"blink_opening_time,omitempty" yaml:"blink_opening_time,omitempty"`
	BlinksPerSecond     *float64 `json:"blinks_per_second,omitempty" yaml:"blinks_per_second,omitempty"`
	Filter              *string  `json:"filter,omitempty" yaml:"filter,omitempty"`
	Upscale             *int     `json:"upscale,omitempty" yaml:"upscale,omitempty"`
	PadMissingPanels    *bool    `json:"pad_missing_panels,omitempty" yaml:"pad_missing_panels,omitempty"`
	ReadbackWorkers     *int     `json:"readback_workers,omitempty" yaml:"readback_workers,omitempty"`
	ReadbackQueueLength *int     `json:"readback_queue_length,omitempty" yaml:"readback_queue_length,omitempty"`

	Panels []PanelConfig `json:"panels" yaml:"panels"`
}

// SerialConfig describes the link to the panel controller.
type SerialConfig struct {
	Port            *string               `json:"port,omitempty" yaml:"port,omitempty"`
	Options         serialmux.PortOptions `json:"options" yaml:"options"`
	PrintPortStatus *bool                 `json:"print_port_status,omitempty" yaml:"print_port_status,omitempty"`
}

// PanelConfig is one panel, in bus order. Width and Height are the physical
// size and default to Cols and Rows. Upscale and Filter override the
// installation-wide values.
type PanelConfig struct {
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Rows     int      `json:"rows" yaml:"rows"`
	Cols     int      `json:"cols" yaml:"cols"`
	X        float64  `json:"x" yaml:"x"`
	Y        float64  `json:"y" yaml:"y"`
	Width    *float64 `json:"width,omitempty" yaml:"width,omitempty"`
	Height   *float64 `json:"height,omitempty" yaml:"height,omitempty"`
	Rotation int      `json:"rotation" yaml:"rotation"`
	Upscale  *int     `json:"upscale,omitempty" yaml:"upscale,omitempty"`
	Filter   *string  `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }

// EmptyInstallationConfig returns a config with all fields unset.
func EmptyInstallationConfig() *InstallationConfig {
	return &InstallationConfig{}
}

// DefaultInstallationConfig returns the four-panel gallery installation
// with every default spelled out.
func DefaultInstallationConfig() *InstallationConfig {
	return &InstallationConfig{
		Serial: SerialConfig{
			Port:            ptrString("/dev/ttyACM0"),
			Options:         serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
			PrintPortStatus: ptrBool(false),
		},
		TickRateHz:          ptrFloat64(60),
		CanvasWidth:         ptrFloat64(1200),
		CanvasHeight:        ptrFloat64(900),
		CanvasScale:         ptrFloat64(25),
		GazeGain:            ptrFloat64(0.6),
		BlinkShuttingTime:   ptrFloat64(0.12),
		BlinkClosedTime:     ptrFloat64(0.08),
		BlinkOpeningTime:    ptrFloat64(0.18),
		BlinksPerSecond:     ptrFloat64(0.2),
		Filter:              ptrString(string(panel.FilterTriangle)),
		Upscale:             ptrInt(panel.DefaultUpscale),
		PadMissingPanels:    ptrBool(false),
		ReadbackWorkers:     ptrInt(1),
		ReadbackQueueLength: ptrInt(2),
		Panels: []PanelConfig{
			{Name: "small", Rows: 4, Cols: 4, X: 466, Y: -123, Rotation: 180},
			{Name: "large", Rows: 16, Cols: 16, X: 102, Y: -212},
			{Name: "medium", Rows: 8, Cols: 8, X: 38, Y: 92, Rotation: 180},
			{Name: "wide", Rows: 12, Cols: 12, X: 453, Y: 124},
		},
	}
}

// LoadInstallationConfig loads a config from a .json, .yaml or .yml file.
// The file must be under 1MB. Omitted fields keep their Get* defaults.
func LoadInstallationConfig(path string) (*InstallationConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyInstallationConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *InstallationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadInstallationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the configuration. Every problem here would otherwise
// surface mid-run, so the binary refuses to start on any of them.
func (c *InstallationConfig) Validate() error {
	if hz := c.GetTickRateHz(); !(hz > 0) || math.IsInf(hz, 0) {
		return fmt.Errorf("tick_rate_hz must be positive, got %v", hz)
	}
	if c.GetCanvasWidth() <= 0 || c.GetCanvasHeight() <= 0 {
		return fmt.Errorf("canvas must have positive size, got %vx%v", c.GetCanvasWidth(), c.GetCanvasHeight())
	}
	if c.GetCanvasScale() <= 0 {
		return fmt.Errorf("canvas_scale must be positive, got %v", c.GetCanvasScale())
	}
	if g := c.GetGazeGain(); !(g > 0 && g < 1) {
		return fmt.Errorf("gaze_gain must be in (0,1), got %v", g)
	}
	if c.ReferenceSpan != nil && !(*c.ReferenceSpan > 0) {
		return fmt.Errorf("reference_span must be positive, got %v", *c.ReferenceSpan)
	}
	if err := c.GetBlinkTiming().Validate(); err != nil {
		return err
	}
	if _, err := panel.ParseFilter(c.GetFilter()); err != nil {
		return err
	}
	if c.GetUpscale() <= 0 {
		return fmt.Errorf("upscale must be positive, got %d", c.GetUpscale())
	}
	if c.GetReadbackWorkers() <= 0 || c.GetReadbackQueueLength() < 0 {
		return fmt.Errorf("readback needs at least one worker and a non-negative queue, got %d/%d",
			c.GetReadbackWorkers(), c.GetReadbackQueueLength())
	}
	if _, err := c.Serial.Options.Normalize(); err != nil {
		return fmt.Errorf("serial options: %w", err)
	}
	if len(c.Panels) == 0 {
		return fmt.Errorf("at least one panel is required")
	}
	if _, err := c.PanelConfigs(); err != nil {
		return err
	}
	return nil
}

// GetSerialPort returns the serial device path or the default.
func (c *InstallationConfig) GetSerialPort() string {
	if c.Serial.Port == nil || *c.Serial.Port == "" {
		return "/dev/ttyACM0"
	}
	return *c.Serial.Port
}

// GetPrintPortStatus reports whether link activity is logged.
func (c *InstallationConfig) GetPrintPortStatus() bool {
	return c.Serial.PrintPortStatus != nil && *c.Serial.PrintPortStatus
}

// GetTickRateHz returns the tick rate or the default of 60.
func (c *InstallationConfig) GetTickRateHz() float64 {
	if c.TickRateHz == nil {
		return 60
	}
	return *c.TickRateHz
}

// GetTickInterval returns the tick period.
func (c *InstallationConfig) GetTickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.GetTickRateHz())
}

// GetCanvasWidth returns the canvas width or the default.
func (c *InstallationConfig) GetCanvasWidth() float64 {
	if c.CanvasWidth == nil {
		return 1200
	}
	return *c.CanvasWidth
}

// GetCanvasHeight returns the canvas height or the default.
func (c *InstallationConfig) GetCanvasHeight() float64 {
	if c.CanvasHeight == nil {
		return 900
	}
	return *c.CanvasHeight
}

// GetCanvasScale returns canvas units per physical unit.
func (c *InstallationConfig) GetCanvasScale() float64 {
	if c.CanvasScale == nil {
		return 25
	}
	return *c.CanvasScale
}

// GetGazeGain returns the smoothing gain or the default.
func (c *InstallationConfig) GetGazeGain() float64 {
	if c.GazeGain == nil {
		return 0.6
	}
	return *c.GazeGain
}

// GetReferenceSpan returns the canvas distance at which the pupil reaches
// full travel, defaulting to half the larger canvas dimension.
func (c *InstallationConfig) GetReferenceSpan() float64 {
	if c.ReferenceSpan == nil {
		return math.Max(c.GetCanvasWidth(), c.GetCanvasHeight()) / 2
	}
	return *c.ReferenceSpan
}

// GetBlinkTiming returns the blink durations and rate.
func (c *InstallationConfig) GetBlinkTiming() blink.Timing {
	t := blink.DefaultTiming()
	if c.BlinkShuttingTime != nil {
		t.ShuttingTime = *c.BlinkShuttingTime
	}
	if c.BlinkClosedTime != nil {
		t.ClosedTime = *c.BlinkClosedTime
	}
	if c.BlinkOpeningTime != nil {
		t.OpeningTime = *c.BlinkOpeningTime
	}
	if c.BlinksPerSecond != nil {
		t.BlinksPerSecond = *c.BlinksPerSecond
	}
	return t
}

// GetFilter returns the resampling filter name or the default.
func (c *InstallationConfig) GetFilter() string {
	if c.Filter == nil || *c.Filter == "" {
		return string(panel.FilterTriangle)
	}
	return *c.Filter
}

// GetUpscale returns the render oversampling factor.
func (c *InstallationConfig) GetUpscale() int {
	if c.Upscale == nil {
		return panel.DefaultUpscale
	}
	return *c.Upscale
}

// GetPadMissingPanels reports whether panels without a frame are sent dark.
func (c *InstallationConfig) GetPadMissingPanels() bool {
	return c.PadMissingPanels != nil && *c.PadMissingPanels
}

// GetReadbackWorkers returns the number of readback goroutines per panel.
func (c *InstallationConfig) GetReadbackWorkers() int {
	if c.ReadbackWorkers == nil {
		return 1
	}
	return *c.ReadbackWorkers
}

// GetReadbackQueueLength returns the readback queue depth per panel.
func (c *InstallationConfig) GetReadbackQueueLength() int {
	if c.ReadbackQueueLength == nil {
		return 2
	}
	return *c.ReadbackQueueLength
}

// PanelConfigs resolves the panel list into validated panel.Config values,
// in bus order.
func (c *InstallationConfig) PanelConfigs() ([]panel.Config, error) {
	out := make([]panel.Config, 0, len(c.Panels))
	for i, p := range c.Panels {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("panel-%d", i)
		}
		rot, err := packet.ParseRotation(p.Rotation)
		if err != nil {
			return nil, fmt.Errorf("panel %q: %w", name, err)
		}
		filterName := c.GetFilter()
		if p.Filter != nil {
			filterName = *p.Filter
		}
		filter, err := panel.ParseFilter(filterName)
		if err != nil {
			return nil, fmt.Errorf("panel %q: %w", name, err)
		}
		upscale := c.GetUpscale()
		if p.Upscale != nil {
			upscale = *p.Upscale
		}
		width, height := float64(p.Cols), float64(p.Rows)
		if p.Width != nil {
			width = *p.Width
		}
		if p.Height != nil {
			height = *p.Height
		}

		pc := panel.Config{
			Name:          name,
			Rows:          p.Rows,
			Cols:          p.Cols,
			Upscale:       upscale,
			Rotation:      rot,
			Filter:        filter,
			Position:      r2.Vec{X: p.X, Y: p.Y},
			Physical:      r2.Vec{X: width, Y: height},
			CanvasScale:   c.GetCanvasScale(),
			Gain:          c.GetGazeGain(),
			ReferenceSpan: c.GetReferenceSpan(),
			Blink:         c.GetBlinkTiming(),
		}
		if err := pc.Validate(); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, nil
}
