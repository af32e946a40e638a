package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Valter4578/MoonEnhancer/internal/hw/camera"
	"gopkg.in/yaml.v3"
)

// DeviceConfig describes one capture device.
type DeviceConfig struct {
	ID       string `yaml:"id"`        // free-form name, defaults to "video<index>"
	Index    int    `yaml:"index"`     // OpenCV / V4L2 device index
	Position string `yaml:"position"`  // "back" or "front"
	Type     string `yaml:"type"`      // "wide_angle", "dual", "true_depth"
	FlashPin int    `yaml:"flash_pin"` // GPIO pin (BCM) driving the flash SYNC line. 0 = no flash.
	WidthPx  int    `yaml:"width_px"`  // requested frame width, 0 = driver default
	HeightPx int    `yaml:"height_px"` // requested frame height, 0 = driver default
}

// CameraConfig selects the camera backend and how access is granted.
// Type selects a concrete implementation ("mock" or "opencv").
type CameraConfig struct {
	Type    string         `yaml:"type"`   // "mock" or "opencv"
	Access  string         `yaml:"access"` // "prompt", "granted" or "denied"
	Devices []DeviceConfig `yaml:"devices"`
}

// CaptureConfig tunes photo capture.
type CaptureConfig struct {
	FlashCueMs    int    `yaml:"flash_cue_ms"`    // how long the screen-flash cue stays up
	FlashMode     string `yaml:"flash_mode"`      // initial flash mode: off, on, auto
	JPEGQuality   int    `yaml:"jpeg_quality"`    // 1-100
	PreviewSizePx int    `yaml:"preview_size_px"` // longest preview edge
}

// FlashConfig describes the flash trigger pulse.
type FlashConfig struct {
	PulseMs int `yaml:"pulse_ms"` // SYNC line hold time (ms)
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Capture  CaptureConfig  `yaml:"capture"`
	Flash    FlashConfig    `yaml:"flash"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// MaxConfigFileBytes caps the size of a config file.
const MaxConfigFileBytes = 1 << 20

// Camera backends and access modes.
const (
	CameraMock   = "mock"
	CameraOpenCV = "opencv"

	AccessPrompt  = "prompt"
	AccessGranted = "granted"
	AccessDenied  = "denied"
)

// ValidateConfigPath rejects paths that are empty, contain "..", do not end
// in ".yaml" or do not live directly in a "configs" directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == filepath.Separator }) {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain \"..\"", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	switch cfg.Camera.Type {
	case CameraMock, CameraOpenCV:
	case "":
		return fmt.Errorf("camera.type is required")
	default:
		return fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}

	switch cfg.Camera.Access {
	case "":
		cfg.Camera.Access = AccessPrompt
	case AccessPrompt, AccessGranted, AccessDenied:
	default:
		return fmt.Errorf("camera.access must be prompt, granted or denied, got %q", cfg.Camera.Access)
	}

	if len(cfg.Camera.Devices) == 0 {
		if cfg.Camera.Type == CameraOpenCV {
			return fmt.Errorf("camera.devices must list at least one device for %s", CameraOpenCV)
		}
		cfg.Camera.Devices = []DeviceConfig{{Position: "back"}}
	}
	seen := map[string]bool{}
	for i := range cfg.Camera.Devices {
		d := &cfg.Camera.Devices[i]
		if d.Index < 0 {
			return fmt.Errorf("camera.devices[%d].index must be >= 0, got %d", i, d.Index)
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("video%d", d.Index)
		}
		if seen[d.ID] {
			return fmt.Errorf("camera.devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
		if d.Position == "" {
			d.Position = "back"
		}
		if _, err := camera.ParsePosition(d.Position); err != nil {
			return fmt.Errorf("camera.devices[%d]: %w", i, err)
		}
		if d.Type == "" {
			d.Type = string(camera.WideAngle)
		}
		switch camera.DeviceType(d.Type) {
		case camera.WideAngle, camera.DualCamera, camera.TrueDepth:
		default:
			return fmt.Errorf("camera.devices[%d]: unknown device type %q", i, d.Type)
		}
		if d.FlashPin < 0 {
			return fmt.Errorf("camera.devices[%d].flash_pin must be >= 0, got %d", i, d.FlashPin)
		}
		if d.WidthPx < 0 || d.HeightPx < 0 {
			return fmt.Errorf("camera.devices[%d]: frame size must be >= 0", i)
		}
	}

	if _, err := camera.ParseFlashMode(cfg.Capture.FlashMode); err != nil {
		return fmt.Errorf("capture.flash_mode: %w", err)
	}
	if cfg.Capture.FlashCueMs <= 0 {
		cfg.Capture.FlashCueMs = 300 // 300ms screen-flash cue
	}
	if cfg.Capture.JPEGQuality == 0 {
		cfg.Capture.JPEGQuality = 95
	}
	if cfg.Capture.JPEGQuality < 1 || cfg.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality must be between 1 and 100, got %d", cfg.Capture.JPEGQuality)
	}
	if cfg.Capture.PreviewSizePx <= 0 {
		cfg.Capture.PreviewSizePx = 320
	}

	if cfg.Flash.PulseMs <= 0 {
		cfg.Flash.PulseMs = 20 // 20ms SYNC pulse
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	return nil
}

// FlashCue returns how long the screen-flash cue stays raised per shutter.
func (c *Config) FlashCue() time.Duration {
	return time.Duration(c.Capture.FlashCueMs) * time.Millisecond
}

// FlashPulse returns the flash SYNC hold duration.
func (c *Config) FlashPulse() time.Duration {
	return time.Duration(c.Flash.PulseMs) * time.Millisecond
}

// FlashMode returns the configured initial flash mode.
func (c *Config) FlashMode() camera.FlashMode {
	m, _ := camera.ParseFlashMode(c.Capture.FlashMode)
	return m
}

// ParsedPosition returns the parsed device position.
func (d DeviceConfig) ParsedPosition() camera.Position {
	p, _ := camera.ParsePosition(d.Position)
	return p
}

// HasFlash reports whether a flash line is wired for this device.
func (d DeviceConfig) HasFlash() bool {
	return d.FlashPin > 0
}
