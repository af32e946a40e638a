package camera

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Position is the side of the body a capture device faces.
type Position int

const (
	PositionUnspecified Position = iota
	PositionBack
	PositionFront
)

func (p Position) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	default:
		return "unspecified"
	}
}

// ParsePosition accepts "back", "front" or "unspecified" (or empty).
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back":
		return PositionBack, nil
	case "front":
		return PositionFront, nil
	case "", "unspecified":
		return PositionUnspecified, nil
	default:
		return PositionUnspecified, fmt.Errorf("unknown device position: %q", s)
	}
}

// DeviceType names the kind of lens module.
type DeviceType string

const (
	WideAngle  DeviceType = "wide_angle"
	DualCamera DeviceType = "dual"
	TrueDepth  DeviceType = "true_depth"
)

// FlashMode is the flash behavior requested for a capture.
type FlashMode int

const (
	FlashOff FlashMode = iota
	FlashOn
	FlashAuto
)

func (f FlashMode) String() string {
	switch f {
	case FlashOn:
		return "on"
	case FlashAuto:
		return "auto"
	default:
		return "off"
	}
}

// ParseFlashMode accepts "off", "on" or "auto".
func ParseFlashMode(s string) (FlashMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return FlashOff, nil
	case "on":
		return FlashOn, nil
	case "auto":
		return FlashAuto, nil
	default:
		return FlashOff, fmt.Errorf("unknown flash mode: %q", s)
	}
}

// Codec is the still image encoding. CodecDefault lets the output pick its own format.
type Codec string

const (
	CodecDefault Codec = ""
	CodecHEVC    Codec = "hevc"
	CodecJPEG    Codec = "jpeg"
	CodecPNG     Codec = "png"
)

// PixelFormat names an uncompressed preview buffer layout, e.g. "BGRA".
type PixelFormat string

// Quality trades capture latency against image quality.
type Quality int

const (
	QualitySpeed Quality = iota
	QualityBalanced
	QualityHigh
)

// Orientation of the video connection feeding the photo output.
type Orientation int

const (
	Portrait Orientation = iota
	PortraitUpsideDown
	LandscapeRight
	LandscapeLeft
)

// Preset selects the session's output resolution class.
type Preset string

const (
	PresetPhoto Preset = "photo"
	PresetHigh  Preset = "high"
)

// AuthorizationStatus is the current camera permission.
type AuthorizationStatus int

const (
	NotDetermined AuthorizationStatus = iota
	Restricted
	Denied
	Authorized
)

func (a AuthorizationStatus) String() string {
	switch a {
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return "not_determined"
	}
}

// Authorizer reports and requests camera permission.
type Authorizer interface {
	Status() AuthorizationStatus
	// RequestAccess blocks until the user decides or ctx is done.
	RequestAccess(ctx context.Context) (bool, error)
}

// Device is one discoverable capture device.
type Device interface {
	ID() string
	Position() Position
	Type() DeviceType
	HasFlash() bool
}

// Input is a device opened for attachment to a session.
type Input interface {
	Device() Device
}

// Connection is the link between the session's video input and an output.
type Connection interface {
	SetOrientation(o Orientation)
}

// Settings describe one capture request. UniqueID is assigned by the output
// when the settings are created and is never reused by that output.
type Settings struct {
	UniqueID                int64
	Codec                   Codec
	FlashMode               FlashMode
	AvailablePreviewFormats []PixelFormat
	PreviewFormat           PixelFormat
	Quality                 Quality
}

// ResolvedSettings is what the output actually does for a request.
type ResolvedSettings struct {
	UniqueID          int64
	MaxProcessingTime time.Duration
	FlashFired        bool
}

// Delegate receives the asynchronous callbacks for exactly one capture request.
// Callbacks arrive on a backend goroutine in this order:
// WillBeginCapture, WillCapturePhoto, DidFinishProcessing, DidFinishCapture.
type Delegate interface {
	WillBeginCapture(r ResolvedSettings)
	WillCapturePhoto(r ResolvedSettings)
	DidFinishProcessing(data []byte, err error)
	DidFinishCapture(r ResolvedSettings, err error)
}

// PhotoOutput is the sink that produces one still image per request.
type PhotoOutput interface {
	AvailableCodecs() []Codec
	SetMaxQuality(q Quality)
	// Connection returns the active video connection, if the output is attached.
	Connection() (Connection, bool)
	NewSettings(codec Codec) Settings
	// Capture returns immediately; results are delivered to d.
	Capture(s Settings, d Delegate)
}

// Session coordinates one input and one photo output.
type Session interface {
	BeginConfiguration()
	CommitConfiguration()
	SetPreset(p Preset)
	NewInput(d Device) (Input, error)
	CanAddInput(in Input) bool
	AddInput(in Input)
	CanAddOutput(out PhotoOutput) bool
	AddOutput(out PhotoOutput)
	StartRunning()
	IsRunning() bool
	Close() error
}

// Backend is a platform camera stack.
type Backend interface {
	// DefaultDevice returns the preferred device of kind t facing pos.
	DefaultDevice(t DeviceType, pos Position) (Device, bool)
	NewSession() Session
	NewPhotoOutput() PhotoOutput
}

// RequestIDs hands out monotonically increasing request identifiers.
type RequestIDs struct {
	last atomic.Int64
}

// Next returns the next identifier, starting at 1.
func (r *RequestIDs) Next() int64 {
	return r.last.Add(1)
}
