// Package opencv is a camera backend for V4L2/USB cameras built on GoCV.
//
// A device is opened when its input is created and read frame by frame when a
// capture is issued. Captures are serialized on the device; each request is
// answered on its own goroutine.
package opencv

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Valter4578/MoonEnhancer/internal/debug"
	"github.com/Valter4578/MoonEnhancer/internal/hw/camera"
	"github.com/Valter4578/MoonEnhancer/internal/hw/flash"
	"gocv.io/x/gocv"
)

// DeviceSpec describes one camera attached to the host.
type DeviceSpec struct {
	ID       string
	Index    int // /dev/video<Index>
	Position camera.Position
	Type     camera.DeviceType
	Width    int // 0 = driver default
	Height   int
	Flash    flash.Unit // nil when no flash is wired
}

// Options tune frame encoding.
type Options struct {
	JPEGQuality int // 1-100, default 95
	// AutoFlashBelow is the mean gray level (0-255) under which FlashAuto fires.
	AutoFlashBelow float64
	// Skip is the number of buffered frames dropped before a still is read.
	Skip           int
	PreviewFormats []camera.PixelFormat
}

func (o Options) withDefaults() Options {
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = 95
	}
	if o.AutoFlashBelow <= 0 {
		o.AutoFlashBelow = 60
	}
	if o.Skip <= 0 {
		o.Skip = 2
	}
	if o.PreviewFormats == nil {
		o.PreviewFormats = []camera.PixelFormat{"BGR"}
	}
	return o
}

var (
	ErrNotOpenCVDevice = errors.New("opencv: device does not belong to this backend")
	ErrOpenFailed      = errors.New("opencv: cannot open video device")
	ErrNoFrame         = errors.New("opencv: no frame read from device")
	ErrNotAttached     = errors.New("opencv: output is not attached to a running session")
)

// Processing estimates reported as MaxProcessingTime per codec.
var processingEstimate = map[camera.Codec]time.Duration{
	camera.CodecJPEG: 30 * time.Millisecond,
	camera.CodecPNG:  120 * time.Millisecond,
}

// Backend exposes the configured devices.
type Backend struct {
	opts    Options
	devices []*device
}

// NewBackend returns a backend over specs. Devices are not opened until a
// session creates an input for them.
func NewBackend(specs []DeviceSpec, opts Options) *Backend {
	b := &Backend{opts: opts.withDefaults()}
	for _, s := range specs {
		if s.ID == "" {
			s.ID = fmt.Sprintf("video%d", s.Index)
		}
		if s.Type == "" {
			s.Type = camera.WideAngle
		}
		b.devices = append(b.devices, &device{spec: s})
	}
	return b
}

func (b *Backend) DefaultDevice(t camera.DeviceType, pos camera.Position) (camera.Device, bool) {
	for _, d := range b.devices {
		if d.spec.Type == t && (pos == camera.PositionUnspecified || d.spec.Position == pos) {
			return d, true
		}
	}
	return nil, false
}

func (b *Backend) NewSession() camera.Session {
	return &session{preset: camera.PresetPhoto}
}

func (b *Backend) NewPhotoOutput() camera.PhotoOutput {
	return &photoOutput{opts: b.opts}
}

type device struct {
	spec DeviceSpec
}

func (d *device) ID() string                { return d.spec.ID }
func (d *device) Position() camera.Position { return d.spec.Position }
func (d *device) Type() camera.DeviceType   { return d.spec.Type }
func (d *device) HasFlash() bool            { return d.spec.Flash != nil }

// input owns the open VideoCapture. mu serializes frame reads.
type input struct {
	dev *device

	mu sync.Mutex
	vc *gocv.VideoCapture
}

func (in *input) Device() camera.Device { return in.dev }

// read drops skip buffered frames and returns the next one. The caller
// closes the returned Mat.
func (in *input) read(skip int) (gocv.Mat, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.vc == nil {
		return gocv.Mat{}, ErrNoFrame
	}
	if skip > 0 {
		in.vc.Grab(skip)
	}
	frame := gocv.NewMat()
	if ok := in.vc.Read(&frame); !ok || frame.Empty() {
		frame.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrNoFrame, in.dev.spec.ID)
	}
	return frame, nil
}

func (in *input) close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.vc == nil {
		return nil
	}
	err := in.vc.Close()
	in.vc = nil
	return err
}

type session struct {
	mu      sync.Mutex
	preset  camera.Preset
	input   *input
	output  *photoOutput
	running bool
}

func (s *session) BeginConfiguration() {
	debug.Trace("OpenCV: begin configuration")
}

func (s *session) CommitConfiguration() {
	debug.Trace("OpenCV: commit configuration")
}

func (s *session) SetPreset(p camera.Preset) {
	s.mu.Lock()
	s.preset = p
	s.mu.Unlock()
}

// NewInput opens the device. PresetHigh asks for 1080p when the device spec
// leaves the size to the driver.
func (s *session) NewInput(d camera.Device) (camera.Input, error) {
	dev, ok := d.(*device)
	if !ok {
		return nil, ErrNotOpenCVDevice
	}
	vc, err := gocv.OpenVideoCapture(dev.spec.Index)
	if err != nil {
		return nil, fmt.Errorf("%w %d: %w", ErrOpenFailed, dev.spec.Index, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("%w %d", ErrOpenFailed, dev.spec.Index)
	}

	s.mu.Lock()
	preset := s.preset
	s.mu.Unlock()

	w, h := dev.spec.Width, dev.spec.Height
	if w == 0 && h == 0 && preset == camera.PresetHigh {
		w, h = 1920, 1080
	}
	if w > 0 && h > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(w))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(h))
	}
	debug.Verbose("OpenCV: opened %s (index %d, %dx%d requested)", dev.spec.ID, dev.spec.Index, w, h)
	return &input{dev: dev, vc: vc}, nil
}

func (s *session) CanAddInput(in camera.Input) bool {
	_, ok := in.(*input)
	s.mu.Lock()
	defer s.mu.Unlock()
	return ok && s.input == nil
}

func (s *session) AddInput(in camera.Input) {
	s.mu.Lock()
	s.input = in.(*input)
	s.mu.Unlock()
}

func (s *session) CanAddOutput(out camera.PhotoOutput) bool {
	o, ok := out.(*photoOutput)
	s.mu.Lock()
	defer s.mu.Unlock()
	return ok && s.output == nil && !o.attachedTo()
}

func (s *session) AddOutput(out camera.PhotoOutput) {
	o := out.(*photoOutput)
	s.mu.Lock()
	s.output = o
	s.mu.Unlock()
	o.attach(s)
}

// StartRunning reads one frame to prove the device delivers.
func (s *session) StartRunning() {
	s.mu.Lock()
	in := s.input
	s.mu.Unlock()
	if in == nil {
		return
	}

	frame, err := in.read(0)
	if err != nil {
		debug.Error(fmt.Errorf("start session: %w", err))
		return
	}
	debug.Verbose("OpenCV: first frame %dx%d", frame.Cols(), frame.Rows())
	frame.Close()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

func (s *session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *session) currentInput() (*input, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input, s.running && s.input != nil
}

func (s *session) Close() error {
	s.mu.Lock()
	in := s.input
	s.running = false
	s.mu.Unlock()
	if in == nil {
		return nil
	}
	return in.close()
}

type connection struct{ o *photoOutput }

func (c connection) SetOrientation(o camera.Orientation) {
	c.o.mu.Lock()
	c.o.orientation = o
	c.o.mu.Unlock()
}

type photoOutput struct {
	opts Options
	ids  camera.RequestIDs

	mu          sync.Mutex
	session     *session
	maxQuality  camera.Quality
	orientation camera.Orientation
}

func (o *photoOutput) attach(s *session) {
	o.mu.Lock()
	o.session = s
	o.mu.Unlock()
}

func (o *photoOutput) attachedTo() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

// AvailableCodecs lists what gocv can encode. HEVC stills are not offered.
func (o *photoOutput) AvailableCodecs() []camera.Codec {
	return []camera.Codec{camera.CodecJPEG, camera.CodecPNG}
}

func (o *photoOutput) SetMaxQuality(q camera.Quality) {
	o.mu.Lock()
	o.maxQuality = q
	o.mu.Unlock()
}

func (o *photoOutput) Connection() (camera.Connection, bool) {
	if !o.attachedTo() {
		return nil, false
	}
	return connection{o: o}, true
}

func (o *photoOutput) NewSettings(codec camera.Codec) camera.Settings {
	return camera.Settings{
		UniqueID:                o.ids.Next(),
		Codec:                   codec,
		AvailablePreviewFormats: slices.Clone(o.opts.PreviewFormats),
	}
}

func (o *photoOutput) Capture(s camera.Settings, d camera.Delegate) {
	go o.run(s, d)
}

func (o *photoOutput) run(s camera.Settings, d camera.Delegate) {
	o.mu.Lock()
	sess, orientation, maxQuality := o.session, o.orientation, o.maxQuality
	o.mu.Unlock()

	codec := resolveCodec(s.Codec)
	quality := min(s.Quality, maxQuality)
	r := camera.ResolvedSettings{UniqueID: s.UniqueID}
	if quality == camera.QualityHigh {
		r.MaxProcessingTime = processingEstimate[codec]
	}

	var in *input
	ok := false
	if sess != nil {
		in, ok = sess.currentInput()
	}
	if !ok {
		d.WillBeginCapture(r)
		d.DidFinishProcessing(nil, ErrNotAttached)
		d.DidFinishCapture(r, ErrNotAttached)
		return
	}

	unit := in.dev.spec.Flash
	fire := false
	switch s.FlashMode {
	case camera.FlashOn:
		fire = unit != nil
	case camera.FlashAuto:
		if unit != nil {
			level, err := o.meter(in)
			if err != nil {
				debug.Verbose("OpenCV: metering failed: %v", err)
			}
			fire = err == nil && level < o.opts.AutoFlashBelow
			debug.Verbose("OpenCV: request %d gray level %.1f, flash=%t", s.UniqueID, level, fire)
		}
	}
	r.FlashFired = fire

	d.WillBeginCapture(r)
	d.WillCapturePhoto(r)
	if fire {
		if err := unit.Fire(); err != nil {
			debug.Error(fmt.Errorf("request %d: fire flash: %w", s.UniqueID, err))
			r.FlashFired = false
		}
	}

	data, err := o.still(in, codec, orientation)
	d.DidFinishProcessing(data, err)
	d.DidFinishCapture(r, err)
}

// meter returns the mean gray level of the current scene.
func (o *photoOutput) meter(in *input) (float64, error) {
	frame, err := in.read(o.opts.Skip)
	if err != nil {
		return 0, err
	}
	defer frame.Close()
	return grayLevel(frame), nil
}

func (o *photoOutput) still(in *input, codec camera.Codec, orientation camera.Orientation) ([]byte, error) {
	frame, err := in.read(o.opts.Skip)
	if err != nil {
		return nil, err
	}
	defer frame.Close()

	if flag, ok := rotation(orientation); ok {
		rotated := gocv.NewMat()
		defer rotated.Close()
		gocv.Rotate(frame, &rotated, flag)
		return encode(rotated, codec, o.opts.JPEGQuality)
	}
	return encode(frame, codec, o.opts.JPEGQuality)
}

// resolveCodec maps the requested codec onto one gocv can write.
func resolveCodec(c camera.Codec) camera.Codec {
	if c == camera.CodecPNG {
		return camera.CodecPNG
	}
	return camera.CodecJPEG
}

// rotation maps a connection orientation onto the rotation applied to a
// landscape sensor frame. LandscapeRight is the sensor's native orientation.
func rotation(o camera.Orientation) (gocv.RotateFlag, bool) {
	switch o {
	case camera.Portrait:
		return gocv.Rotate90Clockwise, true
	case camera.PortraitUpsideDown:
		return gocv.Rotate90CounterClockwise, true
	case camera.LandscapeLeft:
		return gocv.Rotate180Clockwise, true
	default:
		return 0, false
	}
}

func encode(img gocv.Mat, codec camera.Codec, jpegQuality int) ([]byte, error) {
	var (
		buf *gocv.NativeByteBuffer
		err error
	)
	if codec == camera.CodecPNG {
		buf, err = gocv.IMEncode(gocv.PNGFileExt, img)
	} else {
		buf, err = gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, jpegQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", codec, err)
	}
	defer buf.Close()
	// GetBytes aliases C memory released by Close.
	return slices.Clone(buf.GetBytes()), nil
}

func grayLevel(img gocv.Mat) float64 {
	if img.Channels() == 1 {
		return img.Mean().Val1
	}
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gray.Mean().Val1
}
