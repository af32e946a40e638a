package camera

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"slices"
	"sync"
	"time"

	"github.com/Valter4578/MoonEnhancer/internal/debug"
	"github.com/disintegration/imaging"
)

// MockAuthorizer is a scriptable Authorizer for development and tests.
type MockAuthorizer struct {
	mu       sync.Mutex
	status   AuthorizationStatus
	grant    bool
	decision chan bool
	requests int
}

// NewMockAuthorizer starts in status; an undetermined request resolves to grant.
func NewMockAuthorizer(status AuthorizationStatus, grant bool) *MockAuthorizer {
	return &MockAuthorizer{status: status, grant: grant}
}

// NewPromptingMockAuthorizer starts undetermined and blocks RequestAccess until Decide.
func NewPromptingMockAuthorizer() *MockAuthorizer {
	return &MockAuthorizer{status: NotDetermined, decision: make(chan bool, 1)}
}

func (m *MockAuthorizer) Status() AuthorizationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MockAuthorizer) RequestAccess(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.requests++
	status, grant, decision := m.status, m.grant, m.decision
	m.mu.Unlock()

	if status != NotDetermined {
		return status == Authorized, nil
	}
	if decision != nil {
		select {
		case grant = <-decision:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	m.mu.Lock()
	if grant {
		m.status = Authorized
	} else {
		m.status = Denied
	}
	m.mu.Unlock()
	return grant, nil
}

// Decide resolves a pending prompt.
func (m *MockAuthorizer) Decide(granted bool) {
	m.decision <- granted
}

// Requests returns how many times RequestAccess was called.
func (m *MockAuthorizer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// MockDevice is a fake capture device.
type MockDevice struct {
	IDValue string
	Pos     Position
	Kind    DeviceType
	Flash   bool
}

func (d *MockDevice) ID() string         { return d.IDValue }
func (d *MockDevice) Position() Position { return d.Pos }
func (d *MockDevice) Type() DeviceType   { return d.Kind }
func (d *MockDevice) HasFlash() bool     { return d.Flash }

// BackWideAngle is the usual rear module of a phone-style camera.
func BackWideAngle(flash bool) *MockDevice {
	return &MockDevice{IDValue: "mock-back-wide", Pos: PositionBack, Kind: WideAngle, Flash: flash}
}

// MockBackend is an in-memory camera stack. Its exported knobs must be set
// before the session that uses them is configured.
type MockBackend struct {
	InputErr       error // NewInput fails
	RejectInput    bool  // CanAddInput reports false
	RejectOutput   bool  // CanAddOutput reports false
	FailStart      bool  // StartRunning leaves the session stopped
	Codecs         []Codec
	PreviewFormats []PixelFormat
	ProcessingTime time.Duration
	// Frame produces the encoded bytes for request id. nil data means no photo.
	Frame func(id int64) ([]byte, error)
	// Hold parks every capture until Release is called for its id.
	Hold bool

	mu      sync.Mutex
	devices []*MockDevice
	session *MockSession
	output  *MockOutput
}

// NewMockBackend returns a backend exposing devices, producing JPEG test frames.
func NewMockBackend(devices ...*MockDevice) *MockBackend {
	return &MockBackend{
		Codecs:         []Codec{CodecJPEG},
		PreviewFormats: []PixelFormat{"BGRA", "420f"},
		Frame:          TestFrame,
		devices:        devices,
	}
}

func (b *MockBackend) DefaultDevice(t DeviceType, pos Position) (Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d.Kind == t && (pos == PositionUnspecified || d.Pos == pos) {
			return d, true
		}
	}
	return nil, false
}

func (b *MockBackend) NewSession() Session {
	s := &MockSession{backend: b}
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
	return s
}

func (b *MockBackend) NewPhotoOutput() PhotoOutput {
	o := &MockOutput{backend: b, held: make(map[int64]chan frameResult)}
	b.mu.Lock()
	b.output = o
	b.mu.Unlock()
	return o
}

// Session returns the most recently created session.
func (b *MockBackend) Session() *MockSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Output returns the most recently created photo output.
func (b *MockBackend) Output() *MockOutput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output
}

type mockInput struct{ device Device }

func (in mockInput) Device() Device { return in.device }

// MockSession records configuration calls.
type MockSession struct {
	backend *MockBackend

	mu      sync.Mutex
	begins  int
	commits int
	starts  int
	preset  Preset
	inputs  []Input
	outputs []PhotoOutput
	running bool
	closed  bool
}

func (s *MockSession) BeginConfiguration() {
	s.mu.Lock()
	s.begins++
	s.mu.Unlock()
}

func (s *MockSession) CommitConfiguration() {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
}

func (s *MockSession) SetPreset(p Preset) {
	s.mu.Lock()
	s.preset = p
	s.mu.Unlock()
}

func (s *MockSession) NewInput(d Device) (Input, error) {
	if s.backend.InputErr != nil {
		return nil, s.backend.InputErr
	}
	return mockInput{device: d}, nil
}

func (s *MockSession) CanAddInput(in Input) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.backend.RejectInput && len(s.inputs) == 0
}

func (s *MockSession) AddInput(in Input) {
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()
}

func (s *MockSession) CanAddOutput(out PhotoOutput) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.backend.RejectOutput && !slices.Contains(s.outputs, out)
}

func (s *MockSession) AddOutput(out PhotoOutput) {
	s.mu.Lock()
	s.outputs = append(s.outputs, out)
	s.mu.Unlock()
	if mo, ok := out.(*MockOutput); ok {
		mo.attach()
	}
}

func (s *MockSession) StartRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if !s.backend.FailStart && len(s.inputs) > 0 {
		s.running = true
	}
}

func (s *MockSession) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.closed
}

func (s *MockSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Begins, Commits and Starts count configuration transactions and start calls.
func (s *MockSession) Begins() int  { s.mu.Lock(); defer s.mu.Unlock(); return s.begins }
func (s *MockSession) Commits() int { s.mu.Lock(); defer s.mu.Unlock(); return s.commits }
func (s *MockSession) Starts() int  { s.mu.Lock(); defer s.mu.Unlock(); return s.starts }

func (s *MockSession) Preset() Preset { s.mu.Lock(); defer s.mu.Unlock(); return s.preset }
func (s *MockSession) Inputs() int    { s.mu.Lock(); defer s.mu.Unlock(); return len(s.inputs) }
func (s *MockSession) Outputs() int   { s.mu.Lock(); defer s.mu.Unlock(); return len(s.outputs) }

type frameResult struct {
	data []byte
	err  error
}

// MockOutput delivers frames from MockBackend.Frame on a goroutine per request.
type MockOutput struct {
	backend *MockBackend
	ids     RequestIDs
	wg      sync.WaitGroup

	mu          sync.Mutex
	attached    bool
	maxQuality  Quality
	orientation Orientation
	oriented    int
	captured    []Settings
	held        map[int64]chan frameResult
	flashes     int
}

type mockConnection struct{ o *MockOutput }

func (c mockConnection) SetOrientation(o Orientation) {
	c.o.mu.Lock()
	c.o.orientation = o
	c.o.oriented++
	c.o.mu.Unlock()
}

func (o *MockOutput) attach() {
	o.mu.Lock()
	o.attached = true
	o.mu.Unlock()
}

func (o *MockOutput) AvailableCodecs() []Codec {
	return slices.Clone(o.backend.Codecs)
}

func (o *MockOutput) SetMaxQuality(q Quality) {
	o.mu.Lock()
	o.maxQuality = q
	o.mu.Unlock()
}

func (o *MockOutput) Connection() (Connection, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.attached {
		return nil, false
	}
	return mockConnection{o: o}, true
}

func (o *MockOutput) NewSettings(codec Codec) Settings {
	return Settings{
		UniqueID:                o.ids.Next(),
		Codec:                   codec,
		AvailablePreviewFormats: slices.Clone(o.backend.PreviewFormats),
	}
}

func (o *MockOutput) Capture(s Settings, d Delegate) {
	o.mu.Lock()
	o.captured = append(o.captured, s)
	var hold chan frameResult
	if o.backend.Hold {
		hold = make(chan frameResult, 1)
		o.held[s.UniqueID] = hold
	}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(s, d, hold)
	}()
}

func (o *MockOutput) run(s Settings, d Delegate, hold chan frameResult) {
	r := ResolvedSettings{
		UniqueID:          s.UniqueID,
		MaxProcessingTime: o.backend.ProcessingTime,
		FlashFired:        s.FlashMode == FlashOn,
	}
	debug.Trace("Mock output: request %d started", s.UniqueID)
	d.WillBeginCapture(r)
	d.WillCapturePhoto(r)
	if r.FlashFired {
		o.mu.Lock()
		o.flashes++
		o.mu.Unlock()
	}

	var res frameResult
	if hold != nil {
		res = <-hold
	} else if o.backend.Frame != nil {
		res.data, res.err = o.backend.Frame(s.UniqueID)
	}
	if r.MaxProcessingTime > 0 {
		time.Sleep(r.MaxProcessingTime)
	}

	d.DidFinishProcessing(res.data, res.err)
	d.DidFinishCapture(r, res.err)
	debug.Trace("Mock output: request %d finished", s.UniqueID)
}

// Release completes a held request. It reports false if id is not held.
func (o *MockOutput) Release(id int64, data []byte, err error) bool {
	o.mu.Lock()
	ch, ok := o.held[id]
	delete(o.held, id)
	o.mu.Unlock()
	if !ok {
		return false
	}
	ch <- frameResult{data: data, err: err}
	return true
}

// Held returns the ids of requests waiting for Release, in issue order.
func (o *MockOutput) Held() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]int64, 0, len(o.held))
	for id := range o.held {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Wait blocks until every issued capture has delivered DidFinishCapture.
func (o *MockOutput) Wait() {
	o.wg.Wait()
}

// Captured returns the settings of every request, in issue order.
func (o *MockOutput) Captured() []Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.captured)
}

// Flashes returns how many captures fired the flash.
func (o *MockOutput) Flashes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flashes
}

// Orientation returns the last orientation set and how many times it was set.
func (o *MockOutput) Orientation() (Orientation, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.orientation, o.oriented
}

// MaxQuality returns the configured maximum quality prioritization.
func (o *MockOutput) MaxQuality() Quality {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxQuality
}

// ErrNoFrame is what NoFrame reports.
var ErrNoFrame = errors.New("mock: frame dropped")

// NoFrame is a Frame func that never produces data.
func NoFrame(int64) ([]byte, error) {
	return nil, ErrNoFrame
}

// TestFrame renders a small JPEG: a pale disc on a dark sky.
func TestFrame(id int64) ([]byte, error) {
	const w, h = 64, 48
	img := imaging.New(w, h, color.NRGBA{R: 10, G: 12, B: 30, A: 255})
	cx, cy, r := w/2, h/2, 14+int(id%4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				img.Set(x, y, color.NRGBA{R: 235, G: 232, B: 210, A: 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
