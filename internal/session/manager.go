// Package session sequences all interaction with the camera: authorization,
// configuration, start, and photo capture with per-request bookkeeping.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Valter4578/MoonEnhancer/internal/debug"
	"github.com/Valter4578/MoonEnhancer/internal/hw/camera"
)

// Phase is the session lifecycle.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseConfiguring
	PhaseConfigured
	PhaseFailed
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseConfiguring:
		return "configuring"
	case PhaseConfigured:
		return "configured"
	case PhaseFailed:
		return "failed"
	case PhaseRunning:
		return "running"
	default:
		return "uninitialized"
	}
}

// DefaultFlashCue is how long WillCapturePhoto stays true per shutter.
const DefaultFlashCue = 300 * time.Millisecond

// Options tune a Manager. Zero values select the defaults.
type Options struct {
	FlashCue    time.Duration      // default DefaultFlashCue
	DeviceType  camera.DeviceType  // default camera.WideAngle
	Preset      camera.Preset      // default camera.PresetPhoto
	Orientation camera.Orientation // default camera.Portrait
	FlashMode   camera.FlashMode   // initial flash mode
}

func (o Options) withDefaults() Options {
	if o.FlashCue <= 0 {
		o.FlashCue = DefaultFlashCue
	}
	if o.DeviceType == "" {
		o.DeviceType = camera.WideAngle
	}
	if o.Preset == "" {
		o.Preset = camera.PresetPhoto
	}
	return o
}

// Manager owns the camera session. All session, input, output and registry
// mutation happens on the session queue; all flag publication happens on the
// interaction queue.
type Manager struct {
	backend camera.Backend
	auth    camera.Authorizer
	opts    Options

	sessionQueue *queue
	interaction  *queue
	pub          *publisher

	authorized atomic.Bool

	// Owned by the session queue.
	session    camera.Session
	input      camera.Input
	output     camera.PhotoOutput
	phase      Phase
	configured bool
	running    bool
	flashMode  camera.FlashMode
	inFlight   *registry

	// Owned by the interaction queue.
	cues     int
	spinners int
}

// New creates a Manager over backend. Nothing touches the camera until
// CheckAuthorization succeeds and ConfigureSession runs.
func New(backend camera.Backend, auth camera.Authorizer, opts Options) *Manager {
	opts = opts.withDefaults()
	interaction := newQueue("interaction")
	m := &Manager{
		backend:      backend,
		auth:         auth,
		opts:         opts,
		sessionQueue: newQueue("session"),
		interaction:  interaction,
		pub:          newPublisher(interaction),
		session:      backend.NewSession(),
		output:       backend.NewPhotoOutput(),
		flashMode:    opts.FlashMode,
		inFlight:     newRegistry(),
	}
	if opts.FlashMode != camera.FlashOff {
		m.pub.publish(func(s *State) { s.FlashMode = opts.FlashMode })
	}
	return m
}

// CheckAuthorization reports whether camera access is granted, prompting if
// the decision is still open. It blocks until the prompt resolves or ctx is done.
func (m *Manager) CheckAuthorization(ctx context.Context) bool {
	status := m.auth.Status()
	ok := status == camera.Authorized
	if status == camera.NotDetermined {
		granted, err := m.auth.RequestAccess(ctx)
		if err != nil {
			debug.Error(fmt.Errorf("request camera access: %w", err))
		}
		ok = granted && err == nil
	}
	m.authorized.Store(ok)
	if !ok {
		debug.Error(fmt.Errorf("%w (status %s)", ErrPermissionDenied, m.auth.Status()))
	}
	return ok
}

// IsAuthorized returns the result of the last CheckAuthorization.
func (m *Manager) IsAuthorized() bool {
	return m.authorized.Load()
}

// Setup is the whole bring-up: authorize, configure, start. It returns false
// when access is denied; otherwise configuration and start are queued in order.
func (m *Manager) Setup(ctx context.Context) bool {
	if !m.CheckAuthorization(ctx) {
		return false
	}
	m.ConfigureSession()
	m.StartSession()
	return true
}

// ConfigureSession attaches the back wide-angle camera and the photo output.
// Failures are logged and leave the session unconfigured.
func (m *Manager) ConfigureSession() {
	m.sessionQueue.async(func() {
		if err := m.configure(); err != nil {
			debug.Error(fmt.Errorf("configure session: %w", err))
		}
	})
}

func (m *Manager) configure() error {
	if !m.authorized.Load() {
		return ErrPermissionDenied
	}
	if m.configured {
		return nil
	}
	m.setPhase(PhaseConfiguring)

	m.session.BeginConfiguration()
	m.session.SetPreset(m.opts.Preset)

	// Back-facing only, no front fallback.
	device, ok := m.backend.DefaultDevice(m.opts.DeviceType, camera.PositionBack)
	if !ok {
		m.abortConfiguration()
		return ErrDeviceUnavailable
	}
	debug.Verbose("Selected device %s (%s, %s, flash=%t)", device.ID(), device.Type(), device.Position(), device.HasFlash())

	// A retry after a failed output attach keeps the input already on the session.
	if m.input == nil {
		input, err := m.session.NewInput(device)
		if err != nil {
			m.abortConfiguration()
			return fmt.Errorf("%w: %w", ErrInputAttachFailed, err)
		}
		if !m.session.CanAddInput(input) {
			m.abortConfiguration()
			return fmt.Errorf("%w: device %s", ErrInputAttachFailed, device.ID())
		}
		m.session.AddInput(input)
		m.input = input
	}

	if !m.session.CanAddOutput(m.output) {
		m.abortConfiguration()
		return ErrOutputAttachFailed
	}
	m.session.AddOutput(m.output)
	m.output.SetMaxQuality(camera.QualityHigh)

	m.session.CommitConfiguration()
	m.configured = true
	m.setPhase(PhaseConfigured)
	return nil
}

// abortConfiguration commits whatever was attached so far.
func (m *Manager) abortConfiguration() {
	m.session.CommitConfiguration()
	m.setPhase(PhaseFailed)
}

func (m *Manager) setPhase(p Phase) {
	if m.phase == p {
		return
	}
	debug.Phase(m.phase.String(), p.String())
	m.phase = p
}

// StartSession starts the configured session. It is a no-op when the session
// is not configured or already running.
func (m *Manager) StartSession() {
	m.sessionQueue.async(m.start)
}

func (m *Manager) start() {
	if m.running {
		debug.Verbose("Session already running")
		return
	}
	if !m.configured {
		debug.Verbose("Start skipped: %v", ErrNotConfigured)
		return
	}

	m.session.StartRunning()
	m.running = m.session.IsRunning()
	if !m.running {
		debug.Error(fmt.Errorf("start session: backend did not start running"))
		return
	}
	m.setPhase(PhaseRunning)
	m.pub.publish(func(s *State) {
		s.CaptureButtonDisabled = false
		s.CameraUnavailable = false
	})
}

// CapturePhoto disables the capture button at once, then issues one capture
// request. Each request completes independently of any other in flight.
func (m *Manager) CapturePhoto() {
	m.pub.publish(func(s *State) { s.CaptureButtonDisabled = true })
	m.sessionQueue.async(func() {
		if err := m.capture(); err != nil {
			debug.Error(fmt.Errorf("capture photo: %w", err))
		}
	})
}

func (m *Manager) capture() error {
	if !m.running {
		return ErrNotRunning
	}

	if conn, ok := m.output.Connection(); ok {
		conn.SetOrientation(m.opts.Orientation)
	}

	codec := camera.CodecDefault
	if slices.Contains(m.output.AvailableCodecs(), camera.CodecHEVC) {
		codec = camera.CodecHEVC
	}
	settings := m.output.NewSettings(codec)

	if m.input.Device().HasFlash() {
		settings.FlashMode = m.flashMode
	}
	if len(settings.AvailablePreviewFormats) > 0 {
		settings.PreviewFormat = settings.AvailablePreviewFormats[0]
	}
	settings.Quality = camera.QualityHigh
	if debug.IsEnabled(debug.LevelVerbose) {
		debug.PrintStruct("Photo settings", settings)
	}

	p := newProcessor(settings, m.shutterCue, m.setProcessing, m.complete)

	// Registered before the request is issued: completion may fire immediately.
	if err := m.inFlight.insert(settings.UniqueID, p); err != nil {
		m.pub.publish(func(s *State) { s.CaptureButtonDisabled = false })
		return err
	}
	debug.Capture(settings.UniqueID, m.inFlight.len())
	m.output.Capture(settings, p)
	return nil
}

// shutterCue raises WillCapturePhoto and lowers it FlashCue later. Cues from
// different requests are counted so they don't cut each other short.
func (m *Manager) shutterCue() {
	m.pub.publish(func(s *State) {
		m.cues++
		s.WillCapturePhoto = true
	})
	time.AfterFunc(m.opts.FlashCue, func() {
		m.pub.publish(func(s *State) {
			if m.cues > 0 {
				m.cues--
			}
			if m.cues == 0 {
				s.WillCapturePhoto = false
			}
		})
	})
}

func (m *Manager) setProcessing(active bool) {
	m.pub.publish(func(s *State) {
		if active {
			m.spinners++
		} else if m.spinners > 0 {
			m.spinners--
		}
		s.ShowSpinner = m.spinners > 0
	})
}

// complete runs once per request, on the backend's goroutine.
func (m *Manager) complete(p *processor) {
	id := p.id()
	if data := p.photoData(); data != nil {
		photo := NewPhoto(data)
		m.pub.publish(func(s *State) { s.Photo = photo })
		debug.Photo(photo.ID, photo.Size())
	} else {
		debug.Error(fmt.Errorf("capture %d: %w", id, ErrCaptureProducedNoData))
	}

	m.pub.publish(func(s *State) { s.CaptureButtonDisabled = false })

	m.sessionQueue.async(func() {
		if !m.inFlight.remove(id) {
			debug.Verbose("Capture %d: no registry entry to remove", id)
		}
	})
}

// SetFlashMode selects the flash mode for later captures. It only takes
// effect on devices that have a flash.
func (m *Manager) SetFlashMode(mode camera.FlashMode) {
	m.sessionQueue.async(func() { m.flashMode = mode })
	m.pub.publish(func(s *State) { s.FlashMode = mode })
}

// Snapshot returns the current flag values.
func (m *Manager) Snapshot() State {
	return m.pub.snapshot()
}

// Observe registers l for every state change. Call the returned func to stop.
func (m *Manager) Observe(l Listener) (cancel func()) {
	return m.pub.observe(l)
}

// Phase returns the lifecycle phase once previously queued work has run.
func (m *Manager) Phase() Phase {
	var p Phase
	m.sessionQueue.sync(func() { p = m.phase })
	return p
}

// Pending returns the number of capture requests still in flight.
func (m *Manager) Pending() int {
	n := 0
	m.sessionQueue.sync(func() { n = m.inFlight.len() })
	return n
}

// Close runs queued work, closes the backend session and stops both queues.
// It does not wait for in-flight captures; their late results are dropped.
func (m *Manager) Close() error {
	var err error
	m.sessionQueue.sync(func() {
		if n := m.inFlight.len(); n > 0 {
			debug.Info("Closing with %d capture(s) in flight: %v", n, m.inFlight.ids())
		}
		err = m.session.Close()
	})
	m.sessionQueue.close()
	m.interaction.close()
	return err
}

// Sync waits for work already queued on the session queue, then for the
// flag changes that work published.
func (m *Manager) Sync() {
	m.sessionQueue.sync(nil)
	m.interaction.sync(nil)
}
