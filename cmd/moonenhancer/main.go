package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/Valter4578/MoonEnhancer/internal/config"
	"github.com/Valter4578/MoonEnhancer/internal/debug"
	"github.com/Valter4578/MoonEnhancer/internal/hw/camera"
	"github.com/Valter4578/MoonEnhancer/internal/hw/camera/opencv"
	"github.com/Valter4578/MoonEnhancer/internal/hw/flash"
	"github.com/Valter4578/MoonEnhancer/internal/hw/gpio"
	"github.com/Valter4578/MoonEnhancer/internal/preview"
	"github.com/Valter4578/MoonEnhancer/internal/session"
	"github.com/Valter4578/MoonEnhancer/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	shots := flag.Int("shots", 1, "number of photos to capture without the web server")
	outDir := flag.String("out", "photos", "directory photos are written to without the web server")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *shots < 1 {
		log.Fatalf("-shots must be at least 1, got %d", *shots)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing camera backend")
	backend, err := newBackendFromConfig(gpioDriver, cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.PrintStruct("Camera devices", cfg.Camera.Devices)

	debug.Step(3, "Configuring session")
	mgr := session.New(backend, newAuthorizer(cfg.Camera.Access, os.Stdin, os.Stdout), session.Options{
		FlashCue:  cfg.FlashCue(),
		FlashMode: cfg.FlashMode(),
	})
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Printf("closing camera session failed: %v", err)
		}
	}()
	if !mgr.Setup(ctx) {
		log.Fatalf("camera access not authorized (camera.access=%s)", cfg.Camera.Access)
	}
	mgr.Sync()
	if mgr.Snapshot().CameraUnavailable {
		log.Fatalf("camera session did not start (phase %s)", mgr.Phase())
	}

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.LogWriter(broadcaster)))

		renderer := preview.NewRenderer(cfg.Capture.PreviewSizePx, 0)
		srv := web.NewServer(webAddr, mgr, broadcaster, renderer)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	debug.Section("Capturing")
	paths, err := captureShots(ctx, mgr, *shots, *outDir)
	if err != nil {
		log.Fatalf("capture failed: %v", err)
	}
	debug.Summary("Capture Summary")
	debug.Value("Photos written", len(paths))
	for _, p := range paths {
		debug.Info("  %s", p)
	}
}

// newBackendFromConfig selects a camera backend based on configuration.
func newBackendFromConfig(g gpio.Driver, cfg *config.Config) (camera.Backend, error) {
	switch cfg.Camera.Type {
	case config.CameraMock:
		return camera.NewMockBackend(mockDevices(cfg.Camera.Devices)...), nil
	case config.CameraOpenCV:
		return opencv.NewBackend(openCVSpecs(g, cfg), opencv.Options{
			JPEGQuality: cfg.Capture.JPEGQuality,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

func mockDevices(devices []config.DeviceConfig) []*camera.MockDevice {
	out := make([]*camera.MockDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, &camera.MockDevice{
			IDValue: d.ID,
			Pos:     d.ParsedPosition(),
			Kind:    camera.DeviceType(d.Type),
			Flash:   d.HasFlash(),
		})
	}
	return out
}

func openCVSpecs(g gpio.Driver, cfg *config.Config) []opencv.DeviceSpec {
	specs := make([]opencv.DeviceSpec, 0, len(cfg.Camera.Devices))
	for _, d := range cfg.Camera.Devices {
		spec := opencv.DeviceSpec{
			ID:       d.ID,
			Index:    d.Index,
			Position: d.ParsedPosition(),
			Type:     camera.DeviceType(d.Type),
			Width:    d.WidthPx,
			Height:   d.HeightPx,
		}
		if d.HasFlash() {
			spec.Flash = flash.NewGPIO(g, d.FlashPin, cfg.FlashPulse())
		}
		specs = append(specs, spec)
	}
	return specs
}

// newAuthorizer maps camera.access to an authorizer. "prompt" asks on the
// terminal.
func newAuthorizer(access string, in io.Reader, out io.Writer) camera.Authorizer {
	switch access {
	case config.AccessGranted:
		return camera.StaticAuthorizer(camera.Authorized)
	case config.AccessDenied:
		return camera.StaticAuthorizer(camera.Denied)
	default:
		return camera.NewPromptAuthorizer(in, out)
	}
}

// captureShots issues n capture requests back to back, waits for all of them
// and writes every delivered photo to dir. Requests that produce no data are
// logged by the session and skipped here.
func captureShots(ctx context.Context, mgr *session.Manager, n int, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var (
		mu     sync.Mutex
		photos []*session.Photo
		last   *session.Photo
	)
	stop := mgr.Observe(func(s session.State) {
		mu.Lock()
		defer mu.Unlock()
		if s.Photo != nil && s.Photo != last {
			last = s.Photo
			photos = append(photos, s.Photo)
		}
	})
	defer stop()

	for range n {
		mgr.CapturePhoto()
	}
	if err := waitIdle(ctx, mgr, 10*time.Millisecond); err != nil {
		return nil, err
	}
	mgr.Sync()

	mu.Lock()
	defer mu.Unlock()
	paths := make([]string, 0, len(photos))
	for _, p := range photos {
		path := filepath.Join(dir, p.ID+photoExt(p.OriginalData))
		if err := os.WriteFile(path, p.OriginalData, 0o644); err != nil {
			return paths, fmt.Errorf("write photo: %w", err)
		}
		debug.Verbose("Wrote photo %s (%d bytes) to %s", p.ID, p.Size(), path)
		paths = append(paths, path)
	}
	return paths, nil
}

// waitIdle polls until no capture request is in flight.
func waitIdle(ctx context.Context, mgr *session.Manager, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for mgr.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// photoExt picks a file extension from the photo's magic bytes.
func photoExt(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ".bin"
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
