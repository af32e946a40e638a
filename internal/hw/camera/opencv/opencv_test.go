package opencv

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/Valter4578/MoonEnhancer/internal/hw/camera"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func solidFrame(t *testing.T, w, h int, level float64) gocv.Mat {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(level, level, level, 0), h, w, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { _ = img.Close() })
	return img
}

type recordingDelegate struct {
	mu     sync.Mutex
	calls  []string
	data   []byte
	err    error
	done   chan struct{}
	result camera.ResolvedSettings
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{done: make(chan struct{})}
}

func (d *recordingDelegate) add(s string) {
	d.mu.Lock()
	d.calls = append(d.calls, s)
	d.mu.Unlock()
}

func (d *recordingDelegate) WillBeginCapture(camera.ResolvedSettings) { d.add("begin") }
func (d *recordingDelegate) WillCapturePhoto(camera.ResolvedSettings) { d.add("shutter") }

func (d *recordingDelegate) DidFinishProcessing(data []byte, err error) {
	d.mu.Lock()
	d.data, d.err = data, err
	d.mu.Unlock()
	d.add("processed")
}

func (d *recordingDelegate) DidFinishCapture(r camera.ResolvedSettings, err error) {
	d.mu.Lock()
	d.result = r
	d.mu.Unlock()
	d.add("finished")
	close(d.done)
}

func TestBackend_DefaultDevice(t *testing.T) {
	b := NewBackend([]DeviceSpec{
		{Index: 2, Position: camera.PositionFront},
		{ID: "rear", Index: 0, Position: camera.PositionBack},
	}, Options{})

	d, ok := b.DefaultDevice(camera.WideAngle, camera.PositionBack)
	require.True(t, ok)
	require.Equal(t, "rear", d.ID())
	require.False(t, d.HasFlash())

	d, ok = b.DefaultDevice(camera.WideAngle, camera.PositionFront)
	require.True(t, ok)
	require.Equal(t, "video2", d.ID())

	_, ok = b.DefaultDevice(camera.TrueDepth, camera.PositionBack)
	require.False(t, ok)
}

func TestSession_RejectsForeignDevice(t *testing.T) {
	b := NewBackend(nil, Options{})
	s := b.NewSession()

	_, err := s.NewInput(camera.BackWideAngle(false))
	require.ErrorIs(t, err, ErrNotOpenCVDevice)
}

func TestSession_OutputAttachesOnce(t *testing.T) {
	b := NewBackend(nil, Options{})
	s := b.NewSession()
	out := b.NewPhotoOutput()

	_, ok := out.Connection()
	require.False(t, ok)

	require.True(t, s.CanAddOutput(out))
	s.AddOutput(out)
	require.False(t, s.CanAddOutput(out))
	_, ok = out.Connection()
	require.True(t, ok)

	require.False(t, s.IsRunning())
	s.StartRunning()
	require.False(t, s.IsRunning(), "no input attached")
	require.NoError(t, s.Close())
}

func TestPhotoOutput_SettingsAndCodecs(t *testing.T) {
	b := NewBackend(nil, Options{PreviewFormats: []camera.PixelFormat{"BGR", "GRAY"}})
	out := b.NewPhotoOutput()

	require.Equal(t, []camera.Codec{camera.CodecJPEG, camera.CodecPNG}, out.AvailableCodecs())
	a, c := out.NewSettings(camera.CodecDefault), out.NewSettings(camera.CodecPNG)
	require.Equal(t, int64(1), a.UniqueID)
	require.Equal(t, int64(2), c.UniqueID)
	require.Equal(t, []camera.PixelFormat{"BGR", "GRAY"}, a.AvailablePreviewFormats)
}

func TestPhotoOutput_CaptureWithoutSessionFails(t *testing.T) {
	b := NewBackend(nil, Options{})
	out := b.NewPhotoOutput()
	d := newRecordingDelegate()

	out.Capture(out.NewSettings(camera.CodecJPEG), d)
	<-d.done

	require.Equal(t, []string{"begin", "processed", "finished"}, d.calls)
	require.Nil(t, d.data)
	require.True(t, errors.Is(d.err, ErrNotAttached))
}

func TestResolveCodec(t *testing.T) {
	require.Equal(t, camera.CodecJPEG, resolveCodec(camera.CodecDefault))
	require.Equal(t, camera.CodecJPEG, resolveCodec(camera.CodecHEVC))
	require.Equal(t, camera.CodecJPEG, resolveCodec(camera.CodecJPEG))
	require.Equal(t, camera.CodecPNG, resolveCodec(camera.CodecPNG))
}

func TestRotation(t *testing.T) {
	cases := []struct {
		in     camera.Orientation
		flag   gocv.RotateFlag
		rotate bool
	}{
		{camera.Portrait, gocv.Rotate90Clockwise, true},
		{camera.PortraitUpsideDown, gocv.Rotate90CounterClockwise, true},
		{camera.LandscapeLeft, gocv.Rotate180Clockwise, true},
		{camera.LandscapeRight, 0, false},
	}
	for _, tc := range cases {
		flag, ok := rotation(tc.in)
		require.Equal(t, tc.rotate, ok)
		if ok {
			require.Equal(t, tc.flag, flag)
		}
	}
}

func TestEncode(t *testing.T) {
	frame := solidFrame(t, 64, 48, 200)

	jpg, err := encode(frame, camera.CodecJPEG, 90)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(jpg, []byte{0xFF, 0xD8}))

	png, err := encode(frame, camera.CodecPNG, 90)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(png, []byte{0x89, 'P', 'N', 'G'}))

	decoded, err := gocv.IMDecode(jpg, gocv.IMReadColor)
	require.NoError(t, err)
	defer decoded.Close()
	require.Equal(t, 64, decoded.Cols())
	require.Equal(t, 48, decoded.Rows())
}

func TestGrayLevel(t *testing.T) {
	require.InDelta(t, 20, grayLevel(solidFrame(t, 16, 16, 20)), 1)
	require.InDelta(t, 230, grayLevel(solidFrame(t, 16, 16, 230)), 1)
}
