package camera

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParsePosition(t *testing.T) {
	cases := []struct {
		in      string
		want    Position
		wantErr bool
	}{
		{"back", PositionBack, false},
		{" Front ", PositionFront, false},
		{"", PositionUnspecified, false},
		{"unspecified", PositionUnspecified, false},
		{"side", PositionUnspecified, true},
	}
	for _, tc := range cases {
		got, err := ParsePosition(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParsePosition(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParsePosition(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseFlashMode(t *testing.T) {
	for _, mode := range []FlashMode{FlashOff, FlashOn, FlashAuto} {
		got, err := ParseFlashMode(mode.String())
		if err != nil || got != mode {
			t.Errorf("ParseFlashMode(%q) = %v, %v", mode.String(), got, err)
		}
	}
	if _, err := ParseFlashMode("strobe"); err == nil {
		t.Error("expected error for unknown flash mode")
	}
}

func TestRequestIDs_MonotonicUnderConcurrency(t *testing.T) {
	var ids RequestIDs
	var mu sync.Mutex
	seen := make(map[int64]bool)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := ids.Next()
				mu.Lock()
				if seen[id] {
					t.Errorf("id %d handed out twice", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 800 {
		t.Errorf("got %d distinct ids, want 800", len(seen))
	}
	if next := ids.Next(); next != 801 {
		t.Errorf("next id = %d, want 801", next)
	}
}

func TestStaticAuthorizer(t *testing.T) {
	ok, err := StaticAuthorizer(Authorized).RequestAccess(context.Background())
	if err != nil || !ok {
		t.Errorf("authorized: got %v, %v", ok, err)
	}
	ok, _ = StaticAuthorizer(Denied).RequestAccess(context.Background())
	if ok {
		t.Error("denied authorizer granted access")
	}
}

func TestPromptAuthorizer_Yes(t *testing.T) {
	var out bytes.Buffer
	a := NewPromptAuthorizer(strings.NewReader("y\n"), &out)

	if a.Status() != NotDetermined {
		t.Fatalf("initial status = %v, want not_determined", a.Status())
	}
	ok, err := a.RequestAccess(context.Background())
	if err != nil || !ok {
		t.Fatalf("RequestAccess = %v, %v; want true", ok, err)
	}
	if a.Status() != Authorized {
		t.Errorf("status = %v, want authorized", a.Status())
	}
	if !strings.Contains(out.String(), "[y/N]") {
		t.Errorf("prompt not written, got %q", out.String())
	}
}

func TestPromptAuthorizer_DefaultIsDeny(t *testing.T) {
	a := NewPromptAuthorizer(strings.NewReader("\n"), io.Discard)
	ok, err := a.RequestAccess(context.Background())
	if err != nil || ok {
		t.Fatalf("RequestAccess = %v, %v; want false", ok, err)
	}
	if a.Status() != Denied {
		t.Errorf("status = %v, want denied", a.Status())
	}
}

func TestPromptAuthorizer_EOFDenies(t *testing.T) {
	a := NewPromptAuthorizer(strings.NewReader(""), io.Discard)
	if ok, _ := a.RequestAccess(context.Background()); ok {
		t.Error("EOF should deny")
	}
}

func TestPromptAuthorizer_DecisionIsTerminal(t *testing.T) {
	var out bytes.Buffer
	a := NewPromptAuthorizer(strings.NewReader("yes\nno\n"), &out)
	for i := 0; i < 3; i++ {
		ok, err := a.RequestAccess(context.Background())
		if err != nil || !ok {
			t.Fatalf("call %d: RequestAccess = %v, %v", i, ok, err)
		}
	}
	if n := strings.Count(out.String(), "[y/N]"); n != 1 {
		t.Errorf("prompted %d times, want 1", n)
	}
}

func TestPromptAuthorizer_ContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	a := NewPromptAuthorizer(pr, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := a.RequestAccess(ctx)
	if ok || err == nil {
		t.Fatalf("RequestAccess = %v, %v; want false with ctx error", ok, err)
	}
	if a.Status() != NotDetermined {
		t.Errorf("status = %v, want not_determined after cancel", a.Status())
	}
}

func TestMockAuthorizer_Prompting(t *testing.T) {
	a := NewPromptingMockAuthorizer()
	done := make(chan bool)
	go func() {
		ok, _ := a.RequestAccess(context.Background())
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("RequestAccess returned before a decision")
	case <-time.After(20 * time.Millisecond):
	}

	a.Decide(true)
	if !<-done {
		t.Error("expected grant")
	}
	if a.Status() != Authorized {
		t.Errorf("status = %v, want authorized", a.Status())
	}
}

func TestMockBackend_DefaultDevice(t *testing.T) {
	front := &MockDevice{IDValue: "front", Pos: PositionFront, Kind: WideAngle}
	back := BackWideAngle(false)
	b := NewMockBackend(front, back)

	d, ok := b.DefaultDevice(WideAngle, PositionBack)
	if !ok || d.ID() != back.ID() {
		t.Errorf("back wide angle = %v, %v", d, ok)
	}
	if _, ok := b.DefaultDevice(TrueDepth, PositionBack); ok {
		t.Error("no true depth device should be found")
	}

	onlyFront := NewMockBackend(front)
	if _, ok := onlyFront.DefaultDevice(WideAngle, PositionBack); ok {
		t.Error("front device must not satisfy a back-facing lookup")
	}
}

func TestMockOutput_SettingsIDsUnique(t *testing.T) {
	b := NewMockBackend()
	out := b.NewPhotoOutput()
	a := out.NewSettings(CodecDefault)
	c := out.NewSettings(CodecHEVC)
	if a.UniqueID == c.UniqueID {
		t.Errorf("settings share id %d", a.UniqueID)
	}
	if len(a.AvailablePreviewFormats) == 0 {
		t.Error("expected preview formats")
	}
}

func TestMockOutput_ConnectionRequiresAttach(t *testing.T) {
	b := NewMockBackend(BackWideAngle(false))
	out := b.NewPhotoOutput()
	if _, ok := out.Connection(); ok {
		t.Error("detached output should have no connection")
	}
	sess := b.NewSession()
	sess.AddOutput(out)
	conn, ok := out.Connection()
	if !ok {
		t.Fatal("attached output should have a connection")
	}
	conn.SetOrientation(LandscapeLeft)
	if o, n := b.Output().Orientation(); o != LandscapeLeft || n != 1 {
		t.Errorf("orientation = %v (%d sets)", o, n)
	}
}

func TestTestFrame_IsJPEG(t *testing.T) {
	data, err := TestFrame(1)
	if err != nil {
		t.Fatalf("TestFrame: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatalf("missing JPEG SOI marker: % x", data[:2])
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("size = %v, want 64x48", b)
	}
}
