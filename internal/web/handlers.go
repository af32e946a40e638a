package web

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/Valter4578/MoonEnhancer/internal/debug"
	"github.com/Valter4578/MoonEnhancer/internal/hw/camera"
	"github.com/Valter4578/MoonEnhancer/internal/session"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second
	// pongWait is how long a websocket client may stay silent.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxBodyBytes caps JSON request bodies.
	maxBodyBytes = 4 << 10
)

// Camera is the part of session.Manager the handlers drive.
type Camera interface {
	IsAuthorized() bool
	StartSession()
	CapturePhoto()
	SetFlashMode(mode camera.FlashMode)
	Snapshot() session.State
	Observe(l session.Listener) (cancel func())
}

// Previewer renders the preview of a photo.
type Previewer interface {
	Render(id string, data []byte) ([]byte, error)
}

// PhotoView is the JSON form of the latest photo. The bytes are served
// separately.
type PhotoView struct {
	ID   string `json:"id"`
	Size int    `json:"size"`
}

// StateView is the JSON form of session.State.
type StateView struct {
	FlashMode             string     `json:"flash_mode"`
	ShowAlert             bool       `json:"show_alert"`
	ShowSpinner           bool       `json:"show_spinner"`
	WillCapturePhoto      bool       `json:"will_capture_photo"`
	CaptureButtonDisabled bool       `json:"capture_button_disabled"`
	CameraUnavailable     bool       `json:"camera_unavailable"`
	Photo                 *PhotoView `json:"photo,omitempty"`
}

// NewStateView converts a state snapshot.
func NewStateView(s session.State) StateView {
	v := StateView{
		FlashMode:             s.FlashMode.String(),
		ShowAlert:             s.ShowAlert,
		ShowSpinner:           s.ShowSpinner,
		WillCapturePhoto:      s.WillCapturePhoto,
		CaptureButtonDisabled: s.CaptureButtonDisabled,
		CameraUnavailable:     s.CameraUnavailable,
	}
	if s.Photo != nil {
		v.Photo = &PhotoView{ID: s.Photo.ID, Size: s.Photo.Size()}
	}
	return v
}

// FlashRequest is the body of PUT /flash.
type FlashRequest struct {
	Mode string `json:"mode"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Camera      Camera
	Broadcaster *Broadcaster
	Preview     Previewer
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(cam Camera, broadcaster *Broadcaster, preview Previewer, staticFS fs.FS) *Handlers {
	return &Handlers{
		Camera:      cam,
		Broadcaster: broadcaster,
		Preview:     preview,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Error(err)
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState returns the current flags.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewStateView(h.Camera.Snapshot()))
}

// HandleAuthorized reports whether camera access was granted.
func (h *Handlers) HandleAuthorized(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"authorized": h.Camera.IsAuthorized()})
}

// HandleStart queues a session start.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !h.Camera.IsAuthorized() {
		http.Error(w, "camera access not authorized", http.StatusForbidden)
		return
	}
	h.Camera.StartSession()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

// HandleCapture queues one capture request.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if h.Camera.Snapshot().CameraUnavailable {
		http.Error(w, "camera unavailable", http.StatusConflict)
		return
	}
	h.Camera.CapturePhoto()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "capturing"})
}

// HandleFlash sets the flash mode for later captures.
func (h *Handlers) HandleFlash(w http.ResponseWriter, r *http.Request) {
	var req FlashRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		http.Error(w, "mode is required", http.StatusBadRequest)
		return
	}
	mode, err := camera.ParseFlashMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Camera.SetFlashMode(mode)
	writeJSON(w, http.StatusOK, map[string]string{"flash_mode": mode.String()})
}

func (h *Handlers) latest(w http.ResponseWriter) (*session.Photo, bool) {
	p := h.Camera.Snapshot().Photo
	if p == nil {
		http.Error(w, "no photo captured yet", http.StatusNotFound)
		return nil, false
	}
	return p, true
}

// HandlePhoto serves the latest photo exactly as captured.
func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	p, ok := h.latest(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(p.OriginalData))
	w.Header().Set("X-Photo-ID", p.ID)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(p.OriginalData)
}

// HandlePreview serves a downscaled JPEG of the latest photo.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	p, ok := h.latest(w)
	if !ok {
		return
	}
	if h.Preview == nil {
		http.Error(w, "preview not configured", http.StatusServiceUnavailable)
		return
	}
	data, err := h.Preview.Render(p.ID, p.OriginalData)
	if err != nil {
		debug.Error(err)
		http.Error(w, "photo cannot be previewed", http.StatusUnsupportedMediaType)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Photo-ID", p.ID)
	w.Write(data)
}

// HandleStateSocket streams JSON StateViews over a websocket, starting with
// the current state. A view equal to the previous frame is not resent.
func (h *Handlers) HandleStateSocket(w http.ResponseWriter, r *http.Request) {
	ch, unsub := h.Broadcaster.Subscribe(KindState)
	defer unsub()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an error status.
		debug.Verbose("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	last, err := json.Marshal(NewStateView(h.Camera.Snapshot()))
	if err != nil {
		debug.Error(err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, last); err != nil {
		return
	}

	// Reads only detect disconnects and pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt Event
			if err := json.Unmarshal(msg, &evt); err != nil || evt.State == nil {
				continue
			}
			data, err := json.Marshal(evt.State)
			if err != nil || bytes.Equal(data, last) {
				continue
			}
			last = data
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: "))
			w.Write(msg)
			w.Write([]byte("\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
