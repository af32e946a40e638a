package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/Valter4578/MoonEnhancer/internal/debug"
	"github.com/Valter4578/MoonEnhancer/internal/session"
	"github.com/gorilla/mux"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, cam Camera, broadcaster *Broadcaster, preview Previewer) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	return &Server{
		addr:     addr,
		handlers: NewHandlers(cam, broadcaster, preview, subFS),
	}
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := mux.NewRouter()

	r.HandleFunc("/state", h.HandleState).Methods(http.MethodGet)
	r.HandleFunc("/state/ws", h.HandleStateSocket).Methods(http.MethodGet)
	r.HandleFunc("/authorized", h.HandleAuthorized).Methods(http.MethodGet)
	r.HandleFunc("/session/start", h.HandleStart).Methods(http.MethodPost)
	r.HandleFunc("/capture", h.HandleCapture).Methods(http.MethodPost)
	r.HandleFunc("/flash", h.HandleFlash).Methods(http.MethodPut)
	r.HandleFunc("/photo/latest", h.HandlePhoto).Methods(http.MethodGet)
	r.HandleFunc("/photo/latest/preview", h.HandlePreview).Methods(http.MethodGet)
	r.HandleFunc("/status/stream", h.HandleStatusStream).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	r.HandleFunc("/", h.ServeIndex).Methods(http.MethodGet)

	return r
}

// Watch mirrors every state change of cam to the broadcaster until the
// returned func is called.
func (s *Server) Watch() (stop func()) {
	b := s.handlers.Broadcaster
	return s.handlers.Camera.Observe(func(st session.State) {
		b.State(NewStateView(st))
	})
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	stop := s.Watch()
	defer stop()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
