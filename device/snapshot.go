package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// SnapshotServer exposes the camera and busy flag to observers directly,
// bypassing the relay.
type SnapshotServer struct {
	Addr       string
	arbiter    *Arbiter
	frames     *FrameStore
	dispatcher *Dispatcher
	server     *http.Server
}

func NewSnapshotServer(addr string, arbiter *Arbiter, frames *FrameStore, dispatcher *Dispatcher) *SnapshotServer {
	return &SnapshotServer{Addr: addr, arbiter: arbiter, frames: frames, dispatcher: dispatcher}
}

func (s *SnapshotServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/capture", s.HandleCapture)
	r.Get("/status", s.HandleStatus)
	r.Get("/stream", s.HandleStream)
	return r
}

func (s *SnapshotServer) Start() error {
	slog.Info("Starting snapshot server", "addr", s.Addr)
	s.server = &http.Server{Addr: s.Addr, Handler: s.Routes()}
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *SnapshotServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *SnapshotServer) HandleCapture(w http.ResponseWriter, r *http.Request) {
	frame, err := s.arbiter.TryGrab()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrResourceBusy) || errors.Is(err, ErrSnapshotsDisabled) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"busy": s.arbiter.Busy(), "error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

func (s *SnapshotServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

const boundary = "frame"

// HandleStream serves the preview as multipart MJPEG.
func (s *SnapshotServer) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-store")

	var lastSeq uint64
	for {
		frame, seq, next := s.frames.Latest()
		if seq != lastSeq && len(frame) > 0 {
			lastSeq = seq
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-next:
		case <-time.After(5 * time.Second):
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err.Error())
	}
}

// SetupLogger installs a JSON slog handler on stdout as the default logger.
func SetupLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
