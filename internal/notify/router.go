package notify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/raphaelgruber/lorekeeper/internal/metrics"
	"github.com/raphaelgruber/lorekeeper/internal/service"
)

// Scanner starts background scans and reports the runs it tracks.
type Scanner interface {
	ScanAsync(sourceID string, opts service.ScanOptions) bool
	Runs() *service.RunManager
}

// RouterDeps holds the collaborators of the HTTP surface.
type RouterDeps struct {
	Hub     *Hub
	Scans   Scanner
	Metrics *metrics.Collector
}

// ScanRequest is the body of POST /scans.
type ScanRequest struct {
	SourceID   string `json:"source_id"`
	Force      bool   `json:"force,omitempty"`
	TargetFile string `json:"target_file,omitempty"`
}

// ScanResponse answers POST /scans.
type ScanResponse struct {
	SourceID string `json:"source_id"`
	Status   string `json:"status"` // "started" or "skipped"
}

// Stats is the body of GET /stats.
type Stats struct {
	Metrics     metrics.Snapshot  `json:"metrics"`
	ActiveScans []service.ScanRun `json:"active_scans"`
	Clients     int               `json:"clients"`
}

// NewRouter builds the HTTP handler: /ws, /health, /stats and /scans.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		running := deps.Scans.Runs().Running()
		if running == nil {
			running = []service.ScanRun{}
		}
		writeJSON(w, http.StatusOK, Stats{
			Metrics:     deps.Metrics.Snapshot(),
			ActiveScans: running,
			Clients:     deps.Hub.Clients(),
		})
	})

	r.Route("/scans", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, deps.Scans.Runs().List())
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req ScanRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			req.SourceID = strings.TrimSpace(req.SourceID)
			if req.SourceID == "" {
				writeError(w, http.StatusBadRequest, errors.New("source_id is required"))
				return
			}

			opts := service.ScanOptions{Force: req.Force, TargetFile: req.TargetFile}
			if !deps.Scans.ScanAsync(req.SourceID, opts) {
				writeJSON(w, http.StatusConflict, ScanResponse{SourceID: req.SourceID, Status: "skipped"})
				return
			}
			writeJSON(w, http.StatusAccepted, ScanResponse{SourceID: req.SourceID, Status: "started"})
		})
	})

	r.Handle("/ws", deps.Hub)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
