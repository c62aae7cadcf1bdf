// Package api serves the live debug view of the panels: JSON state, PNG
// previews, raw packet bodies, history charts and a websocket stream.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/scopae/internal/eyes"
	"github.com/banshee-data/scopae/internal/monitoring"
	"github.com/banshee-data/scopae/internal/serialmux"
	"github.com/banshee-data/scopae/internal/target"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// LinkStatuser reports serial link state. serialmux.Connection implements it.
type LinkStatuser interface {
	Status() serialmux.LinkStatus
}

type Server struct {
	model  *eyes.Model
	link   LinkStatuser
	manual *target.Manual
	runID  string

	// StreamInterval is how often /api/ws checks for a new snapshot.
	StreamInterval time.Duration
}

// NewServer serves model. link and manual may be nil; without manual the
// target endpoint is read-only.
func NewServer(model *eyes.Model, link LinkStatuser, manual *target.Manual, runID string) *Server {
	return &Server{
		model:          model,
		link:           link,
		manual:         manual,
		runID:          runID,
		StreamInterval: 100 * time.Millisecond,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/panels", s.listPanels)
	mux.HandleFunc("/api/panels/{index}/preview.png", s.panelPreview)
	mux.HandleFunc("/api/panels/{index}/packet", s.panelPacket)
	mux.HandleFunc("/api/panels/{index}/blink", s.panelBlink)
	mux.HandleFunc("/api/link", s.showLink)
	mux.HandleFunc("/api/target", s.handleTarget)
	mux.HandleFunc("/api/history", s.showHistory)
	mux.HandleFunc("/api/ws", s.streamSnapshots)
	mux.HandleFunc("/charts/history", s.historyChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: encode response: %v", err)
	}
}

// panelIndex parses the {index} path value against the model's panels.
func (s *Server) panelIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || i < 0 || i >= s.model.PanelCount() {
		s.writeJSONError(w, http.StatusNotFound, "Unknown panel")
		return 0, false
	}
	return i, true
}

type panelsResponse struct {
	RunID string `json:"run_id,omitempty"`
	eyes.Snapshot
}

func (s *Server) listPanels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, panelsResponse{RunID: s.runID, Snapshot: s.model.Snapshot()})
}

func (s *Server) showLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.link == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No serial link configured")
		return
	}
	s.writeJSON(w, s.link.Status())
}

func (s *Server) panelBlink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	i, ok := s.panelIndex(w, r)
	if !ok {
		return
	}
	if err := s.model.TriggerBlink(i); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, eyes.ErrNoPanel) {
			status = http.StatusNotFound
		}
		s.writeJSONError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, s.model.History())
}
