package api

import (
	"encoding/json"
	"io"
	"math"
	"net/http"

	"gonum.org/v1/gonum/spatial/r2"
)

type targetRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type targetResponse struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Set bool    `json:"set"`
}

// handleTarget reads, sets or clears the manual gaze target.
func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap := s.model.Snapshot()
		s.writeJSON(w, targetResponse{X: snap.Target.X, Y: snap.Target.Y, Set: snap.HasTarget})
		return
	case http.MethodPost, http.MethodDelete:
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.manual == nil {
		s.writeJSONError(w, http.StatusConflict, "Manual target not enabled")
		return
	}

	if r.Method == http.MethodDelete {
		s.manual.Clear()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req targetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.X == nil || req.Y == nil || math.IsNaN(*req.X) || math.IsNaN(*req.Y) ||
		math.IsInf(*req.X, 0) || math.IsInf(*req.Y, 0) {
		s.writeJSONError(w, http.StatusBadRequest, "Both 'x' and 'y' must be finite numbers")
		return
	}
	p := r2.Vec{X: *req.X, Y: *req.Y}
	s.manual.Set(p)
	s.writeJSON(w, targetResponse{X: p.X, Y: p.Y, Set: true})
}
