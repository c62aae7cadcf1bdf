package api

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"

	xdraw "golang.org/x/image/draw"
)

const (
	defaultPreviewScale = 16
	maxPreviewScale     = 64
)

// panelPreview serves the panel's native-resolution image, before rotation,
// upscaled with nearest neighbour so each LED is a visible block.
func (s *Server) panelPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	i, ok := s.panelIndex(w, r)
	if !ok {
		return
	}

	scale := defaultPreviewScale
	if v := r.URL.Query().Get("scale"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPreviewScale {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'scale' parameter (1-%d)", maxPreviewScale))
			return
		}
		scale = n
	}

	snap := s.model.Snapshot()
	if i >= len(snap.Previews) || snap.Previews[i] == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No frame captured yet")
		return
	}
	src := snap.Previews[i]
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode preview: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// panelPacket serves the body last sent for the panel, raw or as hex with
// ?format=hex.
func (s *Server) panelPacket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	i, ok := s.panelIndex(w, r)
	if !ok {
		return
	}
	snap := s.model.Snapshot()
	if i >= len(snap.Bodies) || snap.Bodies[i] == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No packet available yet")
		return
	}
	body := snap.Bodies[i]

	switch r.URL.Query().Get("format") {
	case "", "raw":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	case "hex":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(hex.EncodeToString(body) + "\n"))
	default:
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'format' parameter (raw or hex)")
	}
}
