package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/scopae/internal/monitoring"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamSnapshots pushes every new snapshot to the client as a JSON text
// frame. A client too slow to keep up skips snapshots; only the latest is
// ever sent.
func (s *Server) streamSnapshots(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// read pump: discards client frames and notices disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.StreamInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	poll := time.NewTicker(interval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var last uint64
	send := func() error {
		snap := s.model.Snapshot()
		if snap.Tick == last {
			return nil
		}
		last = snap.Tick
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(panelsResponse{RunID: s.runID, Snapshot: snap})
	}

	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-poll.C:
			if err := send(); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					monitoring.Debugf("ws %s: write: %v", r.RemoteAddr, err)
				}
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
