package serialmux

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tailscale.com/tsweb"
)

// WithPortLister replaces the port enumerator used by the admin routes.
func WithPortLister(l PortLister) Option {
	return func(c *Connection) { c.lister = l }
}

// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP mux
// served at /debug/. These routes are accessible only over localhost/via
// Tailscale and are not publicly accessible.
func (c *Connection) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial-link", "serial link status and counters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, c.Status())
	})

	debug.HandleFunc("serial-ports", "serial devices on this host", func(w http.ResponseWriter, r *http.Request) {
		lister := c.lister
		if lister == nil {
			lister = ListPorts
		}
		ports, err := lister()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list ports: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, ports)
	})

	// Closes the port; the next tick reopens it.
	debug.HandleSilentFunc("serial-reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		c.Reset()
		io.WriteString(w, fmt.Sprintf("Reset serial link %s", c.path))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
