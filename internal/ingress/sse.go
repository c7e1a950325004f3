package ingress

import (
	"fmt"
	"net/http"
	"time"

	"github.com/choptalini/chatbot/internal/store"
)

const heartbeatInterval = 15 * time.Second

// handleStream serves the dashboard SSE feed for one tenant, filtered by
// the Broadcast Hub's tenant-keyed subscriber list (spec.md §7).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	tenantID := store.TenantID(parseInt64(r.URL.Query().Get("tenant_id")))

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := s.hub.Subscribe(tenantID)
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ":\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Snapshot); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
