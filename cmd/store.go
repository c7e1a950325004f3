package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/choptalini/chatbot/internal/config"
	"github.com/choptalini/chatbot/internal/store"
	"github.com/choptalini/chatbot/internal/store/pg"
)

// openStore connects to Postgres with a bounded timeout — a hung connect
// attempt at startup should surface as exit code 2, not a stuck process.
func openStore(ctx context.Context, p *config.Process) (store.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return pg.Open(connectCtx, p.DatabaseURL)
}

// probeTransport does a best-effort HEAD against the configured BSP base
// URL, bounded at 5 seconds. Any HTTP status counts as reachable; a
// connection failure or a probe that times out returns false, which trips
// exit code 3 (spec.md §6).
func probeTransport(ctx context.Context, p *config.Process) bool {
	if p.BSPBaseURL == "" {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, p.BSPBaseURL, nil)
	if err != nil {
		return true
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
