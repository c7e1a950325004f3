package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"

	"github.com/choptalini/chatbot/internal/store"
)

// TenantBinding is one row of the sender map:
// sender_msisdn → {tenant_id, chatbot_id, agent_id, transport_credentials}.
type TenantBinding struct {
	SenderMSISDN string `json:"sender_msisdn"`
	TenantID     store.TenantID  `json:"tenant_id"`
	ChatbotID    store.ChatbotID `json:"chatbot_id"`
	AgentID      store.AgentID   `json:"agent_id"`

	// BSPAPIKey/BSPBaseURL override the process-level defaults for tenants
	// with their own BSP credentials (spec.md §6: "optional per-tenant BSP
	// credentials overriding defaults").
	BSPAPIKey  string `json:"bsp_api_key,omitempty"`
	BSPBaseURL string `json:"bsp_base_url,omitempty"`
}

// normalizedKey strips '+', leading zeros and whitespace, mirroring the
// Router's own normalization (spec.md §4.2) so lookups by either raw or
// normalized form agree.
func normalizedKey(msisdn string) string {
	s := strings.TrimSpace(msisdn)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, "+")
	s = strings.TrimLeft(s, "0")
	return s
}

// TenantMap is the read-mostly sender→tenant binding table. Loaded at
// startup and reloaded atomically on file-change events (see WatchFile);
// no signal handler is installed, so SIGHUP does not trigger a reload.
type TenantMap struct {
	path string

	current atomic.Pointer[tenantMapSnapshot]

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
}

type tenantMapSnapshot struct {
	bySender map[string]TenantBinding
}

// CredentialResolver satisfies transport.ClientResolver, looking up a
// chatbot's per-tenant BSP credentials with a process-level default
// fallback (spec.md §6's "optional per-tenant BSP credentials overriding
// defaults").
type CredentialResolver struct {
	tenantMap      *TenantMap
	defaultAPIKey  string
	defaultBaseURL string
}

// NewCredentialResolver wraps tm with process-level BSP credential defaults.
func NewCredentialResolver(tm *TenantMap, defaultAPIKey, defaultBaseURL string) *CredentialResolver {
	return &CredentialResolver{tenantMap: tm, defaultAPIKey: defaultAPIKey, defaultBaseURL: defaultBaseURL}
}

// CredentialsFor resolves the API key and base URL for transportRef (the
// chatbot's own sending MSISDN).
func (r *CredentialResolver) CredentialsFor(transportRef string) (apiKey, baseURL string, ok bool) {
	binding, found := r.tenantMap.Lookup(transportRef)
	if !found {
		return "", "", false
	}
	apiKey = binding.BSPAPIKey
	if apiKey == "" {
		apiKey = r.defaultAPIKey
	}
	baseURL = binding.BSPBaseURL
	if baseURL == "" {
		baseURL = r.defaultBaseURL
	}
	return apiKey, baseURL, apiKey != "" && baseURL != ""
}

// LoadTenantMap parses the JSON5 tenant-map file at path and returns a
// TenantMap ready for lookups. A malformed file at startup is fatal (the
// caller should treat this as a configuration error, exit code 1 per
// spec.md §6).
func LoadTenantMap(path string) (*TenantMap, error) {
	tm := &TenantMap{path: path}
	if err := tm.reload(); err != nil {
		return nil, err
	}
	return tm, nil
}

func (tm *TenantMap) reload() error {
	data, err := os.ReadFile(tm.path)
	if err != nil {
		return fmt.Errorf("config: read tenant map %s: %w", tm.path, err)
	}

	var bindings []TenantBinding
	if err := json5.Unmarshal(data, &bindings); err != nil {
		return fmt.Errorf("config: parse tenant map %s: %w", tm.path, err)
	}

	bySender := make(map[string]TenantBinding, len(bindings))
	for _, b := range bindings {
		key := normalizedKey(b.SenderMSISDN)
		if key == "" {
			continue
		}
		if _, dup := bySender[key]; dup {
			return fmt.Errorf("config: duplicate sender_msisdn %q in tenant map", b.SenderMSISDN)
		}
		bySender[key] = b
	}

	tm.current.Store(&tenantMapSnapshot{bySender: bySender})
	return nil
}

// Lookup resolves a (possibly unnormalized) destination MSISDN to its
// TenantBinding. ok is false for an unrouted destination.
func (tm *TenantMap) Lookup(destinationMSISDN string) (TenantBinding, bool) {
	snap := tm.current.Load()
	if snap == nil {
		return TenantBinding{}, false
	}
	b, ok := snap.bySender[normalizedKey(destinationMSISDN)]
	return b, ok
}

// All returns a copy of every binding currently loaded (used by `chatbot routes`).
func (tm *TenantMap) All() []TenantBinding {
	snap := tm.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]TenantBinding, 0, len(snap.bySender))
	for _, b := range snap.bySender {
		out = append(out, b)
	}
	return out
}

// Reload re-reads the tenant map file. A parse failure is logged and
// discarded; the previously loaded map stays live — the spec's "reloaded
// atomically" guarantee means callers never observe a partially-valid map.
func (tm *TenantMap) Reload() {
	if err := tm.reload(); err != nil {
		slog.Error("tenant map reload failed, keeping previous map", "error", err, "path", tm.path)
		return
	}
	slog.Info("tenant map reloaded", "path", tm.path, "bindings", len(tm.All()))
}

// WatchFile starts an fsnotify watch on the tenant map's directory and
// reloads on any write/create/rename touching the file — the concrete
// mechanism behind spec.md's "SIGHUP-equivalent signals". Call Close to
// stop watching.
func (tm *TenantMap) WatchFile() error {
	tm.watchMu.Lock()
	defer tm.watchMu.Unlock()

	if tm.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}

	dir := dirOf(tm.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	tm.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Name == tm.path && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)) {
					tm.Reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("tenant map watcher error", "error", err)
			}
		}
	}()

	return nil
}

// Close stops the file watcher, if any.
func (tm *TenantMap) Close() error {
	tm.watchMu.Lock()
	defer tm.watchMu.Unlock()
	if tm.watcher == nil {
		return nil
	}
	err := tm.watcher.Close()
	tm.watcher = nil
	return err
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
