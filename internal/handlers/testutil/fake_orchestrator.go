package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// RecordedCall is one request observed by FakeOrchestrator.
type RecordedCall struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Body   string
}

// FakeOrchestrator is an in-process orchestrator serving /api/v1. Servers are
// addressed as <game_uid>.<servername>; FailPath overrides the reply for a path.
type FakeOrchestrator struct {
	*httptest.Server

	mu      sync.Mutex
	servers []map[string]any
	logs    []string
	status  map[string]int
	calls   []RecordedCall
}

// NewFakeOrchestrator starts a fake orchestrator that is closed with the test.
func NewFakeOrchestrator(t *testing.T) *FakeOrchestrator {
	t.Helper()

	f := &FakeOrchestrator{status: map[string]int{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// SetServers replaces the server listing.
func (f *FakeOrchestrator) SetServers(servers ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers = servers
}

// SetLogs replaces the console lines returned by the logs endpoint.
func (f *FakeOrchestrator) SetLogs(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = lines
}

// FailPath makes requests to path (relative to /api/v1/) answer with status.
func (f *FakeOrchestrator) FailPath(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[strings.Trim(path, "/")] = status
}

// Calls returns a copy of the observed requests.
func (f *FakeOrchestrator) Calls() []RecordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// LastCall returns the most recent request or the zero value.
func (f *FakeOrchestrator) LastCall() RecordedCall {
	calls := f.Calls()
	if len(calls) == 0 {
		return RecordedCall{}
	}
	return calls[len(calls)-1]
}

func (f *FakeOrchestrator) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1"), "/")

	f.mu.Lock()
	f.calls = append(f.calls, RecordedCall{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.RawQuery,
		APIKey: r.Header.Get("X-Api-Key"),
		Body:   string(body),
	})
	status, failing := f.status[path]
	servers := f.servers
	logs := f.logs
	f.mu.Unlock()

	if failing {
		writeJSON(w, status, map[string]any{"detail": "orchestrator refused"})
		return
	}

	segments := strings.Split(path, "/")
	switch {
	case path == "orchestrator":
		writeJSON(w, http.StatusOK, map[string]any{"version": "1.4.2"})
	case path == "servers":
		if servers == nil {
			servers = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, servers)
	case len(segments) == 3 && segments[0] == "server" && segments[1] == "get":
		for _, server := range servers {
			if serverUID(server) == segments[2] {
				writeJSON(w, http.StatusOK, server)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Server not found"})
	case len(segments) == 3 && segments[0] == "server" && segments[1] == "stats":
		writeJSON(w, http.StatusOK, map[string]any{"cpu_percent": 12.5, "memory_usage": 512})
	case len(segments) == 3 && segments[0] == "server" && segments[1] == "logs":
		if logs == nil {
			logs = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
	case path == "server/create":
		writeJSON(w, http.StatusCreated, map[string]any{"status": "queued"})
	case len(segments) == 3 && segments[0] == "server":
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "action": segments[1]})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"path": path, "method": r.Method})
	}
}

func serverUID(server map[string]any) string {
	game, _ := server["game_uid"].(string)
	name, _ := server["servername"].(string)
	return game + "." + name
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
