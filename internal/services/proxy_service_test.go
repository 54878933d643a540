package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peonhq/dashboard/internal/database/testutil"
	"github.com/peonhq/dashboard/internal/orchestrator"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
)

const threeServers = `[
	{"game_uid":"valheim","servername":"main","container_state":"running"},
	{"game_uid":"valheim","servername":"test","container_state":"exited"},
	{"game_uid":"palworld","servername":"eu","container_state":"running"}
]`

func serveServers(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/servers" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, threeServers)
		return
	}
	http.NotFound(w, r)
}

func TestListServersFiltersToServerGrants(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, serveServers)
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	_, err := fx.grants.GrantServer(context.Background(), ServerGrantInput{
		UserID: fx.user.ID, OrchestratorID: orch.ID, ServerUID: "valheim.main",
	})
	require.NoError(t, err)

	list, err := fx.proxy.ListServers(context.Background(), fx.user, orch.ID)
	require.NoError(t, err)
	require.Len(t, list.Servers, 1)
	require.Equal(t, "valheim.main", list.Servers[0].UID())

	// the cache keeps the full fetched list, not the filtered view
	rows, err := fx.snapshot.Snapshot(context.Background(), orch.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestListServersInstanceGrantSeesEverything(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, serveServers)
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	_, err := fx.grants.GrantInstance(context.Background(), InstanceGrantInput{UserID: fx.user.ID, OrchestratorID: orch.ID})
	require.NoError(t, err)

	list, err := fx.proxy.ListServers(context.Background(), fx.user, orch.ID)
	require.NoError(t, err)
	require.Len(t, list.Servers, 3)

	admin, err := fx.proxy.ListServers(context.Background(), fx.admin, orch.ID)
	require.NoError(t, err)
	require.Len(t, admin.Servers, 3)
	require.Equal(t, "test-key", up.Last().Header.Get(orchestrator.APIKeyHeader))
}

func TestListServersDeniedWithoutGrants(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, serveServers)
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	_, err := fx.proxy.ListServers(context.Background(), fx.user, orch.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.Zero(t, up.Hits())
}

func TestListServersRejectsInactiveOrchestrator(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, serveServers)
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)
	require.NoError(t, fx.db.Model(orch).Update("is_active", false).Error)

	_, err := fx.proxy.ListServers(context.Background(), fx.admin, orch.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Zero(t, up.Hits())
}

func TestServerActionControlRequiresAdmin(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	_, err := fx.grants.GrantServer(context.Background(), ServerGrantInput{
		UserID: fx.user.ID, OrchestratorID: orch.ID, ServerUID: "valheim.main", Permission: "write",
	})
	require.NoError(t, err)

	for _, action := range []string{"start", "stop", "restart", "update", "create", "delete"} {
		_, err := fx.proxy.ServerAction(context.Background(), fx.user, orch.ID, action, "valheim.main", "")
		require.ErrorIs(t, err, apperrors.ErrAdminRequired, action)
	}
	require.Zero(t, up.Hits())

	out, err := fx.proxy.ServerAction(actorContext(fx.admin), fx.admin, orch.ID, "restart", "valheim.main", "")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"status": "ok"}, out)
	require.Equal(t, http.MethodPut, up.Last().Method)
	require.Equal(t, "/api/v1/server/restart/valheim.main", up.Last().URL.Path)
	require.NotEmpty(t, fx.audit.Entries())
}

func TestServerActionUpdateDefaultsToFullMode(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	var body map[string]string
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, `{}`)
	})
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	_, err := fx.proxy.ServerAction(context.Background(), fx.admin, orch.ID, "update", "valheim.main", "")
	require.NoError(t, err)
	require.Equal(t, "full", body["mode"])
}

func TestServerActionRelaysUpstreamFailure(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"info":"server already running"}`)
	})
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	_, err := fx.proxy.ServerAction(context.Background(), fx.admin, orch.ID, "start", "valheim.main", "")
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusConflict, appErr.StatusCode)
	require.Equal(t, "server already running", appErr.Message)
}

func TestServerInfoTimeoutMapsToGatewayTimeout(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{Request: 50 * time.Millisecond}, "")
	release := make(chan struct{})
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	_, err := fx.proxy.ServerInfo(context.Background(), fx.admin, orch.ID, "valheim.main")
	require.ErrorIs(t, err, apperrors.ErrGatewayTimeout)
}

func TestServerInfoTransportFailure(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", "http://127.0.0.1:1")

	_, err := fx.proxy.ServerInfo(context.Background(), fx.admin, orch.ID, "valheim.main")
	require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

func TestServerStatsFallsBackToInfo(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/server/stats/valheim.main":
			http.NotFound(w, r)
		case "/api/v1/server/get/valheim.main":
			_, _ = io.WriteString(w, `{"time":"3h","container_state":"running","server_config":{"players":2,"max_players":10}}`)
		default:
			http.NotFound(w, r)
		}
	})
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	out, err := fx.proxy.ServerStats(context.Background(), fx.admin, orch.ID, "valheim.main")
	require.NoError(t, err)
	stats := out.(map[string]any)
	require.Equal(t, "3h", stats["uptime"])
	require.Equal(t, float64(2), stats["players"])
	require.Equal(t, float64(10), stats["max_players"])
	require.Equal(t, "healthy", stats["health"])
}

func TestServerStatsUnavailable(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	out, err := fx.proxy.ServerStats(context.Background(), fx.admin, orch.ID, "valheim.main")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"message": "Stats not available"}, out)
}

func TestDeployRequiresAdminAndMergesEnvironment(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	var body map[string]any
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"status":"queued"}`)
	})
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	req := DeployRequest{
		GameUID:     "valheim",
		ServerName:  "main",
		Environment: map[string]any{"WORLD": "Dvergr", "game_uid": "ignored"},
	}

	_, err := fx.proxy.Deploy(context.Background(), fx.user, orch.ID, req)
	require.ErrorIs(t, err, apperrors.ErrAdminRequired)
	require.Zero(t, up.Hits())

	res, err := fx.proxy.Deploy(context.Background(), fx.admin, orch.ID, req)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "Server deployment initiated", res.Message)
	require.Equal(t, "valheim", body["game_uid"])
	require.Equal(t, "main", body["servername"])
	require.Equal(t, "Dvergr", body["WORLD"])
	require.Equal(t, "/api/v1/server/create", up.Last().URL.Path)
}

func TestDeployValidatesRequest(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", "http://unused")

	_, err := fx.proxy.Deploy(context.Background(), fx.admin, orch.ID, DeployRequest{GameUID: "valheim"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestPassthroughGatesControlPaths(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "plain text")
	})
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)
	_, err := fx.grants.GrantInstance(context.Background(), InstanceGrantInput{UserID: fx.user.ID, OrchestratorID: orch.ID})
	require.NoError(t, err)

	_, err = fx.proxy.Passthrough(context.Background(), fx.user, orch.ID, http.MethodPost, "server/restart/valheim.main", nil)
	require.ErrorIs(t, err, apperrors.ErrAdminRequired)
	require.Zero(t, up.Hits())

	res, err := fx.proxy.Passthrough(context.Background(), fx.user, orch.ID, http.MethodGet, "metrics/summary?window=1h", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Equal(t, map[string]any{"result": "plain text"}, res.Payload)
	require.Equal(t, "/api/v1/metrics/summary", up.Last().URL.Path)
	require.Equal(t, "1h", up.Last().URL.Query().Get("window"))

	_, err = fx.proxy.Passthrough(context.Background(), fx.user, orch.ID, http.MethodPatch, "metrics", nil)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusMethodNotAllowed, appErr.StatusCode)
}

func TestPassthroughHonoursServerGrants(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/servers" {
			serveServers(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"path":"`+r.URL.Path+`"}`)
	})
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)
	_, err := fx.grants.GrantServer(context.Background(), ServerGrantInput{
		UserID: fx.user.ID, OrchestratorID: orch.ID, ServerUID: "valheim.main",
	})
	require.NoError(t, err)

	_, err = fx.proxy.Passthrough(context.Background(), fx.user, orch.ID, http.MethodGet, "server/get/palworld.eu", nil)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = fx.proxy.Passthrough(context.Background(), fx.user, orch.ID, http.MethodGet, "metrics/summary", nil)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.Zero(t, up.Hits())

	own, err := fx.proxy.Passthrough(context.Background(), fx.user, orch.ID, http.MethodGet, "server/get/valheim.main", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"path": "/api/v1/server/get/valheim.main"}, own.Payload)

	listed, err := fx.proxy.Passthrough(context.Background(), fx.user, orch.ID, http.MethodGet, "servers", nil)
	require.NoError(t, err)
	servers, ok := listed.Payload.([]orchestrator.Server)
	require.True(t, ok)
	require.Len(t, servers, 1)
	require.Equal(t, "valheim.main", servers[0].UID())

	full, err := fx.proxy.Passthrough(context.Background(), fx.admin, orch.ID, http.MethodGet, "servers", nil)
	require.NoError(t, err)
	require.Len(t, full.Payload, 3)
}

func TestPassthroughBodyHandling(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	var (
		mu       sync.Mutex
		received []byte
	)
	body := func() string {
		mu.Lock()
		defer mu.Unlock()
		return string(received)
	}
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = raw
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	_, err := fx.proxy.Passthrough(context.Background(), fx.admin, orch.ID, http.MethodPost, "games/import", []byte("name=valheim"))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	require.Zero(t, up.Hits())

	_, err = fx.proxy.Passthrough(context.Background(), fx.admin, orch.ID, http.MethodPost, "games/import", []byte(`{"name":"valheim"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"valheim"}`, body())
	require.Equal(t, "application/json", up.Last().Header.Get("Content-Type"))

	_, err = fx.proxy.Passthrough(context.Background(), fx.admin, orch.ID, http.MethodPut, "games/import", nil)
	require.NoError(t, err)
	require.Empty(t, body())
}

func TestLogsReturnsLinesAndDefaults(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"logs":["a","b"]}`)
	})
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	res, err := fx.proxy.Logs(context.Background(), fx.admin, orch.ID, "valheim.main", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, res.Logs)
	require.Equal(t, DefaultLogLines, res.Lines)
	require.Equal(t, "100", up.Last().URL.Query().Get("lines"))
}

func TestLogsDegradesToPlaceholder(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	missing := testutil.MustCreateOrchestrator(t, fx.db, "no-logs", up.URL)
	down := testutil.MustCreateOrchestrator(t, fx.db, "down", "http://127.0.0.1:1")

	res, err := fx.proxy.Logs(context.Background(), fx.admin, missing.ID, "valheim.main", 10)
	require.NoError(t, err)
	require.NotEmpty(t, res.Logs)
	require.NotEmpty(t, res.Note)
	require.Empty(t, res.Error)

	res, err = fx.proxy.Logs(context.Background(), fx.admin, down.ID, "valheim.main", 10)
	require.NoError(t, err)
	require.NotEmpty(t, res.Logs)
	require.NotEmpty(t, res.Error)
}

func TestLogsDeniedWithoutServerAccess(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{"logs":[]}`) })
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", up.URL)

	_, err := fx.grants.GrantServer(context.Background(), ServerGrantInput{
		UserID: fx.user.ID, OrchestratorID: orch.ID, ServerUID: "valheim.main",
	})
	require.NoError(t, err)

	_, err = fx.proxy.Logs(context.Background(), fx.user, orch.ID, "palworld.eu", 10)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.Zero(t, up.Hits())
}

func TestPlansReadsPlanDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "valheim"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "valheim", "plan.json"), []byte(`{"name":"Valheim"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "broken"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken", "plan.json"), []byte(`{`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte(`x`), 0o644))

	fx := newProxyFixture(t, orchestrator.Timeouts{}, dir)
	plans, err := fx.proxy.Plans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, "valheim", plans[0]["game_uid"])
	require.Equal(t, "Valheim", plans[0]["name"])

	empty := newProxyFixture(t, orchestrator.Timeouts{}, filepath.Join(dir, "missing"))
	plans, err = empty.proxy.Plans(context.Background())
	require.NoError(t, err)
	require.Empty(t, plans)
}

func TestResolveServerRequiresPrincipal(t *testing.T) {
	fx := newProxyFixture(t, orchestrator.Timeouts{}, "")
	orch := testutil.MustCreateOrchestrator(t, fx.db, "eu-1", "http://unused")

	_, err := fx.proxy.ResolveServer(context.Background(), nil, orch.ID, "valheim.main")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	got, err := fx.proxy.ResolveServer(context.Background(), fx.admin, orch.ID, "valheim.main")
	require.NoError(t, err)
	require.Equal(t, orch.ID, got.ID)
}
