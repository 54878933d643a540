package handlers_test

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peonhq/dashboard/internal/handlers/testutil"
	"github.com/peonhq/dashboard/internal/models"
)

func seedServers(env *testutil.Env) {
	env.Upstream.SetServers(
		map[string]any{"game_uid": "valheim", "servername": "main", "container_state": "running"},
		map[string]any{"game_uid": "valheim", "servername": "test", "container_state": "exited"},
		map[string]any{"game_uid": "factorio", "servername": "space", "container_state": "running"},
	)
}

func serverUIDs(t *testing.T, resp testutil.APIResponse) []string {
	t.Helper()
	var list struct {
		Servers []map[string]any `json:"servers"`
	}
	testutil.DecodeInto(t, resp.Data, &list)
	out := make([]string, 0, len(list.Servers))
	for _, server := range list.Servers {
		out = append(out, server["game_uid"].(string)+"."+server["servername"].(string))
	}
	return out
}

func TestProxyHandler_ListServersFiltersByGrants(t *testing.T) {
	env := testutil.NewEnv(t)
	seedServers(env)
	admin := env.CreateUser("root", models.RoleAdmin)
	full := env.CreateUser("alice", models.RoleUser)
	narrow := env.CreateUser("bob", models.RoleUser)
	orch := env.RegisterOrchestrator("alpha")
	env.GrantInstance(full, orch)
	env.GrantServer(narrow, orch, "valheim.main")

	path := "/api/proxy/" + orch.ID + "/servers"

	adminResp := env.Request(http.MethodGet, path, nil, env.Token(admin))
	require.Equal(t, http.StatusOK, adminResp.Code, adminResp.Body.String())
	adminPayload := testutil.DecodeResponse(t, adminResp)
	require.Len(t, serverUIDs(t, adminPayload), 3)

	fullResp := env.Request(http.MethodGet, path, nil, env.Token(full))
	fullPayload := testutil.DecodeResponse(t, fullResp)
	require.Len(t, serverUIDs(t, fullPayload), 3)

	narrowResp := env.Request(http.MethodGet, path, nil, env.Token(narrow))
	require.Equal(t, http.StatusOK, narrowResp.Code)
	narrowPayload := testutil.DecodeResponse(t, narrowResp)
	require.Equal(t, []string{"valheim.main"}, serverUIDs(t, narrowPayload))

	call := env.Upstream.LastCall()
	require.Equal(t, "servers", call.Path)
	require.Equal(t, "test-key", call.APIKey)

	var cached int64
	require.NoError(t, env.DB.Model(&models.CachedServer{}).Where("orchestrator_id = ?", orch.ID).Count(&cached).Error)
	require.EqualValues(t, 3, cached)
}

func TestProxyHandler_DeniedRequestsNeverReachUpstream(t *testing.T) {
	env := testutil.NewEnv(t)
	seedServers(env)
	outsider := env.CreateUser("mallory", models.RoleUser)
	narrow := env.CreateUser("bob", models.RoleUser)
	orch := env.RegisterOrchestrator("alpha")
	env.GrantServer(narrow, orch, "valheim.main")

	base := "/api/proxy/" + orch.ID
	require.Equal(t, http.StatusForbidden, env.Request(http.MethodGet, base+"/servers", nil, env.Token(outsider)).Code)
	require.Equal(t, http.StatusForbidden, env.Request(http.MethodGet, base+"/server/info/valheim.main", nil, env.Token(outsider)).Code)
	require.Equal(t, http.StatusForbidden, env.Request(http.MethodGet, base+"/server/info/factorio.space", nil, env.Token(narrow)).Code)
	require.Equal(t, http.StatusForbidden, env.Request(http.MethodGet, base+"/server/stats/factorio.space", nil, env.Token(narrow)).Code)
	require.Equal(t, http.StatusForbidden, env.Request(http.MethodGet, base+"/anything/else", nil, env.Token(outsider)).Code)

	require.Empty(t, env.Upstream.Calls())
}

func TestProxyHandler_ServerInfoAndStats(t *testing.T) {
	env := testutil.NewEnv(t)
	seedServers(env)
	narrow := env.CreateUser("bob", models.RoleUser)
	orch := env.RegisterOrchestrator("alpha")
	env.GrantServer(narrow, orch, "valheim.main")
	token := env.Token(narrow)

	info := env.Request(http.MethodGet, "/api/proxy/"+orch.ID+"/server/info/valheim.main", nil, token)
	require.Equal(t, http.StatusOK, info.Code, info.Body.String())
	var record map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, info).Data, &record)
	require.Equal(t, "running", record["container_state"])
	require.Equal(t, "server/get/valheim.main", env.Upstream.LastCall().Path)

	stats := env.Request(http.MethodGet, "/api/proxy/"+orch.ID+"/server/stats/valheim.main", nil, token)
	require.Equal(t, http.StatusOK, stats.Code)
	var usage map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, stats).Data, &usage)
	require.EqualValues(t, 12.5, usage["cpu_percent"])

	env.Upstream.FailPath("server/stats/valheim.main", http.StatusNotFound)
	derived := env.Request(http.MethodGet, "/api/proxy/"+orch.ID+"/server/stats/valheim.main", nil, token)
	require.Equal(t, http.StatusOK, derived.Code)
	testutil.DecodeInto(t, testutil.DecodeResponse(t, derived).Data, &usage)
	require.Equal(t, "healthy", usage["health"])

	env.Upstream.FailPath("server/get/valheim.main", http.StatusBadGateway)
	failed := env.Request(http.MethodGet, "/api/proxy/"+orch.ID+"/server/info/valheim.main", nil, token)
	require.Equal(t, http.StatusBadGateway, failed.Code)
}

func TestProxyHandler_DeployIsAdminOnly(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := env.CreateUser("root", models.RoleAdmin)
	member := env.CreateUser("alice", models.RoleUser)
	orch := env.RegisterOrchestrator("alpha")
	env.GrantInstance(member, orch)

	body := map[string]any{
		"game_uid":    "valheim",
		"server_name": "fresh",
		"environment": map[string]any{"WORLD": "midgard", "game_uid": "spoofed"},
	}
	path := "/api/proxy/" + orch.ID + "/deploy"

	denied := env.Request(http.MethodPost, path, body, env.Token(member))
	require.Equal(t, http.StatusForbidden, denied.Code)
	require.Empty(t, env.Upstream.Calls())

	invalid := env.Request(http.MethodPost, path, map[string]any{"game_uid": "valheim"}, env.Token(admin))
	require.Equal(t, http.StatusBadRequest, invalid.Code)

	accepted := env.Request(http.MethodPost, path, body, env.Token(admin))
	require.Equal(t, http.StatusOK, accepted.Code, accepted.Body.String())
	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, accepted).Data, &result)
	require.True(t, result.Success)

	call := env.Upstream.LastCall()
	require.Equal(t, http.MethodPost, call.Method)
	require.Equal(t, "server/create", call.Path)
	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(call.Body), &sent))
	require.Equal(t, "valheim", sent["game_uid"])
	require.Equal(t, "fresh", sent["servername"])
	require.Equal(t, "midgard", sent["WORLD"])
}

func TestProxyHandler_ServerActions(t *testing.T) {
	env := testutil.NewEnv(t)
	seedServers(env)
	admin := env.CreateUser("root", models.RoleAdmin)
	member := env.CreateUser("alice", models.RoleUser)
	orch := env.RegisterOrchestrator("alpha")
	env.GrantInstance(member, orch)
	base := "/api/proxy/" + orch.ID

	denied := env.Request(http.MethodPut, base+"/server/restart/valheim.main", nil, env.Token(member))
	require.Equal(t, http.StatusForbidden, denied.Code)
	require.Equal(t, "ADMIN_REQUIRED", testutil.DecodeResponse(t, denied).Error.Code)
	require.Empty(t, env.Upstream.Calls())

	restarted := env.Request(http.MethodPut, base+"/server/restart/valheim.main", nil, env.Token(admin))
	require.Equal(t, http.StatusOK, restarted.Code, restarted.Body.String())
	require.Equal(t, "server/restart/valheim.main", env.Upstream.LastCall().Path)

	updated := env.Request(http.MethodPut, base+"/server/update/valheim.main", map[string]any{"mode": "quick"}, env.Token(admin))
	require.Equal(t, http.StatusOK, updated.Code)
	require.JSONEq(t, `{"mode":"quick"}`, env.Upstream.LastCall().Body)

	defaulted := env.Request(http.MethodPut, base+"/server/update/valheim.main", nil, env.Token(admin))
	require.Equal(t, http.StatusOK, defaulted.Code)
	require.JSONEq(t, `{"mode":"full"}`, env.Upstream.LastCall().Body)

	badMode := env.Request(http.MethodPut, base+"/server/update/valheim.main", map[string]any{"mode": "turbo"}, env.Token(admin))
	require.Equal(t, http.StatusBadRequest, badMode.Code)

	env.Upstream.FailPath("server/stop/valheim.main", http.StatusConflict)
	conflict := env.Request(http.MethodPut, base+"/server/stop/valheim.main", nil, env.Token(admin))
	require.Equal(t, http.StatusConflict, conflict.Code)

	require.Contains(t, env.Auditor.Actions(), "action")
}

func TestProxyHandler_PassthroughRelaysUpstream(t *testing.T) {
	env := testutil.NewEnv(t)
	member := env.CreateUser("alice", models.RoleUser)
	orch := env.RegisterOrchestrator("alpha")
	env.GrantInstance(member, orch)
	token := env.Token(member)

	resp := env.Request(http.MethodGet, "/api/proxy/"+orch.ID+"/games/list?page=2", nil, token)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var relayed map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &relayed))
	require.Equal(t, "games/list", relayed["path"])
	require.NotContains(t, relayed, "success")
	require.Equal(t, "page=2", env.Upstream.LastCall().Query)

	env.Upstream.FailPath("games/missing", http.StatusNotFound)
	missing := env.Request(http.MethodGet, "/api/proxy/"+orch.ID+"/games/missing", nil, token)
	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Contains(t, missing.Body.String(), "orchestrator refused")

	control := env.Request(http.MethodPost, "/api/proxy/"+orch.ID+"/server/delete/valheim.main", nil, token)
	require.Equal(t, http.StatusForbidden, control.Code)

	patch := env.Request(http.MethodPatch, "/api/proxy/"+orch.ID+"/games/list", nil, token)
	require.Equal(t, http.StatusMethodNotAllowed, patch.Code)
}

func TestProxyHandler_PassthroughRespectsServerGrants(t *testing.T) {
	env := testutil.NewEnv(t)
	member := env.CreateUser("alice", models.RoleUser)
	orch := env.RegisterOrchestrator("alpha")
	env.GrantServer(member, orch, "valheim.main")
	token := env.Token(member)

	other := env.Request(http.MethodGet, "/api/proxy/"+orch.ID+"/server/get/palworld.eu", nil, token)
	require.Equal(t, http.StatusForbidden, other.Code)
	require.Empty(t, env.Upstream.Calls())

	own := env.Request(http.MethodGet, "/api/proxy/"+orch.ID+"/mods/valheim.main", nil, token)
	require.Equal(t, http.StatusOK, own.Code, own.Body.String())
	require.Equal(t, "mods/valheim.main", env.Upstream.LastCall().Path)
}

func TestProxyHandler_Plans(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "valheim"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "valheim", "plan.json"), []byte(`{"name":"Valheim","ports":[2456]}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "broken"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken", "plan.json"), []byte(`{not json`), 0o644))

	env := testutil.NewEnv(t, testutil.Options{PlansDir: dir})
	member := env.CreateUser("alice", models.RoleUser)

	resp := env.Request(http.MethodGet, "/api/proxy/plans", nil, env.Token(member))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var plans []map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &plans)
	require.Len(t, plans, 1)
	require.Equal(t, "valheim", plans[0]["game_uid"])
	require.Equal(t, "Valheim", plans[0]["name"])
}
