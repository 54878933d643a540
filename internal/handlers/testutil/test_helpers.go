package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/api"
	"github.com/peonhq/dashboard/internal/app"
	iauth "github.com/peonhq/dashboard/internal/auth"
	"github.com/peonhq/dashboard/internal/console"
	sharedtestutil "github.com/peonhq/dashboard/internal/database/testutil"
	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/internal/orchestrator"
	"github.com/peonhq/dashboard/internal/permissions"
	"github.com/peonhq/dashboard/internal/realtime"
	"github.com/peonhq/dashboard/internal/services"
	"github.com/peonhq/dashboard/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database
// and a fake orchestrator for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	Server   *httptest.Server
	JWT      *iauth.JWTService
	Hub      *realtime.Hub
	Upstream *FakeOrchestrator
	Auditor  *RecordingAuditor
}

// Options tweaks the environment before the router is built.
type Options struct {
	PlansDir   string
	Timeouts   orchestrator.Timeouts
	ConsoleOps console.Options
}

// RecordingAuditor captures audit entries synchronously.
type RecordingAuditor struct {
	mu      sync.Mutex
	entries []services.AuditEntry
	store   *services.AuditService
}

// Record implements services.Auditor and persists the entry so audit endpoints can list it.
func (r *RecordingAuditor) Record(ctx context.Context, entry services.AuditEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	if r.store != nil {
		_ = r.store.Log(ctx, entry)
	}
}

// Actions lists the recorded audit actions in order.
func (r *RecordingAuditor) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Action)
	}
	return out
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T, opts ...Options) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.Timeouts.Request == 0 {
		opt.Timeouts = orchestrator.Timeouts{
			Request: 2 * time.Second,
			Stats:   2 * time.Second,
			Deploy:  2 * time.Second,
			Logs:    2 * time.Second,
			Probe:   2 * time.Second,
			Dial:    2 * time.Second,
		}
	}
	if opt.ConsoleOps.PollInterval == 0 {
		opt.ConsoleOps = console.Options{
			PollInterval: 50 * time.Millisecond,
			ErrorBackoff: 50 * time.Millisecond,
			FetchTimeout: time.Second,
		}
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "test-suite-super-secret-key-32-bytes!!",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)
	authn, err := iauth.NewAuthenticator(jwtSvc, db)
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)
	auditor := &RecordingAuditor{store: auditSvc}

	hub := realtime.NewHub()
	client := orchestrator.NewClient(orchestrator.Options{Timeouts: opt.Timeouts})

	resolver, err := permissions.NewResolver(db)
	require.NoError(t, err)
	orchestrators, err := services.NewOrchestratorService(db, client, auditor)
	require.NoError(t, err)
	grants, err := services.NewGrantService(db, auditor)
	require.NoError(t, err)
	snapshots, err := services.NewSnapshotStore(db)
	require.NoError(t, err)
	proxy, err := services.NewProxyService(orchestrators, resolver, client, snapshots, auditor, services.ProxyOptions{PlansDir: opt.PlansDir})
	require.NoError(t, err)
	features, err := services.NewFeatureService(db, auditor)
	require.NoError(t, err)
	chat, err := services.NewChatService(db, features, hub, auditor)
	require.NoError(t, err)
	users, err := services.NewUserDirectory(db)
	require.NoError(t, err)
	bridge, err := console.NewBridge(authn, proxy, client, opt.ConsoleOps)
	require.NoError(t, err)

	cfg := &app.Config{Server: app.ServerConfig{RateLimit: 1000}}
	router, err := api.NewRouter(cfg, api.Dependencies{
		DB:            db,
		Authenticator: authn,
		Orchestrators: orchestrators,
		Grants:        grants,
		Proxy:         proxy,
		Features:      features,
		Chat:          chat,
		Audit:         auditSvc,
		Users:         users,
		Hub:           hub,
		Console:       bridge,
	})
	require.NoError(t, err)

	env := &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Hub:      hub,
		Upstream: NewFakeOrchestrator(t),
		Auditor:  auditor,
	}
	t.Cleanup(hub.CloseAll)
	return env
}

// StartServer exposes the router on a real listener for websocket tests.
func (e *Env) StartServer() *httptest.Server {
	e.T.Helper()
	if e.Server == nil {
		e.Server = httptest.NewServer(e.Router)
		e.T.Cleanup(e.Server.Close)
	}
	return e.Server
}

// CreateUser inserts an active principal with role.
func (e *Env) CreateUser(username, role string) *models.User {
	e.T.Helper()
	return sharedtestutil.MustCreateUser(e.T, e.DB, username, role)
}

// Token issues an access token for user.
func (e *Env) Token(user *models.User) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	})
	require.NoError(e.T, err)
	return token
}

// RegisterOrchestrator stores an orchestrator pointing at the fake upstream.
func (e *Env) RegisterOrchestrator(name string) *models.Orchestrator {
	e.T.Helper()
	return sharedtestutil.MustCreateOrchestrator(e.T, e.DB, name, e.Upstream.URL)
}

// GrantInstance gives user full access to orch.
func (e *Env) GrantInstance(user *models.User, orch *models.Orchestrator) {
	e.T.Helper()
	require.NoError(e.T, e.DB.Create(&models.InstanceGrant{UserID: user.ID, OrchestratorID: orch.ID}).Error)
}

// GrantServer gives user access to one server on orch.
func (e *Env) GrantServer(user *models.User, orch *models.Orchestrator, uid string) {
	e.T.Helper()
	require.NoError(e.T, e.DB.Create(&models.ServerGrant{UserID: user.ID, OrchestratorID: orch.ID, ServerUID: uid}).Error)
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
