package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/auditctx"
	"github.com/peonhq/dashboard/internal/database/testutil"
	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/internal/orchestrator"
	"github.com/peonhq/dashboard/internal/permissions"
)

type recordingAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAuditor) Record(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAuditor) Entries() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []map[string]any
}

func (r *recordingBroadcaster) Broadcast(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := event.(map[string]any); ok {
		r.events = append(r.events, m)
	}
}

func (r *recordingBroadcaster) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		t, _ := event["type"].(string)
		out = append(out, t)
	}
	return out
}

// fakeUpstream counts requests so tests can assert that denied calls never leave the gateway.
type fakeUpstream struct {
	*httptest.Server

	mu       sync.Mutex
	requests []*http.Request
}

func newFakeUpstream(t *testing.T, handler http.HandlerFunc) *fakeUpstream {
	t.Helper()

	up := &fakeUpstream{}
	up.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.mu.Lock()
		up.requests = append(up.requests, r.Clone(context.Background()))
		up.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(up.Close)
	return up
}

func (f *fakeUpstream) Hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeUpstream) Last() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type proxyFixture struct {
	db       *gorm.DB
	proxy    *ProxyService
	orchs    *OrchestratorService
	grants   *GrantService
	audit    *recordingAuditor
	admin    *models.User
	user     *models.User
	snapshot *SnapshotStore
}

func newProxyFixture(t *testing.T, timeouts orchestrator.Timeouts, plansDir string) *proxyFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	audit := &recordingAuditor{}
	client := orchestrator.NewClient(orchestrator.Options{Timeouts: timeouts})

	orchs, err := NewOrchestratorService(db, client, audit)
	require.NoError(t, err)
	grants, err := NewGrantService(db, audit)
	require.NoError(t, err)
	snapshots, err := NewSnapshotStore(db)
	require.NoError(t, err)
	resolver, err := permissions.NewResolver(db)
	require.NoError(t, err)

	proxy, err := NewProxyService(orchs, resolver, client, snapshots, audit, ProxyOptions{
		PlansDir: plansDir,
		Clock:    func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)

	return &proxyFixture{
		db:       db,
		proxy:    proxy,
		orchs:    orchs,
		grants:   grants,
		audit:    audit,
		admin:    testutil.MustCreateUser(t, db, "admin", models.RoleAdmin),
		user:     testutil.MustCreateUser(t, db, "peon", models.RoleUser),
		snapshot: snapshots,
	}
}

func actorContext(user *models.User) context.Context {
	return auditctx.WithActor(context.Background(), auditctx.ForUser(user, "127.0.0.1"))
}
