package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peonhq/dashboard/internal/app/maintenance"
	sharedtestutil "github.com/peonhq/dashboard/internal/database/testutil"
	"github.com/peonhq/dashboard/internal/monitoring"
	"github.com/peonhq/dashboard/internal/monitoring/checks"
)

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(
		monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		}),
		monitoring.NewCheck("sync", func(ctx context.Context) monitoring.ProbeResult {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "stale"}
		}),
	)

	report := manager.Evaluate(context.Background())
	require.False(t, report.Healthy())
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "sync", report.Checks[1].Component)

	manager.Register(monitoring.NewCheck("upstream", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown}
	}))
	require.Equal(t, monitoring.StatusDown, manager.Evaluate(context.Background()).Status)
}

func TestHealthManagerRecoversPanickingProbe(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(monitoring.NewCheck("flaky", func(ctx context.Context) monitoring.ProbeResult {
		panic("boom")
	}))

	report := manager.Evaluate(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, "boom", report.Checks[0].Details)
	require.Equal(t, "flaky", report.Checks[0].Component)
}

func TestResultFromError(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitoring.StatusUp, monitoring.ResultFromError("db", nil, time.Millisecond).Status)
	require.Equal(t, monitoring.StatusDegraded, monitoring.ResultFromError("db", context.DeadlineExceeded, 0).Status)

	down := monitoring.ResultFromError("db", errors.New("connection refused"), -time.Second)
	require.Equal(t, monitoring.StatusDown, down.Status)
	require.Zero(t, down.Duration)
	require.Equal(t, "connection refused", down.Details)
}

func TestDatabaseCheck(t *testing.T) {
	db := sharedtestutil.MustOpenTestDB(t)

	result := checks.Database(db, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	missing := checks.Database(nil, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, missing.Status)
}

type stubSync struct {
	status maintenance.SyncStatus
}

func (s stubSync) Status() maintenance.SyncStatus { return s.status }

func TestSyncCheck(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	pending := checks.Sync(stubSync{}, time.Hour, clock).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, pending.Status)

	fresh := checks.Sync(stubSync{maintenance.SyncStatus{TotalRuns: 3, LastRunAt: now.Add(-time.Minute)}}, time.Hour, clock).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, fresh.Status)

	stale := checks.Sync(stubSync{maintenance.SyncStatus{TotalRuns: 3, LastRunAt: now.Add(-2 * time.Hour)}}, time.Hour, clock).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, stale.Status)
	require.Contains(t, stale.Details, "stale run")

	failing := checks.Sync(stubSync{maintenance.SyncStatus{TotalRuns: 2, ConsecutiveFailures: 2, LastError: "sync eu: timeout", LastRunAt: now}}, time.Hour, clock).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, failing.Status)
	require.Contains(t, failing.Details, "sync eu: timeout")

	var none checks.SyncReporter
	require.Equal(t, monitoring.StatusDegraded, checks.Sync(none, 0, nil).Run(context.Background()).Status)
}

type stubPresence []string

func (s stubPresence) Online() []string { return s }

func TestPresenceCheck(t *testing.T) {
	t.Parallel()

	result := checks.Presence(stubPresence{"a", "b"}).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "2 online", result.Details)
}
