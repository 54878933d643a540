package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/peonhq/dashboard/internal/app/maintenance"
	"github.com/peonhq/dashboard/internal/monitoring"
)

// SyncReporter exposes the synchronizer's run history.
type SyncReporter interface {
	Status() maintenance.SyncStatus
}

// Sync reports the cache synchronizer as degraded when its last cycle failed
// or is older than maxAge. A synchronizer that has not run yet is up.
func Sync(reporter SyncReporter, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("sync", func(ctx context.Context) monitoring.ProbeResult {
		if reporter == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "synchronizer not running"}
		}

		status := reporter.Status()
		switch {
		case status.TotalRuns == 0:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "pending first run"}
		case status.ConsecutiveFailures > 0:
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: fmt.Sprintf("%d consecutive failures: %s", status.ConsecutiveFailures, status.LastError),
			}
		case maxAge > 0 && now().Sub(status.LastRunAt) > maxAge:
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: "stale run " + status.LastRunAt.UTC().Format(time.RFC3339),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}
