package checks

import (
	"context"
	"fmt"

	"github.com/peonhq/dashboard/internal/monitoring"
)

// PresenceObserver exposes the connected chat principals.
type PresenceObserver interface {
	Online() []string
}

// Presence reports the number of principals connected to the chat hub.
func Presence(observer PresenceObserver) monitoring.Check {
	return monitoring.NewCheck("presence", func(ctx context.Context) monitoring.ProbeResult {
		if observer == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "presence hub unavailable"}
		}
		return monitoring.ProbeResult{
			Status:  monitoring.StatusUp,
			Details: fmt.Sprintf("%d online", len(observer.Online())),
		}
	})
}
