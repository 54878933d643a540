package services

import (
	"context"

	"github.com/peonhq/dashboard/internal/auditctx"
)

// Auditor accepts audit entries without reporting failures to the caller.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry)
}

// recordAudit fills the actor from ctx when the entry leaves it blank and hands
// the entry to audit.
func recordAudit(audit Auditor, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.ActorID == "" {
			entry.ActorID = actor.UserID
		}
		if entry.ActorUsername == "" {
			entry.ActorUsername = actor.Username
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
	}
	audit.Record(ctx, entry)
}
