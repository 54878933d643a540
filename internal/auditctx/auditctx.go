package auditctx

import (
	"context"

	"github.com/peonhq/dashboard/internal/models"
)

// Actor identifies who triggered an audited operation and from where.
type Actor struct {
	UserID    string
	Username  string
	IPAddress string
}

type actorContextKey struct{}

// ForUser builds an Actor for an authenticated principal.
func ForUser(user *models.User, ip string) Actor {
	if user == nil {
		return Actor{IPAddress: ip}
	}
	return Actor{UserID: user.ID, Username: user.Username, IPAddress: ip}
}

// WithActor injects actor metadata into ctx for the service layer to pick up when auditing.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
