package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/pkg/metrics"
)

// Resolver answers instance and server access questions from the grant tables.
// Administrators bypass every check. It never writes.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a resolver backed by the provided database.
func NewResolver(db *gorm.DB) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("access resolver: db is required")
	}
	return &Resolver{db: db}, nil
}

// CanAccessInstance reports whether principal may act on the orchestrator at all.
// Holding an instance grant or at least one server grant on it qualifies.
func (r *Resolver) CanAccessInstance(ctx context.Context, principal *models.User, orchestratorID string) (bool, error) {
	ok, err := r.canAccessInstance(ensureContext(ctx), principal, orchestratorID)
	recordCheck("instance", ok, err)
	return ok, err
}

func (r *Resolver) canAccessInstance(ctx context.Context, principal *models.User, orchestratorID string) (bool, error) {
	if principal == nil {
		return false, nil
	}
	if principal.IsAdmin() {
		return true, nil
	}

	hasInstance, err := r.hasInstanceGrant(ctx, principal.ID, orchestratorID)
	if err != nil || hasInstance {
		return hasInstance, err
	}

	count, err := r.countServerGrants(ctx, principal.ID, orchestratorID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CanAccessServer reports whether principal may act on one server. Server grants,
// when present for the pair, restrict access to the granted uids; otherwise
// instance access implies access to every server.
func (r *Resolver) CanAccessServer(ctx context.Context, principal *models.User, orchestratorID, serverUID string) (bool, error) {
	ok, err := r.canAccessServer(ensureContext(ctx), principal, orchestratorID, serverUID)
	recordCheck("server", ok, err)
	return ok, err
}

func (r *Resolver) canAccessServer(ctx context.Context, principal *models.User, orchestratorID, serverUID string) (bool, error) {
	if principal == nil {
		return false, nil
	}
	if principal.IsAdmin() {
		return true, nil
	}

	allowed, all, err := r.allowedServerIDs(ctx, principal, orchestratorID)
	if err != nil {
		return false, err
	}
	if all {
		return true, nil
	}
	_, ok := allowed[strings.TrimSpace(serverUID)]
	return ok, nil
}

// AllowedServerIDs returns the server uids principal may see on the orchestrator.
// all is true when no restriction applies. A principal with no grants gets an
// empty set.
func (r *Resolver) AllowedServerIDs(ctx context.Context, principal *models.User, orchestratorID string) (map[string]struct{}, bool, error) {
	return r.allowedServerIDs(ensureContext(ctx), principal, orchestratorID)
}

func (r *Resolver) allowedServerIDs(ctx context.Context, principal *models.User, orchestratorID string) (map[string]struct{}, bool, error) {
	if principal == nil {
		return map[string]struct{}{}, false, nil
	}
	if principal.IsAdmin() {
		return nil, true, nil
	}

	var uids []string
	if err := r.db.WithContext(ctx).
		Model(&models.ServerGrant{}).
		Where("user_id = ? AND orchestrator_id = ?", principal.ID, orchestratorID).
		Pluck("server_uid", &uids).Error; err != nil {
		return nil, false, fmt.Errorf("access resolver: load server grants: %w", err)
	}

	if len(uids) > 0 {
		set := make(map[string]struct{}, len(uids))
		for _, uid := range uids {
			set[uid] = struct{}{}
		}
		return set, false, nil
	}

	hasInstance, err := r.hasInstanceGrant(ctx, principal.ID, orchestratorID)
	if err != nil {
		return nil, false, err
	}
	if hasInstance {
		return nil, true, nil
	}
	return map[string]struct{}{}, false, nil
}

// IsAdmin is the role check used for control actions and registry mutations.
func (r *Resolver) IsAdmin(principal *models.User) bool {
	ok := principal.IsAdmin()
	recordCheck("admin", ok, nil)
	return ok
}

func (r *Resolver) hasInstanceGrant(ctx context.Context, userID, orchestratorID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.InstanceGrant{}).
		Where("user_id = ? AND orchestrator_id = ?", userID, orchestratorID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("access resolver: load instance grant: %w", err)
	}
	return count > 0, nil
}

func (r *Resolver) countServerGrants(ctx context.Context, userID, orchestratorID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ServerGrant{}).
		Where("user_id = ? AND orchestrator_id = ?", userID, orchestratorID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("access resolver: count server grants: %w", err)
	}
	return count, nil
}

// FilterServers keeps the entries whose uid is in allowed. A nil allowed with all
// set returns servers unchanged.
func FilterServers[T any](servers []T, allowed map[string]struct{}, all bool, uid func(T) string) []T {
	if all {
		return servers
	}
	filtered := make([]T, 0, len(allowed))
	for _, server := range servers {
		if _, ok := allowed[uid(server)]; ok {
			filtered = append(filtered, server)
		}
	}
	return filtered
}

func recordCheck(scope string, ok bool, err error) {
	result := "deny"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "allow"
	}
	metrics.AccessChecks.WithLabelValues(scope, result).Inc()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
