package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/auditctx"
	"github.com/peonhq/dashboard/internal/models"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
)

// ServerGrantInput describes a server-level grant.
type ServerGrantInput struct {
	UserID         string `json:"user_id" validate:"required"`
	OrchestratorID string `json:"orchestrator_id" validate:"required"`
	ServerUID      string `json:"server_uid" validate:"required"`
	Permission     string `json:"permission" validate:"omitempty,oneof=read write"`
}

// InstanceGrantInput describes an instance-level grant.
type InstanceGrantInput struct {
	UserID         string `json:"user_id" validate:"required"`
	OrchestratorID string `json:"orchestrator_id" validate:"required"`
}

// UserGrants lists every grant a principal holds.
type UserGrants struct {
	UserID    string                 `json:"user_id"`
	Instances []models.InstanceGrant `json:"instances"`
	Servers   []models.ServerGrant   `json:"servers"`
}

// GrantService manages instance and server grants.
type GrantService struct {
	db    *gorm.DB
	audit Auditor
}

// NewGrantService constructs a GrantService.
func NewGrantService(db *gorm.DB, audit Auditor) (*GrantService, error) {
	if db == nil {
		return nil, errors.New("grant service: db is required")
	}
	return &GrantService{db: db, audit: audit}, nil
}

// GrantInstance gives a user coarse access to an orchestrator.
func (s *GrantService) GrantInstance(ctx context.Context, in InstanceGrantInput) (*models.InstanceGrant, error) {
	ctx = ensureContext(ctx)
	userID, orchID := strings.TrimSpace(in.UserID), strings.TrimSpace(in.OrchestratorID)

	user, orch, err := s.loadReferences(ctx, userID, orchID)
	if err != nil {
		return nil, err
	}

	grant := &models.InstanceGrant{UserID: user.ID, OrchestratorID: orch.ID}
	if actor, ok := auditctx.FromContext(ctx); ok {
		grant.GrantedBy = stringPtr(actor.UserID)
	}
	if err := s.db.WithContext(ctx).Create(grant).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("Access already granted")
		}
		return nil, fmt.Errorf("grant service: create instance grant: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "grant",
		Category:   AuditCategoryAccess,
		TargetType: "orchestrator",
		TargetID:   orch.ID,
		Details:    fmt.Sprintf("Granted %s access to orchestrator %s", user.Username, orch.Name),
	})
	return grant, nil
}

// RevokeInstance removes an instance grant together with the pair's server grants.
func (s *GrantService) RevokeInstance(ctx context.Context, userID, orchestratorID string) error {
	ctx = ensureContext(ctx)

	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ? AND orchestrator_id = ?", userID, orchestratorID).Delete(&models.InstanceGrant{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		if removed == 0 {
			return nil
		}
		return tx.Where("user_id = ? AND orchestrator_id = ?", userID, orchestratorID).Delete(&models.ServerGrant{}).Error
	})
	if err != nil {
		return fmt.Errorf("grant service: revoke instance grant: %w", err)
	}
	if removed == 0 {
		return apperrors.ErrNotFound.WithMessage("Access grant not found")
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "revoke",
		Category:   AuditCategoryAccess,
		TargetType: "orchestrator",
		TargetID:   orchestratorID,
		Details:    "Revoked orchestrator access for user " + userID,
	})
	return nil
}

// GrantServer gives a user access to one server, restricting their listings to granted servers.
func (s *GrantService) GrantServer(ctx context.Context, in ServerGrantInput) (*models.ServerGrant, error) {
	ctx = ensureContext(ctx)

	uid := strings.TrimSpace(in.ServerUID)
	if uid == "" {
		return nil, apperrors.NewBadRequest("server_uid is required")
	}
	permission := strings.ToLower(strings.TrimSpace(in.Permission))
	switch permission {
	case "":
		permission = models.ServerPermissionRead
	case models.ServerPermissionRead, models.ServerPermissionWrite:
	default:
		return nil, apperrors.NewBadRequest("permission must be read or write")
	}

	user, orch, err := s.loadReferences(ctx, strings.TrimSpace(in.UserID), strings.TrimSpace(in.OrchestratorID))
	if err != nil {
		return nil, err
	}

	grant := &models.ServerGrant{
		UserID:         user.ID,
		OrchestratorID: orch.ID,
		ServerUID:      uid,
		Permission:     permission,
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		grant.GrantedBy = stringPtr(actor.UserID)
	}
	if err := s.db.WithContext(ctx).Create(grant).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("Server access already granted")
		}
		return nil, fmt.Errorf("grant service: create server grant: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "grant",
		Category:   AuditCategoryAccess,
		TargetType: "server",
		TargetID:   uid,
		Details:    fmt.Sprintf("Granted %s %s access to %s on %s", user.Username, permission, uid, orch.Name),
	})
	return grant, nil
}

// RevokeServer removes a server grant.
func (s *GrantService) RevokeServer(ctx context.Context, userID, orchestratorID, serverUID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("user_id = ? AND orchestrator_id = ? AND server_uid = ?", userID, orchestratorID, serverUID).
		Delete(&models.ServerGrant{})
	if result.Error != nil {
		return fmt.Errorf("grant service: revoke server grant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound.WithMessage("Server grant not found")
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "revoke",
		Category:   AuditCategoryAccess,
		TargetType: "server",
		TargetID:   serverUID,
		Details:    "Revoked server access for user " + userID,
	})
	return nil
}

// ListGrants returns every grant held by userID.
func (s *GrantService) ListGrants(ctx context.Context, userID string) (*UserGrants, error) {
	ctx = ensureContext(ctx)

	grants := &UserGrants{
		UserID:    userID,
		Instances: []models.InstanceGrant{},
		Servers:   []models.ServerGrant{},
	}
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&grants.Instances).Error; err != nil {
		return nil, fmt.Errorf("grant service: list instance grants: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("orchestrator_id ASC, server_uid ASC").
		Find(&grants.Servers).Error; err != nil {
		return nil, fmt.Errorf("grant service: list server grants: %w", err)
	}
	return grants, nil
}

func (s *GrantService) loadReferences(ctx context.Context, userID, orchestratorID string) (*models.User, *models.Orchestrator, error) {
	if userID == "" || orchestratorID == "" {
		return nil, nil, apperrors.NewBadRequest("user_id and orchestrator_id are required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.ErrNotFound.WithMessage("User not found")
		}
		return nil, nil, fmt.Errorf("grant service: load user: %w", err)
	}

	var orch models.Orchestrator
	if err := s.db.WithContext(ctx).Take(&orch, "id = ?", orchestratorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.ErrNotFound.WithMessage("Orchestrator not found")
		}
		return nil, nil, fmt.Errorf("grant service: load orchestrator: %w", err)
	}
	return &user, &orch, nil
}
