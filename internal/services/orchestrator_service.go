package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/auditctx"
	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/internal/orchestrator"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
)

// ConnectionProber checks an orchestrator endpoint before it is registered.
type ConnectionProber interface {
	Probe(ctx context.Context, baseURL, apiKey string) orchestrator.ProbeResult
}

// CreateOrchestratorInput describes a new orchestrator registration.
type CreateOrchestratorInput struct {
	Name        string `json:"name" validate:"required,max=128"`
	BaseURL     string `json:"base_url" validate:"required,orchestrator_url"`
	APIKey      string `json:"api_key" validate:"required"`
	Description string `json:"description" validate:"omitempty,max=512"`
	Version     string `json:"version" validate:"omitempty,max=64"`
}

// UpdateOrchestratorInput carries a partial update; nil fields are left alone.
type UpdateOrchestratorInput struct {
	Name        *string `json:"name" validate:"omitempty,max=128"`
	BaseURL     *string `json:"base_url" validate:"omitempty,orchestrator_url"`
	APIKey      *string `json:"api_key"`
	Description *string `json:"description" validate:"omitempty,max=512"`
	Version     *string `json:"version" validate:"omitempty,max=64"`
	IsActive    *bool   `json:"is_active"`
}

func (in UpdateOrchestratorInput) changes() map[string]any {
	updates := map[string]any{}
	if in.Name != nil {
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.BaseURL != nil {
		updates["base_url"] = strings.TrimRight(strings.TrimSpace(*in.BaseURL), "/")
	}
	if in.APIKey != nil {
		updates["api_key"] = strings.TrimSpace(*in.APIKey)
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.Version != nil {
		updates["version"] = strings.TrimSpace(*in.Version)
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	return updates
}

// OrchestratorService owns orchestrator registrations.
type OrchestratorService struct {
	db     *gorm.DB
	prober ConnectionProber
	audit  Auditor
}

// NewOrchestratorService constructs an OrchestratorService.
func NewOrchestratorService(db *gorm.DB, prober ConnectionProber, audit Auditor) (*OrchestratorService, error) {
	if db == nil {
		return nil, errors.New("orchestrator service: db is required")
	}
	return &OrchestratorService{db: db, prober: prober, audit: audit}, nil
}

// Create registers an orchestrator. Names are unique.
func (s *OrchestratorService) Create(ctx context.Context, in CreateOrchestratorInput) (*models.Orchestrator, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("Name is required")
	}
	if err := s.ensureNameAvailable(ctx, name, ""); err != nil {
		return nil, err
	}

	orch := &models.Orchestrator{
		Name:        name,
		BaseURL:     strings.TrimRight(strings.TrimSpace(in.BaseURL), "/"),
		APIKey:      strings.TrimSpace(in.APIKey),
		Description: strings.TrimSpace(in.Description),
		Version:     strings.TrimSpace(in.Version),
		IsActive:    true,
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		orch.CreatedBy = stringPtr(actor.UserID)
	}

	if err := s.db.WithContext(ctx).Create(orch).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, errDuplicateOrchestrator
		}
		return nil, fmt.Errorf("orchestrator service: create: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "create",
		Category:   AuditCategoryOrchestrator,
		TargetType: "orchestrator",
		TargetID:   orch.ID,
		Details:    "Created orchestrator: " + orch.Name,
	})
	return orch, nil
}

// Update applies a partial update. An update with no fields is rejected.
func (s *OrchestratorService) Update(ctx context.Context, id string, in UpdateOrchestratorInput) (*models.Orchestrator, error) {
	ctx = ensureContext(ctx)

	updates := in.changes()
	if len(updates) == 0 {
		return nil, apperrors.NewBadRequest("No fields to update")
	}

	orch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if name, ok := updates["name"].(string); ok {
		if name == "" {
			return nil, apperrors.NewBadRequest("Name cannot be empty")
		}
		if err := s.ensureNameAvailable(ctx, name, orch.ID); err != nil {
			return nil, err
		}
	}

	if err := s.db.WithContext(ctx).Model(orch).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, errDuplicateOrchestrator
		}
		return nil, fmt.Errorf("orchestrator service: update: %w", err)
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "update",
		Category:   AuditCategoryOrchestrator,
		TargetType: "orchestrator",
		TargetID:   updated.ID,
		Details:    "Updated orchestrator: " + updated.Name,
	})
	return updated, nil
}

// Delete removes the orchestrator together with its grants and cached snapshot.
func (s *OrchestratorService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	orch, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("orchestrator_id = ?", orch.ID).Delete(&models.InstanceGrant{}).Error; err != nil {
			return fmt.Errorf("delete instance grants: %w", err)
		}
		if err := tx.Where("orchestrator_id = ?", orch.ID).Delete(&models.ServerGrant{}).Error; err != nil {
			return fmt.Errorf("delete server grants: %w", err)
		}
		if err := tx.Where("orchestrator_id = ?", orch.ID).Delete(&models.CachedServer{}).Error; err != nil {
			return fmt.Errorf("delete cached servers: %w", err)
		}
		if err := tx.Delete(&models.Orchestrator{}, "id = ?", orch.ID).Error; err != nil {
			return fmt.Errorf("delete orchestrator: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("orchestrator service: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "delete",
		Category:   AuditCategoryOrchestrator,
		TargetType: "orchestrator",
		TargetID:   orch.ID,
		Details:    "Deleted orchestrator: " + orch.Name,
	})
	return nil
}

// Get loads an orchestrator by id.
func (s *OrchestratorService) Get(ctx context.Context, id string) (*models.Orchestrator, error) {
	var orch models.Orchestrator
	err := s.db.WithContext(ensureContext(ctx)).Take(&orch, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("Orchestrator not found")
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator service: get: %w", err)
	}
	return &orch, nil
}

// GetActive loads an orchestrator and rejects inactive ones as not found.
func (s *OrchestratorService) GetActive(ctx context.Context, id string) (*models.Orchestrator, error) {
	orch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !orch.IsActive {
		return nil, apperrors.ErrNotFound.WithMessage("Orchestrator not found or inactive")
	}
	return orch, nil
}

// ListActive returns every active orchestrator including credentials. Internal use only.
func (s *OrchestratorService) ListActive(ctx context.Context) ([]models.Orchestrator, error) {
	var orchestrators []models.Orchestrator
	if err := s.db.WithContext(ensureContext(ctx)).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&orchestrators).Error; err != nil {
		return nil, fmt.Errorf("orchestrator service: list active: %w", err)
	}
	return orchestrators, nil
}

// ListAccessible returns the orchestrators principal may see. Admins see all of
// them with credentials; other principals see active ones they hold a grant on,
// redacted.
func (s *OrchestratorService) ListAccessible(ctx context.Context, principal *models.User) ([]models.Orchestrator, error) {
	ctx = ensureContext(ctx)
	if principal == nil {
		return nil, apperrors.ErrUnauthorized
	}

	var orchestrators []models.Orchestrator
	query := s.db.WithContext(ctx).Model(&models.Orchestrator{}).Order("name ASC")
	if !principal.IsAdmin() {
		instanceIDs := s.db.Model(&models.InstanceGrant{}).Select("orchestrator_id").Where("user_id = ?", principal.ID)
		serverIDs := s.db.Model(&models.ServerGrant{}).Select("orchestrator_id").Where("user_id = ?", principal.ID)
		query = query.
			Where("is_active = ?", true).
			Where(s.db.Where("id IN (?)", instanceIDs).Or("id IN (?)", serverIDs))
	}

	if err := query.Find(&orchestrators).Error; err != nil {
		return nil, fmt.Errorf("orchestrator service: list accessible: %w", err)
	}

	if !principal.IsAdmin() {
		for i := range orchestrators {
			orchestrators[i] = orchestrators[i].Redacted()
		}
	}
	return orchestrators, nil
}

// TestConnection probes an endpoint and classifies the outcome.
func (s *OrchestratorService) TestConnection(ctx context.Context, baseURL, apiKey string) (orchestrator.ProbeResult, error) {
	if s.prober == nil {
		return orchestrator.ProbeResult{}, errors.New("orchestrator service: prober not configured")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return orchestrator.ProbeResult{}, apperrors.NewBadRequest("base_url is required")
	}
	return s.prober.Probe(ensureContext(ctx), baseURL, strings.TrimSpace(apiKey)), nil
}

var errDuplicateOrchestrator = apperrors.ErrConflict.WithMessage("Orchestrator name already exists")

func (s *OrchestratorService) ensureNameAvailable(ctx context.Context, name, excludeID string) error {
	query := s.db.WithContext(ctx).Model(&models.Orchestrator{}).Where("name = ?", name)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("orchestrator service: check name: %w", err)
	}
	if count > 0 {
		return errDuplicateOrchestrator
	}
	return nil
}
