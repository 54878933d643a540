package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/database"
	"github.com/peonhq/dashboard/internal/models"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
)

// Feature flag keys.
const (
	FeatureOnlineUsers    = "online_users"
	FeatureChat           = "chat"
	FeatureGamingSessions = "gaming_sessions"
	FeatureServerStats    = "server_stats"
)

// FeatureService reads and updates the feature flag document.
type FeatureService struct {
	db    *gorm.DB
	audit Auditor
}

// NewFeatureService constructs a FeatureService.
func NewFeatureService(db *gorm.DB, audit Auditor) (*FeatureService, error) {
	if db == nil {
		return nil, errors.New("feature service: db is required")
	}
	return &FeatureService{db: db, audit: audit}, nil
}

// Features returns every known flag. Flags missing from the stored document
// take their default value.
func (s *FeatureService) Features(ctx context.Context) (map[string]bool, error) {
	ctx = ensureContext(ctx)

	flags := defaultFlags()
	raw, err := database.GetSystemSetting(ctx, s.db, database.FeatureFlagsSetting)
	if err != nil {
		return nil, fmt.Errorf("feature service: load flags: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return flags, nil
	}

	var stored map[string]bool
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("feature service: decode flags: %w", err)
	}
	for key, value := range stored {
		if _, known := flags[key]; known {
			flags[key] = value
		}
	}
	return flags, nil
}

// IsEnabled reports one flag. Unknown flags are disabled.
func (s *FeatureService) IsEnabled(ctx context.Context, key string) (bool, error) {
	flags, err := s.Features(ctx)
	if err != nil {
		return false, err
	}
	return flags[key], nil
}

// Update merges changes into the stored document. Admin only.
func (s *FeatureService) Update(ctx context.Context, principal *models.User, changes map[string]bool) (map[string]bool, error) {
	ctx = ensureContext(ctx)

	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, apperrors.NewBadRequest("No feature flags provided")
	}

	var unknown []string
	for key := range changes {
		if _, ok := database.DefaultFeatureFlags[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, apperrors.NewBadRequest("Unknown feature flags: " + strings.Join(unknown, ", "))
	}

	flags, err := s.Features(ctx)
	if err != nil {
		return nil, err
	}
	for key, value := range changes {
		flags[key] = value
	}

	encoded, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("feature service: encode flags: %w", err)
	}
	if err := database.UpsertSystemSetting(ctx, s.db, database.FeatureFlagsSetting, string(encoded)); err != nil {
		return nil, fmt.Errorf("feature service: store flags: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "update",
		Category:   AuditCategorySystem,
		TargetType: "setting",
		TargetID:   database.FeatureFlagsSetting,
		Details:    "Updated feature flags: " + describeFlags(changes),
	})
	return flags, nil
}

func defaultFlags() map[string]bool {
	flags := make(map[string]bool, len(database.DefaultFeatureFlags))
	for key, value := range database.DefaultFeatureFlags {
		flags[key] = value
	}
	return flags
}

func describeFlags(flags map[string]bool) string {
	keys := make([]string, 0, len(flags))
	for key := range flags {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%t", key, flags[key]))
	}
	return strings.Join(parts, ", ")
}
