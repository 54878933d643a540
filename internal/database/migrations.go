package database

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/models"
)

// FeatureFlagsSetting is the system setting key holding the feature flag document.
const FeatureFlagsSetting = "feature_flags"

// DefaultFeatureFlags lists every known feature flag with its initial state.
var DefaultFeatureFlags = map[string]bool{
	"online_users":    true,
	"chat":            true,
	"gaming_sessions": true,
	"server_stats":    true,
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Orchestrator{},
		&models.InstanceGrant{},
		&models.ServerGrant{},
		&models.CachedServer{},
		&models.AuditLog{},
		&models.ChatMessage{},
		&models.SystemSetting{},
	)
}

// SeedData stores the default feature flag document when none exists yet.
func SeedData(db *gorm.DB) error {
	var existing models.SystemSetting
	err := db.Take(&existing, "key = ?", FeatureFlagsSetting).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	encoded, err := json.Marshal(DefaultFeatureFlags)
	if err != nil {
		return fmt.Errorf("encode feature flags: %w", err)
	}

	return db.Create(&models.SystemSetting{Key: FeatureFlagsSetting, Value: string(encoded)}).Error
}
