package database

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Exec("SELECT 1").Error)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestAutoMigrateAndSeedData(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrateAndSeed(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.User{},
		&models.Orchestrator{},
		&models.InstanceGrant{},
		&models.ServerGrant{},
		&models.CachedServer{},
		&models.AuditLog{},
		&models.ChatMessage{},
		&models.SystemSetting{},
	}
	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}

	raw, err := GetSystemSetting(context.Background(), db, FeatureFlagsSetting)
	require.NoError(t, err)

	var flags map[string]bool
	require.NoError(t, json.Unmarshal([]byte(raw), &flags))
	require.Equal(t, DefaultFeatureFlags, flags)
}

func TestSeedDataKeepsExistingFlags(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	require.NoError(t, UpsertSystemSetting(context.Background(), db, FeatureFlagsSetting, `{"chat":false}`))
	require.NoError(t, SeedData(db))

	raw, err := GetSystemSetting(context.Background(), db, FeatureFlagsSetting)
	require.NoError(t, err)
	require.JSONEq(t, `{"chat":false}`, raw)
}

func TestServerGrantUniquePerTriple(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	grant := models.ServerGrant{UserID: "u1", OrchestratorID: "o1", ServerUID: "valheim.main"}
	require.NoError(t, db.Create(&grant).Error)
	require.Equal(t, models.ServerPermissionRead, grant.Permission)

	duplicate := models.ServerGrant{UserID: "u1", OrchestratorID: "o1", ServerUID: "valheim.main"}
	require.Error(t, db.Create(&duplicate).Error)
}

func TestConfigurePoolAppliesBounds(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:pool_bounds?mode=memory"), gormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_, err = configurePool(db, PoolConfig{})
	require.NoError(t, err)
	require.Equal(t, defaultMaxOpenConns, sqlDB.Stats().MaxOpenConnections)

	_, err = configurePool(db, PoolConfig{MaxOpenConns: 4, MaxIdleConns: 10})
	require.NoError(t, err)
	require.Equal(t, 4, sqlDB.Stats().MaxOpenConnections)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
