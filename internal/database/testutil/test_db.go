package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/database"
	"github.com/peonhq/dashboard/internal/models"
)

// TestDBOption customises the behaviour of MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
	seedData    bool
}

// WithAutoMigrate enables automatic schema migration after opening the test database.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// WithSeedData ensures migrations are applied and the default feature flags stored.
func WithSeedData() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
		cfg.seedData = true
	}
}

// MustOpenTestDB opens an in-memory SQLite database for tests, applying optional migrations/seed data.
// The returned connection is automatically closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	cfg := testDBConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)

	if cfg.seedData {
		require.NoError(t, database.AutoMigrateAndSeed(db))
	} else if cfg.autoMigrate {
		require.NoError(t, database.AutoMigrate(db))
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// MustCreateUser inserts a principal with the given role.
func MustCreateUser(t *testing.T, db *gorm.DB, username, role string) *models.User {
	t.Helper()

	user := &models.User{Username: username, Role: role, IsActive: true}
	require.NoError(t, db.Create(user).Error)
	return user
}

// MustCreateOrchestrator inserts an active orchestrator pointing at baseURL.
func MustCreateOrchestrator(t *testing.T, db *gorm.DB, name, baseURL string) *models.Orchestrator {
	t.Helper()

	orch := &models.Orchestrator{
		Name:     name,
		BaseURL:  baseURL,
		APIKey:   "test-key",
		IsActive: true,
	}
	require.NoError(t, db.Create(orch).Error)
	return orch
}

// MustCacheServers stores snapshot rows for orchestratorID with an empty payload.
func MustCacheServers(t *testing.T, db *gorm.DB, orchestratorID string, uids ...string) {
	t.Helper()

	now := time.Now().UTC()
	for _, uid := range uids {
		row := models.CachedServer{
			OrchestratorID: orchestratorID,
			ServerUID:      uid,
			Payload:        []byte(`{}`),
			SyncedAt:       now,
		}
		require.NoError(t, db.Create(&row).Error)
	}
}
