package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAndUpsertSystemSetting(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	value, err := GetSystemSetting(context.Background(), db, "missing")
	require.NoError(t, err)
	require.Equal(t, "", value)

	require.NoError(t, UpsertSystemSetting(context.Background(), db, "sample", "value1"))

	retrieved, err := GetSystemSetting(context.Background(), db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value1", retrieved)

	require.NoError(t, UpsertSystemSetting(context.Background(), db, "sample", "value2"))

	retrieved, err = GetSystemSetting(context.Background(), db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value2", retrieved)

	require.NoError(t, DeleteSystemSetting(context.Background(), db, "sample"))
	retrieved, err = GetSystemSetting(context.Background(), db, "sample")
	require.NoError(t, err)
	require.Equal(t, "", retrieved)
}

func TestGetSystemSettingBeforeMigration(t *testing.T) {
	db := openTestDB(t)

	value, err := GetSystemSetting(context.Background(), db, FeatureFlagsSetting)
	require.NoError(t, err)
	require.Equal(t, "", value)
}

func TestUpsertSystemSettingRequiresKey(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	require.Error(t, UpsertSystemSetting(context.Background(), db, "  ", "value"))
}
