package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peonhq/dashboard/internal/database/testutil"
	"github.com/peonhq/dashboard/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Log(ctx, AuditEntry{
		ActorID:       "u-1",
		ActorUsername: "admin",
		Action:        "create",
		Category:      AuditCategoryOrchestrator,
		TargetType:    "orchestrator",
		TargetID:      "o-1",
		Details:       "Created orchestrator: eu-1",
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{Action: "clear", Category: AuditCategoryChat}))

	logs, total, err := svc.List(ctx, AuditListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, logs, 2)

	logs, total, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{Category: AuditCategoryOrchestrator}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "admin", logs[0].ActorUsername)
	require.NotNil(t, logs[0].ActorID)

	require.Error(t, svc.Log(ctx, AuditEntry{Category: AuditCategoryChat}))
	require.Error(t, svc.Log(ctx, AuditEntry{Action: "x"}))
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	old := models.AuditLog{
		BaseModel: models.BaseModel{CreatedAt: time.Now().AddDate(0, 0, -10)},
		Action:    "old.action",
		Category:  AuditCategorySystem,
	}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, svc.Log(context.Background(), AuditEntry{Action: "fresh", Category: AuditCategorySystem}))

	rows, err := svc.CleanupOlderThan(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}
