package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peonhq/dashboard/internal/database/testutil"
	"github.com/peonhq/dashboard/internal/models"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
)

func TestGrantServiceInstanceLifecycle(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	audit := &recordingAuditor{}
	svc, err := NewGrantService(db, audit)
	require.NoError(t, err)

	admin := testutil.MustCreateUser(t, db, "admin", models.RoleAdmin)
	user := testutil.MustCreateUser(t, db, "peon", models.RoleUser)
	orch := testutil.MustCreateOrchestrator(t, db, "eu-1", "http://eu-1")
	ctx := actorContext(admin)

	grant, err := svc.GrantInstance(ctx, InstanceGrantInput{UserID: user.ID, OrchestratorID: orch.ID})
	require.NoError(t, err)
	require.NotNil(t, grant.GrantedBy)
	require.Equal(t, admin.ID, *grant.GrantedBy)

	_, err = svc.GrantInstance(ctx, InstanceGrantInput{UserID: user.ID, OrchestratorID: orch.ID})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = svc.GrantServer(ctx, ServerGrantInput{UserID: user.ID, OrchestratorID: orch.ID, ServerUID: "valheim.main"})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeInstance(ctx, user.ID, orch.ID))

	grants, err := svc.ListGrants(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, grants.Instances)
	require.Empty(t, grants.Servers)

	require.ErrorIs(t, svc.RevokeInstance(ctx, user.ID, orch.ID), apperrors.ErrNotFound)
	require.Len(t, audit.Entries(), 3)
}

func TestGrantServiceServerGrants(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewGrantService(db, nil)
	require.NoError(t, err)

	user := testutil.MustCreateUser(t, db, "peon", models.RoleUser)
	orch := testutil.MustCreateOrchestrator(t, db, "eu-1", "http://eu-1")
	ctx := context.Background()

	grant, err := svc.GrantServer(ctx, ServerGrantInput{UserID: user.ID, OrchestratorID: orch.ID, ServerUID: "valheim.main"})
	require.NoError(t, err)
	require.Equal(t, models.ServerPermissionRead, grant.Permission)

	_, err = svc.GrantServer(ctx, ServerGrantInput{UserID: user.ID, OrchestratorID: orch.ID, ServerUID: "valheim.main", Permission: "write"})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = svc.GrantServer(ctx, ServerGrantInput{UserID: user.ID, OrchestratorID: orch.ID, ServerUID: "palworld.eu", Permission: "owner"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.GrantServer(ctx, ServerGrantInput{UserID: user.ID, OrchestratorID: orch.ID, ServerUID: " "})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.GrantServer(ctx, ServerGrantInput{UserID: "missing", OrchestratorID: orch.ID, ServerUID: "palworld.eu"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.GrantServer(ctx, ServerGrantInput{UserID: user.ID, OrchestratorID: "missing", ServerUID: "palworld.eu"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, svc.RevokeServer(ctx, user.ID, orch.ID, "valheim.main"))
	require.ErrorIs(t, svc.RevokeServer(ctx, user.ID, orch.ID, "valheim.main"), apperrors.ErrNotFound)
}
