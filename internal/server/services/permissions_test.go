package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

func TestPermissionService_GrantAndRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s1", models.ExpirationMetadata{})

	assert.ErrorIs(t, env.perms.Grant(ctx, bob, "s1", carol, models.PermissionRead), common.ErrorUnauthorized)

	require.NoError(t, env.perms.Grant(ctx, alice, "s1", bob, models.PermissionRead))
	rows, err := env.perms.List(ctx, bob, "s1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.ErrorIs(t, env.perms.Revoke(ctx, bob, "s1", alice, models.PermissionAll), common.ErrorUnauthorized)

	require.NoError(t, env.perms.Revoke(ctx, alice, "s1", bob, models.PermissionRead))
	rows = env.permissionRows(t, "s1")
	require.Len(t, rows, 1)
	assert.Equal(t, alice, rows[0].Subject())

	_, err = env.perms.List(ctx, bob, "s1")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestPermissionService_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s1", models.ExpirationMetadata{})

	assert.ErrorIs(t, env.perms.Grant(ctx, alice, "s1", bob, models.PermissionNone), common.ErrorValidation)
	assert.ErrorIs(t, env.perms.Grant(ctx, alice, "s1", models.Subject{Type: models.SubjectUser, ID: "  "}, models.PermissionRead), common.ErrorValidation)
	assert.ErrorIs(t, env.perms.Revoke(ctx, alice, "s1", models.Subject{Type: "robot", ID: "r2"}, models.PermissionRead), common.ErrorValidation)
}

func TestPermissionService_GroupGrantRegistersGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSecret(t, alice, "s1", models.ExpirationMetadata{})
	env.dir.Set(bob.ID, "team-a")

	team := models.Subject{Type: models.SubjectGroup, ID: "Team-A"}
	require.NoError(t, env.perms.Grant(ctx, alice, "s1", team, models.PermissionRead))
	require.NoError(t, env.perms.Grant(ctx, alice, "s1", team, models.PermissionWrite))

	g, err := env.mem.Groups(nil).Get(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, t0, g.CreatedAt)

	allowed, err := env.authz.IsAuthorized(ctx, models.SubjectUser, bob.ID, "s1", models.PermissionRead|models.PermissionWrite)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRegisterGroup_KeepsFirstEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.perms.RegisterGroup(ctx, "team-a", "Team A", "team-a@example.com")
	require.NoError(t, err)

	second, err := env.perms.RegisterGroup(ctx, "TEAM-A", "Renamed", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "Team A", second.DisplayName)
}
