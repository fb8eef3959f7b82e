package setup

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolegate/rolegate/internal/identity"
	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
)

type fakeRepo struct {
	roleCount     int64
	userRoleCount int64
	countsErr     error

	superRole *rbac.Role

	createdRole    *rbac.Role
	replacedUserID string
	replacedIDs    []uuid.UUID
	replaceErr     error
}

func (f *fakeRepo) Counts(ctx context.Context) (int64, int64, error) {
	if f.countsErr != nil {
		return 0, 0, f.countsErr
	}
	return f.roleCount, f.userRoleCount, nil
}

func (f *fakeRepo) FindRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	if f.superRole != nil && f.superRole.Name == name {
		return *f.superRole, nil
	}
	return rbac.Role{}, shared.NotFound("role", name)
}

func (f *fakeRepo) CreateRole(ctx context.Context, name string, parentRoleID *uuid.UUID, isAdminRole bool) (rbac.Role, error) {
	role := rbac.Role{ID: uuid.New(), Name: name, ParentRoleID: parentRoleID, IsAdminRole: isAdminRole}
	f.createdRole = &role
	return role, nil
}

func (f *fakeRepo) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []uuid.UUID) ([]rbac.Role, error) {
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	f.replacedUserID = userID
	f.replacedIDs = roleIDs
	if f.createdRole != nil {
		return []rbac.Role{*f.createdRole}, nil
	}
	return nil, nil
}

type fakeIDP struct {
	user identity.User
	err  error
}

func (f *fakeIDP) GetUser(ctx context.Context, userID string) (identity.User, error) {
	if f.err != nil {
		return identity.User{}, f.err
	}
	return f.user, nil
}

type fakeSyncer struct {
	calls int
	err   error
}

func (f *fakeSyncer) SyncUserRoles(ctx context.Context, userID string, roles []rbac.Role) error {
	f.calls++
	return f.err
}

func metadataWithClaims() map[string]any {
	return map[string]any{
		rbac.MetadataRolesKey: []any{
			map[string]any{"id": uuid.NewString(), "name": "super", "is_admin_role": true},
		},
	}
}

func TestCheckSetupStatus(t *testing.T) {
	cases := []struct {
		name       string
		roles      int64
		userRoles  int64
		metadata   map[string]any
		needsSetup bool
	}{
		{"fresh install", 0, 0, nil, true},
		{"roles exist but caller has no claims", 3, 2, nil, true},
		{"roles exist and caller has claims", 3, 2, metadataWithClaims(), false},
		{"empty store but claims present", 0, 0, metadataWithClaims(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepo{roleCount: tc.roles, userRoleCount: tc.userRoles}
			idp := &fakeIDP{user: identity.User{ID: "user_1", PublicMetadata: tc.metadata}}
			svc := NewService(repo, idp, &fakeSyncer{}, slog.Default())

			status, err := svc.CheckSetupStatus(context.Background(), "user_1")
			require.NoError(t, err)
			assert.Equal(t, tc.needsSetup, status.NeedsSetup)
		})
	}
}

func TestCheckSetupStatusProviderDownMeansNeedsSetup(t *testing.T) {
	repo := &fakeRepo{roleCount: 5, userRoleCount: 5}
	idp := &fakeIDP{err: &shared.TransportError{Op: "get user", Err: errors.New("timeout")}}
	svc := NewService(repo, idp, &fakeSyncer{}, slog.Default())

	status, err := svc.CheckSetupStatus(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, status.NeedsSetup)
}

func TestCheckSetupStatusUnreadableMirrorTreatedAsEmpty(t *testing.T) {
	repo := &fakeRepo{roleCount: 5, userRoleCount: 5}
	idp := &fakeIDP{user: identity.User{ID: "user_1", PublicMetadata: map[string]any{
		rbac.MetadataRolesKey: "garbage",
	}}}
	svc := NewService(repo, idp, &fakeSyncer{}, slog.Default())

	status, err := svc.CheckSetupStatus(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, status.NeedsSetup)
}

func TestCreateSuperUser(t *testing.T) {
	repo := &fakeRepo{}
	syncer := &fakeSyncer{}
	svc := NewService(repo, &fakeIDP{}, syncer, slog.Default())

	role, err := svc.CreateSuperUser(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, rbac.SuperRoleName, role.Name)
	assert.True(t, role.IsAdminRole)
	assert.Nil(t, role.ParentRoleID)
	assert.Equal(t, "user_1", repo.replacedUserID)
	assert.Equal(t, []uuid.UUID{role.ID}, repo.replacedIDs)
	assert.Equal(t, 1, syncer.calls)
}

func TestCreateSuperUserIsNotRepeatable(t *testing.T) {
	existing := rbac.Role{ID: uuid.New(), Name: rbac.SuperRoleName, IsAdminRole: true}
	repo := &fakeRepo{superRole: &existing}
	svc := NewService(repo, &fakeIDP{}, &fakeSyncer{}, slog.Default())

	_, err := svc.CreateSuperUser(context.Background(), "user_2")
	require.Error(t, err)
	assert.True(t, shared.IsConflict(err))
	assert.Nil(t, repo.createdRole, "no second super role may be created")
}

func TestCreateSuperUserSyncFailureKeepsPromotion(t *testing.T) {
	repo := &fakeRepo{}
	syncer := &fakeSyncer{err: &shared.SyncError{UserID: "user_1", Err: errors.New("provider down")}}
	svc := NewService(repo, &fakeIDP{}, syncer, slog.Default())

	role, err := svc.CreateSuperUser(context.Background(), "user_1")
	require.Error(t, err)
	assert.True(t, shared.IsSyncError(err))
	assert.Equal(t, rbac.SuperRoleName, role.Name, "the committed promotion is still reported")
	assert.Equal(t, "user_1", repo.replacedUserID)
}
