package rbac

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolegate/rolegate/internal/identity"
	"github.com/rolegate/rolegate/internal/shared"
)

type mockStore struct {
	roles       map[uuid.UUID]Role
	assignments map[string][]uuid.UUID

	replaceCalls []replaceCall
	deleteResult []string

	userRolesErr error
	replaceErr   error
	holdersErr   error
}

type replaceCall struct {
	userID  string
	roleIDs []uuid.UUID
}

func newMockStore() *mockStore {
	return &mockStore{
		roles:       make(map[uuid.UUID]Role),
		assignments: make(map[string][]uuid.UUID),
	}
}

func (m *mockStore) addRole(name string, parent *uuid.UUID, admin bool, perms ...Permission) Role {
	role := Role{ID: uuid.New(), Name: name, ParentRoleID: parent, IsAdminRole: admin, Permissions: perms}
	m.roles[role.ID] = role
	return role
}

func (m *mockStore) CreatePermission(ctx context.Context, name string) (Permission, error) {
	return Permission{ID: uuid.New(), Name: name}, nil
}

func (m *mockStore) CreateRole(ctx context.Context, name string, parentRoleID *uuid.UUID, isAdminRole bool) (Role, error) {
	return m.addRole(name, parentRoleID, isAdminRole), nil
}

func (m *mockStore) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return Role{}, shared.NotFound("role", id.String())
	}
	return role, nil
}

func (m *mockStore) SetRoleParent(ctx context.Context, roleID uuid.UUID, parentRoleID *uuid.UUID) error {
	role, ok := m.roles[roleID]
	if !ok {
		return shared.NotFound("role", roleID.String())
	}
	role.ParentRoleID = parentRoleID
	m.roles[roleID] = role
	return nil
}

func (m *mockStore) AssignPermissionToRole(ctx context.Context, roleID, permissionID uuid.UUID) error {
	return nil
}

func (m *mockStore) RemovePermissionFromRole(ctx context.Context, roleID, permissionID uuid.UUID) error {
	return nil
}

func (m *mockStore) DeleteRole(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	if _, ok := m.roles[roleID]; !ok {
		return nil, shared.NotFound("role", roleID.String())
	}
	delete(m.roles, roleID)
	for userID, ids := range m.assignments {
		kept := ids[:0]
		for _, id := range ids {
			if id != roleID {
				kept = append(kept, id)
			}
		}
		m.assignments[userID] = kept
	}
	return m.deleteResult, nil
}

func (m *mockStore) ListRoles(ctx context.Context) ([]Role, error) {
	roles := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		roles = append(roles, role)
	}
	return roles, nil
}

func (m *mockStore) ListRolesByParent(ctx context.Context, parentRoleID uuid.UUID) ([]Role, error) {
	var roles []Role
	for _, role := range m.roles {
		if role.ParentRoleID != nil && *role.ParentRoleID == parentRoleID {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (m *mockStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	return nil, nil
}

func (m *mockStore) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	role, ok := m.roles[roleID]
	if !ok {
		return nil, shared.NotFound("role", roleID.String())
	}
	return role.Permissions, nil
}

func (m *mockStore) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []uuid.UUID) ([]Role, error) {
	if m.replaceErr != nil {
		return nil, m.replaceErr
	}
	m.replaceCalls = append(m.replaceCalls, replaceCall{userID: userID, roleIDs: roleIDs})
	m.assignments[userID] = roleIDs
	return m.rolesFor(roleIDs)
}

func (m *mockStore) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	if m.userRolesErr != nil {
		return nil, m.userRolesErr
	}
	return m.rolesFor(m.assignments[userID])
}

func (m *mockStore) RoleHolders(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	if m.holdersErr != nil {
		return nil, m.holdersErr
	}
	var userIDs []string
	for userID, ids := range m.assignments {
		for _, id := range ids {
			if id == roleID {
				userIDs = append(userIDs, userID)
				break
			}
		}
	}
	return userIDs, nil
}

func (m *mockStore) rolesFor(ids []uuid.UUID) ([]Role, error) {
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		if role, ok := m.roles[id]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

type syncCall struct {
	userID string
	roles  []Role
}

type mockSyncer struct {
	calls   []syncCall
	failFor map[string]error
}

func (m *mockSyncer) SyncUserRoles(ctx context.Context, userID string, roles []Role) error {
	m.calls = append(m.calls, syncCall{userID: userID, roles: roles})
	if err, ok := m.failFor[userID]; ok {
		return err
	}
	return nil
}

type mockDirectory struct {
	users []identity.User
	err   error
	calls int
}

func (m *mockDirectory) ListUsers(ctx context.Context) ([]identity.User, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.users, nil
}

func newTestService(store *mockStore, syncer *mockSyncer, dir *mockDirectory) *Service {
	return NewService(store, syncer, dir, slog.Default())
}

func TestReplaceUserRolesSyncsAfterStoreWrite(t *testing.T) {
	store := newMockStore()
	role := store.addRole("editor", nil, false)
	syncer := &mockSyncer{}
	svc := newTestService(store, syncer, &mockDirectory{})

	err := svc.ReplaceUserRoles(context.Background(), "user_1", []uuid.UUID{role.ID})
	require.NoError(t, err)

	require.Len(t, store.replaceCalls, 1)
	require.Len(t, syncer.calls, 1)
	assert.Equal(t, "user_1", syncer.calls[0].userID)
	require.Len(t, syncer.calls[0].roles, 1)
	assert.Equal(t, role.ID, syncer.calls[0].roles[0].ID)
}

func TestReplaceUserRolesStoreFailureSkipsSync(t *testing.T) {
	store := newMockStore()
	store.replaceErr = errors.New("db down")
	syncer := &mockSyncer{}
	svc := newTestService(store, syncer, &mockDirectory{})

	err := svc.ReplaceUserRoles(context.Background(), "user_1", nil)
	require.Error(t, err)
	assert.Empty(t, syncer.calls, "mirror must not be written when the store write failed")
}

func TestReplaceUserRolesSyncFailureKeepsStoreCommitted(t *testing.T) {
	store := newMockStore()
	role := store.addRole("editor", nil, false)
	syncer := &mockSyncer{failFor: map[string]error{
		"user_1": &shared.SyncError{UserID: "user_1", Err: errors.New("provider 500")},
	}}
	svc := newTestService(store, syncer, &mockDirectory{})

	err := svc.ReplaceUserRoles(context.Background(), "user_1", []uuid.UUID{role.ID})
	require.Error(t, err)
	assert.True(t, shared.IsSyncError(err))
	assert.Equal(t, []uuid.UUID{role.ID}, store.assignments["user_1"], "store write stands despite the stale mirror")
}

func TestRemoveUserRoleRewritesFullSet(t *testing.T) {
	store := newMockStore()
	keep := store.addRole("viewer", nil, false)
	drop := store.addRole("editor", nil, false)
	store.assignments["user_1"] = []uuid.UUID{keep.ID, drop.ID}
	syncer := &mockSyncer{}
	svc := newTestService(store, syncer, &mockDirectory{})

	err := svc.RemoveUserRole(context.Background(), "user_1", drop.ID)
	require.NoError(t, err)

	require.Len(t, store.replaceCalls, 1)
	assert.Equal(t, []uuid.UUID{keep.ID}, store.replaceCalls[0].roleIDs)
	require.Len(t, syncer.calls, 1)
	require.Len(t, syncer.calls[0].roles, 1)
	assert.Equal(t, keep.ID, syncer.calls[0].roles[0].ID)
}

func TestDeleteRoleSyncsRemainingRolesForHolders(t *testing.T) {
	store := newMockStore()
	doomed := store.addRole("temp", nil, false)
	keep := store.addRole("viewer", nil, false)
	store.assignments["user_1"] = []uuid.UUID{doomed.ID, keep.ID}
	store.assignments["user_2"] = []uuid.UUID{doomed.ID}
	store.deleteResult = []string{"user_1", "user_2"}
	syncer := &mockSyncer{}
	svc := newTestService(store, syncer, &mockDirectory{})

	err := svc.DeleteRole(context.Background(), doomed.ID)
	require.NoError(t, err)

	require.Len(t, syncer.calls, 2)
	byUser := map[string][]Role{}
	for _, call := range syncer.calls {
		byUser[call.userID] = call.roles
	}
	require.Len(t, byUser["user_1"], 1)
	assert.Equal(t, keep.ID, byUser["user_1"][0].ID)
	assert.Empty(t, byUser["user_2"])
}

func TestDeleteRoleAggregatesSyncFailures(t *testing.T) {
	store := newMockStore()
	doomed := store.addRole("temp", nil, false)
	store.assignments["user_1"] = []uuid.UUID{doomed.ID}
	store.assignments["user_2"] = []uuid.UUID{doomed.ID}
	store.deleteResult = []string{"user_1", "user_2"}
	syncer := &mockSyncer{failFor: map[string]error{
		"user_2": &shared.SyncError{UserID: "user_2", Err: errors.New("provider down")},
	}}
	svc := newTestService(store, syncer, &mockDirectory{})

	err := svc.DeleteRole(context.Background(), doomed.ID)
	require.Error(t, err)
	assert.True(t, shared.IsSyncError(err))
	assert.Len(t, syncer.calls, 2, "one bad user must not stop the other syncs")
	_, stillThere := store.roles[doomed.ID]
	assert.False(t, stillThere, "delete stands despite sync failures")
}

func TestAssignPermissionResyncsHolders(t *testing.T) {
	store := newMockStore()
	perm := Permission{ID: uuid.New(), Name: "reports.view"}
	role := store.addRole("analyst", nil, false, perm)
	other := store.addRole("viewer", nil, false)
	store.assignments["holder"] = []uuid.UUID{role.ID}
	store.assignments["bystander"] = []uuid.UUID{other.ID}
	syncer := &mockSyncer{}
	dir := &mockDirectory{users: []identity.User{{ID: "holder"}, {ID: "bystander"}}}
	svc := newTestService(store, syncer, dir)

	err := svc.AssignPermissionToRole(context.Background(), role.ID, perm.ID)
	require.NoError(t, err)

	require.Len(t, syncer.calls, 1, "only holders of the changed role get resynced")
	assert.Equal(t, "holder", syncer.calls[0].userID)
	assert.Zero(t, dir.calls, "holders come from the store of record, not the directory")
}

func TestAssignPermissionHolderLookupFailureIsSyncError(t *testing.T) {
	store := newMockStore()
	perm := Permission{ID: uuid.New(), Name: "reports.view"}
	role := store.addRole("analyst", nil, false, perm)
	store.holdersErr = errors.New("db down")
	svc := newTestService(store, &mockSyncer{}, &mockDirectory{})

	err := svc.AssignPermissionToRole(context.Background(), role.ID, perm.ID)
	require.Error(t, err)
	assert.True(t, shared.IsSyncError(err), "the store write committed, so this is a mirror gap")
}

func TestSetRoleParentRejectsSuperRole(t *testing.T) {
	store := newMockStore()
	super := store.addRole(SuperRoleName, nil, true)
	admin := store.addRole("hr", nil, true)
	svc := newTestService(store, &mockSyncer{}, &mockDirectory{})

	err := svc.SetRoleParent(context.Background(), super.ID, &admin.ID)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	got, ok := store.roles[super.ID]
	require.True(t, ok)
	assert.Nil(t, got.ParentRoleID, "super role must remain a root")

	// Clearing the (already absent) parent is still allowed.
	assert.NoError(t, svc.SetRoleParent(context.Background(), super.ID, nil))
}

// Exercises the lifecycle a fresh installation goes through: delegated admin
// role, a child role under it, assignment, then teardown.
func TestRoleLifecycleScenario(t *testing.T) {
	store := newMockStore()
	syncer := &mockSyncer{}
	dir := &mockDirectory{}
	svc := newTestService(store, syncer, dir)
	ctx := context.Background()

	admin, err := svc.CreateRole(ctx, "finance-admin", nil, true)
	require.NoError(t, err)
	child, err := svc.CreateRole(ctx, "finance-clerk", &admin.ID, false)
	require.NoError(t, err)

	scoped, err := svc.ListRolesByParent(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, child.ID, scoped[0].ID)

	require.NoError(t, svc.ReplaceUserRoles(ctx, "user_1", []uuid.UUID{child.ID}))
	store.deleteResult = []string{"user_1"}
	require.NoError(t, svc.DeleteRole(ctx, child.ID))

	last := syncer.calls[len(syncer.calls)-1]
	assert.Equal(t, "user_1", last.userID)
	assert.Empty(t, last.roles, "the mirror ends up reflecting the emptied assignment set")
}
