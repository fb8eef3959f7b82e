package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rolegate/rolegate/internal/identity"
	"github.com/rolegate/rolegate/internal/shared"
)

// Store is the relational store of record for roles, permissions, and
// user-role assignments.
type Store interface {
	CreatePermission(ctx context.Context, name string) (Permission, error)
	CreateRole(ctx context.Context, name string, parentRoleID *uuid.UUID, isAdminRole bool) (Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (Role, error)
	SetRoleParent(ctx context.Context, roleID uuid.UUID, parentRoleID *uuid.UUID) error
	AssignPermissionToRole(ctx context.Context, roleID, permissionID uuid.UUID) error
	RemovePermissionFromRole(ctx context.Context, roleID, permissionID uuid.UUID) error
	DeleteRole(ctx context.Context, roleID uuid.UUID) ([]string, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ListRolesByParent(ctx context.Context, parentRoleID uuid.UUID) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error)
	ReplaceUserRoles(ctx context.Context, userID string, roleIDs []uuid.UUID) ([]Role, error)
	UserRoles(ctx context.Context, userID string) ([]Role, error)
	RoleHolders(ctx context.Context, roleID uuid.UUID) ([]string, error)
}

// Syncer pushes a user's authoritative role set into the identity mirror.
type Syncer interface {
	SyncUserRoles(ctx context.Context, userID string, roles []Role) error
}

// Directory lists accounts known to the identity provider.
type Directory interface {
	ListUsers(ctx context.Context) ([]identity.User, error)
}

// Service orchestrates the store of record and the identity mirror. The
// ordering invariant for every mutating operation is: relational write
// commits first, mirror sync second. A failed sync surfaces as a SyncError
// and never rolls back the store.
type Service struct {
	store  Store
	syncer Syncer
	users  Directory
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, syncer Syncer, users Directory, logger *slog.Logger) *Service {
	return &Service{store: store, syncer: syncer, users: users, logger: logger}
}

// CreateRole inserts a role under an optional parent.
func (s *Service) CreateRole(ctx context.Context, name string, parentRoleID *uuid.UUID, isAdminRole bool) (Role, error) {
	return s.store.CreateRole(ctx, name, parentRoleID, isAdminRole)
}

// CreatePermission inserts a permission with a unique name.
func (s *Service) CreatePermission(ctx context.Context, name string) (Permission, error) {
	return s.store.CreatePermission(ctx, name)
}

// GetRole fetches one role with permissions.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// SetRoleParent re-parents a role, rejecting cycles. The super role can
// never gain a parent; the store enforces the same rules again inside its
// transaction.
func (s *Service) SetRoleParent(ctx context.Context, roleID uuid.UUID, parentRoleID *uuid.UUID) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := validateReparent(role.Name, roleID, parentRoleID); err != nil {
		return err
	}
	return s.store.SetRoleParent(ctx, roleID, parentRoleID)
}

// AssignPermissionToRole attaches a permission; duplicates are a no-op.
// Holders' mirrors are refreshed so cached permission sets stay current.
func (s *Service) AssignPermissionToRole(ctx context.Context, roleID, permissionID uuid.UUID) error {
	if err := s.store.AssignPermissionToRole(ctx, roleID, permissionID); err != nil {
		return err
	}
	return s.resyncRoleHolders(ctx, roleID)
}

// RemovePermissionFromRole detaches a permission; absent pairs are a no-op.
func (s *Service) RemovePermissionFromRole(ctx context.Context, roleID, permissionID uuid.UUID) error {
	if err := s.store.RemovePermissionFromRole(ctx, roleID, permissionID); err != nil {
		return err
	}
	return s.resyncRoleHolders(ctx, roleID)
}

// ListRoles returns every role with permissions, ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// ListRolesByParent returns the delegation view under one admin role.
func (s *Service) ListRolesByParent(ctx context.Context, parentRoleID uuid.UUID) ([]Role, error) {
	return s.store.ListRolesByParent(ctx, parentRoleID)
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// ListRolePermissions returns a role's permissions ordered by name.
func (s *Service) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	return s.store.ListRolePermissions(ctx, roleID)
}

// ListUsers returns every account the identity provider knows about.
func (s *Service) ListUsers(ctx context.Context) ([]identity.User, error) {
	return s.users.ListUsers(ctx)
}

// DeleteRole removes the role from the store of record, then brings every
// former holder's mirror up to date with their remaining roles. Sync
// failures are collected per user and surfaced together; none is swallowed,
// and the committed delete stands regardless.
func (s *Service) DeleteRole(ctx context.Context, roleID uuid.UUID) error {
	userIDs, err := s.store.DeleteRole(ctx, roleID)
	if err != nil {
		return err
	}

	var syncErrs []error
	for _, userID := range userIDs {
		roles, err := s.store.UserRoles(ctx, userID)
		if err != nil {
			syncErrs = append(syncErrs, fmt.Errorf("load roles for %s: %w", userID, err))
			continue
		}
		if err := s.syncer.SyncUserRoles(ctx, userID, roles); err != nil {
			syncErrs = append(syncErrs, err)
		}
	}
	return errors.Join(syncErrs...)
}

// ReplaceUserRoles swaps the user's assignment set for exactly the given
// roles, then syncs the mirror. A sync failure leaves the store committed
// and reports the gap as a SyncError.
func (s *Service) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []uuid.UUID) error {
	roles, err := s.store.ReplaceUserRoles(ctx, userID, roleIDs)
	if err != nil {
		return err
	}
	return s.syncer.SyncUserRoles(ctx, userID, roles)
}

// RemoveUserRole drops a single role from a user. The mirror write is still
// a full-set rewrite: the remaining set is recomputed from the store and
// replaces the roles claim wholesale, so concurrent modifications cannot
// resurrect the removed role.
func (s *Service) RemoveUserRole(ctx context.Context, userID string, roleID uuid.UUID) error {
	current, err := s.store.UserRoles(ctx, userID)
	if err != nil {
		return err
	}
	remaining := make([]uuid.UUID, 0, len(current))
	for _, role := range current {
		if role.ID != roleID {
			remaining = append(remaining, role.ID)
		}
	}
	return s.ReplaceUserRoles(ctx, userID, remaining)
}

// resyncRoleHolders refreshes the mirror of every user holding the role.
// Used after permission changes, which alter the denormalized claim payload
// without touching assignments. Holders come from the store of record, so
// only affected mirrors are touched and the provider directory is never
// consulted.
func (s *Service) resyncRoleHolders(ctx context.Context, roleID uuid.UUID) error {
	userIDs, err := s.store.RoleHolders(ctx, roleID)
	if err != nil {
		// The store write has committed; surface the stale mirrors as a
		// sync problem rather than a generic failure.
		return &shared.SyncError{Err: fmt.Errorf("list role holders: %w", err)}
	}
	var syncErrs []error
	for _, userID := range userIDs {
		roles, err := s.store.UserRoles(ctx, userID)
		if err != nil {
			syncErrs = append(syncErrs, fmt.Errorf("load roles for %s: %w", userID, err))
			continue
		}
		if err := s.syncer.SyncUserRoles(ctx, userID, roles); err != nil {
			syncErrs = append(syncErrs, err)
		}
	}
	return errors.Join(syncErrs...)
}
