// Package setup implements the one-time bootstrap protocol: promoting the
// first authenticated user to the unscoped super role.
package setup

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rolegate/rolegate/internal/identity"
	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
)

// Repository is the slice of the relational store the protocol needs.
type Repository interface {
	Counts(ctx context.Context) (roles int64, userRoles int64, err error)
	FindRoleByName(ctx context.Context, name string) (rbac.Role, error)
	CreateRole(ctx context.Context, name string, parentRoleID *uuid.UUID, isAdminRole bool) (rbac.Role, error)
	ReplaceUserRoles(ctx context.Context, userID string, roleIDs []uuid.UUID) ([]rbac.Role, error)
}

// IdentityClient fetches the user's current mirror state.
type IdentityClient interface {
	GetUser(ctx context.Context, userID string) (identity.User, error)
}

// Syncer writes the mirror after the relational promotion commits.
type Syncer interface {
	SyncUserRoles(ctx context.Context, userID string, roles []rbac.Role) error
}

// Status is the setup state surfaced to the caller.
type Status struct {
	NeedsSetup bool `json:"needs_setup"`
}

// Service runs the bootstrap checks and the super-user promotion.
type Service struct {
	repo   Repository
	idp    IdentityClient
	syncer Syncer
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, idp IdentityClient, syncer Syncer, logger *slog.Logger) *Service {
	return &Service{repo: repo, idp: idp, syncer: syncer, logger: logger}
}

// CheckSetupStatus decides whether bootstrap is still needed by consulting
// both sources of truth: setup is needed when the store has no roles and no
// assignments, or when the user's mirror carries no claims. A provider
// lookup failure is read as needs-setup rather than an error, so a fresh
// install with an unreachable mirror can still begin.
func (s *Service) CheckSetupStatus(ctx context.Context, userID string) (Status, error) {
	roleCount, userRoleCount, err := s.repo.Counts(ctx)
	if err != nil {
		return Status{}, err
	}

	hasClaims := false
	user, err := s.idp.GetUser(ctx, userID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("setup status: provider lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		}
		return Status{NeedsSetup: true}, nil
	}
	claims, err := rbac.ClaimsFromMetadata(user.PublicMetadata)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("setup status: unreadable mirror", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	hasClaims = len(claims) > 0

	return Status{NeedsSetup: (roleCount == 0 && userRoleCount == 0) || !hasClaims}, nil
}

// CreateSuperUser transitions NeedsSetup -> SetupComplete: it creates the
// singleton super role, assigns it to the user in the store of record, and
// then syncs the mirror. If a super role already exists the call fails with
// a ConflictError; the promotion is not repeatable.
func (s *Service) CreateSuperUser(ctx context.Context, userID string) (rbac.Role, error) {
	if _, err := s.repo.FindRoleByName(ctx, rbac.SuperRoleName); err == nil {
		return rbac.Role{}, shared.Conflict("role", "super role already exists")
	} else if !shared.IsNotFound(err) {
		return rbac.Role{}, err
	}

	role, err := s.repo.CreateRole(ctx, rbac.SuperRoleName, nil, true)
	if err != nil {
		return rbac.Role{}, err
	}

	roles, err := s.repo.ReplaceUserRoles(ctx, userID, []uuid.UUID{role.ID})
	if err != nil {
		return rbac.Role{}, err
	}

	// The store is now authoritative; a sync failure surfaces as a
	// SyncError without undoing the promotion.
	if err := s.syncer.SyncUserRoles(ctx, userID, roles); err != nil {
		return role, err
	}
	return role, nil
}
