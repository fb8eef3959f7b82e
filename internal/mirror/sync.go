// Package mirror keeps the identity provider's per-user metadata in
// agreement with the relational store of record. It is the only component
// allowed to write the mirrored roles claim.
package mirror

import (
	"context"
	"log/slog"

	"github.com/rolegate/rolegate/internal/identity"
	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
)

// identityAPI is the slice of the provider client the synchronizer needs.
type identityAPI interface {
	GetUser(ctx context.Context, userID string) (identity.User, error)
	UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]any) error
}

// observer receives sync outcomes for metrics.
type observer interface {
	ObserveMirrorSync(outcome string)
}

// Synchronizer writes the authoritative role set into a user's provider
// metadata. Callers must have committed the relational write first: a failed
// sync leaves the mirror stale, which any later sync repairs, whereas the
// reverse order could leave the database behind the mirror with no repair path.
type Synchronizer struct {
	idp     identityAPI
	locker  *Locker
	logger  *slog.Logger
	metrics observer
}

// NewSynchronizer constructs a Synchronizer. metrics may be nil.
func NewSynchronizer(idp identityAPI, locker *Locker, logger *slog.Logger, metrics observer) *Synchronizer {
	return &Synchronizer{idp: idp, locker: locker, logger: logger, metrics: metrics}
}

// SyncUserRoles replaces the roles claim in the user's metadata with the
// given authoritative set. Sibling metadata fields are preserved: the
// provider only supports full metadata replacement, so this reads the
// current object, splices in the new roles array, and writes the whole
// object back under a per-user lock.
//
// Any failure is returned as a SyncError so callers can tell a consistency
// gap apart from an ordinary failure and retry just this step; resending the
// same claim set is idempotent.
func (s *Synchronizer) SyncUserRoles(ctx context.Context, userID string, roles []rbac.Role) error {
	release, err := s.locker.Acquire(ctx, userID)
	if err != nil {
		return s.fail(userID, err)
	}
	defer release()

	user, err := s.idp.GetUser(ctx, userID)
	if err != nil {
		return s.fail(userID, err)
	}

	metadata := make(map[string]any, len(user.PublicMetadata)+2)
	for k, v := range user.PublicMetadata {
		metadata[k] = v
	}
	metadata[rbac.MetadataRolesKey] = rbac.ClaimsForRoles(roles)
	metadata[rbac.MetadataSchemaKey] = rbac.ClaimSchemaVersion

	if err := s.idp.UpdateUserMetadata(ctx, userID, metadata); err != nil {
		return s.fail(userID, err)
	}

	if s.metrics != nil {
		s.metrics.ObserveMirrorSync("ok")
	}
	if s.logger != nil {
		s.logger.Info("mirror synced", slog.String("user_id", userID), slog.Int("roles", len(roles)))
	}
	return nil
}

func (s *Synchronizer) fail(userID string, err error) error {
	if s.metrics != nil {
		s.metrics.ObserveMirrorSync("error")
	}
	if s.logger != nil {
		s.logger.Error("mirror sync failed", slog.String("user_id", userID), slog.Any("error", err))
	}
	return &shared.SyncError{UserID: userID, Err: err}
}
