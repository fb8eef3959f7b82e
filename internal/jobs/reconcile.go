package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/rolegate/rolegate/internal/identity"
	"github.com/rolegate/rolegate/internal/rbac"
)

const reconcileConcurrency = 8

// RoleSource reads authoritative role assignments.
type RoleSource interface {
	UserRoles(ctx context.Context, userID string) ([]rbac.Role, error)
}

// Directory lists accounts known to the identity provider.
type Directory interface {
	ListUsers(ctx context.Context) ([]identity.User, error)
}

// Syncer rewrites a user's mirror from the authoritative role set.
type Syncer interface {
	SyncUserRoles(ctx context.Context, userID string, roles []rbac.Role) error
}

// Reconciler repairs drift between the store of record and the identity
// mirror by recomputing claims from the store and rewriting the mirror.
type Reconciler struct {
	store  RoleSource
	users  Directory
	syncer Syncer
	logger *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(store RoleSource, users Directory, syncer Syncer, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, users: users, syncer: syncer, logger: logger}
}

// ReconcileAll rewrites every known user's mirror. Failures are collected per
// user so one bad account does not abort the pass.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	users, err := r.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("jobs: list users: %w", err)
	}

	var (
		mu       sync.Mutex
		failures []error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for _, user := range users {
		user := user
		g.Go(func() error {
			if err := r.ReconcileUser(ctx, user.ID); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		r.logger.Warn("mirror reconcile finished with failures",
			slog.Int("users", len(users)), slog.Int("failed", len(failures)))
		return errors.Join(failures...)
	}
	r.logger.Info("mirror reconcile finished", slog.Int("users", len(users)))
	return nil
}

// ReconcileUser rewrites one user's mirror from the store of record.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID string) error {
	roles, err := r.store.UserRoles(ctx, userID)
	if err != nil {
		return fmt.Errorf("jobs: load roles for %s: %w", userID, err)
	}
	return r.syncer.SyncUserRoles(ctx, userID, roles)
}

// HandleReconcile processes TaskMirrorReconcile tasks.
func (r *Reconciler) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return r.ReconcileAll(ctx)
}

// HandleReconcileUser processes TaskMirrorReconcileUser tasks.
func (r *Reconciler) HandleReconcileUser(ctx context.Context, t *asynq.Task) error {
	var payload ReconcileUserPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.UserID == "" {
		return asynq.SkipRetry
	}
	return r.ReconcileUser(ctx, payload.UserID)
}
