// Package jobs runs background mirror maintenance through Asynq.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMirrorReconcile rewrites the mirror for every known user.
	TaskMirrorReconcile = "mirror:reconcile"
	// TaskMirrorReconcileUser rewrites the mirror for a single user.
	TaskMirrorReconcileUser = "mirror:reconcile:user"
)

// ReconcilePayload carries scheduling metadata for a full reconcile pass.
type ReconcilePayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// ReconcileUserPayload targets one user's mirror.
type ReconcileUserPayload struct {
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewReconcileTask constructs a full-reconcile task.
func NewReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{RequestedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMirrorReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewReconcileUserTask constructs a single-user reconcile task.
func NewReconcileUserTask(userID string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcileUserPayload{UserID: userID, RequestedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMirrorReconcileUser, body, asynq.Queue(QueueDefault)), nil
}
