// Package shared holds the error taxonomy used across service boundaries.
package shared

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a referenced role, permission, or user does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError for the given resource.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// ConflictError indicates a uniqueness violation, such as a duplicate super
// role or a duplicate permission name.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Reason)
}

// Conflict builds a ConflictError for the given resource.
func Conflict(resource, reason string) error {
	return &ConflictError{Resource: resource, Reason: reason}
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// SyncError signals that the relational write committed but the identity
// mirror write failed, leaving the mirror stale. The database state is
// authoritative and must not be rolled back; callers retry the mirror sync
// step alone.
type SyncError struct {
	UserID string
	Err    error
}

func (e *SyncError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("mirror sync failed: %v", e.Err)
	}
	return fmt.Sprintf("mirror sync for user %s failed: %v", e.UserID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsSyncError reports whether err is (or wraps) a SyncError.
func IsSyncError(err error) bool {
	var target *SyncError
	return errors.As(err, &target)
}

// TransportError indicates the identity provider or the store was unreachable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// ValidationError indicates a request that is well-formed but semantically
// invalid, such as making a role its own ancestor.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
