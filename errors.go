package collabkit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotStarted is returned by lock and save operations invoked before
	// Start. A lock holder must be a tracked, live actor.
	ErrNotStarted = errors.New("collabkit: presence not started")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("collabkit: session closed")
	// ErrAcquireInFlight is returned when an acquire or takeover for the same
	// field path is already running in this session. Operations on one field
	// are serialized within an actor.
	ErrAcquireInFlight = errors.New("collabkit: operation already in flight for field")
)

// DeniedError reports lock contention. A normal outcome, not a failure: the
// field is simply being edited by someone else.
type DeniedError struct {
	FieldPath         string
	HolderID          string
	HolderDisplayName string
}

func (e *DeniedError) Error() string {
	if e.HolderDisplayName == "" {
		return fmt.Sprintf("field %q is locked", e.FieldPath)
	}
	return fmt.Sprintf("field %q is locked by %s", e.FieldPath, e.HolderDisplayName)
}

// ConflictError reports a version mismatch on save: the document was updated
// remotely after this session captured its version marker. Recoverable, the
// human decides between ReloadLatest and ForceSave.
type ConflictError struct {
	RemoteUpdatedAt time.Time
	RemoteUpdatedBy string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document was updated by %s at %s", e.RemoteUpdatedBy, e.RemoteUpdatedAt.Format(time.RFC3339))
}

// TransientError wraps a store or network failure that survived the bounded
// retry budget. The edit session stays usable, the UI should report degraded
// connectivity.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermissionError means the identity lacks rights to the document. Fatal to
// the operation, never retried.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string { return fmt.Sprintf("permission denied: %v", e.Err) }
func (e *PermissionError) Unwrap() error { return e.Err }

// IsDenied reports whether err is lock contention.
func IsDenied(err error) bool {
	var d *DeniedError
	return errors.As(err, &d)
}

// IsConflict reports whether err is a save version conflict.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsTransient reports whether err is a retriable store failure that exhausted
// its retry budget.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
