package permissions

import (
	"errors"
	"fmt"
)

var (
	// ErrImmutableLevel is returned for any attempt to change admin_master.
	ErrImmutableLevel = errors.New("permissions: admin_master permissions are immutable")
	// ErrNothingToCommit is returned when commit is requested with an empty ledger.
	ErrNothingToCommit = errors.New("permissions: nenhuma alteração pendente")
	// ErrCommitInProgress is returned when the ledger is frozen by an outstanding commit.
	ErrCommitInProgress = errors.New("permissions: commit in progress")
	// ErrLoadInProgress is returned while a snapshot load is outstanding.
	ErrLoadInProgress = errors.New("permissions: snapshot load in progress")
	// ErrNotLoaded is returned when editing before a successful snapshot load.
	ErrNotLoaded = errors.New("permissions: matrix not loaded")
	// ErrUnknownLevel is returned for an access level outside the fixed set.
	ErrUnknownLevel = errors.New("permissions: unknown access level")
	// ErrUnknownResource is returned for a slug missing from the active catalog.
	ErrUnknownResource = errors.New("permissions: unknown resource")
	// ErrUnknownAction is returned for a slug missing from the active catalog.
	ErrUnknownAction = errors.New("permissions: unknown action")
	// ErrForbidden is returned when the actor may not change permissions.
	ErrForbidden = errors.New("permissions: forbidden")
)

// CommitRejectedError carries the server's refusal of a batched write.
type CommitRejectedError struct {
	Status int
	Reason string
}

func (e *CommitRejectedError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("permissions: commit rejected (%d): %s", e.Status, e.Reason)
	}
	return "permissions: commit rejected: " + e.Reason
}

// CacheRefreshFailedError reports that the write succeeded but the cache refresh did not.
type CacheRefreshFailedError struct {
	Applied int
	Err     error
}

func (e *CacheRefreshFailedError) Error() string {
	return fmt.Sprintf("permissions: %d changes saved but cache refresh failed: %v", e.Applied, e.Err)
}

func (e *CacheRefreshFailedError) Unwrap() error {
	return e.Err
}

// SnapshotLoadError reports a failed catalog/snapshot fetch.
type SnapshotLoadError struct {
	Err error
}

func (e *SnapshotLoadError) Error() string {
	return "permissions: load snapshot: " + e.Err.Error()
}

func (e *SnapshotLoadError) Unwrap() error {
	return e.Err
}

// ValidationError names the triple that failed server-side validation.
type ValidationError struct {
	Key Key
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
