package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrSaveInProgress is returned when a save is triggered while another
// save for the same item is still outstanding. No new tokens are issued.
var ErrSaveInProgress = errors.New("save already in progress")

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("edit session is closed")

// ErrPendingDeletions refuses reordering while assets are marked for
// deletion: an index into a list with invisible deleted entries would
// silently corrupt committed positions.
var ErrPendingDeletions = errors.New("cannot reorder while deletions are pending")

// ValidationError is locally detectable bad input, rejected before any
// network call is issued.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// FatalError is an unexpected failure that triggered a snapshot restore.
// The wrapped cause is preserved for logging.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "save failed, local changes rolled back: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// isCancellation reports whether err is a cancellation rather than a real
// failure. Cancellations unwind silently: no notifications, no rollback.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
