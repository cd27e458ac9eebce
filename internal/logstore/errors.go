package logstore

import "errors"

// Sentinel errors for batch operations, checked with errors.Is().
//
// Example:
//
//	b, err := store.GetBatch(ctx, id)
//	if errors.Is(err, logstore.ErrBatchNotFound) {
//	    // 404
//	}
var (
	// ErrBatchNotFound indicates the batch ID does not exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrInvalidTransition indicates a status change that the
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrImmutable indicates an attempt to change a batch that
	// reached a terminal status.
	ErrImmutable = errors.New("batch is in a terminal status")
)
