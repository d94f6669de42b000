package respool

import "errors"

// Sentinel errors for pool operations.
var (
	// ErrTimeout is returned when no resource became available within the
	// requested wait. The pool state is unchanged; callers may retry.
	ErrTimeout = errors.New("respool: checkout timed out")

	// ErrShuttingDown is returned by checkouts once the pool has entered
	// shutdown. It is permanent until a Reload completes.
	ErrShuttingDown = errors.New("respool: pool is shutting down")

	// ErrNotCheckedOut is returned by Checkin when the given context holds
	// no active checkout. It indicates an unbalanced checkin at the call
	// site.
	ErrNotCheckedOut = errors.New("respool: no active checkout in context")

	// ErrNilFactory is returned at construction when no factory is
	// supplied.
	ErrNilFactory = errors.New("respool: factory is required")

	// ErrInvalidCapacity is returned at construction for a negative
	// capacity.
	ErrInvalidCapacity = errors.New("respool: capacity must be positive")
)
