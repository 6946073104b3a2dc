package database

import "errors"

var (
	// ErrResourceUnavailable means the resource is inactive or a blocking
	// reservation already occupies the requested interval.
	ErrResourceUnavailable = errors.New("resource is not available for the requested interval")

	// ErrInvalidInterval means the interval is empty, mismatches the
	// resource kind, or the guest count exceeds capacity.
	ErrInvalidInterval = errors.New("invalid reservation interval")

	// ErrInvalidTransition means a state-machine guard rejected the change.
	ErrInvalidTransition = errors.New("invalid reservation status transition")

	// ErrNotFound means the resource or reservation id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification means a versioned update lost a race.
	ErrConcurrentModification = errors.New("reservation was modified concurrently")
)
