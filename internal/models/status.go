package models

// CanTransition reports whether a reservation status change is allowed
// by the state machine. Terminal states accept no further transitions.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// IsTerminal reports whether no further status transitions are permitted.
func IsTerminal(status string) bool {
	return status == StatusCancelled || status == StatusCompleted
}

// IsBlocking reports whether reservations in this status count when
// checking a resource interval for conflicts.
func IsBlocking(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}
