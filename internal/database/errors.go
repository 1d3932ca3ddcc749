package database

import "errors"

var (
	// ErrNotFound is returned when a record or configuration does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status update would violate
	// the record state machine (e.g. re-syncing a synced record).
	ErrInvalidTransition = errors.New("invalid status transition")
)
