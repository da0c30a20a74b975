package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrExpired is returned when a tentative hold outlived its TTL.
	ErrExpired = errors.New("persistence: hold expired")
	// ErrCancelled is returned when a transition targets a cancelled reservation.
	ErrCancelled = errors.New("persistence: reservation cancelled")
	// ErrDuplicate is returned when a reservation id is already taken.
	ErrDuplicate = errors.New("persistence: duplicate reservation id")
	// ErrUnitMismatch is returned when a replacement reservation targets another unit.
	ErrUnitMismatch = errors.New("persistence: replacement must keep the unit")
	// ErrTransient marks retryable infrastructure faults such as a busy database.
	ErrTransient = errors.New("persistence: transient store error")
)
