package application

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when the requested unit or reservation does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidRange is returned when a date range is empty, inverted or unparsable.
	ErrInvalidRange = errors.New("application: invalid range")
	// ErrUnitNotBookable is returned when a hold targets a unit blocked by policy.
	ErrUnitNotBookable = errors.New("application: unit not bookable")
	// ErrAlreadyExpired is returned when confirming a hold whose TTL elapsed.
	ErrAlreadyExpired = errors.New("application: hold already expired")
	// ErrReservationCancelled is returned when confirming or rescheduling a cancelled reservation.
	ErrReservationCancelled = errors.New("application: reservation cancelled")
	// ErrTransientStore is returned for retryable store failures.
	ErrTransientStore = errors.New("application: transient store error")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
	// Cause is ErrInvalidRange when a date range failed to parse.
	Cause error
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// Unwrap exposes Cause to errors.Is.
func (v *ValidationError) Unwrap() error {
	if v == nil {
		return nil
	}
	return v.Cause
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
