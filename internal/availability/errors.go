package availability

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRange is returned when a date range is empty, inverted or unparsable.
	ErrInvalidRange = errors.New("availability: invalid range")
	// ErrUnitNotFound is returned when the catalog has no unit with the given id.
	ErrUnitNotFound = errors.New("availability: unit not found")
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("availability: conflict")
)

// ConflictError reports that a requested range overlaps active reservations.
// It is an expected outcome and always carries the overlapping reservations.
type ConflictError struct {
	UnitID    string
	Range     DateRange
	Conflicts []Reservation
	// Reason distinguishes booking conflicts from partial coverage.
	Reason Reason
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, c.ID)
	}
	return fmt.Sprintf("availability: unit %s conflicts for %s with [%s]", e.UnitID, e.Range, strings.Join(ids, ", "))
}

// Unwrap allows errors.Is(err, ErrConflict).
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}
