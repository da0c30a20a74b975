package application

import (
	"strings"
	"time"

	"github.com/example/equipment-availability/internal/availability"
)

// RangeInput carries a caller supplied date range as text. Start and End
// accept YYYY-MM-DD or RFC 3339; Interval accepts "start/end" and wins when set.
type RangeInput struct {
	Start    string
	End      string
	Interval string
}

// CheckAvailabilityParams wraps a single availability query.
type CheckAvailabilityParams struct {
	UnitID string
	Range  RangeInput
}

// BatchItemInput is one unit and range of a batch query.
type BatchItemInput struct {
	UnitID string
	Range  RangeInput
}

// CheckAvailabilityBatchParams wraps a batch query. A zero Timeout uses the
// service default.
type CheckAvailabilityBatchParams struct {
	Items   []BatchItemInput
	Timeout time.Duration
}

// FindAlternativesParams wraps an alternative search. A zero Max uses
// DefaultMaxAlternatives. PreferAttribute with PreferTarget orders candidates
// by distance to the target value instead of creation order.
type FindAlternativesParams struct {
	UnitID          string
	Range           RangeInput
	Max             int
	PreferAttribute string
	PreferTarget    *float64
}

// HoldParams wraps a hold request.
type HoldParams struct {
	UnitID    string
	ProjectID string
	Range     RangeInput
}

// RescheduleParams moves a reservation to a new range on the same unit.
type RescheduleParams struct {
	ReservationID string
	Range         RangeInput
}

// ListProjectReservationsParams wraps a project listing.
type ListProjectReservationsParams struct {
	ProjectID       string
	IncludeInactive bool
}

func parseRange(field string, input RangeInput, vErr *ValidationError) (availability.DateRange, bool) {
	var (
		r   availability.DateRange
		err error
	)
	switch {
	case strings.TrimSpace(input.Interval) != "":
		r, err = availability.ParseInterval(strings.TrimSpace(input.Interval))
	case strings.TrimSpace(input.Start) == "" || strings.TrimSpace(input.End) == "":
		vErr.add(field, "start and end are required")
		return availability.DateRange{}, false
	default:
		r, err = availability.ParseDateRange(strings.TrimSpace(input.Start), strings.TrimSpace(input.End))
	}
	if err != nil {
		vErr.add(field, "range must be valid dates with start before end")
		vErr.Cause = ErrInvalidRange
		return availability.DateRange{}, false
	}
	return r, true
}

func requireID(field, value string, vErr *ValidationError) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		vErr.add(field, field+" is required")
	}
	return trimmed
}
