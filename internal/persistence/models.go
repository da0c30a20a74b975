package persistence

import "github.com/example/equipment-availability/internal/availability"

// ProjectFilter narrows project reservation listings.
type ProjectFilter struct {
	ProjectID string
	// IncludeInactive also returns cancelled and expired reservations.
	IncludeInactive bool
}

// Matches reports whether the reservation passes the filter. Activity is
// judged on status only; callers needing TTL precision use ListActive.
func (f ProjectFilter) Matches(r availability.Reservation) bool {
	if r.ProjectID != f.ProjectID {
		return false
	}
	if f.IncludeInactive {
		return true
	}
	return r.Status == availability.StatusTentative || r.Status == availability.StatusConfirmed
}
