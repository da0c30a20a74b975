package availability

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DetectConflicts returns the reservations in existing that are active at
// asOf and overlap candidate, sorted by start then id.
func DetectConflicts(existing []Reservation, candidate DateRange, asOf time.Time) []Reservation {
	var conflicts []Reservation
	for _, r := range existing {
		if !r.ActiveAt(asOf) {
			continue
		}
		if Overlaps(r.Range, candidate) {
			conflicts = append(conflicts, r.Clone())
		}
	}
	sortReservations(conflicts)
	return conflicts
}

func sortReservations(rs []Reservation) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Range.Start.Equal(rs[j].Range.Start) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Range.Start.Before(rs[j].Range.Start)
	})
}

// Detector finds conflicting reservations for a single unit using a snapshot
// from the store. Callers that need atomic check-then-insert must go through
// the store's insert path instead.
type Detector struct {
	reservations ReservationReader
}

// NewDetector constructs a detector over the given store.
func NewDetector(reservations ReservationReader) *Detector {
	return &Detector{reservations: reservations}
}

// Detect returns the active reservations on unitID that overlap r.
func (d *Detector) Detect(ctx context.Context, unitID string, r DateRange, asOf time.Time) ([]Reservation, error) {
	if d == nil || d.reservations == nil {
		return nil, fmt.Errorf("availability: detector not configured")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	active, err := d.reservations.ListActive(ctx, unitID, asOf)
	if err != nil {
		return nil, fmt.Errorf("list active reservations for %s: %w", unitID, err)
	}
	return DetectConflicts(active, r, asOf), nil
}
