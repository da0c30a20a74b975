package availability

import (
	"context"
	"time"
)

// EquipmentUnit is one individually bookable inventory item as described by
// the equipment catalog. The engine treats it as read-only.
type EquipmentUnit struct {
	ID         string
	CategoryID string
	Bookable   bool
	CreatedAt  time.Time
	Attributes map[string]float64
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusTentative ReservationStatus = "tentative"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
	// StatusExpired marks a hold whose TTL elapsed before confirmation.
	StatusExpired ReservationStatus = "expired"
)

// Reservation is a claim on one unit for one date range.
type Reservation struct {
	ID        string
	UnitID    string
	ProjectID string
	Range     DateRange
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	// ExpiresAt is set while the reservation is a tentative hold.
	ExpiresAt *time.Time
	// ReplacesID links a rescheduled reservation to the one it superseded.
	ReplacesID string
}

// ActiveAt reports whether the reservation blocks its range at the given instant.
// Tentative holds stop being active once their TTL elapses even before a sweep
// marks them expired.
func (r Reservation) ActiveAt(asOf time.Time) bool {
	switch r.Status {
	case StatusConfirmed:
		return true
	case StatusTentative:
		return r.ExpiresAt == nil || asOf.Before(*r.ExpiresAt)
	default:
		return false
	}
}

// HoldExpiredAt reports whether a tentative hold has outlived its TTL.
func (r Reservation) HoldExpiredAt(asOf time.Time) bool {
	return r.Status == StatusTentative && r.ExpiresAt != nil && !asOf.Before(*r.ExpiresAt)
}

// Clone returns a deep copy safe to hand to callers.
func (r Reservation) Clone() Reservation {
	clone := r
	if r.ExpiresAt != nil {
		expires := *r.ExpiresAt
		clone.ExpiresAt = &expires
	}
	return clone
}

// Catalog resolves equipment units. Implementations return ErrUnitNotFound for
// unknown ids.
type Catalog interface {
	Unit(ctx context.Context, unitID string) (EquipmentUnit, error)
	UnitsInCategory(ctx context.Context, categoryID string) ([]EquipmentUnit, error)
}

// ReservationReader exposes the read side of the reservation store.
type ReservationReader interface {
	ListActive(ctx context.Context, unitID string, asOf time.Time) ([]Reservation, error)
}
