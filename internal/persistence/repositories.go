package persistence

import (
	"context"
	"time"

	"github.com/example/equipment-availability/internal/availability"
)

// ReservationRepository is the authoritative store of reservations. Every
// write for a unit is serialized with every other write for the same unit,
// so the check inside Insert and Reschedule cannot race a concurrent insert.
type ReservationRepository interface {
	availability.ReservationReader

	// Insert stores r unless an active reservation on the same unit overlaps
	// it, in which case it returns *availability.ConflictError.
	Insert(ctx context.Context, r availability.Reservation, asOf time.Time) error
	Get(ctx context.Context, id string) (availability.Reservation, error)
	// Confirm moves a live hold to confirmed. Confirming a confirmed
	// reservation is a no-op.
	Confirm(ctx context.Context, id string, asOf time.Time) (availability.Reservation, error)
	// Cancel is idempotent for cancelled and expired reservations.
	Cancel(ctx context.Context, id string, at time.Time) (availability.Reservation, error)
	// Reschedule cancels oldID and inserts replacement atomically.
	Reschedule(ctx context.Context, oldID string, replacement availability.Reservation, asOf time.Time) error
	// ExpireHolds marks every hold past its TTL as expired and returns them.
	ExpireHolds(ctx context.Context, asOf time.Time) ([]availability.Reservation, error)
	ListByProject(ctx context.Context, filter ProjectFilter) ([]availability.Reservation, error)
}
