package persistence

import (
	"time"

	"github.com/example/equipment-availability/internal/availability"
)

// ConfirmTransition computes the state after confirming r at asOf. On error
// the returned reservation may still differ from r (a lapsed hold becomes
// expired) and should be persisted.
func ConfirmTransition(r availability.Reservation, asOf time.Time) (availability.Reservation, error) {
	switch r.Status {
	case availability.StatusConfirmed:
		return r, nil
	case availability.StatusCancelled:
		return r, ErrCancelled
	case availability.StatusExpired:
		return r, ErrExpired
	}
	if r.HoldExpiredAt(asOf) {
		return ExpireTransition(r, asOf), ErrExpired
	}
	next := r.Clone()
	next.Status = availability.StatusConfirmed
	next.ExpiresAt = nil
	next.UpdatedAt = asOf
	return next, nil
}

// CancelTransition computes the state after cancelling r. Reservations that
// are already inactive are returned unchanged, except lapsed holds which
// become expired.
func CancelTransition(r availability.Reservation, at time.Time) availability.Reservation {
	switch r.Status {
	case availability.StatusCancelled, availability.StatusExpired:
		return r
	}
	if r.HoldExpiredAt(at) {
		return ExpireTransition(r, at)
	}
	next := r.Clone()
	next.Status = availability.StatusCancelled
	next.UpdatedAt = at
	return next
}

// ExpireTransition marks a tentative hold expired.
func ExpireTransition(r availability.Reservation, at time.Time) availability.Reservation {
	next := r.Clone()
	next.Status = availability.StatusExpired
	next.UpdatedAt = at
	return next
}

// CheckReschedulable reports whether old may be replaced by replacement at asOf.
func CheckReschedulable(old, replacement availability.Reservation, asOf time.Time) error {
	if replacement.UnitID != old.UnitID {
		return ErrUnitMismatch
	}
	switch {
	case old.Status == availability.StatusCancelled:
		return ErrCancelled
	case old.Status == availability.StatusExpired, old.HoldExpiredAt(asOf):
		return ErrExpired
	}
	return nil
}
