package application

import (
	"errors"
	"fmt"

	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/persistence"
)

// mapReservationStoreError translates engine and store errors into
// application errors. Conflict errors pass through so callers keep the
// overlapping reservations.
func mapReservationStoreError(err error) error {
	if err == nil {
		return nil
	}
	var conflict *availability.ConflictError
	switch {
	case errors.As(err, &conflict):
		return conflict
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, availability.ErrUnitNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, availability.ErrInvalidRange):
		return fmt.Errorf("%w: %v", ErrInvalidRange, err)
	case errors.Is(err, persistence.ErrExpired):
		return fmt.Errorf("%w: %v", ErrAlreadyExpired, err)
	case errors.Is(err, persistence.ErrCancelled):
		return fmt.Errorf("%w: %v", ErrReservationCancelled, err)
	case errors.Is(err, persistence.ErrTransient):
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	case errors.Is(err, persistence.ErrUnitMismatch):
		vErr := &ValidationError{}
		vErr.add("unit_id", "replacement must stay on the same unit")
		return vErr
	}
	return err
}
