package availability

import (
	"context"
	"fmt"
	"time"
)

// Status classifies a unit for a requested range.
type Status string

const (
	Available          Status = "available"
	PartiallyAvailable Status = "partially_available"
	Conflicted         Status = "conflicted"
	// Errored is only produced by the batch validator for items whose evaluation failed.
	Errored Status = "errored"
)

// Reason is a stable, machine readable explanation attached to a result.
type Reason string

const (
	ReasonNone Reason = ""
	// ReasonNotBookable means the unit is blocked by policy (retired, in maintenance).
	ReasonNotBookable Reason = "UNIT_NOT_BOOKABLE"
	// ReasonBooked means existing reservations cover the whole range.
	ReasonBooked Reason = "BOOKED"
	// ReasonPartiallyBooked means some of the range is free.
	ReasonPartiallyBooked Reason = "PARTIALLY_BOOKED"
	// ReasonNoAlternativesFound means no interchangeable unit is free.
	ReasonNoAlternativesFound Reason = "NO_ALTERNATIVES_FOUND"
)

// Result is the derived availability of one unit for one range. It is never persisted.
type Result struct {
	UnitID        string
	Range         DateRange
	Status        Status
	Reason        Reason
	Conflicts     []Reservation
	FreeSubRanges []DateRange
}

// Option configures engine components.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for hold expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Evaluator classifies a unit and range as Available, PartiallyAvailable or Conflicted.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	catalog  Catalog
	detector *Detector
	now      func() time.Time
}

// NewEvaluator wires an evaluator over a catalog and a reservation store.
func NewEvaluator(catalog Catalog, reservations ReservationReader, opts ...Option) *Evaluator {
	o := buildOptions(opts)
	return &Evaluator{catalog: catalog, detector: NewDetector(reservations), now: o.now}
}

// Evaluate returns the availability of unitID over r.
func (e *Evaluator) Evaluate(ctx context.Context, unitID string, r DateRange) (Result, error) {
	if e == nil || e.catalog == nil {
		return Result{}, fmt.Errorf("availability: evaluator not configured")
	}
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	unit, err := e.catalog.Unit(ctx, unitID)
	if err != nil {
		return Result{}, err
	}
	return e.EvaluateUnit(ctx, unit, r)
}

// EvaluateUnit is Evaluate for a unit already resolved from the catalog.
func (e *Evaluator) EvaluateUnit(ctx context.Context, unit EquipmentUnit, r DateRange) (Result, error) {
	result := Result{UnitID: unit.ID, Range: r}
	if !unit.Bookable {
		result.Status = Conflicted
		result.Reason = ReasonNotBookable
		return result, nil
	}

	conflicts, err := e.detector.Detect(ctx, unit.ID, r, e.now())
	if err != nil {
		return Result{}, err
	}
	if len(conflicts) == 0 {
		result.Status = Available
		result.FreeSubRanges = []DateRange{r}
		return result, nil
	}

	occupied := make([]DateRange, 0, len(conflicts))
	for _, c := range conflicts {
		occupied = append(occupied, c.Range)
	}
	free, err := Subtract(r, occupied)
	if err != nil {
		return Result{}, err
	}

	result.Conflicts = conflicts
	if len(free) == 0 {
		result.Status = Conflicted
		result.Reason = ReasonBooked
		return result, nil
	}
	result.Status = PartiallyAvailable
	result.Reason = ReasonPartiallyBooked
	result.FreeSubRanges = free
	return result, nil
}
