package testfixtures

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/catalog"
)

var (
	unitCounter        uint64
	reservationCounter uint64
)

var referenceTime = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Range parses a half-open date range and panics on invalid input.
func Range(start, end string) availability.DateRange {
	return availability.MustDateRange(start, end)
}

// ----------------------------- Unit fixtures -----------------------------

// UnitOption configures the generated unit.
type UnitOption func(*availability.EquipmentUnit)

// NewUnit returns a bookable unit in the "camera" category with optional overrides.
func NewUnit(opts ...UnitOption) availability.EquipmentUnit {
	idx := atomic.AddUint64(&unitCounter, 1)
	unit := availability.EquipmentUnit{
		ID:         fmt.Sprintf("unit-%03d", idx),
		CategoryID: "camera",
		Bookable:   true,
		CreatedAt:  referenceTime.AddDate(-1, 0, 0).Add(time.Duration(idx) * time.Hour),
	}
	for _, opt := range opts {
		opt(&unit)
	}
	return unit
}

// WithUnitID overrides the generated unit ID.
func WithUnitID(id string) UnitOption {
	return func(u *availability.EquipmentUnit) {
		u.ID = id
	}
}

// WithCategory overrides the category.
func WithCategory(category string) UnitOption {
	return func(u *availability.EquipmentUnit) {
		u.CategoryID = category
	}
}

// WithBookable sets the bookable flag.
func WithBookable(bookable bool) UnitOption {
	return func(u *availability.EquipmentUnit) {
		u.Bookable = bookable
	}
}

// WithUnitCreatedAt sets the creation time used by the default preference order.
func WithUnitCreatedAt(t time.Time) UnitOption {
	return func(u *availability.EquipmentUnit) {
		u.CreatedAt = t
	}
}

// WithAttribute sets one numeric attribute.
func WithAttribute(name string, value float64) UnitOption {
	return func(u *availability.EquipmentUnit) {
		if u.Attributes == nil {
			u.Attributes = make(map[string]float64)
		}
		u.Attributes[name] = value
	}
}

// NewCatalog builds a static catalog from units and fails the test on invalid input.
func NewCatalog(tb testing.TB, units ...availability.EquipmentUnit) *catalog.Static {
	tb.Helper()
	c, err := catalog.NewStatic(units...)
	if err != nil {
		tb.Fatalf("failed to build catalog: %v", err)
	}
	return c
}

// -------------------------- Reservation fixtures --------------------------

// ReservationOption configures the generated reservation.
type ReservationOption func(*availability.Reservation)

// NewReservation returns a confirmed reservation over 2024-06-10..2024-06-12
// with optional overrides.
func NewReservation(opts ...ReservationOption) availability.Reservation {
	idx := atomic.AddUint64(&reservationCounter, 1)
	r := availability.Reservation{
		ID:        fmt.Sprintf("fixture-res-%03d", idx),
		UnitID:    "unit-001",
		ProjectID: "project-001",
		Range:     Range("2024-06-10", "2024-06-12"),
		Status:    availability.StatusConfirmed,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithReservationID overrides the generated reservation ID.
func WithReservationID(id string) ReservationOption {
	return func(r *availability.Reservation) {
		r.ID = id
	}
}

// WithReservationUnit sets the unit.
func WithReservationUnit(unitID string) ReservationOption {
	return func(r *availability.Reservation) {
		r.UnitID = unitID
	}
}

// WithProject sets the project.
func WithProject(projectID string) ReservationOption {
	return func(r *availability.Reservation) {
		r.ProjectID = projectID
	}
}

// WithRange sets the reserved dates.
func WithRange(start, end string) ReservationOption {
	return func(r *availability.Reservation) {
		r.Range = Range(start, end)
	}
}

// WithHold makes the reservation a tentative hold expiring at expiresAt.
func WithHold(expiresAt time.Time) ReservationOption {
	return func(r *availability.Reservation) {
		r.Status = availability.StatusTentative
		r.ExpiresAt = &expiresAt
	}
}

// WithStatus overrides the reservation status.
func WithStatus(status availability.ReservationStatus) ReservationOption {
	return func(r *availability.Reservation) {
		r.Status = status
	}
}

// WithReservationTimestamps sets both created and updated timestamps.
func WithReservationTimestamps(created, updated time.Time) ReservationOption {
	return func(r *availability.Reservation) {
		r.CreatedAt = created
		r.UpdatedAt = updated
	}
}
