package availability

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errStoreUnavailable = errors.New("store unavailable")

type fakeCatalog struct {
	units map[string]EquipmentUnit
}

func newFakeCatalog(units ...EquipmentUnit) *fakeCatalog {
	c := &fakeCatalog{units: make(map[string]EquipmentUnit)}
	for _, u := range units {
		c.units[u.ID] = u
	}
	return c
}

func (c *fakeCatalog) Unit(_ context.Context, id string) (EquipmentUnit, error) {
	u, ok := c.units[id]
	if !ok {
		return EquipmentUnit{}, ErrUnitNotFound
	}
	return u, nil
}

func (c *fakeCatalog) UnitsInCategory(_ context.Context, category string) ([]EquipmentUnit, error) {
	var out []EquipmentUnit
	for _, u := range c.units {
		if u.CategoryID == category {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeReader struct {
	mu       sync.Mutex
	byUnit   map[string][]Reservation
	failures map[string]error
	delay    map[string]time.Duration
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		byUnit:   make(map[string][]Reservation),
		failures: make(map[string]error),
		delay:    make(map[string]time.Duration),
	}
}

func (r *fakeReader) add(res Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUnit[res.UnitID] = append(r.byUnit[res.UnitID], res)
}

func (r *fakeReader) ListActive(ctx context.Context, unitID string, asOf time.Time) ([]Reservation, error) {
	r.mu.Lock()
	err := r.failures[unitID]
	wait := r.delay[unitID]
	list := append([]Reservation(nil), r.byUnit[unitID]...)
	r.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	active := list[:0]
	for _, res := range list {
		if res.ActiveAt(asOf) {
			active = append(active, res)
		}
	}
	return active, nil
}

func confirmed(id, unit string, r DateRange) Reservation {
	return Reservation{ID: id, UnitID: unit, Range: r, Status: StatusConfirmed}
}

func bookable(id, category string, createdDay int) EquipmentUnit {
	return EquipmentUnit{ID: id, CategoryID: category, Bookable: true, CreatedAt: day(createdDay)}
}

func fixedNow() time.Time {
	return time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)
}
