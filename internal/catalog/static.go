// Package catalog provides the equipment catalog consulted by the availability
// engine. Units are read-only from the engine's point of view.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/example/equipment-availability/internal/availability"
)

// Static is an immutable catalog snapshot.
type Static struct {
	units      map[string]availability.EquipmentUnit
	categories map[string][]string
}

// NewStatic indexes units by id and category. Unit ids must be unique and
// every unit needs a category.
func NewStatic(units ...availability.EquipmentUnit) (*Static, error) {
	s := &Static{
		units:      make(map[string]availability.EquipmentUnit, len(units)),
		categories: make(map[string][]string),
	}
	for _, u := range units {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog: unit id is required")
		}
		if strings.TrimSpace(u.CategoryID) == "" {
			return nil, fmt.Errorf("catalog: unit %s has no category", id)
		}
		if _, dup := s.units[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate unit id %s", id)
		}
		u.ID = id
		s.units[id] = cloneUnit(u)
		s.categories[u.CategoryID] = append(s.categories[u.CategoryID], id)
	}
	for category := range s.categories {
		ids := s.categories[category]
		sort.Slice(ids, func(i, j int) bool {
			a, b := s.units[ids[i]], s.units[ids[j]]
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			return a.CreatedAt.Before(b.CreatedAt)
		})
	}
	return s, nil
}

// Len reports the number of units in the snapshot.
func (s *Static) Len() int {
	if s == nil {
		return 0
	}
	return len(s.units)
}

// Unit returns the unit with the given id or availability.ErrUnitNotFound.
func (s *Static) Unit(ctx context.Context, unitID string) (availability.EquipmentUnit, error) {
	if err := ctx.Err(); err != nil {
		return availability.EquipmentUnit{}, err
	}
	if s != nil {
		if u, ok := s.units[unitID]; ok {
			return cloneUnit(u), nil
		}
	}
	return availability.EquipmentUnit{}, fmt.Errorf("%w: %s", availability.ErrUnitNotFound, unitID)
}

// UnitsInCategory returns the category's units ordered by creation time.
// Unknown categories yield an empty slice.
func (s *Static) UnitsInCategory(ctx context.Context, categoryID string) ([]availability.EquipmentUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	ids := s.categories[categoryID]
	out := make([]availability.EquipmentUnit, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneUnit(s.units[id]))
	}
	return out, nil
}

func cloneUnit(u availability.EquipmentUnit) availability.EquipmentUnit {
	if u.Attributes != nil {
		attrs := make(map[string]float64, len(u.Attributes))
		for k, v := range u.Attributes {
			attrs[k] = v
		}
		u.Attributes = attrs
	}
	return u
}
