package availability

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Preference orders candidate units. It returns a negative number when a
// should be offered before b, positive when after, zero when indifferent.
type Preference func(a, b EquipmentUnit) int

// ByCreationOrder prefers older units, falling back to id.
func ByCreationOrder(a, b EquipmentUnit) int {
	switch {
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	case b.CreatedAt.Before(a.CreatedAt):
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// ByAttributeDistance prefers units whose attribute is closest to target.
// Units lacking the attribute sort last. Ties use creation order.
func ByAttributeDistance(attribute string, target float64) Preference {
	distance := func(u EquipmentUnit) float64 {
		v, ok := u.Attributes[attribute]
		if !ok {
			return math.Inf(1)
		}
		return math.Abs(v - target)
	}
	return func(a, b EquipmentUnit) int {
		da, db := distance(a), distance(b)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return ByCreationOrder(a, b)
	}
}

// Alternatives is the outcome of a search. An empty Units slice always comes
// with ReasonNoAlternativesFound.
type Alternatives struct {
	UnitID string
	Range  DateRange
	Units  []EquipmentUnit
	Reason Reason
}

// AlternativeFinder searches the unit's category for fully available units.
type AlternativeFinder struct {
	catalog   Catalog
	evaluator *Evaluator
}

// NewAlternativeFinder wires a finder that reuses the evaluator's store.
func NewAlternativeFinder(catalog Catalog, evaluator *Evaluator) *AlternativeFinder {
	return &AlternativeFinder{catalog: catalog, evaluator: evaluator}
}

// Find returns up to max bookable units from the same category as unitID that
// are Available for r, in prefer order. A nil prefer uses ByCreationOrder.
func (f *AlternativeFinder) Find(ctx context.Context, unitID string, r DateRange, max int, prefer Preference) (Alternatives, error) {
	if f == nil || f.catalog == nil || f.evaluator == nil {
		return Alternatives{}, fmt.Errorf("availability: alternative finder not configured")
	}
	if err := r.Validate(); err != nil {
		return Alternatives{}, err
	}
	out := Alternatives{UnitID: unitID, Range: r}
	if max <= 0 {
		out.Reason = ReasonNoAlternativesFound
		return out, nil
	}
	if prefer == nil {
		prefer = ByCreationOrder
	}

	unit, err := f.catalog.Unit(ctx, unitID)
	if err != nil {
		return Alternatives{}, err
	}
	siblings, err := f.catalog.UnitsInCategory(ctx, unit.CategoryID)
	if err != nil {
		return Alternatives{}, fmt.Errorf("list category %s: %w", unit.CategoryID, err)
	}

	candidates := make([]EquipmentUnit, 0, len(siblings))
	for _, s := range siblings {
		if s.ID == unit.ID || !s.Bookable {
			continue
		}
		candidates = append(candidates, s)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return prefer(candidates[i], candidates[j]) < 0
	})

	for _, c := range candidates {
		if len(out.Units) >= max {
			break
		}
		result, err := f.evaluator.EvaluateUnit(ctx, c, r)
		if err != nil {
			return Alternatives{}, fmt.Errorf("evaluate alternative %s: %w", c.ID, err)
		}
		if result.Status == Available {
			out.Units = append(out.Units, c)
		}
	}

	if len(out.Units) == 0 {
		out.Reason = ReasonNoAlternativesFound
	}
	return out, nil
}
