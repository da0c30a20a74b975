// Package memory implements persistence.ReservationRepository in process.
//
// Each unit owns an arena guarded by its own RWMutex, so writes to one unit
// never wait on another unit and reads proceed in parallel.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/persistence"
)

type arena struct {
	mu           sync.RWMutex
	reservations map[string]availability.Reservation
}

// Store is an in-memory reservation store.
type Store struct {
	mu     sync.RWMutex
	arenas map[string]*arena
	// index maps reservation id to unit id.
	index map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		arenas: make(map[string]*arena),
		index:  make(map[string]string),
	}
}

// Close is a no-op kept for parity with the SQLite store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) arenaFor(unitID string, create bool) *arena {
	s.mu.RLock()
	a, ok := s.arenas[unitID]
	s.mu.RUnlock()
	if ok || !create {
		return a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok = s.arenas[unitID]; ok {
		return a
	}
	a = &arena{reservations: make(map[string]availability.Reservation)}
	s.arenas[unitID] = a
	return a
}

func (s *Store) arenaForReservation(id string) (*arena, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unitID, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.arenas[unitID], true
}

// claimID indexes id under unitID unless the id is already taken. Callers
// hold the unit's arena lock and write the reservation right after a claim.
func (s *Store) claimID(id, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; ok {
		return fmt.Errorf("%w: %s", persistence.ErrDuplicate, id)
	}
	s.index[id] = unitID
	return nil
}

// ListActive returns the unit's reservations that block their range at asOf.
func (s *Store) ListActive(ctx context.Context, unitID string, asOf time.Time) ([]availability.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a := s.arenaFor(unitID, false)
	if a == nil {
		return nil, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return activeLocked(a, asOf, ""), nil
}

func activeLocked(a *arena, asOf time.Time, excludeID string) []availability.Reservation {
	out := make([]availability.Reservation, 0, len(a.reservations))
	for id, r := range a.reservations {
		if id == excludeID || !r.ActiveAt(asOf) {
			continue
		}
		out = append(out, r.Clone())
	}
	sortByStart(out)
	return out
}

// Insert stores r after checking it against the unit's active reservations
// under the unit's write lock.
func (s *Store) Insert(ctx context.Context, r availability.Reservation, asOf time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateNew(r); err != nil {
		return err
	}

	a := s.arenaFor(r.UnitID, true)
	a.mu.Lock()
	defer a.mu.Unlock()

	if conflicts := availability.DetectConflicts(activeLocked(a, asOf, ""), r.Range, asOf); len(conflicts) > 0 {
		return &availability.ConflictError{UnitID: r.UnitID, Range: r.Range, Conflicts: conflicts, Reason: availability.ReasonBooked}
	}
	if err := s.claimID(r.ID, r.UnitID); err != nil {
		return err
	}
	a.reservations[r.ID] = r.Clone()
	return nil
}

// Get returns a reservation by id.
func (s *Store) Get(ctx context.Context, id string) (availability.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return availability.Reservation{}, err
	}
	a, ok := s.arenaForReservation(id)
	if !ok {
		return availability.Reservation{}, persistence.ErrNotFound
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.reservations[id]
	if !ok {
		return availability.Reservation{}, persistence.ErrNotFound
	}
	return r.Clone(), nil
}

// Confirm transitions a live hold to confirmed.
func (s *Store) Confirm(ctx context.Context, id string, asOf time.Time) (availability.Reservation, error) {
	return s.mutate(ctx, id, func(a *arena, r availability.Reservation) (availability.Reservation, error) {
		next, err := persistence.ConfirmTransition(r, asOf)
		if err != nil {
			if next.Status != r.Status {
				a.reservations[id] = next
			}
			return next.Clone(), err
		}
		a.reservations[id] = next
		return next.Clone(), nil
	})
}

// Cancel marks a reservation cancelled. Cancelled and expired reservations are returned unchanged.
func (s *Store) Cancel(ctx context.Context, id string, at time.Time) (availability.Reservation, error) {
	return s.mutate(ctx, id, func(a *arena, r availability.Reservation) (availability.Reservation, error) {
		next := persistence.CancelTransition(r, at)
		a.reservations[id] = next
		return next.Clone(), nil
	})
}

func (s *Store) mutate(ctx context.Context, id string, fn func(*arena, availability.Reservation) (availability.Reservation, error)) (availability.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return availability.Reservation{}, err
	}
	a, ok := s.arenaForReservation(id)
	if !ok {
		return availability.Reservation{}, persistence.ErrNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.reservations[id]
	if !ok {
		return availability.Reservation{}, persistence.ErrNotFound
	}
	return fn(a, r)
}

// Reschedule cancels oldID and inserts replacement on the same unit in one step.
func (s *Store) Reschedule(ctx context.Context, oldID string, replacement availability.Reservation, asOf time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, ok := s.arenaForReservation(oldID)
	if !ok {
		return persistence.ErrNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.reservations[oldID]
	if !ok {
		return persistence.ErrNotFound
	}
	if err := persistence.CheckReschedulable(old, replacement, asOf); err != nil {
		if old.HoldExpiredAt(asOf) {
			a.reservations[oldID] = persistence.ExpireTransition(old, asOf)
		}
		return err
	}
	if err := validateNew(replacement); err != nil {
		return err
	}
	if conflicts := availability.DetectConflicts(activeLocked(a, asOf, oldID), replacement.Range, asOf); len(conflicts) > 0 {
		return &availability.ConflictError{UnitID: replacement.UnitID, Range: replacement.Range, Conflicts: conflicts, Reason: availability.ReasonBooked}
	}
	if err := s.claimID(replacement.ID, replacement.UnitID); err != nil {
		return err
	}

	a.reservations[oldID] = persistence.CancelTransition(old, asOf)
	replacement.ReplacesID = oldID
	a.reservations[replacement.ID] = replacement.Clone()
	return nil
}

// ExpireHolds marks every hold whose TTL elapsed by asOf as expired.
func (s *Store) ExpireHolds(ctx context.Context, asOf time.Time) ([]availability.Reservation, error) {
	s.mu.RLock()
	arenas := make([]*arena, 0, len(s.arenas))
	for _, a := range s.arenas {
		arenas = append(arenas, a)
	}
	s.mu.RUnlock()

	var expired []availability.Reservation
	for _, a := range arenas {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		a.mu.Lock()
		for id, r := range a.reservations {
			if r.HoldExpiredAt(asOf) {
				next := persistence.ExpireTransition(r, asOf)
				a.reservations[id] = next
				expired = append(expired, next.Clone())
			}
		}
		a.mu.Unlock()
	}
	sortByStart(expired)
	return expired, nil
}

// ListByProject returns the project's reservations across all units.
func (s *Store) ListByProject(ctx context.Context, filter persistence.ProjectFilter) ([]availability.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	arenas := make([]*arena, 0, len(s.arenas))
	for _, a := range s.arenas {
		arenas = append(arenas, a)
	}
	s.mu.RUnlock()

	var out []availability.Reservation
	for _, a := range arenas {
		a.mu.RLock()
		for _, r := range a.reservations {
			if filter.Matches(r) {
				out = append(out, r.Clone())
			}
		}
		a.mu.RUnlock()
	}
	sortByStart(out)
	return out, nil
}

func validateNew(r availability.Reservation) error {
	if r.ID == "" || r.UnitID == "" {
		return fmt.Errorf("memory: reservation id and unit id are required")
	}
	if err := r.Range.Validate(); err != nil {
		return err
	}
	if r.Status != availability.StatusTentative && r.Status != availability.StatusConfirmed {
		return fmt.Errorf("memory: cannot insert reservation in status %q", r.Status)
	}
	return nil
}

func sortByStart(rs []availability.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Range.Start.Equal(rs[j].Range.Start) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Range.Start.Before(rs[j].Range.Start)
	})
}
