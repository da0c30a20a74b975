package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/lock"
	"github.com/example/equipment-availability/internal/persistence"
)

// timestampLayout is fixed width so stored UTC timestamps compare lexicographically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const reservationColumns = `id, unit_id, project_id, start_date, end_date, status, created_at, updated_at, expires_at, replaces_id`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ReservationRepository implements persistence.ReservationRepository using SQLite.
// Writes for one unit are serialized in process by a keyed lock and run in
// immediate transactions, so concurrent holds cannot both pass the overlap check.
type ReservationRepository struct {
	pool  *ConnectionPool
	locks *lock.Keyed
	retry *RetryHelper
}

// NewReservationRepository creates a new SQLite reservation repository
func NewReservationRepository(pool *ConnectionPool, retry RetryConfig) *ReservationRepository {
	return &ReservationRepository{
		pool:  pool,
		locks: lock.NewKeyed(),
		retry: NewRetryHelper(retry),
	}
}

// ListActive returns the unit's reservations that block their range at asOf.
func (r *ReservationRepository) ListActive(ctx context.Context, unitID string, asOf time.Time) ([]availability.Reservation, error) {
	var out []availability.Reservation
	err := r.retry.WithRetry(ctx, func() error {
		var err error
		out, err = queryActive(ctx, r.pool.DB(), unitID, asOf, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Insert stores res unless it overlaps an active reservation on the same unit.
func (r *ReservationRepository) Insert(ctx context.Context, res availability.Reservation, asOf time.Time) error {
	if err := validateNew(res); err != nil {
		return err
	}
	release, err := r.locks.Lock(ctx, res.UnitID)
	if err != nil {
		return err
	}
	defer release()

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			active, err := queryActive(ctx, tx, res.UnitID, asOf, "")
			if err != nil {
				return err
			}
			if conflicts := availability.DetectConflicts(active, res.Range, asOf); len(conflicts) > 0 {
				return &availability.ConflictError{UnitID: res.UnitID, Range: res.Range, Conflicts: conflicts, Reason: availability.ReasonBooked}
			}
			return insertRow(ctx, tx, res)
		})
	})
}

// Get retrieves a reservation by ID from the database
func (r *ReservationRepository) Get(ctx context.Context, id string) (availability.Reservation, error) {
	if id == "" {
		return availability.Reservation{}, persistence.ErrNotFound
	}
	var res availability.Reservation
	err := r.retry.WithRetry(ctx, func() error {
		var err error
		res, err = queryByID(ctx, r.pool.DB(), id)
		return err
	})
	return res, err
}

// Confirm transitions a live hold to confirmed. A lapsed hold is persisted as
// expired before persistence.ErrExpired is returned.
func (r *ReservationRepository) Confirm(ctx context.Context, id string, asOf time.Time) (availability.Reservation, error) {
	return r.transition(ctx, id, func(current availability.Reservation) (availability.Reservation, error) {
		return persistence.ConfirmTransition(current, asOf)
	})
}

// Cancel marks a reservation cancelled. Inactive reservations are returned unchanged.
func (r *ReservationRepository) Cancel(ctx context.Context, id string, at time.Time) (availability.Reservation, error) {
	return r.transition(ctx, id, func(current availability.Reservation) (availability.Reservation, error) {
		return persistence.CancelTransition(current, at), nil
	})
}

// transition applies fn to the stored reservation under its unit lock and
// persists the new status even when fn reports an error.
func (r *ReservationRepository) transition(ctx context.Context, id string, fn func(availability.Reservation) (availability.Reservation, error)) (availability.Reservation, error) {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return availability.Reservation{}, err
	}
	release, err := r.locks.Lock(ctx, existing.UnitID)
	if err != nil {
		return availability.Reservation{}, err
	}
	defer release()

	var next availability.Reservation
	var outcome error
	err = r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			current, err := queryByID(ctx, tx, id)
			if err != nil {
				return err
			}
			next, outcome = fn(current)
			if next.Status == current.Status {
				return nil
			}
			return updateStatus(ctx, tx, next)
		})
	})
	if err != nil {
		return availability.Reservation{}, err
	}
	return next, outcome
}

// Reschedule cancels oldID and inserts replacement in one transaction.
func (r *ReservationRepository) Reschedule(ctx context.Context, oldID string, replacement availability.Reservation, asOf time.Time) error {
	existing, err := r.Get(ctx, oldID)
	if err != nil {
		return err
	}
	release, err := r.locks.Lock(ctx, existing.UnitID)
	if err != nil {
		return err
	}
	defer release()

	var outcome error
	err = r.retry.WithRetry(ctx, func() error {
		outcome = nil
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			old, err := queryByID(ctx, tx, oldID)
			if err != nil {
				return err
			}
			if err := persistence.CheckReschedulable(old, replacement, asOf); err != nil {
				outcome = err
				if old.HoldExpiredAt(asOf) {
					return updateStatus(ctx, tx, persistence.ExpireTransition(old, asOf))
				}
				return nil
			}
			if err := validateNew(replacement); err != nil {
				outcome = err
				return nil
			}
			active, err := queryActive(ctx, tx, old.UnitID, asOf, oldID)
			if err != nil {
				return err
			}
			if conflicts := availability.DetectConflicts(active, replacement.Range, asOf); len(conflicts) > 0 {
				return &availability.ConflictError{UnitID: replacement.UnitID, Range: replacement.Range, Conflicts: conflicts, Reason: availability.ReasonBooked}
			}
			if err := updateStatus(ctx, tx, persistence.CancelTransition(old, asOf)); err != nil {
				return err
			}
			replacement.ReplacesID = oldID
			return insertRow(ctx, tx, replacement)
		})
	})
	if err != nil {
		return err
	}
	return outcome
}

// ExpireHolds marks lapsed holds expired, one unit at a time under its lock.
func (r *ReservationRepository) ExpireHolds(ctx context.Context, asOf time.Time) ([]availability.Reservation, error) {
	var units []string
	err := r.retry.WithRetry(ctx, func() error {
		units = units[:0]
		rows, err := r.pool.DB().QueryContext(ctx,
			`SELECT DISTINCT unit_id FROM reservations WHERE status = 'tentative' AND expires_at IS NOT NULL AND expires_at <= ?`,
			formatTimestamp(asOf))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var unitID string
			if err := rows.Scan(&unitID); err != nil {
				return err
			}
			units = append(units, unitID)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	var expired []availability.Reservation
	for _, unitID := range units {
		batch, err := r.expireUnit(ctx, unitID, asOf)
		if err != nil {
			return expired, err
		}
		expired = append(expired, batch...)
	}
	return expired, nil
}

func (r *ReservationRepository) expireUnit(ctx context.Context, unitID string, asOf time.Time) ([]availability.Reservation, error) {
	release, err := r.locks.Lock(ctx, unitID)
	if err != nil {
		return nil, err
	}
	defer release()

	var expired []availability.Reservation
	err = r.retry.WithRetry(ctx, func() error {
		expired = expired[:0]
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			lapsed, err := queryReservations(ctx, tx,
				`SELECT `+reservationColumns+` FROM reservations
				 WHERE unit_id = ? AND status = 'tentative' AND expires_at IS NOT NULL AND expires_at <= ?
				 ORDER BY start_date, id`,
				unitID, formatTimestamp(asOf))
			if err != nil {
				return err
			}
			for _, res := range lapsed {
				next := persistence.ExpireTransition(res, asOf)
				if err := updateStatus(ctx, tx, next); err != nil {
					return err
				}
				expired = append(expired, next)
			}
			return nil
		})
	})
	return expired, err
}

// ListByProject returns the project's reservations ordered by start date.
func (r *ReservationRepository) ListByProject(ctx context.Context, filter persistence.ProjectFilter) ([]availability.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE project_id = ?`
	if !filter.IncludeInactive {
		query += ` AND status IN ('tentative', 'confirmed')`
	}
	query += ` ORDER BY start_date, id`

	var out []availability.Reservation
	err := r.retry.WithRetry(ctx, func() error {
		var err error
		out, err = queryReservations(ctx, r.pool.DB(), query, filter.ProjectID)
		return err
	})
	return out, err
}

func queryActive(ctx context.Context, q querier, unitID string, asOf time.Time, excludeID string) ([]availability.Reservation, error) {
	rows, err := queryReservations(ctx, q,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE unit_id = ? AND status IN ('tentative', 'confirmed') AND id <> ?
		 ORDER BY start_date, id`,
		unitID, excludeID)
	if err != nil {
		return nil, err
	}
	active := rows[:0]
	for _, res := range rows {
		if res.ActiveAt(asOf) {
			active = append(active, res)
		}
	}
	return active, nil
}

func queryByID(ctx context.Context, q querier, id string) (availability.Reservation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return availability.Reservation{}, persistence.ErrNotFound
	}
	return res, err
}

func queryReservations(ctx context.Context, q querier, query string, args ...any) ([]availability.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func insertRow(ctx context.Context, q querier, res availability.Reservation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID,
		res.UnitID,
		res.ProjectID,
		res.Range.Start.Format(availability.DateLayout),
		res.Range.End.Format(availability.DateLayout),
		string(res.Status),
		formatTimestamp(res.CreatedAt),
		formatTimestamp(res.UpdatedAt),
		nullableTimestamp(res.ExpiresAt),
		nullableString(res.ReplacesID),
	)
	return err
}

func updateStatus(ctx context.Context, q querier, res availability.Reservation) error {
	result, err := q.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ?, expires_at = ? WHERE id = ?`,
		string(res.Status), formatTimestamp(res.UpdatedAt), nullableTimestamp(res.ExpiresAt), res.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReservation(s scanner) (availability.Reservation, error) {
	var (
		res                   availability.Reservation
		start, end, status    string
		createdAt, updatedAt  string
		expiresAt, replacesID sql.NullString
	)
	if err := s.Scan(&res.ID, &res.UnitID, &res.ProjectID, &start, &end, &status, &createdAt, &updatedAt, &expiresAt, &replacesID); err != nil {
		return availability.Reservation{}, err
	}

	var err error
	if res.Range, err = availability.ParseDateRange(start, end); err != nil {
		return availability.Reservation{}, fmt.Errorf("reservation %s: %w", res.ID, err)
	}
	res.Status = availability.ReservationStatus(status)
	if res.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return availability.Reservation{}, fmt.Errorf("reservation %s created_at: %w", res.ID, err)
	}
	if res.UpdatedAt, err = time.Parse(timestampLayout, updatedAt); err != nil {
		return availability.Reservation{}, fmt.Errorf("reservation %s updated_at: %w", res.ID, err)
	}
	if expiresAt.Valid {
		t, err := time.Parse(timestampLayout, expiresAt.String)
		if err != nil {
			return availability.Reservation{}, fmt.Errorf("reservation %s expires_at: %w", res.ID, err)
		}
		res.ExpiresAt = &t
	}
	res.ReplacesID = replacesID.String
	return res, nil
}

func validateNew(res availability.Reservation) error {
	if res.ID == "" || res.UnitID == "" {
		return fmt.Errorf("sqlite: reservation id and unit id are required")
	}
	if err := res.Range.Validate(); err != nil {
		return err
	}
	if res.Status != availability.StatusTentative && res.Status != availability.StatusConfirmed {
		return fmt.Errorf("sqlite: cannot insert reservation in status %q", res.Status)
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullableTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
