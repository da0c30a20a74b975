package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/lock"
	"github.com/example/equipment-availability/internal/metrics"
	"github.com/example/equipment-availability/internal/persistence"
)

const (
	// DefaultHoldTTL is how long a tentative hold blocks its range.
	DefaultHoldTTL = 5 * time.Minute
	// DefaultLockWait bounds how long a hold waits for the unit lock.
	DefaultLockWait = 5 * time.Second
)

// ReservationServiceConfig wires the transaction coordinator.
type ReservationServiceConfig struct {
	Catalog      availability.Catalog
	Reservations persistence.ReservationRepository
	// Locker serializes holds per unit across processes. Nil uses an in-process keyed lock.
	Locker      lock.Locker
	HoldTTL     time.Duration
	LockWait    time.Duration
	IDGenerator func() string
	Now         func() time.Time
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// ReservationService turns holds into confirmed reservations and releases or
// expires them.
type ReservationService struct {
	catalog      availability.Catalog
	reservations persistence.ReservationRepository
	evaluator    *availability.Evaluator
	locker       lock.Locker
	holdTTL      time.Duration
	lockWait     time.Duration
	idGenerator  func() string
	now          func() time.Time
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewReservationService constructs the service from cfg.
func NewReservationService(cfg ReservationServiceConfig) *ReservationService {
	s := &ReservationService{
		catalog:      cfg.Catalog,
		reservations: cfg.Reservations,
		locker:       cfg.Locker,
		holdTTL:      cfg.HoldTTL,
		lockWait:     cfg.LockWait,
		idGenerator:  cfg.IDGenerator,
		now:          cfg.Now,
		metrics:      cfg.Metrics,
		logger:       defaultLogger(cfg.Logger),
	}
	if s.locker == nil {
		s.locker = lock.NewKeyed()
	}
	if s.holdTTL <= 0 {
		s.holdTTL = DefaultHoldTTL
	}
	if s.lockWait <= 0 {
		s.lockWait = DefaultLockWait
	}
	if s.idGenerator == nil {
		s.idGenerator = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.evaluator = availability.NewEvaluator(cfg.Catalog, cfg.Reservations, availability.WithClock(s.now))
	return s
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, attrs...)
}

func (s *ReservationService) ready() error {
	if s == nil {
		return fmt.Errorf("ReservationService is nil")
	}
	if s.catalog == nil || s.reservations == nil {
		return fmt.Errorf("reservation service not configured")
	}
	return nil
}

// HoldTTL reports the configured hold lifetime.
func (s *ReservationService) HoldTTL() time.Duration {
	return s.holdTTL
}

// Hold places a tentative reservation that blocks the range until confirmed,
// released or expired. Any result other than Available yields a
// *availability.ConflictError listing the blocking reservations.
func (s *ReservationService) Hold(ctx context.Context, params HoldParams) (reservation availability.Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Hold",
		"unit_id", params.UnitID,
		"project_id", params.ProjectID,
	)
	defer func() {
		s.metrics.ObserveHold(holdOutcome(err))
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, availability.ErrConflict) || errors.Is(err, ErrUnitNotBookable) {
				level = slog.LevelInfo
			}
			logger.Log(ctx, level, "hold rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("reservation_id", reservation.ID).InfoContext(ctx, "hold placed",
			"expires_at", reservation.ExpiresAt,
		)
	}()

	vErr := &ValidationError{}
	unitID := requireID("unit_id", params.UnitID, vErr)
	projectID := requireID("project_id", params.ProjectID, vErr)
	r, _ := parseRange("range", params.Range, vErr)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var unit availability.EquipmentUnit
	unit, err = s.catalog.Unit(ctx, unitID)
	if err != nil {
		err = mapReservationStoreError(err)
		return
	}
	if !unit.Bookable {
		err = fmt.Errorf("%w: %s", ErrUnitNotBookable, unit.ID)
		return
	}

	var release func()
	release, err = s.lockUnit(ctx, unit.ID)
	if err != nil {
		return
	}
	defer release()

	var result availability.Result
	result, err = s.evaluator.EvaluateUnit(ctx, unit, r)
	if err != nil {
		err = mapReservationStoreError(err)
		return
	}
	if result.Status != availability.Available {
		err = &availability.ConflictError{UnitID: unit.ID, Range: r, Conflicts: result.Conflicts, Reason: result.Reason}
		return
	}

	now := s.now()
	expires := now.Add(s.holdTTL)
	candidate := availability.Reservation{
		ID:        s.idGenerator(),
		UnitID:    unit.ID,
		ProjectID: projectID,
		Range:     r,
		Status:    availability.StatusTentative,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: &expires,
	}
	if err = s.reservations.Insert(ctx, candidate, now); err != nil {
		err = mapReservationStoreError(err)
		return
	}
	reservation = candidate
	return
}

func (s *ReservationService) lockUnit(ctx context.Context, unitID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := s.locker.Lock(lockCtx, unitID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: acquire lock for unit %s: %v", ErrTransientStore, unitID, err)
	}
	return release, nil
}

func holdOutcome(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, availability.ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnitNotBookable):
		return "not_bookable"
	default:
		return ErrorKind(err)
	}
}

// Confirm turns a live hold into a confirmed reservation. Confirming a
// confirmed reservation returns it unchanged.
func (s *ReservationService) Confirm(ctx context.Context, reservationID string) (reservation availability.Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Confirm", "reservation_id", reservationID)
	defer func() {
		outcome := "confirmed"
		if err != nil {
			outcome = ErrorKind(err)
			logger.ErrorContext(ctx, "failed to confirm reservation", "error", err, "error_kind", ErrorKind(err))
		} else {
			logger.InfoContext(ctx, "reservation confirmed", "unit_id", reservation.UnitID)
		}
		s.metrics.ObserveConfirmation(outcome)
	}()

	vErr := &ValidationError{}
	id := requireID("reservation_id", reservationID, vErr)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	reservation, err = s.reservations.Confirm(ctx, id, s.now())
	if err != nil {
		reservation = availability.Reservation{}
		err = mapReservationStoreError(err)
	}
	return
}

// Cancel releases a hold or cancels a confirmed reservation. Cancelling an
// inactive reservation is a no-op that returns its current state.
func (s *ReservationService) Cancel(ctx context.Context, reservationID string) (reservation availability.Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Cancel", "reservation_id", reservationID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reservation cancelled", "unit_id", reservation.UnitID, "status", string(reservation.Status))
	}()

	vErr := &ValidationError{}
	id := requireID("reservation_id", reservationID, vErr)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var before availability.Reservation
	before, err = s.reservations.Get(ctx, id)
	if err != nil {
		err = mapReservationStoreError(err)
		return
	}
	reservation, err = s.reservations.Cancel(ctx, id, s.now())
	if err != nil {
		err = mapReservationStoreError(err)
		return
	}
	if before.Status != reservation.Status && reservation.Status == availability.StatusCancelled {
		s.metrics.IncCancellations()
	}
	return
}

// Release is Cancel for a tentative hold.
func (s *ReservationService) Release(ctx context.Context, reservationID string) (availability.Reservation, error) {
	return s.Cancel(ctx, reservationID)
}

// Reschedule cancels a reservation and recreates it over a new range on the
// same unit. A confirmed reservation stays confirmed; a hold gets a fresh TTL.
func (s *ReservationService) Reschedule(ctx context.Context, params RescheduleParams) (replacement availability.Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Reschedule", "reservation_id", params.ReservationID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to reschedule reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("replacement_id", replacement.ID).InfoContext(ctx, "reservation rescheduled",
			"unit_id", replacement.UnitID,
		)
	}()

	vErr := &ValidationError{}
	id := requireID("reservation_id", params.ReservationID, vErr)
	r, _ := parseRange("range", params.Range, vErr)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var current availability.Reservation
	current, err = s.reservations.Get(ctx, id)
	if err != nil {
		err = mapReservationStoreError(err)
		return
	}

	var release func()
	release, err = s.lockUnit(ctx, current.UnitID)
	if err != nil {
		return
	}
	defer release()

	now := s.now()
	switch current.Status {
	case availability.StatusCancelled:
		err = fmt.Errorf("%w: %s", ErrReservationCancelled, current.ID)
		return
	case availability.StatusExpired:
		err = fmt.Errorf("%w: %s", ErrAlreadyExpired, current.ID)
		return
	}
	candidate := availability.Reservation{
		ID:         s.idGenerator(),
		UnitID:     current.UnitID,
		ProjectID:  current.ProjectID,
		Range:      r,
		Status:     current.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
		ReplacesID: current.ID,
	}
	if current.Status == availability.StatusTentative {
		expires := now.Add(s.holdTTL)
		candidate.ExpiresAt = &expires
	}
	if err = s.reservations.Reschedule(ctx, current.ID, candidate, now); err != nil {
		err = mapReservationStoreError(err)
		return
	}
	replacement = candidate
	return
}

// Get returns a reservation by id with any lapsed hold reported as expired.
func (s *ReservationService) Get(ctx context.Context, reservationID string) (reservation availability.Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}
	reservation, err = s.reservations.Get(ctx, reservationID)
	if err != nil {
		err = mapReservationStoreError(err)
		s.loggerWith(ctx, "Get", "reservation_id", reservationID).
			DebugContext(ctx, "reservation lookup failed", "error", err, "error_kind", ErrorKind(err))
		return
	}
	if reservation.HoldExpiredAt(s.now()) {
		reservation = persistence.ExpireTransition(reservation, *reservation.ExpiresAt)
	}
	return
}

// ListForProject returns a project's reservations ordered by start date.
func (s *ReservationService) ListForProject(ctx context.Context, params ListProjectReservationsParams) (reservations []availability.Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ListForProject", "project_id", params.ProjectID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list reservations", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(reservations)).DebugContext(ctx, "reservations listed")
	}()

	vErr := &ValidationError{}
	projectID := requireID("project_id", params.ProjectID, vErr)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var raw []availability.Reservation
	raw, err = s.reservations.ListByProject(ctx, persistence.ProjectFilter{
		ProjectID:       projectID,
		IncludeInactive: params.IncludeInactive,
	})
	if err != nil {
		err = mapReservationStoreError(err)
		return
	}

	now := s.now()
	reservations = make([]availability.Reservation, 0, len(raw))
	for _, r := range raw {
		if r.HoldExpiredAt(now) {
			if !params.IncludeInactive {
				continue
			}
			r = persistence.ExpireTransition(r, *r.ExpiresAt)
		}
		reservations = append(reservations, r)
	}
	return
}

// ExpireHolds marks every hold whose TTL elapsed as expired.
func (s *ReservationService) ExpireHolds(ctx context.Context) (expired []availability.Reservation, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ExpireHolds")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to expire holds", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if len(expired) > 0 {
			logger.InfoContext(ctx, "holds expired", "count", len(expired))
		}
	}()

	expired, err = s.reservations.ExpireHolds(ctx, s.now())
	s.metrics.AddExpiredHolds(len(expired))
	if err != nil {
		err = mapReservationStoreError(err)
	}
	return
}

// RunExpirySweeper calls ExpireHolds every interval until ctx ends. Sweep
// failures are logged and retried on the next tick.
func (s *ReservationService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if s == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.loggerWith(ctx, "RunExpirySweeper").InfoContext(ctx, "expiry sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.loggerWith(ctx, "RunExpirySweeper").InfoContext(ctx, "expiry sweeper stopped")
			return
		case <-ticker.C:
			_, _ = s.ExpireHolds(ctx)
		}
	}
}
