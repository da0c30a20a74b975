package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/metrics"
)

const (
	// DefaultBatchTimeout bounds a batch when neither the caller nor the config sets a deadline.
	DefaultBatchTimeout = 10 * time.Second
	// MaxBatchItems caps the size of one batch request.
	MaxBatchItems = 500
	// DefaultMaxAlternatives is used when a search does not set Max.
	DefaultMaxAlternatives = 5
	// MaxAlternatives caps Max.
	MaxAlternatives = 50
)

// AvailabilityServiceConfig wires the read side of the engine.
type AvailabilityServiceConfig struct {
	Catalog      availability.Catalog
	Reservations availability.ReservationReader
	// BatchWorkers bounds concurrent evaluations per batch; zero uses NumCPU.
	BatchWorkers int
	BatchTimeout time.Duration
	Now          func() time.Time
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// AvailabilityService answers availability, batch and alternative queries.
type AvailabilityService struct {
	evaluator    *availability.Evaluator
	finder       *availability.AlternativeFinder
	batch        *availability.BatchValidator
	batchTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewAvailabilityService constructs the service from cfg.
func NewAvailabilityService(cfg AvailabilityServiceConfig) *AvailabilityService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	evaluator := availability.NewEvaluator(cfg.Catalog, cfg.Reservations, availability.WithClock(now))
	return &AvailabilityService{
		evaluator:    evaluator,
		finder:       availability.NewAlternativeFinder(cfg.Catalog, evaluator),
		batch:        availability.NewBatchValidator(evaluator, cfg.BatchWorkers),
		batchTimeout: timeout,
		metrics:      cfg.Metrics,
		logger:       defaultLogger(cfg.Logger),
	}
}

func (s *AvailabilityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AvailabilityService", operation, attrs...)
}

// CheckAvailability evaluates one unit over one range.
func (s *AvailabilityService) CheckAvailability(ctx context.Context, params CheckAvailabilityParams) (result availability.Result, err error) {
	if s == nil {
		err = fmt.Errorf("AvailabilityService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CheckAvailability", "unit_id", params.UnitID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check availability", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "availability checked",
			"status", string(result.Status),
			"conflict_count", len(result.Conflicts),
		)
	}()

	vErr := &ValidationError{}
	unitID := requireID("unit_id", params.UnitID, vErr)
	r, _ := parseRange("range", params.Range, vErr)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	result, err = s.evaluator.Evaluate(ctx, unitID, r)
	if err != nil {
		err = mapReservationStoreError(err)
		return
	}
	s.metrics.ObserveEvaluation(string(result.Status))
	return
}

// CheckAvailabilityBatch evaluates every item independently. Items that fail
// come back as Errored entries; the call itself only fails on invalid input.
// When the deadline expires the report is returned with Complete set to false.
func (s *AvailabilityService) CheckAvailabilityBatch(ctx context.Context, params CheckAvailabilityBatchParams) (report availability.BatchReport, err error) {
	if s == nil {
		err = fmt.Errorf("AvailabilityService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CheckAvailabilityBatch", "item_count", len(params.Items))
	started := time.Now()
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check availability batch", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "availability batch checked",
			"complete", report.Complete,
			"available", report.Summary.Available,
			"partially_available", report.Summary.PartiallyAvailable,
			"conflicted", report.Summary.Conflicted,
			"errored", report.Summary.Errored,
			"duration", time.Since(started),
		)
	}()

	vErr := &ValidationError{}
	if len(params.Items) > MaxBatchItems {
		vErr.add("items", "at most "+strconv.Itoa(MaxBatchItems)+" items are allowed")
	}
	if params.Timeout < 0 {
		vErr.add("timeout", "timeout must not be negative")
	}
	items := make([]availability.BatchItem, 0, len(params.Items))
	for i, in := range params.Items {
		prefix := "items[" + strconv.Itoa(i) + "]"
		unitID := requireID(prefix+".unit_id", in.UnitID, vErr)
		r, _ := parseRange(prefix+".range", in.Range, vErr)
		items = append(items, availability.BatchItem{UnitID: unitID, Range: r})
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	timeout := s.batchTimeout
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	batchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report, err = s.batch.Validate(batchCtx, items)
	if err != nil {
		return
	}
	for _, entry := range report.Entries {
		if entry.Status == availability.Errored {
			logger.WarnContext(ctx, "batch item failed",
				"index", entry.Index,
				"unit_id", entry.UnitID,
				"error", entry.Err,
				"error_kind", EntryErrorKind(entry.Err),
			)
		}
	}
	s.metrics.ObserveBatch(time.Since(started), map[string]int{
		string(availability.Available):          report.Summary.Available,
		string(availability.PartiallyAvailable): report.Summary.PartiallyAvailable,
		string(availability.Conflicted):         report.Summary.Conflicted,
		string(availability.Errored):            report.Summary.Errored,
	})
	return
}

// FindAlternatives returns up to Max interchangeable units that are fully
// available. An empty result carries ReasonNoAlternativesFound.
func (s *AvailabilityService) FindAlternatives(ctx context.Context, params FindAlternativesParams) (alts availability.Alternatives, err error) {
	if s == nil {
		err = fmt.Errorf("AvailabilityService is nil")
		return
	}

	logger := s.loggerWith(ctx, "FindAlternatives", "unit_id", params.UnitID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to find alternatives", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "alternatives found",
			"result_count", len(alts.Units),
			"reason", string(alts.Reason),
		)
	}()

	vErr := &ValidationError{}
	unitID := requireID("unit_id", params.UnitID, vErr)
	r, _ := parseRange("range", params.Range, vErr)
	max := params.Max
	switch {
	case max == 0:
		max = DefaultMaxAlternatives
	case max < 0 || max > MaxAlternatives:
		vErr.add("max", "max must be between 1 and "+strconv.Itoa(MaxAlternatives))
	}
	var prefer availability.Preference
	if params.PreferAttribute != "" {
		if params.PreferTarget == nil {
			vErr.add("prefer_target", "prefer_target is required with prefer_attribute")
		} else {
			prefer = availability.ByAttributeDistance(params.PreferAttribute, *params.PreferTarget)
		}
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	alts, err = s.finder.Find(ctx, unitID, r, max, prefer)
	if err != nil {
		err = mapReservationStoreError(err)
	}
	return
}
