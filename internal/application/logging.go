package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContextOr(ctx, base)

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, availability.ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnitNotBookable):
		return "unit_not_bookable"
	case errors.Is(err, ErrAlreadyExpired):
		return "already_expired"
	case errors.Is(err, ErrReservationCancelled):
		return "reservation_cancelled"
	case errors.Is(err, ErrTransientStore):
		return "transient_store"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "context"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}

// EntryErrorKind classifies the raw cause carried by an Errored batch entry.
func EntryErrorKind(err error) string {
	return ErrorKind(mapReservationStoreError(err))
}
