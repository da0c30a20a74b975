package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/equipment-availability/internal/application"
	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/lock"
	"github.com/example/equipment-availability/internal/metrics"
	"github.com/example/equipment-availability/internal/persistence"
	"github.com/example/equipment-availability/internal/persistence/memory"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("res")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// ServiceDeps captures the dependencies shared by both services. A nil
// Reservations uses a fresh in-memory store.
type ServiceDeps struct {
	Catalog      availability.Catalog
	Reservations persistence.ReservationRepository
	Locker       lock.Locker
	HoldTTL      time.Duration
	BatchWorkers int
	BatchTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Services bundles the services built by the factory with their store.
type Services struct {
	Availability *application.AvailabilityService
	Reservations *application.ReservationService
	Store        persistence.ReservationRepository
}

// NewServices builds both application services over one store.
func (f *ServiceFactory) NewServices(deps ServiceDeps) Services {
	store := deps.Reservations
	if store == nil {
		store = memory.New()
	}
	return Services{
		Availability: application.NewAvailabilityService(application.AvailabilityServiceConfig{
			Catalog:      deps.Catalog,
			Reservations: store,
			BatchWorkers: deps.BatchWorkers,
			BatchTimeout: deps.BatchTimeout,
			Now:          f.Clock.NowFunc(),
			Metrics:      deps.Metrics,
			Logger:       deps.Logger,
		}),
		Reservations: application.NewReservationService(application.ReservationServiceConfig{
			Catalog:      deps.Catalog,
			Reservations: store,
			Locker:       deps.Locker,
			HoldTTL:      deps.HoldTTL,
			IDGenerator:  f.IDGenerator.NextFunc(),
			Now:          f.Clock.NowFunc(),
			Metrics:      deps.Metrics,
			Logger:       deps.Logger,
		}),
		Store: store,
	}
}
