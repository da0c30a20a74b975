package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/example/equipment-availability/internal/application"
	"github.com/example/equipment-availability/internal/catalog"
	"github.com/example/equipment-availability/internal/config"
	httptransport "github.com/example/equipment-availability/internal/http"
	"github.com/example/equipment-availability/internal/lock"
	"github.com/example/equipment-availability/internal/logging"
	"github.com/example/equipment-availability/internal/metrics"
	"github.com/example/equipment-availability/internal/persistence"
	"github.com/example/equipment-availability/internal/persistence/memory"
	"github.com/example/equipment-availability/internal/persistence/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("availability service stopped with error", "error", err)
		os.Exit(1)
	}
}

// app holds the wired service graph.
type app struct {
	handler      http.Handler
	reservations *application.ReservationService
	store        persistence.ReservationRepository
	closers      []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, registry *prometheus.Registry) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	switch cfg.StoreDriver {
	case config.StoreMemory:
		store := memory.New()
		a.store = store
		a.closers = append(a.closers, store)
	default:
		storage, openErr := sqlite.Open(ctx, cfg.SQLiteDSN, sqlite.DefaultOptions())
		if openErr != nil {
			return nil, fmt.Errorf("open sqlite store: %w", openErr)
		}
		a.store = storage
		a.closers = append(a.closers, storage)
	}

	equipment := catalog.NewCached(catalog.FileLoader(cfg.CatalogPath), cfg.CatalogCacheTTL, logger)
	if _, err = equipment.Snapshot(ctx); err != nil {
		return nil, fmt.Errorf("load equipment catalog: %w", err)
	}

	var locker lock.Locker = lock.NewKeyed()
	if cfg.RedisURL != "" {
		client, dialErr := lock.DialRedis(ctx, cfg.RedisURL)
		if dialErr != nil {
			return nil, fmt.Errorf("connect redis: %w", dialErr)
		}
		a.closers = append(a.closers, client)
		if locker, err = lock.NewRedis(client, cfg.LockTTL); err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "distributed hold lock enabled")
	}

	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	availabilityService := application.NewAvailabilityService(application.AvailabilityServiceConfig{
		Catalog:      equipment,
		Reservations: a.store,
		BatchWorkers: cfg.BatchWorkers,
		BatchTimeout: cfg.BatchTimeout,
		Metrics:      m,
		Logger:       logger,
	})
	a.reservations = application.NewReservationService(application.ReservationServiceConfig{
		Catalog:      equipment,
		Reservations: a.store,
		Locker:       locker,
		HoldTTL:      cfg.HoldTTL,
		Metrics:      m,
		Logger:       logger,
	})

	var limiter *httptransport.IPRateLimiter
	if cfg.RateLimitEnabled() {
		limiter = httptransport.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Availability: httptransport.NewAvailabilityHandler(availabilityService, logger),
		Reservations: httptransport.NewReservationHandler(a.reservations, logger),
		Gatherer:     registry,
		Metrics:      m,
		RateLimiter:  limiter,
		Logger:       logger,
	})
	return a, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Error("failed to release resources", "error", cerr)
		}
	}()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		a.reservations.RunExpirySweeper(sweepCtx, cfg.SweepInterval)
	}()
	defer func() {
		cancelSweep()
		<-sweepDone
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("availability API listening",
		"addr", server.Addr,
		"store", cfg.StoreDriver,
		"hold_ttl", cfg.HoldTTL,
		"distributed_lock", cfg.RedisURL != "",
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}
