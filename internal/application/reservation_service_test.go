package application_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/example/equipment-availability/internal/application"
	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/persistence"
	"github.com/example/equipment-availability/internal/persistence/memory"
	"github.com/example/equipment-availability/internal/testfixtures"
)

func dates(start, end string) application.RangeInput {
	return application.RangeInput{Start: start, End: end}
}

func newReservationFixture(t *testing.T, units ...availability.EquipmentUnit) (*testfixtures.ServiceFactory, testfixtures.Services) {
	t.Helper()
	if len(units) == 0 {
		units = []availability.EquipmentUnit{testfixtures.NewUnit(testfixtures.WithUnitID("cam-1"))}
	}
	factory := testfixtures.NewServiceFactory()
	services := factory.NewServices(testfixtures.ServiceDeps{Catalog: testfixtures.NewCatalog(t, units...)})
	return factory, services
}

func TestReservationService_Hold(t *testing.T) {
	t.Parallel()

	t.Run("places a tentative hold with the configured TTL", func(t *testing.T) {
		t.Parallel()
		factory, services := newReservationFixture(t)

		hold, err := services.Reservations.Hold(context.Background(), application.HoldParams{
			UnitID: "cam-1", ProjectID: "proj-1", Range: dates("2024-06-01", "2024-06-05"),
		})
		if err != nil {
			t.Fatalf("Hold failed: %v", err)
		}
		if hold.Status != availability.StatusTentative {
			t.Fatalf("expected tentative, got %s", hold.Status)
		}
		want := factory.Clock.Now().Add(5 * time.Minute)
		if hold.ExpiresAt == nil || !hold.ExpiresAt.Equal(want) {
			t.Fatalf("expected expiry %v, got %v", want, hold.ExpiresAt)
		}
	})

	t.Run("rejects overlapping holds with the blocking reservation", func(t *testing.T) {
		t.Parallel()
		_, services := newReservationFixture(t)
		ctx := context.Background()

		first, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-05")})
		if err != nil {
			t.Fatalf("first Hold failed: %v", err)
		}
		_, err = services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "q", Range: dates("2024-06-04", "2024-06-08")})
		var conflict *availability.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected ConflictError, got %v", err)
		}
		if len(conflict.Conflicts) != 1 || conflict.Conflicts[0].ID != first.ID {
			t.Fatalf("expected conflict with %s, got %+v", first.ID, conflict.Conflicts)
		}
		if conflict.Reason != availability.ReasonPartiallyBooked {
			t.Fatalf("expected partially booked reason, got %s", conflict.Reason)
		}
	})

	t.Run("touching ranges do not conflict", func(t *testing.T) {
		t.Parallel()
		_, services := newReservationFixture(t)
		ctx := context.Background()

		if _, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-05")}); err != nil {
			t.Fatalf("first Hold failed: %v", err)
		}
		if _, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-05", "2024-06-08")}); err != nil {
			t.Fatalf("adjacent Hold failed: %v", err)
		}
	})

	t.Run("rejects non-bookable units", func(t *testing.T) {
		t.Parallel()
		_, services := newReservationFixture(t, testfixtures.NewUnit(testfixtures.WithUnitID("retired"), testfixtures.WithBookable(false)))

		_, err := services.Reservations.Hold(context.Background(), application.HoldParams{UnitID: "retired", ProjectID: "p", Range: dates("2024-06-01", "2024-06-02")})
		if !errors.Is(err, application.ErrUnitNotBookable) {
			t.Fatalf("expected ErrUnitNotBookable, got %v", err)
		}
	})

	t.Run("reports unknown units and invalid input", func(t *testing.T) {
		t.Parallel()
		_, services := newReservationFixture(t)
		ctx := context.Background()

		if _, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "ghost", ProjectID: "p", Range: dates("2024-06-01", "2024-06-02")}); !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		_, err := services.Reservations.Hold(ctx, application.HoldParams{Range: dates("2024-06-05", "2024-06-01")})
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"unit_id", "project_id", "range"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("expected field error for %s, got %v", field, vErr.FieldErrors)
			}
		}
		if !errors.Is(err, application.ErrInvalidRange) {
			t.Fatalf("expected inverted range to match ErrInvalidRange")
		}
	})

	t.Run("an expired hold frees the range", func(t *testing.T) {
		t.Parallel()
		factory, services := newReservationFixture(t)
		ctx := context.Background()

		if _, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-05")}); err != nil {
			t.Fatalf("first Hold failed: %v", err)
		}
		factory.Clock.Advance(5 * time.Minute)
		if _, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "q", Range: dates("2024-06-01", "2024-06-05")}); err != nil {
			t.Fatalf("Hold after expiry failed: %v", err)
		}
	})
}

func TestReservationService_ConcurrentHoldsOnOneUnit(t *testing.T) {
	t.Parallel()

	for name, store := range map[string]func(t *testing.T) persistence.ReservationRepository{
		"memory": func(t *testing.T) persistence.ReservationRepository { return memory.New() },
		"sqlite": func(t *testing.T) persistence.ReservationRepository { return testfixtures.NewSQLiteHarness(t).Storage },
	} {
		store := store
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			factory := testfixtures.NewServiceFactory()
			services := factory.NewServices(testfixtures.ServiceDeps{
				Catalog:      testfixtures.NewCatalog(t, testfixtures.NewUnit(testfixtures.WithUnitID("cam-1"))),
				Reservations: store(t),
			})

			const attempts = 50
			var (
				wg        sync.WaitGroup
				start     = make(chan struct{})
				mu        sync.Mutex
				granted   int
				conflicts int
				others    []error
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := services.Reservations.Hold(context.Background(), application.HoldParams{
						UnitID:    "cam-1",
						ProjectID: fmt.Sprintf("proj-%d", i),
						Range:     dates("2024-06-01", "2024-06-05"),
					})
					mu.Lock()
					defer mu.Unlock()
					var conflict *availability.ConflictError
					switch {
					case err == nil:
						granted++
					case errors.As(err, &conflict):
						conflicts++
					default:
						others = append(others, err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if len(others) > 0 {
				t.Fatalf("unexpected errors: %v", others)
			}
			if granted != 1 || conflicts != attempts-1 {
				t.Fatalf("expected 1 granted and %d conflicts, got %d and %d", attempts-1, granted, conflicts)
			}
		})
	}
}

func TestReservationService_RandomConcurrentLifecycleKeepsRangesDisjoint(t *testing.T) {
	t.Parallel()

	units := []availability.EquipmentUnit{
		testfixtures.NewUnit(testfixtures.WithUnitID("a")),
		testfixtures.NewUnit(testfixtures.WithUnitID("b")),
	}
	factory, services := newReservationFixture(t, units...)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w) + 42))
			for i := 0; i < 30; i++ {
				start := base.AddDate(0, 0, rng.Intn(15))
				end := start.AddDate(0, 0, 1+rng.Intn(3))
				hold, err := services.Reservations.Hold(ctx, application.HoldParams{
					UnitID:    units[rng.Intn(len(units))].ID,
					ProjectID: "stress",
					Range:     dates(start.Format(availability.DateLayout), end.Format(availability.DateLayout)),
				})
				if err != nil {
					if !errors.Is(err, availability.ErrConflict) {
						t.Errorf("unexpected hold error: %v", err)
					}
					continue
				}
				switch rng.Intn(3) {
				case 0:
					_, _ = services.Reservations.Confirm(ctx, hold.ID)
				case 1:
					_, _ = services.Reservations.Cancel(ctx, hold.ID)
				}
			}
		}(w)
	}
	wg.Wait()

	for _, unit := range units {
		active, err := services.Store.ListActive(ctx, unit.ID, factory.Clock.Now())
		if err != nil {
			t.Fatalf("ListActive failed: %v", err)
		}
		for i := range active {
			for j := i + 1; j < len(active); j++ {
				if availability.Overlaps(active[i].Range, active[j].Range) {
					t.Fatalf("overlapping active reservations on %s: %s and %s", unit.ID, active[i].Range, active[j].Range)
				}
			}
		}
	}
}

func TestReservationService_Confirm(t *testing.T) {
	t.Parallel()

	factory, services := newReservationFixture(t)
	ctx := context.Background()

	hold, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-05")})
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	factory.Clock.Advance(4 * time.Minute)
	confirmed, err := services.Reservations.Confirm(ctx, hold.ID)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if confirmed.Status != availability.StatusConfirmed || confirmed.ExpiresAt != nil {
		t.Fatalf("unexpected confirmed reservation: %+v", confirmed)
	}

	factory.Clock.Advance(time.Hour)
	if _, err := services.Reservations.Confirm(ctx, hold.ID); err != nil {
		t.Fatalf("confirming a confirmed reservation should be a no-op, got %v", err)
	}

	if _, err := services.Reservations.Confirm(ctx, "missing"); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	late, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-07-01", "2024-07-02")})
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	factory.Clock.Advance(6 * time.Minute)
	if _, err := services.Reservations.Confirm(ctx, late.ID); !errors.Is(err, application.ErrAlreadyExpired) {
		t.Fatalf("expected ErrAlreadyExpired, got %v", err)
	}
	got, err := services.Reservations.Get(ctx, late.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != availability.StatusExpired {
		t.Fatalf("expected expired status, got %s", got.Status)
	}

	released, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-08-01", "2024-08-02")})
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	if _, err := services.Reservations.Release(ctx, released.ID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := services.Reservations.Confirm(ctx, released.ID); !errors.Is(err, application.ErrReservationCancelled) {
		t.Fatalf("expected ErrReservationCancelled, got %v", err)
	}
}

func TestReservationService_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	_, services := newReservationFixture(t)
	ctx := context.Background()

	hold, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-05")})
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	if _, err := services.Reservations.Confirm(ctx, hold.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		cancelled, err := services.Reservations.Cancel(ctx, hold.ID)
		if err != nil {
			t.Fatalf("Cancel #%d failed: %v", i+1, err)
		}
		if cancelled.Status != availability.StatusCancelled {
			t.Fatalf("expected cancelled, got %s", cancelled.Status)
		}
	}

	if _, err := services.Reservations.Cancel(ctx, "missing"); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-05")}); err != nil {
		t.Fatalf("cancelled range should be bookable, got %v", err)
	}
}

func TestReservationService_Reschedule(t *testing.T) {
	t.Parallel()

	factory, services := newReservationFixture(t)
	ctx := context.Background()

	hold, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-05")})
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	if _, err := services.Reservations.Confirm(ctx, hold.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	other, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "q", Range: dates("2024-06-10", "2024-06-12")})
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	factory.Clock.Advance(time.Minute)
	moved, err := services.Reservations.Reschedule(ctx, application.RescheduleParams{ReservationID: hold.ID, Range: dates("2024-06-03", "2024-06-08")})
	if err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if moved.ID == hold.ID || moved.ReplacesID != hold.ID {
		t.Fatalf("expected a new reservation replacing %s, got %+v", hold.ID, moved)
	}
	if moved.Status != availability.StatusConfirmed || moved.ExpiresAt != nil {
		t.Fatalf("a confirmed reservation should stay confirmed, got %+v", moved)
	}

	old, err := services.Reservations.Get(ctx, hold.ID)
	if err != nil || old.Status != availability.StatusCancelled {
		t.Fatalf("expected old reservation cancelled, got %+v, %v", old, err)
	}

	_, err = services.Reservations.Reschedule(ctx, application.RescheduleParams{ReservationID: moved.ID, Range: dates("2024-06-09", "2024-06-11")})
	var conflict *availability.ConflictError
	if !errors.As(err, &conflict) || conflict.Conflicts[0].ID != other.ID {
		t.Fatalf("expected conflict with %s, got %v", other.ID, err)
	}

	movedHold, err := services.Reservations.Reschedule(ctx, application.RescheduleParams{ReservationID: other.ID, Range: dates("2024-06-20", "2024-06-22")})
	if err != nil {
		t.Fatalf("Reschedule hold failed: %v", err)
	}
	wantExpiry := factory.Clock.Now().Add(application.DefaultHoldTTL)
	if movedHold.Status != availability.StatusTentative || movedHold.ExpiresAt == nil || !movedHold.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("a rescheduled hold should get a fresh TTL, got %+v", movedHold)
	}

	if _, err := services.Reservations.Reschedule(ctx, application.RescheduleParams{ReservationID: hold.ID, Range: dates("2024-09-01", "2024-09-02")}); !errors.Is(err, application.ErrReservationCancelled) {
		t.Fatalf("expected ErrReservationCancelled, got %v", err)
	}
}

func TestReservationService_RescheduleInactiveReservations(t *testing.T) {
	t.Parallel()

	stores := map[string]func(t *testing.T) persistence.ReservationRepository{
		"memory": func(t *testing.T) persistence.ReservationRepository { return memory.New() },
		"sqlite": func(t *testing.T) persistence.ReservationRepository { return testfixtures.NewSQLiteHarness(t).Storage },
	}
	for name, open := range stores {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			factory := testfixtures.NewServiceFactory()
			services := factory.NewServices(testfixtures.ServiceDeps{
				Catalog:      testfixtures.NewCatalog(t, testfixtures.NewUnit(testfixtures.WithUnitID("cam-1"))),
				Reservations: open(t),
			})

			cancelled, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-03")})
			if err != nil {
				t.Fatalf("Hold failed: %v", err)
			}
			if _, err := services.Reservations.Cancel(ctx, cancelled.ID); err != nil {
				t.Fatalf("Cancel failed: %v", err)
			}
			_, err = services.Reservations.Reschedule(ctx, application.RescheduleParams{ReservationID: cancelled.ID, Range: dates("2024-06-05", "2024-06-07")})
			if !errors.Is(err, application.ErrReservationCancelled) || application.ErrorKind(err) != "reservation_cancelled" {
				t.Fatalf("expected ErrReservationCancelled, got %v (kind %s)", err, application.ErrorKind(err))
			}

			swept, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-10", "2024-06-12")})
			if err != nil {
				t.Fatalf("Hold failed: %v", err)
			}
			if _, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-20", "2024-06-22")}); err != nil {
				t.Fatalf("Hold failed: %v", err)
			}
			factory.Clock.Advance(application.DefaultHoldTTL + time.Minute)
			expired, err := services.Store.ExpireHolds(ctx, factory.Clock.Now())
			if err != nil || len(expired) != 2 {
				t.Fatalf("ExpireHolds: expected 2 expired holds, got %d, %v", len(expired), err)
			}
			_, err = services.Reservations.Reschedule(ctx, application.RescheduleParams{ReservationID: swept.ID, Range: dates("2024-07-01", "2024-07-03")})
			if !errors.Is(err, application.ErrAlreadyExpired) || application.ErrorKind(err) != "already_expired" {
				t.Fatalf("expected ErrAlreadyExpired for swept hold, got %v", err)
			}

			fresh, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-08-01", "2024-08-03")})
			if err != nil {
				t.Fatalf("Hold failed: %v", err)
			}
			factory.Clock.Advance(application.DefaultHoldTTL + time.Minute)
			_, err = services.Reservations.Reschedule(ctx, application.RescheduleParams{ReservationID: fresh.ID, Range: dates("2024-08-05", "2024-08-07")})
			if !errors.Is(err, application.ErrAlreadyExpired) {
				t.Fatalf("expected ErrAlreadyExpired for lapsed hold, got %v", err)
			}
			got, err := services.Reservations.Get(ctx, fresh.ID)
			if err != nil || got.Status != availability.StatusExpired {
				t.Fatalf("lapsed hold should read as expired, got %+v, %v", got, err)
			}
		})
	}
}

func TestReservationService_ExpireHoldsAndListForProject(t *testing.T) {
	t.Parallel()

	factory, services := newReservationFixture(t)
	ctx := context.Background()

	first, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-10", "2024-06-12")})
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	second, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-03")})
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	if _, err := services.Reservations.Confirm(ctx, second.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	factory.Clock.Advance(10 * time.Minute)

	active, err := services.Reservations.ListForProject(ctx, application.ListProjectReservationsParams{ProjectID: "p"})
	if err != nil {
		t.Fatalf("ListForProject failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.ID {
		t.Fatalf("expected only the confirmed reservation before the sweep, got %+v", active)
	}

	expired, err := services.Reservations.ExpireHolds(ctx)
	if err != nil {
		t.Fatalf("ExpireHolds failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != first.ID {
		t.Fatalf("expected %s to expire, got %+v", first.ID, expired)
	}

	all, err := services.Reservations.ListForProject(ctx, application.ListProjectReservationsParams{ProjectID: "p", IncludeInactive: true})
	if err != nil {
		t.Fatalf("ListForProject failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID || all[1].Status != availability.StatusExpired {
		t.Fatalf("unexpected listing: %+v", all)
	}

	if _, err := services.Reservations.ListForProject(ctx, application.ListProjectReservationsParams{}); err == nil {
		t.Fatalf("expected validation error for missing project")
	}
}

func TestReservationService_RunExpirySweeper(t *testing.T) {
	t.Parallel()

	factory, services := newReservationFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hold, err := services.Reservations.Hold(ctx, application.HoldParams{UnitID: "cam-1", ProjectID: "p", Range: dates("2024-06-01", "2024-06-05")})
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	factory.Clock.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		services.Reservations.RunExpirySweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		stored, err := services.Store.Get(context.Background(), hold.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if stored.Status == availability.StatusExpired {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper did not expire the hold")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop after cancel")
	}
}
