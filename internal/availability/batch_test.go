package availability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBatchValidator_Validate(t *testing.T) {
	t.Parallel()

	requested := MustDateRange("2024-06-10", "2024-06-12")

	t.Run("isolates a transient failure to its own entry", func(t *testing.T) {
		t.Parallel()
		var units []EquipmentUnit
		items := make([]BatchItem, 0, 10)
		for i := 1; i <= 10; i++ {
			id := fmt.Sprintf("unit-%d", i)
			units = append(units, bookable(id, "light", i))
			items = append(items, BatchItem{UnitID: id, Range: requested})
		}
		reader := newFakeReader()
		reader.failures["unit-7"] = errStoreUnavailable
		reader.add(confirmed("r-3", "unit-3", requested))
		reader.add(confirmed("r-5", "unit-5", MustDateRange("2024-06-11", "2024-06-20")))
		catalog := newFakeCatalog(units...)

		validator := NewBatchValidator(NewEvaluator(catalog, reader, WithClock(fixedNow)), 3)
		report, err := validator.Validate(context.Background(), items)
		if err != nil {
			t.Fatalf("Validate returned error: %v", err)
		}

		if !report.Complete {
			t.Fatalf("expected a complete report")
		}
		if len(report.Entries) != 10 {
			t.Fatalf("expected 10 entries, got %d", len(report.Entries))
		}
		for i, entry := range report.Entries {
			if entry.Index != i || entry.UnitID != items[i].UnitID {
				t.Fatalf("entry %d out of order: %+v", i, entry)
			}
		}
		errored := report.Entries[6]
		if errored.Status != Errored || !errors.Is(errored.Err, errStoreUnavailable) {
			t.Fatalf("expected unit-7 to be Errored with the store cause, got %+v", errored)
		}
		if report.Entries[2].Status != Conflicted || report.Entries[4].Status != PartiallyAvailable {
			t.Fatalf("unexpected statuses for unit-3/unit-5: %s/%s", report.Entries[2].Status, report.Entries[4].Status)
		}

		want := BatchSummary{Total: 10, Available: 7, PartiallyAvailable: 1, Conflicted: 1, Errored: 1}
		if report.Summary != want {
			t.Fatalf("expected summary %+v, got %+v", want, report.Summary)
		}
	})

	t.Run("returns completed entries when the deadline expires", func(t *testing.T) {
		t.Parallel()
		catalog := newFakeCatalog(bookable("fast-1", "cam", 0), bookable("fast-2", "cam", 1), bookable("slow", "cam", 2))
		reader := newFakeReader()
		reader.delay["slow"] = time.Minute

		validator := NewBatchValidator(NewEvaluator(catalog, reader, WithClock(fixedNow)), 4)
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		report, err := validator.Validate(ctx, []BatchItem{
			{UnitID: "fast-1", Range: requested},
			{UnitID: "slow", Range: requested},
			{UnitID: "fast-2", Range: requested},
		})
		if err != nil {
			t.Fatalf("Validate returned error: %v", err)
		}
		if report.Complete {
			t.Fatalf("expected an incomplete report")
		}
		if report.Entries[0].Status != Available || report.Entries[2].Status != Available {
			t.Fatalf("expected fast units to resolve, got %s and %s", report.Entries[0].Status, report.Entries[2].Status)
		}
		if report.Entries[1].Status != Errored || !errors.Is(report.Entries[1].Err, context.DeadlineExceeded) {
			t.Fatalf("expected slow unit to be Errored with deadline, got %+v", report.Entries[1])
		}
	})

	t.Run("bounds in-flight evaluations", func(t *testing.T) {
		t.Parallel()
		probe := &concurrencyProbe{hold: 10 * time.Millisecond}
		items := make([]BatchItem, 24)
		for i := range items {
			items[i] = BatchItem{UnitID: fmt.Sprintf("u-%d", i), Range: requested}
		}

		report, err := NewBatchValidator(probe, 4).Validate(context.Background(), items)
		if err != nil {
			t.Fatalf("Validate returned error: %v", err)
		}
		if report.Summary.Available != len(items) {
			t.Fatalf("expected every item to resolve, got %+v", report.Summary)
		}
		if peak := probe.peak.Load(); peak > 4 {
			t.Fatalf("expected at most 4 concurrent evaluations, observed %d", peak)
		}
	})

	t.Run("empty input yields an empty complete report", func(t *testing.T) {
		t.Parallel()
		report, err := NewBatchValidator(&concurrencyProbe{}, 0).Validate(context.Background(), nil)
		if err != nil {
			t.Fatalf("Validate returned error: %v", err)
		}
		if !report.Complete || report.Summary.Total != 0 {
			t.Fatalf("unexpected report %+v", report)
		}
	})
}

type concurrencyProbe struct {
	mu       sync.Mutex
	inFlight int64
	peak     atomic.Int64
	hold     time.Duration
}

func (p *concurrencyProbe) Evaluate(_ context.Context, unitID string, r DateRange) (Result, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak.Load() {
		p.peak.Store(p.inFlight)
	}
	p.mu.Unlock()

	time.Sleep(p.hold)

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return Result{UnitID: unitID, Range: r, Status: Available, FreeSubRanges: []DateRange{r}}, nil
}
