package availability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDetectConflicts(t *testing.T) {
	t.Parallel()

	now := fixedNow()
	expired := now.Add(-time.Minute)
	live := now.Add(time.Minute)

	existing := []Reservation{
		confirmed("r-late", "u1", span(6, 9)),
		confirmed("r-early", "u1", span(0, 3)),
		{ID: "r-cancelled", UnitID: "u1", Range: span(1, 5), Status: StatusCancelled},
		{ID: "r-stale-hold", UnitID: "u1", Range: span(2, 4), Status: StatusTentative, ExpiresAt: &expired},
		{ID: "r-hold", UnitID: "u1", Range: span(4, 6), Status: StatusTentative, ExpiresAt: &live},
		confirmed("r-touching", "u1", span(9, 12)),
	}

	got := DetectConflicts(existing, span(2, 9), now)
	want := []string{"r-early", "r-hold", "r-late"}
	if len(got) != len(want) {
		t.Fatalf("expected %d conflicts, got %d: %+v", len(want), len(got), got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("conflict %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	got[1].ExpiresAt = nil
	if existing[4].ExpiresAt == nil {
		t.Fatalf("expected conflicts to be copies of the stored reservations")
	}
}

func TestDetector_Detect(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	reader.add(confirmed("r1", "u1", span(0, 4)))
	reader.failures["broken"] = errStoreUnavailable
	detector := NewDetector(reader)

	conflicts, err := detector.Detect(context.Background(), "u1", span(3, 8), fixedNow())
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ID != "r1" {
		t.Fatalf("expected r1 to conflict, got %+v", conflicts)
	}

	if _, err := detector.Detect(context.Background(), "u1", span(3, 3), fixedNow()); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := detector.Detect(context.Background(), "broken", span(0, 1), fixedNow()); !errors.Is(err, errStoreUnavailable) {
		t.Fatalf("expected store error to be wrapped, got %v", err)
	}
}
