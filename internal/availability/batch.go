package availability

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// UnitEvaluator is the subset of Evaluator used by the batch validator.
type UnitEvaluator interface {
	Evaluate(ctx context.Context, unitID string, r DateRange) (Result, error)
}

// BatchItem is one unit and range to validate.
type BatchItem struct {
	UnitID string
	Range  DateRange
}

// BatchEntry is the outcome for one BatchItem. Err is set only when Status is Errored.
type BatchEntry struct {
	Index  int
	UnitID string
	Range  DateRange
	Status Status
	Result Result
	Err    error
}

// BatchSummary counts entries by status.
type BatchSummary struct {
	Total              int
	Available          int
	PartiallyAvailable int
	Conflicted         int
	Errored            int
}

// BatchReport aggregates one entry per requested item, in request order.
// Complete is false when the caller's deadline expired before every item finished.
type BatchReport struct {
	Entries  []BatchEntry
	Summary  BatchSummary
	Complete bool
}

// BatchValidator evaluates many units concurrently with bounded fan-out.
type BatchValidator struct {
	evaluator UnitEvaluator
	workers   int
}

// NewBatchValidator bounds in-flight evaluations to workers. A non-positive
// value uses runtime.NumCPU().
func NewBatchValidator(evaluator UnitEvaluator, workers int) *BatchValidator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &BatchValidator{evaluator: evaluator, workers: workers}
}

// Workers reports the configured concurrency bound.
func (v *BatchValidator) Workers() int {
	if v == nil {
		return 0
	}
	return v.workers
}

type indexedEntry struct {
	index int
	entry BatchEntry
}

// Validate evaluates every item independently. A failing item turns into an
// Errored entry without affecting the others. When ctx expires, entries that
// completed are kept and the rest are reported as Errored with the context error.
func (v *BatchValidator) Validate(ctx context.Context, items []BatchItem) (BatchReport, error) {
	if v == nil || v.evaluator == nil {
		return BatchReport{}, fmt.Errorf("availability: batch validator not configured")
	}

	entries := make([]BatchEntry, len(items))
	done := make([]bool, len(items))
	results := make(chan indexedEntry, len(items))
	sem := semaphore.NewWeighted(int64(v.workers))

	go func() {
		for i, item := range items {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(i int, item BatchItem) {
				defer sem.Release(1)
				results <- indexedEntry{index: i, entry: v.evaluateOne(ctx, i, item)}
			}(i, item)
		}
	}()

	received := 0
collect:
	for received < len(items) {
		select {
		case r := <-results:
			entries[r.index] = r.entry
			done[r.index] = true
			received++
		case <-ctx.Done():
			break collect
		}
	}
	for received < len(items) {
		select {
		case r := <-results:
			entries[r.index] = r.entry
			done[r.index] = true
			received++
			continue
		default:
		}
		break
	}

	report := BatchReport{Complete: received == len(items)}
	for i, item := range items {
		if !done[i] {
			entries[i] = BatchEntry{
				Index:  i,
				UnitID: item.UnitID,
				Range:  item.Range,
				Status: Errored,
				Err:    ctx.Err(),
			}
		}
		report.Summary.add(entries[i].Status)
	}
	report.Entries = entries
	return report, nil
}

func (v *BatchValidator) evaluateOne(ctx context.Context, i int, item BatchItem) BatchEntry {
	entry := BatchEntry{Index: i, UnitID: item.UnitID, Range: item.Range}
	result, err := v.evaluator.Evaluate(ctx, item.UnitID, item.Range)
	if err != nil {
		entry.Status = Errored
		entry.Err = err
		return entry
	}
	entry.Status = result.Status
	entry.Result = result
	return entry
}

func (s *BatchSummary) add(status Status) {
	s.Total++
	switch status {
	case Available:
		s.Available++
	case PartiallyAvailable:
		s.PartiallyAvailable++
	case Conflicted:
		s.Conflicted++
	default:
		s.Errored++
	}
}
