package availability

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the ISO-8601 calendar date format used on the wire.
const DateLayout = "2006-01-02"

// DateRange is a half-open interval [Start, End) of calendar dates in UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange normalises both bounds to UTC midnight and validates Start < End.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: truncateToDate(start), End: truncateToDate(end)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// MustDateRange is NewDateRange for literals known to be valid. It panics otherwise.
func MustDateRange(start, end string) DateRange {
	r, err := ParseDateRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseDateRange parses an ISO-8601 date pair. Each bound may be a calendar
// date (2024-06-01) or an RFC 3339 timestamp, which is truncated to its UTC date.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := parseDate(start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}
	e, err := parseDate(end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}
	return NewDateRange(s, e)
}

// ParseInterval parses the ISO-8601 interval form "2024-06-01/2024-06-05".
func ParseInterval(value string) (DateRange, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return DateRange{}, fmt.Errorf("%w: %q is not a start/end interval", ErrInvalidRange, value)
	}
	return ParseDateRange(start, end)
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return t, nil
}

func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Validate reports ErrInvalidRange when the range is empty or inverted.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: missing bound", ErrInvalidRange)
	}
	if !r.Start.Before(r.End) {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidRange, r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

// Days returns the number of calendar days covered by the range.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// Equal reports whether both bounds are the same instant.
func (r DateRange) Equal(other DateRange) bool {
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + "/" + r.End.Format(DateLayout)
}

// Overlaps reports whether a and b share at least one instant. Touching
// endpoints do not overlap.
func Overlaps(a, b DateRange) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Subtract returns the parts of r not covered by any occupied range, in
// ascending order. Occupied ranges may overlap one another or extend past r.
func Subtract(r DateRange, occupied []DateRange) ([]DateRange, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	blocks := make([]DateRange, 0, len(occupied))
	for _, o := range occupied {
		if o.Start.Before(o.End) && Overlaps(r, o) {
			blocks = append(blocks, o)
		}
	}
	if len(blocks) == 0 {
		return []DateRange{r}, nil
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Start.Before(blocks[j].Start)
	})

	free := make([]DateRange, 0, len(blocks)+1)
	cursor := r.Start
	for _, b := range blocks {
		if !b.End.After(cursor) {
			continue
		}
		if b.Start.After(cursor) {
			free = append(free, DateRange{Start: cursor, End: b.Start})
		}
		cursor = b.End
		if !cursor.Before(r.End) {
			return free, nil
		}
	}
	if cursor.Before(r.End) {
		free = append(free, DateRange{Start: cursor, End: r.End})
	}
	return free, nil
}
