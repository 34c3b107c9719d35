package tasks

import (
	"fmt"
	"math"
	"time"
)

const day = 24 * time.Hour

// MaxSpanDays is the longest day count a time.Duration can hold.
const MaxSpanDays = int(math.MaxInt64 / int64(day))

// TimeInterval is one half-open slot [Start, End) of the regular temporal grid.
type TimeInterval struct {
	Index int
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End).
func (ti TimeInterval) Contains(t time.Time) bool {
	return !t.Before(ti.Start) && t.Before(ti.End)
}

// Label is the canonical name of the interval: its UTC start date.
func (ti TimeInterval) Label() string {
	return ti.Start.UTC().Format(time.DateOnly)
}

// DayOffset returns the whole number of days between base and the interval start.
func (ti TimeInterval) DayOffset(base time.Time) int {
	return int(math.Floor(ti.Start.Sub(base).Hours() / 24))
}

// GenerateIntervals partitions [start, end) into contiguous intervals of
// intervalDays days. The last interval may run past end; it is not truncated.
func GenerateIntervals(start, end time.Time, intervalDays int) ([]TimeInterval, error) {
	if intervalDays <= 0 || intervalDays > MaxSpanDays {
		return nil, fmt.Errorf("%w: interval length %d days", ErrInvalidRange, intervalDays)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	step := time.Duration(intervalDays) * day
	stepSeconds := int64(intervalDays) * int64(day/time.Second)
	intervals := make([]TimeInterval, 0, end.Unix()/stepSeconds-start.Unix()/stepSeconds+1)
	for s, k := start, 0; s.Before(end); s, k = s.Add(step), k+1 {
		intervals = append(intervals, TimeInterval{Index: k, Start: s, End: s.Add(step)})
	}
	return intervals, nil
}
