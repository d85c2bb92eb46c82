// Package availability computes remaining bag capacity for a storage point
// over a half-open booking window.
package availability

import (
	"sort"
	"time"

	"github.com/example/stashfind/internal/stash/domain"
)

// Outcome of an availability computation.
type Outcome struct {
	// Available is total capacity minus the peak number of simultaneously
	// booked bags inside the window, floored at zero.
	Available int
	// PeakBags is the peak concurrent booking load observed in the window.
	PeakBags int
	// Violation is set when booked bags exceed total capacity at some
	// instant. Available is clamped to zero in that case; the condition is
	// surfaced via logs and metrics, never as a request failure.
	Violation bool
}

// Compute runs a boundary sweep over the booked intervals that overlap
// [dropoff, pickup). A plain sum of overlapping bookings over-counts when
// bookings only partially overlap each other within the window; the sweep
// finds the true peak concurrency instead. Intervals outside the window are
// filtered here, so callers may pass supersets.
func Compute(capacity int, intervals []domain.BookedInterval, dropoff, pickup time.Time) Outcome {
	type boundary struct {
		at    time.Time
		delta int
	}

	events := make([]boundary, 0, len(intervals)*2)
	for _, iv := range intervals {
		if iv.Bags <= 0 || !iv.Overlaps(dropoff, pickup) {
			continue
		}
		start := iv.Start
		if start.Before(dropoff) {
			start = dropoff
		}
		end := iv.End
		if end.After(pickup) {
			end = pickup
		}
		events = append(events, boundary{at: start, delta: iv.Bags}, boundary{at: end, delta: -iv.Bags})
	}

	// Ends sort before starts at equal instants: [a,b) and [b,c) never
	// overlap.
	sort.Slice(events, func(i, j int) bool {
		if !events[i].at.Equal(events[j].at) {
			return events[i].at.Before(events[j].at)
		}
		return events[i].delta < events[j].delta
	})

	running, peak := 0, 0
	for _, ev := range events {
		running += ev.delta
		if running > peak {
			peak = running
		}
	}

	available := capacity - peak
	if available < 0 {
		return Outcome{Available: 0, PeakBags: peak, Violation: true}
	}
	return Outcome{Available: available, PeakBags: peak}
}

// WithinOperatingHours reports whether both the dropoff and the pickup clock
// time fall inside the point's opening window. A point closed at either end
// of the window has zero availability regardless of bookings.
func WithinOperatingHours(openFrom, openUntil domain.DayTime, dropoff, pickup time.Time) bool {
	d := domain.TimeOfDay(dropoff)
	p := domain.TimeOfDay(pickup)
	return d >= openFrom && d <= openUntil && p >= openFrom && p <= openUntil
}
