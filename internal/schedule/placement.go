// Package schedule places single jobs into a day without overlapping
// existing bookings.
package schedule

import (
	"errors"
	"sort"

	"fieldroute/internal/model"
)

// ErrNoFreeSlot means no non-overlapping start exists before the working
// day ends. Placements are rejected rather than scheduled past closing.
var ErrNoFreeSlot = errors.New("no free slot before end of working hours")

// Interval is an occupied [Start, End) span in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// Window bounds a placement search, usually the working day or one half-day
// slot.
type Window struct {
	Start int
	End   int
}

// Placement is the accepted start time. Shifted is set when the desired
// time overlapped a booking and the search moved it, so callers can notify
// the user and keep the requested time for display.
type Placement struct {
	Start   int
	Shifted bool
}

// Place returns the first start at or after desired where the job fits
// without overlap, probing forward in increment-minute steps within the
// window. A desired time before the window starts is pulled up to it.
func Place(desired, durationMinutes int, busy []Interval, hours Window, incrementMinutes int) (Placement, error) {
	if durationMinutes <= 0 || incrementMinutes <= 0 {
		return Placement{}, errors.New("duration and increment must be positive")
	}
	start := desired
	if start < hours.Start {
		start = hours.Start
	}
	for ; start+durationMinutes <= hours.End; start += incrementMinutes {
		if !overlapsAny(start, start+durationMinutes, busy) {
			return Placement{Start: start, Shifted: start != desired}, nil
		}
	}
	return Placement{}, ErrNoFreeSlot
}

func overlapsAny(start, end int, busy []Interval) bool {
	for _, b := range busy {
		if start < b.End && b.Start < end {
			return true
		}
	}
	return false
}

// BusyIntervals derives the occupied spans of a day from its jobs, skipping
// excludeID (the job being placed or moved).
func BusyIntervals(jobs []model.Job, excludeID string) []Interval {
	out := make([]Interval, 0, len(jobs))
	for _, j := range jobs {
		if j.ID == excludeID {
			continue
		}
		start, err := model.ParseClock(j.Start)
		if err != nil {
			continue
		}
		out = append(out, Interval{Start: start, End: start + j.DurationMinutes})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Start < out[k].Start })
	return out
}
