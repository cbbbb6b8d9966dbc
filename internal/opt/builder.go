package opt

import (
	"fieldroute/internal/distance"
	"fieldroute/internal/model"
)

// Visit is one scheduled stop with concrete times in minutes since midnight.
type Visit struct {
	Stop  model.Stop
	Start int
	End   int
}

// Schedule is the timed layout of an ordered stop list. Span is the elapsed
// time from the window start to the last stop's end. MissingEdges counts
// steps that fell back to zero travel because the edge was unknown; callers
// surface that degradation in logs and metrics.
type Schedule struct {
	Visits       []Visit
	Span         int
	MissingEdges int
}

// BuildSchedule lays the ordered stops into the window. The first stop
// starts at windowStart; each following stop starts at the previous end plus
// the travel time rounded up to the next 5 minutes. Unknown travel counts
// as zero.
func BuildSchedule(stops []model.Stop, c *distance.Cache, windowStart int) Schedule {
	if len(stops) == 0 {
		return Schedule{}
	}
	visits := make([]Visit, len(stops))
	missing := 0
	start := windowStart
	for i, st := range stops {
		if i > 0 {
			travel, ok := c.Get(stops[i-1].AddressKey, st.AddressKey)
			if !ok {
				travel = 0
				missing++
			}
			start = visits[i-1].End + ceilTo5(travel)
		}
		visits[i] = Visit{Stop: st, Start: start, End: start + st.DurationMinutes}
	}
	return Schedule{
		Visits:       visits,
		Span:         visits[len(visits)-1].End - windowStart,
		MissingEdges: missing,
	}
}

func ceilTo5(minutes int) int {
	if minutes <= 0 {
		return 0
	}
	return ((minutes + 4) / 5) * 5
}
