package opt

import (
	"fmt"

	"fieldroute/internal/config"
	"fieldroute/internal/distance"
	"fieldroute/internal/logging"
	"fieldroute/internal/metrics"
	"fieldroute/internal/model"
)

// TierResult is the in-memory outcome of one tier evaluation. Changes are
// staged schedule mutations (tiers 1 and 2); Suggestions are slot-move
// proposals (tier 3 only). Nothing here touches the store; the controller
// decides what to persist.
type TierResult struct {
	Tier         int
	Date         string
	MinutesSaved int
	Changes      []model.ScheduleChange
	Suggestions  []model.SuggestedChange
	Details      []string
}

// Empty reports whether the tier produced neither savings nor changes.
func (r TierResult) Empty() bool {
	return r.MinutesSaved == 0 && len(r.Changes) == 0 && len(r.Suggestions) == 0
}

// Strategy evaluates the three optimization tiers over run-scoped stops.
// It is pure computation: the same stops and cache always produce the same
// result.
type Strategy struct {
	cfg config.OptimizeConfig
	log logging.Logger
}

func NewStrategy(cfg config.OptimizeConfig, log logging.Logger) *Strategy {
	if log == nil {
		log = logging.Nop{}
	}
	return &Strategy{cfg: cfg, log: log}
}

// optimizeGroup builds the current and the best-known schedule for one
// group anchored at a window start. The proposal falls back to the current
// order whenever reordering would not strictly shrink the span, so the
// result is never worse than the current layout.
func (st *Strategy) optimizeGroup(group []model.Stop, c *distance.Cache, anchor int) (current, best Schedule) {
	sorted := sortByStart(group)
	current = BuildSchedule(sorted, c, anchor)
	ordered := OrderNearest(sorted, c)
	if st.cfg.TwoOptPasses > 0 {
		ordered = Improve2Opt(ordered, c, st.cfg.TwoOptPasses)
	}
	best = BuildSchedule(ordered, c, anchor)
	if best.Span >= current.Span {
		best = current
	}
	if n := current.MissingEdges + best.MissingEdges; n > 0 {
		metrics.DistanceMissingEdges.Add(float64(n))
		st.log.Warnf("schedule built with %d unknown travel edges (assumed zero)", n)
	}
	return current, best
}

// IntraDay is tier 1: reorder within one day. Unlocked stops are split into
// independent groups: flexible (anchored at the working-day start),
// timeRestricted morning (same anchor), and timeRestricted afternoon
// (anchored at the midpoint). Each group is resequenced on its own.
// Positive savings produce immediate schedule changes; a single-stop group
// still gets pinned to its window anchor to keep times consistent.
func (st *Strategy) IntraDay(day string, stops []model.Stop, c *distance.Cache) TierResult {
	res := TierResult{Tier: 1, Date: day}
	dayStart := st.cfg.DayStartMinutes()
	midpoint := st.cfg.MidpointMinutes()

	groups := []struct {
		name   string
		stops  []model.Stop
		anchor int
	}{
		{"flexible", filterStops(stops, model.FlexFlexible, ""), dayStart},
		{"morning", filterStops(stops, model.FlexTimeRestricted, model.SlotMorning), dayStart},
		{"afternoon", filterStops(stops, model.FlexTimeRestricted, model.SlotAfternoon), midpoint},
	}
	for _, g := range groups {
		if len(g.stops) == 0 {
			continue
		}
		if len(g.stops) == 1 {
			s := g.stops[0]
			if s.Start != g.anchor {
				res.Changes = append(res.Changes, model.ScheduleChange{
					JobID:         s.ID,
					Day:           day,
					Start:         model.FormatClock(g.anchor),
					OriginalDay:   day,
					OriginalStart: model.FormatClock(s.Start),
				})
				res.Details = append(res.Details, fmt.Sprintf("%s %s: single stop pinned to %s", day, g.name, model.FormatClock(g.anchor)))
			}
			continue
		}
		current, best := st.optimizeGroup(g.stops, c, g.anchor)
		saved := current.Span - best.Span
		if saved <= 0 {
			res.Details = append(res.Details, fmt.Sprintf("%s %s: no improvement", day, g.name))
			continue
		}
		res.MinutesSaved += saved
		res.Details = append(res.Details, fmt.Sprintf("%s %s: %d stops reordered, %d min saved", day, g.name, len(g.stops), saved))
		for _, v := range best.Visits {
			if v.Start == v.Stop.Start {
				continue
			}
			res.Changes = append(res.Changes, model.ScheduleChange{
				JobID:         v.Stop.ID,
				Day:           day,
				Start:         model.FormatClock(v.Start),
				OriginalDay:   day,
				OriginalStart: model.FormatClock(v.Stop.Start),
			})
		}
	}
	return res
}

// CrossDay is tier 2: rebalance flexible stops across the lookahead window.
// The flexible stops of all days are ordered globally by nearest neighbor
// and sliced back onto the days proportionally to each day's original stop
// count. Savings at or under the threshold are discarded.
func (st *Strategy) CrossDay(days []string, byDay map[string][]model.Stop, c *distance.Cache) TierResult {
	res := TierResult{Tier: 2}
	if len(days) == 0 {
		return res
	}
	res.Date = days[0]
	dayStart := st.cfg.DayStartMinutes()

	counts := make([]int, len(days))
	var all []model.Stop
	currentTotal := 0
	for i, day := range days {
		flex := sortByStart(filterStops(byDay[day], model.FlexFlexible, ""))
		counts[i] = len(flex)
		all = append(all, flex...)
		if len(flex) > 0 {
			currentTotal += BuildSchedule(flex, c, dayStart).Span
		}
	}
	if len(all) <= 1 {
		res.Details = append(res.Details, "cross-day: nothing to rebalance")
		return res
	}

	ordered := OrderNearest(all, c)
	if st.cfg.TwoOptPasses > 0 {
		ordered = Improve2Opt(ordered, c, st.cfg.TwoOptPasses)
	}
	newTotal := 0
	slices := make([][]model.Stop, len(days))
	offset := 0
	for i := range days {
		slices[i] = ordered[offset : offset+counts[i]]
		offset += counts[i]
		if len(slices[i]) > 0 {
			newTotal += BuildSchedule(slices[i], c, dayStart).Span
		}
	}
	saved := currentTotal - newTotal
	if saved <= st.cfg.CrossDayThresholdMinutes {
		res.Details = append(res.Details, fmt.Sprintf("cross-day: %d min under threshold, discarded", saved))
		return res
	}
	res.MinutesSaved = saved
	res.Details = append(res.Details, fmt.Sprintf("cross-day: %d stops over %d days, %d min saved", len(all), len(days), saved))
	for i, day := range days {
		if len(slices[i]) == 0 {
			continue
		}
		sched := BuildSchedule(slices[i], c, dayStart)
		for _, v := range sched.Visits {
			if v.Stop.Day == day && v.Start == v.Stop.Start {
				continue
			}
			res.Changes = append(res.Changes, model.ScheduleChange{
				JobID:         v.Stop.ID,
				Day:           day,
				Start:         model.FormatClock(v.Start),
				OriginalDay:   v.Stop.Day,
				OriginalStart: model.FormatClock(v.Stop.Start),
			})
		}
	}
	return res
}

// SlotSwap is tier 3: move timeRestricted stops between the morning and
// afternoon slots of one day when that shrinks total travel beyond the
// threshold. Cost is raw travel minutes of the best-known order per slot,
// and the search is a greedy hill-climb over single-stop moves. The result
// is always a proposal: stops here were promised a half-day to the
// customer, so nothing applies without approval.
func (st *Strategy) SlotSwap(day string, stops []model.Stop, c *distance.Cache) TierResult {
	res := TierResult{Tier: 3, Date: day}
	tr := filterStops(stops, model.FlexTimeRestricted, "")
	if len(tr) < 2 {
		return res
	}
	assign := make(map[string]model.HalfDaySlot, len(tr))
	for _, s := range tr {
		assign[s.ID] = s.Slot
	}
	cost := func() int {
		var morning, afternoon []model.Stop
		for _, s := range tr {
			if assign[s.ID] == model.SlotMorning {
				morning = append(morning, s)
			} else {
				afternoon = append(afternoon, s)
			}
		}
		return st.slotTravel(morning, c) + st.slotTravel(afternoon, c)
	}

	baseline := cost()
	current := baseline
	for {
		bestDelta := 0
		bestID := ""
		var bestSlot model.HalfDaySlot
		for _, s := range tr {
			prev := assign[s.ID]
			assign[s.ID] = otherSlot(prev)
			if delta := current - cost(); delta > bestDelta {
				bestDelta = delta
				bestID = s.ID
				bestSlot = assign[s.ID]
			}
			assign[s.ID] = prev
		}
		if bestID == "" {
			break
		}
		assign[bestID] = bestSlot
		current -= bestDelta
	}

	saved := baseline - current
	if saved <= st.cfg.SlotSwapThresholdMinutes {
		if saved > 0 {
			res.Details = append(res.Details, fmt.Sprintf("%s slot swap: %d min under threshold, discarded", day, saved))
		}
		return res
	}
	res.MinutesSaved = saved
	for _, s := range tr {
		if assign[s.ID] == s.Slot {
			continue
		}
		res.Suggestions = append(res.Suggestions, model.SuggestedChange{
			JobID:            s.ID,
			CurrentDay:       day,
			CurrentSlot:      s.Slot,
			SuggestedDay:     day,
			SuggestedSlot:    assign[s.ID],
			RequiresApproval: true,
		})
	}
	res.Details = append(res.Details, fmt.Sprintf("%s slot swap: %d moves proposed, %d min saved, approval required", day, len(res.Suggestions), saved))
	return res
}

// slotTravel is the travel cost of one half-day group: order the stops the
// same way the apply tiers would, then sum the known edges. Unknown edges
// contribute zero, matching the builder's degradation.
func (st *Strategy) slotTravel(group []model.Stop, c *distance.Cache) int {
	if len(group) < 2 {
		return 0
	}
	ordered := OrderNearest(sortByStart(group), c)
	if st.cfg.TwoOptPasses > 0 {
		ordered = Improve2Opt(ordered, c, st.cfg.TwoOptPasses)
	}
	total := 0
	for i := 0; i < len(ordered)-1; i++ {
		if m, ok := c.Get(ordered[i].AddressKey, ordered[i+1].AddressKey); ok {
			total += m
		}
	}
	return total
}

func otherSlot(s model.HalfDaySlot) model.HalfDaySlot {
	if s == model.SlotMorning {
		return model.SlotAfternoon
	}
	return model.SlotMorning
}

// filterStops keeps unlocked stops of one flexibility class; slot narrows
// timeRestricted stops to one half-day when non-empty.
func filterStops(stops []model.Stop, class model.FlexibilityClass, slot model.HalfDaySlot) []model.Stop {
	var out []model.Stop
	for _, s := range stops {
		if s.Locked || s.Flexibility != class {
			continue
		}
		if slot != "" && s.Slot != slot {
			continue
		}
		out = append(out, s)
	}
	return out
}
