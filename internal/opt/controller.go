package opt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"fieldroute/internal/config"
	"fieldroute/internal/distance"
	"fieldroute/internal/logging"
	"fieldroute/internal/metrics"
	"fieldroute/internal/model"
	"fieldroute/internal/schedule"
	"fieldroute/internal/store"
)

var (
	// ErrNotEligible is returned before any job data is read when the
	// contractor is inactive or not on an allow-listed subscription tier.
	ErrNotEligible = errors.New("contractor not eligible for optimization")
	// ErrRunNotApprovable is returned when a run is not a pending proposal
	// or has already been approved or dismissed.
	ErrRunNotApprovable = errors.New("run is not an open proposal")
)

// Notifier fans a contractor-facing message out to the notification feed,
// webhook subscribers, and live event streams.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.Notification) {}

// EventSink receives run lifecycle events (run.started, tier.applied,
// run.completed) for the live streams. Lifecycle events are transient;
// unlike notifications they are never persisted.
type EventSink interface {
	Publish(contractorID, event string, data any)
}

// RunRequest selects the contractor and window for one optimization run.
type RunRequest struct {
	ContractorID string `json:"contractorId,omitempty"`
	Preview      bool   `json:"preview,omitempty"`
	// Date is the first day of the window, YYYY-MM-DD; empty means today.
	Date string `json:"date,omitempty"`
	// Days is the lookahead window length; 0 means the configured default.
	Days int `json:"days,omitempty"`
}

// ProposedChange is one displayable change a run computed. Applied and
// proposed changes share this shape; RequiresApproval marks slot moves that
// wait for confirmation.
type ProposedChange struct {
	JobID            string            `json:"jobId"`
	Tier             int               `json:"tier"`
	Day              string            `json:"day,omitempty"`
	Start            string            `json:"start,omitempty"`
	FromDay          string            `json:"fromDay,omitempty"`
	FromStart        string            `json:"fromStart,omitempty"`
	Slot             model.HalfDaySlot `json:"slot,omitempty"`
	FromSlot         model.HalfDaySlot `json:"fromSlot,omitempty"`
	RequiresApproval bool              `json:"requiresApproval,omitempty"`
}

// RunResult is the caller-facing outcome of a run. Level is the highest
// tier that produced anything; TimeSaved sums every tier's minutes.
type RunResult struct {
	Level           int              `json:"level"`
	TimeSaved       int              `json:"timeSaved"`
	Status          string           `json:"status"`
	Details         []string         `json:"details"`
	RunIDs          []string         `json:"runIds,omitempty"`
	ProposedChanges []ProposedChange `json:"proposedChanges,omitempty"`
}

// SweepResult summarizes one batch pass over all active contractors.
type SweepResult struct {
	Contractors  int `json:"contractors"`
	Eligible     int `json:"eligible"`
	Notified     int `json:"notified"`
	MinutesFound int `json:"minutesFound"`
}

// Controller runs the tiered optimizer against the store. Each run is a
// short-lived, stateless invocation: stops and the distance cache are built
// fresh and discarded at the end.
type Controller struct {
	store    store.Store
	oracle   *distance.Oracle
	cfg      config.OptimizeConfig
	notifier Notifier
	events   EventSink
	log      logging.Logger
}

func NewController(s store.Store, o *distance.Oracle, cfg config.OptimizeConfig, n Notifier, log logging.Logger) *Controller {
	if n == nil {
		n = nopNotifier{}
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Controller{store: s, oracle: o, cfg: cfg, notifier: n, log: log}
}

// SetEventSink attaches a live-stream sink for run lifecycle events.
func (c *Controller) SetEventSink(s EventSink) { c.events = s }

func (c *Controller) emit(contractorID, event string, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Publish(contractorID, event, data)
}

// effectiveConfig applies the contractor's working-hours override, if any,
// on top of the configured defaults.
func (c *Controller) effectiveConfig(con model.Contractor) config.OptimizeConfig {
	eff := c.cfg
	if con.WorkingDayStart != "" {
		eff.WorkingDayStart = con.WorkingDayStart
	}
	if con.WorkingDayEnd != "" {
		eff.WorkingDayEnd = con.WorkingDayEnd
	}
	return eff
}

func (c *Controller) window(req RunRequest) ([]string, error) {
	first := req.Date
	if first == "" {
		first = time.Now().UTC().Format("2006-01-02")
	}
	if !model.ValidDay(first) {
		return nil, fmt.Errorf("invalid date %q", first)
	}
	n := req.Days
	if n <= 0 {
		n = c.cfg.LookaheadDays
	}
	days := make([]string, 0, n)
	for i := 0; i < n; i++ {
		d, err := model.AddDays(first, i)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

type runComputation struct {
	days  []string
	tiers []TierResult
	// staged holds the tier 1 and 2 changes in apply order
	staged []model.ScheduleChange
}

func (c *Controller) compute(ctx context.Context, con model.Contractor, days []string) (runComputation, error) {
	comp := runComputation{days: days}
	eff := c.effectiveConfig(con)
	jobs, err := c.store.ListJobsForDays(ctx, con.ID, days)
	if err != nil {
		return comp, fmt.Errorf("list jobs: %w", err)
	}
	midpoint := eff.MidpointMinutes()
	byDay := map[string][]model.Stop{}
	var addrs []string
	for day, dayJobs := range jobs {
		for _, j := range dayJobs {
			s, err := model.StopFromJob(j, midpoint)
			if err != nil {
				c.log.Warnf("job %s has unparseable start %q, skipping", j.ID, j.Start)
				continue
			}
			byDay[day] = append(byDay[day], s)
			addrs = append(addrs, s.AddressKey)
		}
	}
	cache := c.oracle.Resolve(ctx, addrs, addrs)
	st := NewStrategy(eff, c.log)

	for _, day := range days {
		if len(byDay[day]) == 0 {
			continue
		}
		r := st.IntraDay(day, byDay[day], cache)
		comp.tiers = append(comp.tiers, r)
		comp.staged = append(comp.staged, r.Changes...)
		byDay = applyToStops(byDay, r.Changes)
	}

	r2 := st.CrossDay(days, byDay, cache)
	if !r2.Empty() || len(r2.Details) > 0 {
		comp.tiers = append(comp.tiers, r2)
	}
	comp.staged = append(comp.staged, r2.Changes...)
	byDay = applyToStops(byDay, r2.Changes)

	for _, day := range days {
		if len(byDay[day]) == 0 {
			continue
		}
		r := st.SlotSwap(day, byDay[day], cache)
		if !r.Empty() || len(r.Details) > 0 {
			comp.tiers = append(comp.tiers, r)
		}
	}
	return comp, nil
}

// applyToStops replays staged changes onto the in-memory stop groups so the
// next tier sees the schedule the previous one produced.
func applyToStops(byDay map[string][]model.Stop, changes []model.ScheduleChange) map[string][]model.Stop {
	if len(changes) == 0 {
		return byDay
	}
	moved := map[string]model.ScheduleChange{}
	for _, ch := range changes {
		moved[ch.JobID] = ch
	}
	out := map[string][]model.Stop{}
	for _, stops := range byDay {
		for _, s := range stops {
			if ch, ok := moved[s.ID]; ok {
				if start, err := model.ParseClock(ch.Start); err == nil {
					s.Start = start
				}
				s.Day = ch.Day
			}
			out[s.Day] = append(out[s.Day], s)
		}
	}
	return out
}

// Run executes one optimization invocation for a contractor. Preview mode
// computes all three tiers and persists nothing. Apply mode commits tier 1
// and 2 changes as one atomic batch, records run rows, and turns tier 3
// output into a pending proposal with a notification.
func (c *Controller) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	con, err := c.store.GetContractor(ctx, req.ContractorID)
	if err != nil {
		return RunResult{}, err
	}
	if !con.Active || !c.cfg.SubscriptionEligible(con.SubscriptionTier) {
		return RunResult{}, ErrNotEligible
	}
	days, err := c.window(req)
	if err != nil {
		return RunResult{}, err
	}
	c.emit(con.ID, "run.started", map[string]any{"date": days[0], "days": len(days), "preview": req.Preview})
	comp, err := c.compute(ctx, con, days)
	if err != nil {
		return RunResult{}, err
	}
	res := summarize(comp)

	if req.Preview {
		res.Status = "potential"
		if res.Level == 0 {
			res.Status = "noChange"
		}
		res.ProposedChanges = proposalsOf(comp, true)
		c.emit(con.ID, "run.completed", map[string]any{"level": res.Level, "timeSaved": res.TimeSaved, "status": res.Status})
		return res, nil
	}

	if len(comp.staged) > 0 {
		if err := c.store.ApplyScheduleChanges(ctx, con.ID, comp.staged); err != nil {
			metrics.ApplyFailures.Inc()
			c.log.Errorf("apply schedule changes for %s failed: %v", con.ID, err)
			return RunResult{}, fmt.Errorf("apply schedule changes: %w", err)
		}
	}

	applied := false
	proposed := false
	for _, tr := range comp.tiers {
		switch {
		case tr.Tier == 3 && len(tr.Suggestions) > 0:
			run := model.OptimizationRun{
				ContractorID: con.ID,
				Date:         tr.Date,
				Tier:         3,
				MinutesSaved: tr.MinutesSaved,
				Status:       model.RunPendingApproval,
			}
			if err := c.store.CreateRun(ctx, &run, tr.Suggestions); err != nil {
				c.log.Errorf("record proposal run for %s failed: %v", con.ID, err)
				continue
			}
			proposed = true
			res.RunIDs = append(res.RunIDs, run.ID)
			countRun(3, model.RunPendingApproval, tr.MinutesSaved)
			c.notifier.Notify(ctx, model.Notification{
				ContractorID: con.ID,
				Kind:         model.NotifyPendingApproval,
				RunID:        run.ID,
				Message: fmt.Sprintf("Swapping %d job(s) between half-day slots on %s would save %d minutes. Approval needed.",
					len(tr.Suggestions), tr.Date, tr.MinutesSaved),
			})
		case tr.Tier != 3 && tr.MinutesSaved > 0:
			run := model.OptimizationRun{
				ContractorID: con.ID,
				Date:         tr.Date,
				Tier:         tr.Tier,
				MinutesSaved: tr.MinutesSaved,
				Status:       model.RunApplied,
			}
			if err := c.store.CreateRun(ctx, &run, nil); err != nil {
				c.log.Errorf("record applied run for %s failed: %v", con.ID, err)
				continue
			}
			applied = true
			res.RunIDs = append(res.RunIDs, run.ID)
			countRun(tr.Tier, model.RunApplied, tr.MinutesSaved)
			c.emit(con.ID, "tier.applied", map[string]any{
				"runId": run.ID, "tier": tr.Tier, "date": tr.Date, "minutesSaved": tr.MinutesSaved,
			})
		}
	}

	switch {
	case applied:
		res.Status = string(model.RunApplied)
	case proposed:
		res.Status = string(model.RunPendingApproval)
	default:
		res.Status = "noChange"
	}
	res.ProposedChanges = proposalsOf(comp, false)
	c.emit(con.ID, "run.completed", map[string]any{"level": res.Level, "timeSaved": res.TimeSaved, "status": res.Status})
	return res, nil
}

// Sweep is the batch/cron entry point: every active, allow-listed
// contractor gets a dry run over the default window, and any contractor
// with findable savings gets a potential-savings run row and a teaser
// notification. Schedules are never mutated.
func (c *Controller) Sweep(ctx context.Context) (SweepResult, error) {
	contractors, err := c.store.ListContractors(ctx, true)
	if err != nil {
		return SweepResult{}, err
	}
	out := SweepResult{Contractors: len(contractors)}
	for _, con := range contractors {
		if !c.cfg.SubscriptionEligible(con.SubscriptionTier) {
			continue
		}
		out.Eligible++
		days, err := c.window(RunRequest{})
		if err != nil {
			return out, err
		}
		comp, err := c.compute(ctx, con, days)
		if err != nil {
			c.log.Errorf("sweep compute for %s failed: %v", con.ID, err)
			continue
		}
		res := summarize(comp)
		if res.TimeSaved <= 0 {
			continue
		}
		run := model.OptimizationRun{
			ContractorID: con.ID,
			Date:         days[0],
			Tier:         res.Level,
			MinutesSaved: res.TimeSaved,
			Status:       model.RunPotential,
		}
		if err := c.store.CreateRun(ctx, &run, nil); err != nil {
			c.log.Errorf("record potential run for %s failed: %v", con.ID, err)
			continue
		}
		countRun(res.Level, model.RunPotential, res.TimeSaved)
		c.notifier.Notify(ctx, model.Notification{
			ContractorID: con.ID,
			Kind:         model.NotifyPotentialSavings,
			RunID:        run.ID,
			Message:      fmt.Sprintf("Route optimization could save you %d minutes over the next %d day(s).", res.TimeSaved, len(days)),
		})
		out.Notified++
		out.MinutesFound += res.TimeSaved
	}
	return out, nil
}

// Approve turns a pending tier-3 proposal into schedule changes. Each
// suggested stop is placed into its target half-day slot with conflict-aware
// placement; if any stop has no free slot the whole approval fails and
// nothing is written. The proposal row itself stays untouched; a new
// applied row references it.
func (c *Controller) Approve(ctx context.Context, runID string) (RunResult, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunResult{}, err
	}
	if run.Status != model.RunPendingApproval {
		return RunResult{}, ErrRunNotApprovable
	}
	if _, err := c.store.FindRunByParent(ctx, runID); err == nil {
		return RunResult{}, ErrRunNotApprovable
	}
	sugg, err := c.store.ListSuggestedChanges(ctx, runID)
	if err != nil {
		return RunResult{}, err
	}
	if len(sugg) == 0 {
		return RunResult{}, ErrRunNotApprovable
	}
	con, err := c.store.GetContractor(ctx, run.ContractorID)
	if err != nil {
		return RunResult{}, err
	}
	eff := c.effectiveConfig(con)

	dayJobs, err := c.store.ListJobs(ctx, con.ID, run.Date, 0)
	if err != nil {
		return RunResult{}, err
	}
	var staged []model.ScheduleChange
	details := []string{}
	for _, s := range sugg {
		var job *model.Job
		for i := range dayJobs {
			if dayJobs[i].ID == s.JobID {
				job = &dayJobs[i]
				break
			}
		}
		if job == nil {
			return RunResult{}, fmt.Errorf("job %s: %w", s.JobID, store.ErrNotFound)
		}
		window := slotWindow(eff, s.SuggestedSlot)
		p, err := schedule.Place(window.Start, job.DurationMinutes, schedule.BusyIntervals(dayJobs, job.ID), window, eff.SlotIncrementMinutes)
		if err != nil {
			metrics.Placements.WithLabelValues("rejected").Inc()
			return RunResult{}, fmt.Errorf("job %s into %s slot: %w", job.ID, s.SuggestedSlot, err)
		}
		metrics.Placements.WithLabelValues(placementOutcome(p)).Inc()
		staged = append(staged, model.ScheduleChange{
			JobID:         job.ID,
			Day:           s.SuggestedDay,
			Start:         model.FormatClock(p.Start),
			OriginalDay:   job.Day,
			OriginalStart: job.Start,
		})
		details = append(details, fmt.Sprintf("%s moved to %s slot at %s", job.ID, s.SuggestedSlot, model.FormatClock(p.Start)))
		// later placements must see this one as booked
		job.Day = s.SuggestedDay
		job.Start = model.FormatClock(p.Start)
	}

	if err := c.store.ApplyScheduleChanges(ctx, con.ID, staged); err != nil {
		metrics.ApplyFailures.Inc()
		return RunResult{}, fmt.Errorf("apply approved changes: %w", err)
	}
	applied := model.OptimizationRun{
		ContractorID: con.ID,
		Date:         run.Date,
		Tier:         3,
		MinutesSaved: run.MinutesSaved,
		Status:       model.RunApplied,
		ParentRunID:  run.ID,
	}
	if err := c.store.CreateRun(ctx, &applied, nil); err != nil {
		return RunResult{}, err
	}
	countRun(3, model.RunApplied, run.MinutesSaved)
	c.notifier.Notify(ctx, model.Notification{
		ContractorID: con.ID,
		Kind:         model.NotifyApplied,
		RunID:        applied.ID,
		Message:      fmt.Sprintf("Approved slot changes for %s applied, saving %d minutes.", run.Date, run.MinutesSaved),
	})
	return RunResult{
		Level:     3,
		TimeSaved: run.MinutesSaved,
		Status:    string(model.RunApplied),
		Details:   details,
		RunIDs:    []string{applied.ID},
	}, nil
}

// Dismiss closes a pending proposal without touching the schedule. The
// proposal row stays; a dismissed row references it.
func (c *Controller) Dismiss(ctx context.Context, runID string) (RunResult, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunResult{}, err
	}
	if run.Status != model.RunPendingApproval {
		return RunResult{}, ErrRunNotApprovable
	}
	if _, err := c.store.FindRunByParent(ctx, runID); err == nil {
		return RunResult{}, ErrRunNotApprovable
	}
	dismissed := model.OptimizationRun{
		ContractorID: run.ContractorID,
		Date:         run.Date,
		Tier:         3,
		MinutesSaved: run.MinutesSaved,
		Status:       model.RunDismissed,
		ParentRunID:  run.ID,
	}
	if err := c.store.CreateRun(ctx, &dismissed, nil); err != nil {
		return RunResult{}, err
	}
	countRun(3, model.RunDismissed, 0)
	c.notifier.Notify(ctx, model.Notification{
		ContractorID: run.ContractorID,
		Kind:         model.NotifyDismissed,
		RunID:        dismissed.ID,
		Message:      fmt.Sprintf("Slot change proposal for %s was dismissed.", run.Date),
	})
	return RunResult{
		Level:     3,
		TimeSaved: 0,
		Status:    string(model.RunDismissed),
		Details:   []string{"proposal dismissed, schedule unchanged"},
		RunIDs:    []string{dismissed.ID},
	}, nil
}

func slotWindow(cfg config.OptimizeConfig, slot model.HalfDaySlot) schedule.Window {
	if slot == model.SlotMorning {
		return schedule.Window{Start: cfg.DayStartMinutes(), End: cfg.MidpointMinutes()}
	}
	return schedule.Window{Start: cfg.MidpointMinutes(), End: cfg.DayEndMinutes()}
}

func placementOutcome(p schedule.Placement) string {
	if p.Shifted {
		return "shifted"
	}
	return "accepted"
}

func summarize(comp runComputation) RunResult {
	res := RunResult{Details: []string{}}
	for _, tr := range comp.tiers {
		res.Details = append(res.Details, tr.Details...)
		res.TimeSaved += tr.MinutesSaved
		active := tr.MinutesSaved > 0 || len(tr.Changes) > 0 || len(tr.Suggestions) > 0
		if active && tr.Tier > res.Level {
			res.Level = tr.Tier
		}
	}
	return res
}

// proposalsOf flattens tier output for display. Preview shows everything;
// apply mode shows only the tier 3 proposals still waiting for approval.
func proposalsOf(comp runComputation, includeApplied bool) []ProposedChange {
	var out []ProposedChange
	for _, tr := range comp.tiers {
		if includeApplied {
			for _, ch := range tr.Changes {
				out = append(out, ProposedChange{
					JobID:     ch.JobID,
					Tier:      tr.Tier,
					Day:       ch.Day,
					Start:     ch.Start,
					FromDay:   ch.OriginalDay,
					FromStart: ch.OriginalStart,
				})
			}
		}
		for _, s := range tr.Suggestions {
			out = append(out, ProposedChange{
				JobID:            s.JobID,
				Tier:             tr.Tier,
				Day:              s.SuggestedDay,
				FromDay:          s.CurrentDay,
				Slot:             s.SuggestedSlot,
				FromSlot:         s.CurrentSlot,
				RequiresApproval: true,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

func countRun(tier int, status model.RunStatus, saved int) {
	metrics.OptimizationRuns.WithLabelValues(strconv.Itoa(tier), string(status)).Inc()
	if saved > 0 {
		metrics.MinutesSaved.WithLabelValues(strconv.Itoa(tier)).Observe(float64(saved))
	}
}
