package opt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/config"
	"fieldroute/internal/distance"
	"fieldroute/internal/logging"
	"fieldroute/internal/model"
	"fieldroute/internal/schedule"
	"fieldroute/internal/store"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []model.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) kinds() []model.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.NotificationKind, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Kind
	}
	return out
}

type sinkEvent struct {
	contractorID string
	event        string
	data         map[string]any
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (r *recordingSink) Publish(contractorID, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, _ := data.(map[string]any)
	r.events = append(r.events, sinkEvent{contractorID: contractorID, event: event, data: m})
}

func (r *recordingSink) all() []sinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sinkEvent(nil), r.events...)
}

func newTestController(edges map[string]int) (*Controller, *store.Memory, *recordingNotifier) {
	mem := store.NewMemory()
	oracle := distance.NewOracle(distance.NewStaticProviderFromMap(edges), 10, logging.Nop{})
	rec := &recordingNotifier{}
	ctrl := NewController(mem, oracle, config.Default().Optimize, rec, logging.Nop{})
	return ctrl, mem, rec
}

func seedContractor(t *testing.T, mem *store.Memory, tier string, active bool) model.Contractor {
	t.Helper()
	c := model.Contractor{Name: "Test Contracting", Active: active, SubscriptionTier: tier}
	require.NoError(t, mem.CreateContractor(context.Background(), &c))
	return c
}

func seedJob(t *testing.T, mem *store.Memory, conID, day, start string, flex model.FlexibilityClass, addr string) model.Job {
	t.Helper()
	j := model.Job{
		ContractorID:    conID,
		Origin:          model.OriginInternal,
		ClientName:      "Client " + addr,
		Day:             day,
		Start:           start,
		DurationMinutes: 60,
		Flexibility:     flex,
		AddressKey:      addr,
	}
	require.NoError(t, mem.CreateJob(context.Background(), &j))
	return j
}

func reorderEdges() map[string]int {
	return map[string]int{
		"A->B": 5, "B->A": 5,
		"B->C": 5, "C->B": 5,
		"A->C": 20, "C->A": 20,
	}
}

func slotSwapEdges() map[string]int {
	return map[string]int{
		"m1->m2": 6, "m2->m1": 6,
		"m1->a1": 50, "a1->m1": 50,
		"m2->a1": 0, "a1->m2": 0,
	}
}

func TestRunPreviewIsPure(t *testing.T) {
	ctx := context.Background()
	ctrl, mem, rec := newTestController(reorderEdges())
	con := seedContractor(t, mem, "pro", true)
	day := "2026-03-02"
	seedJob(t, mem, con.ID, day, "08:00", model.FlexFlexible, "A")
	seedJob(t, mem, con.ID, day, "10:00", model.FlexFlexible, "C")
	seedJob(t, mem, con.ID, day, "12:00", model.FlexFlexible, "B")

	before, err := mem.ListJobs(ctx, con.ID, "", 0)
	require.NoError(t, err)
	beforeJSON, err := json.Marshal(before)
	require.NoError(t, err)

	res, err := ctrl.Run(ctx, RunRequest{ContractorID: con.ID, Preview: true, Date: day, Days: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 15, res.TimeSaved)
	assert.Equal(t, "potential", res.Status)
	assert.Len(t, res.ProposedChanges, 2)

	after, err := mem.ListJobs(ctx, con.ID, "", 0)
	require.NoError(t, err)
	afterJSON, err := json.Marshal(after)
	require.NoError(t, err)
	assert.Equal(t, string(beforeJSON), string(afterJSON))

	runs, err := mem.ListRuns(ctx, con.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, rec.kinds())
}

func TestRunAppliesIntraDayChanges(t *testing.T) {
	ctx := context.Background()
	ctrl, mem, _ := newTestController(reorderEdges())
	con := seedContractor(t, mem, "pro", true)
	day := "2026-03-02"
	seedJob(t, mem, con.ID, day, "08:00", model.FlexFlexible, "A")
	seedJob(t, mem, con.ID, day, "10:00", model.FlexFlexible, "C")
	b := seedJob(t, mem, con.ID, day, "12:00", model.FlexFlexible, "B")

	res, err := ctrl.Run(ctx, RunRequest{ContractorID: con.ID, Date: day, Days: 1})
	require.NoError(t, err)
	assert.Equal(t, string(model.RunApplied), res.Status)
	assert.Equal(t, 15, res.TimeSaved)
	require.Len(t, res.RunIDs, 1)

	moved, err := mem.GetJob(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "09:05", moved.Start)
	assert.Equal(t, "12:00", moved.OriginalStart)
	assert.Equal(t, day, moved.Day)

	runs, err := mem.ListRuns(ctx, con.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Tier)
	assert.Equal(t, model.RunApplied, runs[0].Status)
	assert.Equal(t, 15, runs[0].MinutesSaved)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	ctrl, mem, _ := newTestController(reorderEdges())
	sink := &recordingSink{}
	ctrl.SetEventSink(sink)
	con := seedContractor(t, mem, "pro", true)
	day := "2026-03-02"
	seedJob(t, mem, con.ID, day, "08:00", model.FlexFlexible, "A")
	seedJob(t, mem, con.ID, day, "10:00", model.FlexFlexible, "C")
	seedJob(t, mem, con.ID, day, "12:00", model.FlexFlexible, "B")

	res, err := ctrl.Run(ctx, RunRequest{ContractorID: con.ID, Date: day, Days: 1})
	require.NoError(t, err)
	require.Len(t, res.RunIDs, 1)

	evs := sink.all()
	require.Len(t, evs, 3)
	for _, ev := range evs {
		assert.Equal(t, con.ID, ev.contractorID)
	}

	assert.Equal(t, "run.started", evs[0].event)
	assert.Equal(t, day, evs[0].data["date"])
	assert.Equal(t, 1, evs[0].data["days"])
	assert.Equal(t, false, evs[0].data["preview"])

	assert.Equal(t, "tier.applied", evs[1].event)
	assert.Equal(t, res.RunIDs[0], evs[1].data["runId"])
	assert.Equal(t, 1, evs[1].data["tier"])
	assert.Equal(t, day, evs[1].data["date"])
	assert.Equal(t, 15, evs[1].data["minutesSaved"])

	assert.Equal(t, "run.completed", evs[2].event)
	assert.Equal(t, 1, evs[2].data["level"])
	assert.Equal(t, 15, evs[2].data["timeSaved"])
	assert.Equal(t, string(model.RunApplied), evs[2].data["status"])
}

func TestRunSecondApplySavesNothing(t *testing.T) {
	ctx := context.Background()
	ctrl, mem, _ := newTestController(reorderEdges())
	con := seedContractor(t, mem, "pro", true)
	day := "2026-03-02"
	seedJob(t, mem, con.ID, day, "08:00", model.FlexFlexible, "A")
	seedJob(t, mem, con.ID, day, "10:00", model.FlexFlexible, "C")
	seedJob(t, mem, con.ID, day, "12:00", model.FlexFlexible, "B")

	first, err := ctrl.Run(ctx, RunRequest{ContractorID: con.ID, Date: day, Days: 1})
	require.NoError(t, err)
	require.Positive(t, first.TimeSaved)

	second, err := ctrl.Run(ctx, RunRequest{ContractorID: con.ID, Date: day, Days: 1})
	require.NoError(t, err)
	assert.Zero(t, second.TimeSaved)
	assert.Equal(t, "noChange", second.Status)

	runs, err := mem.ListRuns(ctx, con.ID, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunRejectsIneligibleContractors(t *testing.T) {
	ctx := context.Background()
	ctrl, mem, _ := newTestController(nil)

	free := seedContractor(t, mem, "free", true)
	_, err := ctrl.Run(ctx, RunRequest{ContractorID: free.ID, Date: "2026-03-02"})
	assert.ErrorIs(t, err, ErrNotEligible)

	inactive := seedContractor(t, mem, "pro", false)
	_, err = ctrl.Run(ctx, RunRequest{ContractorID: inactive.ID, Date: "2026-03-02"})
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = ctrl.Run(ctx, RunRequest{ContractorID: "nope", Date: "2026-03-02"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepNotifiesEligibleContractors(t *testing.T) {
	ctx := context.Background()
	ctrl, mem, rec := newTestController(reorderEdges())
	today := time.Now().UTC().Format("2006-01-02")

	pro := seedContractor(t, mem, "pro", true)
	seedJob(t, mem, pro.ID, today, "08:00", model.FlexFlexible, "A")
	seedJob(t, mem, pro.ID, today, "10:00", model.FlexFlexible, "C")
	b := seedJob(t, mem, pro.ID, today, "12:00", model.FlexFlexible, "B")

	basic := seedContractor(t, mem, "basic", true)
	seedJob(t, mem, basic.ID, today, "08:00", model.FlexFlexible, "A")

	res, err := ctrl.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Contractors)
	assert.Equal(t, 1, res.Eligible)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, 15, res.MinutesFound)

	// sweep never mutates schedules
	job, err := mem.GetJob(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "12:00", job.Start)

	runs, err := mem.ListRuns(ctx, pro.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunPotential, runs[0].Status)
	assert.Equal(t, []model.NotificationKind{model.NotifyPotentialSavings}, rec.kinds())
}

func TestApproveMovesJobsIntoSuggestedSlot(t *testing.T) {
	ctx := context.Background()
	ctrl, mem, rec := newTestController(slotSwapEdges())
	con := seedContractor(t, mem, "elite", true)
	day := "2026-03-02"
	seedJob(t, mem, con.ID, day, "08:00", model.FlexTimeRestricted, "m1")
	m2 := seedJob(t, mem, con.ID, day, "10:00", model.FlexTimeRestricted, "m2")
	seedJob(t, mem, con.ID, day, "13:00", model.FlexTimeRestricted, "a1")

	res, err := ctrl.Run(ctx, RunRequest{ContractorID: con.ID, Date: day, Days: 1})
	require.NoError(t, err)
	assert.Equal(t, string(model.RunPendingApproval), res.Status)
	assert.Equal(t, 3, res.Level)
	assert.Equal(t, 6, res.TimeSaved)
	require.Len(t, res.RunIDs, 1)
	require.Len(t, res.ProposedChanges, 1)
	assert.True(t, res.ProposedChanges[0].RequiresApproval)

	runID := res.RunIDs[0]
	sugg, err := mem.ListSuggestedChanges(ctx, runID)
	require.NoError(t, err)
	require.Len(t, sugg, 1)
	assert.Equal(t, m2.ID, sugg[0].JobID)

	approved, err := ctrl.Approve(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, string(model.RunApplied), approved.Status)
	assert.Equal(t, 6, approved.TimeSaved)

	// 13:00 and 13:45-ish probes collide with the existing afternoon job,
	// so the moved job lands right after it
	moved, err := mem.GetJob(ctx, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, "14:00", moved.Start)
	assert.Equal(t, "10:00", moved.OriginalStart)

	// the proposal row is never mutated; approval adds a new linked row
	original, err := mem.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunPendingApproval, original.Status)
	linked, err := mem.FindRunByParent(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunApplied, linked.Status)

	_, err = ctrl.Approve(ctx, runID)
	assert.ErrorIs(t, err, ErrRunNotApprovable)
	_, err = ctrl.Dismiss(ctx, runID)
	assert.ErrorIs(t, err, ErrRunNotApprovable)

	assert.Equal(t, []model.NotificationKind{model.NotifyPendingApproval, model.NotifyApplied}, rec.kinds())
}

func TestApproveRejectsWhenSlotIsFull(t *testing.T) {
	ctx := context.Background()
	ctrl, mem, _ := newTestController(nil)
	con := seedContractor(t, mem, "pro", true)
	day := "2026-03-02"
	mv := seedJob(t, mem, con.ID, day, "10:00", model.FlexTimeRestricted, "mv")
	block := model.Job{
		ContractorID:    con.ID,
		Origin:          model.OriginInternal,
		Day:             day,
		Start:           "13:00",
		DurationMinutes: 300,
		Flexibility:     model.FlexLocked,
		AddressKey:      "blk",
	}
	require.NoError(t, mem.CreateJob(ctx, &block))

	run := model.OptimizationRun{ContractorID: con.ID, Date: day, Tier: 3, MinutesSaved: 9, Status: model.RunPendingApproval}
	require.NoError(t, mem.CreateRun(ctx, &run, []model.SuggestedChange{{
		JobID:            mv.ID,
		CurrentDay:       day,
		CurrentSlot:      model.SlotMorning,
		SuggestedDay:     day,
		SuggestedSlot:    model.SlotAfternoon,
		RequiresApproval: true,
	}}))

	_, err := ctrl.Approve(ctx, run.ID)
	assert.ErrorIs(t, err, schedule.ErrNoFreeSlot)

	// nothing applied
	job, err := mem.GetJob(ctx, mv.ID)
	require.NoError(t, err)
	assert.Equal(t, "10:00", job.Start)
	_, err = mem.FindRunByParent(ctx, run.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDismissClosesProposalWithoutChanges(t *testing.T) {
	ctx := context.Background()
	ctrl, mem, rec := newTestController(nil)
	con := seedContractor(t, mem, "pro", true)
	day := "2026-03-02"
	mv := seedJob(t, mem, con.ID, day, "10:00", model.FlexTimeRestricted, "mv")

	run := model.OptimizationRun{ContractorID: con.ID, Date: day, Tier: 3, MinutesSaved: 7, Status: model.RunPendingApproval}
	require.NoError(t, mem.CreateRun(ctx, &run, []model.SuggestedChange{{
		JobID:         mv.ID,
		CurrentDay:    day,
		CurrentSlot:   model.SlotMorning,
		SuggestedDay:  day,
		SuggestedSlot: model.SlotAfternoon,
	}}))

	res, err := ctrl.Dismiss(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, string(model.RunDismissed), res.Status)

	job, err := mem.GetJob(ctx, mv.ID)
	require.NoError(t, err)
	assert.Equal(t, "10:00", job.Start)

	linked, err := mem.FindRunByParent(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunDismissed, linked.Status)

	_, err = ctrl.Dismiss(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunNotApprovable)
	_, err = ctrl.Approve(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunNotApprovable)
	assert.Equal(t, []model.NotificationKind{model.NotifyDismissed}, rec.kinds())
}
