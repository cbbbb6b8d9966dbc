package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldroute/internal/model"
)

func seedMemContractor(t *testing.T, m *Memory) model.Contractor {
	t.Helper()
	c := model.Contractor{Name: "Ada", Active: true, SubscriptionTier: "pro"}
	if err := m.CreateContractor(context.Background(), &c); err != nil {
		t.Fatalf("CreateContractor: %v", err)
	}
	return c
}

func seedMemJob(t *testing.T, m *Memory, conID, day, start string) model.Job {
	t.Helper()
	j := model.Job{
		ContractorID:    conID,
		Origin:          model.OriginInternal,
		Day:             day,
		Start:           start,
		DurationMinutes: 60,
		Flexibility:     model.FlexFlexible,
		AddressKey:      "addr-" + start,
	}
	if err := m.CreateJob(context.Background(), &j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func TestMemoryApplyScheduleChangesIsAtomic(t *testing.T) {
	m := NewMemory()
	c := seedMemContractor(t, m)
	j := seedMemJob(t, m, c.ID, "2026-03-02", "09:00")

	changes := []model.ScheduleChange{
		{JobID: j.ID, Day: "2026-03-02", Start: "08:00", OriginalDay: "2026-03-02", OriginalStart: "09:00"},
		{JobID: "missing", Day: "2026-03-02", Start: "10:00"},
	}
	err := m.ApplyScheduleChanges(context.Background(), c.ID, changes)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, err := m.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Start != "09:00" || got.OriginalStart != "" {
		t.Fatalf("job mutated despite failed batch: %+v", got)
	}

	if err := m.ApplyScheduleChanges(context.Background(), c.ID, changes[:1]); err != nil {
		t.Fatalf("ApplyScheduleChanges: %v", err)
	}
	got, _ = m.GetJob(context.Background(), j.ID)
	if got.Start != "08:00" || got.OriginalStart != "09:00" {
		t.Fatalf("change not applied: %+v", got)
	}
}

func TestMemoryApplyRejectsForeignJobs(t *testing.T) {
	m := NewMemory()
	a := seedMemContractor(t, m)
	b := seedMemContractor(t, m)
	j := seedMemJob(t, m, a.ID, "2026-03-02", "09:00")

	err := m.ApplyScheduleChanges(context.Background(), b.ID, []model.ScheduleChange{{JobID: j.ID, Day: "2026-03-02", Start: "08:00"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign job, got %v", err)
	}
}

func TestMemoryListRunsNewestFirst(t *testing.T) {
	m := NewMemory()
	c := seedMemContractor(t, m)
	for i := 0; i < 3; i++ {
		run := model.OptimizationRun{ContractorID: c.ID, Date: "2026-03-02", Tier: 1, Status: model.RunApplied}
		if err := m.CreateRun(context.Background(), &run, nil); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	runs, err := m.ListRuns(context.Background(), c.ID, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected limit 2, got %d", len(runs))
	}
	all, _ := m.ListRuns(context.Background(), c.ID, 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	if runs[0].ID != all[0].ID {
		t.Fatalf("limited list should start at newest run")
	}
}

func TestMemoryFindRunByParent(t *testing.T) {
	m := NewMemory()
	c := seedMemContractor(t, m)
	parent := model.OptimizationRun{ContractorID: c.ID, Date: "2026-03-02", Tier: 3, Status: model.RunPendingApproval}
	if err := m.CreateRun(context.Background(), &parent, []model.SuggestedChange{{JobID: "j1", CurrentDay: "2026-03-02", CurrentSlot: model.SlotMorning, SuggestedDay: "2026-03-02", SuggestedSlot: model.SlotAfternoon, RequiresApproval: true}}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := m.FindRunByParent(context.Background(), parent.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no resolution yet, got %v", err)
	}

	child := model.OptimizationRun{ContractorID: c.ID, ParentRunID: parent.ID, Date: "2026-03-02", Tier: 3, Status: model.RunApplied}
	if err := m.CreateRun(context.Background(), &child, nil); err != nil {
		t.Fatalf("CreateRun child: %v", err)
	}
	got, err := m.FindRunByParent(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("FindRunByParent: %v", err)
	}
	if got.ID != child.ID || got.Status != model.RunApplied {
		t.Fatalf("unexpected resolution row: %+v", got)
	}

	sugg, err := m.ListSuggestedChanges(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("ListSuggestedChanges: %v", err)
	}
	if len(sugg) != 1 || sugg[0].RunID != parent.ID || sugg[0].ID == "" {
		t.Fatalf("suggestion rows not linked: %+v", sugg)
	}
}

func TestMemoryDeleteWebhookSubscription(t *testing.T) {
	m := NewMemory()
	c := seedMemContractor(t, m)
	sub := model.WebhookSubscription{ContractorID: c.ID, URL: "https://example.com/hook", Events: []string{"optimization.applied"}}
	if err := m.CreateWebhookSubscription(context.Background(), &sub); err != nil {
		t.Fatalf("CreateWebhookSubscription: %v", err)
	}
	if err := m.DeleteWebhookSubscription(context.Background(), c.ID, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.DeleteWebhookSubscription(context.Background(), c.ID, sub.ID); err != nil {
		t.Fatalf("DeleteWebhookSubscription: %v", err)
	}
	subs, _ := m.ListWebhookSubscriptions(context.Background(), c.ID)
	if len(subs) != 0 {
		t.Fatalf("subscription still listed after delete")
	}
}

func TestMemoryGetSubscriptionsForEvent(t *testing.T) {
	m := NewMemory()
	c := seedMemContractor(t, m)
	applied := model.WebhookSubscription{ContractorID: c.ID, URL: "https://example.com/a", Events: []string{"optimization.applied"}}
	pending := model.WebhookSubscription{ContractorID: c.ID, URL: "https://example.com/b", Events: []string{"optimization.pendingApproval", "optimization.applied"}}
	for _, s := range []*model.WebhookSubscription{&applied, &pending} {
		if err := m.CreateWebhookSubscription(context.Background(), s); err != nil {
			t.Fatalf("CreateWebhookSubscription: %v", err)
		}
	}
	subs, err := m.GetSubscriptionsForEvent(context.Background(), c.ID, "optimization.applied")
	if err != nil {
		t.Fatalf("GetSubscriptionsForEvent: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(subs))
	}
	subs, _ = m.GetSubscriptionsForEvent(context.Background(), c.ID, "optimization.pendingApproval")
	if len(subs) != 1 || subs[0].URL != "https://example.com/b" {
		t.Fatalf("unexpected matches: %+v", subs)
	}
}

func TestMemoryDeliveryLifecycle(t *testing.T) {
	m := NewMemory()
	id, err := m.EnqueueWebhook(context.Background(), "c1", "s1", "optimization.applied", "https://example.com/hook", "sec", []byte(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	due, err := m.FetchDueWebhookDeliveries(context.Background(), 10)
	if err != nil || len(due) != 1 || due[0].ID != id {
		t.Fatalf("expected one due delivery, got %v err %v", due, err)
	}

	next := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(context.Background(), id, false, &next, "boom", 500, 12); err != nil {
		t.Fatalf("MarkWebhookDelivery: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(context.Background(), 10)
	if len(due) != 0 {
		t.Fatalf("retry should wait for backoff, got %v", due)
	}

	if err := m.MarkWebhookDelivery(context.Background(), id, true, nil, "", 200, 8); err != nil {
		t.Fatalf("MarkWebhookDelivery success: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(context.Background(), 10)
	if len(due) != 0 {
		t.Fatalf("delivered row fetched again")
	}
}
