package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "fieldroute/internal/model"
)

// Memory is a simple in-memory store used when no database DSN is set.
type Memory struct {
    mu          sync.Mutex
    contractors map[string]model.Contractor // id -> contractor
    conIDs      []string                    // insertion order
    jobs        map[string]model.Job        // id -> job
    jobsByCon   map[string][]string         // contractor -> job ids
    runs        map[string]model.OptimizationRun
    runsByCon   map[string][]string
    sugg        map[string][]model.SuggestedChange // run id -> suggestions
    notes       map[string][]model.Notification    // contractor -> notifications
    subs        map[string][]model.WebhookSubscription
    // Webhooks queue state
    deliveries  map[string]*memDelivery
    deliveryIDs []string
}

func NewMemory() *Memory {
    return &Memory{
        contractors: map[string]model.Contractor{},
        jobs: map[string]model.Job{},
        jobsByCon: map[string][]string{},
        runs: map[string]model.OptimizationRun{},
        runsByCon: map[string][]string{},
        sugg: map[string][]model.SuggestedChange{},
        notes: map[string][]model.Notification{},
        subs: map[string][]model.WebhookSubscription{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) CreateContractor(ctx context.Context, c *model.Contractor) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if c.ID == "" { c.ID = uuid.New().String() }
    if c.CreatedAt.IsZero() { c.CreatedAt = time.Now().UTC() }
    if _, exists := m.contractors[c.ID]; !exists { m.conIDs = append(m.conIDs, c.ID) }
    m.contractors[c.ID] = *c
    return nil
}

func (m *Memory) GetContractor(ctx context.Context, id string) (model.Contractor, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    c, ok := m.contractors[id]
    if !ok { return model.Contractor{}, ErrNotFound }
    return c, nil
}

func (m *Memory) ListContractors(ctx context.Context, activeOnly bool) ([]model.Contractor, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Contractor{}
    for _, id := range m.conIDs {
        c := m.contractors[id]
        if activeOnly && !c.Active { continue }
        out = append(out, c)
    }
    return out, nil
}

func (m *Memory) CreateJob(ctx context.Context, j *model.Job) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if j.ID == "" { j.ID = uuid.New().String() }
    now := time.Now().UTC()
    if j.CreatedAt.IsZero() { j.CreatedAt = now }
    j.UpdatedAt = now
    if _, exists := m.jobs[j.ID]; !exists { m.jobsByCon[j.ContractorID] = append(m.jobsByCon[j.ContractorID], j.ID) }
    m.jobs[j.ID] = *j
    return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (model.Job, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[id]
    if !ok { return model.Job{}, ErrNotFound }
    return j, nil
}

func (m *Memory) FindJobByExternalRef(ctx context.Context, contractorID, sourceSystem, externalRef string) (model.Job, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, id := range m.jobsByCon[contractorID] {
        j := m.jobs[id]
        if j.SourceSystem == sourceSystem && j.ExternalRef == externalRef { return j, nil }
    }
    return model.Job{}, ErrNotFound
}

func (m *Memory) UpdateJob(ctx context.Context, j *model.Job) error {
    m.mu.Lock(); defer m.mu.Unlock()
    old, ok := m.jobs[j.ID]
    if !ok { return ErrNotFound }
    j.CreatedAt = old.CreatedAt
    j.UpdatedAt = time.Now().UTC()
    m.jobs[j.ID] = *j
    return nil
}

func (m *Memory) ListJobs(ctx context.Context, contractorID, day string, limit int) ([]model.Job, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 500 }
    out := []model.Job{}
    for _, id := range m.jobsByCon[contractorID] {
        j := m.jobs[id]
        if day != "" && j.Day != day { continue }
        out = append(out, j)
    }
    sortJobs(out)
    if len(out) > limit { out = out[:limit] }
    return out, nil
}

func (m *Memory) ListJobsForDays(ctx context.Context, contractorID string, days []string) (map[string][]model.Job, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    want := map[string]bool{}
    for _, d := range days { want[d] = true }
    out := map[string][]model.Job{}
    for _, id := range m.jobsByCon[contractorID] {
        j := m.jobs[id]
        if !want[j.Day] { continue }
        out[j.Day] = append(out[j.Day], j)
    }
    for d := range out { sortJobs(out[d]) }
    return out, nil
}

func (m *Memory) ApplyScheduleChanges(ctx context.Context, contractorID string, changes []model.ScheduleChange) error {
    m.mu.Lock(); defer m.mu.Unlock()
    // verify the whole batch before touching anything
    for _, ch := range changes {
        j, ok := m.jobs[ch.JobID]
        if !ok || j.ContractorID != contractorID { return ErrNotFound }
    }
    now := time.Now().UTC()
    for _, ch := range changes {
        j := m.jobs[ch.JobID]
        j.OriginalDay = ch.OriginalDay
        j.OriginalStart = ch.OriginalStart
        j.Day = ch.Day
        j.Start = ch.Start
        j.UpdatedAt = now
        m.jobs[ch.JobID] = j
    }
    return nil
}

func (m *Memory) CreateRun(ctx context.Context, run *model.OptimizationRun, suggestions []model.SuggestedChange) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if run.ID == "" { run.ID = uuid.New().String() }
    if run.CreatedAt.IsZero() { run.CreatedAt = time.Now().UTC() }
    m.runs[run.ID] = *run
    m.runsByCon[run.ContractorID] = append(m.runsByCon[run.ContractorID], run.ID)
    for i := range suggestions {
        if suggestions[i].ID == "" { suggestions[i].ID = uuid.New().String() }
        suggestions[i].RunID = run.ID
        m.sugg[run.ID] = append(m.sugg[run.ID], suggestions[i])
    }
    return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.OptimizationRun, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[id]
    if !ok { return model.OptimizationRun{}, ErrNotFound }
    return r, nil
}

func (m *Memory) ListRuns(ctx context.Context, contractorID string, limit int) ([]model.OptimizationRun, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    ids := m.runsByCon[contractorID]
    out := []model.OptimizationRun{}
    for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
        out = append(out, m.runs[ids[i]])
    }
    return out, nil
}

func (m *Memory) FindRunByParent(ctx context.Context, parentRunID string) (model.OptimizationRun, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, r := range m.runs {
        if r.ParentRunID == parentRunID { return r, nil }
    }
    return model.OptimizationRun{}, ErrNotFound
}

func (m *Memory) ListSuggestedChanges(ctx context.Context, runID string) ([]model.SuggestedChange, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.SuggestedChange(nil), m.sugg[runID]...), nil
}

func (m *Memory) CreateNotification(ctx context.Context, n *model.Notification) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if n.ID == "" { n.ID = uuid.New().String() }
    if n.CreatedAt.IsZero() { n.CreatedAt = time.Now().UTC() }
    m.notes[n.ContractorID] = append(m.notes[n.ContractorID], *n)
    return nil
}

func (m *Memory) ListNotifications(ctx context.Context, contractorID string, limit int) ([]model.Notification, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 50 }
    list := m.notes[contractorID]
    out := []model.Notification{}
    for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
        out = append(out, list[i])
    }
    return out, nil
}

func (m *Memory) CreateWebhookSubscription(ctx context.Context, sub *model.WebhookSubscription) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if sub.ID == "" { sub.ID = uuid.New().String() }
    if sub.CreatedAt.IsZero() { sub.CreatedAt = time.Now().UTC() }
    m.subs[sub.ContractorID] = append(m.subs[sub.ContractorID], *sub)
    return nil
}

func (m *Memory) ListWebhookSubscriptions(ctx context.Context, contractorID string) ([]model.WebhookSubscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.WebhookSubscription(nil), m.subs[contractorID]...), nil
}

func (m *Memory) DeleteWebhookSubscription(ctx context.Context, contractorID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[contractorID]
    out := make([]model.WebhookSubscription, 0, len(arr))
    found := false
    for _, s := range arr {
        if s.ID == id { found = true; continue }
        out = append(out, s)
    }
    if !found { return ErrNotFound }
    m.subs[contractorID] = out
    return nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, contractorID, event string) ([]model.WebhookSubscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.WebhookSubscription
    for _, s := range m.subs[contractorID] {
        for _, e := range s.Events { if e == event { out = append(out, s); break } }
    }
    return out, nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, contractorID, subscriptionID, event, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, ContractorID: contractorID, SubscriptionID: subscriptionID, Event: event, URL: url, Secret: secret, Payload: payload, Status: "pending", Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveryIDs = append(m.deliveryIDs, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if d == nil { continue }
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id, lastError string, responseCode, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Status = "failed"
    d.Attempts++
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}

func sortJobs(jobs []model.Job) {
    sort.SliceStable(jobs, func(i, k int) bool {
        if jobs[i].Day != jobs[k].Day { return jobs[i].Day < jobs[k].Day }
        if jobs[i].Start != jobs[k].Start { return jobs[i].Start < jobs[k].Start }
        return jobs[i].ID < jobs[k].ID
    })
}
