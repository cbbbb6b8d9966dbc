package store

import (
    "context"
    "errors"
    "time"

    "fieldroute/internal/model"
)

// Store is the persistence interface used by the API server and the
// optimization controller.
type Store interface {
    // Contractors
    CreateContractor(ctx context.Context, c *model.Contractor) error
    GetContractor(ctx context.Context, id string) (model.Contractor, error)
    ListContractors(ctx context.Context, activeOnly bool) ([]model.Contractor, error)

    // Jobs
    CreateJob(ctx context.Context, j *model.Job) error
    GetJob(ctx context.Context, id string) (model.Job, error)
    UpdateJob(ctx context.Context, j *model.Job) error
    ListJobs(ctx context.Context, contractorID, day string, limit int) ([]model.Job, error)
    ListJobsForDays(ctx context.Context, contractorID string, days []string) (map[string][]model.Job, error)
    // FindJobByExternalRef resolves the dedup identity of an imported job.
    FindJobByExternalRef(ctx context.Context, contractorID, sourceSystem, externalRef string) (model.Job, error)
    // ApplyScheduleChanges commits a staged batch atomically: either every
    // change lands or none does.
    ApplyScheduleChanges(ctx context.Context, contractorID string, changes []model.ScheduleChange) error

    // Optimization audit. Runs and their suggestion rows are written once
    // and never mutated; approval and dismissal insert new rows.
    CreateRun(ctx context.Context, run *model.OptimizationRun, suggestions []model.SuggestedChange) error
    GetRun(ctx context.Context, id string) (model.OptimizationRun, error)
    ListRuns(ctx context.Context, contractorID string, limit int) ([]model.OptimizationRun, error)
    FindRunByParent(ctx context.Context, parentRunID string) (model.OptimizationRun, error)
    ListSuggestedChanges(ctx context.Context, runID string) ([]model.SuggestedChange, error)

    // Notifications
    CreateNotification(ctx context.Context, n *model.Notification) error
    ListNotifications(ctx context.Context, contractorID string, limit int) ([]model.Notification, error)

    // Webhook subscriptions
    CreateWebhookSubscription(ctx context.Context, sub *model.WebhookSubscription) error
    ListWebhookSubscriptions(ctx context.Context, contractorID string) ([]model.WebhookSubscription, error)
    DeleteWebhookSubscription(ctx context.Context, contractorID, id string) error
    GetSubscriptionsForEvent(ctx context.Context, contractorID, event string) ([]model.WebhookSubscription, error)

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, contractorID, subscriptionID, event, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id, lastError string, responseCode, latencyMs int) error
}

var ErrNotFound = errors.New("not found")
