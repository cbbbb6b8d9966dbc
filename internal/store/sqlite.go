package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "modernc.org/sqlite"

    "fieldroute/internal/model"
)

// SQLite backs Store with a local file database. It is the single-node
// deployment option; Postgres covers everything multi-node.
type SQLite struct {
    db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
    db, err := sql.Open("sqlite", path)
    if err != nil {
        return nil, err
    }
    // A single writer keeps modernc's locking simple.
    db.SetMaxOpenConns(1)
    pragmas := []string{
        "PRAGMA foreign_keys = ON",
        "PRAGMA journal_mode = WAL",
        "PRAGMA busy_timeout = 5000",
    }
    for _, pragma := range pragmas {
        if _, err := db.Exec(pragma); err != nil {
            _ = db.Close()
            return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
        }
    }
    return &SQLite{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS contractors (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    subscription_tier TEXT NOT NULL DEFAULT 'free',
    working_day_start TEXT NOT NULL DEFAULT '',
    working_day_end TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL REFERENCES contractors(id),
    origin TEXT NOT NULL,
    client_name TEXT NOT NULL DEFAULT '',
    day TEXT NOT NULL,
    start_time TEXT NOT NULL,
    duration_minutes INTEGER NOT NULL,
    flexibility TEXT NOT NULL,
    locked_for_optimization INTEGER NOT NULL DEFAULT 0,
    address_key TEXT NOT NULL,
    original_day TEXT NOT NULL DEFAULT '',
    original_start TEXT NOT NULL DEFAULT '',
    quote_id TEXT NOT NULL DEFAULT '',
    price_cents INTEGER NOT NULL DEFAULT 0,
    source_system TEXT NOT NULL DEFAULT '',
    external_ref TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_contractor_day ON jobs(contractor_id, day);

CREATE TABLE IF NOT EXISTS optimization_runs (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL,
    parent_run_id TEXT NOT NULL DEFAULT '',
    date TEXT NOT NULL,
    tier INTEGER NOT NULL,
    minutes_saved INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_contractor ON optimization_runs(contractor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_parent ON optimization_runs(parent_run_id);

CREATE TABLE IF NOT EXISTS suggested_changes (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES optimization_runs(id),
    job_id TEXT NOT NULL,
    current_day TEXT NOT NULL,
    current_slot TEXT NOT NULL,
    suggested_day TEXT NOT NULL,
    suggested_slot TEXT NOT NULL,
    requires_approval INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_suggestions_run ON suggested_changes(run_id);

CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    message TEXT NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_contractor ON notifications(contractor_id, created_at DESC);

CREATE TABLE IF NOT EXISTS webhook_subscriptions (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL,
    url TEXT NOT NULL,
    secret TEXT NOT NULL DEFAULT '',
    events TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL,
    subscription_id TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL,
    url TEXT NOT NULL,
    secret TEXT NOT NULL DEFAULT '',
    payload BLOB,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMP NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    response_code INTEGER NOT NULL DEFAULT 0,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    delivered_at TIMESTAMP,
    updated_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_deliveries_due ON webhook_deliveries(status, next_attempt_at);
`

func (s *SQLite) Migrate(ctx context.Context) error {
    _, err := s.db.ExecContext(ctx, sqliteSchema)
    return err
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Contractors

func (s *SQLite) CreateContractor(ctx context.Context, c *model.Contractor) error {
    if c.ID == "" { c.ID = uuid.New().String() }
    if c.CreatedAt.IsZero() { c.CreatedAt = time.Now().UTC() }
    _, err := s.db.ExecContext(ctx, `INSERT INTO contractors (id, name, active, subscription_tier, working_day_start, working_day_end, created_at)
        VALUES (?,?,?,?,?,?,?)`, c.ID, c.Name, c.Active, c.SubscriptionTier, c.WorkingDayStart, c.WorkingDayEnd, c.CreatedAt)
    return err
}

func (s *SQLite) GetContractor(ctx context.Context, id string) (model.Contractor, error) {
    var c model.Contractor
    err := s.db.QueryRowContext(ctx, `SELECT id, name, active, subscription_tier, working_day_start, working_day_end, created_at
        FROM contractors WHERE id=?`, id).
        Scan(&c.ID, &c.Name, &c.Active, &c.SubscriptionTier, &c.WorkingDayStart, &c.WorkingDayEnd, &c.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.Contractor{}, ErrNotFound }
    return c, err
}

func (s *SQLite) ListContractors(ctx context.Context, activeOnly bool) ([]model.Contractor, error) {
    q := `SELECT id, name, active, subscription_tier, working_day_start, working_day_end, created_at FROM contractors`
    if activeOnly { q += ` WHERE active=1` }
    q += ` ORDER BY created_at, id`
    rows, err := s.db.QueryContext(ctx, q)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Contractor{}
    for rows.Next() {
        var c model.Contractor
        if err := rows.Scan(&c.ID, &c.Name, &c.Active, &c.SubscriptionTier, &c.WorkingDayStart, &c.WorkingDayEnd, &c.CreatedAt); err != nil { return nil, err }
        out = append(out, c)
    }
    return out, rows.Err()
}

// Jobs

const sqliteJobColumns = `id, contractor_id, origin, client_name, day, start_time, duration_minutes, flexibility,
    locked_for_optimization, address_key, original_day, original_start, quote_id, price_cents, source_system, external_ref, created_at, updated_at`

func (s *SQLite) CreateJob(ctx context.Context, j *model.Job) error {
    if j.ID == "" { j.ID = uuid.New().String() }
    now := time.Now().UTC()
    if j.CreatedAt.IsZero() { j.CreatedAt = now }
    j.UpdatedAt = now
    _, err := s.db.ExecContext(ctx, `INSERT INTO jobs (id, contractor_id, origin, client_name, day, start_time, duration_minutes, flexibility,
        locked_for_optimization, address_key, original_day, original_start, quote_id, price_cents, source_system, external_ref, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
        j.ID, j.ContractorID, j.Origin, j.ClientName, j.Day, j.Start, j.DurationMinutes, j.Flexibility,
        j.Locked, j.AddressKey, j.OriginalDay, j.OriginalStart, j.QuoteID, j.PriceCents, j.SourceSystem, j.ExternalRef, j.CreatedAt, j.UpdatedAt)
    return err
}

func (s *SQLite) GetJob(ctx context.Context, id string) (model.Job, error) {
    j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id=?`, id))
    if errors.Is(err, sql.ErrNoRows) { return model.Job{}, ErrNotFound }
    return j, err
}

func (s *SQLite) FindJobByExternalRef(ctx context.Context, contractorID, sourceSystem, externalRef string) (model.Job, error) {
    j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE contractor_id=? AND source_system=? AND external_ref=? AND external_ref<>''`,
        contractorID, sourceSystem, externalRef))
    if errors.Is(err, sql.ErrNoRows) { return model.Job{}, ErrNotFound }
    return j, err
}

func (s *SQLite) UpdateJob(ctx context.Context, j *model.Job) error {
    j.UpdatedAt = time.Now().UTC()
    res, err := s.db.ExecContext(ctx, `UPDATE jobs SET origin=?, client_name=?, day=?, start_time=?, duration_minutes=?, flexibility=?,
        locked_for_optimization=?, address_key=?, original_day=?, original_start=?, quote_id=?, price_cents=?, source_system=?, external_ref=?, updated_at=?
        WHERE id=? AND contractor_id=?`,
        j.Origin, j.ClientName, j.Day, j.Start, j.DurationMinutes, j.Flexibility,
        j.Locked, j.AddressKey, j.OriginalDay, j.OriginalStart, j.QuoteID, j.PriceCents, j.SourceSystem, j.ExternalRef, j.UpdatedAt,
        j.ID, j.ContractorID)
    if err != nil { return err }
    n, _ := res.RowsAffected()
    if n == 0 { return ErrNotFound }
    return nil
}

func (s *SQLite) ListJobs(ctx context.Context, contractorID, day string, limit int) ([]model.Job, error) {
    if limit <= 0 || limit > 500 { limit = 500 }
    var rows *sql.Rows
    var err error
    if day != "" {
        rows, err = s.db.QueryContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE contractor_id=? AND day=? ORDER BY day, start_time, id LIMIT ?`, contractorID, day, limit)
    } else {
        rows, err = s.db.QueryContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE contractor_id=? ORDER BY day, start_time, id LIMIT ?`, contractorID, limit)
    }
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Job{}
    for rows.Next() {
        j, err := scanJob(rows)
        if err != nil { return nil, err }
        out = append(out, j)
    }
    return out, rows.Err()
}

func (s *SQLite) ListJobsForDays(ctx context.Context, contractorID string, days []string) (map[string][]model.Job, error) {
    out := map[string][]model.Job{}
    for _, d := range days { out[d] = []model.Job{} }
    if len(days) == 0 { return out, nil }
    args := []any{contractorID}
    for _, d := range days { args = append(args, d) }
    marks := strings.TrimSuffix(strings.Repeat("?,", len(days)), ",")
    rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs
        WHERE contractor_id=? AND day IN (`+marks+`) ORDER BY day, start_time, id`, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    for rows.Next() {
        j, err := scanJob(rows)
        if err != nil { return nil, err }
        out[j.Day] = append(out[j.Day], j)
    }
    return out, rows.Err()
}

func (s *SQLite) ApplyScheduleChanges(ctx context.Context, contractorID string, changes []model.ScheduleChange) error {
    if len(changes) == 0 { return nil }
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    now := time.Now().UTC()
    for _, ch := range changes {
        res, err := tx.ExecContext(ctx, `UPDATE jobs SET day=?, start_time=?, original_day=?, original_start=?, updated_at=?
            WHERE id=? AND contractor_id=?`,
            ch.Day, ch.Start, ch.OriginalDay, ch.OriginalStart, now, ch.JobID, contractorID)
        if err != nil { return err }
        n, _ := res.RowsAffected()
        if n == 0 { return fmt.Errorf("job %s: %w", ch.JobID, ErrNotFound) }
    }
    return tx.Commit()
}

// Optimization audit

func (s *SQLite) CreateRun(ctx context.Context, run *model.OptimizationRun, suggestions []model.SuggestedChange) error {
    if run.ID == "" { run.ID = uuid.New().String() }
    if run.CreatedAt.IsZero() { run.CreatedAt = time.Now().UTC() }
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `INSERT INTO optimization_runs (id, contractor_id, parent_run_id, date, tier, minutes_saved, status, created_at)
        VALUES (?,?,?,?,?,?,?,?)`,
        run.ID, run.ContractorID, run.ParentRunID, run.Date, run.Tier, run.MinutesSaved, run.Status, run.CreatedAt)
    if err != nil { return err }
    for i := range suggestions {
        sc := &suggestions[i]
        if sc.ID == "" { sc.ID = uuid.New().String() }
        sc.RunID = run.ID
        _, err = tx.ExecContext(ctx, `INSERT INTO suggested_changes (id, run_id, job_id, current_day, current_slot, suggested_day, suggested_slot, requires_approval)
            VALUES (?,?,?,?,?,?,?,?)`,
            sc.ID, sc.RunID, sc.JobID, sc.CurrentDay, sc.CurrentSlot, sc.SuggestedDay, sc.SuggestedSlot, sc.RequiresApproval)
        if err != nil { return err }
    }
    return tx.Commit()
}

func (s *SQLite) GetRun(ctx context.Context, id string) (model.OptimizationRun, error) {
    var r model.OptimizationRun
    err := s.db.QueryRowContext(ctx, `SELECT id, contractor_id, parent_run_id, date, tier, minutes_saved, status, created_at
        FROM optimization_runs WHERE id=?`, id).
        Scan(&r.ID, &r.ContractorID, &r.ParentRunID, &r.Date, &r.Tier, &r.MinutesSaved, &r.Status, &r.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.OptimizationRun{}, ErrNotFound }
    return r, err
}

func (s *SQLite) ListRuns(ctx context.Context, contractorID string, limit int) ([]model.OptimizationRun, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    rows, err := s.db.QueryContext(ctx, `SELECT id, contractor_id, parent_run_id, date, tier, minutes_saved, status, created_at
        FROM optimization_runs WHERE contractor_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, contractorID, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.OptimizationRun{}
    for rows.Next() {
        var r model.OptimizationRun
        if err := rows.Scan(&r.ID, &r.ContractorID, &r.ParentRunID, &r.Date, &r.Tier, &r.MinutesSaved, &r.Status, &r.CreatedAt); err != nil { return nil, err }
        out = append(out, r)
    }
    return out, rows.Err()
}

func (s *SQLite) FindRunByParent(ctx context.Context, parentRunID string) (model.OptimizationRun, error) {
    var r model.OptimizationRun
    err := s.db.QueryRowContext(ctx, `SELECT id, contractor_id, parent_run_id, date, tier, minutes_saved, status, created_at
        FROM optimization_runs WHERE parent_run_id=? AND parent_run_id<>'' ORDER BY created_at LIMIT 1`, parentRunID).
        Scan(&r.ID, &r.ContractorID, &r.ParentRunID, &r.Date, &r.Tier, &r.MinutesSaved, &r.Status, &r.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.OptimizationRun{}, ErrNotFound }
    return r, err
}

func (s *SQLite) ListSuggestedChanges(ctx context.Context, runID string) ([]model.SuggestedChange, error) {
    rows, err := s.db.QueryContext(ctx, `SELECT id, run_id, job_id, current_day, current_slot, suggested_day, suggested_slot, requires_approval
        FROM suggested_changes WHERE run_id=? ORDER BY id`, runID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.SuggestedChange{}
    for rows.Next() {
        var sc model.SuggestedChange
        if err := rows.Scan(&sc.ID, &sc.RunID, &sc.JobID, &sc.CurrentDay, &sc.CurrentSlot, &sc.SuggestedDay, &sc.SuggestedSlot, &sc.RequiresApproval); err != nil { return nil, err }
        out = append(out, sc)
    }
    return out, rows.Err()
}

// Notifications

func (s *SQLite) CreateNotification(ctx context.Context, n *model.Notification) error {
    if n.ID == "" { n.ID = uuid.New().String() }
    if n.CreatedAt.IsZero() { n.CreatedAt = time.Now().UTC() }
    _, err := s.db.ExecContext(ctx, `INSERT INTO notifications (id, contractor_id, kind, message, run_id, created_at)
        VALUES (?,?,?,?,?,?)`, n.ID, n.ContractorID, n.Kind, n.Message, n.RunID, n.CreatedAt)
    return err
}

func (s *SQLite) ListNotifications(ctx context.Context, contractorID string, limit int) ([]model.Notification, error) {
    if limit <= 0 || limit > 500 { limit = 50 }
    rows, err := s.db.QueryContext(ctx, `SELECT id, contractor_id, kind, message, run_id, created_at
        FROM notifications WHERE contractor_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, contractorID, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Notification{}
    for rows.Next() {
        var n model.Notification
        if err := rows.Scan(&n.ID, &n.ContractorID, &n.Kind, &n.Message, &n.RunID, &n.CreatedAt); err != nil { return nil, err }
        out = append(out, n)
    }
    return out, rows.Err()
}

// Webhook subscriptions

func (s *SQLite) CreateWebhookSubscription(ctx context.Context, sub *model.WebhookSubscription) error {
    if sub.ID == "" { sub.ID = uuid.New().String() }
    if sub.CreatedAt.IsZero() { sub.CreatedAt = time.Now().UTC() }
    ev, _ := json.Marshal(sub.Events)
    _, err := s.db.ExecContext(ctx, `INSERT INTO webhook_subscriptions (id, contractor_id, url, secret, events, created_at)
        VALUES (?,?,?,?,?,?)`, sub.ID, sub.ContractorID, sub.URL, sub.Secret, string(ev), sub.CreatedAt)
    return err
}

func (s *SQLite) ListWebhookSubscriptions(ctx context.Context, contractorID string) ([]model.WebhookSubscription, error) {
    rows, err := s.db.QueryContext(ctx, `SELECT id, contractor_id, url, secret, events, created_at
        FROM webhook_subscriptions WHERE contractor_id=? ORDER BY created_at, id`, contractorID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.WebhookSubscription{}
    for rows.Next() {
        var sub model.WebhookSubscription
        var ev string
        if err := rows.Scan(&sub.ID, &sub.ContractorID, &sub.URL, &sub.Secret, &ev, &sub.CreatedAt); err != nil { return nil, err }
        _ = json.Unmarshal([]byte(ev), &sub.Events)
        out = append(out, sub)
    }
    return out, rows.Err()
}

func (s *SQLite) DeleteWebhookSubscription(ctx context.Context, contractorID, id string) error {
    res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE contractor_id=? AND id=?`, contractorID, id)
    if err != nil { return err }
    n, _ := res.RowsAffected()
    if n == 0 { return ErrNotFound }
    return nil
}

// GetSubscriptionsForEvent filters in Go; SQLite has no JSON containment
// operator and subscription counts per contractor stay tiny.
func (s *SQLite) GetSubscriptionsForEvent(ctx context.Context, contractorID, event string) ([]model.WebhookSubscription, error) {
    subs, err := s.ListWebhookSubscriptions(ctx, contractorID)
    if err != nil { return nil, err }
    out := []model.WebhookSubscription{}
    for _, sub := range subs {
        for _, e := range sub.Events {
            if e == event {
                out = append(out, sub)
                break
            }
        }
    }
    return out, nil
}

// Webhook deliveries

func (s *SQLite) EnqueueWebhook(ctx context.Context, contractorID, subscriptionID, event, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    now := time.Now().UTC()
    _, err := s.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, contractor_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, updated_at)
        VALUES (?,?,?,?,?,?,?,'pending',0,?,?)`,
        id, contractorID, subscriptionID, event, url, secret, payload, now, now)
    if err != nil { return "", err }
    return id, nil
}

func (s *SQLite) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := s.db.QueryContext(ctx, `SELECT id, contractor_id, subscription_id, event_type, url, secret, payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= ? ORDER BY next_attempt_at LIMIT ?`,
        time.Now().UTC(), limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.ContractorID, &d.SubscriptionID, &d.Event, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (s *SQLite) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
    now := time.Now().UTC()
    if success {
        _, err := s.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', delivered_at=?, updated_at=?, response_code=?, latency_ms=? WHERE id=?`,
            now, now, responseCode, latencyMs, id)
        return err
    }
    if nextAttemptAt == nil {
        t := now.Add(1 * time.Minute)
        nextAttemptAt = &t
    }
    _, err := s.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=?, next_attempt_at=?, updated_at=?, response_code=?, latency_ms=? WHERE id=?`,
        lastError, *nextAttemptAt, now, responseCode, latencyMs, id)
    return err
}

func (s *SQLite) FailWebhookDelivery(ctx context.Context, id, lastError string, responseCode, latencyMs int) error {
    _, err := s.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=?, updated_at=?, response_code=?, latency_ms=? WHERE id=?`,
        lastError, time.Now().UTC(), responseCode, latencyMs, id)
    return err
}
