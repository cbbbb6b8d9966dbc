package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "fieldroute/internal/model"
)

// Postgres backs Store with PostgreSQL via the pgx stdlib driver.
type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS contractors (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    subscription_tier TEXT NOT NULL DEFAULT 'free',
    working_day_start TEXT,
    working_day_end TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL REFERENCES contractors(id),
    origin TEXT NOT NULL,
    client_name TEXT,
    day TEXT NOT NULL,
    start_time TEXT NOT NULL,
    duration_minutes INTEGER NOT NULL,
    flexibility TEXT NOT NULL,
    locked_for_optimization BOOLEAN NOT NULL DEFAULT FALSE,
    address_key TEXT NOT NULL,
    original_day TEXT,
    original_start TEXT,
    quote_id TEXT,
    price_cents INTEGER,
    source_system TEXT,
    external_ref TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_contractor_day ON jobs(contractor_id, day);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_external_ref ON jobs(contractor_id, source_system, external_ref)
    WHERE external_ref IS NOT NULL;

CREATE TABLE IF NOT EXISTS optimization_runs (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL,
    parent_run_id TEXT,
    date TEXT NOT NULL,
    tier INTEGER NOT NULL,
    minutes_saved INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_runs_contractor ON optimization_runs(contractor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_parent ON optimization_runs(parent_run_id) WHERE parent_run_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS suggested_changes (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES optimization_runs(id),
    job_id TEXT NOT NULL,
    current_day TEXT NOT NULL,
    current_slot TEXT NOT NULL,
    suggested_day TEXT NOT NULL,
    suggested_slot TEXT NOT NULL,
    requires_approval BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_suggestions_run ON suggested_changes(run_id);

CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    message TEXT NOT NULL,
    run_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_notifications_contractor ON notifications(contractor_id, created_at DESC);

CREATE TABLE IF NOT EXISTS webhook_subscriptions (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL,
    url TEXT NOT NULL,
    secret TEXT,
    events JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
    id TEXT PRIMARY KEY,
    contractor_id TEXT NOT NULL,
    subscription_id TEXT,
    event_type TEXT NOT NULL,
    url TEXT NOT NULL,
    secret TEXT,
    payload BYTEA,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_error TEXT,
    response_code INTEGER,
    latency_ms INTEGER,
    delivered_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_deliveries_due ON webhook_deliveries(status, next_attempt_at);
`

// Migrate creates the schema. Statements are idempotent so it is safe to
// run on every startup.
func (p *Postgres) Migrate(ctx context.Context) error {
    _, err := p.db.ExecContext(ctx, pgSchema)
    return err
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Contractors

func (p *Postgres) CreateContractor(ctx context.Context, c *model.Contractor) error {
    if c.ID == "" { c.ID = uuid.New().String() }
    if c.CreatedAt.IsZero() { c.CreatedAt = time.Now().UTC() }
    _, err := p.db.ExecContext(ctx, `INSERT INTO contractors (id, name, active, subscription_tier, working_day_start, working_day_end, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
        c.ID, c.Name, c.Active, c.SubscriptionTier, nullIfEmpty(c.WorkingDayStart), nullIfEmpty(c.WorkingDayEnd), c.CreatedAt)
    return err
}

func (p *Postgres) GetContractor(ctx context.Context, id string) (model.Contractor, error) {
    var c model.Contractor
    err := p.db.QueryRowContext(ctx, `SELECT id, name, active, subscription_tier, COALESCE(working_day_start,''), COALESCE(working_day_end,''), created_at
        FROM contractors WHERE id=$1`, id).
        Scan(&c.ID, &c.Name, &c.Active, &c.SubscriptionTier, &c.WorkingDayStart, &c.WorkingDayEnd, &c.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.Contractor{}, ErrNotFound }
    return c, err
}

func (p *Postgres) ListContractors(ctx context.Context, activeOnly bool) ([]model.Contractor, error) {
    q := `SELECT id, name, active, subscription_tier, COALESCE(working_day_start,''), COALESCE(working_day_end,''), created_at FROM contractors`
    if activeOnly { q += ` WHERE active` }
    q += ` ORDER BY created_at, id`
    rows, err := p.db.QueryContext(ctx, q)
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

const jobColumns = `id, contractor_id, origin, COALESCE(client_name,''), day, start_time, duration_minutes, flexibility,
    locked_for_optimization, address_key, COALESCE(original_day,''), COALESCE(original_start,''),
    COALESCE(quote_id,''), COALESCE(price_cents,0), COALESCE(source_system,''), COALESCE(external_ref,''), created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (model.Job, error) {
    var j model.Job
    err := row.Scan(&j.ID, &j.ContractorID, &j.Origin, &j.ClientName, &j.Day, &j.Start, &j.DurationMinutes, &j.Flexibility,
        &j.Locked, &j.AddressKey, &j.OriginalDay, &j.OriginalStart,
        &j.QuoteID, &j.PriceCents, &j.SourceSystem, &j.ExternalRef, &j.CreatedAt, &j.UpdatedAt)
    return j, err
}

func (p *Postgres) CreateJob(ctx context.Context, j *model.Job) error {
    if j.ID == "" { j.ID = uuid.New().String() }
    now := time.Now().UTC()
    if j.CreatedAt.IsZero() { j.CreatedAt = now }
    j.UpdatedAt = now
    _, err := p.db.ExecContext(ctx, `INSERT INTO jobs (id, contractor_id, origin, client_name, day, start_time, duration_minutes, flexibility,
        locked_for_optimization, address_key, original_day, original_start, quote_id, price_cents, source_system, external_ref, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
        j.ID, j.ContractorID, j.Origin, nullIfEmpty(j.ClientName), j.Day, j.Start, j.DurationMinutes, j.Flexibility,
        j.Locked, j.AddressKey, nullIfEmpty(j.OriginalDay), nullIfEmpty(j.OriginalStart),
        nullIfEmpty(j.QuoteID), j.PriceCents, nullIfEmpty(j.SourceSystem), nullIfEmpty(j.ExternalRef), j.CreatedAt, j.UpdatedAt)
    return err
}

func (p *Postgres) GetJob(ctx context.Context, id string) (model.Job, error) {
    j, err := scanJob(p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
    if errors.Is(err, sql.ErrNoRows) { return model.Job{}, ErrNotFound }
    return j, err
}

func (p *Postgres) FindJobByExternalRef(ctx context.Context, contractorID, sourceSystem, externalRef string) (model.Job, error) {
    j, err := scanJob(p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE contractor_id=$1 AND source_system=$2 AND external_ref=$3`,
        contractorID, sourceSystem, externalRef))
    if errors.Is(err, sql.ErrNoRows) { return model.Job{}, ErrNotFound }
    return j, err
}

func (p *Postgres) UpdateJob(ctx context.Context, j *model.Job) error {
    j.UpdatedAt = time.Now().UTC()
    res, err := p.db.ExecContext(ctx, `UPDATE jobs SET origin=$2, client_name=$3, day=$4, start_time=$5, duration_minutes=$6, flexibility=$7,
        locked_for_optimization=$8, address_key=$9, original_day=$10, original_start=$11, quote_id=$12, price_cents=$13,
        source_system=$14, external_ref=$15, updated_at=$16 WHERE id=$1 AND contractor_id=$17`,
        j.ID, j.Origin, nullIfEmpty(j.ClientName), j.Day, j.Start, j.DurationMinutes, j.Flexibility,
        j.Locked, j.AddressKey, nullIfEmpty(j.OriginalDay), nullIfEmpty(j.OriginalStart), nullIfEmpty(j.QuoteID), j.PriceCents,
        nullIfEmpty(j.SourceSystem), nullIfEmpty(j.ExternalRef), j.UpdatedAt, j.ContractorID)
    if err != nil { return err }
    n, _ := res.RowsAffected()
    if n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) ListJobs(ctx context.Context, contractorID, day string, limit int) ([]model.Job, error) {
    if limit <= 0 || limit > 500 { limit = 500 }
    var rows *sql.Rows
    var err error
    if day != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE contractor_id=$1 AND day=$2 ORDER BY day, start_time, id LIMIT $3`, contractorID, day, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE contractor_id=$1 ORDER BY day, start_time, id LIMIT $2`, contractorID, limit)
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

func (p *Postgres) ListJobsForDays(ctx context.Context, contractorID string, days []string) (map[string][]model.Job, error) {
    out := map[string][]model.Job{}
    for _, d := range days { out[d] = []model.Job{} }
    if len(days) == 0 { return out, nil }
    ev, _ := json.Marshal(days)
    rows, err := p.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
        WHERE contractor_id=$1 AND day IN (SELECT jsonb_array_elements_text($2::jsonb)) ORDER BY day, start_time, id`, contractorID, ev)
    if err != nil { return nil, err }
    defer rows.Close()
    for rows.Next() {
        j, err := scanJob(rows)
        if err != nil { return nil, err }
        out[j.Day] = append(out[j.Day], j)
    }
    return out, rows.Err()
}

// ApplyScheduleChanges commits the batch in one transaction. A change whose
// job is missing or owned by another contractor aborts the whole batch.
func (p *Postgres) ApplyScheduleChanges(ctx context.Context, contractorID string, changes []model.ScheduleChange) error {
    if len(changes) == 0 { return nil }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    now := time.Now().UTC()
    for _, ch := range changes {
        res, err := tx.ExecContext(ctx, `UPDATE jobs SET day=$2, start_time=$3, original_day=$4, original_start=$5, updated_at=$6
            WHERE id=$1 AND contractor_id=$7`,
            ch.JobID, ch.Day, ch.Start, nullIfEmpty(ch.OriginalDay), nullIfEmpty(ch.OriginalStart), now, contractorID)
        if err != nil { return err }
        n, _ := res.RowsAffected()
        if n == 0 { return fmt.Errorf("job %s: %w", ch.JobID, ErrNotFound) }
    }
    return tx.Commit()
}

// Optimization audit

func (p *Postgres) CreateRun(ctx context.Context, run *model.OptimizationRun, suggestions []model.SuggestedChange) error {
    if run.ID == "" { run.ID = uuid.New().String() }
    if run.CreatedAt.IsZero() { run.CreatedAt = time.Now().UTC() }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `INSERT INTO optimization_runs (id, contractor_id, parent_run_id, date, tier, minutes_saved, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
        run.ID, run.ContractorID, nullIfEmpty(run.ParentRunID), run.Date, run.Tier, run.MinutesSaved, run.Status, run.CreatedAt)
    if err != nil { return err }
    for i := range suggestions {
        s := &suggestions[i]
        if s.ID == "" { s.ID = uuid.New().String() }
        s.RunID = run.ID
        _, err = tx.ExecContext(ctx, `INSERT INTO suggested_changes (id, run_id, job_id, current_day, current_slot, suggested_day, suggested_slot, requires_approval)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
            s.ID, s.RunID, s.JobID, s.CurrentDay, s.CurrentSlot, s.SuggestedDay, s.SuggestedSlot, s.RequiresApproval)
        if err != nil { return err }
    }
    return tx.Commit()
}

func (p *Postgres) GetRun(ctx context.Context, id string) (model.OptimizationRun, error) {
    var r model.OptimizationRun
    err := p.db.QueryRowContext(ctx, `SELECT id, contractor_id, COALESCE(parent_run_id,''), date, tier, minutes_saved, status, created_at
        FROM optimization_runs WHERE id=$1`, id).
        Scan(&r.ID, &r.ContractorID, &r.ParentRunID, &r.Date, &r.Tier, &r.MinutesSaved, &r.Status, &r.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.OptimizationRun{}, ErrNotFound }
    return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, contractorID string, limit int) ([]model.OptimizationRun, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    rows, err := p.db.QueryContext(ctx, `SELECT id, contractor_id, COALESCE(parent_run_id,''), date, tier, minutes_saved, status, created_at
        FROM optimization_runs WHERE contractor_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, contractorID, limit)
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

func (p *Postgres) FindRunByParent(ctx context.Context, parentRunID string) (model.OptimizationRun, error) {
    var r model.OptimizationRun
    err := p.db.QueryRowContext(ctx, `SELECT id, contractor_id, COALESCE(parent_run_id,''), date, tier, minutes_saved, status, created_at
        FROM optimization_runs WHERE parent_run_id=$1 ORDER BY created_at LIMIT 1`, parentRunID).
        Scan(&r.ID, &r.ContractorID, &r.ParentRunID, &r.Date, &r.Tier, &r.MinutesSaved, &r.Status, &r.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.OptimizationRun{}, ErrNotFound }
    return r, err
}

func (p *Postgres) ListSuggestedChanges(ctx context.Context, runID string) ([]model.SuggestedChange, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, run_id, job_id, current_day, current_slot, suggested_day, suggested_slot, requires_approval
        FROM suggested_changes WHERE run_id=$1 ORDER BY id`, runID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.SuggestedChange{}
    for rows.Next() {
        var s model.SuggestedChange
        if err := rows.Scan(&s.ID, &s.RunID, &s.JobID, &s.CurrentDay, &s.CurrentSlot, &s.SuggestedDay, &s.SuggestedSlot, &s.RequiresApproval); err != nil { return nil, err }
        out = append(out, s)
    }
    return out, rows.Err()
}

// Notifications

func (p *Postgres) CreateNotification(ctx context.Context, n *model.Notification) error {
    if n.ID == "" { n.ID = uuid.New().String() }
    if n.CreatedAt.IsZero() { n.CreatedAt = time.Now().UTC() }
    _, err := p.db.ExecContext(ctx, `INSERT INTO notifications (id, contractor_id, kind, message, run_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`, n.ID, n.ContractorID, n.Kind, n.Message, nullIfEmpty(n.RunID), n.CreatedAt)
    return err
}

func (p *Postgres) ListNotifications(ctx context.Context, contractorID string, limit int) ([]model.Notification, error) {
    if limit <= 0 || limit > 500 { limit = 50 }
    rows, err := p.db.QueryContext(ctx, `SELECT id, contractor_id, kind, message, COALESCE(run_id,''), created_at
        FROM notifications WHERE contractor_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, contractorID, limit)
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

func (p *Postgres) CreateWebhookSubscription(ctx context.Context, sub *model.WebhookSubscription) error {
    if sub.ID == "" { sub.ID = uuid.New().String() }
    if sub.CreatedAt.IsZero() { sub.CreatedAt = time.Now().UTC() }
    ev, _ := json.Marshal(sub.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_subscriptions (id, contractor_id, url, secret, events, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`, sub.ID, sub.ContractorID, sub.URL, nullIfEmpty(sub.Secret), ev, sub.CreatedAt)
    return err
}

func (p *Postgres) ListWebhookSubscriptions(ctx context.Context, contractorID string) ([]model.WebhookSubscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, contractor_id, url, COALESCE(secret,''), events, created_at
        FROM webhook_subscriptions WHERE contractor_id=$1 ORDER BY created_at, id`, contractorID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.WebhookSubscription{}
    for rows.Next() {
        var s model.WebhookSubscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.ContractorID, &s.URL, &s.Secret, &ev, &s.CreatedAt); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) DeleteWebhookSubscription(ctx context.Context, contractorID, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE contractor_id=$1 AND id=$2`, contractorID, id)
    if err != nil { return err }
    n, _ := res.RowsAffected()
    if n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, contractorID, event string) ([]model.WebhookSubscription, error) {
    ev, _ := json.Marshal([]string{event})
    rows, err := p.db.QueryContext(ctx, `SELECT id, contractor_id, url, COALESCE(secret,''), events, created_at
        FROM webhook_subscriptions WHERE contractor_id=$1 AND events @> $2::jsonb`, contractorID, ev)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.WebhookSubscription{}
    for rows.Next() {
        var s model.WebhookSubscription
        var raw []byte
        if err := rows.Scan(&s.ID, &s.ContractorID, &s.URL, &s.Secret, &raw, &s.CreatedAt); err != nil { return nil, err }
        _ = json.Unmarshal(raw, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, contractorID, subscriptionID, event, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, contractor_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`,
        id, contractorID, nullIfEmpty(subscriptionID), event, url, nullIfEmpty(secret), payload)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, contractor_id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at LIMIT $1`, limit)
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

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
    if success {
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
            id, responseCode, latencyMs)
        return err
    }
    if nextAttemptAt == nil {
        t := time.Now().Add(1 * time.Minute)
        nextAttemptAt = &t
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
        id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id, lastError string, responseCode, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
        id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

// Helpers
func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
