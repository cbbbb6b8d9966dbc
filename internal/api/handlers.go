package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "fieldroute/internal/buildinfo"
    "fieldroute/internal/model"
    "fieldroute/internal/opt"
    "fieldroute/internal/schedule"
    "fieldroute/internal/store"
)

// HealthHandler reports process liveness plus build information.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

type pinger interface {
    Ping(ctx context.Context) error
}

// ReadyHandler reports readiness. SQL-backed stores are pinged; the
// in-memory store is always ready.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    if p, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
        defer cancel()
        if err := p.Ping(ctx); err != nil {
            writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error())
            return
        }
    }
    writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) requirePrincipal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
    p, ok := s.getPrincipal(r)
    if !ok {
        writeProblem(w, http.StatusUnauthorized, "Unauthorized", "request carries no contractor identity")
    }
    return p, ok
}

// ContractorsHandler handles POST /v1/contractors (admin) and
// GET /v1/contractors (admin).
func (s *Server) ContractorsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    switch r.Method {
    case http.MethodPost:
        if !p.IsAdmin() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "admin role required")
            return
        }
        var in contractorInput
        if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
            return
        }
        if err := in.validate(); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid contractor", err.Error())
            return
        }
        active := true
        if in.Active != nil {
            active = *in.Active
        }
        tier := in.SubscriptionTier
        if tier == "" {
            tier = "basic"
        }
        con := model.Contractor{
            ID:               in.ID,
            Name:             in.Name,
            Active:           active,
            SubscriptionTier: tier,
            WorkingDayStart:  in.WorkingDayStart,
            WorkingDayEnd:    in.WorkingDayEnd,
        }
        if err := s.Store.CreateContractor(r.Context(), &con); err != nil {
            writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
            return
        }
        writeJSON(w, http.StatusCreated, con)
    case http.MethodGet:
        if !p.IsAdmin() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "admin role required")
            return
        }
        activeOnly := r.URL.Query().Get("active") == "true"
        list, err := s.Store.ListContractors(r.Context(), activeOnly)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": list})
    default:
        writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
    }
}

// ContractorByIDHandler handles GET /v1/contractors/{id}. Contractors can
// read themselves; admins can read anyone.
func (s *Server) ContractorByIDHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    if r.Method != http.MethodGet {
        writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
        return
    }
    id := strings.TrimPrefix(r.URL.Path, "/v1/contractors/")
    if id == "" || strings.Contains(id, "/") {
        writeProblem(w, http.StatusNotFound, "Not found", "")
        return
    }
    if id != p.ContractorID && !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "cannot read another contractor")
        return
    }
    con, err := s.Store.GetContractor(r.Context(), id)
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Not found", "no such contractor")
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    writeJSON(w, http.StatusOK, con)
}

// JobsHandler handles POST /v1/jobs and GET /v1/jobs.
func (s *Server) JobsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    switch r.Method {
    case http.MethodPost:
        s.createJob(w, r, p)
    case http.MethodGet:
        s.listJobs(w, r, p)
    default:
        writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
    }
}

// createJob books a job at the requested start or, for flexible jobs, the
// nearest free increment after it. Time-restricted and locked jobs must fit
// exactly or the request is rejected.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request, p Principal) {
    var in jobInput
    if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
        return
    }
    conID, allowed := resolveContractor(p, in.ContractorID)
    if !allowed {
        writeProblem(w, http.StatusForbidden, "Forbidden", "cannot create jobs for another contractor")
        return
    }
    if conID == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid job", "contractorId is required")
        return
    }
    job, err := in.buildJob(conID)
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid job", err.Error())
        return
    }
    con, err := s.Store.GetContractor(r.Context(), conID)
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Not found", "no such contractor")
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    if job.Origin == model.OriginExternal {
        _, err := s.Store.FindJobByExternalRef(r.Context(), conID, job.SourceSystem, job.ExternalRef)
        if err == nil {
            writeProblem(w, http.StatusConflict, "Duplicate job",
                fmt.Sprintf("a job from %s with ref %s already exists", job.SourceSystem, job.ExternalRef))
            return
        }
        if !errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
            return
        }
    }
    existing, err := s.Store.ListJobs(r.Context(), conID, job.Day, 0)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    desired, _ := model.ParseClock(job.Start)
    pl, err := schedule.Place(desired, job.DurationMinutes, schedule.BusyIntervals(existing, ""),
        s.workingWindow(con), s.Cfg.Optimize.SlotIncrementMinutes)
    if errors.Is(err, schedule.ErrNoFreeSlot) {
        writeProblem(w, http.StatusConflict, "No free slot", "the day has no room for this job")
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Placement error", err.Error())
        return
    }
    if pl.Shifted && job.Flexibility != model.FlexFlexible {
        writeProblem(w, http.StatusConflict, "Requested time unavailable",
            "a time-restricted job cannot be shifted to another slot")
        return
    }
    requested := job.Start
    job.Start = model.FormatClock(pl.Start)
    if err := s.Store.CreateJob(r.Context(), &job); err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    writeJSON(w, http.StatusCreated, map[string]any{
        "job":            job,
        "shifted":        pl.Shifted,
        "requestedStart": requested,
    })
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request, p Principal) {
    q := r.URL.Query()
    conID, allowed := resolveContractor(p, q.Get("contractorId"))
    if !allowed {
        writeProblem(w, http.StatusForbidden, "Forbidden", "cannot list another contractor's jobs")
        return
    }
    if conID == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid request", "contractorId is required")
        return
    }
    day := q.Get("day")
    if day != "" && !model.ValidDay(day) {
        writeProblem(w, http.StatusBadRequest, "Invalid request", "day must be YYYY-MM-DD")
        return
    }
    limit := 0
    if v := q.Get("limit"); v != "" {
        fmt.Sscanf(v, "%d", &limit)
    }
    jobs, err := s.Store.ListJobs(r.Context(), conID, day, limit)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

// JobByIDHandler handles GET /v1/jobs/{id} and POST /v1/jobs/{id}/move.
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
    parts := strings.Split(rest, "/")
    if parts[0] == "" {
        writeProblem(w, http.StatusNotFound, "Not found", "")
        return
    }
    job, err := s.Store.GetJob(r.Context(), parts[0])
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Not found", "no such job")
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    if job.ContractorID != p.ContractorID && !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "job belongs to another contractor")
        return
    }
    switch {
    case len(parts) == 1 && r.Method == http.MethodGet:
        writeJSON(w, http.StatusOK, job)
    case len(parts) == 2 && parts[1] == "move" && r.Method == http.MethodPost:
        s.moveJob(w, r, job)
    default:
        writeProblem(w, http.StatusNotFound, "Not found", "")
    }
}

// moveJob reschedules a job by hand. A manual move clears the optimizer
// audit fields; the job now sits where the contractor put it.
func (s *Server) moveJob(w http.ResponseWriter, r *http.Request, job model.Job) {
    var in moveInput
    if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
        return
    }
    if err := in.validate(); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid move", err.Error())
        return
    }
    con, err := s.Store.GetContractor(r.Context(), job.ContractorID)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    existing, err := s.Store.ListJobs(r.Context(), job.ContractorID, in.Day, 0)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    desired, _ := model.ParseClock(in.Start)
    pl, err := schedule.Place(desired, job.DurationMinutes, schedule.BusyIntervals(existing, job.ID),
        s.workingWindow(con), s.Cfg.Optimize.SlotIncrementMinutes)
    if errors.Is(err, schedule.ErrNoFreeSlot) {
        writeProblem(w, http.StatusConflict, "No free slot", "the target day has no room for this job")
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Placement error", err.Error())
        return
    }
    if pl.Shifted && job.Flexibility != model.FlexFlexible {
        writeProblem(w, http.StatusConflict, "Requested time unavailable",
            "a time-restricted job cannot be shifted to another slot")
        return
    }
    job.Day = in.Day
    job.Start = model.FormatClock(pl.Start)
    job.OriginalDay = ""
    job.OriginalStart = ""
    if err := s.Store.UpdateJob(r.Context(), &job); err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"job": job, "shifted": pl.Shifted})
}

// OptimizeRunsHandler handles POST /v1/optimize/runs (start a run) and
// GET /v1/optimize/runs (list audit rows, newest first).
func (s *Server) OptimizeRunsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    switch r.Method {
    case http.MethodPost:
        var req opt.RunRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
            return
        }
        conID, allowed := resolveContractor(p, req.ContractorID)
        if !allowed {
            writeProblem(w, http.StatusForbidden, "Forbidden", "cannot optimize another contractor's schedule")
            return
        }
        if conID == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid request", "contractorId is required")
            return
        }
        req.ContractorID = conID
        if err := validateRunRequest(req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error())
            return
        }
        res, err := s.Opt.Run(r.Context(), req)
        switch {
        case errors.Is(err, store.ErrNotFound):
            writeProblem(w, http.StatusNotFound, "Not found", "no such contractor")
        case errors.Is(err, opt.ErrNotEligible):
            writeProblem(w, http.StatusBadRequest, "Not eligible", "subscription does not include schedule optimization")
        case err != nil:
            writeProblem(w, http.StatusInternalServerError, "Optimization failed", err.Error())
        default:
            writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
        }
    case http.MethodGet:
        conID, allowed := resolveContractor(p, r.URL.Query().Get("contractorId"))
        if !allowed {
            writeProblem(w, http.StatusForbidden, "Forbidden", "cannot list another contractor's runs")
            return
        }
        if conID == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid request", "contractorId is required")
            return
        }
        limit := 0
        if v := r.URL.Query().Get("limit"); v != "" {
            fmt.Sscanf(v, "%d", &limit)
        }
        runs, err := s.Store.ListRuns(r.Context(), conID, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
            return
        }
        date := r.URL.Query().Get("date")
        tier := 0
        if v := r.URL.Query().Get("tier"); v != "" {
            fmt.Sscanf(v, "%d", &tier)
        }
        if date != "" || tier > 0 {
            filtered := runs[:0]
            for _, run := range runs {
                if date != "" && run.Date != date {
                    continue
                }
                if tier > 0 && run.Tier != tier {
                    continue
                }
                filtered = append(filtered, run)
            }
            runs = filtered
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": runs})
    default:
        writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
    }
}

// OptimizeRunByIDHandler handles GET /v1/optimize/runs/{id} plus
// POST /v1/optimize/runs/{id}/approve and /dismiss.
func (s *Server) OptimizeRunByIDHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/optimize/runs/")
    parts := strings.Split(rest, "/")
    if parts[0] == "" {
        writeProblem(w, http.StatusNotFound, "Not found", "")
        return
    }
    run, err := s.Store.GetRun(r.Context(), parts[0])
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Not found", "no such run")
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    if run.ContractorID != p.ContractorID && !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "run belongs to another contractor")
        return
    }
    if len(parts) == 1 && r.Method == http.MethodGet {
        changes, err := s.Store.ListSuggestedChanges(r.Context(), run.ID)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"run": run, "suggestedChanges": changes})
        return
    }
    if len(parts) == 2 && r.Method == http.MethodPost {
        var res opt.RunResult
        switch parts[1] {
        case "approve":
            res, err = s.Opt.Approve(r.Context(), run.ID)
        case "dismiss":
            res, err = s.Opt.Dismiss(r.Context(), run.ID)
        default:
            writeProblem(w, http.StatusNotFound, "Not found", "")
            return
        }
        switch {
        case errors.Is(err, opt.ErrRunNotApprovable):
            writeProblem(w, http.StatusConflict, "Run not approvable", "the run is not an open proposal")
        case errors.Is(err, schedule.ErrNoFreeSlot):
            writeProblem(w, http.StatusConflict, "Slot conflict",
                "the schedule changed since the proposal; the suggested slot is no longer free")
        case errors.Is(err, store.ErrNotFound):
            writeProblem(w, http.StatusConflict, "Stale proposal", "a suggested job no longer exists")
        case err != nil:
            writeProblem(w, http.StatusInternalServerError, "Operation failed", err.Error())
        default:
            writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
        }
        return
    }
    writeProblem(w, http.StatusNotFound, "Not found", "")
}

// SweepHandler handles POST /v1/optimize/sweep: a batch dry run over all
// active contractors. Admin only.
func (s *Server) SweepHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    if r.Method != http.MethodPost {
        writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
        return
    }
    if !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "admin role required")
        return
    }
    res, err := s.Opt.Sweep(r.Context())
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Sweep failed", err.Error())
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

// NotificationsHandler handles GET /v1/notifications.
func (s *Server) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    if r.Method != http.MethodGet {
        writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
        return
    }
    conID, allowed := resolveContractor(p, r.URL.Query().Get("contractorId"))
    if !allowed {
        writeProblem(w, http.StatusForbidden, "Forbidden", "cannot read another contractor's notifications")
        return
    }
    if conID == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid request", "contractorId is required")
        return
    }
    limit := 0
    if v := r.URL.Query().Get("limit"); v != "" {
        fmt.Sscanf(v, "%d", &limit)
    }
    notes, err := s.Store.ListNotifications(r.Context(), conID, limit)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    if v := r.URL.Query().Get("since"); v != "" {
        since, err := time.Parse(time.RFC3339, v)
        if err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid request", "since must be RFC 3339")
            return
        }
        filtered := notes[:0]
        for _, n := range notes {
            if n.CreatedAt.After(since) {
                filtered = append(filtered, n)
            }
        }
        notes = filtered
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": notes})
}

// WebhooksHandler handles POST /v1/webhooks/subscriptions and
// GET /v1/webhooks/subscriptions.
func (s *Server) WebhooksHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    switch r.Method {
    case http.MethodPost:
        var in webhookInput
        if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
            return
        }
        conID, allowed := resolveContractor(p, in.ContractorID)
        if !allowed {
            writeProblem(w, http.StatusForbidden, "Forbidden", "cannot subscribe for another contractor")
            return
        }
        if conID == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "contractorId is required")
            return
        }
        if err := in.validate(); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error())
            return
        }
        sub := model.WebhookSubscription{
            ContractorID: conID,
            URL:          in.URL,
            Secret:       in.Secret,
            Events:       in.Events,
        }
        if err := s.Store.CreateWebhookSubscription(r.Context(), &sub); err != nil {
            writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        conID, allowed := resolveContractor(p, r.URL.Query().Get("contractorId"))
        if !allowed {
            writeProblem(w, http.StatusForbidden, "Forbidden", "cannot list another contractor's subscriptions")
            return
        }
        if conID == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid request", "contractorId is required")
            return
        }
        subs, err := s.Store.ListWebhookSubscriptions(r.Context(), conID)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": subs})
    default:
        writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
    }
}

// WebhookByIDHandler handles DELETE /v1/webhooks/subscriptions/{id}.
func (s *Server) WebhookByIDHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    if r.Method != http.MethodDelete {
        writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
        return
    }
    id := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/subscriptions/")
    if id == "" || strings.Contains(id, "/") {
        writeProblem(w, http.StatusNotFound, "Not found", "")
        return
    }
    conID, allowed := resolveContractor(p, r.URL.Query().Get("contractorId"))
    if !allowed {
        writeProblem(w, http.StatusForbidden, "Forbidden", "cannot delete another contractor's subscription")
        return
    }
    err := s.Store.DeleteWebhookSubscription(r.Context(), conID, id)
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Not found", "no such subscription")
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Storage error", err.Error())
        return
    }
    w.WriteHeader(http.StatusNoContent)
}

// EventsStreamHandler streams notifications for one contractor as
// server-sent events. A heartbeat goes out every 15s so proxies keep the
// connection open.
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePrincipal(w, r)
    if !ok {
        return
    }
    conID, allowed := resolveContractor(p, r.URL.Query().Get("contractorId"))
    if !allowed {
        writeProblem(w, http.StatusForbidden, "Forbidden", "cannot stream another contractor's events")
        return
    }
    if conID == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid request", "contractorId is required")
        return
    }
    flusher, canFlush := w.(http.Flusher)
    if !canFlush {
        writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "response writer cannot flush")
        return
    }
    ch := s.Broker.Subscribe(conID)
    defer s.Broker.Unsubscribe(conID, ch)

    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    w.WriteHeader(http.StatusOK)
    fmt.Fprintf(w, "event: connected\ndata: {\"contractorId\":%q}\n\n", conID)
    flusher.Flush()

    heartbeat := time.NewTicker(15 * time.Second)
    defer heartbeat.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, open := <-ch:
            if !open {
                return
            }
            data, err := json.Marshal(evt.Data)
            if err != nil {
                continue
            }
            fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
            flusher.Flush()
        case <-heartbeat.C:
            fmt.Fprintf(w, "event: heartbeat\ndata: {}\n\n")
            flusher.Flush()
        }
    }
}

// workingWindow resolves the contractor's working hours, falling back to
// the configured defaults.
func (s *Server) workingWindow(con model.Contractor) schedule.Window {
    w := schedule.Window{Start: s.Cfg.Optimize.DayStartMinutes(), End: s.Cfg.Optimize.DayEndMinutes()}
    if con.WorkingDayStart != "" {
        if m, err := model.ParseClock(con.WorkingDayStart); err == nil {
            w.Start = m
        }
    }
    if con.WorkingDayEnd != "" {
        if m, err := model.ParseClock(con.WorkingDayEnd); err == nil {
            w.End = m
        }
    }
    return w
}
