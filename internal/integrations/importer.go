package integrations

import (
    "context"
    "errors"
    "fmt"

    "fieldroute/internal/config"
    "fieldroute/internal/logging"
    "fieldroute/internal/model"
    "fieldroute/internal/schedule"
    "fieldroute/internal/store"
)

// Importer drains a booking source into one contractor's schedule. Each
// booking becomes an external job placed through the same conflict-aware
// placement the API uses; bookings already imported (same source and ref)
// are skipped, so reruns are safe.
type Importer struct {
    Store store.Store
    Cfg   config.OptimizeConfig
    Log   logging.Logger
}

func NewImporter(s store.Store, cfg config.OptimizeConfig, log logging.Logger) *Importer {
    if log == nil {
        log = logging.Nop{}
    }
    return &Importer{Store: s, Cfg: cfg, Log: log}
}

// ImportResult summarizes one import pass.
type ImportResult struct {
    Fetched  int      `json:"fetched"`
    Created  int      `json:"created"`
    Skipped  int      `json:"skipped"`
    Rejected []string `json:"rejected,omitempty"` // "ref: reason"
}

func (imp *Importer) Import(ctx context.Context, src BookingSource, contractorID string) (ImportResult, error) {
    var res ImportResult
    con, err := imp.Store.GetContractor(ctx, contractorID)
    if err != nil {
        return res, fmt.Errorf("contractor %s: %w", contractorID, err)
    }
    window := windowFor(con, imp.Cfg)

    cursor := ""
    for {
        batch, err := src.FetchBookings(ctx, cursor)
        if err != nil {
            return res, fmt.Errorf("fetch from %s: %w", src.Name(), err)
        }
        res.Fetched += len(batch.Bookings)
        var acked []string
        for _, b := range batch.Bookings {
            job, reason := bookingJob(b, src.Name(), contractorID)
            if reason != "" {
                res.Rejected = append(res.Rejected, b.ExternalRef+": "+reason)
                continue
            }
            _, err := imp.Store.FindJobByExternalRef(ctx, contractorID, src.Name(), b.ExternalRef)
            if err == nil {
                res.Skipped++
                acked = append(acked, b.ExternalRef)
                continue
            }
            if !errors.Is(err, store.ErrNotFound) {
                return res, err
            }
            booked, err := imp.Store.ListJobs(ctx, contractorID, job.Day, 0)
            if err != nil {
                return res, err
            }
            desired, _ := model.ParseClock(job.Start)
            pl, err := schedule.Place(desired, job.DurationMinutes, schedule.BusyIntervals(booked, ""),
                window, imp.Cfg.SlotIncrementMinutes)
            if errors.Is(err, schedule.ErrNoFreeSlot) {
                res.Rejected = append(res.Rejected, b.ExternalRef+": no free slot on "+job.Day)
                continue
            }
            if err != nil {
                return res, err
            }
            if pl.Shifted && job.Flexibility != model.FlexFlexible {
                res.Rejected = append(res.Rejected, b.ExternalRef+": requested time is booked")
                continue
            }
            job.Start = model.FormatClock(pl.Start)
            if err := imp.Store.CreateJob(ctx, &job); err != nil {
                return res, err
            }
            res.Created++
            acked = append(acked, b.ExternalRef)
            imp.Log.Infof("imported %s/%s as job %s on %s %s", src.Name(), b.ExternalRef, job.ID, job.Day, job.Start)
        }
        if len(acked) > 0 {
            if err := src.AckBookings(ctx, acked); err != nil {
                imp.Log.Warnf("ack %d bookings on %s: %v", len(acked), src.Name(), err)
            }
        }
        if batch.Cursor == "" {
            return res, nil
        }
        cursor = batch.Cursor
    }
}

// bookingJob validates a booking and converts it into an external job.
// A non-empty reason means the booking is rejected.
func bookingJob(b Booking, sourceSystem, contractorID string) (model.Job, string) {
    if b.ExternalRef == "" {
        return model.Job{}, "missing external ref"
    }
    if !model.ValidDay(b.Day) {
        return model.Job{}, "bad day " + b.Day
    }
    if _, err := model.ParseClock(b.Start); err != nil {
        return model.Job{}, "bad start " + b.Start
    }
    if b.DurationMinutes < 5 || b.DurationMinutes > 12*60 {
        return model.Job{}, fmt.Sprintf("bad duration %d", b.DurationMinutes)
    }
    if b.AddressKey == "" {
        return model.Job{}, "missing address"
    }
    flex := b.Flexibility
    if flex == "" {
        flex = model.FlexFlexible
    }
    switch flex {
    case model.FlexFlexible, model.FlexTimeRestricted, model.FlexLocked:
    default:
        return model.Job{}, "bad flexibility " + string(flex)
    }
    return model.Job{
        ContractorID:    contractorID,
        Origin:          model.OriginExternal,
        ClientName:      b.ClientName,
        Day:             b.Day,
        Start:           b.Start,
        DurationMinutes: b.DurationMinutes,
        Flexibility:     flex,
        AddressKey:      b.AddressKey,
        SourceSystem:    sourceSystem,
        ExternalRef:     b.ExternalRef,
    }, ""
}

func windowFor(con model.Contractor, cfg config.OptimizeConfig) schedule.Window {
    w := schedule.Window{Start: cfg.DayStartMinutes(), End: cfg.DayEndMinutes()}
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
