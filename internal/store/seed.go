package store

import (
    "context"
    "errors"
    "time"

    "fieldroute/internal/model"
)

// SeedDemo loads a demo contractor (c_demo) with a small schedule spread
// over today and tomorrow, so a fresh memory-backed server has something
// to optimize. Calling it twice is a no-op.
func SeedDemo(ctx context.Context, s Store) error {
    if _, err := s.GetContractor(ctx, "c_demo"); err == nil {
        return nil
    } else if !errors.Is(err, ErrNotFound) {
        return err
    }

    con := model.Contractor{ID: "c_demo", Name: "Demo Plumbing Co", Active: true, SubscriptionTier: "pro"}
    if err := s.CreateContractor(ctx, &con); err != nil {
        return err
    }

    today := time.Now().Format("2006-01-02")
    tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
    jobs := []model.Job{
        {ClientName: "Harbor Cafe", Day: today, Start: "08:00", DurationMinutes: 90,
            Flexibility: model.FlexFlexible, AddressKey: "harbor-district"},
        {ClientName: "Nguyen Residence", Day: today, Start: "10:30", DurationMinutes: 60,
            Flexibility: model.FlexTimeRestricted, AddressKey: "west-hills"},
        {ClientName: "Ortega Residence", Day: today, Start: "14:00", DurationMinutes: 120,
            Flexibility: model.FlexFlexible, AddressKey: "harbor-district"},
        {ClientName: "City Library", Day: tomorrow, Start: "09:00", DurationMinutes: 60,
            Flexibility: model.FlexFlexible, AddressKey: "downtown"},
        {ClientName: "Patel Residence", Day: tomorrow, Start: "13:00", DurationMinutes: 45,
            Flexibility: model.FlexLocked, AddressKey: "west-hills"},
    }
    for i := range jobs {
        jobs[i].ContractorID = con.ID
        jobs[i].Origin = model.OriginInternal
        if err := s.CreateJob(ctx, &jobs[i]); err != nil {
            return err
        }
    }
    return nil
}
