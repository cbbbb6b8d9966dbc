// Package csvfile reads bookings from a CSV export file, the lowest
// common denominator for booking systems that only do batch drops.
package csvfile

import (
    "context"
    "encoding/csv"
    "errors"
    "fmt"
    "io"
    "os"
    "strconv"
    "strings"

    "fieldroute/internal/integrations"
    "fieldroute/internal/model"
)

// Source reads a whole CSV file as one batch.
//
// Required columns: external_ref, day, start, duration_minutes,
// address_key. Optional: client_name, flexibility. Column order is free
// and unknown columns are ignored.
type Source struct {
    Path       string
    SystemName string // recorded as sourceSystem; defaults to "csv"
}

func New(path string) *Source { return &Source{Path: path} }

func (s *Source) Name() string {
    if s.SystemName != "" {
        return s.SystemName
    }
    return "csv"
}

func (s *Source) FetchBookings(ctx context.Context, cursor string) (integrations.BookingBatch, error) {
    f, err := os.Open(s.Path)
    if err != nil {
        return integrations.BookingBatch{}, err
    }
    defer f.Close()

    r := csv.NewReader(f)
    r.TrimLeadingSpace = true
    header, err := r.Read()
    if err != nil {
        return integrations.BookingBatch{}, fmt.Errorf("read header: %w", err)
    }
    col := map[string]int{}
    for i, name := range header {
        col[strings.ToLower(strings.TrimSpace(name))] = i
    }
    for _, required := range []string{"external_ref", "day", "start", "duration_minutes", "address_key"} {
        if _, ok := col[required]; !ok {
            return integrations.BookingBatch{}, fmt.Errorf("csv is missing column %s", required)
        }
    }
    field := func(rec []string, name string) string {
        i, ok := col[name]
        if !ok || i >= len(rec) {
            return ""
        }
        return strings.TrimSpace(rec[i])
    }

    var batch integrations.BookingBatch
    for {
        rec, err := r.Read()
        if errors.Is(err, io.EOF) {
            return batch, nil
        }
        if err != nil {
            return batch, err
        }
        minutes, _ := strconv.Atoi(field(rec, "duration_minutes"))
        batch.Bookings = append(batch.Bookings, integrations.Booking{
            ExternalRef:     field(rec, "external_ref"),
            ClientName:      field(rec, "client_name"),
            Day:             field(rec, "day"),
            Start:           field(rec, "start"),
            DurationMinutes: minutes,
            Flexibility:     model.FlexibilityClass(field(rec, "flexibility")),
            AddressKey:      field(rec, "address_key"),
        })
    }
}

// AckBookings is a no-op: the file is a point-in-time export and reruns
// are already safe through importer-side dedup.
func (s *Source) AckBookings(ctx context.Context, refs []string) error { return nil }
