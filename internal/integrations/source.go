// Package integrations pulls bookings from external systems into a
// contractor's schedule as external jobs.
package integrations

import (
    "context"

    "fieldroute/internal/model"
)

// BookingSource is one external system bookings can be imported from.
type BookingSource interface {
    // Name is recorded as sourceSystem on every job imported from this
    // source and anchors the dedup identity.
    Name() string
    // FetchBookings returns the batch after cursor. An empty cursor in
    // the result means the source is drained.
    FetchBookings(ctx context.Context, cursor string) (BookingBatch, error)
    // AckBookings reports which refs were accepted (created or already
    // known) so the source can stop offering them.
    AckBookings(ctx context.Context, refs []string) error
}

type BookingBatch struct {
    Bookings []Booking
    Cursor   string
}

// Booking is a source-neutral description of one requested visit.
type Booking struct {
    ExternalRef     string
    ClientName      string
    Day             string // YYYY-MM-DD
    Start           string // HH:MM
    DurationMinutes int
    Flexibility     model.FlexibilityClass
    AddressKey      string
}
