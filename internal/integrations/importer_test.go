package integrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/config"
	"fieldroute/internal/logging"
	"fieldroute/internal/model"
	"fieldroute/internal/store"
)

type fakeSource struct {
	name    string
	batches []BookingBatch
	cursors []string
	acked   [][]string
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchBookings(_ context.Context, cursor string) (BookingBatch, error) {
	f.cursors = append(f.cursors, cursor)
	i := len(f.cursors) - 1
	if i >= len(f.batches) {
		return BookingBatch{}, nil
	}
	return f.batches[i], nil
}

func (f *fakeSource) AckBookings(_ context.Context, refs []string) error {
	f.acked = append(f.acked, refs)
	return nil
}

func newImporter(t *testing.T) (*Importer, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	con := model.Contractor{ID: "c_1", Name: "Importer Test Co", Active: true, SubscriptionTier: "pro"}
	require.NoError(t, mem.CreateContractor(context.Background(), &con))
	return NewImporter(mem, config.Default().Optimize, logging.Nop{}), mem
}

func TestImportCreatesPlacesAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	imp, mem := newImporter(t)
	day := "2026-03-02"
	batch := BookingBatch{Bookings: []Booking{
		{ExternalRef: "bk-1", ClientName: "Ann", Day: day, Start: "09:00", DurationMinutes: 60, AddressKey: "A"},
		// Same requested start; flexible, so it shifts to the next free slot.
		{ExternalRef: "bk-2", ClientName: "Ben", Day: day, Start: "09:00", DurationMinutes: 60, AddressKey: "B"},
		{ExternalRef: "bk-3", ClientName: "Cam", Day: "bad-day", Start: "09:00", DurationMinutes: 60, AddressKey: "C"},
	}}

	src := &fakeSource{name: "bookings", batches: []BookingBatch{batch}}
	res, err := imp.Import(ctx, src, "c_1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Rejected, 1)
	assert.Contains(t, res.Rejected[0], "bk-3")
	require.Len(t, src.acked, 1)
	assert.Equal(t, []string{"bk-1", "bk-2"}, src.acked[0])

	second, err := mem.FindJobByExternalRef(ctx, "c_1", "bookings", "bk-2")
	require.NoError(t, err)
	assert.Equal(t, "10:00", second.Start)
	assert.Equal(t, model.OriginExternal, second.Origin)

	// Re-running the same export creates nothing new.
	src = &fakeSource{name: "bookings", batches: []BookingBatch{batch}}
	res, err = imp.Import(ctx, src, "c_1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Skipped)

	jobs, err := mem.ListJobs(ctx, "c_1", day, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestImportRejectsBusyRestrictedTimes(t *testing.T) {
	ctx := context.Background()
	imp, mem := newImporter(t)
	day := "2026-03-02"
	existing := model.Job{
		ContractorID: "c_1", Origin: model.OriginInternal, Day: day, Start: "09:00",
		DurationMinutes: 90, Flexibility: model.FlexFlexible, AddressKey: "A",
	}
	require.NoError(t, mem.CreateJob(ctx, &existing))

	src := &fakeSource{name: "bookings", batches: []BookingBatch{{Bookings: []Booking{
		{ExternalRef: "bk-9", Day: day, Start: "09:30", DurationMinutes: 60,
			Flexibility: model.FlexTimeRestricted, AddressKey: "B"},
	}}}}
	res, err := imp.Import(ctx, src, "c_1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	require.Len(t, res.Rejected, 1)
	assert.Contains(t, res.Rejected[0], "bk-9")

	_, err = mem.FindJobByExternalRef(ctx, "c_1", "bookings", "bk-9")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestImportFollowsCursors(t *testing.T) {
	ctx := context.Background()
	imp, _ := newImporter(t)
	src := &fakeSource{name: "bookings", batches: []BookingBatch{
		{Bookings: []Booking{{ExternalRef: "bk-1", Day: "2026-03-02", Start: "08:00", DurationMinutes: 30, AddressKey: "A"}}, Cursor: "page-2"},
		{Bookings: []Booking{{ExternalRef: "bk-2", Day: "2026-03-03", Start: "08:00", DurationMinutes: 30, AddressKey: "B"}}},
	}}

	res, err := imp.Import(ctx, src, "c_1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, []string{"", "page-2"}, src.cursors)
}

func TestImportUnknownContractor(t *testing.T) {
	imp, _ := newImporter(t)
	src := &fakeSource{name: "bookings"}
	_, err := imp.Import(context.Background(), src, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
