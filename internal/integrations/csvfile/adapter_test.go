package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/model"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookings.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFetchBookingsParsesRows(t *testing.T) {
	// Column order is free and unknown columns are ignored.
	path := writeCSV(t, ""+
		"day,notes,external_ref,start,duration_minutes,address_key,client_name,flexibility\n"+
		"2026-03-02,call ahead,bk-1,09:00,60,addr-a,Ann,\n"+
		"2026-03-03,,bk-2, 14:30 ,45,addr-b,Ben,timeRestricted\n")

	src := New(path)
	batch, err := src.FetchBookings(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, batch.Bookings, 2)
	assert.Empty(t, batch.Cursor)

	first := batch.Bookings[0]
	assert.Equal(t, "bk-1", first.ExternalRef)
	assert.Equal(t, "Ann", first.ClientName)
	assert.Equal(t, "2026-03-02", first.Day)
	assert.Equal(t, "09:00", first.Start)
	assert.Equal(t, 60, first.DurationMinutes)
	assert.Equal(t, "addr-a", first.AddressKey)
	assert.Equal(t, model.FlexibilityClass(""), first.Flexibility)

	second := batch.Bookings[1]
	assert.Equal(t, "14:30", second.Start)
	assert.Equal(t, model.FlexTimeRestricted, second.Flexibility)
}

func TestFetchBookingsRequiresColumns(t *testing.T) {
	path := writeCSV(t, "day,start,duration_minutes,address_key\n2026-03-02,09:00,60,addr-a\n")
	_, err := New(path).FetchBookings(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external_ref")
}

func TestFetchBookingsMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.csv")).FetchBookings(context.Background(), "")
	assert.Error(t, err)
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "csv", New("x.csv").Name())
	assert.Equal(t, "acme", (&Source{Path: "x.csv", SystemName: "acme"}).Name())
}
