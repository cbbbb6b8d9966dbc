package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/model"
)

var workday = Window{Start: 480, End: 1080} // 08:00-18:00

func TestPlaceNoConflictKeepsDesired(t *testing.T) {
	p, err := Place(540, 60, nil, workday, 15)
	require.NoError(t, err)
	assert.Equal(t, 540, p.Start)
	assert.False(t, p.Shifted)
}

func TestPlaceShiftsPastOverlap(t *testing.T) {
	// desired 09:00 for 60min, booked 09:30-10:30 -> expect 10:30, shifted
	busy := []Interval{{Start: 570, End: 630}}
	p, err := Place(540, 60, busy, workday, 15)
	require.NoError(t, err)
	assert.Equal(t, 630, p.Start)
	assert.True(t, p.Shifted)
}

func TestPlaceProbesInIncrements(t *testing.T) {
	// 09:00 blocked by 09:00-09:10; the next probe at 09:15 still overlaps
	// a 60-minute job, so the search walks to the first clean start.
	busy := []Interval{{Start: 540, End: 550}, {Start: 600, End: 615}}
	p, err := Place(540, 60, busy, workday, 15)
	require.NoError(t, err)
	assert.Equal(t, 615, p.Start)
	assert.True(t, p.Shifted)
}

func TestPlaceRejectsWhenDayFull(t *testing.T) {
	busy := []Interval{{Start: 480, End: 1080}}
	_, err := Place(540, 60, busy, workday, 15)
	assert.ErrorIs(t, err, ErrNoFreeSlot)
}

func TestPlaceRejectsPastClosing(t *testing.T) {
	// 17:30 + 60min would end after 18:00 and nothing earlier is free
	_, err := Place(1050, 60, []Interval{{Start: 480, End: 1050}}, workday, 15)
	assert.ErrorIs(t, err, ErrNoFreeSlot)
}

func TestPlaceClampsBeforeOpening(t *testing.T) {
	p, err := Place(300, 30, nil, workday, 15)
	require.NoError(t, err)
	assert.Equal(t, 480, p.Start)
	assert.True(t, p.Shifted)
}

func TestPlaceRejectsBadInput(t *testing.T) {
	_, err := Place(540, 0, nil, workday, 15)
	assert.Error(t, err)
	_, err = Place(540, 30, nil, workday, 0)
	assert.Error(t, err)
}

func TestBusyIntervals(t *testing.T) {
	jobs := []model.Job{
		{ID: "a", Start: "10:00", DurationMinutes: 30},
		{ID: "b", Start: "08:00", DurationMinutes: 60},
		{ID: "c", Start: "bad", DurationMinutes: 60},
	}
	busy := BusyIntervals(jobs, "a")
	require.Len(t, busy, 1)
	assert.Equal(t, Interval{Start: 480, End: 540}, busy[0])

	busy = BusyIntervals(jobs, "")
	require.Len(t, busy, 2)
	assert.Equal(t, 480, busy[0].Start)
	assert.Equal(t, 600, busy[1].Start)
}
