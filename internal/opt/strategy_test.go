package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/config"
	"fieldroute/internal/distance"
	"fieldroute/internal/logging"
	"fieldroute/internal/model"
)

func newTestStrategy() *Strategy {
	return NewStrategy(config.Default().Optimize, logging.Nop{})
}

func tstop(id, day string, start int, flex model.FlexibilityClass, slot model.HalfDaySlot, addr string) model.Stop {
	return model.Stop{
		ID:              id,
		Day:             day,
		Start:           start,
		DurationMinutes: 60,
		Flexibility:     flex,
		Slot:            slot,
		AddressKey:      addr,
	}
}

func cacheOf(edges map[string]int) *distance.Cache {
	c := distance.NewCache()
	c.Merge(edges)
	return c
}

func TestIntraDayReordersFlexibleGroup(t *testing.T) {
	st := newTestStrategy()
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("a", day, 480, model.FlexFlexible, model.SlotMorning, "A"),
		tstop("c", day, 600, model.FlexFlexible, model.SlotMorning, "C"),
		tstop("b", day, 720, model.FlexFlexible, model.SlotMorning, "B"),
	}
	c := cacheOf(map[string]int{
		"A->B": 5, "B->A": 5,
		"B->C": 5, "C->B": 5,
		"A->C": 20, "C->A": 20,
	})

	res := st.IntraDay(day, stops, c)

	// current A->C->B costs 20+5, reordered A->B->C costs 5+5
	assert.Equal(t, 15, res.MinutesSaved)
	require.Len(t, res.Changes, 2)
	byJob := map[string]model.ScheduleChange{}
	for _, ch := range res.Changes {
		byJob[ch.JobID] = ch
	}
	require.Contains(t, byJob, "b")
	require.Contains(t, byJob, "c")
	assert.Equal(t, "09:05", byJob["b"].Start)
	assert.Equal(t, "12:00", byJob["b"].OriginalStart)
	assert.Equal(t, "10:10", byJob["c"].Start)
	assert.NotContains(t, byJob, "a")
}

func TestIntraDaySkipsLockedStops(t *testing.T) {
	st := newTestStrategy()
	day := "2026-03-02"
	locked := tstop("x", day, 480, model.FlexFlexible, model.SlotMorning, "X")
	locked.Locked = true
	pinned := tstop("y", day, 540, model.FlexLocked, model.SlotMorning, "Y")
	pinned.Locked = true
	stops := []model.Stop{locked, pinned}

	res := st.IntraDay(day, stops, cacheOf(map[string]int{"X->Y": 1, "Y->X": 1}))

	assert.Zero(t, res.MinutesSaved)
	assert.Empty(t, res.Changes)
}

func TestIntraDayNeverWorse(t *testing.T) {
	st := newTestStrategy()
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("a", day, 480, model.FlexFlexible, model.SlotMorning, "A"),
		tstop("b", day, 540, model.FlexFlexible, model.SlotMorning, "B"),
		tstop("c", day, 600, model.FlexFlexible, model.SlotMorning, "C"),
	}
	// greedy from A picks C first (1 < 2) and ends up with the worse tour
	c := cacheOf(map[string]int{
		"A->C": 1, "C->B": 50,
		"A->B": 2, "B->C": 2,
	})

	res := st.IntraDay(day, stops, c)

	assert.Zero(t, res.MinutesSaved)
	assert.Empty(t, res.Changes)
}

func TestIntraDayIdempotent(t *testing.T) {
	st := newTestStrategy()
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("a", day, 480, model.FlexFlexible, model.SlotMorning, "A"),
		tstop("c", day, 600, model.FlexFlexible, model.SlotMorning, "C"),
		tstop("b", day, 720, model.FlexFlexible, model.SlotMorning, "B"),
	}
	c := cacheOf(map[string]int{
		"A->B": 5, "B->A": 5,
		"B->C": 5, "C->B": 5,
		"A->C": 20, "C->A": 20,
	})

	first := st.IntraDay(day, stops, c)
	require.Positive(t, first.MinutesSaved)

	// apply the staged changes in memory and run again
	for _, ch := range first.Changes {
		for i := range stops {
			if stops[i].ID == ch.JobID {
				start, err := model.ParseClock(ch.Start)
				require.NoError(t, err)
				stops[i].Start = start
			}
		}
	}
	second := st.IntraDay(day, stops, c)
	assert.Zero(t, second.MinutesSaved)
	assert.Empty(t, second.Changes)
}

func TestIntraDayPinsSingleStopToAnchor(t *testing.T) {
	st := newTestStrategy()
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("f", day, 540, model.FlexFlexible, model.SlotMorning, "F"),
		tstop("r", day, 800, model.FlexTimeRestricted, model.SlotAfternoon, "R"),
	}

	res := st.IntraDay(day, stops, distance.NewCache())

	assert.Zero(t, res.MinutesSaved)
	require.Len(t, res.Changes, 2)
	byJob := map[string]model.ScheduleChange{}
	for _, ch := range res.Changes {
		byJob[ch.JobID] = ch
	}
	assert.Equal(t, "08:00", byJob["f"].Start)
	assert.Equal(t, "13:00", byJob["r"].Start)
}

func TestCrossDayRebalance(t *testing.T) {
	st := newTestStrategy()
	d1, d2 := "2026-03-02", "2026-03-03"
	byDay := map[string][]model.Stop{
		d1: {
			tstop("p", d1, 480, model.FlexFlexible, model.SlotMorning, "P"),
			tstop("q", d1, 540, model.FlexFlexible, model.SlotMorning, "Q"),
		},
		d2: {
			tstop("r", d2, 480, model.FlexFlexible, model.SlotMorning, "R"),
			tstop("s", d2, 540, model.FlexFlexible, model.SlotMorning, "S"),
		},
	}
	// P/R and Q/S are near each other, the per-day pairings are not
	c := cacheOf(map[string]int{
		"P->Q": 60, "Q->P": 60,
		"R->S": 60, "S->R": 60,
		"P->R": 2, "R->P": 2,
		"Q->S": 2, "S->Q": 2,
		"P->S": 70, "R->Q": 2,
	})

	res := st.CrossDay([]string{d1, d2}, byDay, c)

	assert.Equal(t, 110, res.MinutesSaved)
	byJob := map[string]model.ScheduleChange{}
	for _, ch := range res.Changes {
		byJob[ch.JobID] = ch
	}
	require.Contains(t, byJob, "r")
	assert.Equal(t, d1, byJob["r"].Day)
	assert.Equal(t, d2, byJob["r"].OriginalDay)
	require.Contains(t, byJob, "q")
	assert.Equal(t, d2, byJob["q"].Day)
	assert.Equal(t, d1, byJob["q"].OriginalDay)
}

func TestCrossDayUnderThresholdDiscarded(t *testing.T) {
	st := newTestStrategy()
	d1, d2 := "2026-03-02", "2026-03-03"
	byDay := map[string][]model.Stop{
		d1: {tstop("p", d1, 480, model.FlexFlexible, model.SlotMorning, "P")},
		d2: {tstop("r", d2, 480, model.FlexFlexible, model.SlotMorning, "R")},
	}

	res := st.CrossDay([]string{d1, d2}, byDay, cacheOf(map[string]int{"P->R": 1, "R->P": 1}))

	assert.Zero(t, res.MinutesSaved)
	assert.Empty(t, res.Changes)
}

func TestSlotSwapProposesAboveThreshold(t *testing.T) {
	st := newTestStrategy()
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("m1", day, 480, model.FlexTimeRestricted, model.SlotMorning, "m1"),
		tstop("m2", day, 600, model.FlexTimeRestricted, model.SlotMorning, "m2"),
		tstop("a1", day, 780, model.FlexTimeRestricted, model.SlotAfternoon, "a1"),
	}
	// moving m2 to the afternoon drops 6 travel minutes, past the threshold
	c := cacheOf(map[string]int{
		"m1->m2": 6, "m2->m1": 6,
		"m1->a1": 50, "a1->m1": 50,
		"m2->a1": 0, "a1->m2": 0,
	})

	res := st.SlotSwap(day, stops, c)

	assert.Equal(t, 6, res.MinutesSaved)
	require.Len(t, res.Suggestions, 1)
	sug := res.Suggestions[0]
	assert.Equal(t, "m2", sug.JobID)
	assert.Equal(t, model.SlotMorning, sug.CurrentSlot)
	assert.Equal(t, model.SlotAfternoon, sug.SuggestedSlot)
	assert.True(t, sug.RequiresApproval)
	assert.Empty(t, res.Changes)
}

func TestSlotSwapDiscardsUnderThreshold(t *testing.T) {
	st := newTestStrategy()
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("m1", day, 480, model.FlexTimeRestricted, model.SlotMorning, "m1"),
		tstop("m2", day, 600, model.FlexTimeRestricted, model.SlotMorning, "m2"),
		tstop("a1", day, 780, model.FlexTimeRestricted, model.SlotAfternoon, "a1"),
	}
	// the best move saves only 3 minutes, under the threshold
	c := cacheOf(map[string]int{
		"m1->m2": 3, "m2->m1": 3,
		"m1->a1": 50, "a1->m1": 50,
		"m2->a1": 0, "a1->m2": 0,
	})

	res := st.SlotSwap(day, stops, c)

	assert.Zero(t, res.MinutesSaved)
	assert.Empty(t, res.Suggestions)
}

func TestSlotSwapIgnoresFlexibleStops(t *testing.T) {
	st := newTestStrategy()
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("f1", day, 480, model.FlexFlexible, model.SlotMorning, "F1"),
		tstop("f2", day, 600, model.FlexFlexible, model.SlotMorning, "F2"),
	}

	res := st.SlotSwap(day, stops, cacheOf(map[string]int{"F1->F2": 30, "F2->F1": 0}))

	assert.True(t, res.Empty())
}
