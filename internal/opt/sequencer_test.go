package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/model"
)

func ids(stops []model.Stop) []string {
	out := make([]string, len(stops))
	for i, s := range stops {
		out[i] = s.ID
	}
	return out
}

func TestOrderNearestPrefersShortEdges(t *testing.T) {
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("a", day, 480, model.FlexFlexible, model.SlotMorning, "A"),
		tstop("c", day, 540, model.FlexFlexible, model.SlotMorning, "C"),
		tstop("b", day, 600, model.FlexFlexible, model.SlotMorning, "B"),
	}
	c := cacheOf(map[string]int{
		"A->B": 5, "B->C": 5, "A->C": 20,
	})

	got := OrderNearest(stops, c)

	// A->B->C totals 10, A->C->B would total 25
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
}

func TestOrderNearestLeavesSmallSetsAlone(t *testing.T) {
	day := "2026-03-02"
	pair := []model.Stop{
		tstop("a", day, 480, model.FlexFlexible, model.SlotMorning, "A"),
		tstop("b", day, 540, model.FlexFlexible, model.SlotMorning, "B"),
	}
	c := cacheOf(map[string]int{"B->A": 1, "A->B": 99})

	assert.Equal(t, []string{"a", "b"}, ids(OrderNearest(pair, c)))
	assert.Equal(t, []string{"a"}, ids(OrderNearest(pair[:1], c)))
	assert.Empty(t, OrderNearest(nil, c))
}

func TestOrderNearestUnknownFallsBackToInputOrder(t *testing.T) {
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("a", day, 480, model.FlexFlexible, model.SlotMorning, "A"),
		tstop("b", day, 540, model.FlexFlexible, model.SlotMorning, "B"),
		tstop("c", day, 600, model.FlexFlexible, model.SlotMorning, "C"),
		tstop("d", day, 660, model.FlexFlexible, model.SlotMorning, "D"),
	}
	// only A->C is known; after C every edge is unknown
	c := cacheOf(map[string]int{"A->C": 5})

	got := OrderNearest(stops, c)

	assert.Equal(t, []string{"a", "c", "b", "d"}, ids(got))
}

func TestOrderNearestTieKeepsEarliestIndex(t *testing.T) {
	day := "2026-03-02"
	stops := []model.Stop{
		tstop("a", day, 480, model.FlexFlexible, model.SlotMorning, "A"),
		tstop("b", day, 540, model.FlexFlexible, model.SlotMorning, "B"),
		tstop("c", day, 600, model.FlexFlexible, model.SlotMorning, "C"),
	}
	c := cacheOf(map[string]int{"A->B": 5, "A->C": 5, "B->C": 7})

	got := OrderNearest(stops, c)

	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
}

func TestImprove2OptUncrossesTour(t *testing.T) {
	day := "2026-03-02"
	tour := []model.Stop{
		tstop("a", day, 480, model.FlexFlexible, model.SlotMorning, "A"),
		tstop("b", day, 540, model.FlexFlexible, model.SlotMorning, "B"),
		tstop("c", day, 600, model.FlexFlexible, model.SlotMorning, "C"),
		tstop("d", day, 660, model.FlexFlexible, model.SlotMorning, "D"),
	}
	c := cacheOf(map[string]int{
		"A->B": 10, "B->C": 10, "C->D": 10,
		"A->C": 1, "C->B": 1, "B->D": 1,
	})

	got := Improve2Opt(tour, c, 2)

	require.Equal(t, []string{"a", "c", "b", "d"}, ids(got))
	minutes, ok := pathMinutes(got, c)
	require.True(t, ok)
	assert.Equal(t, 3, minutes)
}

func TestImprove2OptSkipsToursWithUnknownEdges(t *testing.T) {
	day := "2026-03-02"
	tour := []model.Stop{
		tstop("a", day, 480, model.FlexFlexible, model.SlotMorning, "A"),
		tstop("b", day, 540, model.FlexFlexible, model.SlotMorning, "B"),
		tstop("c", day, 600, model.FlexFlexible, model.SlotMorning, "C"),
		tstop("d", day, 660, model.FlexFlexible, model.SlotMorning, "D"),
	}
	// C->D is unknown, so the tour cost cannot be compared
	c := cacheOf(map[string]int{
		"A->B": 10, "B->C": 10,
		"A->C": 1, "C->B": 1, "B->D": 1,
	})

	got := Improve2Opt(tour, c, 2)

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(got))
}
