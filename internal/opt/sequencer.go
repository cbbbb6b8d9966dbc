// Package opt implements the route sequencer, schedule builder, and the
// tiered optimization strategy.
package opt

import (
	"sort"

	"fieldroute/internal/distance"
	"fieldroute/internal/model"
)

// OrderNearest returns the stops in greedy nearest-neighbor order. The route
// starts from the first stop in input order and repeatedly extends to the
// unvisited stop with the smallest known travel edge from the current tail;
// ties keep the earliest input index. Unknown edges count as infinite. When
// no remaining candidate has a known edge, the remainder keeps input order;
// that is a defined fallback, not an error. Sets of size <= 2 are returned
// as-is.
func OrderNearest(stops []model.Stop, c *distance.Cache) []model.Stop {
	n := len(stops)
	out := make([]model.Stop, 0, n)
	if n <= 2 {
		return append(out, stops...)
	}
	visited := make([]bool, n)
	cur := 0
	visited[0] = true
	out = append(out, stops[0])
	for len(out) < n {
		best := -1
		bestMinutes := 0
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			m, ok := c.Get(stops[cur].AddressKey, stops[i].AddressKey)
			if !ok {
				continue
			}
			if best == -1 || m < bestMinutes {
				best = i
				bestMinutes = m
			}
		}
		if best == -1 {
			// every remaining edge unknown: fall back to input order
			for i := 0; i < n; i++ {
				if !visited[i] {
					visited[i] = true
					out = append(out, stops[i])
				}
			}
			break
		}
		visited[best] = true
		out = append(out, stops[best])
		cur = best
	}
	return out
}

// Improve2Opt applies a bounded 2-opt pass over the tour. It only runs when
// every edge of the tour is known; 2-opt cannot compare tours across unknown
// edges. First and last stops stay fixed.
func Improve2Opt(stops []model.Stop, c *distance.Cache, passes int) []model.Stop {
	if passes <= 0 {
		passes = 1
	}
	n := len(stops)
	best := append([]model.Stop(nil), stops...)
	if n < 4 {
		return best
	}
	bestMinutes, ok := pathMinutes(best, c)
	if !ok {
		return best
	}
	for it := 0; it < passes; it++ {
		improved := false
		for i := 1; i < n-2; i++ {
			for k := i + 1; k < n-1; k++ {
				cand := twoOptSwap(best, i, k)
				if d, ok := pathMinutes(cand, c); ok && d < bestMinutes {
					best = cand
					bestMinutes = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func twoOptSwap(stops []model.Stop, i, k int) []model.Stop {
	out := make([]model.Stop, len(stops))
	copy(out, stops[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = stops[j]
		pos++
	}
	copy(out[pos:], stops[k+1:])
	return out
}

// pathMinutes sums the tour's travel edges; ok is false when any edge is
// unknown.
func pathMinutes(stops []model.Stop, c *distance.Cache) (int, bool) {
	total := 0
	for i := 0; i < len(stops)-1; i++ {
		m, ok := c.Get(stops[i].AddressKey, stops[i+1].AddressKey)
		if !ok {
			return 0, false
		}
		total += m
	}
	return total, true
}

// sortByStart returns the stops in current start-time order, id as
// tie-breaker so runs are deterministic.
func sortByStart(stops []model.Stop) []model.Stop {
	out := append([]model.Stop(nil), stops...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out
}
