package tracking

import (
	"math"
	"sort"

	"github.com/banshee-data/precog/internal/geom"
)

// match pairs one observation with one track.
type match struct {
	obsIdx  int
	trackID int64
	dist    float64
}

// associate returns the observation/track pairs for this frame. ids must be
// sorted ascending; both policies rely on that order for determinism.
func (m *Manager) associate(obs []Observation, ids []int64) []match {
	if len(obs) == 0 || len(ids) == 0 {
		return nil
	}
	if m.cfg.Association == AssociateHungarian {
		return m.associateHungarian(obs, ids)
	}
	return m.associateGreedy(obs, ids)
}

// associateGreedy repeatedly takes the closest remaining gated pair. Equal
// distances go to the lowest track id, then the lowest observation index.
func (m *Manager) associateGreedy(obs []Observation, ids []int64) []match {
	candidates := make([]match, 0, len(obs))
	for oi, o := range obs {
		for _, id := range ids {
			d := geom.Distance(o.Centroid, m.tracks[id].Position())
			if d <= m.cfg.GatingDistance {
				candidates = append(candidates, match{obsIdx: oi, trackID: id, dist: d})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if a.trackID != b.trackID {
			return a.trackID < b.trackID
		}
		return a.obsIdx < b.obsIdx
	})

	usedObs := make(map[int]bool, len(obs))
	usedTrack := make(map[int64]bool, len(ids))
	var out []match
	for _, c := range candidates {
		if usedObs[c.obsIdx] || usedTrack[c.trackID] {
			continue
		}
		usedObs[c.obsIdx] = true
		usedTrack[c.trackID] = true
		out = append(out, c)
	}
	return out
}

// associateHungarian minimises the summed distance over gated pairs.
func (m *Manager) associateHungarian(obs []Observation, ids []int64) []match {
	cost := make([][]float64, len(obs))
	for oi, o := range obs {
		cost[oi] = make([]float64, len(ids))
		for tj, id := range ids {
			d := geom.Distance(o.Centroid, m.tracks[id].Position())
			if d > m.cfg.GatingDistance {
				cost[oi][tj] = gatedOut
			} else {
				cost[oi][tj] = d
			}
		}
	}

	var out []match
	for oi, tj := range solveAssignment(cost) {
		if tj < 0 {
			continue
		}
		out = append(out, match{obsIdx: oi, trackID: ids[tj], dist: cost[oi][tj]})
	}
	return out
}

// gatedOut marks a pair outside the gate in a cost matrix.
var gatedOut = math.Inf(1)

// solveAssignment is the Kuhn–Munkres algorithm with row/column potentials
// on an n×m cost matrix of non-negative costs. It returns, per row, the
// assigned column or -1; gatedOut pairs are never returned.
//
// The matrix is padded to square with zero-cost dummy cells, so rows or
// columns left over fall onto dummies for free. Gated-out cells cost more
// than any complete set of real pairs, which makes the solver prefer the
// largest gated matching and, among those, the cheapest.
func solveAssignment(cost [][]float64) []int {
	rows := len(cost)
	if rows == 0 {
		return nil
	}
	cols := len(cost[0])
	result := make([]int, rows)
	for i := range result {
		result[i] = -1
	}
	if cols == 0 {
		return result
	}

	n := rows
	if cols > n {
		n = cols
	}
	maxCost := 0.0
	for _, row := range cost {
		for _, c := range row {
			if !math.IsInf(c, 1) && c > maxCost {
				maxCost = c
			}
		}
	}
	blocked := (maxCost+1)*float64(n) + 1
	at := func(i, j int) float64 {
		if i >= rows || j >= cols {
			return 0
		}
		if math.IsInf(cost[i][j], 1) {
			return blocked
		}
		return cost[i][j]
	}

	const inf = math.MaxFloat64 / 2
	rowPot := make([]float64, n+1)
	colPot := make([]float64, n+1)
	owner := make([]int, n+1) // owner[j]: row matched to column j (1-based, 0 = none)
	prev := make([]int, n+1)  // previous column on the augmenting path
	slack := make([]float64, n+1)
	visited := make([]bool, n+1)

	for r := 1; r <= n; r++ {
		owner[0] = r
		col := 0
		for j := 1; j <= n; j++ {
			slack[j] = inf
			visited[j] = false
		}

		for {
			visited[col] = true
			row := owner[col]
			delta := inf
			next := -1
			for j := 1; j <= n; j++ {
				if visited[j] {
					continue
				}
				reduced := at(row-1, j-1) - rowPot[row] - colPot[j]
				if reduced < slack[j] {
					slack[j] = reduced
					prev[j] = col
				}
				if slack[j] < delta {
					delta = slack[j]
					next = j
				}
			}
			if next < 0 {
				break
			}
			for j := 0; j <= n; j++ {
				if visited[j] {
					rowPot[owner[j]] += delta
					colPot[j] -= delta
				} else {
					slack[j] -= delta
				}
			}
			col = next
			if owner[col] == 0 {
				break
			}
		}

		for col != 0 {
			owner[col] = owner[prev[col]]
			col = prev[col]
		}
	}

	for j := 1; j <= n; j++ {
		r := owner[j] - 1
		c := j - 1
		if r < 0 || r >= rows || c >= cols {
			continue
		}
		if math.IsInf(cost[r][c], 1) {
			continue
		}
		result[r] = c
	}
	return result
}
