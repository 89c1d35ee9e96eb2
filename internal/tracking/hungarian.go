package tracking

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// forbiddenCost marks a track/centroid pair that must never be assigned.
var forbiddenCost = math.Inf(1)

// hungarianAssign solves the rectangular assignment problem for an r×c cost
// matrix using Kuhn-Munkres with row and column potentials. It returns
// assignments[i] = column assigned to row i, or -1 if the row is unassigned
// or only reachable through a forbidden cell. Among assignments it prefers
// the most allowed pairs, then the lowest total cost. Runs in O(n³) for
// n = max(r, c).
func hungarianAssign(cost *mat.Dense) []int {
	rows, cols := cost.Dims()
	if rows == 0 {
		return nil
	}

	dim := rows
	if cols > dim {
		dim = cols
	}

	// Forbidden and padded cells cost more than any dim allowed cells
	// together, so one fewer forbidden cell always lowers the total. The
	// penalty stays on the scale of the real costs to keep the potentials
	// precise.
	var maxAllowed float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := cost.At(i, j); !isForbidden(v) && math.Abs(v) > maxAllowed {
				maxAllowed = math.Abs(v)
			}
		}
	}
	penalty := maxAllowed*float64(2*dim) + 1

	c := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			if i < rows && j < cols && !isForbidden(cost.At(i, j)) {
				c.Set(i, j, cost.At(i, j))
			} else {
				c.Set(i, j, penalty)
			}
		}
	}

	const inf = math.MaxFloat64 / 2

	// 1-indexed; index 0 is the virtual column.
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)   // p[j] = row assigned to column j
	way := make([]int, dim+1) // previous column on the augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c.At(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 {
			rowAssign[p[j]-1] = j - 1
		}
	}

	result := make([]int, rows)
	for i := 0; i < rows; i++ {
		col := rowAssign[i]
		if col < 0 || col >= cols || isForbidden(cost.At(i, col)) {
			result[i] = -1
		} else {
			result[i] = col
		}
	}
	return result
}

func isForbidden(v float64) bool {
	return math.IsInf(v, 1) || math.IsNaN(v)
}
