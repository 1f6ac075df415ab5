package permutation

import (
	"math"

	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"gonum.org/v1/gonum/blas/blas32"
)

// Assign solves the maximum-weight linear assignment problem on a square
// score matrix and returns perm with perm[i] = the column matched to row
// i. Every row and column is matched exactly once, which is what makes
// the Gumbel sampler produce guaranteed-valid permutations.
//
// Shortest-augmenting-path algorithm with dual potentials, O(n³). Ties
// are broken by the first column reached, a measure-zero event under
// continuous Gumbel noise.
func Assign(scores blas32.General) ([]int, error) {
	n := scores.Rows
	if scores.Cols != n || n == 0 {
		return nil, oslow.NewConfigurationError("scores", "assignment needs a non-empty square matrix, got %d×%d", scores.Rows, scores.Cols)
	}

	// Minimize the negated score. Potentials in float64 keep the dual
	// updates stable for near-tied inputs.
	cost := func(i, j int) float64 {
		return -float64(scores.Data[matrix.At(scores, i-1, j-1)])
	}

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = math.Inf(1)
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost(i0, j) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
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
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	perm := make([]int, n)
	for j := 1; j <= n; j++ {
		perm[p[j]-1] = j - 1
	}
	return perm, nil
}

// OrderingToMatrix turns perm (position → variable) into the
// corresponding 0/1 permutation matrix with row i hot at column perm[i].
func OrderingToMatrix(perm []int) blas32.General {
	d := len(perm)
	mat := matrix.NewZeros(d, d)
	for i, j := range perm {
		mat.Data[matrix.At(mat, i, j)] = 1.0
	}
	return mat
}
