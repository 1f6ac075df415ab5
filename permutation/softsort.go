package permutation

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"gonum.org/v1/gonum/blas/blas32"
)

// SoftSortBackward maps a gradient on the relaxed permutation matrix
// back to a gradient on the score vector.
type SoftSortBackward func(dP blas32.General) []float32

// SoftSort builds a row-stochastic relaxation of the permutation that
// sorts scores in decreasing order: row i is a softmax over
// −|sorted_i − s_j|/τ, peaking at the variable holding rank i. The sort
// permutation is treated as constant in the backward pass (it is
// piecewise constant in the scores).
func SoftSort(scores []float32, temperature float32) (blas32.General, SoftSortBackward, error) {
	d := len(scores)
	if d == 0 {
		return blas32.General{}, nil, oslow.NewConfigurationError("scores", "soft-sort needs a non-empty score vector")
	}
	if temperature <= 0 {
		return blas32.General{}, nil, oslow.NewConfigurationError("temperature", "must be positive, got %v", temperature)
	}

	order := make([]int, d)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	p := matrix.NewZeros(d, d)
	for i := 0; i < d; i++ {
		si := scores[order[i]]
		var maxA float32 = math32.Inf(-1)
		row := make([]float32, d)
		for j := 0; j < d; j++ {
			row[j] = -math32.Abs(si-scores[j]) / temperature
			if row[j] > maxA {
				maxA = row[j]
			}
		}
		var sum float32
		for j := 0; j < d; j++ {
			row[j] = math32.Exp(row[j] - maxA) // オーバーフロー対策
			sum += row[j]
		}
		for j := 0; j < d; j++ {
			p.Data[matrix.At(p, i, j)] = row[j] / sum
		}
	}

	backward := func(dP blas32.General) []float32 {
		ds := make([]float32, d)
		for i := 0; i < d; i++ {
			si := scores[order[i]]

			var dot float32
			for k := 0; k < d; k++ {
				dot += dP.Data[matrix.At(dP, i, k)] * p.Data[matrix.At(p, i, k)]
			}
			for j := 0; j < d; j++ {
				pij := p.Data[matrix.At(p, i, j)]
				dA := pij * (dP.Data[matrix.At(dP, i, j)] - dot)

				diff := si - scores[j]
				var sgn float32
				if diff > 0 {
					sgn = 1
				} else if diff < 0 {
					sgn = -1
				}
				ds[j] += dA * sgn / temperature
				ds[order[i]] -= dA * sgn / temperature
			}
		}
		return ds
	}

	return p, backward, nil
}
