package permutation

import (
	"github.com/chewxy/math32"
	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"gonum.org/v1/gonum/blas/blas32"
)

// SinkhornBackward maps a gradient on the doubly-stochastic output back
// to a gradient on the input logits.
type SinkhornBackward func(dOut blas32.General) blas32.General

// Sinkhorn divides the logits by the temperature, exponentiates, and
// alternates row and column normalization for the given number of
// iterations, producing an approximately doubly-stochastic matrix. Lower
// temperatures sharpen the result toward a hard permutation; higher
// temperatures flatten it toward uniform.
//
// The returned closure backpropagates through every normalization step,
// so relaxed permutations can carry gradients into the affinity matrix.
func Sinkhorn(logits blas32.General, temperature float32, iters int) (blas32.General, SinkhornBackward, error) {
	if logits.Rows != logits.Cols || logits.Rows == 0 {
		return blas32.General{}, nil, oslow.NewConfigurationError("logits", "sinkhorn needs a non-empty square matrix, got %d×%d", logits.Rows, logits.Cols)
	}
	if temperature <= 0 {
		return blas32.General{}, nil, oslow.NewConfigurationError("temperature", "must be positive, got %v", temperature)
	}
	if iters <= 0 {
		return blas32.General{}, nil, oslow.NewConfigurationError("iters", "must be positive, got %d", iters)
	}

	d := logits.Rows
	cur := matrix.NewZeros(d, d)
	for i := range cur.Data {
		cur.Data[i] = math32.Exp(logits.Data[i] / temperature)
	}
	expOut := matrix.Clone(cur)

	type stage struct {
		rowOut  blas32.General
		rowSums []float32
		colOut  blas32.General
		colSums []float32
	}
	stages := make([]stage, iters)

	for it := 0; it < iters; it++ {
		rowSums := matrix.RowSums(cur)
		rowOut := matrix.NewZeros(d, d)
		for r := 0; r < d; r++ {
			for c := 0; c < d; c++ {
				rowOut.Data[matrix.At(rowOut, r, c)] = cur.Data[matrix.At(cur, r, c)] / rowSums[r]
			}
		}

		colSums := matrix.ColSums(rowOut)
		colOut := matrix.NewZeros(d, d)
		for r := 0; r < d; r++ {
			for c := 0; c < d; c++ {
				colOut.Data[matrix.At(colOut, r, c)] = rowOut.Data[matrix.At(rowOut, r, c)] / colSums[c]
			}
		}

		stages[it] = stage{rowOut: rowOut, rowSums: rowSums, colOut: colOut, colSums: colSums}
		cur = colOut
	}

	backward := func(dOut blas32.General) blas32.General {
		d2 := matrix.Clone(dOut)
		for it := iters - 1; it >= 0; it-- {
			st := stages[it]

			// Column normalization: C[r,c] = B[r,c]/cs_c.
			dB := matrix.NewZeros(d, d)
			for c := 0; c < d; c++ {
				var dot float32
				for r := 0; r < d; r++ {
					dot += d2.Data[matrix.At(d2, r, c)] * st.colOut.Data[matrix.At(st.colOut, r, c)]
				}
				for r := 0; r < d; r++ {
					idx := matrix.At(dB, r, c)
					dB.Data[idx] = (d2.Data[matrix.At(d2, r, c)] - dot) / st.colSums[c]
				}
			}

			// Row normalization: B[r,c] = A[r,c]/rs_r.
			dA := matrix.NewZeros(d, d)
			for r := 0; r < d; r++ {
				var dot float32
				for c := 0; c < d; c++ {
					dot += dB.Data[matrix.At(dB, r, c)] * st.rowOut.Data[matrix.At(st.rowOut, r, c)]
				}
				for c := 0; c < d; c++ {
					idx := matrix.At(dA, r, c)
					dA.Data[idx] = (dB.Data[matrix.At(dB, r, c)] - dot) / st.rowSums[r]
				}
			}

			d2 = dA
		}

		dLogits := matrix.NewZeros(d, d)
		for i := range dLogits.Data {
			dLogits.Data[i] = d2.Data[i] * expOut.Data[i] / temperature
		}
		return dLogits
	}

	return matrix.Clone(cur), backward, nil
}
