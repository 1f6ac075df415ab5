package matrix

import (
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func NewZeros(rows, cols int) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   make([]float32, rows*cols),
	}
}

func NewZerosLike(gen blas32.General) blas32.General {
	return NewZeros(gen.Rows, gen.Cols)
}

func NewOnes(rows, cols int) blas32.General {
	gen := NewZeros(rows, cols)
	for i := range gen.Data {
		gen.Data[i] = 1.0
	}
	return gen
}

func NewEye(n int) blas32.General {
	gen := NewZeros(n, n)
	for i := 0; i < n; i++ {
		gen.Data[At(gen, i, i)] = 1.0
	}
	return gen
}

func NewHe(rows, cols int, rng *rand.Rand) blas32.General {
	gen := NewZeros(rows, cols)
	fanIn := float64(cols)
	std := math.Sqrt(2.0 / fanIn)
	for i := range gen.Data {
		gen.Data[i] = float32(rng.NormFloat64() * std)
	}
	return gen
}

func NewGaussian(rows, cols int, rng *rand.Rand) blas32.General {
	gen := NewZeros(rows, cols)
	for i := range gen.Data {
		gen.Data[i] = float32(rng.NormFloat64())
	}
	return gen
}

// NewLowerTriangularOnes builds the d×d ones matrix below the diagonal.
// With strict=false the diagonal is included.
func NewLowerTriangularOnes(d int, strict bool) blas32.General {
	gen := NewZeros(d, d)
	for i := 0; i < d; i++ {
		for j := 0; j < i; j++ {
			gen.Data[At(gen, i, j)] = 1.0
		}
		if !strict {
			gen.Data[At(gen, i, i)] = 1.0
		}
	}
	return gen
}

func N(gen blas32.General) int {
	return gen.Rows * gen.Cols
}

func At(gen blas32.General, row, col int) int {
	return row*gen.Stride + col
}

func Clone(gen blas32.General) blas32.General {
	return blas32.General{
		Rows:   gen.Rows,
		Cols:   gen.Cols,
		Stride: gen.Stride,
		Data:   slices.Clone(gen.Data),
	}
}

func ToVector(gen blas32.General) blas32.Vector {
	return blas32.Vector{
		N:    N(gen),
		Inc:  1,
		Data: gen.Data,
	}
}

func Scal(alpha float32, gen blas32.General) {
	blas32.Scal(alpha, ToVector(gen))
}

func Axpy(alpha float32, x, y blas32.General) {
	blas32.Axpy(alpha, ToVector(x), ToVector(y))
}

func HadamardInPlace(dst, m blas32.General) {
	for i := range dst.Data {
		dst.Data[i] *= m.Data[i]
	}
}

func Fill(gen blas32.General, v float32) {
	for i := range gen.Data {
		gen.Data[i] = v
	}
}

func RowSums(gen blas32.General) []float32 {
	sums := make([]float32, gen.Rows)
	for r := 0; r < gen.Rows; r++ {
		offset := r * gen.Stride
		var sum float32
		for c := 0; c < gen.Cols; c++ {
			sum += gen.Data[offset+c]
		}
		sums[r] = sum
	}
	return sums
}

func ColSums(gen blas32.General) []float32 {
	sums := make([]float32, gen.Cols)
	for c := 0; c < gen.Cols; c++ {
		var sum float32
		for r := 0; r < gen.Rows; r++ {
			sum += gen.Data[At(gen, r, c)]
		}
		sums[c] = sum
	}
	return sums
}

func Transpose(gen blas32.General) blas32.General {
	t := NewZeros(gen.Cols, gen.Rows)
	for i := 0; i < t.Rows; i++ {
		for j := 0; j < t.Cols; j++ {
			t.Data[At(t, i, j)] = gen.Data[At(gen, j, i)]
		}
	}
	return t
}

func Dot(tA, tB blas.Transpose, a, b blas32.General) blas32.General {
	aRows := a.Rows
	if tA != blas.NoTrans {
		aRows = a.Cols
	}
	bCols := b.Cols
	if tB != blas.NoTrans {
		bCols = b.Rows
	}
	y := NewZeros(aRows, bCols)
	blas32.Gemm(tA, tB, 1.0, a, b, 0.0, y)
	return y
}

// InnerProduct is the Frobenius inner product Σ a∘b.
func InnerProduct(a, b blas32.General) float32 {
	var sum float32
	for i := range a.Data {
		sum += a.Data[i] * b.Data[i]
	}
	return sum
}

func Equal(a, b blas32.General) bool {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return false
	}
	for r := 0; r < a.Rows; r++ {
		for c := 0; c < a.Cols; c++ {
			if a.Data[At(a, r, c)] != b.Data[At(b, r, c)] {
				return false
			}
		}
	}
	return true
}

// ArgmaxPerRow returns, for each row, the column index of its maximum.
func ArgmaxPerRow(gen blas32.General) []int {
	idxs := make([]int, gen.Rows)
	for r := 0; r < gen.Rows; r++ {
		best := 0
		bestV := gen.Data[At(gen, r, 0)]
		for c := 1; c < gen.Cols; c++ {
			if v := gen.Data[At(gen, r, c)]; v > bestV {
				best = c
				bestV = v
			}
		}
		idxs[r] = best
	}
	return idxs
}
