package vector

import (
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func NewZeros(n int) blas32.Vector {
	return blas32.Vector{
		N:    n,
		Inc:  1,
		Data: make([]float32, n),
	}
}

func NewZerosLike(vec blas32.Vector) blas32.Vector {
	return NewZeros(vec.N)
}

func FromSlice(data []float32) blas32.Vector {
	return blas32.Vector{
		N:    len(data),
		Inc:  1,
		Data: data,
	}
}

func Clone(vec blas32.Vector) blas32.Vector {
	return blas32.Vector{
		N:    vec.N,
		Inc:  vec.Inc,
		Data: slices.Clone(vec.Data),
	}
}

// Affine computes y = Wx + b for a row-major (out×in) weight matrix.
func Affine(x blas32.Vector, w blas32.General, b blas32.Vector) blas32.Vector {
	y := Clone(b)
	blas32.Gemv(blas.NoTrans, 1.0, w, x, 1.0, y)
	return y
}

func Sum(vec blas32.Vector) float32 {
	var sum float32
	for _, e := range vec.Data {
		sum += e
	}
	return sum
}
