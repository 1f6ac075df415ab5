package permutation

import (
	"github.com/sw965/oslow/blas32/matrix"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/stat/distuv"
)

// noiseSource draws the i.i.d. Gumbel(0,1) and Gaussian noise used to
// perturb the affinity matrix.
type noiseSource struct {
	gumbel distuv.GumbelRight
	normal distuv.Normal
}

func newNoiseSource(seed uint64) *noiseSource {
	src := exprand.NewSource(seed)
	return &noiseSource{
		gumbel: distuv.GumbelRight{Mu: 0, Beta: 1, Src: src},
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

func (ns *noiseSource) gumbelMatrix(rows, cols int) blas32.General {
	gen := matrix.NewZeros(rows, cols)
	for i := range gen.Data {
		gen.Data[i] = float32(ns.gumbel.Rand())
	}
	return gen
}

func (ns *noiseSource) normalMatrix(rows, cols int) blas32.General {
	gen := matrix.NewZeros(rows, cols)
	for i := range gen.Data {
		gen.Data[i] = float32(ns.normal.Rand())
	}
	return gen
}
