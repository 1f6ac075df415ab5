package flow

import (
	"slices"

	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/blas32/vector"
	"gonum.org/v1/gonum/blas/blas32"
)

// GradBuffer collects the gradients produced by one backward pass.
//
// The two flags implement the alternating-phase freeze contract: a flow
// step collects weight gradients only, a permutation step collects the
// permutation-matrix gradient only. Skipped groups are never allocated,
// so "frozen" parameters cannot be touched by mistake.
type GradBuffer struct {
	CollectWeights bool
	CollectPerm    bool

	Weights []blas32.General
	Biases  []blas32.Vector
	Perm    blas32.General
}

func NewGradBuffer(collectWeights, collectPerm bool, dim int) *GradBuffer {
	g := &GradBuffer{
		CollectWeights: collectWeights,
		CollectPerm:    collectPerm,
	}
	if collectPerm {
		g.Perm = matrix.NewZeros(dim, dim)
	}
	return g
}

func (g *GradBuffer) AxpyInPlace(alpha float32, other *GradBuffer) {
	for i := range other.Weights {
		if i < len(g.Weights) {
			matrix.Axpy(alpha, other.Weights[i], g.Weights[i])
		} else {
			w := matrix.Clone(other.Weights[i])
			matrix.Scal(alpha, w)
			g.Weights = append(g.Weights, w)
		}
	}
	for i := range other.Biases {
		if i < len(g.Biases) {
			blas32.Axpy(alpha, other.Biases[i], g.Biases[i])
		} else {
			b := vector.Clone(other.Biases[i])
			blas32.Scal(alpha, b)
			g.Biases = append(g.Biases, b)
		}
	}
	if g.CollectPerm && other.CollectPerm {
		matrix.Axpy(alpha, other.Perm, g.Perm)
	}
}

func (g *GradBuffer) ScalInPlace(alpha float32) {
	for i := range g.Weights {
		matrix.Scal(alpha, g.Weights[i])
	}
	for i := range g.Biases {
		blas32.Scal(alpha, g.Biases[i])
	}
	if g.CollectPerm {
		matrix.Scal(alpha, g.Perm)
	}
}

// FlatGrads exposes the weight-group gradients in the same order as
// OSlow.FlatParams, ready for an optimizer step.
func (g *GradBuffer) FlatGrads() [][]float32 {
	flat := make([][]float32, 0, len(g.Weights)+len(g.Biases))
	for i := range g.Weights {
		flat = append(flat, g.Weights[i].Data)
		flat = append(flat, g.Biases[i].Data)
	}
	return flat
}

// reverseInPlace restores construction order after a backward pass that
// appended layer gradients output-to-input.
func (g *GradBuffer) reverseInPlace() {
	slices.Reverse(g.Weights)
	slices.Reverse(g.Biases)
}
