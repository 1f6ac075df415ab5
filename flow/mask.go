package flow

import (
	"math/rand"

	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/blas32/vector"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// MaskedLinear is a linear layer whose weight is gated by an
// autoregressive dependency mask derived from a permutation matrix.
//
// Input and output widths are block-expanded multiples of Dim, the
// variable count: input unit c belongs to variable c/(in/Dim) and output
// unit r to variable r/(out/Dim). Output blocks may only read input
// blocks whose variable sits strictly earlier under the permutation
// (or earlier-or-equal when AutoConnection is set).
//
// The mask is recomputed whenever the supplied permutation differs from
// the previous call and is multiplied into the weight at every forward
// pass; the stored weight itself is never zeroed.
type MaskedLinear struct {
	InFeatures  int
	OutFeatures int
	Dim         int

	// AutoConnection lets a variable's output block see its own input
	// block, which is what hidden-to-hidden layers need.
	AutoConnection bool

	W blas32.General
	B blas32.Vector

	ltri     blas32.General
	mask     blas32.General
	lastPerm blas32.General
	hasMask  bool
}

func NewMaskedLinear(inFeatures, outFeatures, dim int, autoConnection bool, rng *rand.Rand) (*MaskedLinear, error) {
	if dim <= 0 {
		return nil, oslow.NewConfigurationError("dim", "must be positive, got %d", dim)
	}
	if inFeatures <= 0 || inFeatures%dim != 0 {
		return nil, oslow.NewConfigurationError("in_features", "%d is not a positive multiple of dim=%d", inFeatures, dim)
	}
	if outFeatures <= 0 || outFeatures%dim != 0 {
		return nil, oslow.NewConfigurationError("out_features", "%d is not a positive multiple of dim=%d", outFeatures, dim)
	}
	return &MaskedLinear{
		InFeatures:     inFeatures,
		OutFeatures:    outFeatures,
		Dim:            dim,
		AutoConnection: autoConnection,
		W:              matrix.NewHe(outFeatures, inFeatures, rng),
		B:              vector.NewZeros(outFeatures),
		ltri:           matrix.NewLowerTriangularOnes(dim, !autoConnection),
	}, nil
}

// dependency computes D = Pᵀ L P, the variable-level dependency matrix:
// D[v,u] > 0 iff variable v may read variable u under the permutation.
// For a nil permutation the canonical ordering is used and D = L.
func (m *MaskedLinear) dependency(perm *blas32.General) blas32.General {
	if perm == nil {
		return matrix.Clone(m.ltri)
	}
	lp := matrix.Dot(blas.NoTrans, blas.NoTrans, m.ltri, *perm)
	return matrix.Dot(blas.Trans, blas.NoTrans, *perm, lp)
}

func (m *MaskedLinear) rebuildMask(perm *blas32.General) {
	if m.hasMask {
		if perm == nil && m.lastPerm.Rows == 0 {
			return
		}
		if perm != nil && m.lastPerm.Rows != 0 && matrix.Equal(*perm, m.lastPerm) {
			return
		}
	}

	dep := m.dependency(perm)
	outPer := m.OutFeatures / m.Dim
	inPer := m.InFeatures / m.Dim
	mask := matrix.NewZeros(m.OutFeatures, m.InFeatures)
	for r := 0; r < m.OutFeatures; r++ {
		for c := 0; c < m.InFeatures; c++ {
			mask.Data[matrix.At(mask, r, c)] = dep.Data[matrix.At(dep, r/outPer, c/inPer)]
		}
	}
	m.mask = mask
	if perm == nil {
		m.lastPerm = blas32.General{}
	} else {
		m.lastPerm = matrix.Clone(*perm)
	}
	m.hasMask = true
}

// Mask exposes the current dependency mask for inspection and tests.
func (m *MaskedLinear) Mask(perm *blas32.General) blas32.General {
	m.rebuildMask(perm)
	return matrix.Clone(m.mask)
}

func (m *MaskedLinear) Forward(x blas32.Vector, perm *blas32.General) (blas32.Vector, Backward, error) {
	if x.N != m.InFeatures {
		return blas32.Vector{}, nil, oslow.NewDataContractError("batch", "sample width %d does not match in_features %d", x.N, m.InFeatures)
	}
	m.rebuildMask(perm)

	mask := m.mask
	effW := matrix.Clone(m.W)
	matrix.HadamardInPlace(effW, mask)
	y := vector.Affine(x, effW, m.B)

	var permSnap blas32.General
	if perm != nil {
		permSnap = matrix.Clone(*perm)
	}

	backward := func(chain blas32.Vector, grad *GradBuffer) (blas32.Vector, error) {
		dx := vector.NewZeros(m.InFeatures)
		blas32.Gemv(blas.Trans, 1.0, effW, chain, 0.0, dx)

		// outer = chain ⊗ x is shared by the weight and the mask grad.
		var outer blas32.General
		if grad.CollectWeights || (grad.CollectPerm && permSnap.Rows != 0) {
			outer = matrix.NewZeros(m.OutFeatures, m.InFeatures)
			blas32.Ger(1.0, chain, x, outer)
		}

		if grad.CollectWeights {
			dw := matrix.Clone(outer)
			matrix.HadamardInPlace(dw, mask)
			db := vector.Clone(chain)
			grad.Weights = append(grad.Weights, dw)
			grad.Biases = append(grad.Biases, db)
		}

		if grad.CollectPerm && permSnap.Rows != 0 {
			dMask := matrix.Clone(outer)
			matrix.HadamardInPlace(dMask, m.W)

			// Fold the unit-level mask gradient down to the d×d
			// dependency matrix, then through D = Pᵀ L P.
			outPer := m.OutFeatures / m.Dim
			inPer := m.InFeatures / m.Dim
			dDep := matrix.NewZeros(m.Dim, m.Dim)
			for r := 0; r < m.OutFeatures; r++ {
				for c := 0; c < m.InFeatures; c++ {
					dDep.Data[matrix.At(dDep, r/outPer, c/inPer)] += dMask.Data[matrix.At(dMask, r, c)]
				}
			}

			// dP = L P Gᵀ + Lᵀ P G with G the dependency gradient.
			lp := matrix.Dot(blas.NoTrans, blas.NoTrans, m.ltri, permSnap)
			dp := matrix.Dot(blas.NoTrans, blas.Trans, lp, dDep)
			ltp := matrix.Dot(blas.Trans, blas.NoTrans, m.ltri, permSnap)
			matrix.Axpy(1.0, matrix.Dot(blas.NoTrans, blas.NoTrans, ltp, dDep), dp)
			matrix.Axpy(1.0, dp, grad.Perm)
		}

		return dx, nil
	}
	return y, backward, nil
}
