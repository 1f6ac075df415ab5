package permutation

import (
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/flow"
	"gonum.org/v1/gonum/blas/blas32"
)

// SoftSortMethod relaxes the ordering with a differentiable sort of
// gamma's row scores instead of Sinkhorn iteration.
type SoftSortMethod struct {
	*base
}

func (s *SoftSortMethod) Name() string { return MethodSoftSort }

// rowScores reduces gamma to one score per position: the row mean.
func (s *SoftSortMethod) rowScores() []float32 {
	sums := matrix.RowSums(s.gamma)
	for i := range sums {
		sums[i] /= float32(s.dim)
	}
	return sums
}

func (s *SoftSortMethod) relaxed(temperature float32) (blas32.General, SoftSortBackward, error) {
	return SoftSort(s.rowScores(), temperature)
}

func (s *SoftSortMethod) FlowLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, *flow.GradBuffer, error) {
	soft, _, err := s.relaxed(temperature)
	if err != nil {
		return 0, nil, err
	}
	return s.batchNLL(model, batch, &soft, true, false)
}

func (s *SoftSortMethod) PermutationLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, blas32.General, error) {
	soft, backward, err := s.relaxed(temperature)
	if err != nil {
		return 0, blas32.General{}, err
	}
	nll, grad, err := s.batchNLL(model, batch, &soft, false, true)
	if err != nil {
		return 0, blas32.General{}, err
	}

	ds := backward(grad.Perm)
	dGamma := matrix.NewZeros(s.dim, s.dim)
	for i := 0; i < s.dim; i++ {
		g := ds[i] / float32(s.dim)
		for j := 0; j < s.dim; j++ {
			dGamma.Data[matrix.At(dGamma, i, j)] = g
		}
	}
	return nll, dGamma, nil
}
