package permutation

import (
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/flow"
	"gonum.org/v1/gonum/blas/blas32"
)

// relaxedSample produces one Gumbel-perturbed Sinkhorn relaxation of
// gamma together with its backward closure.
func (b *base) relaxedSample(temperature float32) (blas32.General, SinkhornBackward, error) {
	noisy := matrix.Clone(b.gamma)
	matrix.Axpy(1.0, b.noise.gumbelMatrix(b.dim, b.dim), noisy)
	return Sinkhorn(noisy, temperature, b.cfg.SinkhornIters)
}

// StraightThroughSinkhorn hardens the Sinkhorn relaxation through the
// assignment solver in the forward direction and passes the gradient
// straight through the hardening step into the soft matrix: a biased
// but low-variance estimator.
type StraightThroughSinkhorn struct {
	*base
}

func (s *StraightThroughSinkhorn) Name() string { return MethodStraightThroughSinkhorn }

func (s *StraightThroughSinkhorn) hardened(temperature float32) (blas32.General, SinkhornBackward, error) {
	soft, backward, err := s.relaxedSample(temperature)
	if err != nil {
		return blas32.General{}, nil, err
	}
	ordering, err := Assign(soft)
	if err != nil {
		return blas32.General{}, nil, err
	}
	return OrderingToMatrix(ordering), backward, nil
}

func (s *StraightThroughSinkhorn) FlowLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, *flow.GradBuffer, error) {
	hard, _, err := s.hardened(temperature)
	if err != nil {
		return 0, nil, err
	}
	return s.batchNLL(model, batch, &hard, true, false)
}

func (s *StraightThroughSinkhorn) PermutationLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, blas32.General, error) {
	hard, backward, err := s.hardened(temperature)
	if err != nil {
		return 0, blas32.General{}, err
	}
	nll, grad, err := s.batchNLL(model, batch, &hard, false, true)
	if err != nil {
		return 0, blas32.General{}, err
	}
	// Straight-through: treat d(loss)/d(hard) as d(loss)/d(soft).
	return nll, backward(grad.Perm), nil
}

// SoftSinkhorn feeds the continuous relaxation into the flow directly,
// a fully differentiable estimator whose permutation may sit strictly
// inside the Birkhoff polytope early in training.
type SoftSinkhorn struct {
	*base
}

func (s *SoftSinkhorn) Name() string { return MethodSoftSinkhorn }

func (s *SoftSinkhorn) FlowLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, *flow.GradBuffer, error) {
	soft, _, err := s.relaxedSample(temperature)
	if err != nil {
		return 0, nil, err
	}
	return s.batchNLL(model, batch, &soft, true, false)
}

func (s *SoftSinkhorn) PermutationLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, blas32.General, error) {
	soft, backward, err := s.relaxedSample(temperature)
	if err != nil {
		return 0, blas32.General{}, err
	}
	nll, grad, err := s.batchNLL(model, batch, &soft, false, true)
	if err != nil {
		return 0, blas32.General{}, err
	}
	return nll, backward(grad.Perm), nil
}
