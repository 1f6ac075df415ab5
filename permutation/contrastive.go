package permutation

import (
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/flow"
	"gonum.org/v1/gonum/blas/blas32"
)

// ContrastiveDivergence updates gamma with a short-run sampling
// contrast: permutations explaining the batch better than the average
// of the current draw gain affinity mass, worse ones lose it. The
// gamma gradient is the centered-score estimator
// Σ_k (nll_k − mean) P_k / n, which needs no gradient through the flow.
type ContrastiveDivergence struct {
	*base
}

func (c *ContrastiveDivergence) Name() string { return MethodContrastiveDivergence }

func (c *ContrastiveDivergence) FlowLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, *flow.GradBuffer, error) {
	perms, err := c.SampleHardPermutations(c.cfg.NumSamples)
	if err != nil {
		return 0, nil, err
	}
	unique := uniquePermutations(perms)

	total := model.NewGradBuffer(true, false)
	var loss float32
	w := 1.0 / float32(len(unique))
	for k := range unique {
		nll, grad, err := c.batchNLL(model, batch, &unique[k], true, false)
		if err != nil {
			return 0, nil, err
		}
		loss += w * nll
		total.AxpyInPlace(w, grad)
	}
	return loss, total, nil
}

func (c *ContrastiveDivergence) PermutationLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, blas32.General, error) {
	perms, err := c.SampleHardPermutations(c.cfg.NumSamples)
	if err != nil {
		return 0, blas32.General{}, err
	}

	n := len(perms)
	nlls := make([]float32, n)
	var mean float32
	for k := range perms {
		nll, _, err := c.batchNLL(model, batch, &perms[k], false, false)
		if err != nil {
			return 0, blas32.General{}, err
		}
		nlls[k] = nll
		mean += nll
	}
	mean /= float32(n)

	dGamma := matrix.NewZeros(c.dim, c.dim)
	for k := range perms {
		matrix.Axpy((nlls[k]-mean)/float32(n), perms[k], dGamma)
	}
	return mean, dGamma, nil
}
