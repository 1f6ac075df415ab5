package permutation

import (
	"github.com/chewxy/math32"
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/flow"
	"gonum.org/v1/gonum/blas/blas32"
)

// GumbelTopK draws a set of Gumbel-perturbed hard permutations and
// weights their per-permutation flow losses by Boltzmann weights
// exp⟨P, gamma⟩ over the unique draws, so repeated orderings are
// likelihood-evaluated only once.
type GumbelTopK struct {
	*base
}

func (g *GumbelTopK) Name() string { return MethodGumbelTopK }

// boltzmannWeights computes softmax over the scores ⟨P_k, gamma⟩.
func (g *GumbelTopK) boltzmannWeights(perms []blas32.General) []float32 {
	scores := make([]float32, len(perms))
	maxScore := math32.Inf(-1)
	for k, p := range perms {
		scores[k] = matrix.InnerProduct(p, g.gamma)
		if scores[k] > maxScore {
			maxScore = scores[k]
		}
	}
	var sum float32
	for k := range scores {
		scores[k] = math32.Exp(scores[k] - maxScore) // オーバーフロー対策
		sum += scores[k]
	}
	for k := range scores {
		scores[k] /= sum
	}
	return scores
}

func (g *GumbelTopK) FlowLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, *flow.GradBuffer, error) {
	perms, err := g.SampleHardPermutations(g.cfg.NumSamples)
	if err != nil {
		return 0, nil, err
	}
	unique := uniquePermutations(perms)
	weights := g.boltzmannWeights(unique)

	total := model.NewGradBuffer(true, false)
	var loss float32
	for k := range unique {
		nll, grad, err := g.batchNLL(model, batch, &unique[k], true, false)
		if err != nil {
			return 0, nil, err
		}
		loss += weights[k] * nll
		total.AxpyInPlace(weights[k], grad)
	}
	return loss, total, nil
}

func (g *GumbelTopK) PermutationLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, blas32.General, error) {
	perms, err := g.SampleHardPermutations(g.cfg.NumSamples)
	if err != nil {
		return 0, blas32.General{}, err
	}
	unique := uniquePermutations(perms)
	weights := g.boltzmannWeights(unique)

	nlls := make([]float32, len(unique))
	var loss float32
	for k := range unique {
		nll, _, err := g.batchNLL(model, batch, &unique[k], false, false)
		if err != nil {
			return 0, blas32.General{}, err
		}
		nlls[k] = nll
		loss += weights[k] * nll
	}

	// d(Σ w_k nll_k)/d(score_m) = w_m (nll_m − loss); the nll values are
	// constants here since the flow is frozen, so the gamma gradient is
	// a weighted sum of the permutation matrices themselves.
	dGamma := matrix.NewZeros(g.dim, g.dim)
	for k := range unique {
		matrix.Axpy(weights[k]*(nlls[k]-loss), unique[k], dGamma)
	}
	return loss, dGamma, nil
}
