package permutation

import (
	"fmt"

	"github.com/sw965/omw/parallel"
	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/flow"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	MethodGumbelTopK              = "gumbel-top-k"
	MethodStraightThroughSinkhorn = "straight-through-sinkhorn"
	MethodSoftSinkhorn            = "soft-sinkhorn"
	MethodSoftSort                = "soft-sort"
	MethodContrastiveDivergence   = "contrastive-divergence"
)

var MethodNames = []string{
	MethodGumbelTopK,
	MethodStraightThroughSinkhorn,
	MethodSoftSinkhorn,
	MethodSoftSort,
	MethodContrastiveDivergence,
}

// Method is the shared contract of every permutation learning variant:
// it owns the affinity matrix gamma, samples valid hard permutations,
// and computes one loss per training phase. PermutationLearningLoss
// returns the gradient for gamma with the flow frozen;
// FlowLearningLoss returns the gradient for the flow with gamma frozen.
type Method interface {
	Name() string
	Gamma() blas32.General
	SampleHardPermutations(n int) ([]blas32.General, error)
	PermutationWithoutNoise() ([]int, error)
	PermutationLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, blas32.General, error)
	FlowLearningLoss(model *flow.OSlow, batch []blas32.Vector, temperature float32) (float32, *flow.GradBuffer, error)
}

type Config struct {
	Method string
	Dim    int
	// NumSamples is the number of hard permutations drawn per loss
	// evaluation by the sampling-based variants.
	NumSamples    int
	SinkhornIters int
	// Parallel fans per-sample backprop out over this many goroutines.
	Parallel int
	Seed     uint64
}

func (c *Config) validate() error {
	if c.Dim <= 0 {
		return oslow.NewConfigurationError("dim", "must be positive, got %d", c.Dim)
	}
	if c.NumSamples <= 0 {
		c.NumSamples = 32
	}
	if c.SinkhornIters <= 0 {
		c.SinkhornIters = 20
	}
	if c.Parallel <= 0 {
		c.Parallel = 1
	}
	return nil
}

// New constructs the variant selected by cfg.Method. Unknown names fail
// with a ConfigurationError enumerating the valid ones.
func New(cfg Config) (Method, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := newBase(cfg)
	switch cfg.Method {
	case MethodGumbelTopK:
		return &GumbelTopK{base: b}, nil
	case MethodStraightThroughSinkhorn:
		return &StraightThroughSinkhorn{base: b}, nil
	case MethodSoftSinkhorn:
		return &SoftSinkhorn{base: b}, nil
	case MethodSoftSort:
		return &SoftSortMethod{base: b}, nil
	case MethodContrastiveDivergence:
		return &ContrastiveDivergence{base: b}, nil
	}
	return nil, &oslow.ConfigurationError{
		Field:  "method",
		Reason: fmt.Sprintf("unknown permutation learning method %q", cfg.Method),
		Valid:  MethodNames,
	}
}

// base carries the state shared by all variants: the learnable affinity
// matrix and the noise source. gamma is mutated only by the permutation
// optimizer.
type base struct {
	cfg   Config
	dim   int
	gamma blas32.General
	noise *noiseSource
}

func newBase(cfg Config) *base {
	ns := newNoiseSource(cfg.Seed)
	return &base{
		cfg:   cfg,
		dim:   cfg.Dim,
		gamma: ns.normalMatrix(cfg.Dim, cfg.Dim),
		noise: ns,
	}
}

func (b *base) Gamma() blas32.General {
	return b.gamma
}

// SampleHardPermutations perturbs gamma with Gumbel noise and solves the
// assignment problem per draw, so every returned matrix is an exact
// permutation no matter how soft the relaxation elsewhere is.
func (b *base) SampleHardPermutations(n int) ([]blas32.General, error) {
	perms := make([]blas32.General, n)
	for k := 0; k < n; k++ {
		noisy := matrix.Clone(b.gamma)
		matrix.Axpy(1.0, b.noise.gumbelMatrix(b.dim, b.dim), noisy)
		ordering, err := Assign(noisy)
		if err != nil {
			return nil, err
		}
		perms[k] = OrderingToMatrix(ordering)
	}
	return perms, nil
}

// PermutationWithoutNoise is the arg-max assignment of gamma with zero
// injected noise, for diagnostics and evaluation only.
func (b *base) PermutationWithoutNoise() ([]int, error) {
	return Assign(b.gamma)
}

// batchNLL evaluates the mean negative log-likelihood of the batch under
// one permutation matrix. When either collect flag is set, the matching
// gradients are accumulated into the returned buffer (already averaged
// over the batch); otherwise only the forward pass runs.
//
// Per-sample work fans out over cfg.Parallel goroutines.
func (b *base) batchNLL(model *flow.OSlow, batch []blas32.Vector, perm *blas32.General, collectWeights, collectPerm bool) (float32, *flow.GradBuffer, error) {
	n := len(batch)
	if n == 0 {
		return 0, nil, oslow.NewDataContractError("dataloader", "empty batch")
	}

	p := b.cfg.Parallel
	if p > n-1 {
		p = n - 1
	}
	if p < 1 {
		p = 1
	}
	needGrad := collectWeights || collectPerm

	evalOne := func(x blas32.Vector, grad *flow.GradBuffer) (float32, error) {
		lp, backward, err := model.LogProb(x, perm)
		if err != nil {
			return 0, err
		}
		if needGrad {
			sampleGrad := model.NewGradBuffer(collectWeights, collectPerm)
			if err := backward(-1.0, sampleGrad); err != nil {
				return 0, err
			}
			grad.AxpyInPlace(1.0, sampleGrad)
		}
		return -lp, nil
	}

	// The first sample runs serially so the layer masks are already
	// built for this permutation before the workers start; afterwards
	// every worker only reads them.
	total := model.NewGradBuffer(collectWeights, collectPerm)
	loss, err := evalOne(batch[0], total)
	if err != nil {
		return 0, nil, err
	}
	if n == 1 {
		if !needGrad {
			return loss, nil, nil
		}
		return loss, total, nil
	}

	losses := make([]float32, p)
	grads := make([]*flow.GradBuffer, p)
	for i := range grads {
		grads[i] = model.NewGradBuffer(collectWeights, collectPerm)
	}

	errCh := make(chan error, p)
	worker := func(workerIdx int, idxs []int) {
		for _, idx := range idxs {
			l, err := evalOne(batch[idx+1], grads[workerIdx])
			if err != nil {
				errCh <- err
				return
			}
			losses[workerIdx] += l
		}
		errCh <- nil
	}

	for workerIdx, idxs := range parallel.DistributeIndicesEvenly(n-1, p) {
		go worker(workerIdx, idxs)
	}
	for i := 0; i < p; i++ {
		if err := <-errCh; err != nil {
			return 0, nil, err
		}
	}

	for i := range losses {
		loss += losses[i]
		total.AxpyInPlace(1.0, grads[i])
	}
	loss /= float32(n)
	total.ScalInPlace(1.0 / float32(n))
	if !needGrad {
		total = nil
	}
	return loss, total, nil
}

// uniquePermutations deduplicates hard permutation matrices so each
// distinct ordering is likelihood-evaluated once.
func uniquePermutations(perms []blas32.General) []blas32.General {
	seen := make(map[string]bool, len(perms))
	unique := make([]blas32.General, 0, len(perms))
	for _, p := range perms {
		key := fmt.Sprint(matrix.ArgmaxPerRow(p))
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, p)
	}
	return unique
}
