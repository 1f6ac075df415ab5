package flow

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/sw965/oslow/blas32/vector"
	"gonum.org/v1/gonum/blas/blas32"
)

// AffineTransform is an invertible map between data space and latent
// space with autoregressive scale s and shift t produced by a masked
// network. The forward direction (data → latent) needs one network
// evaluation; the inverse needs Dim sequential refinement passes.
//
// The scale is used directly as a log-scale exponent without clamping;
// large |s| overflows. The density model surfaces that condition instead
// of defending against it.
type AffineTransform struct {
	Dim      int
	Additive bool
	Made     *MaskedMLP
}

type TransformConfig struct {
	Dim            int
	Hidden         []int
	Additive       bool
	Activation     string
	LeakyReLUAlpha float32
}

func NewAffineTransform(cfg TransformConfig, rng *rand.Rand) (*AffineTransform, error) {
	outPerDim := 2
	if cfg.Additive {
		outPerDim = 1
	}
	made, err := NewMaskedMLP(MLPConfig{
		Dim:            cfg.Dim,
		Hidden:         cfg.Hidden,
		OutPerDim:      outPerDim,
		Activation:     cfg.Activation,
		LeakyReLUAlpha: cfg.LeakyReLUAlpha,
	}, rng)
	if err != nil {
		return nil, err
	}
	return &AffineTransform{Dim: cfg.Dim, Additive: cfg.Additive, Made: made}, nil
}

// splitScaleShift splits the network output into s and t. Variable i's
// output block is (s_i, t_i); in the additive variant s ≡ 0.
func (tr *AffineTransform) splitScaleShift(y blas32.Vector) (s, t []float32) {
	if tr.Additive {
		return make([]float32, tr.Dim), y.Data
	}
	s = make([]float32, tr.Dim)
	t = make([]float32, tr.Dim)
	for i := 0; i < tr.Dim; i++ {
		s[i] = y.Data[2*i]
		t[i] = y.Data[2*i+1]
	}
	return s, t
}

// AffineBackward propagates a gradient on (z, logabsdet) back to the
// input, collecting parameter and permutation gradients on the way.
type AffineBackward func(chainZ blas32.Vector, chainLogDet float32, grad *GradBuffer) (blas32.Vector, error)

// Forward maps x to z = (x − t)·e^{−s} with logabsdet = −Σs.
func (tr *AffineTransform) Forward(x blas32.Vector, perm *blas32.General) (blas32.Vector, float32, AffineBackward, error) {
	y, madeBackwards, err := tr.Made.Forward(x, perm)
	if err != nil {
		return blas32.Vector{}, 0, nil, err
	}
	s, t := tr.splitScaleShift(y)

	z := vector.NewZeros(tr.Dim)
	var logabsdet float32
	for i := 0; i < tr.Dim; i++ {
		z.Data[i] = (x.Data[i] - t[i]) * math32.Exp(-s[i])
		logabsdet -= s[i]
	}

	backward := func(chainZ blas32.Vector, chainLogDet float32, grad *GradBuffer) (blas32.Vector, error) {
		dy := vector.NewZeros(y.N)
		dxDirect := make([]float32, tr.Dim)
		for i := 0; i < tr.Dim; i++ {
			expNegS := math32.Exp(-s[i])
			dt := -chainZ.Data[i] * expNegS
			dxDirect[i] = chainZ.Data[i] * expNegS
			if tr.Additive {
				dy.Data[i] = dt
			} else {
				ds := -chainZ.Data[i]*z.Data[i] - chainLogDet
				dy.Data[2*i] = ds
				dy.Data[2*i+1] = dt
			}
		}
		dx, err := madeBackwards.Propagate(dy, grad)
		if err != nil {
			return blas32.Vector{}, err
		}
		for i := 0; i < tr.Dim; i++ {
			dx.Data[i] += dxDirect[i]
		}
		return dx, nil
	}
	return z, logabsdet, backward, nil
}

// Inverse recovers x from z by Dim refinement passes. Each pass resolves
// at least one more dimension in permutation order, so after Dim passes
// x = e^{s}·z + t holds at every position and logabsdet = Σs.
func (tr *AffineTransform) Inverse(z blas32.Vector, perm *blas32.General) (blas32.Vector, float32, error) {
	x := vector.NewZeros(tr.Dim)
	var logabsdet float32
	for pass := 0; pass < tr.Dim; pass++ {
		y, _, err := tr.Made.Forward(x, perm)
		if err != nil {
			return blas32.Vector{}, 0, err
		}
		s, t := tr.splitScaleShift(y)
		next := vector.NewZeros(tr.Dim)
		logabsdet = 0
		for i := 0; i < tr.Dim; i++ {
			next.Data[i] = math32.Exp(s[i])*z.Data[i] + t[i]
			logabsdet += s[i]
		}
		x = next
	}
	return x, logabsdet, nil
}
