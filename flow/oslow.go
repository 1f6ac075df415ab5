package flow

import (
	"log/slog"
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/sw965/oslow"
	"gonum.org/v1/gonum/blas/blas32"
)

const halfLog2Pi = 0.91893853320467274178

// Config describes an OSlow density model: a stack of masked affine
// transforms over a standard-Gaussian base density.
type Config struct {
	InFeatures     int
	NumTransforms  int
	Hidden         []int
	Additive       bool
	Activation     string
	LeakyReLUAlpha float32
}

func (c *Config) validate() error {
	if c.InFeatures <= 0 {
		return oslow.NewConfigurationError("in_features", "must be positive, got %d", c.InFeatures)
	}
	if c.NumTransforms <= 0 {
		c.NumTransforms = 1
	}
	return nil
}

// OSlow exposes the ordering-conditioned log-likelihood
// log p(x | permutation) used by both training phases.
type OSlow struct {
	InFeatures int
	Transforms []*AffineTransform
	Logger     *slog.Logger
}

func New(cfg Config, rng *rand.Rand) (*OSlow, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	transforms := make([]*AffineTransform, 0, cfg.NumTransforms)
	for i := 0; i < cfg.NumTransforms; i++ {
		tr, err := NewAffineTransform(TransformConfig{
			Dim:            cfg.InFeatures,
			Hidden:         cfg.Hidden,
			Additive:       cfg.Additive,
			Activation:     cfg.Activation,
			LeakyReLUAlpha: cfg.LeakyReLUAlpha,
		}, rng)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, tr)
	}
	return &OSlow{
		InFeatures: cfg.InFeatures,
		Transforms: transforms,
		Logger:     slog.Default(),
	}, nil
}

// LogProbBackward propagates d(loss)/d(logprob) into the buffer.
type LogProbBackward func(chain float32, grad *GradBuffer) error

// LogProb returns the per-sample log-likelihood of x under the given
// permutation matrix (nil means the canonical identity ordering),
// together with a backward closure.
//
// A non-finite result, the observable face of the unclamped exponential
// scale, is logged at Warn level and returned as-is.
func (m *OSlow) LogProb(x blas32.Vector, perm *blas32.General) (float32, LogProbBackward, error) {
	z := x
	backwards := make([]AffineBackward, len(m.Transforms))
	var logabsdet float32
	for i, tr := range m.Transforms {
		var ld float32
		var bw AffineBackward
		var err error
		z, ld, bw, err = tr.Forward(z, perm)
		if err != nil {
			return 0, nil, err
		}
		logabsdet += ld
		backwards[i] = bw
	}

	lp := logabsdet
	for _, e := range z.Data {
		lp += -0.5*e*e - halfLog2Pi
	}
	if math32.IsNaN(lp) || math32.IsInf(lp, 0) {
		m.Logger.Warn("non-finite log-probability from unclamped scale", "log_prob", lp)
	}

	zFinal := z
	backward := func(chain float32, grad *GradBuffer) error {
		dz := blas32.Vector{N: zFinal.N, Inc: 1, Data: make([]float32, zFinal.N)}
		for i, e := range zFinal.Data {
			dz.Data[i] = -e * chain
		}
		var err error
		for i := len(backwards) - 1; i >= 0; i-- {
			dz, err = backwards[i](dz, chain, grad)
			if err != nil {
				return err
			}
		}
		grad.reverseInPlace()
		return nil
	}
	return lp, backward, nil
}

// Sample maps a base-density draw z back to data space, running every
// transform's inverse in reverse stacking order. This is the slow
// direction: O(d) network evaluations per transform.
func (m *OSlow) Sample(z blas32.Vector, perm *blas32.General) (blas32.Vector, error) {
	x := z
	for i := len(m.Transforms) - 1; i >= 0; i-- {
		var err error
		x, _, err = m.Transforms[i].Inverse(x, perm)
		if err != nil {
			return blas32.Vector{}, err
		}
	}
	return x, nil
}

func (m *OSlow) FlatParams() [][]float32 {
	var flat [][]float32
	for _, tr := range m.Transforms {
		flat = append(flat, tr.Made.FlatParams()...)
	}
	return flat
}

func (m *OSlow) ReinitializeWeights(rng *rand.Rand) {
	for _, tr := range m.Transforms {
		tr.Made.ReinitializeWeights(rng)
	}
}

// NewGradBuffer builds a buffer matching this model's dimensionality.
func (m *OSlow) NewGradBuffer(collectWeights, collectPerm bool) *GradBuffer {
	return NewGradBuffer(collectWeights, collectPerm, m.InFeatures)
}
