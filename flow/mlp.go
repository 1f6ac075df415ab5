package flow

import (
	"math/rand"
	"slices"

	"github.com/chewxy/math32"
	"github.com/sw965/oslow"
	"github.com/sw965/oslow/blas32/matrix"
	"github.com/sw965/oslow/blas32/vector"
	"gonum.org/v1/gonum/blas/blas32"
)

type Backward func(chain blas32.Vector, grad *GradBuffer) (blas32.Vector, error)
type Backwards []Backward

// Propagate walks the recorded closures output-to-input. Layer gradients
// are appended in reverse construction order; the caller reverses the
// buffer once the full chain (possibly spanning several transforms) has
// been walked.
func (bs Backwards) Propagate(chain blas32.Vector, grad *GradBuffer) (blas32.Vector, error) {
	var err error
	for i := len(bs) - 1; i >= 0; i-- {
		chain, err = bs[i](chain, grad)
		if err != nil {
			return blas32.Vector{}, err
		}
	}
	return chain, nil
}

type Activation int

const (
	ActivationLeakyReLU Activation = iota
	ActivationReLU
	ActivationSigmoid
)

var activationNames = []string{"leaky-relu", "relu", "sigmoid"}

// ParseActivation resolves an activation by name at configuration time.
// Unknown names fail fast instead of being looked up lazily.
func ParseActivation(name string) (Activation, error) {
	switch name {
	case "", "leaky-relu":
		return ActivationLeakyReLU, nil
	case "relu":
		return ActivationReLU, nil
	case "sigmoid":
		return ActivationSigmoid, nil
	}
	return 0, &oslow.ConfigurationError{Field: "activation", Reason: "unknown name " + name, Valid: activationNames}
}

func (a Activation) forward(x blas32.Vector, alpha float32) (blas32.Vector, Backward) {
	y := vector.NewZerosLike(x)
	switch a {
	case ActivationLeakyReLU:
		for i, e := range x.Data {
			if e > 0 {
				y.Data[i] = e
			} else {
				y.Data[i] = alpha * e
			}
		}
	case ActivationReLU:
		for i, e := range x.Data {
			if e > 0 {
				y.Data[i] = e
			}
		}
	case ActivationSigmoid:
		for i, e := range x.Data {
			y.Data[i] = 1.0 / (1.0 + math32.Exp(-e))
		}
	}

	backward := func(chain blas32.Vector, _ *GradBuffer) (blas32.Vector, error) {
		dx := vector.NewZerosLike(chain)
		switch a {
		case ActivationLeakyReLU:
			for i, e := range x.Data {
				if e > 0 {
					dx.Data[i] = chain.Data[i]
				} else {
					dx.Data[i] = alpha * chain.Data[i]
				}
			}
		case ActivationReLU:
			for i, e := range x.Data {
				if e > 0 {
					dx.Data[i] = chain.Data[i]
				}
			}
		case ActivationSigmoid:
			for i := range x.Data {
				s := y.Data[i]
				dx.Data[i] = chain.Data[i] * s * (1.0 - s)
			}
		}
		return dx, nil
	}
	return y, backward
}

type MLPConfig struct {
	Dim            int
	Hidden         []int
	OutPerDim      int
	Activation     string
	LeakyReLUAlpha float32
}

func (c *MLPConfig) validate() error {
	if c.Dim <= 0 {
		return oslow.NewConfigurationError("dim", "must be positive, got %d", c.Dim)
	}
	if c.OutPerDim <= 0 {
		return oslow.NewConfigurationError("out_per_dim", "must be positive, got %d", c.OutPerDim)
	}
	if _, err := ParseActivation(c.Activation); err != nil {
		return err
	}
	if c.LeakyReLUAlpha == 0 {
		c.LeakyReLUAlpha = 0.01
	}
	return nil
}

// MaskedMLP chains masked linear layers with activations in between.
// Hidden layers allow self-connections; the output layer does not, so
// the composed network is strictly autoregressive under the permutation.
type MaskedMLP struct {
	Dim       int
	OutPerDim int
	Layers    []*MaskedLinear

	act   Activation
	alpha float32
}

func NewMaskedMLP(cfg MLPConfig, rng *rand.Rand) (*MaskedMLP, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	act, _ := ParseActivation(cfg.Activation)

	widths := append([]int{cfg.Dim}, cfg.Hidden...)
	widths = append(widths, cfg.Dim*cfg.OutPerDim)

	layers := make([]*MaskedLinear, 0, len(widths)-1)
	for i := 0; i+1 < len(widths); i++ {
		auto := i+2 < len(widths) // all but the output layer
		l, err := NewMaskedLinear(widths[i], widths[i+1], cfg.Dim, auto, rng)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return &MaskedMLP{
		Dim:       cfg.Dim,
		OutPerDim: cfg.OutPerDim,
		Layers:    layers,
		act:       act,
		alpha:     cfg.LeakyReLUAlpha,
	}, nil
}

func (m *MaskedMLP) Forward(x blas32.Vector, perm *blas32.General) (blas32.Vector, Backwards, error) {
	backwards := make(Backwards, 0, 2*len(m.Layers))
	var bw Backward
	var err error
	for i, l := range m.Layers {
		x, bw, err = l.Forward(x, perm)
		if err != nil {
			return blas32.Vector{}, nil, err
		}
		backwards = append(backwards, bw)
		if i+1 < len(m.Layers) {
			x, bw = m.act.forward(x, m.alpha)
			backwards = append(backwards, bw)
		}
	}
	return x, backwards, nil
}

func (m *MaskedMLP) FlatParams() [][]float32 {
	flat := make([][]float32, 0, 2*len(m.Layers))
	for _, l := range m.Layers {
		flat = append(flat, l.W.Data)
		flat = append(flat, l.B.Data)
	}
	return flat
}

func (m *MaskedMLP) ReinitializeWeights(rng *rand.Rand) {
	for _, l := range m.Layers {
		fresh := matrix.NewHe(l.OutFeatures, l.InFeatures, rng)
		copy(l.W.Data, fresh.Data)
		clear(l.B.Data)
	}
}

// CloneWeights snapshots the parameters, used by tests comparing
// reinitialization behaviour.
func (m *MaskedMLP) CloneWeights() [][]float32 {
	flat := m.FlatParams()
	out := make([][]float32, len(flat))
	for i := range flat {
		out[i] = slices.Clone(flat[i])
	}
	return out
}
