package scm

import (
	"github.com/chewxy/math32"
	exprand "golang.org/x/exp/rand"
)

// AdditiveMechanism sums the parent values and adds the noise. Nodes
// without an explicit mechanism use this.
func AdditiveMechanism() Mechanism {
	return func(noise float32, parents []float32) float32 {
		v := noise
		for _, p := range parents {
			v += p
		}
		return v
	}
}

// LinearMechanism weights the parents (in ascending node order) and
// adds the noise. Extra weights are ignored, missing ones count as zero.
func LinearMechanism(weights []float32) Mechanism {
	return func(noise float32, parents []float32) float32 {
		v := noise
		for i, p := range parents {
			if i >= len(weights) {
				break
			}
			v += weights[i] * p
		}
		return v
	}
}

// SigmoidMechanism squashes a weighted parent sum through a scaled
// sigmoid before adding the noise, giving a nonlinear additive-noise
// model.
func SigmoidMechanism(weights []float32, scale float32) Mechanism {
	linear := LinearMechanism(weights)
	return func(noise float32, parents []float32) float32 {
		u := linear(0.0, parents)
		return scale/(1.0+math32.Exp(-u)) + noise
	}
}

// ConstantMechanism pins the node to a fixed value, the usual shape of
// an atomic intervention do(X=c).
func ConstantMechanism(value float32) Mechanism {
	return func(noise float32, parents []float32) float32 {
		return value
	}
}

// NewLinearGaussianChain builds the chain 0→1→…→d−1 where each node is
// coef times its predecessor plus N(0, sigma²) noise.
func NewLinearGaussianChain(d int, coef, sigma float32) (*SCM, error) {
	s, err := New(d)
	if err != nil {
		return nil, err
	}
	for v := 0; v < d; v++ {
		s.SetNoise(v, GaussianNoise{Sigma: float64(sigma)})
		s.SetMechanism(v, LinearMechanism([]float32{coef}))
		if v > 0 {
			if err := s.AddEdge(v-1, v); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// NewRandomLinearGaussian samples a DAG by including each forward edge
// i→j (i<j in a random node ordering) with probability edgeProb, with
// edge weights uniform in [0.5, 2.0) under random sign and unit
// Gaussian noise everywhere.
func NewRandomLinearGaussian(d int, edgeProb float64, seed uint64) (*SCM, error) {
	s, err := New(d)
	if err != nil {
		return nil, err
	}
	rng := exprand.New(exprand.NewSource(seed))
	order := rng.Perm(d)

	edgeWeight := make(map[[2]int]float32)
	for i := 0; i < d; i++ {
		for j := i + 1; j < d; j++ {
			if rng.Float64() >= edgeProb {
				continue
			}
			u, v := order[i], order[j]
			if err := s.AddEdge(u, v); err != nil {
				return nil, err
			}
			w := float32(0.5 + 1.5*rng.Float64())
			if rng.Float64() < 0.5 {
				w = -w
			}
			edgeWeight[[2]int{u, v}] = w
		}
	}
	for v := 0; v < d; v++ {
		// LinearMechanism sees parents in ascending node order.
		parents := s.parents(v)
		ws := make([]float32, len(parents))
		for i, u := range parents {
			ws[i] = edgeWeight[[2]int{u, v}]
		}
		s.SetNoise(v, GaussianNoise{Sigma: 1.0})
		s.SetMechanism(v, LinearMechanism(ws))
	}
	return s, nil
}
