package scm

import (
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// GaussianNoise samples N(Mu, Sigma²). A zero value is degenerate;
// construct with Sigma set.
type GaussianNoise struct {
	Mu    float64
	Sigma float64
}

func (g GaussianNoise) Sample(n int, seed uint64) []float32 {
	dist := distuv.Normal{Mu: g.Mu, Sigma: g.Sigma, Src: exprand.NewSource(seed)}
	xs := make([]float32, n)
	for i := range xs {
		xs[i] = float32(dist.Rand())
	}
	return xs
}

// UniformNoise samples uniformly from [Min, Max).
type UniformNoise struct {
	Min float64
	Max float64
}

func (u UniformNoise) Sample(n int, seed uint64) []float32 {
	dist := distuv.Uniform{Min: u.Min, Max: u.Max, Src: exprand.NewSource(seed)}
	xs := make([]float32, n)
	for i := range xs {
		xs[i] = float32(dist.Rand())
	}
	return xs
}

// LaplaceNoise samples Laplace(Mu, Scale), a heavier-tailed alternative
// for non-Gaussian identifiability experiments.
type LaplaceNoise struct {
	Mu    float64
	Scale float64
}

func (l LaplaceNoise) Sample(n int, seed uint64) []float32 {
	dist := distuv.Laplace{Mu: l.Mu, Scale: l.Scale, Src: exprand.NewSource(seed)}
	xs := make([]float32, n)
	for i := range xs {
		xs[i] = float32(dist.Rand())
	}
	return xs
}
