package optimizer

import (
	"github.com/chewxy/math32"
)

// Scheduler maps the latest step loss to the learning rate to use next.
// Taking the loss in the signature means plateau-driven schedules need
// no special casing by the caller.
type Scheduler interface {
	Step(loss float32) float32
}

type ConstantLR struct {
	Lr float32
}

func (s *ConstantLR) Step(loss float32) float32 { return s.Lr }

// ExponentialLR multiplies the rate by Gamma every step.
type ExponentialLR struct {
	Initial float32
	Gamma   float32
	steps   int
}

func (s *ExponentialLR) Step(loss float32) float32 {
	lr := s.Initial * math32.Pow(s.Gamma, float32(s.steps))
	s.steps++
	return lr
}

// ReduceOnPlateau shrinks the rate by Factor when the loss has not
// improved on its running minimum by Eps for Patience consecutive steps.
type ReduceOnPlateau struct {
	Initial  float32
	Factor   float32
	Patience int
	Eps      float32

	lr         float32
	best       float32
	bad        int
	haveValues bool
}

func (s *ReduceOnPlateau) Step(loss float32) float32 {
	if !s.haveValues {
		s.lr = s.Initial
		s.best = loss
		s.haveValues = true
		return s.lr
	}
	if loss < s.best-s.Eps {
		s.best = loss
		s.bad = 0
	} else {
		s.bad++
		if s.bad >= s.Patience {
			s.lr *= s.Factor
			s.bad = 0
		}
	}
	return s.lr
}
