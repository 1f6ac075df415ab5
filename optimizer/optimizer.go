package optimizer

import (
	"github.com/chewxy/math32"
	"github.com/sw965/oslow"
)

// Optimizer applies one update to a parameter group given matching
// gradients. Params and grads are parallel slices of flat float32
// buffers; state (velocity, moments) is keyed by position, so the same
// group must be passed on every step. Reset clears accumulated state,
// which the phase controller triggers on every phase transition.
type Optimizer interface {
	Step(params, grads [][]float32) error
	SetLearningRate(lr float32)
	LearningRate() float32
	Reset()
}

func checkShapes(params, grads [][]float32) error {
	if len(params) != len(grads) {
		return oslow.NewConfigurationError("grads", "got %d gradient buffers for %d parameter buffers", len(grads), len(params))
	}
	for i := range params {
		if len(params[i]) != len(grads[i]) {
			return oslow.NewConfigurationError("grads", "buffer %d: gradient length %d != parameter length %d", i, len(grads[i]), len(params[i]))
		}
	}
	return nil
}

type Momentum struct {
	Lr       float32
	Momentum float32
	velocity [][]float32
}

func NewMomentum(lr float32) *Momentum {
	return &Momentum{Lr: lr, Momentum: 0.9}
}

func (o *Momentum) SetLearningRate(lr float32) { o.Lr = lr }
func (o *Momentum) LearningRate() float32      { return o.Lr }

func (o *Momentum) Reset() {
	o.velocity = nil
}

func (o *Momentum) Step(params, grads [][]float32) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}
	if o.velocity == nil {
		o.velocity = make([][]float32, len(params))
		for i := range params {
			o.velocity[i] = make([]float32, len(params[i]))
		}
	}
	for i := range params {
		w := params[i]
		g := grads[i]
		v := o.velocity[i]
		for j := range w {
			v[j] = o.Momentum*v[j] - o.Lr*g[j]
			w[j] += v[j]
		}
	}
	return nil
}

type Adam struct {
	Lr      float32
	Beta1   float32
	Beta2   float32
	Epsilon float32

	t int
	m [][]float32
	v [][]float32
}

func NewAdam(lr float32) *Adam {
	return &Adam{Lr: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

func (o *Adam) SetLearningRate(lr float32) { o.Lr = lr }
func (o *Adam) LearningRate() float32      { return o.Lr }

func (o *Adam) Reset() {
	o.t = 0
	o.m = nil
	o.v = nil
}

func (o *Adam) Step(params, grads [][]float32) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}
	if o.m == nil {
		o.m = make([][]float32, len(params))
		o.v = make([][]float32, len(params))
		for i := range params {
			o.m[i] = make([]float32, len(params[i]))
			o.v[i] = make([]float32, len(params[i]))
		}
	}
	o.t++
	c1 := 1.0 - math32.Pow(o.Beta1, float32(o.t))
	c2 := 1.0 - math32.Pow(o.Beta2, float32(o.t))
	for i := range params {
		w := params[i]
		g := grads[i]
		m := o.m[i]
		v := o.v[i]
		for j := range w {
			m[j] = o.Beta1*m[j] + (1.0-o.Beta1)*g[j]
			v[j] = o.Beta2*v[j] + (1.0-o.Beta2)*g[j]*g[j]
			mHat := m[j] / c1
			vHat := v[j] / c2
			w[j] -= o.Lr * mHat / (math32.Sqrt(vHat) + o.Epsilon)
		}
	}
	return nil
}
