package flow

import "math"

// Optimizer updates network parameters. Each instance keeps per-parameter
// state and must be attached to exactly one network.
type Optimizer interface {
	init(params []*Tensor)
	step(params []*Tensor, grads []*Tensor)
	learningRate() float64
	setLearningRate(lr float64)
	name() string
}

// SGDOptimizer - Stochastic Gradient Descent
type SGDOptimizer struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	Nesterov    bool
	velocities  []*Tensor
	initialized bool
}

type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	Nesterov    bool
}

func SGD(config SGDConfig) Optimizer {
	return &SGDOptimizer{
		LR:          config.LR,
		Momentum:    config.Momentum,
		WeightDecay: config.WeightDecay,
		Nesterov:    config.Nesterov,
	}
}

func (s *SGDOptimizer) init(params []*Tensor) {
	s.velocities = make([]*Tensor, len(params))
	for i, p := range params {
		s.velocities[i] = NewTensor(p.Shape...)
	}
	s.initialized = true
}

func (s *SGDOptimizer) step(params []*Tensor, grads []*Tensor) {
	if !s.initialized {
		s.init(params)
	}
	for i, p := range params {
		g := grads[i]
		v := s.velocities[i]

		for j := range p.Data {
			grad := g.Data[j]
			if s.WeightDecay != 0 {
				grad += s.WeightDecay * p.Data[j]
			}
			if s.Momentum != 0 {
				v.Data[j] = s.Momentum*v.Data[j] + grad
				if s.Nesterov {
					grad += s.Momentum * v.Data[j]
				} else {
					grad = v.Data[j]
				}
			}
			p.Data[j] -= s.LR * grad
		}
	}
}

func (s *SGDOptimizer) learningRate() float64      { return s.LR }
func (s *SGDOptimizer) setLearningRate(lr float64) { s.LR = lr }
func (s *SGDOptimizer) name() string               { return "sgd" }

// AdamOptimizer - Adaptive Moment Estimation
type AdamOptimizer struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
	AMSGrad     bool
	m           []*Tensor
	v           []*Tensor
	vMax        []*Tensor
	t           int
	initialized bool
}

type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
	AMSGrad     bool
}

func Adam(config AdamConfig) Optimizer {
	return &AdamOptimizer{
		LR:          config.LR,
		Beta1:       config.Beta1,
		Beta2:       config.Beta2,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
		AMSGrad:     config.AMSGrad,
	}
}

func (a *AdamOptimizer) init(params []*Tensor) {
	a.m = make([]*Tensor, len(params))
	a.v = make([]*Tensor, len(params))
	if a.AMSGrad {
		a.vMax = make([]*Tensor, len(params))
	}
	for i, p := range params {
		a.m[i] = NewTensor(p.Shape...)
		a.v[i] = NewTensor(p.Shape...)
		if a.AMSGrad {
			a.vMax[i] = NewTensor(p.Shape...)
		}
	}
	a.t = 0
	a.initialized = true
}

func (a *AdamOptimizer) step(params []*Tensor, grads []*Tensor) {
	if !a.initialized {
		a.init(params)
	}
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		m := a.m[i]
		v := a.v[i]

		for j := range p.Data {
			grad := g.Data[j]
			if a.WeightDecay != 0 {
				grad += a.WeightDecay * p.Data[j]
			}
			m.Data[j] = a.Beta1*m.Data[j] + (1-a.Beta1)*grad
			v.Data[j] = a.Beta2*v.Data[j] + (1-a.Beta2)*grad*grad

			mHat := m.Data[j] / bc1
			vHat := v.Data[j] / bc2

			if a.AMSGrad {
				if vHat > a.vMax[i].Data[j] {
					a.vMax[i].Data[j] = vHat
				}
				vHat = a.vMax[i].Data[j]
			}

			p.Data[j] -= a.LR * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}

func (a *AdamOptimizer) learningRate() float64      { return a.LR }
func (a *AdamOptimizer) setLearningRate(lr float64) { a.LR = lr }
func (a *AdamOptimizer) name() string               { return "adam" }

// RMSpropOptimizer - the optimizer the weight-clipped critic was introduced with
type RMSpropOptimizer struct {
	LR          float64
	Alpha       float64
	Epsilon     float64
	WeightDecay float64
	Momentum    float64
	v           []*Tensor
	buf         []*Tensor
	initialized bool
}

type RMSpropConfig struct {
	LR          float64
	Alpha       float64
	Epsilon     float64
	WeightDecay float64
	Momentum    float64
}

func RMSprop(config RMSpropConfig) Optimizer {
	return &RMSpropOptimizer{
		LR:          config.LR,
		Alpha:       config.Alpha,
		Epsilon:     config.Epsilon,
		WeightDecay: config.WeightDecay,
		Momentum:    config.Momentum,
	}
}

func (r *RMSpropOptimizer) init(params []*Tensor) {
	r.v = make([]*Tensor, len(params))
	r.buf = make([]*Tensor, len(params))
	for i, p := range params {
		r.v[i] = NewTensor(p.Shape...)
		r.buf[i] = NewTensor(p.Shape...)
	}
	r.initialized = true
}

func (r *RMSpropOptimizer) step(params []*Tensor, grads []*Tensor) {
	if !r.initialized {
		r.init(params)
	}

	for i, p := range params {
		grad := grads[i]
		v := r.v[i]
		buf := r.buf[i]

		for j := range p.Data {
			g := grad.Data[j]
			if r.WeightDecay != 0 {
				g += r.WeightDecay * p.Data[j]
			}
			v.Data[j] = r.Alpha*v.Data[j] + (1-r.Alpha)*g*g

			if r.Momentum > 0 {
				buf.Data[j] = r.Momentum*buf.Data[j] + g/(math.Sqrt(v.Data[j])+r.Epsilon)
				p.Data[j] -= r.LR * buf.Data[j]
			} else {
				p.Data[j] -= r.LR * g / (math.Sqrt(v.Data[j]) + r.Epsilon)
			}
		}
	}
}

func (r *RMSpropOptimizer) learningRate() float64      { return r.LR }
func (r *RMSpropOptimizer) setLearningRate(lr float64) { r.LR = lr }
func (r *RMSpropOptimizer) name() string               { return "rmsprop" }
