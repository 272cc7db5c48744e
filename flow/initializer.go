package flow

import (
	"math"
	"math/rand"
)

// Initializer sets up initial weights for layers
type Initializer interface {
	initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand)
	name() string
}

// HeNormalInit - He/Kaiming normal initialization
type HeNormalInit struct {
	Gain float64
}

func HeNormal(gain float64) Initializer {
	return &HeNormalInit{Gain: gain}
}

func (h *HeNormalInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.FillNormal(0, h.Gain*math.Sqrt(2.0/float64(fanIn)), rng)
}

func (h *HeNormalInit) name() string { return "he_normal" }

// XavierNormalInit - Xavier/Glorot normal initialization
type XavierNormalInit struct {
	Gain float64
}

func XavierNormal(gain float64) Initializer {
	return &XavierNormalInit{Gain: gain}
}

func (x *XavierNormalInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.FillNormal(0, x.Gain*math.Sqrt(2.0/float64(fanIn+fanOut)), rng)
}

func (x *XavierNormalInit) name() string { return "xavier_normal" }

// XavierUniformInit - Xavier/Glorot uniform initialization
type XavierUniformInit struct {
	Gain float64
}

func XavierUniform(gain float64) Initializer {
	return &XavierUniformInit{Gain: gain}
}

func (x *XavierUniformInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	limit := x.Gain * math.Sqrt(6.0/float64(fanIn+fanOut))
	t.FillUniform(-limit, limit, rng)
}

func (x *XavierUniformInit) name() string { return "xavier_uniform" }

// RandomNormalInit - N(mean, stddev²); RandomNormal(0, 0.02) is the DCGAN default
type RandomNormalInit struct {
	Mean   float64
	StdDev float64
}

func RandomNormal(mean, stddev float64) Initializer {
	return &RandomNormalInit{Mean: mean, StdDev: stddev}
}

func (r *RandomNormalInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.FillNormal(r.Mean, r.StdDev, rng)
}

func (r *RandomNormalInit) name() string { return "random_normal" }

// ZerosInit - initialize with zeros
type ZerosInit struct{}

func Zeros() Initializer { return &ZerosInit{} }

func (z *ZerosInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.Fill(0)
}

func (z *ZerosInit) name() string { return "zeros" }

// ConstantInit - initialize with constant value
type ConstantInit struct {
	Value float64
}

func Constant(value float64) Initializer {
	return &ConstantInit{Value: value}
}

func (c *ConstantInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.Fill(c.Value)
}

func (c *ConstantInit) name() string { return "constant" }
