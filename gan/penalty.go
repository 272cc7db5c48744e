package gan

import (
	"math"
	"math/rand"

	"ganflow/flow"
)

const (
	// penaltyEpsilon keeps gradient norms away from zero: ‖g‖ = √(Σg² + ε).
	penaltyEpsilon = 1e-12
	// penaltyStep is the finite-difference step along the gradient
	// direction used to differentiate the penalty with respect to the
	// critic's parameters.
	penaltyStep = 1e-4
)

// Critic is a network whose input gradients can be penalised.
type Critic interface {
	Forward(x *flow.Tensor, training bool) (*flow.Tensor, error)
	Backward(gradOut *flow.Tensor) (*flow.Tensor, error)
	InputGradient(x *flow.Tensor) (*flow.Tensor, error)
}

// GradientPenalty returns λ·mean_i(‖∇ₓD(x_i)‖ − 1)² and accumulates its
// gradient into the critic's parameter gradients.
//
// The parameter gradient of ‖g_i‖ is v_i·∂g_i/∂θ with v_i = g_i/‖g_i‖,
// which equals the directional derivative of ∇θD along v_i. It is taken by
// central differences: [∇θD(x_i + h·v_i) − ∇θD(x_i − h·v_i)] / 2h.
func GradientPenalty(c Critic, x *flow.Tensor, lambda float64) (float64, error) {
	g, err := c.InputGradient(x)
	if err != nil {
		return 0, err
	}
	rows, cols := g.Rows(), g.Cols()
	n := float64(rows)

	coef := make([]float64, rows)
	dir := flow.NewTensor(rows, cols)
	value := 0.0
	active := false
	for i := 0; i < rows; i++ {
		row := g.Row(i)
		sq := 0.0
		for _, v := range row {
			sq += v * v
		}
		norm := math.Sqrt(sq + penaltyEpsilon)
		dev := norm - 1
		value += dev * dev
		coef[i] = 2 * lambda * dev / n
		if coef[i] != 0 {
			active = true
		}
		d := dir.Row(i)
		for j, v := range row {
			d[j] = v / norm
		}
	}
	value *= lambda / n
	if err := flow.CheckFinite("GradientPenalty", "penalty", value); err != nil {
		return 0, err
	}
	if !active || lambda == 0 {
		return value, nil
	}

	for _, sign := range []float64{1, -1} {
		shifted := x.Clone()
		shifted.AddScaled(dir, sign*penaltyStep)
		out, err := c.Forward(shifted, true)
		if err != nil {
			return 0, err
		}
		grad := flow.NewTensor(out.Shape...)
		oc := out.Cols()
		for i := 0; i < rows; i++ {
			grad.Data[i*oc] = sign * coef[i] / (2 * penaltyStep)
		}
		if _, err := c.Backward(grad); err != nil {
			return 0, err
		}
	}
	return value, nil
}

// interpolate returns α_i·a_i + (1−α_i)·b_i with one α ~ U(0,1) per row.
func interpolate(rng *rand.Rand, a, b *flow.Tensor) *flow.Tensor {
	out := flow.NewTensor(a.Shape...)
	cols := a.Cols()
	for i := 0; i < a.Rows(); i++ {
		alpha := rng.Float64()
		for j := 0; j < cols; j++ {
			k := i*cols + j
			out.Data[k] = alpha*a.Data[k] + (1-alpha)*b.Data[k]
		}
	}
	return out
}
