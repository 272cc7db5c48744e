package gan

import (
	"math/rand"

	"ganflow/flow"
)

var (
	bce = flow.BCEWithLogits(flow.BCEWithLogitsConfig{Reduction: "mean"})
	mse = flow.MSE(flow.MSEConfig{Reduction: "mean"})
	l1  = flow.MAE(flow.MAEConfig{Reduction: "mean"})
	sce = flow.SoftmaxCrossEntropy()
)

// noise draws [n, dim] samples from prior.
func noise(rng *rand.Rand, prior string, n, dim int) *flow.Tensor {
	z := flow.NewTensor(n, dim)
	if prior == "gaussian" {
		z.FillNormal(0, 1, rng)
	} else {
		z.FillUniform(0, 1, rng)
	}
	return z
}

// randomLabels draws n uniform class indices.
func randomLabels(rng *rand.Rand, n, classes int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = rng.Intn(classes)
	}
	return out
}

// cycleLabels fills in labels for n samples, round-robin when none are
// given.
func cycleLabels(labels []int, n, classes int) ([]int, error) {
	if labels == nil {
		out := make([]int, n)
		for i := range out {
			out[i] = i % classes
		}
		return out, nil
	}
	if len(labels) != n {
		return nil, flow.DimensionError("gan", "%d labels for %d samples", len(labels), n)
	}
	return labels, nil
}

// conditioned appends the one-hot encoding of labels to x.
func conditioned(x *flow.Tensor, labels []int, classes int) (*flow.Tensor, error) {
	return flow.ConcatCols(x, flow.OneHot(labels, classes))
}

// lossBackward evaluates loss on out and backpropagates it through net,
// returning the loss value and the gradient with respect to net's input.
func lossBackward(net *flow.Network, loss flow.Loss, out, target *flow.Tensor) (float64, *flow.Tensor, error) {
	v := loss.Compute(out, target)
	grad, err := net.Backward(loss.Gradient(out, target))
	return v, grad, err
}

// scaledBackward backpropagates loss scaled by w.
func scaledBackward(net *flow.Network, loss flow.Loss, out, target *flow.Tensor, w float64) (float64, *flow.Tensor, error) {
	v := loss.Compute(out, target)
	g := loss.Gradient(out, target)
	g.Scale(w)
	grad, err := net.Backward(g)
	return w * v, grad, err
}

// meanGradient is the gradient of s * mean(out) over a [N, 1] output.
func meanGradient(out *flow.Tensor, s float64) *flow.Tensor {
	return flow.Targets(out, s/float64(out.Size()))
}

// throughFrozen runs x through a frozen d and backpropagates grad(out)
// into x, leaving d's parameter gradients untouched.
func throughFrozen(d *flow.Network, x *flow.Tensor, grad func(out *flow.Tensor) (float64, *flow.Tensor)) (float64, *flow.Tensor, error) {
	d.Freeze()
	defer d.Unfreeze()
	out, err := d.Forward(x, true)
	if err != nil {
		return 0, nil, err
	}
	v, g := grad(out)
	gx, err := d.Backward(g)
	return v, gx, err
}

// lossGrad adapts a Loss with a fixed target for throughFrozen.
func lossGrad(loss flow.Loss, value float64) func(out *flow.Tensor) (float64, *flow.Tensor) {
	return func(out *flow.Tensor) (float64, *flow.Tensor) {
		t := flow.Targets(out, value)
		return loss.Compute(out, t), loss.Gradient(out, t)
	}
}

// stepAll checks loss for finiteness and steps every network. No network
// is stepped when the loss is not finite.
func stepAll(variant, phase string, loss float64, nets ...*flow.Network) error {
	if err := flow.CheckFinite(variant, phase, loss); err != nil {
		return err
	}
	for _, n := range nets {
		if err := n.Step(); err != nil {
			return err
		}
	}
	return nil
}

func zeroAll(nets ...*flow.Network) {
	for _, n := range nets {
		n.ZeroGrad()
	}
}

// checkBatch validates a real batch against the configured image size.
func checkBatch(variant string, cfg Config, images *flow.Tensor, labels []int) error {
	if images == nil || images.Rows() < 2 {
		return flow.ConfigError(variant, "batch size must be more than one")
	}
	if images.Cols() != cfg.ImageDim() {
		return flow.DimensionError(variant, "batch samples have %d values, expected %d", images.Cols(), cfg.ImageDim())
	}
	if len(labels) != images.Rows() {
		return flow.DimensionError(variant, "%d labels for %d samples", len(labels), images.Rows())
	}
	return flow.ValidateTensor(images, variant, "input")
}
