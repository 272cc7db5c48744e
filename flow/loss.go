package flow

import "math"

// Loss computes a scalar loss and its gradient with respect to pred.
// Gradients include the reduction factor, so layers never average.
type Loss interface {
	Compute(pred, target *Tensor) float64
	Gradient(pred, target *Tensor) *Tensor
	Name() string
}

// MSELoss - Mean Squared Error
type MSELoss struct {
	Reduction string // "mean" or "sum"
}

type MSEConfig struct {
	Reduction string
}

func MSE(config MSEConfig) Loss {
	return &MSELoss{Reduction: config.Reduction}
}

func (m *MSELoss) Compute(pred, target *Tensor) float64 {
	sum := 0.0
	for i := range pred.Data {
		diff := pred.Data[i] - target.Data[i]
		sum += diff * diff
	}
	if m.Reduction == "mean" {
		return sum / float64(len(pred.Data))
	}
	return sum
}

func (m *MSELoss) Gradient(pred, target *Tensor) *Tensor {
	scale := 2.0
	if m.Reduction == "mean" {
		scale = 2.0 / float64(len(pred.Data))
	}
	grad := NewTensor(pred.Shape...)
	for i := range pred.Data {
		grad.Data[i] = scale * (pred.Data[i] - target.Data[i])
	}
	return grad
}

func (m *MSELoss) Name() string { return "mse" }

// MAELoss - Mean Absolute Error (L1)
type MAELoss struct {
	Reduction string
}

type MAEConfig struct {
	Reduction string
}

func MAE(config MAEConfig) Loss {
	return &MAELoss{Reduction: config.Reduction}
}

func (m *MAELoss) Compute(pred, target *Tensor) float64 {
	sum := 0.0
	for i := range pred.Data {
		sum += math.Abs(pred.Data[i] - target.Data[i])
	}
	if m.Reduction == "mean" {
		return sum / float64(len(pred.Data))
	}
	return sum
}

func (m *MAELoss) Gradient(pred, target *Tensor) *Tensor {
	scale := 1.0
	if m.Reduction == "mean" {
		scale = 1.0 / float64(len(pred.Data))
	}
	grad := NewTensor(pred.Shape...)
	for i := range pred.Data {
		if pred.Data[i] > target.Data[i] {
			grad.Data[i] = scale
		} else if pred.Data[i] < target.Data[i] {
			grad.Data[i] = -scale
		}
	}
	return grad
}

func (m *MAELoss) Name() string { return "mae" }

// CrossEntropyLoss - for classification on softmax probabilities. The
// gradient is taken with respect to the logits feeding the softmax, which
// is what SoftmaxActivation's pass-through backward expects.
type CrossEntropyLoss struct {
	LabelSmoothing float64
}

type CrossEntropyConfig struct {
	LabelSmoothing float64
}

func CrossEntropy(config CrossEntropyConfig) Loss {
	return &CrossEntropyLoss{LabelSmoothing: config.LabelSmoothing}
}

func (c *CrossEntropyLoss) Compute(pred, target *Tensor) float64 {
	eps := 1e-15
	sum := 0.0
	nClasses := pred.Cols()
	nSamples := pred.Rows()

	for i := 0; i < nSamples; i++ {
		for j := 0; j < nClasses; j++ {
			idx := i*nClasses + j
			t := c.smooth(target.Data[idx], nClasses)
			p := math.Max(pred.Data[idx], eps)
			sum -= t * math.Log(p)
		}
	}
	return sum / float64(nSamples)
}

func (c *CrossEntropyLoss) Gradient(pred, target *Tensor) *Tensor {
	nClasses := pred.Cols()
	nSamples := pred.Rows()
	scale := 1.0 / float64(nSamples)

	grad := NewTensor(pred.Shape...)
	for i := 0; i < nSamples; i++ {
		for j := 0; j < nClasses; j++ {
			idx := i*nClasses + j
			t := c.smooth(target.Data[idx], nClasses)
			grad.Data[idx] = scale * (pred.Data[idx] - t)
		}
	}
	return grad
}

func (c *CrossEntropyLoss) smooth(t float64, classes int) float64 {
	if c.LabelSmoothing > 0 {
		return t*(1-c.LabelSmoothing) + c.LabelSmoothing/float64(classes)
	}
	return t
}

func (c *CrossEntropyLoss) Name() string { return "cross_entropy" }

// SoftmaxCrossEntropyLoss - cross entropy on raw logits. Used for class
// heads that share a linear output layer with other heads.
type SoftmaxCrossEntropyLoss struct{}

func SoftmaxCrossEntropy() Loss { return &SoftmaxCrossEntropyLoss{} }

func (s *SoftmaxCrossEntropyLoss) Compute(pred, target *Tensor) float64 {
	nClasses := pred.Cols()
	nSamples := pred.Rows()
	probs := make([]float64, nClasses)
	sum := 0.0
	for i := 0; i < nSamples; i++ {
		softmaxRow(pred.Row(i), probs)
		for j, p := range probs {
			t := target.Data[i*nClasses+j]
			if t != 0 {
				sum -= t * math.Log(math.Max(p, 1e-15))
			}
		}
	}
	return sum / float64(nSamples)
}

func (s *SoftmaxCrossEntropyLoss) Gradient(pred, target *Tensor) *Tensor {
	nClasses := pred.Cols()
	nSamples := pred.Rows()
	scale := 1.0 / float64(nSamples)
	grad := NewTensor(pred.Shape...)
	for i := 0; i < nSamples; i++ {
		softmaxRow(pred.Row(i), grad.Row(i))
		for j := 0; j < nClasses; j++ {
			idx := i*nClasses + j
			grad.Data[idx] = scale * (grad.Data[idx] - target.Data[idx])
		}
	}
	return grad
}

func (s *SoftmaxCrossEntropyLoss) Name() string { return "softmax_cross_entropy" }

// BCEWithLogitsLoss - sigmoid followed by binary cross entropy, evaluated
// on logits so saturated discriminators keep a usable gradient.
type BCEWithLogitsLoss struct {
	Reduction string
}

type BCEWithLogitsConfig struct {
	Reduction string
}

func BCEWithLogits(config BCEWithLogitsConfig) Loss {
	return &BCEWithLogitsLoss{Reduction: config.Reduction}
}

func (b *BCEWithLogitsLoss) Compute(pred, target *Tensor) float64 {
	sum := 0.0
	for i, x := range pred.Data {
		t := target.Data[i]
		// max(x,0) - x*t + log(1+exp(-|x|))
		sum += math.Max(x, 0) - x*t + math.Log1p(math.Exp(-math.Abs(x)))
	}
	if b.Reduction == "mean" {
		return sum / float64(len(pred.Data))
	}
	return sum
}

func (b *BCEWithLogitsLoss) Gradient(pred, target *Tensor) *Tensor {
	scale := 1.0
	if b.Reduction == "mean" {
		scale = 1.0 / float64(len(pred.Data))
	}
	grad := NewTensor(pred.Shape...)
	for i, x := range pred.Data {
		grad.Data[i] = scale * (sigmoid(x) - target.Data[i])
	}
	return grad
}

func (b *BCEWithLogitsLoss) Name() string { return "bce_with_logits" }

// Targets returns a tensor shaped like ref filled with value.
func Targets(ref *Tensor, value float64) *Tensor {
	t := NewTensor(ref.Shape...)
	t.Fill(value)
	return t
}
