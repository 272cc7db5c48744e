package flow

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// LayerNormLayer - Layer Normalization. Normalizes each sample across its
// features, so samples stay independent of each other; penalised critics
// rely on this because per-sample input gradients are only defined then.
type LayerNormLayer struct {
	epsilon    float64
	gamma      *Tensor
	beta       *Tensor
	gradGamma  *Tensor
	gradBeta   *Tensor
	normalized *Tensor
	invStd     []float64
	features   int
	built      bool
}

type LayerNormBuilder struct {
	layer *LayerNormLayer
}

func LayerNorm(epsilon float64) *LayerNormBuilder {
	return &LayerNormBuilder{
		layer: &LayerNormLayer{
			epsilon: epsilon,
		},
	}
}

func (b *LayerNormBuilder) Build() Layer {
	return b.layer
}

func (ln *LayerNormLayer) build(inputShape []int, rng *rand.Rand) error {
	if len(inputShape) == 0 {
		return errors.New("flow: LayerNorm requires non-empty input shape")
	}
	if ln.epsilon <= 0 {
		return errors.New("flow: LayerNorm epsilon must be > 0")
	}
	ln.features = inputShape[len(inputShape)-1]

	ln.gamma = NewTensor(ln.features)
	ln.gamma.Fill(1.0)
	ln.beta = NewTensor(ln.features)

	ln.gradGamma = NewTensor(ln.features)
	ln.gradBeta = NewTensor(ln.features)

	ln.built = true
	return nil
}

func (ln *LayerNormLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	if !ln.built {
		return nil, errors.New("flow: LayerNorm not built")
	}
	features := ln.features
	if input.Cols() != features {
		return nil, errorf("layer norm input has %d features, expected %d", input.Cols(), features)
	}
	rows := input.Rows()

	ln.normalized = NewTensor(input.Shape...)
	ln.invStd = make([]float64, rows)
	output := NewTensor(input.Shape...)

	for i := 0; i < rows; i++ {
		row := input.Row(i)
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(features)

		variance := 0.0
		for _, v := range row {
			diff := v - mean
			variance += diff * diff
		}
		variance /= float64(features)

		inv := 1.0 / math.Sqrt(variance+ln.epsilon)
		ln.invStd[i] = inv
		base := i * features
		for j, v := range row {
			xHat := (v - mean) * inv
			ln.normalized.Data[base+j] = xHat
			output.Data[base+j] = ln.gamma.Data[j]*xHat + ln.beta.Data[j]
		}
	}

	return output, nil
}

func (ln *LayerNormLayer) backward(gradOutput *Tensor, accumulate bool) (*Tensor, error) {
	if ln.normalized == nil {
		return nil, errors.New("flow: backward called before forward")
	}
	features := ln.features
	rows := ln.normalized.Rows()
	n := float64(features)

	gradInput := NewTensor(ln.normalized.Shape...)
	dxHat := make([]float64, features)
	for i := 0; i < rows; i++ {
		base := i * features
		sumD, sumDX := 0.0, 0.0
		for j := 0; j < features; j++ {
			idx := base + j
			dy := gradOutput.Data[idx]
			if accumulate {
				ln.gradGamma.Data[j] += dy * ln.normalized.Data[idx]
				ln.gradBeta.Data[j] += dy
			}
			dxHat[j] = dy * ln.gamma.Data[j]
			sumD += dxHat[j]
			sumDX += dxHat[j] * ln.normalized.Data[idx]
		}
		scale := ln.invStd[i] / n
		for j := 0; j < features; j++ {
			idx := base + j
			gradInput.Data[idx] = scale * (n*dxHat[j] - sumD - ln.normalized.Data[idx]*sumDX)
		}
	}

	return gradInput, nil
}

func (ln *LayerNormLayer) parameters() []*Tensor {
	return []*Tensor{ln.gamma, ln.beta}
}

func (ln *LayerNormLayer) gradients() []*Tensor {
	return []*Tensor{ln.gradGamma, ln.gradBeta}
}

func (ln *LayerNormLayer) outputShape() []int { return []int{ln.features} }
func (ln *LayerNormLayer) name() string       { return "layer_norm" }
