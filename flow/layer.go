package flow

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Layer is the base interface for all layers.
//
// backward accumulates parameter gradients into gradients() unless
// accumulate is false, and always returns the gradient with respect to the
// input of the most recent forward call.
type Layer interface {
	forward(input *Tensor, training bool) (*Tensor, error)
	backward(gradOutput *Tensor, accumulate bool) (*Tensor, error)
	parameters() []*Tensor
	gradients() []*Tensor
	build(inputShape []int, rng *rand.Rand) error
	outputShape() []int
	name() string
}

// DenseLayer - fully connected layer
type DenseLayer struct {
	units       int
	activation  Activation
	initializer Initializer
	biasInit    Initializer
	useBias     bool
	weights     *Tensor
	bias        *Tensor
	input       *Tensor
	preAct      *Tensor
	output      *Tensor
	gradW       *Tensor
	gradB       *Tensor
	built       bool
}

// DenseBuilder for fluent API
type DenseBuilder struct {
	layer *DenseLayer
}

func Dense(units int) *DenseBuilder {
	return &DenseBuilder{
		layer: &DenseLayer{
			units: units,
		},
	}
}

func (b *DenseBuilder) WithActivation(act Activation) *DenseBuilder {
	b.layer.activation = act
	return b
}

func (b *DenseBuilder) WithInitializer(init Initializer) *DenseBuilder {
	b.layer.initializer = init
	return b
}

func (b *DenseBuilder) WithBiasInitializer(init Initializer) *DenseBuilder {
	b.layer.biasInit = init
	return b
}

func (b *DenseBuilder) WithBias(useBias bool) *DenseBuilder {
	b.layer.useBias = useBias
	return b
}

func (b *DenseBuilder) Build() Layer {
	return b.layer
}

func (d *DenseLayer) build(inputShape []int, rng *rand.Rand) error {
	if len(inputShape) == 0 {
		return errors.New("flow: DenseLayer requires non-empty input shape")
	}
	if d.units <= 0 {
		return errorf("DenseLayer units must be > 0, got %d", d.units)
	}
	if d.initializer == nil {
		return errors.New("flow: DenseLayer requires initializer - use WithInitializer()")
	}
	if d.activation == nil {
		return errors.New("flow: DenseLayer requires activation - use WithActivation()")
	}
	if d.useBias && d.biasInit == nil {
		return errors.New("flow: DenseLayer with bias requires bias initializer - use WithBiasInitializer()")
	}

	fanIn := 1
	for _, s := range inputShape {
		fanIn *= s
	}

	d.weights = NewTensor(fanIn, d.units)
	d.initializer.initialize(d.weights, fanIn, d.units, rng)
	d.gradW = NewTensor(fanIn, d.units)

	if d.useBias {
		d.bias = NewTensor(d.units)
		d.biasInit.initialize(d.bias, fanIn, d.units, rng)
		d.gradB = NewTensor(d.units)
	}

	d.built = true
	return nil
}

func (d *DenseLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	if !d.built {
		return nil, errors.New("flow: layer not built - call Build() first")
	}
	batchSize := input.Rows()
	if input.Cols() != d.weights.Shape[0] {
		return nil, errorf("dense input has %d features, expected %d", input.Cols(), d.weights.Shape[0])
	}

	d.input = input
	d.preAct = NewTensor(batchSize, d.units)
	d.output = NewTensor(batchSize, d.units)

	// Y = X @ W + b
	matmul(input, d.weights, d.preAct)
	if d.useBias {
		addRowVec(d.preAct, d.bias)
	}
	d.activation.forward(d.preAct, d.output)

	return d.output, nil
}

func (d *DenseLayer) backward(gradOutput *Tensor, accumulate bool) (*Tensor, error) {
	if d.input == nil {
		return nil, errors.New("flow: backward called before forward")
	}
	if gradOutput.Size() != d.output.Size() {
		return nil, errorf("dense gradient has %d values, expected %d", gradOutput.Size(), d.output.Size())
	}

	gradPreAct := NewTensor(d.preAct.Shape...)
	d.activation.backward(d.preAct, d.output, gradOutput, gradPreAct)

	if accumulate {
		// dL/dW += X^T @ dL/dY, dL/db += sum(dL/dY)
		matmulTransAAcc(d.input, gradPreAct, d.gradW)
		if d.useBias {
			sumRowsAcc(gradPreAct, d.gradB)
		}
	}

	// dL/dX = dL/dY @ W^T
	gradInput := NewTensor(d.input.Shape...)
	matmulTransB(gradPreAct, d.weights, gradInput)

	return gradInput, nil
}

func (d *DenseLayer) parameters() []*Tensor {
	if d.useBias {
		return []*Tensor{d.weights, d.bias}
	}
	return []*Tensor{d.weights}
}

func (d *DenseLayer) gradients() []*Tensor {
	if d.useBias {
		return []*Tensor{d.gradW, d.gradB}
	}
	return []*Tensor{d.gradW}
}

func (d *DenseLayer) outputShape() []int {
	return []int{d.units}
}

func (d *DenseLayer) name() string { return "dense" }

// DropoutLayer - randomly zeros elements during training
type DropoutLayer struct {
	rate  float64
	mask  *Tensor
	rng   *rand.Rand
	shape []int
}

type DropoutBuilder struct {
	layer *DropoutLayer
}

func Dropout(rate float64) *DropoutBuilder {
	return &DropoutBuilder{
		layer: &DropoutLayer{
			rate: rate,
		},
	}
}

func (b *DropoutBuilder) Build() Layer {
	return b.layer
}

func (d *DropoutLayer) build(inputShape []int, rng *rand.Rand) error {
	if d.rate < 0 || d.rate >= 1 {
		return errors.New("flow: dropout rate must be in [0, 1)")
	}
	d.rng = rng
	d.shape = inputShape
	return nil
}

func (d *DropoutLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	d.mask = NewTensor(input.Shape...)
	if !training || d.rate == 0 {
		d.mask.Fill(1)
		return input.Clone(), nil
	}

	output := NewTensor(input.Shape...)
	scale := 1.0 / (1.0 - d.rate)
	for i := range input.Data {
		if d.rng.Float64() >= d.rate {
			d.mask.Data[i] = scale
			output.Data[i] = input.Data[i] * scale
		}
	}
	return output, nil
}

func (d *DropoutLayer) backward(gradOutput *Tensor, accumulate bool) (*Tensor, error) {
	if d.mask == nil {
		return nil, errors.New("flow: backward called before forward")
	}
	gradInput := NewTensor(gradOutput.Shape...)
	for i := range gradOutput.Data {
		gradInput.Data[i] = gradOutput.Data[i] * d.mask.Data[i]
	}
	return gradInput, nil
}

func (d *DropoutLayer) parameters() []*Tensor { return nil }
func (d *DropoutLayer) gradients() []*Tensor  { return nil }
func (d *DropoutLayer) outputShape() []int    { return d.shape }
func (d *DropoutLayer) name() string          { return "dropout" }

// BatchNormLayer - batch normalization over the batch dimension.
// Batches of one sample cannot be normalized in training mode.
type BatchNormLayer struct {
	epsilon     float64
	momentum    float64
	gamma       *Tensor
	beta        *Tensor
	runningMean *Tensor
	runningVar  *Tensor
	gradGamma   *Tensor
	gradBeta    *Tensor
	normalized  *Tensor
	invStd      []float64
	training    bool
	features    int
	built       bool
}

type BatchNormBuilder struct {
	layer *BatchNormLayer
}

// BatchNorm creates a batch normalization layer. momentum weights the
// previous running statistics.
func BatchNorm(epsilon, momentum float64) *BatchNormBuilder {
	return &BatchNormBuilder{
		layer: &BatchNormLayer{
			epsilon:  epsilon,
			momentum: momentum,
		},
	}
}

func (b *BatchNormBuilder) Build() Layer {
	return b.layer
}

func (bn *BatchNormLayer) build(inputShape []int, rng *rand.Rand) error {
	if len(inputShape) == 0 {
		return errors.New("flow: BatchNorm requires non-empty input shape")
	}
	if bn.epsilon <= 0 {
		return errors.New("flow: BatchNorm epsilon must be > 0")
	}
	bn.features = inputShape[len(inputShape)-1]

	bn.gamma = NewTensor(bn.features)
	bn.gamma.Fill(1.0)
	bn.beta = NewTensor(bn.features)

	bn.runningMean = NewTensor(bn.features)
	bn.runningVar = NewTensor(bn.features)
	bn.runningVar.Fill(1.0)

	bn.gradGamma = NewTensor(bn.features)
	bn.gradBeta = NewTensor(bn.features)

	bn.built = true
	return nil
}

func (bn *BatchNormLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	if !bn.built {
		return nil, errors.New("flow: layer not built")
	}

	batchSize := input.Rows()
	features := input.Cols()
	if features != bn.features {
		return nil, errorf("batch norm input has %d features, expected %d", features, bn.features)
	}
	if training && batchSize < 2 {
		return nil, ConfigError("BatchNorm", "batch size must be more than one in training mode, got %d", batchSize)
	}

	mean := make([]float64, features)
	variance := make([]float64, features)

	if training {
		for i := 0; i < batchSize; i++ {
			for j := 0; j < features; j++ {
				mean[j] += input.Data[i*features+j]
			}
		}
		for j := range mean {
			mean[j] /= float64(batchSize)
		}
		for i := 0; i < batchSize; i++ {
			for j := 0; j < features; j++ {
				diff := input.Data[i*features+j] - mean[j]
				variance[j] += diff * diff
			}
		}
		for j := range variance {
			variance[j] /= float64(batchSize)
			bn.runningMean.Data[j] = bn.momentum*bn.runningMean.Data[j] + (1-bn.momentum)*mean[j]
			bn.runningVar.Data[j] = bn.momentum*bn.runningVar.Data[j] + (1-bn.momentum)*variance[j]
		}
	} else {
		copy(mean, bn.runningMean.Data)
		copy(variance, bn.runningVar.Data)
	}

	bn.training = training
	bn.invStd = make([]float64, features)
	for j := range variance {
		bn.invStd[j] = 1.0 / math.Sqrt(variance[j]+bn.epsilon)
	}

	bn.normalized = NewTensor(input.Shape...)
	output := NewTensor(input.Shape...)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < features; j++ {
			idx := i*features + j
			xHat := (input.Data[idx] - mean[j]) * bn.invStd[j]
			bn.normalized.Data[idx] = xHat
			output.Data[idx] = bn.gamma.Data[j]*xHat + bn.beta.Data[j]
		}
	}

	return output, nil
}

func (bn *BatchNormLayer) backward(gradOutput *Tensor, accumulate bool) (*Tensor, error) {
	if bn.normalized == nil {
		return nil, errors.New("flow: backward called before forward")
	}
	batchSize := bn.normalized.Rows()
	features := bn.features
	n := float64(batchSize)

	gradInput := NewTensor(bn.normalized.Shape...)
	for j := 0; j < features; j++ {
		sumDy, sumDyXHat := 0.0, 0.0
		for i := 0; i < batchSize; i++ {
			idx := i*features + j
			sumDy += gradOutput.Data[idx]
			sumDyXHat += gradOutput.Data[idx] * bn.normalized.Data[idx]
		}
		if accumulate {
			bn.gradGamma.Data[j] += sumDyXHat
			bn.gradBeta.Data[j] += sumDy
		}
		if !bn.training {
			// running statistics are constants
			for i := 0; i < batchSize; i++ {
				idx := i*features + j
				gradInput.Data[idx] = bn.gamma.Data[j] * bn.invStd[j] * gradOutput.Data[idx]
			}
			continue
		}
		// dx = gamma*invStd/N * (N*dy - sum(dy) - xHat*sum(dy*xHat))
		scale := bn.gamma.Data[j] * bn.invStd[j] / n
		for i := 0; i < batchSize; i++ {
			idx := i*features + j
			gradInput.Data[idx] = scale * (n*gradOutput.Data[idx] - sumDy - bn.normalized.Data[idx]*sumDyXHat)
		}
	}

	return gradInput, nil
}

func (bn *BatchNormLayer) parameters() []*Tensor {
	return []*Tensor{bn.gamma, bn.beta}
}

func (bn *BatchNormLayer) gradients() []*Tensor {
	return []*Tensor{bn.gradGamma, bn.gradBeta}
}

func (bn *BatchNormLayer) outputShape() []int { return []int{bn.features} }
func (bn *BatchNormLayer) name() string       { return "batch_norm" }

// state exposes the running statistics so they persist with the weights.
func (bn *BatchNormLayer) state() []*Tensor {
	return []*Tensor{bn.runningMean, bn.runningVar}
}

// statefulLayer is implemented by layers holding non-trainable buffers.
type statefulLayer interface {
	state() []*Tensor
}

// ActivationLayer applies an activation on its own, for use after a
// normalization layer.
type ActivationLayer struct {
	activation Activation
	input      *Tensor
	output     *Tensor
	shape      []int
}

type ActivationBuilder struct {
	layer *ActivationLayer
}

func Activate(act Activation) *ActivationBuilder {
	return &ActivationBuilder{layer: &ActivationLayer{activation: act}}
}

func (b *ActivationBuilder) Build() Layer {
	return b.layer
}

func (a *ActivationLayer) build(inputShape []int, rng *rand.Rand) error {
	if a.activation == nil {
		return errors.New("flow: ActivationLayer requires an activation")
	}
	a.shape = inputShape
	return nil
}

func (a *ActivationLayer) forward(input *Tensor, training bool) (*Tensor, error) {
	a.input = input
	a.output = NewTensor(input.Shape...)
	a.activation.forward(input, a.output)
	return a.output, nil
}

func (a *ActivationLayer) backward(gradOutput *Tensor, accumulate bool) (*Tensor, error) {
	if a.input == nil {
		return nil, errors.New("flow: backward called before forward")
	}
	gradInput := NewTensor(a.input.Shape...)
	a.activation.backward(a.input, a.output, gradOutput, gradInput)
	return gradInput, nil
}

func (a *ActivationLayer) parameters() []*Tensor { return nil }
func (a *ActivationLayer) gradients() []*Tensor  { return nil }
func (a *ActivationLayer) outputShape() []int    { return a.shape }
func (a *ActivationLayer) name() string          { return a.activation.name() }
