package flow

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Network is the main neural network container.
//
// Gradients accumulate across Backward calls until ZeroGrad, so an
// objective made of several terms is expressed as several
// Forward/Backward pairs followed by a single Step.
type Network struct {
	layers      []Layer
	optimizer   Optimizer
	loss        Loss
	metrics     []Metric
	regularizer Regularizer
	gradClip    GradientClipConfig
	compiled    bool
	built       bool
	frozen      bool
	ready       bool // a Forward has run since the last Backward-invalidating change
	rng         *rand.Rand
	inputShape  []int
	inputSize   int
	params      []*Tensor
	grads       []*Tensor
}

// NetworkBuilder for fluent API
type NetworkBuilder struct {
	network *Network
	err     error
}

// NewNetwork creates a new network builder
func NewNetwork(config NetworkConfig) *NetworkBuilder {
	return &NetworkBuilder{
		network: &Network{
			layers: make([]Layer, 0),
			rng:    rand.New(rand.NewSource(config.Seed)),
		},
	}
}

// AddLayer adds a layer to the network
func (n *NetworkBuilder) AddLayer(layer Layer) *NetworkBuilder {
	if n.err != nil {
		return n
	}
	if layer == nil {
		n.err = ConfigError("NetworkBuilder", "layer %d is nil", len(n.network.layers))
		return n
	}
	n.network.layers = append(n.network.layers, layer)
	return n
}

// Build finalizes the network structure
func (n *NetworkBuilder) Build(inputShape []int) (*Network, error) {
	if n.err != nil {
		return nil, n.err
	}
	if len(n.network.layers) == 0 {
		return nil, ConfigError("NetworkBuilder", "network must have at least one layer")
	}
	if len(inputShape) == 0 {
		return nil, ConfigError("NetworkBuilder", "inputShape must be specified")
	}

	net := n.network
	net.inputShape = append([]int(nil), inputShape...)
	net.inputSize = 1
	for _, s := range inputShape {
		net.inputSize *= s
	}

	currentShape := inputShape
	for i, layer := range net.layers {
		if err := layer.build(currentShape, net.rng); err != nil {
			return nil, errors.Wrapf(err, "flow: layer %d (%s)", i, layer.name())
		}
		if outShape := layer.outputShape(); outShape != nil {
			currentShape = outShape
		}
	}
	for _, layer := range net.layers {
		net.params = append(net.params, layer.parameters()...)
		net.grads = append(net.grads, layer.gradients()...)
	}

	net.built = true
	return net, nil
}

// Compile configures optimizer, loss, and metrics
func (n *Network) Compile(config CompileConfig) error {
	if !n.built {
		return ConfigError("Network", "network must be built before compiling")
	}
	if err := ValidateCompileConfig(config); err != nil {
		return err
	}

	n.optimizer = config.Optimizer
	n.loss = config.Loss
	n.metrics = config.Metrics
	n.regularizer = config.Regularizer
	n.gradClip = config.GradientClip
	n.optimizer.init(n.params)
	n.compiled = true

	return nil
}

// Forward runs every layer on x. training selects batch statistics and
// dropout.
func (n *Network) Forward(x *Tensor, training bool) (*Tensor, error) {
	return n.ForwardTo(x, len(n.layers), training)
}

// ForwardTo runs only the first k layers. Backward is unavailable until the
// next full Forward.
func (n *Network) ForwardTo(x *Tensor, k int, training bool) (*Tensor, error) {
	if !n.built {
		return nil, ConfigError("Network", "network must be built before forward")
	}
	if k < 0 || k > len(n.layers) {
		return nil, ConfigError("Network", "layer count %d out of range [0, %d]", k, len(n.layers))
	}
	if x == nil || x.Rows() == 0 {
		return nil, DimensionError("Network", "empty input batch")
	}
	if x.Cols() != n.inputSize {
		return nil, DimensionError("Network", "input has %d features per sample, expected %d", x.Cols(), n.inputSize)
	}

	output := x
	var err error
	for i := 0; i < k; i++ {
		output, err = n.layers[i].forward(output, training)
		if err != nil {
			return nil, errors.Wrapf(err, "flow: forward layer %d (%s)", i, n.layers[i].name())
		}
	}
	n.ready = k == len(n.layers)
	return output, nil
}

// Backward propagates gradOut, the loss gradient with respect to the output
// of the last Forward, and returns the gradient with respect to its input.
// Parameter gradients accumulate unless the network is frozen.
func (n *Network) Backward(gradOut *Tensor) (*Tensor, error) {
	return n.backward(gradOut, !n.frozen)
}

func (n *Network) backward(gradOut *Tensor, accumulate bool) (*Tensor, error) {
	if !n.ready {
		return nil, ConfigError("Network", "backward requires a full forward pass first")
	}
	grad := gradOut
	var err error
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad, err = n.layers[i].backward(grad, accumulate)
		if err != nil {
			return nil, errors.Wrapf(err, "flow: backward layer %d (%s)", i, n.layers[i].name())
		}
	}
	return grad, nil
}

// InputGradient returns the gradient of the summed outputs with respect to
// x, row by row. Parameter gradients are left untouched.
func (n *Network) InputGradient(x *Tensor) (*Tensor, error) {
	out, err := n.Forward(x, true)
	if err != nil {
		return nil, err
	}
	return n.backward(Targets(out, 1), false)
}

// ZeroGrad clears accumulated parameter gradients.
func (n *Network) ZeroGrad() {
	for _, g := range n.grads {
		g.Fill(0)
	}
}

// Step applies regularization, clipping and one optimizer update using the
// accumulated gradients. Non-finite gradients abort before any parameter
// changes.
func (n *Network) Step() error {
	if !n.compiled {
		return ConfigError("Network", "network must be compiled before stepping")
	}
	if n.frozen {
		return ConfigError("Network", "cannot step a frozen network")
	}
	for i, p := range n.params {
		n.regularizer.gradient(p, n.grads[i])
	}
	for _, g := range n.grads {
		if err := ValidateTensor(g, n.optimizer.name(), "step"); err != nil {
			return err
		}
	}

	switch n.gradClip.Mode {
	case "norm":
		totalNorm := 0.0
		for _, g := range n.grads {
			norm := l2Norm(g)
			totalNorm += norm * norm
		}
		totalNorm = math.Sqrt(totalNorm)
		if totalNorm > n.gradClip.MaxNorm {
			scale := n.gradClip.MaxNorm / totalNorm
			for _, g := range n.grads {
				g.Scale(scale)
			}
		}
	case "value":
		for _, g := range n.grads {
			clip(g, -n.gradClip.MaxValue, n.gradClip.MaxValue)
		}
	}

	n.optimizer.step(n.params, n.grads)
	return nil
}

// Freeze stops parameter gradient accumulation. A frozen network still
// propagates input gradients, which is how one network is trained through
// another.
func (n *Network) Freeze() { n.frozen = true }

// Unfreeze re-enables parameter gradient accumulation.
func (n *Network) Unfreeze() { n.frozen = false }

// Frozen reports whether the network is frozen.
func (n *Network) Frozen() bool { return n.frozen }

// Clamp clips every parameter into [min, max].
func (n *Network) Clamp(min, max float64) {
	for _, p := range n.params {
		clip(p, min, max)
	}
}

// Parameters returns the live parameter tensors in layer order.
func (n *Network) Parameters() []*Tensor { return n.params }

// Gradients returns the live gradient tensors, aligned with Parameters.
func (n *Network) Gradients() []*Tensor { return n.grads }

// Snapshot deep-copies every parameter tensor.
func (n *Network) Snapshot() []*Tensor {
	out := make([]*Tensor, len(n.params))
	for i, p := range n.params {
		out[i] = p.Clone()
	}
	return out
}

// LearningRate of the attached optimizer, or 0 before Compile.
func (n *Network) LearningRate() float64 {
	if n.optimizer == nil {
		return 0
	}
	return n.optimizer.learningRate()
}

// SetLearningRate changes the attached optimizer's learning rate.
func (n *Network) SetLearningRate(lr float64) {
	if n.optimizer != nil {
		n.optimizer.setLearningRate(lr)
	}
}

// NumLayers returns the number of layers.
func (n *Network) NumLayers() int { return len(n.layers) }

// InputSize is the number of features per sample.
func (n *Network) InputSize() int { return n.inputSize }

// OutputSize is the width of the final layer.
func (n *Network) OutputSize() int { return n.LayerOutputSize(len(n.layers)) }

// LayerOutputSize is the width after the first k layers.
func (n *Network) LayerOutputSize(k int) int {
	if k <= 0 || k > len(n.layers) {
		return n.inputSize
	}
	size := 1
	for _, s := range n.layers[k-1].outputShape() {
		size *= s
	}
	return size
}

// TrainResult holds training output
type TrainResult struct {
	History      map[string][]float64
	FinalLoss    float64
	FinalMetrics map[string]float64
	Epochs       int
}

// Train fits the network to targets with the compiled loss. Each epoch
// uses floor(N / BatchSize) full batches.
func (n *Network) Train(inputs, targets *Tensor, config TrainConfig, callbacks []Callback) (*TrainResult, error) {
	if !n.compiled {
		return nil, ConfigError("Network", "network must be compiled before training")
	}
	if n.loss == nil {
		return nil, ConfigError("Network", "Train requires a compiled Loss")
	}
	if err := ValidateTrainConfig(config); err != nil {
		return nil, err
	}
	if inputs.Rows() == 0 {
		return nil, DimensionError("Network", "no training data provided")
	}
	if inputs.Rows() != targets.Rows() {
		return nil, DimensionError("Network", "inputs have %d rows, targets %d", inputs.Rows(), targets.Rows())
	}

	// Train on copies so shuffling never reorders the caller's data.
	trainX, trainY := inputs.Clone(), targets.Clone()
	var valX, valY *Tensor
	if config.ValidationSplit > 0 {
		trainX, trainY, valX, valY = splitRows(trainX, trainY, config.ValidationSplit)
		if valX.Rows() == 0 {
			valX, valY = nil, nil
		}
	}

	trainSize := trainX.Rows()
	numBatches := trainSize / config.BatchSize
	if numBatches == 0 {
		return nil, DimensionError("Network", "%d training samples cannot fill a batch of %d", trainSize, config.BatchSize)
	}

	result := &TrainResult{
		History:      make(map[string][]float64),
		FinalMetrics: make(map[string]float64),
	}
	logs := make(map[string]float64)

	for _, cb := range callbacks {
		cb.onTrainBegin(logs)
	}

	for epoch := 0; epoch < config.Epochs; epoch++ {
		for _, cb := range callbacks {
			cb.onEpochBegin(epoch, logs)
		}

		if config.Shuffle {
			shuffleRows(trainX, trainY, n.rng)
		}

		epochLoss := 0.0
		for _, m := range n.metrics {
			m.reset()
		}

		for batch := 0; batch < numBatches; batch++ {
			start := batch * config.BatchSize
			batchX := getBatch(trainX, start, config.BatchSize)
			batchY := getBatch(trainY, start, config.BatchSize)

			n.ZeroGrad()
			output, err := n.Forward(batchX, true)
			if err != nil {
				return nil, err
			}

			batchLoss := n.loss.Compute(output, batchY)
			for _, p := range n.params {
				batchLoss += n.regularizer.loss(p)
			}
			if err := CheckFinite(n.loss.Name(), "train", batchLoss); err != nil {
				return nil, err
			}
			epochLoss += batchLoss

			for _, m := range n.metrics {
				m.update(output, batchY)
			}

			if _, err := n.Backward(n.loss.Gradient(output, batchY)); err != nil {
				return nil, err
			}
			if err := n.Step(); err != nil {
				return nil, err
			}

			for _, cb := range callbacks {
				cb.onBatchEnd(batch, logs)
			}
		}

		logs["loss"] = epochLoss / float64(numBatches)
		for _, m := range n.metrics {
			logs[m.name()] = m.result()
		}

		if valX != nil {
			valResults, err := n.Evaluate(valX, valY)
			if err != nil {
				return nil, err
			}
			for k, v := range valResults {
				logs["val_"+k] = v
			}
		}

		for k, v := range logs {
			result.History[k] = append(result.History[k], v)
		}
		result.Epochs = epoch + 1

		stopTraining := false
		for _, cb := range callbacks {
			if cb.onEpochEnd(epoch, logs) {
				stopTraining = true
			}
		}
		if stopTraining {
			break
		}
	}

	for _, cb := range callbacks {
		cb.onTrainEnd(logs)
	}

	result.FinalLoss = logs["loss"]
	for _, m := range n.metrics {
		result.FinalMetrics[m.name()] = logs[m.name()]
	}

	return result, nil
}

// Predict runs inference on inputs
func (n *Network) Predict(inputs *Tensor) (*Tensor, error) {
	return n.Forward(inputs, false)
}

// Evaluate runs evaluation on test data
func (n *Network) Evaluate(inputs, targets *Tensor) (map[string]float64, error) {
	if !n.compiled || n.loss == nil {
		return nil, ConfigError("Network", "network must be compiled with a Loss before evaluation")
	}
	output, err := n.Forward(inputs, false)
	if err != nil {
		return nil, err
	}

	results := make(map[string]float64)
	results["loss"] = n.loss.Compute(output, targets)
	for _, m := range n.metrics {
		m.reset()
		m.update(output, targets)
		results[m.name()] = m.result()
	}
	return results, nil
}

// LayerState is the serialized form of one layer.
type LayerState struct {
	Name    string      `json:"name"`
	Shapes  [][]int     `json:"shapes"`
	Weights [][]float64 `json:"weights"`
	Buffers [][]float64 `json:"buffers,omitempty"`
}

// ModelState for serialization
type ModelState struct {
	InputShape []int        `json:"input_shape"`
	Layers     []LayerState `json:"layers"`
}

// State captures weights and running statistics.
func (n *Network) State() ModelState {
	state := ModelState{InputShape: n.inputShape}
	for _, layer := range n.layers {
		ls := LayerState{Name: layer.name()}
		for _, p := range layer.parameters() {
			ls.Shapes = append(ls.Shapes, p.Shape)
			ls.Weights = append(ls.Weights, append([]float64(nil), p.Data...))
		}
		if s, ok := layer.(statefulLayer); ok {
			for _, b := range s.state() {
				ls.Buffers = append(ls.Buffers, append([]float64(nil), b.Data...))
			}
		}
		state.Layers = append(state.Layers, ls)
	}
	return state
}

// SetState restores weights captured by State into a network of the same
// architecture.
func (n *Network) SetState(state ModelState) error {
	if len(state.Layers) != len(n.layers) {
		return DimensionError("Network", "state has %d layers, network has %d", len(state.Layers), len(n.layers))
	}
	for i, layer := range n.layers {
		ls := state.Layers[i]
		if ls.Name != layer.name() {
			return DimensionError("Network", "layer %d is %s, state holds %s", i, layer.name(), ls.Name)
		}
		params := layer.parameters()
		if len(ls.Weights) != len(params) {
			return DimensionError("Network", "layer %d: %d weight tensors, expected %d", i, len(ls.Weights), len(params))
		}
		for j, p := range params {
			if len(ls.Weights[j]) != len(p.Data) {
				return DimensionError("Network", "layer %d tensor %d: %d values, expected %d", i, j, len(ls.Weights[j]), len(p.Data))
			}
			copy(p.Data, ls.Weights[j])
		}
		if s, ok := layer.(statefulLayer); ok && len(ls.Buffers) > 0 {
			bufs := s.state()
			if len(ls.Buffers) != len(bufs) {
				return DimensionError("Network", "layer %d: %d buffers, expected %d", i, len(ls.Buffers), len(bufs))
			}
			for j, b := range bufs {
				if len(ls.Buffers[j]) != len(b.Data) {
					return DimensionError("Network", "layer %d buffer %d: %d values, expected %d", i, j, len(ls.Buffers[j]), len(b.Data))
				}
				copy(b.Data, ls.Buffers[j])
			}
		}
	}
	return nil
}

// Save saves model weights to file as JSON
func (n *Network) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return IOError("Network", "save", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(n.State()); err != nil {
		return IOError("Network", "save", errors.Wrap(err, path))
	}
	return nil
}

// Load loads model weights from file
func (n *Network) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return IOError("Network", "load", err)
	}
	defer file.Close()

	var state ModelState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return IOError("Network", "load", errors.Wrap(err, path))
	}
	return n.SetState(state)
}

// Summary describes the network architecture
func (n *Network) Summary() string {
	var b strings.Builder
	b.WriteString("Flow Network Summary\n")
	b.WriteString("====================\n")

	totalParams := 0
	for i, layer := range n.layers {
		layerParams := 0
		for _, p := range layer.parameters() {
			layerParams += p.Size()
		}
		totalParams += layerParams
		fmt.Fprintf(&b, "Layer %d: %s %v - %d params\n", i+1, layer.name(), layer.outputShape(), layerParams)
	}
	b.WriteString("====================\n")
	fmt.Fprintf(&b, "Total parameters: %d\n", totalParams)
	return b.String()
}
