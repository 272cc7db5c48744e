package flow

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"
)

func testDense(units int, act Activation) Layer {
	return Dense(units).
		WithActivation(act).
		WithInitializer(XavierNormal(1.0)).
		WithBiasInitializer(RandomNormal(0, 0.1)).
		WithBias(true).
		Build()
}

func testCompile(t *testing.T, n *Network) {
	t.Helper()
	err := n.Compile(CompileConfig{
		Optimizer:    Adam(AdamConfig{LR: 0.01, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}),
		Loss:         MSE(MSEConfig{Reduction: "mean"}),
		Regularizer:  NoReg(),
		GradientClip: NoClip(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func randomTensor(rng *rand.Rand, rows, cols int) *Tensor {
	x := NewTensor(rows, cols)
	x.FillNormal(0, 1, rng)
	return x
}

// projected returns sum(out * w), a scalar with gradient w.
func projected(out, w *Tensor) float64 {
	s := 0.0
	for i, v := range out.Data {
		s += v * w.Data[i]
	}
	return s
}

func checkGradients(t *testing.T, layers ...Layer) {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	b := NewNetwork(NetworkConfig{Seed: 7})
	for _, l := range layers {
		b.AddLayer(l)
	}
	net, err := b.Build([]int{5})
	if err != nil {
		t.Fatal(err)
	}
	x := randomTensor(rng, 4, 5)
	out, err := net.Forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	w := randomTensor(rng, out.Rows(), out.Cols())

	net.ZeroGrad()
	gradIn, err := net.Backward(w)
	if err != nil {
		t.Fatal(err)
	}

	const h = 1e-5
	eval := func() float64 {
		o, err := net.Forward(x, true)
		if err != nil {
			t.Fatal(err)
		}
		return projected(o, w)
	}

	for i := range x.Data {
		old := x.Data[i]
		x.Data[i] = old + h
		plus := eval()
		x.Data[i] = old - h
		minus := eval()
		x.Data[i] = old
		expected := (plus - minus) / (2 * h)
		if math.Abs(expected-gradIn.Data[i]) > 1e-4 {
			t.Errorf("input %d: expected gradient %f but got %f", i, expected, gradIn.Data[i])
		}
	}

	for pi, p := range net.Parameters() {
		g := net.Gradients()[pi]
		for i := range p.Data {
			old := p.Data[i]
			p.Data[i] = old + h
			plus := eval()
			p.Data[i] = old - h
			minus := eval()
			p.Data[i] = old
			expected := (plus - minus) / (2 * h)
			if math.Abs(expected-g.Data[i]) > 1e-4 {
				t.Errorf("param %d entry %d: expected gradient %f but got %f", pi, i, expected, g.Data[i])
			}
		}
	}
}

func TestDenseGradients(t *testing.T) {
	checkGradients(t, testDense(6, Tanh()), testDense(3, LeakyReLU(0.2)), testDense(2, Linear()))
}

func TestBatchNormGradients(t *testing.T) {
	checkGradients(t, testDense(6, Linear()), BatchNorm(1e-5, 0.9).Build(), testDense(2, Sigmoid()))
}

func TestLayerNormGradients(t *testing.T) {
	checkGradients(t, testDense(6, ELU(1.0)), LayerNorm(1e-5).Build(), testDense(2, Linear()))
}

func TestBackwardAccumulates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	net, err := NewNetwork(NetworkConfig{Seed: 1}).
		AddLayer(testDense(3, Tanh())).
		Build([]int{4})
	if err != nil {
		t.Fatal(err)
	}
	x := randomTensor(rng, 2, 4)
	w := randomTensor(rng, 2, 3)

	net.ZeroGrad()
	if _, err := net.Forward(x, true); err != nil {
		t.Fatal(err)
	}
	if _, err := net.Backward(w); err != nil {
		t.Fatal(err)
	}
	once := net.Gradients()[0].Clone()

	if _, err := net.Forward(x, true); err != nil {
		t.Fatal(err)
	}
	if _, err := net.Backward(w); err != nil {
		t.Fatal(err)
	}
	for i, v := range net.Gradients()[0].Data {
		if math.Abs(v-2*once.Data[i]) > 1e-12 {
			t.Fatalf("entry %d: expected accumulated %f but got %f", i, 2*once.Data[i], v)
		}
	}
}

func TestFrozenBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	net, err := NewNetwork(NetworkConfig{Seed: 2}).
		AddLayer(testDense(3, Tanh())).
		AddLayer(testDense(1, Linear())).
		Build([]int{4})
	if err != nil {
		t.Fatal(err)
	}
	testCompile(t, net)
	x := randomTensor(rng, 3, 4)

	if net.OutputSize() != 1 || net.LayerOutputSize(1) != 3 {
		t.Fatalf("unexpected widths %d and %d", net.OutputSize(), net.LayerOutputSize(1))
	}
	net.ZeroGrad()
	net.Freeze()
	if !net.Frozen() {
		t.Fatal("expected network to report frozen")
	}
	out, err := net.Forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	gradIn, err := net.Backward(Targets(out, 1))
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range net.Gradients() {
		if g.MaxAbs() != 0 {
			t.Fatal("frozen network accumulated parameter gradients")
		}
	}
	if gradIn.MaxAbs() == 0 {
		t.Fatal("frozen network should still propagate input gradients")
	}
	if err := net.Step(); !IsKind(err, KindConfig) {
		t.Fatalf("expected config error stepping a frozen network, got %v", err)
	}
	net.Unfreeze()

	ig, err := net.InputGradient(x)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range ig.Data {
		if math.Abs(v-gradIn.Data[i]) > 1e-12 {
			t.Fatalf("InputGradient entry %d: expected %f but got %f", i, gradIn.Data[i], v)
		}
	}
	for _, g := range net.Gradients() {
		if g.MaxAbs() != 0 {
			t.Fatal("InputGradient accumulated parameter gradients")
		}
	}
}

func TestStepRejectsNaN(t *testing.T) {
	net, err := NewNetwork(NetworkConfig{Seed: 3}).
		AddLayer(testDense(2, Linear())).
		Build([]int{2})
	if err != nil {
		t.Fatal(err)
	}
	testCompile(t, net)
	before := net.Snapshot()
	net.Gradients()[0].Data[0] = math.NaN()
	if err := net.Step(); !IsKind(err, KindNumerical) {
		t.Fatalf("expected numerical error, got %v", err)
	}
	for i, p := range net.Parameters() {
		for j, v := range p.Data {
			if v != before[i].Data[j] {
				t.Fatal("parameters changed despite NaN gradient")
			}
		}
	}
}

func TestClamp(t *testing.T) {
	net, err := NewNetwork(NetworkConfig{Seed: 4}).
		AddLayer(Dense(8).
			WithActivation(Linear()).
			WithInitializer(RandomNormal(0, 1)).
			WithBiasInitializer(Constant(3)).
			WithBias(true).
			Build()).
		Build([]int{8})
	if err != nil {
		t.Fatal(err)
	}
	net.Clamp(-0.01, 0.01)
	for _, p := range net.Parameters() {
		if p.MaxAbs() > 0.01 {
			t.Fatalf("parameter outside clamp bound: %f", p.MaxAbs())
		}
	}
}

func TestSaveLoad(t *testing.T) {
	build := func(seed int64) *Network {
		net, err := NewNetwork(NetworkConfig{Seed: seed}).
			AddLayer(testDense(4, ReLU())).
			AddLayer(BatchNorm(1e-5, 0.9).Build()).
			AddLayer(testDense(2, Linear())).
			Build([]int{3})
		if err != nil {
			t.Fatal(err)
		}
		return net
	}
	src := build(10)
	rng := rand.New(rand.NewSource(5))
	x := randomTensor(rng, 6, 3)
	if _, err := src.Forward(x, true); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "net.json")
	if err := src.Save(path); err != nil {
		t.Fatal(err)
	}
	dst := build(11)
	if err := dst.Load(path); err != nil {
		t.Fatal(err)
	}

	a, err := src.Predict(x)
	if err != nil {
		t.Fatal(err)
	}
	b, err := dst.Predict(x)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		if math.Abs(a.Data[i]-b.Data[i]) > 1e-12 {
			t.Fatalf("output %d: expected %f but got %f", i, a.Data[i], b.Data[i])
		}
	}

	other, err := NewNetwork(NetworkConfig{Seed: 1}).
		AddLayer(testDense(4, ReLU())).
		Build([]int{3})
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Load(path); !IsKind(err, KindDimension) {
		t.Fatalf("expected dimension error for mismatched architecture, got %v", err)
	}
	if err := dst.Load(filepath.Join(t.TempDir(), "missing.json")); !IsKind(err, KindIO) {
		t.Fatalf("expected io error, got %v", err)
	}
}

func TestTrainClassifier(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	const n = 200
	x := NewTensor(n, 2)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % 2
		labels[i] = c
		center := -1.5
		if c == 1 {
			center = 1.5
		}
		x.Data[i*2] = center + 0.3*rng.NormFloat64()
		x.Data[i*2+1] = center + 0.3*rng.NormFloat64()
	}
	y := OneHot(labels, 2)

	net, err := NewNetwork(NetworkConfig{Seed: 6}).
		AddLayer(testDense(8, ReLU())).
		AddLayer(Dense(2).
			WithActivation(Softmax()).
			WithInitializer(XavierNormal(1.0)).
			WithBiasInitializer(Zeros()).
			WithBias(true).
			Build()).
		Build([]int{2})
	if err != nil {
		t.Fatal(err)
	}
	err = net.Compile(CompileConfig{
		Optimizer:    Adam(AdamConfig{LR: 0.01, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}),
		Loss:         CrossEntropy(CrossEntropyConfig{}),
		Metrics:      []Metric{Accuracy()},
		Regularizer:  L2(1e-4),
		GradientClip: GradientClipConfig{Mode: "norm", MaxNorm: 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	history := History()
	res, err := net.Train(x, y, TrainConfig{Epochs: 20, BatchSize: 20, Shuffle: true, ValidationSplit: 0.1},
		[]Callback{history, EarlyStopping(EarlyStoppingConfig{Monitor: "loss", Patience: 50, Mode: "min"})})
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalMetrics["accuracy"] < 0.9 {
		t.Errorf("expected accuracy above 0.9, got %f", res.FinalMetrics["accuracy"])
	}
	if len(history.History["loss"]) != res.Epochs {
		t.Errorf("history has %d epochs, expected %d", len(history.History["loss"]), res.Epochs)
	}
	if _, ok := res.History["val_loss"]; !ok {
		t.Error("validation loss missing from history")
	}
}

func TestForwardShapeErrors(t *testing.T) {
	net, err := NewNetwork(NetworkConfig{Seed: 1}).
		AddLayer(testDense(2, Linear())).
		Build([]int{3})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := net.Forward(NewTensor(2, 4), false); !IsKind(err, KindDimension) {
		t.Fatalf("expected dimension error, got %v", err)
	}
	if _, err := net.Backward(NewTensor(2, 2)); err == nil {
		t.Fatal("expected error for backward before forward")
	}
}

func TestStepDecaySchedule(t *testing.T) {
	net, err := NewNetwork(NetworkConfig{Seed: 1}).
		AddLayer(testDense(2, Linear())).
		Build([]int{3})
	if err != nil {
		t.Fatal(err)
	}
	testCompile(t, net)
	s := NewSchedule(StepDecay(StepDecayConfig{StepSize: 2, Gamma: 0.5}), net)
	expected := []float64{0.01, 0.01, 0.005, 0.005, 0.0025}
	for epoch, lr := range expected {
		if got := s.Apply(epoch); math.Abs(got-lr) > 1e-15 || net.LearningRate() != got {
			t.Errorf("epoch %d: expected lr %g but got %g", epoch, lr, got)
		}
	}
}
