package gan

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"

	"ganflow/data"
	"ganflow/flow"
)

var testShape = data.ImageShape{Channels: 1, Height: 4, Width: 4}

func testConfig(t *testing.T, name string) Config {
	t.Helper()
	c, err := DefaultConfig(name)
	if err != nil {
		t.Fatal(err)
	}
	c.Shape = testShape
	c.Classes = 4
	c.NoiseDim = 8
	c.Hidden = []int{16, 16}
	c.EmbedDim = 4
	c.Seed = 1
	switch name {
	case "InfoGAN":
		c.Codes = CodeLayout{Discrete: 4, Continuous: 2}
	case "AAE":
		c.NoiseDim = 4
	}
	return c
}

func testLoader(t *testing.T, samples, batch int) *data.Loader {
	t.Helper()
	ds, err := data.Synthetic(data.SyntheticConfig{Samples: samples, Classes: 4, Shape: testShape, Noise: 0.05, Seed: 2})
	if err != nil {
		t.Fatal(err)
	}
	l, err := data.NewLoader(ds, data.LoaderConfig{BatchSize: batch, Shuffle: true, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func nextBatch(t *testing.T, l *data.Loader) data.Batch {
	t.Helper()
	b, err := l.Next()
	if errors.Cause(err) == data.ErrEndOfEpoch {
		if err := l.Reset(); err != nil {
			t.Fatal(err)
		}
		b, err = l.Next()
	}
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestStrategy(t *testing.T, name string, cfg Config) Strategy {
	t.Helper()
	s, err := New(name, cfg)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return s
}

func TestVariantsEndToEnd(t *testing.T) {
	for _, name := range Variants() {
		s := newTestStrategy(t, name, testConfig(t, name))
		l := testLoader(t, 64, 32)
		for i := 0; i < 2; i++ {
			losses, err := s.Step(nextBatch(t, l))
			if err != nil {
				t.Fatalf("%s step %d: %v", name, i, err)
			}
			if math.IsNaN(losses.D) || math.IsInf(losses.D, 0) || math.IsNaN(losses.G) || math.IsInf(losses.G, 0) {
				t.Fatalf("%s: non-finite losses %+v", name, losses)
			}
		}
		z := s.Noise(6)
		if z.Cols() != s.NoiseDim() {
			t.Fatalf("%s: noise has %d columns, expected %d", name, z.Cols(), s.NoiseDim())
		}
		out, err := s.Sample(z, nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if out.Rows() != 6 || out.Cols() != testShape.Size() {
			t.Fatalf("%s: sample shape %v", name, out.Shape)
		}
		if out.MaxAbs() > 1 {
			t.Fatalf("%s: samples outside [-1, 1]", name)
		}
	}
}

func TestEveryParameterChanges(t *testing.T) {
	for _, name := range Variants() {
		cfg := testConfig(t, name)
		s := newTestStrategy(t, name, cfg)
		before := map[string][]*flow.Tensor{}
		for role, n := range s.Networks() {
			before[role] = n.Snapshot()
		}
		l := testLoader(t, 64, 16)
		for i := 0; i < cfg.CriticIters; i++ {
			if _, err := s.Step(nextBatch(t, l)); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
		}
		for role, n := range s.Networks() {
			for i, p := range n.Parameters() {
				old := before[role][i]
				changed := false
				for j := range p.Data {
					if p.Data[j] != old.Data[j] {
						changed = true
						break
					}
				}
				if !changed {
					t.Errorf("%s: %s parameter %d did not change", name, role, i)
				}
			}
		}
	}
}

func TestWGANStepsGeneratorOncePerCycle(t *testing.T) {
	cfg := testConfig(t, "WGAN")
	s := newTestStrategy(t, "WGAN", cfg)
	l := testLoader(t, 64, 16)
	for i := 0; i < 2*cfg.CriticIters; i++ {
		losses, err := s.Step(nextBatch(t, l))
		if err != nil {
			t.Fatal(err)
		}
		want := i%cfg.CriticIters == cfg.CriticIters-1
		if losses.GStepped != want {
			t.Fatalf("iteration %d: expected generator step %v", i, want)
		}
	}
}

func TestWGANClampsCritic(t *testing.T) {
	cfg := testConfig(t, "WGAN")
	s := newTestStrategy(t, "WGAN", cfg)
	l := testLoader(t, 64, 16)
	d := s.Networks()["D"]
	for i := 0; i < 50; i++ {
		if _, err := s.Step(nextBatch(t, l)); err != nil {
			t.Fatal(err)
		}
		for _, p := range d.Parameters() {
			if m := p.MaxAbs(); m > cfg.ClipBound {
				t.Fatalf("iteration %d: critic weight %g exceeds %g", i, m, cfg.ClipBound)
			}
		}
	}
}

func TestBEGANKeepsKtInRange(t *testing.T) {
	s := newTestStrategy(t, "BEGAN", testConfig(t, "BEGAN"))
	l := testLoader(t, 64, 16)
	for i := 0; i < 20; i++ {
		losses, err := s.Step(nextBatch(t, l))
		if err != nil {
			t.Fatal(err)
		}
		if kt := losses.Extra["kt"]; kt < 0 || kt > 1 {
			t.Fatalf("iteration %d: kt %g outside [0, 1]", i, kt)
		}
		if losses.Extra["M"] < 0 {
			t.Fatalf("negative convergence measure %g", losses.Extra["M"])
		}
	}
}

func TestEquilibrium(t *testing.T) {
	e := Equilibrium{Gamma: 0.5, Lambda: 0.1}
	m, err := e.Update(100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if e.Kt != 1 {
		t.Fatalf("expected kt clamped to 1, got %g", e.Kt)
	}
	if math.Abs(m-150) > 1e-9 {
		t.Fatalf("expected M = 150, got %g", m)
	}
	if _, err := e.Update(0, 100); err != nil {
		t.Fatal(err)
	}
	if e.Kt != 0 {
		t.Fatalf("expected kt clamped to 0, got %g", e.Kt)
	}
	e.Kt = 0.3
	if _, err := e.Update(math.NaN(), 1); !flow.IsKind(err, flow.KindNumerical) {
		t.Fatalf("expected a numerical error, got %v", err)
	}
	if e.Kt != 0.3 {
		t.Fatalf("kt changed on a failed update: %g", e.Kt)
	}
}

func TestEquilibriumEqualLosses(t *testing.T) {
	for _, v := range []float64{0, 1e-12, 1, 1e6} {
		for _, start := range []float64{0, 1} {
			e := Equilibrium{Kt: start, Gamma: 0.5, Lambda: 1e-3}
			for i := 0; i < 1000; i++ {
				m, err := e.Update(v, v)
				if err != nil {
					t.Fatalf("loss %g from kt %g: %v", v, start, err)
				}
				if e.Kt < 0 || e.Kt > 1 {
					t.Fatalf("loss %g from kt %g: kt %g outside [0, 1] after %d updates", v, start, e.Kt, i+1)
				}
				if m < 0 {
					t.Fatalf("loss %g from kt %g: negative convergence measure %g", v, start, m)
				}
			}
		}
	}
}

// unitCritic is D(x) = w·x with ‖w‖ = 1, so every input gradient has
// unit norm.
type unitCritic struct {
	w     []float64
	x     *flow.Tensor
	calls int
}

func (c *unitCritic) Forward(x *flow.Tensor, training bool) (*flow.Tensor, error) {
	c.x = x
	out := flow.NewTensor(x.Rows(), 1)
	for i := 0; i < x.Rows(); i++ {
		for j, v := range x.Row(i) {
			out.Data[i] += v * c.w[j]
		}
	}
	return out, nil
}

func (c *unitCritic) Backward(gradOut *flow.Tensor) (*flow.Tensor, error) {
	c.calls++
	return flow.NewTensor(c.x.Shape...), nil
}

func (c *unitCritic) InputGradient(x *flow.Tensor) (*flow.Tensor, error) {
	g := flow.NewTensor(x.Shape...)
	for i := 0; i < x.Rows(); i++ {
		copy(g.Row(i), c.w)
	}
	return g, nil
}

func TestGradientPenaltyZeroForUnitGradients(t *testing.T) {
	c := &unitCritic{w: []float64{0.6, 0, -0.8}}
	x := flow.NewTensor(5, 3)
	x.FillNormal(0, 1, rand.New(rand.NewSource(1)))
	gp, err := GradientPenalty(c, x, 10)
	if err != nil {
		t.Fatal(err)
	}
	if gp > 1e-12 {
		t.Fatalf("expected zero penalty, got %g", gp)
	}
}

func TestGradientPenaltyParameterGradient(t *testing.T) {
	net, err := flow.NewNetwork(flow.NetworkConfig{Seed: 5}).
		AddLayer(flow.Dense(3).WithActivation(flow.Tanh()).WithInitializer(flow.XavierNormal(1.0)).
			WithBiasInitializer(flow.RandomNormal(0, 0.1)).WithBias(true).Build()).
		AddLayer(flow.Dense(1).WithActivation(flow.Linear()).WithInitializer(flow.XavierNormal(1.0)).
			WithBiasInitializer(flow.Zeros()).WithBias(true).Build()).
		Build([]int{4})
	if err != nil {
		t.Fatal(err)
	}
	x := flow.NewTensor(3, 4)
	x.FillNormal(0, 1, rand.New(rand.NewSource(2)))
	const lambda = 10.0

	net.ZeroGrad()
	if _, err := GradientPenalty(net, x, lambda); err != nil {
		t.Fatal(err)
	}
	analytic := make([]*flow.Tensor, 0)
	for _, g := range net.Gradients() {
		analytic = append(analytic, g.Clone())
	}

	const h = 1e-5
	for pi, p := range net.Parameters() {
		for j := range p.Data {
			old := p.Data[j]
			p.Data[j] = old + h
			plus, err := GradientPenalty(net, x, lambda)
			if err != nil {
				t.Fatal(err)
			}
			p.Data[j] = old - h
			minus, err := GradientPenalty(net, x, lambda)
			if err != nil {
				t.Fatal(err)
			}
			p.Data[j] = old
			expected := (plus - minus) / (2 * h)
			got := analytic[pi].Data[j]
			if math.Abs(expected-got) > 1e-4+1e-3*math.Abs(expected) {
				t.Errorf("parameter %d entry %d: expected %g but got %g", pi, j, expected, got)
			}
		}
	}
}

func TestPullingAway(t *testing.T) {
	orth, _ := flow.FromRows([][]float64{{1, 0, 0}, {0, 2, 0}, {0, 0, 3}})
	if v, _ := PullingAway(orth); math.Abs(v) > 1e-12 {
		t.Fatalf("orthogonal rows: expected 0, got %g", v)
	}
	same, _ := flow.FromRows([][]float64{{1, 2, 2}, {2, 4, 4}})
	if v, _ := PullingAway(same); math.Abs(v-1) > 1e-9 {
		t.Fatalf("parallel rows: expected 1, got %g", v)
	}

	e := flow.NewTensor(4, 3)
	e.FillNormal(0, 1, rand.New(rand.NewSource(6)))
	_, grad := PullingAway(e)
	const h = 1e-6
	for i := range e.Data {
		old := e.Data[i]
		e.Data[i] = old + h
		plus, _ := PullingAway(e)
		e.Data[i] = old - h
		minus, _ := PullingAway(e)
		e.Data[i] = old
		expected := (plus - minus) / (2 * h)
		if math.Abs(expected-grad.Data[i]) > 1e-6 {
			t.Errorf("entry %d: expected gradient %g but got %g", i, expected, grad.Data[i])
		}
	}
}

func TestAAEEncodesToNoiseSpace(t *testing.T) {
	cfg := testConfig(t, "AAE")
	s := newTestStrategy(t, "AAE", cfg).(*aae)
	b := nextBatch(t, testLoader(t, 32, 16))
	z, err := s.Encode(b.Images)
	if err != nil {
		t.Fatal(err)
	}
	if z.Rows() != 16 || z.Cols() != cfg.NoiseDim {
		t.Fatalf("expected codes of shape [16 %d], got %v", cfg.NoiseDim, z.Shape)
	}
	recon, err := s.Sample(z, nil)
	if err != nil {
		t.Fatal(err)
	}
	if recon.Cols() != testShape.Size() {
		t.Fatalf("reconstruction has width %d", recon.Cols())
	}
}

func TestACGANLearnsClasses(t *testing.T) {
	cfg := testConfig(t, "ACGAN")
	cfg.LRG, cfg.LRD = 2e-3, 2e-3
	s := newTestStrategy(t, "ACGAN", cfg)
	l := testLoader(t, 256, 32)
	for i := 0; i < 200; i++ {
		if _, err := s.Step(nextBatch(t, l)); err != nil {
			t.Fatal(err)
		}
	}
	ds := l.Dataset()
	scores, err := s.(*acgan).Classify(ds.Images)
	if err != nil {
		t.Fatal(err)
	}
	if acc := flow.ClassAccuracy(scores, ds.Labels); acc <= 0.5 {
		t.Fatalf("expected auxiliary accuracy > 0.5, got %.3f", acc)
	}
}

// bandClass assigns each sample the class whose pixel band is brightest.
func bandClass(x *flow.Tensor, classes int) []int {
	band := x.Cols() / classes
	out := make([]int, x.Rows())
	for i := 0; i < x.Rows(); i++ {
		row := x.Row(i)
		best, bestSum := 0, math.Inf(-1)
		for k := 0; k < classes; k++ {
			sum := 0.0
			for _, v := range row[k*band : (k+1)*band] {
				sum += v
			}
			if sum > bestSum {
				best, bestSum = k, sum
			}
		}
		out[i] = best
	}
	return out
}

func TestCGANFollowsLabels(t *testing.T) {
	cfg := testConfig(t, "CGAN")
	cfg.LRG, cfg.LRD = 1e-3, 1e-3
	cfg.Hidden = []int{32, 32}
	s := newTestStrategy(t, "CGAN", cfg)
	l := testLoader(t, 256, 32)
	for i := 0; i < 400; i++ {
		if _, err := s.Step(nextBatch(t, l)); err != nil {
			t.Fatal(err)
		}
	}
	labels := make([]int, 200)
	for i := range labels {
		labels[i] = i % cfg.Classes
	}
	out, err := s.Sample(s.Noise(len(labels)), labels)
	if err != nil {
		t.Fatal(err)
	}
	pred := bandClass(out, cfg.Classes)
	correct := 0
	for i, p := range pred {
		if p == labels[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(len(labels)); acc <= 0.5 {
		t.Fatalf("expected conditional accuracy > 0.5, got %.3f", acc)
	}
}

func TestUnknownVariant(t *testing.T) {
	if _, err := New("VAEGAN", Config{}); !flow.IsKind(err, flow.KindConfig) {
		t.Fatalf("expected a config error, got %v", err)
	}
	if _, err := DefaultConfig("VAEGAN"); !flow.IsKind(err, flow.KindConfig) {
		t.Fatalf("expected a config error, got %v", err)
	}
	if n := len(Variants()); n != 11 {
		t.Fatalf("expected 11 variants, got %d", n)
	}
}

func TestInvalidConfigs(t *testing.T) {
	cfg := testConfig(t, "WGAN")
	cfg.ClipBound = 0
	if _, err := NewWGAN(cfg); !flow.IsKind(err, flow.KindConfig) {
		t.Fatalf("expected a config error, got %v", err)
	}
	cfg = testConfig(t, "InfoGAN")
	cfg.Supervised = true
	cfg.Codes.Discrete = 3
	if _, err := NewInfoGAN(cfg); !flow.IsKind(err, flow.KindConfig) {
		t.Fatalf("expected a config error, got %v", err)
	}
	cfg = testConfig(t, "GAN")
	cfg.Hidden = nil
	if _, err := NewGAN(cfg); !flow.IsKind(err, flow.KindConfig) {
		t.Fatalf("expected a config error, got %v", err)
	}
}

func TestStepRejectsMismatchedBatch(t *testing.T) {
	s := newTestStrategy(t, "GAN", testConfig(t, "GAN"))
	b := data.Batch{Images: flow.NewTensor(4, 9), Labels: make([]int, 4)}
	if _, err := s.Step(b); !flow.IsKind(err, flow.KindDimension) {
		t.Fatalf("expected a dimension error, got %v", err)
	}
}

func snapshots(s Strategy) map[string][]*flow.Tensor {
	out := map[string][]*flow.Tensor{}
	for role, n := range s.Networks() {
		out[role] = n.Snapshot()
	}
	return out
}

func assertUnchanged(t *testing.T, s Strategy, before map[string][]*flow.Tensor) {
	t.Helper()
	for role, n := range s.Networks() {
		for i, p := range n.Parameters() {
			for j, v := range p.Data {
				if old := before[role][i].Data[j]; v != old && !(math.IsNaN(v) && math.IsNaN(old)) {
					t.Fatalf("%s parameter %d changed after a rejected step", role, i)
				}
			}
		}
	}
}

func TestStepRejectsNonFiniteBatch(t *testing.T) {
	for _, name := range []string{"GAN", "WGAN_GP", "BEGAN"} {
		s := newTestStrategy(t, name, testConfig(t, name))
		b := nextBatch(t, testLoader(t, 32, 16))
		b.Images.Data[5] = math.NaN()
		before := snapshots(s)
		if _, err := s.Step(b); !flow.IsKind(err, flow.KindNumerical) {
			t.Fatalf("%s: expected a numerical error, got %v", name, err)
		}
		assertUnchanged(t, s, before)
	}
}

func TestStepSkipsUpdateOnNonFiniteLoss(t *testing.T) {
	cfg := testConfig(t, "LSGAN")
	cfg.Hidden = []int{16}
	s := newTestStrategy(t, "LSGAN", cfg)
	b := nextBatch(t, testLoader(t, 32, 16))
	// finite inputs whose squared scores overflow
	b.Images.Fill(1e200)
	before := snapshots(s)
	if _, err := s.Step(b); !flow.IsKind(err, flow.KindNumerical) {
		t.Fatalf("expected a numerical error, got %v", err)
	}
	assertUnchanged(t, s, before)
}
