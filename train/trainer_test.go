package train

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"ganflow/data"
	"ganflow/fid"
	"ganflow/flow"
	"ganflow/gan"
	"ganflow/visual"
)

var testShape = data.ImageShape{Channels: 1, Height: 4, Width: 4}

type fixture struct {
	cfg      Config
	strategy gan.Strategy
	loader   *data.Loader
	logger   *logrus.Logger
	hook     *logtest.Hook
}

func newFixture(t *testing.T, epochs int) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		Dataset:    "synthetic",
		GANType:    "GAN",
		Epochs:     epochs,
		BatchSize:  32,
		SaveDir:    filepath.Join(root, "models"),
		ResultDir:  filepath.Join(root, "results"),
		LogDir:     filepath.Join(root, "logs"),
		LogEvery:   1,
		FIDSamples: 48,
	}
	for _, dir := range []string{cfg.ModelDir(), cfg.ResultPath(), cfg.LogPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	gc, err := gan.DefaultConfig("GAN")
	if err != nil {
		t.Fatal(err)
	}
	gc.Shape = testShape
	gc.NoiseDim = 4
	gc.Classes = 4
	gc.Hidden = []int{8}
	s, err := gan.New("GAN", gc)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := data.Synthetic(data.SyntheticConfig{Samples: 64, Classes: 4, Shape: testShape, Noise: 0.05, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	l, err := data.NewLoader(ds, data.LoaderConfig{BatchSize: 32, Shuffle: true, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return &fixture{cfg: cfg, strategy: s, loader: l, logger: logger, hook: hook}
}

func (f *fixture) grid(t *testing.T) *visual.Grid {
	t.Helper()
	g, err := visual.NewGrid(visual.GridConfig{Dir: f.cfg.ResultPath(), Prefix: f.cfg.GANType, Shape: testShape, Samples: 16, Scale: 2})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestTrainEndToEnd(t *testing.T) {
	f := newFixture(t, 1)
	grid := f.grid(t)
	tr, err := New(f.cfg, f.strategy, f.loader, f.logger, Standard(f.cfg, grid)...)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tr.Train(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(h.DLoss) != 2 || len(h.GLoss) != 2 || tr.Iteration() != 2 {
		t.Fatalf("expected 2 iterations, got %d losses", len(h.DLoss))
	}
	for i := range h.DLoss {
		if math.IsNaN(h.DLoss[i]) || math.IsNaN(h.GLoss[i]) {
			t.Fatalf("non-finite loss at iteration %d", i)
		}
	}
	if len(h.PerEpochTime) != 1 || h.TotalTime <= 0 {
		t.Fatalf("missing timings: %+v", h)
	}

	for _, role := range []string{"G", "D"} {
		if _, err := os.Stat(CheckpointPath(f.cfg.ModelDir(), "GAN", role)); err != nil {
			t.Fatalf("checkpoint for %s: %v", role, err)
		}
	}
	saved, err := LoadHistory(filepath.Join(f.cfg.ModelDir(), "GAN_history.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.DLoss) != 2 {
		t.Fatalf("saved history has %d entries", len(saved.DLoss))
	}
	if _, err := os.Stat(grid.Path(1)); err != nil {
		t.Fatal(err)
	}

	score, err := tr.Finish(context.Background(), grid, fid.NewEvaluator(fid.Identity()))
	if err != nil {
		t.Fatal(err)
	}
	if score < 0 || math.IsNaN(score) {
		t.Fatalf("invalid score %g", score)
	}
	text, err := os.ReadFile(filepath.Join(f.cfg.ResultPath(), "fid.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(text), "FID : ") || !strings.HasSuffix(string(text), " ") {
		t.Fatalf("unexpected score file %q", text)
	}
}

func TestIOErrorsAreSkipped(t *testing.T) {
	f := newFixture(t, 1)
	missing := filepath.Join(t.TempDir(), "missing")
	tr, err := New(f.cfg, f.strategy, f.loader, f.logger,
		Checkpoint(missing, "GAN", 1),
		SaveHistory(filepath.Join(missing, "history.json")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Train(context.Background()); err != nil {
		t.Fatalf("expected write failures to be skipped, got %v", err)
	}
	warnings := 0
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings == 0 {
		t.Fatal("expected skipped writes to be logged")
	}
}

type failingCallback struct {
	base
	err error
}

func (c *failingCallback) onIteration(t *Trainer, l gan.Losses) error { return c.err }
func (c *failingCallback) name() string                               { return "failing" }

func TestOtherCallbackErrorsStopTraining(t *testing.T) {
	f := newFixture(t, 3)
	tr, err := New(f.cfg, f.strategy, f.loader, f.logger,
		&failingCallback{err: flow.NumericalError("test", "callback", "boom")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Train(context.Background()); !flow.IsKind(err, flow.KindNumerical) {
		t.Fatalf("expected a numerical error, got %v", err)
	}
	if tr.Iteration() != 1 {
		t.Fatalf("expected training to stop after 1 iteration, got %d", tr.Iteration())
	}
}

func TestTrainStopsOnCancel(t *testing.T) {
	f := newFixture(t, 2)
	tr, err := New(f.cfg, f.strategy, f.loader, f.logger)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Train(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.Iteration() != 0 {
		t.Fatalf("expected no steps, got %d", tr.Iteration())
	}
}

func TestLRDecay(t *testing.T) {
	f := newFixture(t, 2)
	g := f.strategy.Networks()["G"]
	initial := g.LearningRate()
	tr, err := New(f.cfg, f.strategy, f.loader, f.logger, LRDecay(flow.StepDecay(flow.StepDecayConfig{StepSize: 1, Gamma: 0.5})))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := g.LearningRate(); math.Abs(got-initial*0.5) > 1e-15 {
		t.Fatalf("expected learning rate %g, got %g", initial*0.5, got)
	}
}

func TestLinearDecayFromStandard(t *testing.T) {
	f := newFixture(t, 4)
	f.cfg.Decay = "linear"
	d := f.strategy.Networks()["D"]
	initial := d.LearningRate()
	tr, err := New(f.cfg, f.strategy, f.loader, f.logger, Standard(f.cfg, nil)...)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	// the last epoch runs at 1/4 of the initial rate
	if got := d.LearningRate(); math.Abs(got-initial/4) > 1e-12*initial {
		t.Fatalf("expected learning rate %g, got %g", initial/4, got)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []Config{
		{Dataset: "mnist", GANType: "GAN", Epochs: 0, BatchSize: 32},
		{Dataset: "mnist", GANType: "GAN", Epochs: 1, BatchSize: 1},
		{Dataset: "mnist", GANType: "GAN", Epochs: 1, BatchSize: 32, FIDSamples: -1},
		{Dataset: "mnist", GANType: "GAN", Epochs: 1, BatchSize: 32, Decay: "step", DecayStep: 2, DecayGamma: 0},
		{Dataset: "mnist", GANType: "GAN", Epochs: 1, BatchSize: 32, Decay: "cosine"},
	}
	for i, c := range cases {
		if err := c.Validate(); !flow.IsKind(err, flow.KindConfig) {
			t.Errorf("case %d: expected a config error, got %v", i, err)
		}
	}
}
