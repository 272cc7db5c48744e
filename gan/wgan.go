package gan

import (
	"math/rand"

	"ganflow/data"
	"ganflow/flow"
)

// wasserstein trains a critic on mean D(fake) − mean D(real). The
// Lipschitz constraint comes from weight clipping (WGAN) or a gradient
// penalty on interpolates (WGAN_GP). The generator steps once every
// CriticIters iterations.
type wasserstein struct {
	name      string
	cfg       Config
	g, d      *flow.Network
	rng       *rand.Rand
	penalised bool
	iter      int
	lastG     float64
}

// NewWGAN builds the weight-clipped Wasserstein GAN.
func NewWGAN(cfg Config) (Strategy, error) {
	if cfg.ClipBound <= 0 {
		return nil, flow.ConfigError("WGAN", "clip bound must be > 0, got %g", cfg.ClipBound)
	}
	return newWasserstein("WGAN", cfg, false)
}

// NewWGANGP builds the Wasserstein GAN with gradient penalty. Its critic
// uses layer normalization so per-sample input gradients are independent.
func NewWGANGP(cfg Config) (Strategy, error) {
	if cfg.Lambda < 0 {
		return nil, flow.ConfigError("WGAN_GP", "penalty weight must be >= 0, got %g", cfg.Lambda)
	}
	return newWasserstein("WGAN_GP", cfg, true)
}

func newWasserstein(name string, cfg Config, penalised bool) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dNorm := batchNorm
	if penalised {
		dNorm = layerNorm
	}
	nb := &networkBuilder{cfg: cfg}
	w := &wasserstein{
		name:      name,
		cfg:       cfg,
		g:         nb.generator(cfg.NoiseDim),
		d:         nb.critic(cfg.ImageDim(), dNorm),
		rng:       nb.rng(),
		penalised: penalised,
	}
	if nb.err != nil {
		return nil, nb.err
	}
	return w, nil
}

func (w *wasserstein) Name() string  { return w.name }
func (w *wasserstein) NoiseDim() int { return w.cfg.NoiseDim }

func (w *wasserstein) Noise(n int) *flow.Tensor {
	return noise(w.rng, w.cfg.Prior, n, w.cfg.NoiseDim)
}

func (w *wasserstein) Networks() map[string]*flow.Network {
	return map[string]*flow.Network{"G": w.g, "D": w.d}
}

func (w *wasserstein) Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error) {
	return w.g.Forward(z, false)
}

// generatorTurn reports whether the current iteration ends a critic cycle.
func (w *wasserstein) generatorTurn() bool {
	return w.iter%w.cfg.CriticIters == w.cfg.CriticIters-1
}

func (w *wasserstein) Step(real data.Batch) (Losses, error) {
	if err := checkBatch(w.name, w.cfg, real.Images, real.Labels); err != nil {
		return Losses{}, err
	}
	x := real.Images
	z := w.Noise(x.Rows())

	// critic
	w.d.ZeroGrad()
	outReal, err := w.d.Forward(x, true)
	if err != nil {
		return Losses{}, err
	}
	if _, err := w.d.Backward(meanGradient(outReal, -1)); err != nil {
		return Losses{}, err
	}
	fake, err := w.g.Forward(z, true)
	if err != nil {
		return Losses{}, err
	}
	outFake, err := w.d.Forward(fake, true)
	if err != nil {
		return Losses{}, err
	}
	if _, err := w.d.Backward(meanGradient(outFake, 1)); err != nil {
		return Losses{}, err
	}
	distance := outReal.Mean() - outFake.Mean()
	losses := Losses{
		D:     -distance,
		G:     w.lastG,
		Extra: map[string]float64{"wasserstein": distance},
	}
	if w.penalised {
		gp, err := GradientPenalty(w.d, interpolate(w.rng, x, fake), w.cfg.Lambda)
		if err != nil {
			return Losses{}, err
		}
		losses.D += gp
		losses.Extra["penalty"] = gp
	}
	if err := stepAll(w.name, "critic", losses.D, w.d); err != nil {
		return Losses{}, err
	}
	if !w.penalised {
		w.d.Clamp(-w.cfg.ClipBound, w.cfg.ClipBound)
	}

	turn := w.generatorTurn()
	w.iter++
	if !turn {
		return losses, nil
	}

	// generator
	w.g.ZeroGrad()
	gLoss, gx, err := throughFrozen(w.d, fake, func(out *flow.Tensor) (float64, *flow.Tensor) {
		return -out.Mean(), meanGradient(out, -1)
	})
	if err != nil {
		return Losses{}, err
	}
	if _, err := w.g.Backward(gx); err != nil {
		return Losses{}, err
	}
	if err := stepAll(w.name, "generator", gLoss, w.g); err != nil {
		return Losses{}, err
	}
	w.lastG = gLoss
	losses.G = gLoss
	losses.GStepped = true
	return losses, nil
}
