package gan

import (
	"math/rand"

	"ganflow/data"
	"ganflow/flow"
)

// adversarial is the classic two-player setup: D scores real and fake
// samples against targets 1 and 0 under loss, G is trained through a
// frozen D towards target 1. GAN, LSGAN, CGAN and DRAGAN differ only in
// the loss, conditioning and penalty.
type adversarial struct {
	name        string
	cfg         Config
	g, d        *flow.Network
	loss        flow.Loss
	conditional bool
	// penalty, when set, adds a regularizer on the real batch to the
	// discriminator loss and accumulates its gradient.
	penalty func(x *flow.Tensor) (float64, error)
	rng     *rand.Rand
}

func newAdversarial(name string, cfg Config, loss flow.Loss, conditional bool, dNorm norm) (*adversarial, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gIn, dIn := cfg.NoiseDim, cfg.ImageDim()
	if conditional {
		if err := cfg.requireClasses(name); err != nil {
			return nil, err
		}
		gIn += cfg.Classes
		dIn += cfg.Classes
	}
	nb := &networkBuilder{cfg: cfg}
	a := &adversarial{
		name:        name,
		cfg:         cfg,
		g:           nb.generator(gIn),
		d:           nb.discriminator(dIn, 1, dNorm),
		loss:        loss,
		conditional: conditional,
		rng:         nb.rng(),
	}
	if nb.err != nil {
		return nil, nb.err
	}
	return a, nil
}

// NewGAN builds the standard GAN: binary cross entropy on D's logits.
func NewGAN(cfg Config) (Strategy, error) {
	return asStrategy(newAdversarial("GAN", cfg, bce, false, batchNorm))
}

// NewLSGAN builds the least-squares GAN: D's linear score regresses to
// 1 for real and 0 for fake samples.
func NewLSGAN(cfg Config) (Strategy, error) {
	return asStrategy(newAdversarial("LSGAN", cfg, mse, false, batchNorm))
}

// NewCGAN builds the conditional GAN: the one-hot label is appended to
// G's noise and to D's input.
func NewCGAN(cfg Config) (Strategy, error) {
	return asStrategy(newAdversarial("CGAN", cfg, bce, true, batchNorm))
}

// NewDRAGAN builds DRAGAN: GAN plus a gradient penalty at points
// interpolated between real samples and noisy copies of them.
func NewDRAGAN(cfg Config) (Strategy, error) {
	if cfg.Lambda < 0 || cfg.PerturbScale <= 0 {
		return nil, flow.ConfigError("DRAGAN", "need lambda >= 0 and perturbation scale > 0, got %g and %g", cfg.Lambda, cfg.PerturbScale)
	}
	a, err := newAdversarial("DRAGAN", cfg, bce, false, layerNorm)
	if err != nil {
		return nil, err
	}
	a.penalty = a.localPenalty
	return a, nil
}

// localPenalty perturbs x by PerturbScale·std(x)·N(0,1) and penalises D
// between x and the perturbed copy.
func (a *adversarial) localPenalty(x *flow.Tensor) (float64, error) {
	scale := a.cfg.PerturbScale * data.StdDev(x)
	perturbed := x.Clone()
	for i := range perturbed.Data {
		perturbed.Data[i] += scale * a.rng.NormFloat64()
	}
	return GradientPenalty(a.d, interpolate(a.rng, x, perturbed), a.cfg.Lambda)
}

func asStrategy(a *adversarial, err error) (Strategy, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *adversarial) Name() string { return a.name }

func (a *adversarial) NoiseDim() int { return a.cfg.NoiseDim }

func (a *adversarial) Noise(n int) *flow.Tensor {
	return noise(a.rng, a.cfg.Prior, n, a.cfg.NoiseDim)
}

func (a *adversarial) Networks() map[string]*flow.Network {
	return map[string]*flow.Network{"G": a.g, "D": a.d}
}

func (a *adversarial) Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error) {
	in := z
	if a.conditional {
		ls, err := cycleLabels(labels, z.Rows(), a.cfg.Classes)
		if err != nil {
			return nil, err
		}
		if in, err = conditioned(z, ls, a.cfg.Classes); err != nil {
			return nil, err
		}
	}
	return a.g.Forward(in, false)
}

func (a *adversarial) Step(real data.Batch) (Losses, error) {
	if err := checkBatch(a.name, a.cfg, real.Images, real.Labels); err != nil {
		return Losses{}, err
	}
	n := real.Images.Rows()
	x := real.Images
	gIn := a.Noise(n)
	dReal := x
	var fakeLabels []int
	var err error
	if a.conditional {
		fakeLabels = randomLabels(a.rng, n, a.cfg.Classes)
		if gIn, err = conditioned(gIn, fakeLabels, a.cfg.Classes); err != nil {
			return Losses{}, err
		}
		if dReal, err = conditioned(x, real.Labels, a.cfg.Classes); err != nil {
			return Losses{}, err
		}
	}

	// discriminator
	a.d.ZeroGrad()
	outReal, err := a.d.Forward(dReal, true)
	if err != nil {
		return Losses{}, err
	}
	lossReal, _, err := lossBackward(a.d, a.loss, outReal, flow.Targets(outReal, 1))
	if err != nil {
		return Losses{}, err
	}

	fake, err := a.g.Forward(gIn, true)
	if err != nil {
		return Losses{}, err
	}
	dFake := fake
	if a.conditional {
		if dFake, err = conditioned(fake, fakeLabels, a.cfg.Classes); err != nil {
			return Losses{}, err
		}
	}
	outFake, err := a.d.Forward(dFake, true)
	if err != nil {
		return Losses{}, err
	}
	lossFake, _, err := lossBackward(a.d, a.loss, outFake, flow.Targets(outFake, 0))
	if err != nil {
		return Losses{}, err
	}

	losses := Losses{D: lossReal + lossFake, Extra: map[string]float64{}}
	if a.penalty != nil {
		gp, err := a.penalty(x)
		if err != nil {
			return Losses{}, err
		}
		losses.D += gp
		losses.Extra["penalty"] = gp
	}
	if err := stepAll(a.name, "discriminator", losses.D, a.d); err != nil {
		return Losses{}, err
	}

	// generator
	a.g.ZeroGrad()
	gLoss, gx, err := throughFrozen(a.d, dFake, lossGrad(a.loss, 1))
	if err != nil {
		return Losses{}, err
	}
	if a.conditional {
		gx = flow.SliceCols(gx, 0, a.cfg.ImageDim())
	}
	if _, err := a.g.Backward(gx); err != nil {
		return Losses{}, err
	}
	if err := stepAll(a.name, "generator", gLoss, a.g); err != nil {
		return Losses{}, err
	}
	losses.G = gLoss
	losses.GStepped = true
	return losses, nil
}
