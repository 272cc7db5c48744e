package gan

import (
	"math/rand"

	"ganflow/data"
	"ganflow/flow"
)

// aae is the adversarial autoencoder. E encodes images to a latent code,
// G decodes it back, and D tells codes drawn from the prior apart from
// encoded images so that the aggregate posterior matches the prior.
// Sampling decodes prior draws.
type aae struct {
	cfg     Config
	e, g, d *flow.Network
	rng     *rand.Rand
}

// NewAAE builds the adversarial autoencoder with a NoiseDim-wide latent.
func NewAAE(cfg Config) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AdvWeight < 0 {
		return nil, flow.ConfigError("AAE", "adversarial weight must be >= 0, got %g", cfg.AdvWeight)
	}
	nb := &networkBuilder{cfg: cfg}
	s := &aae{cfg: cfg, rng: nb.rng()}
	s.e = nb.build("encoder", mlpSpec{
		In:     cfg.ImageDim(),
		Hidden: cfg.Hidden,
		Out:    cfg.NoiseDim,
		Norm:   batchNorm,
	}, cfg.LRG)
	s.g = nb.generator(cfg.NoiseDim)
	s.d = nb.discriminator(cfg.NoiseDim, 1, batchNorm)
	if nb.err != nil {
		return nil, nb.err
	}
	return s, nil
}

func (s *aae) Name() string  { return "AAE" }
func (s *aae) NoiseDim() int { return s.cfg.NoiseDim }

func (s *aae) Noise(n int) *flow.Tensor {
	return noise(s.rng, s.cfg.Prior, n, s.cfg.NoiseDim)
}

func (s *aae) Networks() map[string]*flow.Network {
	return map[string]*flow.Network{"E": s.e, "G": s.g, "D": s.d}
}

func (s *aae) Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error) {
	return s.g.Forward(z, false)
}

// Encode maps images to their latent codes.
func (s *aae) Encode(x *flow.Tensor) (*flow.Tensor, error) {
	return s.e.Forward(x, false)
}

func (s *aae) Step(real data.Batch) (Losses, error) {
	if err := checkBatch("AAE", s.cfg, real.Images, real.Labels); err != nil {
		return Losses{}, err
	}
	x := real.Images
	zeroAll(s.e, s.g, s.d)
	code, err := s.e.Forward(x, true)
	if err != nil {
		return Losses{}, err
	}

	// latent discriminator
	prior := s.Noise(x.Rows())
	outPrior, err := s.d.Forward(prior, true)
	if err != nil {
		return Losses{}, err
	}
	lossPrior, _, err := lossBackward(s.d, bce, outPrior, flow.Targets(outPrior, 1))
	if err != nil {
		return Losses{}, err
	}
	outCode, err := s.d.Forward(code, true)
	if err != nil {
		return Losses{}, err
	}
	lossCode, _, err := lossBackward(s.d, bce, outCode, flow.Targets(outCode, 0))
	if err != nil {
		return Losses{}, err
	}
	losses := Losses{D: lossPrior + lossCode}
	if err := stepAll("AAE", "discriminator", losses.D, s.d); err != nil {
		return Losses{}, err
	}

	// reconstruction and regularization
	rec, err := s.g.Forward(code, true)
	if err != nil {
		return Losses{}, err
	}
	recon, gCode, err := lossBackward(s.g, mse, rec, x)
	if err != nil {
		return Losses{}, err
	}
	adv, dCode, err := throughFrozen(s.d, code, func(out *flow.Tensor) (float64, *flow.Tensor) {
		t := flow.Targets(out, 1)
		g := bce.Gradient(out, t)
		g.Scale(s.cfg.AdvWeight)
		return bce.Compute(out, t), g
	})
	if err != nil {
		return Losses{}, err
	}
	gCode.AddScaled(dCode, 1)
	if _, err := s.e.Backward(gCode); err != nil {
		return Losses{}, err
	}
	gLoss := recon + s.cfg.AdvWeight*adv
	if err := stepAll("AAE", "autoencoder", gLoss, s.e, s.g); err != nil {
		return Losses{}, err
	}
	losses.G = gLoss
	losses.GStepped = true
	losses.Extra = map[string]float64{"reconstruction": recon, "adversarial": adv}
	return losses, nil
}
