package gan

import (
	"math"
	"math/rand"

	"ganflow/data"
	"ganflow/flow"
)

// Equilibrium is BEGAN's proportional controller. Kt weights the fake
// reconstruction term of the discriminator loss and stays within [0, 1].
type Equilibrium struct {
	Kt     float64
	Gamma  float64
	Lambda float64
}

// Update moves Kt by Lambda·(Gamma·real − fake) and returns the
// convergence measure real + |Gamma·real − fake|. Non-finite losses leave
// Kt unchanged.
func (e *Equilibrium) Update(real, fake float64) (float64, error) {
	if err := flow.CheckFinite("BEGAN", "equilibrium", real); err != nil {
		return 0, err
	}
	if err := flow.CheckFinite("BEGAN", "equilibrium", fake); err != nil {
		return 0, err
	}
	balance := e.Gamma*real - fake
	e.Kt = math.Max(0, math.Min(1, e.Kt+e.Lambda*balance))
	return real + math.Abs(balance), nil
}

// began is the boundary equilibrium GAN: an autoencoding discriminator with
// L1 reconstruction loss whose fake term is weighted by the controller.
type began struct {
	cfg Config
	g   *flow.Network
	ae  autoencoder
	eq  Equilibrium
	rng *rand.Rand
}

// NewBEGAN builds the boundary equilibrium GAN with kt starting at 0.
func NewBEGAN(cfg Config) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Gamma <= 0 || cfg.LambdaK < 0 || cfg.EmbedDim <= 0 {
		return nil, flow.ConfigError("BEGAN", "need gamma > 0, lambda_k >= 0 and embedding > 0, got %g, %g, %d",
			cfg.Gamma, cfg.LambdaK, cfg.EmbedDim)
	}
	nb := &networkBuilder{cfg: cfg}
	s := &began{
		cfg: cfg,
		g:   nb.generator(cfg.NoiseDim),
		ae:  nb.autoencoder(noNorm),
		eq:  Equilibrium{Gamma: cfg.Gamma, Lambda: cfg.LambdaK},
		rng: nb.rng(),
	}
	if nb.err != nil {
		return nil, nb.err
	}
	return s, nil
}

func (s *began) Name() string  { return "BEGAN" }
func (s *began) NoiseDim() int { return s.cfg.NoiseDim }

func (s *began) Noise(n int) *flow.Tensor {
	return noise(s.rng, s.cfg.Prior, n, s.cfg.NoiseDim)
}

func (s *began) Networks() map[string]*flow.Network {
	return map[string]*flow.Network{"G": s.g, "D_enc": s.ae.enc, "D_dec": s.ae.dec}
}

func (s *began) Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error) {
	return s.g.Forward(z, false)
}

// Kt exposes the controller state.
func (s *began) Kt() float64 { return s.eq.Kt }

func (s *began) Step(real data.Batch) (Losses, error) {
	if err := checkBatch("BEGAN", s.cfg, real.Images, real.Labels); err != nil {
		return Losses{}, err
	}
	x := real.Images
	z := s.Noise(x.Rows())
	kt := s.eq.Kt

	// discriminator
	s.ae.zeroGrad()
	_, recReal, err := s.ae.forward(x)
	if err != nil {
		return Losses{}, err
	}
	lossReal := l1.Compute(recReal, x)
	if _, err := s.ae.backward(l1.Gradient(recReal, x), nil); err != nil {
		return Losses{}, err
	}
	fake, err := s.g.Forward(z, true)
	if err != nil {
		return Losses{}, err
	}
	_, recFake, err := s.ae.forward(fake)
	if err != nil {
		return Losses{}, err
	}
	lossFake := l1.Compute(recFake, fake)
	grad := l1.Gradient(recFake, fake)
	grad.Scale(-kt)
	if _, err := s.ae.backward(grad, nil); err != nil {
		return Losses{}, err
	}
	dLoss := lossReal - kt*lossFake
	if err := stepAll("BEGAN", "discriminator", dLoss, s.ae.enc, s.ae.dec); err != nil {
		return Losses{}, err
	}

	// generator
	s.g.ZeroGrad()
	gLoss, gx, err := s.ae.reconstructionThrough(fake, l1, nil)
	if err != nil {
		return Losses{}, err
	}
	if _, err := s.g.Backward(gx); err != nil {
		return Losses{}, err
	}
	if err := stepAll("BEGAN", "generator", gLoss, s.g); err != nil {
		return Losses{}, err
	}

	// controller, strictly after both optimizer steps
	m, err := s.eq.Update(lossReal, gLoss)
	if err != nil {
		return Losses{}, err
	}
	return Losses{
		D:        dLoss,
		G:        gLoss,
		GStepped: true,
		Extra:    map[string]float64{"kt": s.eq.Kt, "M": m},
	}, nil
}
