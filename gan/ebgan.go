package gan

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"ganflow/data"
	"ganflow/flow"
)

// ebgan is the energy-based GAN. D's energy is its reconstruction error:
// it lowers the energy of real samples and pushes fake samples up to a
// margin. The generator additionally pays a pulling-away term on D's
// embeddings of its batch to keep samples diverse.
type ebgan struct {
	cfg Config
	g   *flow.Network
	ae  autoencoder
	rng *rand.Rand
}

// NewEBGAN builds the energy-based GAN.
func NewEBGAN(cfg Config) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Margin <= 0 || cfg.PTWeight < 0 || cfg.EmbedDim <= 0 {
		return nil, flow.ConfigError("EBGAN", "need margin > 0, pulling-away weight >= 0 and embedding > 0, got %g, %g, %d",
			cfg.Margin, cfg.PTWeight, cfg.EmbedDim)
	}
	nb := &networkBuilder{cfg: cfg}
	s := &ebgan{cfg: cfg, g: nb.generator(cfg.NoiseDim), ae: nb.autoencoder(batchNorm), rng: nb.rng()}
	if nb.err != nil {
		return nil, nb.err
	}
	return s, nil
}

func (s *ebgan) Name() string  { return "EBGAN" }
func (s *ebgan) NoiseDim() int { return s.cfg.NoiseDim }

func (s *ebgan) Noise(n int) *flow.Tensor {
	return noise(s.rng, s.cfg.Prior, n, s.cfg.NoiseDim)
}

func (s *ebgan) Networks() map[string]*flow.Network {
	return map[string]*flow.Network{"G": s.g, "D_enc": s.ae.enc, "D_dec": s.ae.dec}
}

func (s *ebgan) Sample(z *flow.Tensor, labels []int) (*flow.Tensor, error) {
	return s.g.Forward(z, false)
}

func (s *ebgan) Step(real data.Batch) (Losses, error) {
	if err := checkBatch("EBGAN", s.cfg, real.Images, real.Labels); err != nil {
		return Losses{}, err
	}
	x := real.Images
	z := s.Noise(x.Rows())

	// discriminator
	s.ae.zeroGrad()
	_, recReal, err := s.ae.forward(x)
	if err != nil {
		return Losses{}, err
	}
	lossReal := mse.Compute(recReal, x)
	if _, err := s.ae.backward(mse.Gradient(recReal, x), nil); err != nil {
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
	energyFake := mse.Compute(recFake, fake)
	hinge := s.cfg.Margin - energyFake
	if hinge > 0 {
		grad := mse.Gradient(recFake, fake)
		grad.Scale(-1)
		if _, err := s.ae.backward(grad, nil); err != nil {
			return Losses{}, err
		}
	} else {
		hinge = 0
	}
	losses := Losses{D: lossReal + hinge, Extra: map[string]float64{"energy_real": lossReal, "energy_fake": energyFake}}
	if err := stepAll("EBGAN", "discriminator", losses.D, s.ae.enc, s.ae.dec); err != nil {
		return Losses{}, err
	}

	// generator
	s.g.ZeroGrad()
	var pt float64
	gLoss, gx, err := s.ae.reconstructionThrough(fake, mse, func(e *flow.Tensor) (float64, *flow.Tensor) {
		v, g := PullingAway(e)
		pt = v
		g.Scale(s.cfg.PTWeight)
		return s.cfg.PTWeight * v, g
	})
	if err != nil {
		return Losses{}, err
	}
	if _, err := s.g.Backward(gx); err != nil {
		return Losses{}, err
	}
	if err := stepAll("EBGAN", "generator", gLoss, s.g); err != nil {
		return Losses{}, err
	}
	losses.G = gLoss
	losses.GStepped = true
	losses.Extra["pulling_away"] = pt
	return losses, nil
}

// PullingAway returns the mean squared cosine similarity between distinct
// rows of e and its gradient with respect to e.
func PullingAway(e *flow.Tensor) (float64, *flow.Tensor) {
	n := e.Rows()
	grad := flow.NewTensor(e.Shape...)
	if n < 2 {
		return 0, grad
	}
	unit := make([][]float64, n)
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		row := e.Row(i)
		norms[i] = math.Max(floats.Norm(row, 2), 1e-12)
		unit[i] = make([]float64, len(row))
		floats.ScaleTo(unit[i], 1/norms[i], row)
	}

	pairs := float64(n * (n - 1))
	value := 0.0
	ds := make([]float64, e.Cols())
	for i := 0; i < n; i++ {
		for k := range ds {
			ds[k] = 0
		}
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			c := floats.Dot(unit[i], unit[j])
			value += c * c
			floats.AddScaled(ds, 4*c/pairs, unit[j])
		}
		// project out the radial component: ∂s/∂e = (I − s·sᵀ)/‖e‖
		radial := floats.Dot(unit[i], ds)
		g := grad.Row(i)
		for k := range g {
			g[k] = (ds[k] - radial*unit[i][k]) / norms[i]
		}
	}
	return value / pairs, grad
}
