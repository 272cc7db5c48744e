package gan

import "ganflow/flow"

// autoencoder is the discriminator of the energy-based variants: an
// encoder to an embedding and a decoder back to image space, each with its
// own optimizer.
type autoencoder struct {
	enc, dec *flow.Network
}

func (nb *networkBuilder) autoencoder(n norm) autoencoder {
	hidden := nb.cfg.Hidden
	reversed := make([]int, len(hidden))
	for i, h := range hidden {
		reversed[len(hidden)-1-i] = h
	}
	enc := nb.build("encoder", mlpSpec{
		In:     nb.cfg.ImageDim(),
		Hidden: hidden,
		Out:    nb.cfg.EmbedDim,
		Norm:   n,
	}, nb.cfg.LRD)
	dec := nb.build("decoder", mlpSpec{
		In:        nb.cfg.EmbedDim,
		Hidden:    reversed,
		Out:       nb.cfg.ImageDim(),
		Generator: true,
		Norm:      n,
		OutAct:    flow.Tanh(),
	}, nb.cfg.LRD)
	return autoencoder{enc: enc, dec: dec}
}

// forward returns the embedding and the reconstruction of x.
func (a autoencoder) forward(x *flow.Tensor) (*flow.Tensor, *flow.Tensor, error) {
	e, err := a.enc.Forward(x, true)
	if err != nil {
		return nil, nil, err
	}
	r, err := a.dec.Forward(e, true)
	if err != nil {
		return nil, nil, err
	}
	return e, r, nil
}

// backward propagates gradRecon through the decoder, adds gradEmbed at the
// embedding when given, and returns the gradient at the encoder input.
func (a autoencoder) backward(gradRecon, gradEmbed *flow.Tensor) (*flow.Tensor, error) {
	ge, err := a.dec.Backward(gradRecon)
	if err != nil {
		return nil, err
	}
	if gradEmbed != nil {
		ge.AddScaled(gradEmbed, 1)
	}
	return a.enc.Backward(ge)
}

func (a autoencoder) zeroGrad() { zeroAll(a.enc, a.dec) }

func (a autoencoder) freeze() {
	a.enc.Freeze()
	a.dec.Freeze()
}

func (a autoencoder) unfreeze() {
	a.enc.Unfreeze()
	a.dec.Unfreeze()
}

// reconstructionThrough scores fake with a frozen autoencoder under loss
// and returns the loss, the embedding, and the gradient at fake including
// the direct path through the reconstruction target. extra, when set,
// adds an embedding penalty with its value and gradient.
func (a autoencoder) reconstructionThrough(fake *flow.Tensor, loss flow.Loss,
	extra func(e *flow.Tensor) (float64, *flow.Tensor)) (float64, *flow.Tensor, error) {
	a.freeze()
	defer a.unfreeze()
	e, r, err := a.forward(fake)
	if err != nil {
		return 0, nil, err
	}
	value := loss.Compute(r, fake)
	gr := loss.Gradient(r, fake)
	var ge *flow.Tensor
	if extra != nil {
		v, g := extra(e)
		value += v
		ge = g
	}
	gx, err := a.backward(gr, ge)
	if err != nil {
		return 0, nil, err
	}
	// the reconstruction target is fake itself
	gx.AddScaled(gr, -1)
	return value, gx, nil
}
