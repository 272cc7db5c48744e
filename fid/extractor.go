package fid

import (
	"ganflow/flow"
)

// Extractor maps samples to the feature space the distance is measured in.
type Extractor interface {
	Features(x *flow.Tensor) (*flow.Tensor, error)
	Name() string
}

type identity struct{}

// Identity measures the distance on raw pixels.
func Identity() Extractor { return identity{} }

func (identity) Features(x *flow.Tensor) (*flow.Tensor, error) { return x, nil }
func (identity) Name() string                                  { return "pixels" }

// networkFeatures reads the activations after the first layers layers of
// a network in inference mode.
type networkFeatures struct {
	net    *flow.Network
	layers int
}

// NetworkFeatures uses the output of layer layers-1 of net as features.
func NetworkFeatures(net *flow.Network, layers int) (Extractor, error) {
	if net == nil {
		return nil, flow.ConfigError("fid", "feature network is nil")
	}
	if layers < 1 || layers > net.NumLayers() {
		return nil, flow.ConfigError("fid", "feature layer %d outside [1, %d]", layers, net.NumLayers())
	}
	return &networkFeatures{net: net, layers: layers}, nil
}

func (f *networkFeatures) Features(x *flow.Tensor) (*flow.Tensor, error) {
	return f.net.ForwardTo(x, f.layers, false)
}

func (f *networkFeatures) Name() string { return "network" }
