package fid

import (
	"github.com/sirupsen/logrus"

	"ganflow/data"
	"ganflow/flow"
)

// ClassifierConfig - ALL fields required except Logger
type ClassifierConfig struct {
	Hidden     []int
	FeatureDim int
	Dropout    float64
	LR         float64
	// LRDecay multiplies the learning rate by this factor every epoch;
	// 0 keeps it fixed.
	LRDecay float64
	// WeightDecay is the L2 penalty on every parameter.
	WeightDecay     float64
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Patience        int
	Seed            int64
	Logger          *logrus.Logger
}

// DefaultClassifierConfig is a small MLP that trains in seconds on the
// supported datasets.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Hidden:          []int{128},
		FeatureDim:      64,
		Dropout:         0.2,
		LR:              1e-3,
		LRDecay:         0.9,
		WeightDecay:     1e-5,
		Epochs:          5,
		BatchSize:       64,
		ValidationSplit: 0.1,
		Patience:        2,
		Seed:            0,
	}
}

func (c ClassifierConfig) validate() error {
	if c.FeatureDim <= 0 {
		return flow.ConfigError("fid", "feature width must be > 0, got %d", c.FeatureDim)
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return flow.ConfigError("fid", "hidden layer %d has width %d", i, h)
		}
	}
	if c.LR <= 0 {
		return flow.ConfigError("fid", "learning rate must be > 0, got %g", c.LR)
	}
	if c.LRDecay < 0 || c.LRDecay > 1 || c.WeightDecay < 0 {
		return flow.ConfigError("fid", "decay factors must be in [0, 1], got %g and %g", c.LRDecay, c.WeightDecay)
	}
	return nil
}

// Classifier is a network trained to recognise the classes of a real
// dataset. Its penultimate activations are the features.
type Classifier struct {
	Net *flow.Network
	// Accuracy on the training data after the final epoch.
	Accuracy float64
	layers   int
}

func (c *Classifier) Features(x *flow.Tensor) (*flow.Tensor, error) {
	return c.Net.ForwardTo(x, c.layers, false)
}

func (c *Classifier) Name() string { return "classifier" }

// Save writes the classifier's weights to path.
func (c *Classifier) Save(path string) error { return c.Net.Save(path) }

// buildClassifier lays out Dense(h)… → Dense(FeatureDim) → Dropout → Dense(classes).
func buildClassifier(inputDim, classes int, cfg ClassifierConfig) (*Classifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if classes < 2 {
		return nil, flow.ConfigError("fid", "classifier needs at least 2 classes, got %d", classes)
	}
	b := flow.NewNetwork(flow.NetworkConfig{Seed: cfg.Seed})
	for _, h := range cfg.Hidden {
		b.AddLayer(flow.Dense(h).
			WithActivation(flow.ReLU()).
			WithInitializer(flow.HeNormal(1.0)).
			WithBiasInitializer(flow.Zeros()).
			WithBias(true).
			Build())
	}
	b.AddLayer(flow.Dense(cfg.FeatureDim).
		WithActivation(flow.ReLU()).
		WithInitializer(flow.HeNormal(1.0)).
		WithBiasInitializer(flow.Zeros()).
		WithBias(true).
		Build())
	b.AddLayer(flow.Dropout(cfg.Dropout).Build())
	b.AddLayer(flow.Dense(classes).
		WithActivation(flow.Softmax()).
		WithInitializer(flow.XavierNormal(1.0)).
		WithBiasInitializer(flow.Zeros()).
		WithBias(true).
		Build())
	net, err := b.Build([]int{inputDim})
	if err != nil {
		return nil, err
	}
	var reg flow.Regularizer = flow.NoReg()
	if cfg.WeightDecay > 0 {
		reg = flow.L2(cfg.WeightDecay)
	}
	err = net.Compile(flow.CompileConfig{
		Optimizer:    flow.Adam(flow.AdamConfig{LR: cfg.LR, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}),
		Loss:         flow.CrossEntropy(flow.CrossEntropyConfig{}),
		Metrics:      []flow.Metric{flow.Accuracy()},
		Regularizer:  reg,
		GradientClip: flow.NoClip(),
	})
	if err != nil {
		return nil, err
	}
	return &Classifier{Net: net, layers: len(cfg.Hidden) + 1}, nil
}

// TrainClassifier fits a classifier on ds and returns it as a fixed
// feature extractor.
func TrainClassifier(ds *data.Dataset, cfg ClassifierConfig) (*Classifier, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	c, err := buildClassifier(ds.Images.Cols(), ds.Classes, cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	monitor := "loss"
	if cfg.ValidationSplit > 0 {
		monitor = "val_loss"
	}
	patience := cfg.Patience
	if patience <= 0 {
		patience = cfg.Epochs
	}
	stopping := flow.EarlyStopping(flow.EarlyStoppingConfig{Monitor: monitor, MinDelta: 1e-4, Patience: patience, Mode: "min"})
	callbacks := []flow.Callback{
		stopping,
		flow.LogProgress(flow.LogProgressConfig{Logger: logger, PrintEvery: 1}),
	}
	if cfg.LRDecay > 0 {
		s := flow.NewSchedule(flow.ExponentialDecay(flow.ExponentialDecayConfig{Gamma: cfg.LRDecay}), c.Net)
		callbacks = append(callbacks, flow.LRScheduler(s))
	}
	result, err := c.Net.Train(ds.Images, flow.OneHot(ds.Labels, ds.Classes), flow.TrainConfig{
		Epochs:          cfg.Epochs,
		BatchSize:       cfg.BatchSize,
		Shuffle:         true,
		ValidationSplit: cfg.ValidationSplit,
	}, callbacks)
	if err != nil {
		return nil, err
	}
	c.Accuracy = result.FinalMetrics["accuracy"]
	entry := logger.WithFields(logrus.Fields{
		"dataset":  ds.Name,
		"epochs":   result.Epochs,
		"accuracy": c.Accuracy,
	})
	if es, ok := stopping.(*flow.EarlyStoppingCallback); ok && es.StoppedEpoch() >= 0 {
		entry = entry.WithField("stopped_epoch", es.StoppedEpoch()+1)
	}
	entry.Info("fid: feature classifier trained")
	return c, nil
}

// LoadExtractor rebuilds a classifier with cfg's architecture and loads the
// weights saved at path.
func LoadExtractor(path string, inputDim, classes int, cfg ClassifierConfig) (*Classifier, error) {
	c, err := buildClassifier(inputDim, classes, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Net.Load(path); err != nil {
		return nil, err
	}
	return c, nil
}
