package train

import (
	"path/filepath"

	"ganflow/flow"
)

// Config - ALL fields required except the optional cadences, which
// default to sensible values when zero.
type Config struct {
	Dataset   string
	GANType   string
	Epochs    int
	BatchSize int

	SaveDir   string
	ResultDir string
	LogDir    string

	// VisualizeEvery renders a grid every N epochs (default 1).
	VisualizeEvery int
	// CheckpointEvery saves every network every N epochs; 0 saves only at
	// the end of training.
	CheckpointEvery int
	// LogEvery logs iteration losses every N iterations (default 100).
	LogEvery int
	// Decay selects a learning-rate schedule applied to every network:
	// "" or "none", "step" (DecayGamma every DecayStep epochs) or "linear"
	// (towards zero over Epochs).
	Decay      string
	DecayStep  int
	DecayGamma float64

	// FIDSamples is the number of real and generated samples scored after
	// training; 0 skips scoring.
	FIDSamples int
	// Benchmark adds timing fields to the epoch logs.
	Benchmark bool
}

// Validate rejects configurations that cannot train.
func (c Config) Validate() error {
	if c.GANType == "" || c.Dataset == "" {
		return flow.ConfigError("train", "gan type and dataset are required")
	}
	if c.Epochs < 1 {
		return flow.ConfigError("train", "number of epochs must be larger than or equal to one, got %d", c.Epochs)
	}
	if c.BatchSize <= 1 {
		return flow.ConfigError("train", "batch size must be more than one because of batch normalization, got %d", c.BatchSize)
	}
	if c.FIDSamples < 0 {
		return flow.ConfigError("train", "fid samples must be >= 0, got %d", c.FIDSamples)
	}
	switch c.Decay {
	case "", "none", "linear":
	case "step":
		if c.DecayStep <= 0 || c.DecayGamma <= 0 || c.DecayGamma > 1 {
			return flow.ConfigError("train", "step decay needs a step > 0 and gamma in (0, 1], got %d and %g", c.DecayStep, c.DecayGamma)
		}
	default:
		return flow.ConfigError("train", "unknown learning rate decay %q", c.Decay)
	}
	return nil
}

// scheduler returns the configured schedule, or nil when rates are fixed.
func (c Config) scheduler() flow.Scheduler {
	switch c.Decay {
	case "step":
		return flow.StepDecay(flow.StepDecayConfig{StepSize: c.DecayStep, Gamma: c.DecayGamma})
	case "linear":
		return flow.LinearDecay(flow.LinearDecayConfig{EndLR: 0, TotalEpochs: c.Epochs})
	}
	return nil
}

// ModelDir is <SaveDir>/<dataset>/<gan type>, where checkpoints and the
// history live.
func (c Config) ModelDir() string { return filepath.Join(c.SaveDir, c.Dataset, c.GANType) }

// ResultPath is <ResultDir>/<dataset>/<gan type>, where sample grids and
// the score live.
func (c Config) ResultPath() string { return filepath.Join(c.ResultDir, c.Dataset, c.GANType) }

// LogPath is <LogDir>/<dataset>/<gan type>.
func (c Config) LogPath() string { return filepath.Join(c.LogDir, c.Dataset, c.GANType) }

func (c Config) visualizeEvery() int {
	if c.VisualizeEvery <= 0 {
		return 1
	}
	return c.VisualizeEvery
}

func (c Config) logEvery() int {
	if c.LogEvery <= 0 {
		return 100
	}
	return c.LogEvery
}
