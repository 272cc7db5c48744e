package flow

// TrainConfig holds supervised training configuration - ALL fields required
type TrainConfig struct {
	Epochs          int
	BatchSize       int
	Shuffle         bool
	ValidationSplit float64
}

// CompileConfig holds model compilation settings. Loss and Metrics are only
// used by Train and Evaluate; networks driven by an external objective may
// leave them unset.
type CompileConfig struct {
	Optimizer    Optimizer
	Loss         Loss
	Metrics      []Metric
	Regularizer  Regularizer
	GradientClip GradientClipConfig
}

// GradientClipConfig for gradient clipping
type GradientClipConfig struct {
	Mode     string // "norm", "value", or "none"
	MaxNorm  float64
	MaxValue float64
}

// NetworkConfig for network construction
type NetworkConfig struct {
	Seed int64
}

// ValidateTrainConfig checks all required fields are set
func ValidateTrainConfig(cfg TrainConfig) error {
	if cfg.Epochs <= 0 {
		return ConfigError("TrainConfig", "Epochs must be > 0, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return ConfigError("TrainConfig", "BatchSize must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return ConfigError("TrainConfig", "ValidationSplit must be in [0, 1), got %f", cfg.ValidationSplit)
	}
	return nil
}

// ValidateCompileConfig checks all required fields are set
func ValidateCompileConfig(cfg CompileConfig) error {
	if cfg.Optimizer == nil {
		return ConfigError("CompileConfig", "Optimizer is required")
	}
	if cfg.Optimizer.learningRate() <= 0 {
		return ConfigError("CompileConfig", "learning rate must be > 0, got %g", cfg.Optimizer.learningRate())
	}
	if cfg.Regularizer == nil {
		return ConfigError("CompileConfig", "Regularizer is required - use NoReg() if not needed")
	}
	switch cfg.GradientClip.Mode {
	case "none":
	case "norm":
		if cfg.GradientClip.MaxNorm <= 0 {
			return ConfigError("CompileConfig", "GradientClip.MaxNorm must be > 0")
		}
	case "value":
		if cfg.GradientClip.MaxValue <= 0 {
			return ConfigError("CompileConfig", "GradientClip.MaxValue must be > 0")
		}
	case "":
		return ConfigError("CompileConfig", "GradientClip.Mode is required - use 'none' if not needed")
	default:
		return ConfigError("CompileConfig", "unknown GradientClip.Mode %q", cfg.GradientClip.Mode)
	}
	return nil
}

// NoClip is the GradientClipConfig that disables clipping.
func NoClip() GradientClipConfig { return GradientClipConfig{Mode: "none"} }
