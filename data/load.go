package data

import (
	"path/filepath"
	"sort"

	"ganflow/flow"
)

// Options shared by the dataset loaders.
type Options struct {
	// InputSize is the square side samples are resampled to; 0 keeps the
	// native resolution.
	InputSize int
	// Limit caps the number of samples; 0 loads everything.
	Limit int
	// Seed drives the synthetic set.
	Seed int64
}

func (o Options) limit(n int) int {
	if o.Limit > 0 && o.Limit < n {
		return o.Limit
	}
	return n
}

func (o Options) size(native int) int {
	if o.InputSize > 0 {
		return o.InputSize
	}
	return native
}

type loaderFunc func(dir string, opts Options) (*Dataset, error)

var loaders = map[string]loaderFunc{
	"mnist": func(dir string, opts Options) (*Dataset, error) {
		return LoadIDX("mnist", filepath.Join(dir, "mnist"), opts)
	},
	"fmnist": func(dir string, opts Options) (*Dataset, error) {
		return LoadIDX("fmnist", filepath.Join(dir, "fmnist"), opts)
	},
	"cifar10": func(dir string, opts Options) (*Dataset, error) {
		return LoadCIFAR10(filepath.Join(dir, "cifar10"), opts)
	},
	"amd": func(dir string, opts Options) (*Dataset, error) {
		return LoadFolder("amd", filepath.Join(dir, "amd"), opts)
	},
	"synthetic": func(dir string, opts Options) (*Dataset, error) {
		side := opts.size(8)
		n := opts.Limit
		if n <= 0 {
			n = 1024
		}
		return Synthetic(SyntheticConfig{
			Samples: n,
			Classes: 4,
			Shape:   ImageShape{Channels: 1, Height: side, Width: side},
			Noise:   0.05,
			Seed:    opts.Seed,
		})
	},
}

// Datasets lists the names Load accepts.
func Datasets() []string {
	names := make([]string, 0, len(loaders))
	for k := range loaders {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Load reads the named dataset from <dir>/<name>.
func Load(name, dir string, opts Options) (*Dataset, error) {
	fn, ok := loaders[name]
	if !ok {
		return nil, flow.ConfigError("data", "unknown dataset %q, expected one of %v", name, Datasets())
	}
	ds, err := fn(dir, opts)
	if err != nil {
		return nil, err
	}
	return ds, ds.Validate()
}
