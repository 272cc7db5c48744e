package data

import (
	"math/rand"

	"ganflow/flow"
)

// LoaderConfig - ALL fields required
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
}

// Loader serves full batches from a Dataset. The trailing partial batch of
// each epoch is dropped so every step sees BatchSize samples.
type Loader struct {
	ds     *Dataset
	config LoaderConfig
	order  []int
	pos    int
	rng    *rand.Rand
}

// NewLoader validates the dataset and prepares the first epoch.
func NewLoader(ds *Dataset, config LoaderConfig) (*Loader, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if config.BatchSize <= 0 {
		return nil, flow.ConfigError("Loader", "batch size must be > 0, got %d", config.BatchSize)
	}
	if config.BatchSize > ds.Len() {
		return nil, flow.ConfigError("Loader", "batch size %d exceeds %d samples", config.BatchSize, ds.Len())
	}
	l := &Loader{
		ds:     ds,
		config: config,
		order:  make([]int, ds.Len()),
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
	for i := range l.order {
		l.order[i] = i
	}
	if err := l.Reset(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) Next() (Batch, error) {
	bs := l.config.BatchSize
	if l.pos+bs > len(l.order) {
		return Batch{}, ErrEndOfEpoch
	}
	cols := l.ds.Images.Cols()
	b := Batch{
		Images: flow.NewTensor(bs, cols),
		Labels: make([]int, bs),
	}
	for i := 0; i < bs; i++ {
		j := l.order[l.pos+i]
		copy(b.Images.Row(i), l.ds.Images.Row(j))
		b.Labels[i] = l.ds.Labels[j]
	}
	l.pos += bs
	return b, nil
}

func (l *Loader) Reset() error {
	l.pos = 0
	if l.config.Shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	return nil
}

func (l *Loader) BatchSize() int { return l.config.BatchSize }
func (l *Loader) Len() int       { return len(l.order) / l.config.BatchSize }

// Dataset returns the underlying samples.
func (l *Loader) Dataset() *Dataset { return l.ds }
