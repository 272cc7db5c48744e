package train

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"ganflow/flow"
	"ganflow/gan"
	"ganflow/visual"
)

// Callback is called by Trainer.Train between iterations. Errors of kind
// flow.KindIO are logged and skipped; any other error stops training.
type Callback interface {
	onTrainBegin(t *Trainer) error
	onEpochBegin(t *Trainer, epoch int) error
	onIteration(t *Trainer, l gan.Losses) error
	onEpochEnd(t *Trainer, epoch int) error
	onTrainEnd(t *Trainer) error
	name() string
}

// base implements every hook as a no-op.
type base struct{}

func (base) onTrainBegin(t *Trainer) error              { return nil }
func (base) onEpochBegin(t *Trainer, epoch int) error   { return nil }
func (base) onIteration(t *Trainer, l gan.Losses) error { return nil }
func (base) onEpochEnd(t *Trainer, epoch int) error     { return nil }
func (base) onTrainEnd(t *Trainer) error                { return nil }

// Renderer writes a visualization of a generator for an epoch and returns
// its path. visual.Grid is one.
type Renderer interface {
	Render(s visual.Sampler, epoch int) (string, error)
}

type visualizeCallback struct {
	base
	renderer Renderer
	every    int
}

// Visualize renders samples every every epochs.
func Visualize(r Renderer, every int) Callback {
	if every <= 0 {
		every = 1
	}
	return &visualizeCallback{renderer: r, every: every}
}

func (v *visualizeCallback) onEpochEnd(t *Trainer, epoch int) error {
	if epoch%v.every != 0 {
		return nil
	}
	path, err := v.renderer.Render(t.strategy, epoch)
	if err != nil {
		return err
	}
	t.logger.WithField("path", path).Debug("train: samples written")
	return nil
}

func (v *visualizeCallback) name() string { return "visualize" }

type checkpointCallback struct {
	base
	dir    string
	prefix string
	every  int
}

// Checkpoint saves every network of the strategy as
// <dir>/<prefix>_<role>.json every every epochs and at the end of
// training.
func Checkpoint(dir, prefix string, every int) Callback {
	return &checkpointCallback{dir: dir, prefix: prefix, every: every}
}

// CheckpointPath is the file Checkpoint writes for role.
func CheckpointPath(dir, prefix, role string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", prefix, role))
}

func (c *checkpointCallback) save(t *Trainer) error {
	for role, net := range t.strategy.Networks() {
		if err := net.Save(CheckpointPath(c.dir, c.prefix, role)); err != nil {
			return err
		}
	}
	return nil
}

func (c *checkpointCallback) onEpochEnd(t *Trainer, epoch int) error {
	if c.every > 0 && epoch%c.every == 0 {
		return c.save(t)
	}
	return nil
}

func (c *checkpointCallback) onTrainEnd(t *Trainer) error { return c.save(t) }
func (c *checkpointCallback) name() string                { return "checkpoint" }

type historyCallback struct {
	base
	path string
}

// SaveHistory writes the loss history to path after every epoch.
func SaveHistory(path string) Callback { return &historyCallback{path: path} }

func (h *historyCallback) onEpochEnd(t *Trainer, epoch int) error { return t.history.Save(h.path) }
func (h *historyCallback) onTrainEnd(t *Trainer) error            { return t.history.Save(h.path) }
func (h *historyCallback) name() string                           { return "history" }

type decayCallback struct {
	base
	scheduler flow.Scheduler
	schedules []*flow.Schedule
}

// LRDecay applies s to every network's optimizer at the start of each
// epoch, relative to the rates the networks had when training began.
func LRDecay(s flow.Scheduler) Callback {
	return &decayCallback{scheduler: s}
}

func (d *decayCallback) onTrainBegin(t *Trainer) error {
	d.schedules = d.schedules[:0]
	for _, role := range roles(t.strategy) {
		d.schedules = append(d.schedules, flow.NewSchedule(d.scheduler, t.strategy.Networks()[role]))
	}
	return nil
}

func (d *decayCallback) onEpochBegin(t *Trainer, epoch int) error {
	for _, s := range d.schedules {
		s.Apply(epoch - 1)
	}
	return nil
}

func (d *decayCallback) name() string { return "lr_decay" }

type logCallback struct {
	base
	every int
}

// LogLosses logs the losses of every every-th iteration at debug level.
func LogLosses(every int) Callback {
	if every <= 0 {
		every = 1
	}
	return &logCallback{every: every}
}

func (c *logCallback) onIteration(t *Trainer, l gan.Losses) error {
	if t.iteration%c.every != 0 {
		return nil
	}
	f := logrus.Fields{
		"epoch":     t.epoch,
		"iteration": t.iteration,
		"D_loss":    l.D,
		"G_loss":    l.G,
	}
	for k, v := range l.Extra {
		f[k] = v
	}
	t.logger.WithFields(f).Debug("train: iteration")
	return nil
}

func (c *logCallback) name() string { return "log_losses" }
