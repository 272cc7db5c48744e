// Package train runs a training strategy over a batch source: the epoch
// and iteration loop, periodic callbacks and the final score.
package train

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ganflow/data"
	"ganflow/fid"
	"ganflow/flow"
	"ganflow/gan"
)

// Trainer owns the iteration and epoch counters of one run.
type Trainer struct {
	cfg       Config
	strategy  gan.Strategy
	source    data.Source
	logger    *logrus.Logger
	callbacks []Callback

	epoch     int
	iteration int
	history   *History
}

// New validates cfg and binds the strategy to its source.
func New(cfg Config, s gan.Strategy, src data.Source, logger *logrus.Logger, callbacks ...Callback) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil || src == nil {
		return nil, flow.ConfigError("train", "strategy and source are required")
	}
	if src.BatchSize() != cfg.BatchSize {
		return nil, flow.ConfigError("train", "source batch size %d differs from configured %d", src.BatchSize(), cfg.BatchSize)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Trainer{
		cfg:       cfg,
		strategy:  s,
		source:    src,
		logger:    logger,
		callbacks: callbacks,
		history:   newHistory(),
	}, nil
}

// Standard returns the callbacks a command-line run uses: visualization,
// checkpoints, the history file, iteration logging and, when configured,
// learning-rate decay.
func Standard(cfg Config, r Renderer) []Callback {
	cbs := []Callback{
		LogLosses(cfg.logEvery()),
		SaveHistory(filepath.Join(cfg.ModelDir(), cfg.GANType+"_history.json")),
		Checkpoint(cfg.ModelDir(), cfg.GANType, cfg.CheckpointEvery),
	}
	if r != nil {
		cbs = append(cbs, Visualize(r, cfg.visualizeEvery()))
	}
	if s := cfg.scheduler(); s != nil {
		cbs = append(cbs, LRDecay(s))
	}
	return cbs
}

// History is the loss record so far.
func (t *Trainer) History() *History { return t.history }

// Iteration is the number of completed steps.
func (t *Trainer) Iteration() int { return t.iteration }

// Train runs cfg.Epochs epochs. ctx is checked between iterations only; a
// step, once begun, runs to completion.
func (t *Trainer) Train(ctx context.Context) (*History, error) {
	start := time.Now()
	t.logger.WithFields(logrus.Fields{
		"gan":     t.strategy.Name(),
		"dataset": t.cfg.Dataset,
		"epochs":  t.cfg.Epochs,
		"batches": t.source.Len(),
	}).Info("train: training start")

	if err := t.each(func(cb Callback) error { return cb.onTrainBegin(t) }); err != nil {
		return t.history, err
	}
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		t.epoch = epoch
		epochStart := time.Now()
		if err := t.each(func(cb Callback) error { return cb.onEpochBegin(t, epoch) }); err != nil {
			return t.history, err
		}
		if err := t.source.Reset(); err != nil {
			return t.history, err
		}
		last, steps, err := t.runEpoch(ctx)
		if err != nil {
			return t.history, err
		}
		elapsed := time.Since(epochStart).Seconds()
		t.history.PerEpochTime = append(t.history.PerEpochTime, elapsed)

		entry := t.logger.WithFields(logrus.Fields{
			"epoch":  epoch,
			"steps":  steps,
			"D_loss": last.D,
			"G_loss": last.G,
		})
		if t.cfg.Benchmark {
			entry = entry.WithFields(logrus.Fields{
				"epoch_time": elapsed,
				"step_time":  elapsed / float64(max(steps, 1)),
			})
		}
		entry.Info("train: epoch finished")

		if err := t.each(func(cb Callback) error { return cb.onEpochEnd(t, epoch) }); err != nil {
			return t.history, err
		}
	}
	t.history.TotalTime = time.Since(start).Seconds()
	if err := t.each(func(cb Callback) error { return cb.onTrainEnd(t) }); err != nil {
		return t.history, err
	}
	t.logger.WithFields(logrus.Fields{
		"iterations": t.iteration,
		"total_time": t.history.TotalTime,
	}).Info("train: training finished")
	return t.history, nil
}

func (t *Trainer) runEpoch(ctx context.Context) (gan.Losses, int, error) {
	var last gan.Losses
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return last, steps, err
		}
		b, err := t.source.Next()
		if errors.Cause(err) == data.ErrEndOfEpoch {
			return last, steps, nil
		}
		if err != nil {
			return last, steps, err
		}
		l, err := t.strategy.Step(b)
		if err != nil {
			return last, steps, errors.Wrapf(err, "train: epoch %d iteration %d", t.epoch, t.iteration+1)
		}
		t.iteration++
		steps++
		last = l
		t.history.record(l)
		if err := t.each(func(cb Callback) error { return cb.onIteration(t, l) }); err != nil {
			return last, steps, err
		}
	}
}

// each runs fn for every callback. I/O failures are logged and skipped.
func (t *Trainer) each(fn func(cb Callback) error) error {
	for _, cb := range t.callbacks {
		if err := t.tolerate(cb.name(), fn(cb)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) tolerate(what string, err error) error {
	if err == nil {
		return nil
	}
	if flow.IsKind(err, flow.KindIO) {
		t.logger.WithError(err).WithField("callback", what).Warn("train: skipping failed write")
		return nil
	}
	return err
}

// Finish renders the final sample grid for the last epoch, scores the
// generator against the source and writes the score to
// <ResultPath>/fid.txt. Render and write failures are logged and skipped;
// the score is returned whenever it could be computed.
func (t *Trainer) Finish(ctx context.Context, r Renderer, e *fid.Evaluator) (float64, error) {
	if r != nil {
		_, err := r.Render(t.strategy, t.cfg.Epochs)
		if err := t.tolerate("visualize", err); err != nil {
			return 0, err
		}
	}
	if e == nil || t.cfg.FIDSamples == 0 {
		return 0, nil
	}
	score, err := e.Evaluate(ctx, t.source, t.strategy, t.cfg.FIDSamples)
	if err != nil {
		return 0, err
	}
	t.logger.WithFields(logrus.Fields{
		"gan":       t.strategy.Name(),
		"extractor": e.Extractor.Name(),
		"fid":       score,
	}).Info("train: score computed")
	if err := t.tolerate("score", WriteScore(filepath.Join(t.cfg.ResultPath(), "fid.txt"), score)); err != nil {
		return score, err
	}
	return score, nil
}

// WriteScore writes "FID : <score> " to path.
func WriteScore(path string, score float64) error {
	text := fmt.Sprintf("FID : %s ", strconv.FormatFloat(score, 'g', -1, 64))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return flow.IOError("train", "score", err)
	}
	return nil
}

// roles lists a strategy's network roles in a stable order.
func roles(s gan.Strategy) []string {
	nets := s.Networks()
	out := make([]string, 0, len(nets))
	for k := range nets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
