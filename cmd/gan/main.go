// Command gan trains one adversarial variant on a dataset, writes sample
// grids, checkpoints and the loss history, and scores the final generator
// with the Fréchet distance.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ganflow/data"
	"ganflow/fid"
	"ganflow/flow"
	"ganflow/gan"
	"ganflow/train"
	"ganflow/visual"
)

type options struct {
	ganType   string
	dataset   string
	dataDir   string
	epochs    int
	batchSize int
	inputSize int
	limit     int
	saveDir   string
	resultDir string
	logDir    string
	lrG       float64
	lrD       float64
	beta1     float64
	beta2     float64
	gpu       bool
	benchmark bool
	seed      int64

	supervised      bool
	visualizeEvery  int
	checkpointEvery int
	decay           string
	decayStep       int
	decayGamma      float64
	fidSamples      int
	extractor       string
	logLevel        string
	statusAddr      string
	ledger          string

	// set records which flags were given explicitly.
	set map[string]bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.ganType, "gan_type", "GAN", fmt.Sprintf("the type of GAN %v", gan.Variants()))
	flag.StringVar(&o.dataset, "dataset", "mnist", fmt.Sprintf("the name of dataset %v", data.Datasets()))
	flag.StringVar(&o.dataDir, "data_dir", "data", "directory holding one sub-directory per dataset")
	flag.IntVar(&o.epochs, "epoch", 50, "the number of epochs to run")
	flag.IntVar(&o.batchSize, "batch_size", 32, "the size of batch")
	flag.IntVar(&o.inputSize, "input_size", 28, "the size of input image")
	flag.IntVar(&o.limit, "limit", 0, "use at most this many samples, 0 for all")
	flag.StringVar(&o.saveDir, "save_dir", "models", "directory name to save the model")
	flag.StringVar(&o.resultDir, "result_dir", "results", "directory name to save the generated images")
	flag.StringVar(&o.logDir, "log_dir", "logs", "directory name to save training logs")
	flag.Float64Var(&o.lrG, "lrG", 2e-4, "generator learning rate")
	flag.Float64Var(&o.lrD, "lrD", 2e-4, "discriminator learning rate")
	flag.Float64Var(&o.beta1, "beta1", 0.5, "first moment decay")
	flag.Float64Var(&o.beta2, "beta2", 0.999, "second moment decay")
	flag.BoolVar(&o.gpu, "gpu_mode", false, "request an accelerator")
	flag.BoolVar(&o.benchmark, "benchmark_mode", false, "log per-epoch and per-step timings")
	flag.Int64Var(&o.seed, "seed", 0, "seed identifier")
	flag.BoolVar(&o.supervised, "supervised", false, "InfoGAN: use the real labels as the discrete code")
	flag.IntVar(&o.visualizeEvery, "visualize_every", 1, "render samples every N epochs")
	flag.IntVar(&o.checkpointEvery, "checkpoint_every", 0, "save networks every N epochs, 0 for the end only")
	flag.StringVar(&o.decay, "lr_decay", "none", `learning rate schedule: "none", "step" or "linear"`)
	flag.IntVar(&o.decayStep, "decay_step", 10, "step decay: epochs between rate drops")
	flag.Float64Var(&o.decayGamma, "decay_gamma", 0.5, "step decay: factor applied at each drop")
	flag.IntVar(&o.fidSamples, "fid_samples", 1000, "samples scored after training, 0 skips scoring")
	flag.StringVar(&o.extractor, "fid_extractor", "classifier", `"pixels", "classifier" or the path of a saved classifier`)
	flag.StringVar(&o.logLevel, "log_level", "info", "logrus level")
	flag.StringVar(&o.ledger, "ledger", "", `SQLite run ledger, default <log_dir>/runs.sqlite3, "none" disables it`)
	flag.StringVar(&o.statusAddr, "status_addr", "", `serve run status over HTTP on this address, e.g. ":8080"`)
	flag.Parse()

	o.set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o
}

func main() {
	o := parseFlags()
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		logger.WithError(err).Fatal("invalid log level")
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, o, logger); err != nil {
		logger.WithField("kind", flow.KindOf(err)).WithError(err).Fatal("gan failed")
	}
}

func run(ctx context.Context, o options, logger *logrus.Logger) error {
	gc, err := gan.DefaultConfig(o.ganType)
	if err != nil {
		return err
	}
	tc := train.Config{
		Dataset:         o.dataset,
		GANType:         o.ganType,
		Epochs:          o.epochs,
		BatchSize:       o.batchSize,
		SaveDir:         o.saveDir,
		ResultDir:       o.resultDir,
		LogDir:          o.logDir,
		VisualizeEvery:  o.visualizeEvery,
		CheckpointEvery: o.checkpointEvery,
		Decay:           o.decay,
		DecayStep:       o.decayStep,
		DecayGamma:      o.decayGamma,
		FIDSamples:      o.fidSamples,
		Benchmark:       o.benchmark,
	}
	if err := tc.Validate(); err != nil {
		return err
	}
	for _, dir := range []string{tc.ModelDir(), tc.ResultPath(), tc.LogPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return flow.IOError("gan", "setup", err)
		}
	}
	logFile, err := os.Create(filepath.Join(tc.LogPath(), "train.log"))
	if err != nil {
		return flow.IOError("gan", "setup", err)
	}
	defer logFile.Close()
	logger.SetOutput(io.MultiWriter(os.Stderr, logFile))

	if o.gpu {
		logger.Warn("gpu_mode requested but there is no accelerator backend, running on the CPU")
	}

	ds, err := data.Load(o.dataset, o.dataDir, data.Options{InputSize: o.inputSize, Limit: o.limit, Seed: o.seed})
	if err != nil {
		return errors.Wrapf(err, "load %s", o.dataset)
	}
	logger.WithFields(logrus.Fields{
		"dataset": ds.Name,
		"samples": ds.Len(),
		"classes": ds.Classes,
		"shape":   fmt.Sprintf("%dx%dx%d", ds.Shape.Channels, ds.Shape.Height, ds.Shape.Width),
	}).Info("dataset loaded")

	applyOverrides(&gc, o, ds)
	s, err := gan.New(o.ganType, gc)
	if err != nil {
		return err
	}

	loader, err := data.NewLoader(ds, data.LoaderConfig{BatchSize: o.batchSize, Shuffle: true, Seed: o.seed})
	if err != nil {
		return err
	}
	src := data.Prefetch(loader, 2)
	defer src.Close()

	gridClasses := 0
	switch o.ganType {
	case "CGAN", "ACGAN":
		gridClasses = gc.Classes
	case "InfoGAN":
		gridClasses = gc.Codes.Discrete
	}
	grid, err := visual.NewGrid(visual.GridConfig{
		Dir:     tc.ResultPath(),
		Prefix:  o.ganType,
		Shape:   ds.Shape,
		Samples: 64,
		Scale:   2,
		Classes: gridClasses,
		Caption: true,
	})
	if err != nil {
		return err
	}

	monitor := train.NewMonitor(200)
	if o.statusAddr != "" {
		go func() {
			if err := train.Serve(ctx, o.statusAddr, monitor, logger); err != nil {
				logger.WithError(err).Error("status server stopped")
			}
		}()
	}
	callbacks := append(train.Standard(tc, grid), monitor)
	var ledger *train.Ledger
	if o.ledger != "none" {
		path := o.ledger
		if path == "" {
			path = filepath.Join(o.logDir, "runs.sqlite3")
		}
		if ledger, err = train.OpenLedger(path); err != nil {
			logger.WithError(err).Warn("run ledger disabled")
			ledger = nil
		} else {
			defer ledger.Close()
			callbacks = append(callbacks, ledger)
		}
	}
	trainer, err := train.New(tc, s, src, logger, callbacks...)
	if err != nil {
		return err
	}
	if _, err := trainer.Train(ctx); err != nil {
		return err
	}
	logger.Info("[*] Training finished!")

	var evaluator *fid.Evaluator
	if tc.FIDSamples > 0 {
		ext, err := extractor(o, tc, ds, logger)
		if err != nil {
			return err
		}
		evaluator = fid.NewEvaluator(ext)
	}
	score, err := trainer.Finish(ctx, grid, evaluator)
	if err != nil {
		return err
	}
	logger.Info("[*] Testing finished!")
	if evaluator != nil {
		if ledger != nil {
			if err := ledger.RecordScore(score); err != nil {
				logger.WithError(err).Warn("could not record the score")
			}
		}
		fmt.Println(score)
	}
	return nil
}

// applyOverrides copies the explicitly given flags and the dataset's
// geometry into the variant's defaults.
func applyOverrides(gc *gan.Config, o options, ds *data.Dataset) {
	gc.Shape = ds.Shape
	gc.Classes = ds.Classes
	gc.Seed = o.seed
	if o.set["lrG"] {
		gc.LRG = o.lrG
	}
	if o.set["lrD"] {
		gc.LRD = o.lrD
	}
	if o.set["beta1"] {
		gc.Beta1 = o.beta1
	}
	if o.set["beta2"] {
		gc.Beta2 = o.beta2
	}
	if o.ganType == "InfoGAN" {
		gc.Supervised = o.supervised
		if o.supervised {
			gc.Codes.Discrete = ds.Classes
		}
	}
}

func extractor(o options, tc train.Config, ds *data.Dataset, logger *logrus.Logger) (fid.Extractor, error) {
	switch o.extractor {
	case "pixels":
		return fid.Identity(), nil
	case "classifier":
		cfg := fid.DefaultClassifierConfig()
		cfg.Seed = o.seed
		cfg.Logger = logger
		c, err := fid.TrainClassifier(ds, cfg)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(tc.ModelDir(), "fid_classifier.json")
		if err := c.Save(path); err != nil {
			logger.WithError(err).Warn("could not save the feature classifier")
		}
		return c, nil
	}
	return fid.LoadExtractor(o.extractor, ds.Shape.Size(), ds.Classes, fid.DefaultClassifierConfig())
}
