// Command classifier trains the feature classifier used to score
// generators and saves it for gan -fid_extractor.
package main

import (
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"ganflow/data"
	"ganflow/fid"
	"ganflow/flow"
)

func main() {
	dataset := flag.String("dataset", "mnist", fmt.Sprintf("the name of dataset %v", data.Datasets()))
	dataDir := flag.String("data_dir", "data", "directory holding one sub-directory per dataset")
	inputSize := flag.Int("input_size", 28, "the size of input image")
	limit := flag.Int("limit", 0, "use at most this many samples, 0 for all")
	epochs := flag.Int("epoch", 10, "the maximum number of epochs")
	batchSize := flag.Int("batch_size", 64, "the size of batch")
	lr := flag.Float64("lr", 1e-3, "learning rate")
	lrDecay := flag.Float64("lr_decay", 0.9, "per-epoch learning rate factor, 0 keeps it fixed")
	weightDecay := flag.Float64("weight_decay", 1e-5, "L2 penalty on the weights")
	evalSamples := flag.Int("eval_samples", 10000, "evaluate on the first N samples, 0 for all")
	out := flag.String("out", "fid_classifier.json", "where to save the weights")
	seed := flag.Int64("seed", 0, "seed identifier")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ds, err := data.Load(*dataset, *dataDir, data.Options{InputSize: *inputSize, Limit: *limit, Seed: *seed})
	if err != nil {
		logger.WithError(err).Fatal("failed to load dataset")
	}

	cfg := fid.DefaultClassifierConfig()
	cfg.Epochs = *epochs
	cfg.BatchSize = *batchSize
	cfg.LR = *lr
	cfg.LRDecay = *lrDecay
	cfg.WeightDecay = *weightDecay
	cfg.Seed = *seed
	cfg.Logger = logger

	c, err := fid.TrainClassifier(ds, cfg)
	if err != nil {
		logger.WithError(err).Fatal("training failed")
	}
	fmt.Println(c.Net.Summary())

	held := ds
	if *evalSamples > 0 {
		held = ds.Head(*evalSamples)
	}
	eval, err := c.Net.Evaluate(held.Images, flow.OneHot(held.Labels, held.Classes))
	if err != nil {
		logger.WithError(err).Fatal("evaluation failed")
	}
	logger.WithFields(logrus.Fields{
		"samples":  held.Len(),
		"loss":     eval["loss"],
		"accuracy": eval["accuracy"],
	}).Info("evaluated")

	if err := c.Save(*out); err != nil {
		logger.WithError(err).Fatal("failed to save classifier")
	}
	logger.WithField("path", *out).Info("classifier saved")
}
