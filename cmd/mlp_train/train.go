// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/mlptrain/examples/fashionmnist"
	"github.com/gomlx/mlptrain/pkg/core/dtypes"
	"github.com/gomlx/mlptrain/pkg/ml/checkpoints"
	"github.com/gomlx/mlptrain/pkg/ml/context"
	"github.com/gomlx/mlptrain/pkg/ml/datasets"
	"github.com/gomlx/mlptrain/pkg/ml/layers"
	"github.com/gomlx/mlptrain/pkg/ml/model"
	"github.com/gomlx/mlptrain/pkg/ml/train"
	"github.com/gomlx/mlptrain/pkg/ml/train/losses"
	"github.com/gomlx/mlptrain/pkg/ml/train/metrics"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/mlptrain/pkg/support/fsutil"
	"github.com/gomlx/mlptrain/ui/commandline"
	"github.com/gomlx/mlptrain/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// config holds the command-line flags.
type config struct {
	dataDir, csvPath, labelColumn string
	synthetic                     int
	hiddenSizes                   []int
	epochs                        int
	checkpointPath, plotPath      string
	seed                          uint64
	progressBar                   bool
}

// loadDatasets returns the train and validation datasets, batched according to the context.
func loadDatasets(ctx *context.Context, cfg *config) (trainDS, validDS *datasets.InMemoryDataset, err error) {
	numSources := 0
	for _, set := range []bool{cfg.dataDir != "", cfg.csvPath != "", cfg.synthetic > 0} {
		if set {
			numSources++
		}
	}
	if numSources != 1 {
		return nil, nil, errors.New("exactly one of -data, -csv or -synthetic must be given")
	}

	var all *datasets.InMemoryDataset
	switch {
	case cfg.dataDir != "":
		if trainDS, err = fashionmnist.Load(cfg.dataDir, fashionmnist.Train); err != nil {
			return
		}
		if validDS, err = fashionmnist.Load(cfg.dataDir, fashionmnist.Test); err != nil {
			return
		}
	case cfg.csvPath != "":
		csvPath, err := fsutil.ReplaceTildeInDir(cfg.csvPath)
		if err != nil {
			return nil, nil, err
		}
		if all, err = datasets.LoadCSV(csvPath, cfg.labelColumn); err != nil {
			return nil, nil, err
		}
	default:
		all, err = datasets.Synthetic(cfg.synthetic,
			context.GetParamOr(ctx, ParamSyntheticFeatures, 16),
			context.GetParamOr(ctx, ParamSyntheticClasses, 4), cfg.seed)
		if err != nil {
			return nil, nil, err
		}
	}

	if all != nil {
		// Tabular data: random validation split, and features standardized with the train statistics.
		fraction := context.GetParamOr(ctx, ParamValidationFraction, 0.1)
		trainDS, validDS, err = all.Permuted(cfg.seed).Split(1 - fraction)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "failed to split validation data with %s=%g",
				ParamValidationFraction, fraction)
		}
		mean, stddev, err := datasets.Normalization(trainDS.Examples())
		if err != nil {
			return nil, nil, err
		}
		datasets.Normalize(trainDS.Examples(), mean, stddev)
		datasets.Normalize(validDS.Examples(), mean, stddev)
		trainDS.SetName("train")
		validDS.SetName("validation")
	}

	trainDS.BatchSize(context.GetParamOr(ctx, ParamBatchSize, 64)).Shuffle(cfg.seed)
	validDS.BatchSize(context.GetParamOr(ctx, ParamEvalBatchSize, 1000))
	klog.Infof("datasets: %s train and %s validation examples, %d features, %d classes",
		humanize.Comma(int64(trainDS.NumExamples())), humanize.Comma(int64(validDS.NumExamples())),
		trainDS.NumFeatures(), trainDS.NumClasses())
	return trainDS, validDS, nil
}

// createModel creates the model, and restores its parameters from the checkpoint, if one exists.
func createModel(ctx *context.Context, cfg *config, arch model.Architecture) (*model.Model, error) {
	m, err := model.New(arch, model.WithSeed(cfg.seed),
		model.WithDropout(context.GetParamOr(ctx, layers.ParamDropoutRate, 0.0)))
	if err != nil {
		return nil, err
	}
	if cfg.checkpointPath == "" {
		return m, nil
	}
	checkpointPath, err := fsutil.ReplaceTildeInDir(cfg.checkpointPath)
	if err != nil {
		return nil, err
	}
	exists, err := fsutil.FileExists(checkpointPath)
	if err != nil || !exists {
		return m, err
	}
	if err = checkpoints.LoadInto(checkpointPath, m); err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q can't be used with -hidden=%v", checkpointPath, arch.HiddenSizes)
	}
	klog.Infof("continuing training from checkpoint %q", checkpointPath)
	return m, nil
}

// run trains the model according to the context and the flags.
func run(ctx *context.Context, cfg *config) error {
	trainDS, validDS, err := loadDatasets(ctx, cfg)
	if err != nil {
		return err
	}
	arch := model.Architecture{
		InputSize:   trainDS.NumFeatures(),
		OutputSize:  max(trainDS.NumClasses(), validDS.NumClasses()),
		HiddenSizes: cfg.hiddenSizes,
	}
	m, err := createModel(ctx, cfg, arch)
	if err != nil {
		return err
	}
	klog.Infof("model: %s", m)

	optimizer, err := optimizers.FromContext(ctx)
	if err != nil {
		return err
	}
	trainer := train.NewTrainer(m, losses.NegativeLogLikelihood, optimizer,
		[]metrics.Interface{
			metrics.NewMedianLoss("Median Batch Loss", "~loss").WithSeed(cfg.seed),
			metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01),
		},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")})
	loop := train.NewLoop(trainer)
	if cfg.progressBar {
		commandline.AttachProgressBar(loop)
	}
	if context.GetParamOr(ctx, cosineschedule.ParamPeriodSteps, 0) != 0 {
		if err = cosineschedule.New().FromContext(ctx).Attach(loop, optimizer); err != nil {
			return err
		}
	}
	if n := context.GetParamOr(ctx, ParamEvalEveryNSteps, 0); n > 0 {
		train.EveryNSteps(loop, n, "validation", 0, func(loop *train.Loop, _ []float64) error {
			result, err := train.Evaluate(trainer, validDS)
			if err != nil {
				return err
			}
			klog.Infof("step %d: validation loss %.4f, accuracy %.2f%%", loop.LoopStep+1, result.MeanLoss, 100*result.Accuracy)
			return nil
		})
	}
	loop.OnEpoch("log", 0, func(loop *train.Loop, stats train.EpochStats) error {
		klog.Infof("epoch %d/%d: %d steps, mean train loss %.4f", stats.Epoch+1, cfg.epochs, stats.Steps, stats.MeanLoss)
		return nil
	})
	if cfg.checkpointPath != "" {
		checkpointPath, err := fsutil.ReplaceTildeInDir(cfg.checkpointPath)
		if err != nil {
			return err
		}
		dtype := context.MustGetParam[dtypes.DType](ctx, ParamCheckpointDType)
		checkpoints.AttachToLoop(loop, checkpointPath, m, context.GetParamOr(ctx, ParamCheckpointEvery, 1),
			checkpoints.WithDType(dtype))
	}
	if cfg.plotPath != "" {
		plots.AttachToLoop(loop, cfg.plotPath, validDS)
	}

	if _, err = loop.RunEpochs(trainDS, cfg.epochs); err != nil {
		return errors.WithMessagef(err, "training %s", m)
	}
	return commandline.ReportEvaluation(os.Stdout, trainer, trainDS, validDS)
}
