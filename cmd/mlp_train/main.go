// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// mlp_train trains a multi-layer perceptron classifier and saves it to a checkpoint.
//
// The data can be the Fashion-MNIST (or MNIST) IDX files (-data), a CSV file (-csv, with -label naming the
// class column) or synthetic Gaussian clusters (-synthetic). Hyperparameters are set with -set, e.g.:
//
//	mlp_train -data=~/work/fashionmnist -hidden=256,128,64 -epochs=5 \
//	    -set="optimizer=adam;learning_rate=0.003;dropout_rate=0.2" -checkpoint=~/work/fashion.ckpt
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/mlptrain/pkg/ml/context"
	"github.com/gomlx/mlptrain/pkg/ml/layers"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/mlptrain/pkg/support/xslices"
	"github.com/gomlx/mlptrain/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// Hyperparameters set in the context, in addition to the optimizers ones.
const (
	ParamBatchSize          = "batch_size"
	ParamEvalBatchSize      = "eval_batch_size"
	ParamValidationFraction = "validation_fraction"
	ParamEvalEveryNSteps    = "eval_every_n_steps"
	ParamCheckpointEvery    = "checkpoint_every_n_epochs"
	ParamCheckpointDType    = "checkpoint_dtype"
	ParamSyntheticFeatures  = "synthetic_features"
	ParamSyntheticClasses   = "synthetic_classes"
)

func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamBatchSize:                      64,
		ParamEvalBatchSize:                  1000,
		layers.ParamDropoutRate:             0.2,
		ParamValidationFraction:             0.1,
		ParamEvalEveryNSteps:                0,
		ParamCheckpointEvery:                1,
		ParamCheckpointDType:                "float64",
		ParamSyntheticFeatures:              16,
		ParamSyntheticClasses:               4,
		optimizers.ParamOptimizer:           "adam",
		optimizers.ParamLearningRate:        0.003,
		optimizers.ParamClipStepByValue:     0.0,
		cosineschedule.ParamPeriodSteps:     0,
		cosineschedule.ParamWarmUpSteps:     0,
		cosineschedule.ParamMinLearningRate: 0.0,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	var cfg config
	flag.StringVar(&cfg.dataDir, "data", "", "Directory with the Fashion-MNIST (or MNIST) gzip IDX files.")
	flag.StringVar(&cfg.csvPath, "csv", "", "CSV file with one example per row, with a header line.")
	flag.StringVar(&cfg.labelColumn, "label", "label", "Name of the CSV column with the class of each example.")
	flag.IntVar(&cfg.synthetic, "synthetic", 0, "If > 0, train on this many synthetic examples.")
	hidden := xslices.IntsFlag("hidden", []int{256, 128, 64}, "Sizes of the hidden layers, comma-separated.")
	flag.IntVar(&cfg.epochs, "epochs", 5, "Number of epochs to train.")
	flag.StringVar(&cfg.checkpointPath, "checkpoint", "", "File to save the trained model to. "+
		"If it exists, training continues from it.")
	flag.StringVar(&cfg.plotPath, "plot", "", "PNG file to plot the loss and accuracy to.")
	flag.Uint64Var(&cfg.seed, "seed", 42, "Seed for parameter initialization, dropout and shuffling.")
	flag.BoolVar(&cfg.progressBar, "progress", true, "Display a progress bar during training.")
	settings := commandline.CreateContextSettingsFlag(ctx, "set")
	klog.InitFlags(nil)
	flag.Parse()

	err := exceptions.TryCatch[error](func() {
		paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
		if len(paramsSet) > 0 {
			fmt.Printf("Hyperparameters set:\n%s\n", commandline.SprintModifiedContextSettings(ctx, paramsSet))
		}
		cfg.hiddenSizes = *hidden
		must.M(run(ctx, &cfg))
	})
	if err != nil {
		klog.Errorf("Error:\n%+v", err)
		os.Exit(1)
	}
}
