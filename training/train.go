/*
 *	Copyright 2025 The BrainTumor Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package training

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/neuroscan/braintumor/checkpoint"
	"github.com/neuroscan/braintumor/efficientnet"
	"github.com/neuroscan/braintumor/mri"
	"github.com/neuroscan/braintumor/transforms"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config holds the locations used by a training run. Hyperparameters are in the context.
type Config struct {
	// DatasetRoot is the directory holding the "Training" subdirectory.
	DatasetRoot string

	// ModelPath is the checkpoint file where the best model is saved.
	ModelPath string

	// ResultsDir is where the learning curves are written.
	ResultsDir string

	// Resolver is used to find the dataset root, if it doesn't exist as given.
	Resolver mri.PathResolver

	// ProgressBar enables the progress bar of the training passes.
	ProgressBar bool
}

// Report summarizes a training run.
type Report struct {
	History         History
	BestValAccuracy float64
	BestEpoch       int
	RunID           string
}

// TrainModel indexes and splits the dataset, trains the model for the number of epochs configured in ctx,
// keeps the best model (by validation accuracy) in cfg.ModelPath and plots the learning curves.
//
// The model variables are created under the "model" scope of ctx.
func TrainModel(backend backends.Backend, ctx *context.Context, cfg Config) (*Report, error) {
	epochs := context.GetParamOr(ctx, ParamEpochs, 20)
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 16)
	valSplit := context.GetParamOr(ctx, ParamValSplit, 0.2)
	numWorkers := context.GetParamOr(ctx, ParamNumWorkers, 4)
	seed := int64(context.GetParamOr(ctx, ParamSeed, 42))
	imageSize := context.GetParamOr(ctx, ParamImageSize, transforms.DefaultSize)
	if epochs <= 0 || batchSize <= 0 || imageSize <= 0 {
		return nil, errors.Errorf("%q, %q and %q must be > 0, got %d, %d and %d",
			ParamEpochs, ParamBatchSize, ParamImageSize, epochs, batchSize, imageSize)
	}
	ctx.SetParams(map[string]any{
		ParamDatasetRoot: cfg.DatasetRoot,
		ParamModelPath:   cfg.ModelPath,
		ParamResultsDir:  cfg.ResultsDir,
	})
	if err := ctx.SetRNGStateFromSeed(seed); err != nil {
		return nil, errors.WithMessagef(err, "failed to seed the random number generator with %d", seed)
	}

	samples, err := mri.Index(cfg.DatasetRoot, cfg.Resolver)
	if err != nil {
		return nil, err
	}
	split, err := mri.StratifiedSplit(samples, valSplit, seed)
	if err != nil {
		return nil, err
	}
	if len(split.Train) == 0 || len(split.Validation) == 0 {
		return nil, errors.Errorf("dataset too small: %d train and %d validation images",
			len(split.Train), len(split.Validation))
	}

	trainTransform := transforms.DefaultTrain()
	if !context.GetParamOr(ctx, ParamAugment, true) {
		trainTransform = transforms.DefaultEval()
	}
	trainTransform.Size = imageSize
	evalTransform := transforms.DefaultEval()
	evalTransform.Size = imageSize
	trainDS := mri.NewDataset("train", split.Train, trainTransform, batchSize, numWorkers, true, seed)
	valDS := mri.NewDataset("validation", split.Validation, evalTransform, batchSize, numWorkers, false, seed)

	modelCtx := ctx.In("model")
	if source := context.GetParamOr(ctx, efficientnet.ParamPretrainedWeights, ""); source != "" {
		weightsDir, err := efficientnet.PrepareWeights(source)
		if err != nil {
			return nil, err
		}
		if modelCtx, err = efficientnet.LoadPretrained(modelCtx, weightsDir); err != nil {
			return nil, err
		}
		fmt.Printf("[INFO] Backbone initialized with pretrained weights from %s\n", weightsDir)
	}
	trainer, err := NewTrainer(backend, modelCtx)
	if err != nil {
		return nil, err
	}
	runner := NewEpochRunner(trainer).WithProgressBar(cfg.ProgressBar)

	header := checkpoint.Header{InputShape: [3]int{transforms.NumChannels, imageSize, imageSize}}
	header.SetClasses(mri.ClassNames)
	manager := checkpoint.NewManager(cfg.ModelPath, header)
	klog.V(1).Infof("Run %s: %d epochs, batch size %d, checkpoint %q", manager.RunID(), epochs, batchSize, cfg.ModelPath)

	report := &Report{RunID: manager.RunID()}
	for epoch := 1; epoch <= epochs; epoch++ {
		fmt.Printf("\n===== Epoch %d/%d =====\n", epoch, epochs)
		trainResult, err := runner.Run(trainDS, true)
		if err != nil {
			return nil, errors.WithMessagef(err, "training epoch %d", epoch)
		}
		valResult, err := runner.Run(valDS, false)
		if err != nil {
			return nil, errors.WithMessagef(err, "validation of epoch %d", epoch)
		}
		report.History.Append(trainResult, valResult)
		fmt.Printf("[METRICS] Train Loss: %.4f | Train Acc: %.4f | Val Loss: %.4f | Val Acc: %.4f\n",
			trainResult.Loss, trainResult.Accuracy, valResult.Loss, valResult.Accuracy)
		if _, err := manager.Observe(modelCtx, epoch, valResult.Accuracy); err != nil {
			return nil, err
		}
	}
	report.BestValAccuracy, report.BestEpoch = manager.Best()
	fmt.Printf("\n[RESULT] Best validation accuracy: %.4f\n", report.BestValAccuracy)
	if !manager.Saved() {
		klog.Warningf("[WARN] Validation accuracy never rose above 0, no checkpoint saved to %s", cfg.ModelPath)
	}

	if err := PlotCurves(report.History, cfg.ResultsDir); err != nil {
		return report, err
	}
	return report, nil
}
