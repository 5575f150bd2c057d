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

// Package training trains the brain tumor classifier: it runs the epochs, keeps the best checkpoint
// and plots the learning curves.
package training

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/neuroscan/braintumor/efficientnet"
	"github.com/neuroscan/braintumor/mri"
	"github.com/neuroscan/braintumor/transforms"
)

// Hyperparameters of a training run, set in the context by CreateDefaultContext.
const (
	ParamEpochs     = "epochs"
	ParamBatchSize  = "batch_size"
	ParamValSplit   = "val_split"
	ParamNumWorkers = "num_workers"
	ParamSeed       = "seed"

	// ParamImageSize is the height and width images are resized to.
	ParamImageSize = "image_size"

	// ParamAugment enables the random augmentations of the training images.
	ParamAugment = "augment"

	// ParamDatasetRoot, ParamModelPath and ParamResultsDir record the locations of a run (Config),
	// so they are saved in the checkpoint along with the other hyperparameters.
	ParamDatasetRoot = "dataset_root"
	ParamModelPath   = "model_path"
	ParamResultsDir  = "results_dir"
)

// CreateDefaultContext returns a context with all the hyperparameters of a training run set to their defaults.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamEpochs:     20,
		ParamBatchSize:  16,
		ParamValSplit:   0.2,
		ParamNumWorkers: 4,
		ParamSeed:       42,
		ParamImageSize:  transforms.DefaultSize,
		ParamAugment:    true,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-4,

		efficientnet.ParamNumClasses:        mri.NumClasses,
		efficientnet.ParamVariant:           "b0",
		efficientnet.ParamWidth:             1.0,
		efficientnet.ParamDepth:             1.0,
		efficientnet.ParamDropoutRate:       0.2,
		efficientnet.ParamDropConnectRate:   0.2,
		efficientnet.ParamPretrainedWeights: "",
	})
	return ctx
}
