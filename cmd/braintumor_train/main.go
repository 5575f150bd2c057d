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

// braintumor_train trains the EfficientNet-B0 brain tumor classifier on a folder of MRI scans.
//
// The dataset is expected under <dataset_root>/Training/<class_folder>/*.{jpg,jpeg,png}. The best model
// (by validation accuracy) is saved to -model_path and the learning curves to -results_dir.
//
// Any hyperparameter of the context can be changed with -set, e.g.:
//
//	braintumor_train -dataset_root=~/data/mri -set="efficientnet_dropout_rate=0.3;image_size=192"
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/neuroscan/braintumor/efficientnet"
	"github.com/neuroscan/braintumor/mri"
	"github.com/neuroscan/braintumor/training"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDatasetRoot  = flag.String("dataset_root", "dataset", "Directory with the \"Training\" subdirectory of class folders.")
	flagEpochs       = flag.Int("epochs", 20, "Number of training epochs.")
	flagBatchSize    = flag.Int("batch_size", 16, "Batch size.")
	flagLearningRate = flag.Float64("lr", 1e-4, "Learning rate of the Adam optimizer.")
	flagValSplit     = flag.Float64("val_split", 0.2, "Fraction of each class held out for validation.")
	flagNumWorkers   = flag.Int("num_workers", 4, "Number of goroutines loading and transforming images.")
	flagSeed         = flag.Int("seed", 42, "Seed of the split, shuffling, augmentations and model initialization.")
	flagModelPath    = flag.String("model_path", "models/brain_tumor_classifier.pth", "Checkpoint file for the best model.")
	flagResultsDir   = flag.String("results_dir", "results", "Directory where the learning curves are saved.")
	flagBackend      = flag.String("backend", "", "Backend configuration, as in $GOMLX_BACKEND. Empty uses the default.")
	flagPathFallback = flag.Bool("path_fallback", true, "If the dataset root doesn't exist, try it with its last element capitalized.")
	flagProgressBar  = flag.Bool("progress", true, "Display a progress bar while training.")
	flagPretrained   = flag.String("pretrained_weights", "",
		"ImageNet weights to initialize the backbone: \"keras\" downloads the Keras EfficientNet-B0 weights, "+
			"or give the path to a Keras \".h5\" file or to its unpacked directory. Empty starts from random weights.")
)

func main() {
	klog.InitFlags(nil)
	ctx := training.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	flag.Parse()

	// Flags are applied first, so -set can still override them.
	ctx.SetParams(map[string]any{
		training.ParamEpochs:         *flagEpochs,
		training.ParamBatchSize:      *flagBatchSize,
		training.ParamValSplit:       *flagValSplit,
		training.ParamNumWorkers:     *flagNumWorkers,
		training.ParamSeed:           *flagSeed,
		optimizers.ParamLearningRate: *flagLearningRate,

		efficientnet.ParamPretrainedWeights: *flagPretrained,
	})
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	klog.V(1).Infof("Hyperparameters set with -set: %v", paramsSet)

	if *flagBackend != "" {
		must.M(os.Setenv(backends.ConfigEnvVar, *flagBackend))
	}
	backend := backends.MustNew()
	defer backend.Finalize()
	fmt.Printf("[INFO] Backend: %s\n", backend.Description())

	resolver := mri.DefaultDatasetResolver
	if !*flagPathFallback {
		resolver = mri.NoFallback
	}
	cfg := training.Config{
		DatasetRoot: fsutil.MustReplaceTildeInDir(*flagDatasetRoot),
		ModelPath:   fsutil.MustReplaceTildeInDir(*flagModelPath),
		ResultsDir:  fsutil.MustReplaceTildeInDir(*flagResultsDir),
		Resolver:    resolver,
		ProgressBar: *flagProgressBar,
	}
	report, err := training.TrainModel(backend, ctx, cfg)
	if err != nil {
		klog.Fatalf("Training failed: %+v", err)
	}
	klog.V(1).Infof("Run %s: best validation accuracy %.4f at epoch %d", report.RunID, report.BestValAccuracy, report.BestEpoch)
}
