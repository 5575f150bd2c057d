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
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/neuroscan/braintumor/efficientnet"
	"github.com/pkg/errors"
)

// Short names of the metrics read by EpochRunner. They must differ from the trainer's own loss metrics.
const (
	lossMetricShortName     = "#epoch_loss"
	accuracyMetricShortName = "#epoch_acc"
)

// Result of one pass over a dataset.
type Result struct {
	// Loss is the mean cross-entropy over all samples.
	Loss float64

	// Accuracy is the fraction of samples whose highest scoring class is the label.
	Accuracy float64
}

// lossGraph returns the mean cross-entropy of the batch.
func lossGraph(_ *context.Context, labels, predictions []*Node) *Node {
	return ReduceAllMean(losses.SparseCategoricalCrossEntropyLogits(labels, predictions))
}

// epochMetrics returns the metrics averaged over a whole pass, weighted by the batch sizes.
func epochMetrics(prefix string) []metrics.Interface {
	return []metrics.Interface{
		metrics.NewMeanMetric(prefix+" Loss", lossMetricShortName, metrics.LossMetricType, lossGraph, nil),
		metrics.NewSparseCategoricalAccuracy(prefix+" Accuracy", accuracyMetricShortName),
	}
}

// NewTrainer creates the trainer of the EfficientNet model, with the Adam optimizer configured in ctx
// and the metrics read by EpochRunner. ctx is usually scoped in "model".
func NewTrainer(backend backends.Backend, ctx *context.Context) (trainer *train.Trainer, err error) {
	err = exceptions.TryCatch[error](func() {
		trainer = train.NewTrainer(backend, ctx, efficientnet.ModelGraph,
			losses.SparseCategoricalCrossEntropyLogits,
			optimizers.FromContext(ctx),
			epochMetrics("Epoch Train"),      // trainMetrics
			epochMetrics("Epoch Evaluation")) // evalMetrics
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create trainer")
	}
	return trainer, nil
}

// EpochRunner runs full passes over a dataset, either training or evaluating.
type EpochRunner struct {
	trainer     *train.Trainer
	loop        *train.Loop
	progressBar bool
}

// NewEpochRunner creates an EpochRunner for trainer, which must include the metrics created by NewTrainer.
// A progress bar is displayed during the training passes, see WithProgressBar.
func NewEpochRunner(trainer *train.Trainer) *EpochRunner {
	return &EpochRunner{trainer: trainer, progressBar: true}
}

// WithProgressBar enables or disables the progress bar of the training passes.
// It must be called before the first call to Run.
func (r *EpochRunner) WithProgressBar(enabled bool) *EpochRunner {
	r.progressBar = enabled
	return r
}

// Trainer returns the underlying trainer.
func (r *EpochRunner) Trainer() *train.Trainer { return r.trainer }

// Run does one pass over ds and returns its mean loss and accuracy.
//
// If update is true, the model parameters are updated after each batch (training mode, with dropout
// and augmentation). Otherwise, it only evaluates the model: no gradients and no updates.
func (r *EpochRunner) Run(ds train.Dataset, update bool) (result Result, err error) {
	var values []*tensors.Tensor
	var metricsList []metrics.Interface
	if update {
		if r.loop == nil {
			r.loop = train.NewLoop(r.trainer)
			if r.progressBar {
				commandline.AttachProgressBar(r.loop)
			}
		}
		var runErr error
		err = exceptions.TryCatch[error](func() { values, runErr = r.loop.RunEpochs(ds, 1) })
		if err == nil {
			err = runErr
		}
		metricsList = r.trainer.TrainMetrics()
	} else {
		var evalErr error
		err = exceptions.TryCatch[error](func() { values, evalErr = r.trainer.Eval(ds) })
		if err == nil {
			err = evalErr
		}
		ds.Reset()
		metricsList = r.trainer.EvalMetrics()
	}
	if err != nil {
		return Result{}, errors.WithMessagef(err, "pass over dataset %q (update=%v) failed", ds.Name(), update)
	}
	if result.Loss, err = metricValue(metricsList, values, lossMetricShortName); err != nil {
		return
	}
	result.Accuracy, err = metricValue(metricsList, values, accuracyMetricShortName)
	return
}

// metricValue returns the value of the metric with the given short name.
func metricValue(metricsList []metrics.Interface, values []*tensors.Tensor, shortName string) (float64, error) {
	for ii, m := range metricsList {
		if m.ShortName() != shortName {
			continue
		}
		if ii >= len(values) || values[ii] == nil {
			return 0, errors.Errorf("metric %q has no value, was the dataset empty?", m.Name())
		}
		switch v := values[ii].Value().(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		default:
			return 0, errors.Errorf("metric %q has unexpected value %v (%T)", m.Name(), v, v)
		}
	}
	return 0, errors.Errorf("trainer has no metric %q, create it with training.NewTrainer", shortName)
}
