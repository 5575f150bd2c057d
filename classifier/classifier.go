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

// Package classifier classifies brain MRI images with a trained checkpoint.
//
// Example:
//
//	c, err := classifier.New(backends.MustNew(), "models/brain_tumor_classifier.pth")
//	if err != nil { ... }
//	prediction, err := c.PredictFile("scan.jpg")
//	fmt.Printf("%s (%.2f%%)\n", prediction.ClassName, prediction.Confidence)
package classifier

import (
	"image"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/neuroscan/braintumor/checkpoint"
	"github.com/neuroscan/braintumor/efficientnet"
	"github.com/neuroscan/braintumor/mri"
	"github.com/neuroscan/braintumor/transforms"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrImageNotFound is returned by PredictFile when the image doesn't exist, after trying the fallbacks.
var ErrImageNotFound = errors.New("image not found")

// Prediction for one image.
type Prediction struct {
	// ClassIndex is the label with the highest probability.
	ClassIndex int

	// ClassName of ClassIndex.
	ClassName string

	// Confidence is the probability of ClassIndex, in percent.
	Confidence float64

	// Logits are the raw scores of each class.
	Logits []float32

	// Probabilities of each class (softmax of the logits).
	Probabilities []float32
}

// Classifier holds the model of a checkpoint, compiled for inference.
type Classifier struct {
	backend    backends.Backend
	ctx        *context.Context
	exec       *context.Exec
	classNames []string
	transform  *transforms.Config
	resolver   mri.PathResolver
}

// New loads the checkpoint at checkpointPath and creates a Classifier using backend.
//
// It returns an error wrapping checkpoint.ErrNotFound if the file doesn't exist.
func New(backend backends.Backend, checkpointPath string) (*Classifier, error) {
	ckpt, err := checkpoint.Load(checkpointPath)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load model from %q", checkpointPath)
	}
	klog.V(1).Infof("Loaded checkpoint %q: run %s, %d epochs, validation accuracy %.4f",
		checkpointPath, ckpt.RunID, ckpt.EpochsTrained, ckpt.BestValAccuracy)
	return NewFromCheckpoint(backend, ckpt)
}

// NewFromCheckpoint creates a Classifier with the parameters of ckpt, which are transferred to the Classifier.
func NewFromCheckpoint(backend backends.Backend, ckpt *checkpoint.Checkpoint) (*Classifier, error) {
	c := &Classifier{
		backend:    backend,
		ctx:        context.New(),
		classNames: ckpt.Classes(),
		transform:  transforms.DefaultEval(),
		resolver:   mri.DefaultImageResolver,
	}
	if size := ckpt.InputShape[1]; size > 0 {
		c.transform.Size = size
	}
	if err := ckpt.Restore(c.ctx); err != nil {
		return nil, err
	}
	// The number of outputs follows the class names of the checkpoint.
	c.ctx.SetParam(efficientnet.ParamNumClasses, len(c.classNames))
	c.ctx = c.ctx.Reuse() // All variables must come from the checkpoint.

	var err error
	c.exec, err = context.NewExec(c.backend, c.ctx.In("model"), func(ctx *context.Context, images *Node) []*Node {
		logits := efficientnet.Build(ctx, images, len(c.classNames))
		return []*Node{logits, Softmax(logits, -1)}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create model executor")
	}
	return c, nil
}

// WithImageResolver sets the fallbacks used by PredictFile to find images. Default is mri.DefaultImageResolver.
func (c *Classifier) WithImageResolver(resolver mri.PathResolver) *Classifier {
	c.resolver = resolver
	return c
}

// ClassNames returns the names of the classes, in label order.
func (c *Classifier) ClassNames() []string { return c.classNames }

// PredictFile reads the image at path and classifies it.
//
// If path doesn't exist, the fallbacks of the image resolver are tried, and if none exists
// it returns an error wrapping ErrImageNotFound listing the paths tried.
func (c *Classifier) PredictFile(path string) (*Prediction, error) {
	resolved, tried, err := c.resolver.Resolve(path, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrImageNotFound, "tried %q", tried)
	}
	if resolved != path {
		klog.Infof("[INFO] Image %q not found, using %q", path, resolved)
	}
	img, err := transforms.Open(resolved)
	if err != nil {
		return nil, err
	}
	return c.Predict(img)
}

// Predict classifies the image. Any size and color model is accepted: it is converted to RGB and resized.
func (c *Classifier) Predict(img image.Image) (*Prediction, error) {
	input := c.transform.ApplyToTensor(img, nil)
	var logitsT, probsT *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		var execErr error
		logitsT, probsT, execErr = c.exec.Exec2(input)
		if execErr != nil {
			panic(execErr)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to execute model")
	}
	p := &Prediction{
		Logits:        tensors.MustCopyFlatData[float32](logitsT),
		Probabilities: tensors.MustCopyFlatData[float32](probsT),
	}
	for ii, prob := range p.Probabilities {
		if prob > p.Probabilities[p.ClassIndex] {
			p.ClassIndex = ii
		}
	}
	p.ClassName = c.classNames[p.ClassIndex]
	p.Confidence = 100 * float64(p.Probabilities[p.ClassIndex])
	return p, nil
}
