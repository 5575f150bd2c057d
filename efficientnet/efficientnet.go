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

// Package efficientnet implements the EfficientNet-B0 image classifier as a GoMLX model.
//
// Based on "EfficientNet: Rethinking Model Scaling for Convolutional Neural Networks" (Mingxing Tan,
// Quoc V. Le), https://arxiv.org/abs/1905.11946.
//
// The model takes channel-first images shaped [batch_size, 3, height, width] and returns the logits
// shaped [batch_size, num_classes]. Its hyperparameters are read from the context: see the Param* constants.
//
// Example:
//
//	ctx := context.New()
//	ctx.SetParam(efficientnet.ParamNumClasses, 4)
//	trainer := train.NewTrainer(backend, ctx, efficientnet.ModelGraph, losses.SparseCategoricalCrossEntropyLogits, ...)
//
// The backbone can optionally be initialized with the Keras ImageNet weights: see PrepareWeights and
// LoadPretrained.
package efficientnet

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

const (
	// ParamNumClasses is the number of output classes (int). Default is 4.
	ParamNumClasses = "num_classes"

	// ParamVariant selects the scaling variant. Only "b0" is supported.
	ParamVariant = "efficientnet_variant"

	// ParamWidth multiplies the number of channels of every layer (float64). Default is 1.0 (b0).
	ParamWidth = "efficientnet_width"

	// ParamDepth multiplies the number of repeats of every stage (float64). Default is 1.0 (b0).
	ParamDepth = "efficientnet_depth"

	// ParamDropoutRate is the dropout applied to the pooled features before the logits (float64). Default is 0.2.
	ParamDropoutRate = "efficientnet_dropout_rate"

	// ParamDropConnectRate is the maximum stochastic depth (drop connect) probability, reached by the
	// last block and linearly scaled down for earlier blocks (float64). Default is 0.2.
	ParamDropConnectRate = "efficientnet_drop_connect_rate"
)

// DefaultNumClasses is the number of classes when ParamNumClasses is not set.
const DefaultNumClasses = 4

// Stage describes a group of MBConv blocks sharing their configuration.
// Only the first block of a stage uses Stride, the others use stride 1.
type Stage struct {
	ExpandRatio, KernelSize, Stride int
	InputChannels, OutputChannels   int
	Repeats                         int
	SERatio                         float64
}

// B0Stages are the MBConv stages of EfficientNet-B0.
var B0Stages = []Stage{
	{ExpandRatio: 1, KernelSize: 3, Stride: 1, InputChannels: 32, OutputChannels: 16, Repeats: 1, SERatio: 0.25},
	{ExpandRatio: 6, KernelSize: 3, Stride: 2, InputChannels: 16, OutputChannels: 24, Repeats: 2, SERatio: 0.25},
	{ExpandRatio: 6, KernelSize: 5, Stride: 2, InputChannels: 24, OutputChannels: 40, Repeats: 2, SERatio: 0.25},
	{ExpandRatio: 6, KernelSize: 3, Stride: 2, InputChannels: 40, OutputChannels: 80, Repeats: 3, SERatio: 0.25},
	{ExpandRatio: 6, KernelSize: 5, Stride: 1, InputChannels: 80, OutputChannels: 112, Repeats: 3, SERatio: 0.25},
	{ExpandRatio: 6, KernelSize: 5, Stride: 2, InputChannels: 112, OutputChannels: 192, Repeats: 4, SERatio: 0.25},
	{ExpandRatio: 6, KernelSize: 3, Stride: 1, InputChannels: 192, OutputChannels: 320, Repeats: 1, SERatio: 0.25},
}

const (
	stemChannels = 32
	headChannels = 1280
	widthDivisor = 8
)

// ModelGraph implements train.ModelFn. inputs[0] are the images, shaped [batch_size, 3, height, width].
// It returns the logits shaped [batch_size, num_classes].
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec // Not used.
	numClasses := context.GetParamOr(ctx, ParamNumClasses, DefaultNumClasses)
	return []*Node{Build(ctx, inputs[0], numClasses)}
}

// Build creates the EfficientNet graph for images shaped [batch_size, 3, height, width] and returns
// the logits shaped [batch_size, numClasses].
func Build(ctx *context.Context, images *Node, numClasses int) *Node {
	if variant := context.GetParamOr(ctx, ParamVariant, "b0"); variant != "b0" {
		exceptions.Panicf("efficientnet: unsupported variant %q, only \"b0\" is available", variant)
	}
	if images.Rank() != 4 || images.Shape().Dimensions[1] != 3 {
		exceptions.Panicf("efficientnet: images must be shaped [batch_size, 3, height, width], got %s", images.Shape())
	}
	width := context.GetParamOr(ctx, ParamWidth, 1.0)
	depth := context.GetParamOr(ctx, ParamDepth, 1.0)
	dropConnectRate := context.GetParamOr(ctx, ParamDropConnectRate, 0.2)

	// Channels-last from here on.
	x := TransposeAllDims(images, 0, 2, 3, 1)

	x = convBatchNorm(ctx.In("stem"), x, RoundChannels(stemChannels, width), 3, 2)
	x = activations.Swish(x)

	numBlocks := 0
	for _, stage := range B0Stages {
		numBlocks += RoundRepeats(stage.Repeats, depth)
	}
	blockIdx := 0
	for _, stage := range B0Stages {
		block := stage
		block.InputChannels = RoundChannels(stage.InputChannels, width)
		block.OutputChannels = RoundChannels(stage.OutputChannels, width)
		for repeat := range RoundRepeats(stage.Repeats, depth) {
			if repeat > 0 {
				block.InputChannels = block.OutputChannels
				block.Stride = 1
			}
			dropRate := dropConnectRate * float64(blockIdx) / float64(numBlocks)
			x = MBConv(ctx.Inf("block_%02d", blockIdx), x, block, dropRate)
			blockIdx++
		}
	}

	x = convBatchNorm(ctx.In("head"), x, RoundChannels(headChannels, width), 1, 1)
	x = activations.Swish(x)
	x = ReduceMean(x, 1, 2) // Global average pooling: [batch_size, channels].
	x = layers.DropoutStatic(ctx, x, context.GetParamOr(ctx, ParamDropoutRate, 0.2))
	return layers.Dense(ctx.In("logits"), x, true, numClasses)
}

// RoundChannels scales the number of channels by the width multiplier, rounding to a multiple of 8
// without going below 90% of the scaled value.
func RoundChannels(channels int, width float64) int {
	if width == 1.0 {
		return channels
	}
	scaled := float64(channels) * width
	rounded := max(widthDivisor, int(scaled+widthDivisor/2)/widthDivisor*widthDivisor)
	if float64(rounded) < 0.9*scaled {
		rounded += widthDivisor
	}
	return rounded
}

// RoundRepeats scales the number of repeats of a stage by the depth multiplier, rounding up.
func RoundRepeats(repeats int, depth float64) int {
	if depth == 1.0 {
		return repeats
	}
	return max(1, int(math.Ceil(depth*float64(repeats))))
}
