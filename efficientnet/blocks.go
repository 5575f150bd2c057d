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

package efficientnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// batchNormEpsilon used by all batch normalizations of the model.
const batchNormEpsilon = 1e-3

// MBConv is the mobile inverted bottleneck block: 1x1 expansion, depthwise convolution,
// squeeze-and-excitation, 1x1 projection and, when the shapes allow, a residual connection
// with drop connect (stochastic depth) at the given rate.
//
// x is shaped [batch_size, height, width, block.InputChannels].
func MBConv(ctx *context.Context, x *Node, block Stage, dropConnectRate float64) *Node {
	residual := x
	inputChannels := x.Shape().Dimensions[3]
	if block.ExpandRatio != 1 {
		x = convBatchNorm(ctx.In("expand"), x, inputChannels*block.ExpandRatio, 1, 1)
		x = activations.Swish(x)
	}

	dwCtx := ctx.In("depthwise")
	x = DepthwiseConv(dwCtx, x, block.KernelSize, block.Stride)
	x = batchnorm.New(dwCtx, x, -1).Epsilon(batchNormEpsilon).Done()
	x = activations.Swish(x)

	if block.SERatio > 0 {
		x = SqueezeExcitation(ctx.In("se"), x, max(1, int(float64(inputChannels)*block.SERatio)))
	}

	x = convBatchNorm(ctx.In("project"), x, block.OutputChannels, 1, 1)
	if block.Stride == 1 && inputChannels == block.OutputChannels {
		x = DropConnect(ctx, x, dropConnectRate)
		x = Add(x, residual)
	}
	return x
}

// SqueezeExcitation re-weights the channels of x (shaped [batch_size, height, width, channels])
// with a gate computed from their global average, through a bottleneck of reducedChannels.
func SqueezeExcitation(ctx *context.Context, x *Node, reducedChannels int) *Node {
	dims := x.Shape().Dimensions
	batchSize, channels := dims[0], dims[3]
	gate := ReduceMean(x, 1, 2)
	gate = layers.Dense(ctx.In("reduce"), gate, true, reducedChannels)
	gate = activations.Swish(gate)
	gate = layers.Dense(ctx.In("expand"), gate, true, channels)
	gate = Sigmoid(gate)
	gate = Reshape(gate, batchSize, 1, 1, channels)
	return Mul(x, gate)
}

// DropConnect drops whole examples of x with probability rate during training, and scales the
// kept ones by 1/(1-rate). It is a no-op if not training or if rate <= 0.
func DropConnect(ctx *context.Context, x *Node, rate float64) *Node {
	g := x.Graph()
	if rate <= 0 || !ctx.IsTraining(g) {
		return x
	}
	x = layers.DropPath(ctx, x, Scalar(g, x.DType(), rate))
	return MulScalar(x, 1.0/(1.0-rate))
}

// convBatchNorm is a convolution with "same" padding and no bias, followed by batch normalization.
func convBatchNorm(ctx *context.Context, x *Node, channels, kernelSize, stride int) *Node {
	x = layers.Convolution(ctx, x).
		Channels(channels).
		KernelSize(kernelSize).
		Strides(stride).
		PadSame().
		UseBias(false).
		Done()
	return batchnorm.New(ctx, x, -1).Epsilon(batchNormEpsilon).Done()
}
