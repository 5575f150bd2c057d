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
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// DepthwiseConv convolves each channel of x (shaped [batch_size, height, width, channels]) with its own
// kernelSize×kernelSize filter, with "same" padding (as in TensorFlow) and the given stride.
//
// The kernel is the variable "depthwise_weights" shaped [kernelSize, kernelSize, channels].
//
// It is a sum of strided slices of the padded input, each scaled by one tap of the kernel:
// the gradient of grouped convolutions is not implemented.
func DepthwiseConv(ctx *context.Context, x *Node, kernelSize, stride int) *Node {
	g := x.Graph()
	dtype := x.DType()
	dims := x.Shape().Dimensions
	height, width, channels := dims[1], dims[2], dims[3]

	kernelVar := ctx.VariableWithShape("depthwise_weights", shapes.Make(dtype, kernelSize, kernelSize, channels))
	kernel := kernelVar.ValueGraph(g)

	padHeight, outHeight := SamePadding(height, kernelSize, stride)
	padWidth, outWidth := SamePadding(width, kernelSize, stride)
	padded := Pad(x, ScalarZero(g, dtype),
		PadAxis{},
		PadAxis{Start: padHeight[0], End: padHeight[1]},
		PadAxis{Start: padWidth[0], End: padWidth[1]},
		PadAxis{})

	var output *Node
	for row := range kernelSize {
		for col := range kernelSize {
			tap := Slice(padded,
				AxisRange(),
				AxisRange(row, row+(outHeight-1)*stride+1).Stride(stride),
				AxisRange(col, col+(outWidth-1)*stride+1).Stride(stride),
				AxisRange())
			weights := Reshape(Slice(kernel, AxisElem(row), AxisElem(col), AxisRange()), 1, 1, 1, channels)
			term := Mul(tap, weights)
			if output == nil {
				output = term
			} else {
				output = Add(output, term)
			}
		}
	}
	return output
}

// SamePadding returns the padding (start, end) and the output size of a convolution over an axis of
// the given size, such that the output size is ceil(size/stride).
// As in TensorFlow, the extra padding (if odd) goes at the end.
func SamePadding(size, kernelSize, stride int) (padding [2]int, outputSize int) {
	outputSize = (size + stride - 1) / stride
	total := max(0, (outputSize-1)*stride+kernelSize-size)
	padding[0] = total / 2
	padding[1] = total - padding[0]
	return
}
