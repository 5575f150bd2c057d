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
	"math"
	"strings"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// smallContext returns a context configured with a narrow and shallow version of the model, fast to test.
func smallContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamNumClasses: 4,
		ParamWidth:      0.25,
		ParamDepth:      0.1,
	})
	return ctx
}

func TestSamePadding(t *testing.T) {
	for _, tc := range []struct {
		size, kernel, stride int
		padding              [2]int
		output               int
	}{
		{224, 3, 2, [2]int{0, 1}, 112},
		{224, 3, 1, [2]int{1, 1}, 224},
		{112, 5, 2, [2]int{1, 2}, 56},
		{7, 5, 1, [2]int{2, 2}, 7},
		{1, 3, 2, [2]int{1, 1}, 1},
	} {
		padding, output := SamePadding(tc.size, tc.kernel, tc.stride)
		assert.Equalf(t, tc.padding, padding, "SamePadding(%d, %d, %d)", tc.size, tc.kernel, tc.stride)
		assert.Equalf(t, tc.output, output, "SamePadding(%d, %d, %d)", tc.size, tc.kernel, tc.stride)
	}
}

func TestRoundChannelsAndRepeats(t *testing.T) {
	assert.Equal(t, 32, RoundChannels(32, 1.0))
	assert.Equal(t, 8, RoundChannels(32, 0.25))
	assert.Equal(t, 8, RoundChannels(16, 0.25))
	assert.Equal(t, 320, RoundChannels(1280, 0.25))
	assert.Equal(t, 40, RoundChannels(32, 1.2))
	assert.Equal(t, 4, RoundRepeats(4, 1.0))
	assert.Equal(t, 1, RoundRepeats(4, 0.1))
	assert.Equal(t, 5, RoundRepeats(4, 1.1))
}

func TestDepthwiseConv(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	t.Run("stride=1", func(t *testing.T) {
		ctx := context.New().WithInitializer(initializers.One)
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 1, 4, 4, 2))
			return DepthwiseConv(ctx, x, 3, 1)
		})
		require.NoError(t, got.Shape().CheckDims(1, 4, 4, 2))
		values := got.Value().([][][][]float32)[0]
		// With an all-ones kernel each output counts the input pixels under the (zero padded) window.
		assert.Equal(t, float32(4), values[0][0][0])
		assert.Equal(t, float32(6), values[0][1][1])
		assert.Equal(t, float32(9), values[1][1][0])
		assert.Equal(t, float32(9), values[2][2][1])
		assert.Equal(t, float32(4), values[3][3][1])
	})

	t.Run("stride=2", func(t *testing.T) {
		ctx := context.New().WithInitializer(initializers.One)
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 2, 5, 5, 3))
			return DepthwiseConv(ctx, x, 3, 2)
		})
		require.NoError(t, got.Shape().CheckDims(2, 3, 3, 3))
		values := got.Value().([][][][]float32)[1]
		assert.Equal(t, float32(4), values[0][0][2])
		assert.Equal(t, float32(9), values[1][1][0])
	})

	t.Run("per-channel kernel", func(t *testing.T) {
		ctx := context.New()
		// Kernel with only the center tap set: channel c is multiplied by c+1.
		kernel := make([]float32, 3*3*2)
		kernel[(1*3+1)*2+0] = 1
		kernel[(1*3+1)*2+1] = 2
		ctx.VariableWithValue("depthwise_weights", tensors.FromFlatDataAndDimensions(kernel, 3, 3, 2))
		got := context.MustExecOnce(backend, ctx.Reuse(), func(ctx *context.Context, x *Node) *Node {
			return DepthwiseConv(ctx, x, 3, 1)
		}, [][][][]float32{{{{1, 1}, {2, 2}}, {{3, 3}, {4, 4}}}})
		assert.Equal(t, [][][][]float32{{{{1, 2}, {2, 4}}, {{3, 6}, {4, 8}}}}, got.Value())
	})
}

func TestModelGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := smallContext()
	images := tensors.FromShape(shapes.Make(dtypes.Float32, 2, 3, 32, 32))
	images.MustMutableFlatData(func(flat any) {
		values := flat.([]float32)
		for ii := range values {
			values[ii] = float32(math.Sin(float64(ii) * 0.01))
		}
	})

	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		return ModelGraph(ctx, nil, []*Node{images})[0]
	})
	logits := exec.MustExec(images)[0]
	require.NoError(t, logits.Shape().CheckDims(2, 4))
	for _, v := range tensors.MustCopyFlatData[float32](logits) {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
	}

	// Inference is deterministic: executing again with the same variables gives the same logits.
	again := exec.MustExec(images)[0]
	require.True(t, logits.InDelta(again, 1e-6))

	// Variables of all the parts were created.
	var hasStem, hasSE, hasDepthwise, hasLogits bool
	ctx.EnumerateVariables(func(v *context.Variable) {
		switch {
		case strings.HasPrefix(v.Scope(), "/stem/"):
			hasStem = true
		case strings.HasPrefix(v.Scope(), "/block_00/se/reduce"):
			hasSE = true
		case v.Name() == "depthwise_weights":
			hasDepthwise = true
		case strings.HasPrefix(v.Scope(), "/logits"):
			hasLogits = true
		}
	})
	assert.True(t, hasStem, "missing stem variables")
	assert.True(t, hasSE, "missing squeeze-excitation variables")
	assert.True(t, hasDepthwise, "missing depthwise convolution variables")
	assert.True(t, hasLogits, "missing logits variables")
}

func TestUnsupportedVariant(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := smallContext()
	ctx.SetParam(ParamVariant, "b7")
	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return Build(ctx, Zeros(g, shapes.Make(dtypes.Float32, 1, 3, 32, 32)), 4)
		})
	})
}
