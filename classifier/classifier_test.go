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

package classifier

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/neuroscan/braintumor/checkpoint"
	"github.com/neuroscan/braintumor/efficientnet"
	"github.com/neuroscan/braintumor/mri"
	"github.com/neuroscan/braintumor/transforms"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

const testImageSize = 32

// newModel creates a small randomly initialized model under the "model" scope of a new context.
func newModel(t *testing.T, backend backends.Backend) (*context.Context, *context.Exec) {
	t.Helper()
	ctx := context.New()
	ctx.SetParams(map[string]any{
		efficientnet.ParamWidth: 0.25,
		efficientnet.ParamDepth: 0.1,
	})
	require.NoError(t, ctx.SetRNGStateFromSeed(1))
	exec := context.MustNewExec(backend, ctx.In("model"), func(ctx *context.Context, images *Node) *Node {
		return efficientnet.Build(ctx, images, mri.NumClasses)
	})
	// Creates and initializes the variables.
	_ = exec.MustExec(tensors.FromShape(shapes.Make(dtypes.Float32, 1, 3, testImageSize, testImageSize)))
	return ctx, exec
}

// save writes the model variables of ctx to a checkpoint in a temporary directory.
func save(t *testing.T, ctx *context.Context, header checkpoint.Header) string {
	t.Helper()
	header.InputShape = [3]int{3, testImageSize, testImageSize}
	path := filepath.Join(t.TempDir(), "models", "brain_tumor_classifier.pth")
	ckpt, err := checkpoint.FromContext(ctx.In("model"), header)
	require.NoError(t, err)
	require.NoError(t, checkpoint.Save(path, ckpt))
	return path
}

// scan returns a gray image with a bright textured disk on a black background.
func scan(size int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	center := size / 2
	for y := range size {
		for x := range size {
			dx, dy := x-center, y-center
			if dx*dx+dy*dy < size*size/9 {
				img.SetGray(x, y, color.Gray{Y: uint8(80 + (3*x+5*y)%120)})
			}
		}
	}
	return img
}

func toRGB(img image.Image) *image.RGBA {
	rgb := image.NewRGBA(img.Bounds())
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
			rgb.Set(x, y, img.At(x, y))
		}
	}
	return rgb
}

func TestRoundTrip(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, exec := newModel(t, backend)
	img := scan(40)
	transform := transforms.DefaultEval()
	transform.Size = testImageSize
	want := tensors.MustCopyFlatData[float32](exec.MustExec(transform.ApplyToTensor(img, nil))[0])

	path := save(t, ctx, checkpoint.Header{})
	imgPath := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, imaging.Save(img, imgPath))

	c, err := New(backend, path)
	require.NoError(t, err)
	got, err := c.PredictFile(imgPath)
	require.NoError(t, err)
	require.Len(t, got.Logits, mri.NumClasses)
	assert.InDeltaSlice(t, want, got.Logits, 1e-4)

	var sum float32
	for ii, p := range got.Probabilities {
		sum += p
		assert.LessOrEqual(t, p, got.Probabilities[got.ClassIndex], "class %d", ii)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.Equal(t, mri.ClassNames[got.ClassIndex], got.ClassName)
	assert.InDelta(t, 100*float64(got.Probabilities[got.ClassIndex]), got.Confidence, 1e-6)

	// Grayscale and its RGB conversion give the same prediction.
	fromRGB, err := c.Predict(toRGB(img))
	require.NoError(t, err)
	assert.Equal(t, got, fromRGB)
}

func TestClassNames(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, _ := newModel(t, backend)

	// Force class #2 by setting the biases of the logits layer.
	var found bool
	ctx.EnumerateVariables(func(v *context.Variable) {
		if strings.HasPrefix(v.Scope(), "/model/logits") && v.Name() == "biases" {
			v.MustSetValue(tensors.FromFlatDataAndDimensions([]float32{0, 0, 100, 0}, mri.NumClasses))
			found = true
		}
	})
	require.True(t, found, "logits biases not found")

	// Without class names in the checkpoint, the default names are used.
	c := must.M1(New(backend, save(t, ctx, checkpoint.Header{})))
	assert.Equal(t, mri.ClassNames, c.ClassNames())
	prediction, err := c.Predict(scan(50))
	require.NoError(t, err)
	assert.Equal(t, 2, prediction.ClassIndex)
	assert.Equal(t, "pituitary", prediction.ClassName)
	assert.Greater(t, prediction.Confidence, 99.0)

	var header checkpoint.Header
	header.SetClasses([]string{"a", "b", "c", "d"})
	c = must.M1(New(backend, save(t, ctx, header)))
	prediction, err = c.Predict(scan(50))
	require.NoError(t, err)
	assert.Equal(t, "c", prediction.ClassName)
}

func TestErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	_, err := New(backend, filepath.Join(t.TempDir(), "missing.pth"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, checkpoint.ErrNotFound))

	ctx, _ := newModel(t, backend)
	c := must.M1(New(backend, save(t, ctx, checkpoint.Header{})))

	base := t.TempDir()
	_, err = c.PredictFile(filepath.Join(base, "dataset", "scan.png"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImageNotFound))
	assert.Contains(t, err.Error(), filepath.Join(base, "Dataset", "scan.png"))

	// The "Dataset" fallback is found.
	require.NoError(t, os.MkdirAll(filepath.Join(base, "Dataset"), 0o755))
	require.NoError(t, imaging.Save(scan(40), filepath.Join(base, "Dataset", "scan.png")))
	_, err = c.PredictFile(filepath.Join(base, "dataset", "scan.png"))
	require.NoError(t, err)

	_, err = c.WithImageResolver(mri.NoFallback).PredictFile(filepath.Join(base, "dataset", "scan.png"))
	assert.True(t, errors.Is(err, ErrImageNotFound))
}
