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

package mri

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/neuroscan/braintumor/transforms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallTransform(train bool) *transforms.Config {
	cfg := transforms.DefaultEval()
	if train {
		cfg = transforms.DefaultTrain()
	}
	cfg.Size = 8
	return cfg
}

// drain yields all batches of the epoch, returning the images and labels of each.
func drain(t *testing.T, ds *Dataset) (images [][]float32, labels [][]int32) {
	t.Helper()
	for {
		_, inputs, batchLabels, err := ds.Yield()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		require.Len(t, inputs, 1)
		require.Len(t, batchLabels, 1)
		images = append(images, tensors.MustCopyFlatData[float32](inputs[0]))
		labels = append(labels, tensors.MustCopyFlatData[int32](batchLabels[0]))
	}
}

func TestDatasetBatches(t *testing.T) {
	root := t.TempDir()
	buildDataset(t, root, 2, "glioma", "meningioma", "pituitary")
	samples, err := Index(root, NoFallback)
	require.NoError(t, err)
	require.Len(t, samples, 6)

	ds := NewDataset("eval", samples, smallTransform(false), 4, 3, false, 0)
	assert.Equal(t, "eval", ds.Name())
	assert.Equal(t, 2, ds.NumBatches())

	_, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	require.NoError(t, inputs[0].Shape().CheckDims(4, 3, 8, 8))
	require.NoError(t, labels[0].Shape().CheckDims(4, 1))
	assert.Equal(t, []int32{0, 0, 1, 1}, tensors.MustCopyFlatData[int32](labels[0]))

	// Final partial batch, then io.EOF.
	_, inputs, labels, err = ds.Yield()
	require.NoError(t, err)
	require.NoError(t, inputs[0].Shape().CheckDims(2, 3, 8, 8))
	assert.Equal(t, []int32{2, 2}, tensors.MustCopyFlatData[int32](labels[0]))
	_, _, _, err = ds.Yield()
	require.Equal(t, io.EOF, err)

	// Without shuffling or augmentation, a new epoch yields the same batches.
	ds.Reset()
	assert.Equal(t, 1, ds.Epoch())
	images, batchLabels := drain(t, ds)
	ds.Reset()
	imagesAgain, batchLabelsAgain := drain(t, ds)
	assert.Equal(t, batchLabels, batchLabelsAgain)
	assert.Equal(t, images, imagesAgain)
}

func TestDatasetShuffleAndAugmentation(t *testing.T) {
	root := t.TempDir()
	buildDataset(t, root, 4, "glioma", "meningioma", "pituitary", "no_tumor")
	samples, err := Index(root, NoFallback)
	require.NoError(t, err)

	epochLabels := func(ds *Dataset) (all []int32, images [][]float32) {
		batchImages, batchLabels := drain(t, ds)
		for _, l := range batchLabels {
			all = append(all, l...)
		}
		return all, batchImages
	}

	// Two datasets with the same seed yield the same content, regardless of the number of workers.
	ds1 := NewDataset("train", samples, smallTransform(true), 5, 1, true, 42)
	ds2 := NewDataset("train", samples, smallTransform(true), 5, 4, true, 42)
	labels1, images1 := epochLabels(ds1)
	labels2, images2 := epochLabels(ds2)
	assert.Equal(t, labels1, labels2)
	assert.Equal(t, images1, images2)
	assert.Len(t, labels1, 16)

	// Every sample is yielded exactly once per epoch.
	counts := make([]int, NumClasses)
	for _, l := range labels1 {
		counts[l]++
	}
	assert.Equal(t, []int{4, 4, 4, 4}, counts)

	// The next epoch is reshuffled.
	ds1.Reset()
	nextLabels, _ := epochLabels(ds1)
	assert.NotEqual(t, labels1, nextLabels)
}

func TestDatasetReadError(t *testing.T) {
	samples := []Sample{{Path: filepath.Join(t.TempDir(), "missing.png"), Label: 0}}
	ds := NewDataset("broken", samples, smallTransform(false), 2, 2, false, 0)
	_, _, _, err := ds.Yield()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.png")
}

func TestSampleSeed(t *testing.T) {
	assert.Equal(t, SampleSeed(1, 2, 3), SampleSeed(1, 2, 3))
	assert.NotEqual(t, SampleSeed(1, 2, 3), SampleSeed(1, 3, 3))
	assert.NotEqual(t, SampleSeed(1, 2, 3), SampleSeed(1, 2, 4))
	assert.NotEqual(t, SampleSeed(1, 2, 3), SampleSeed(2, 2, 3))
}
