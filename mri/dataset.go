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
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/neuroscan/braintumor/transforms"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Dataset implements train.Dataset over a list of samples: it reads, transforms and batches the images.
//
// Yield returns inputs with one tensor, the images shaped [batch_size, 3, size, size] (float32), and
// labels with one tensor shaped [batch_size, 1] (int32). The last batch of an epoch may be smaller.
// At the end of the epoch Yield returns io.EOF, and Reset starts a new epoch.
//
// Images of a batch are loaded and transformed concurrently by up to numWorkers goroutines, each
// one into its own slot, so batches always come out in order.
type Dataset struct {
	name       string
	samples    []Sample
	transform  *transforms.Config
	batchSize  int
	numWorkers int
	shuffle    bool
	seed       int64

	// mu protects the fields below.
	mu    sync.Mutex
	epoch int
	order []int
	next  int
}

var _ train.Dataset = (*Dataset)(nil)

// NewDataset creates a Dataset with the given samples.
//
//   - transform: applied to each image; if it has Train set, augmentations are sampled per image per epoch.
//   - batchSize: number of images yielded per Yield call.
//   - numWorkers: maximum number of images transformed concurrently. If <= 1, images are transformed serially.
//   - shuffle: if set, the order of the samples is reshuffled at every epoch.
//   - seed: seeds the shuffling and the augmentations, so an epoch is reproducible.
func NewDataset(name string, samples []Sample, transform *transforms.Config,
	batchSize, numWorkers int, shuffle bool, seed int64) *Dataset {
	ds := &Dataset{
		name:       name,
		samples:    samples,
		transform:  transform,
		batchSize:  max(batchSize, 1),
		numWorkers: max(numWorkers, 1),
		shuffle:    shuffle,
		seed:       seed,
		order:      make([]int, len(samples)),
	}
	ds.resetLocked(0)
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// NumSamples returns the number of samples yielded per epoch.
func (ds *Dataset) NumSamples() int { return len(ds.samples) }

// NumBatches returns the number of batches yielded per epoch.
func (ds *Dataset) NumBatches() int { return (len(ds.samples) + ds.batchSize - 1) / ds.batchSize }

// Epoch returns the current epoch number, starting at 0 and incremented by Reset.
func (ds *Dataset) Epoch() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.epoch
}

// Reset implements train.Dataset: it restarts the dataset for a new epoch, reshuffling if configured.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.resetLocked(ds.epoch + 1)
}

func (ds *Dataset) resetLocked(epoch int) {
	ds.epoch = epoch
	ds.next = 0
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	if ds.shuffle {
		rng := rand.New(rand.NewSource(ds.seed + int64(epoch)))
		rng.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
	}
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.next >= len(ds.order) {
		err = io.EOF
		return
	}
	end := min(ds.next+ds.batchSize, len(ds.order))
	batch := ds.order[ds.next:end]
	ds.next = end

	images, err := ds.transformBatch(batch)
	if err != nil {
		return
	}
	imagesT, err := transforms.Batch(ds.transform.Size, images...)
	if err != nil {
		return
	}
	batchLabels := make([]int32, len(batch))
	for ii, sampleIdx := range batch {
		batchLabels[ii] = int32(ds.samples[sampleIdx].Label)
	}
	inputs = []*tensors.Tensor{imagesT}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(batchLabels, len(batch), 1)}
	return
}

// transformBatch reads and transforms the samples in batch, in parallel, preserving their order.
func (ds *Dataset) transformBatch(batch []int) ([][]float32, error) {
	images := make([][]float32, len(batch))
	var g errgroup.Group
	g.SetLimit(ds.numWorkers)
	for slot, sampleIdx := range batch {
		g.Go(func() error {
			sample := ds.samples[sampleIdx]
			img, err := transforms.Open(sample.Path)
			if err != nil {
				return err
			}
			var rng *rand.Rand
			if ds.transform.Train {
				rng = rand.New(rand.NewSource(SampleSeed(ds.seed, ds.epoch, sampleIdx)))
			}
			images[slot] = ds.transform.Apply(img, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.WithMessagef(err, "dataset %q, epoch %d", ds.name, ds.epoch)
	}
	return images, nil
}

// SampleSeed derives the seed of the augmentations of one sample in one epoch.
func SampleSeed(seed int64, epoch, sampleIdx int) int64 {
	// splitmix64 finalizer over the combined values.
	x := uint64(seed) ^ (uint64(epoch) << 32) ^ uint64(sampleIdx)
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return int64(x ^ (x >> 31))
}
