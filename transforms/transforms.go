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

// Package transforms converts MRI images into the normalized channel-first float32 tensors fed to the model.
//
// There are two configurations: DefaultEval, deterministic, used for validation and inference; and
// DefaultTrain, which adds random rotation, flip, zoom and Gaussian noise before the normalization.
package transforms

import (
	"image"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// NumChannels is the number of channels of the transformed images (RGB).
const NumChannels = 3

// DefaultSize is the height and width of the transformed images.
const DefaultSize = 224

// Config of the transform pipeline.
type Config struct {
	// Size is the square spatial resolution of the output.
	Size int

	// Train enables the random augmentation stage.
	Train bool

	// RotateProb is the probability of rotating the image by a uniform angle in ±MaxRotateDegrees.
	RotateProb, MaxRotateDegrees float64

	// FlipProb is the probability of a horizontal flip.
	FlipProb float64

	// ZoomProb is the probability of zooming by a uniform factor in [MinZoom, MaxZoom].
	ZoomProb, MinZoom, MaxZoom float64

	// NoiseProb is the probability of adding Gaussian noise with mean 0 and standard deviation NoiseStdDev.
	NoiseProb, NoiseStdDev float64
}

// DefaultEval returns the deterministic configuration used for validation and inference.
func DefaultEval() *Config {
	return &Config{Size: DefaultSize}
}

// DefaultTrain returns the configuration used for training, with augmentation enabled.
func DefaultTrain() *Config {
	return &Config{
		Size:             DefaultSize,
		Train:            true,
		RotateProb:       0.5,
		MaxRotateDegrees: 15,
		FlipProb:         0.5,
		ZoomProb:         0.3,
		MinZoom:          0.9,
		MaxZoom:          1.1,
		NoiseProb:        0.2,
		NoiseStdDev:      0.05,
	}
}

// Apply transforms the image and returns its channel-first values, shaped [3, Size, Size].
//
// rng is only used if the configuration has Train set, in which case it must not be nil.
func (c *Config) Apply(img image.Image, rng *rand.Rand) []float32 {
	rgb := imaging.Clone(img) // Converts any color model (including grayscale) to 8-bit RGB(A).
	rgb = imaging.Resize(rgb, c.Size, c.Size, imaging.Linear)
	if c.Train {
		rgb = c.Augment(rgb, rng)
	}
	values := ToChannelsFirst(rgb)
	if c.Train && c.NoiseProb > 0 && rng.Float64() < c.NoiseProb {
		AddGaussianNoise(values, c.NoiseStdDev, rng)
	}
	NormalizeNonZero(values, NumChannels)
	return values
}

// ToChannelsFirst returns the RGB values of img as float32 on the 0-255 scale, shaped [3, height, width].
// The alpha channel is dropped.
func ToChannelsFirst(img *image.NRGBA) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	planeSize := width * height
	values := make([]float32, NumChannels*planeSize)
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+4*width]
		for x := 0; x < width; x++ {
			pos := y*width + x
			for ch := range NumChannels {
				values[ch*planeSize+pos] = float32(row[4*x+ch])
			}
		}
	}
	return values
}

// Batch stacks channel-first images of the given size into a tensor shaped [len(images), 3, size, size].
func Batch(size int, images ...[]float32) (*tensors.Tensor, error) {
	imageLen := NumChannels * size * size
	flat := make([]float32, 0, len(images)*imageLen)
	for ii, values := range images {
		if len(values) != imageLen {
			return nil, errors.Errorf("image #%d has %d values, expected %d (3x%dx%d)", ii, len(values), imageLen, size, size)
		}
		flat = append(flat, values...)
	}
	return tensors.FromFlatDataAndDimensions(flat, len(images), NumChannels, size, size), nil
}

// ApplyToTensor transforms one image and returns it as a batch of one, shaped [1, 3, Size, Size].
func (c *Config) ApplyToTensor(img image.Image, rng *rand.Rand) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(c.Apply(img, rng), 1, NumChannels, c.Size, c.Size)
}

// Open reads and decodes an image file (JPEG or PNG).
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %q", path)
	}
	return img, nil
}
