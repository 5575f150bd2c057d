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

package transforms

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/disintegration/imaging"
)

var black = color.NRGBA{A: 255}

// Augment applies the random rotation, flip and zoom of the configuration to a Size×Size image.
// Each augmentation is sampled independently from rng. The output keeps the input size.
func (c *Config) Augment(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
	if c.RotateProb > 0 && rng.Float64() < c.RotateProb {
		angle := (2*rng.Float64() - 1) * c.MaxRotateDegrees
		img = Rotate(img, angle)
	}
	if c.FlipProb > 0 && rng.Float64() < c.FlipProb {
		img = imaging.FlipH(img)
	}
	if c.ZoomProb > 0 && rng.Float64() < c.ZoomProb {
		factor := c.MinZoom + rng.Float64()*(c.MaxZoom-c.MinZoom)
		img = Zoom(img, factor)
	}
	return img
}

// Rotate rotates the image counter-clockwise by angle degrees around its center, keeping its size.
// Corners uncovered by the rotation are black.
func Rotate(img *image.NRGBA, angle float64) *image.NRGBA {
	size := img.Bounds().Size()
	rotated := imaging.Rotate(img, angle, black)
	return imaging.CropCenter(rotated, size.X, size.Y)
}

// Zoom scales the image content by factor around its center, keeping its size:
// factor > 1 crops the enlarged center, factor < 1 pastes the reduced image centered on black.
func Zoom(img *image.NRGBA, factor float64) *image.NRGBA {
	size := img.Bounds().Size()
	width := max(1, int(float64(size.X)*factor+0.5))
	height := max(1, int(float64(size.Y)*factor+0.5))
	if width == size.X && height == size.Y {
		return img
	}
	scaled := imaging.Resize(img, width, height, imaging.Linear)
	if factor > 1 {
		return imaging.CropCenter(scaled, size.X, size.Y)
	}
	return imaging.PasteCenter(imaging.New(size.X, size.Y, black), scaled)
}

// AddGaussianNoise adds noise with mean 0 and the given standard deviation to every value.
func AddGaussianNoise(values []float32, stdDev float64, rng *rand.Rand) {
	for ii := range values {
		values[ii] += float32(rng.NormFloat64() * stdDev)
	}
}
