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
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// writeImage writes a size×size gray image with the given intensity and a bright square in the middle.
func writeImage(t *testing.T, path string, size int, intensity uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			v := intensity
			if x > size/4 && x < 3*size/4 && y > size/4 && y < 3*size/4 {
				v = 200
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	require.NoError(t, imaging.Save(img, path))
}

// buildDataset creates <dir>/Training/<folder>/img_XX.png with perFolder images in each folder.
func buildDataset(t *testing.T, dir string, perFolder int, folders ...string) {
	t.Helper()
	for fIdx, folder := range folders {
		for ii := range perFolder {
			writeImage(t, filepath.Join(dir, TrainingSubDir, folder, fmt.Sprintf("img_%02d.png", ii)), 16, uint8(10*(fIdx+1)))
		}
	}
}

// syntheticSamples returns perClass samples of each of numClasses labels, interleaved.
func syntheticSamples(perClass ...int) []Sample {
	var samples []Sample
	for label, n := range perClass {
		for ii := range n {
			samples = append(samples, Sample{Path: fmt.Sprintf("class%d/%03d.jpg", label, ii), Label: label})
		}
	}
	return samples
}
