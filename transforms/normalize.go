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
	"gonum.org/v1/gonum/stat"
)

// NormalizeNonZero normalizes each channel of channel-first values in place to zero mean and unit
// variance, with statistics computed only over the non-zero values of the channel.
//
// Zero values (the black background of the scans) stay zero. A channel with no non-zero
// values is left untouched, and a channel with constant non-zero values is only centered.
func NormalizeNonZero(values []float32, numChannels int) {
	planeSize := len(values) / numChannels
	nonZero := make([]float64, 0, planeSize)
	for ch := range numChannels {
		plane := values[ch*planeSize : (ch+1)*planeSize]
		nonZero = nonZero[:0]
		for _, v := range plane {
			if v != 0 {
				nonZero = append(nonZero, float64(v))
			}
		}
		if len(nonZero) == 0 {
			continue
		}
		mean, std := stat.PopMeanStdDev(nonZero, nil)
		if std == 0 {
			std = 1
		}
		for ii, v := range plane {
			if v != 0 {
				plane[ii] = float32((float64(v) - mean) / std)
			}
		}
	}
}
