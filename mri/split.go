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
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Split holds the disjoint train and validation partitions of the indexed samples.
type Split struct {
	Train, Validation []Sample
}

// StratifiedSplit partitions samples into train and validation, keeping the proportion of each class.
//
// For each label (in label order) the samples of that label are shuffled with a random source
// seeded with seed, and round(n*valFraction) of them go to validation. Classes with at least 2
// samples always keep at least one sample on each side. The samples preserve their relative
// input order within each partition.
//
// The result is deterministic for a fixed seed and input order.
func StratifiedSplit(samples []Sample, valFraction float64, seed int64) (Split, error) {
	if !(valFraction > 0 && valFraction < 1) {
		return Split{}, errors.Errorf("validation fraction must be in (0, 1), got %g", valFraction)
	}

	// Positions of the samples, grouped by label.
	var groups [][]int
	for pos, s := range samples {
		if s.Label < 0 {
			return Split{}, errors.Errorf("sample %q has invalid label %d", s.Path, s.Label)
		}
		for s.Label >= len(groups) {
			groups = append(groups, nil)
		}
		groups[s.Label] = append(groups[s.Label], pos)
	}

	rng := rand.New(rand.NewSource(seed))
	isValidation := make([]bool, len(samples))
	for _, group := range groups {
		n := len(group)
		if n == 0 {
			continue
		}
		numVal := int(math.Round(float64(n) * valFraction))
		if n >= 2 {
			numVal = max(1, min(numVal, n-1))
		}
		shuffled := make([]int, n)
		copy(shuffled, group)
		rng.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for _, pos := range shuffled[:numVal] {
			isValidation[pos] = true
		}
	}

	var split Split
	for pos, s := range samples {
		if isValidation[pos] {
			split.Validation = append(split.Validation, s)
		} else {
			split.Train = append(split.Train, s)
		}
	}
	klog.Infof("[INFO] Loaded %d images - %d train / %d val (stratified).",
		len(samples), len(split.Train), len(split.Validation))
	return split, nil
}
