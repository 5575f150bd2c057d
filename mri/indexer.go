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
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TrainingSubDir is the subdirectory of the dataset root holding the class folders.
const TrainingSubDir = "Training"

// ImageExtensions are the file extensions (lowercase) indexed as images.
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}

var (
	// ErrMissingDirectory is returned when the dataset root or its Training subdirectory doesn't exist.
	ErrMissingDirectory = errors.New("missing dataset directory")

	// ErrEmptyDataset is returned when no image was found under any recognized class folder.
	ErrEmptyDataset = errors.New("no images found in dataset")
)

// IsImageFile returns whether the file name has one of the ImageExtensions, ignoring case.
func IsImageFile(name string) bool {
	return slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(name)))
}

// ResolveRoot finds the dataset root directory, trying the fallbacks of resolver.
// It returns the resolved root, which is guaranteed to have a Training subdirectory.
func ResolveRoot(root string, resolver PathResolver) (string, error) {
	hasTraining := func(candidate string) bool {
		return isDir(candidate) && isDir(filepath.Join(candidate, TrainingSubDir))
	}
	resolved, tried, err := resolver.Resolve(root, hasTraining)
	if err != nil {
		expected := make([]string, len(tried))
		for ii, candidate := range tried {
			expected[ii] = filepath.Join(candidate, TrainingSubDir)
		}
		return "", errors.Wrapf(ErrMissingDirectory, "dataset not found, tried %q", expected)
	}
	return resolved, nil
}

// Index walks <root>/Training/<class_folder>/ and returns one Sample per image file.
//
// Class folders are resolved with LabelForFolder: unrecognized folders are skipped with a warning.
// Folders and files are visited in lexical order, so the result is deterministic.
//
// It returns an error wrapping ErrMissingDirectory if the root (after the resolver fallbacks)
// or its Training subdirectory doesn't exist, or ErrEmptyDataset if no image was found.
func Index(root string, resolver PathResolver) ([]Sample, error) {
	root, err := ResolveRoot(root, resolver)
	if err != nil {
		return nil, err
	}
	klog.Infof("[INFO] Using dataset at %s", root)

	trainingDir := filepath.Join(root, TrainingSubDir)
	entries, err := os.ReadDir(trainingDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %q", trainingDir)
	}
	var samples []Sample
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label, found := LabelForFolder(entry.Name())
		if !found {
			klog.Warningf("[WARN] Skipping unrecognized class folder %q (recognized: %q)", entry.Name(), KnownFolderNames())
			continue
		}
		classDir := filepath.Join(trainingDir, entry.Name())
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list class folder %q", classDir)
		}
		count := 0
		for _, file := range files {
			if file.IsDir() || !IsImageFile(file.Name()) {
				continue
			}
			samples = append(samples, Sample{Path: filepath.Join(classDir, file.Name()), Label: label})
			count++
		}
		klog.V(1).Infof("%s: %s images as %q", classDir, humanize.Comma(int64(count)), ClassNames[label])
	}
	if len(samples) == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "no %v files under the recognized class folders of %q",
			ImageExtensions, trainingDir)
	}
	return samples, nil
}

// CountPerClass returns the number of samples of each label.
func CountPerClass(samples []Sample) []int {
	counts := make([]int, NumClasses)
	for _, s := range samples {
		counts[s.Label]++
	}
	return counts
}
