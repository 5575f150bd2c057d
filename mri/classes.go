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

// Package mri indexes, splits and batches the brain MRI dataset.
//
// The dataset is a directory tree with a "Training" subdirectory holding one folder per class:
//
//	<root>/Training/glioma/*.jpg
//	<root>/Training/meningioma/*.jpg
//	<root>/Training/pituitary/*.jpg
//	<root>/Training/notumor/*.jpg
//
// Folder names are normalized through an alias table (see ClassAliases), since the public
// versions of this dataset spell them differently.
package mri

import (
	"maps"
	"slices"
	"strings"
)

// ClassNames is the ordered list of categories. The position of a name is its label.
var ClassNames = []string{"glioma", "meningioma", "pituitary", "no_tumor"}

// NumClasses is the number of categories in ClassNames.
const NumClasses = 4

// ClassAliases maps the lowercase spelling of a class folder to its canonical name in ClassNames.
var ClassAliases = map[string]string{
	"glioma":           "glioma",
	"glioma_tumor":     "glioma",
	"meningioma":       "meningioma",
	"meningioma_tumor": "meningioma",
	"pituitary":        "pituitary",
	"pituitary_tumor":  "pituitary",
	"no_tumor":         "no_tumor",
	"no-tumor":         "no_tumor",
	"no tumor":         "no_tumor",
	"notumor":          "no_tumor",
}

// ClassIndex returns the label of the canonical class name.
func ClassIndex(name string) (int, bool) {
	idx := slices.Index(ClassNames, name)
	return idx, idx >= 0
}

// LabelForFolder resolves a class folder name (any case) to its label, using ClassAliases.
func LabelForFolder(folder string) (label int, found bool) {
	canonical, found := ClassAliases[strings.ToLower(strings.TrimSpace(folder))]
	if !found {
		return -1, false
	}
	return ClassIndex(canonical)
}

// KnownFolderNames returns the sorted recognized folder spellings, used in messages.
func KnownFolderNames() []string {
	return slices.Sorted(maps.Keys(ClassAliases))
}

// Sample is one indexed image: its file path and its label, an index into ClassNames.
type Sample struct {
	Path  string
	Label int
}
