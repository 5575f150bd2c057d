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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelForFolder(t *testing.T) {
	for folder, want := range map[string]int{
		"glioma":           0,
		"Glioma_Tumor":     0,
		"meningioma":       1,
		"meningioma_tumor": 1,
		"PITUITARY":        2,
		"pituitary_tumor":  2,
		"no_tumor":         3,
		"No Tumor":         3,
		"no-tumor":         3,
		"notumor":          3,
	} {
		label, found := LabelForFolder(folder)
		require.Truef(t, found, "folder %q", folder)
		assert.Equalf(t, want, label, "folder %q", folder)
	}
	_, found := LabelForFolder("calcification")
	assert.False(t, found)
}

func TestIndex(t *testing.T) {
	root := t.TempDir()
	buildDataset(t, root, 3, "glioma_tumor", "meningioma", "pituitary", "notumor", "calcification")
	// Files that are not images are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, TrainingSubDir, "glioma_tumor", "notes.txt"), []byte("x"), 0o644))

	samples, err := Index(root, NoFallback)
	require.NoError(t, err)
	require.Len(t, samples, 12)
	assert.Equal(t, []int{3, 3, 3, 3}, CountPerClass(samples))
	for _, s := range samples {
		assert.NotContains(t, s.Path, "calcification")
		assert.True(t, IsImageFile(s.Path))
	}

	// Lexical order: folders then files.
	assert.Equal(t, filepath.Join(root, TrainingSubDir, "glioma_tumor", "img_00.png"), samples[0].Path)
	assert.Equal(t, 0, samples[0].Label)
	assert.Equal(t, filepath.Join(root, TrainingSubDir, "pituitary", "img_02.png"), samples[len(samples)-1].Path)
	assert.Equal(t, 2, samples[len(samples)-1].Label)

	again, err := Index(root, NoFallback)
	require.NoError(t, err)
	assert.Equal(t, samples, again)
}

func TestIndexExtensions(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, TrainingSubDir, "glioma")
	for _, name := range []string{"A.JPG", "b.Jpeg", "c.PNG"} {
		writeImage(t, filepath.Join(dir, name), 8, 50)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.gif"), []byte("GIF89a"), 0o644))

	samples, err := Index(root, NoFallback)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	for ii, name := range []string{"A.JPG", "b.Jpeg", "c.PNG"} {
		assert.Equal(t, filepath.Join(dir, name), samples[ii].Path)
		assert.Equal(t, 0, samples[ii].Label)
	}
}

func TestIndexErrors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := Index(filepath.Join(t.TempDir(), "nowhere"), DefaultDatasetResolver)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingDirectory))
		assert.Contains(t, err.Error(), filepath.Join("Nowhere", TrainingSubDir))
	})

	t.Run("missing Training", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "Testing", "glioma"), 0o755))
		_, err := Index(root, NoFallback)
		assert.True(t, errors.Is(err, ErrMissingDirectory))
	})

	t.Run("only unrecognized folders", func(t *testing.T) {
		root := t.TempDir()
		buildDataset(t, root, 2, "calcification", "edema")
		_, err := Index(root, NoFallback)
		assert.True(t, errors.Is(err, ErrEmptyDataset))
	})
}

func TestIndexFallback(t *testing.T) {
	base := t.TempDir()
	buildDataset(t, filepath.Join(base, "Dataset"), 1, "glioma", "no_tumor")
	lowercase := filepath.Join(base, "dataset")

	samples, err := Index(lowercase, DefaultDatasetResolver)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, filepath.Join(base, "Dataset", TrainingSubDir, "glioma", "img_00.png"), samples[0].Path)

	_, err = Index(lowercase, NoFallback)
	assert.True(t, errors.Is(err, ErrMissingDirectory))
}

func TestPathResolver(t *testing.T) {
	existing := map[string]bool{"Dataset/Training/glioma/1.jpg": true}
	exists := func(p string) bool { return existing[p] }

	resolved, tried, err := DefaultImageResolver.Resolve("dataset/Training/glioma/1.jpg", exists)
	require.NoError(t, err)
	assert.Equal(t, "Dataset/Training/glioma/1.jpg", resolved)
	assert.Equal(t, []string{"dataset/Training/glioma/1.jpg", "Dataset/Training/glioma/1.jpg"}, tried)

	_, tried, err = DefaultImageResolver.Resolve("scans/1.jpg", exists)
	assert.True(t, errors.Is(err, ErrPathNotFound))
	assert.Equal(t, []string{"scans/1.jpg"}, tried)

	// Every occurrence is replaced, with either separator.
	assert.Equal(t, []string{"/data/dataset/x/dataset/img.jpg", "/data/Dataset/x/Dataset/img.jpg"},
		DefaultImageResolver.Candidates("/data/dataset/x/dataset/img.jpg"))
	assert.Equal(t, []string{`dataset\Training\a.jpg`, `Dataset\Training\a.jpg`},
		DefaultImageResolver.Candidates(`dataset\Training\a.jpg`))

	assert.Equal(t, filepath.Join("data", "Dataset"), CapitalizeBase(filepath.Join("data", "dataset")))
	assert.Equal(t, "", CapitalizeBase("Dataset"))
	assert.Equal(t, []string{"x/dataset"}, NoFallback.Candidates("x/dataset"))
}
