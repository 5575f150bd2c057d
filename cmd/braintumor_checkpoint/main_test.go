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

package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/neuroscan/braintumor/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saveCheckpoint writes a small checkpoint to a temporary directory and returns its path.
func saveCheckpoint(t *testing.T) string {
	t.Helper()
	ctx := context.New()
	ctx.SetParams(map[string]any{
		"batch_size":    16,
		"learning_rate": 1e-4,
	})
	modelCtx := ctx.In("model")
	modelCtx.In("dense").VariableWithValue("weights", [][]float32{{1, -2, 3}, {-4, 5, -6}})
	modelCtx.In("dense").VariableWithValue("biases", []float32{0.5, -0.5, 0})
	modelCtx.In("batch_normalization").VariableWithValue("avg_weight", float32(100)).SetTrainable(false)

	header := checkpoint.Header{RunID: "inspection-run", InputShape: [3]int{3, 224, 224}, BestValAccuracy: 0.875, EpochsTrained: 4}
	ckpt, err := checkpoint.FromContext(modelCtx, header)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "brain_tumor_classifier.pth")
	require.NoError(t, checkpoint.Save(path, ckpt))
	return path
}

// captureStdout returns what fn prints to the standard output.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	done := make(chan []byte)
	go func() {
		out, _ := io.ReadAll(r)
		done <- out
	}()
	defer func() { os.Stdout = stdout }()
	fn()
	require.NoError(t, w.Close())
	os.Stdout = stdout
	return string(<-done)
}

func TestSummaryAndParams(t *testing.T) {
	path := saveCheckpoint(t)
	header, err := checkpoint.LoadHeader(path)
	require.NoError(t, err)

	out := captureStdout(t, func() {
		Summary(path, header)
		ListParams(header)
	})
	assert.Contains(t, out, "inspection-run")
	assert.Contains(t, out, "0.8750")
	assert.Contains(t, out, "glioma, meningioma, pituitary, no_tumor (default)")
	assert.Contains(t, out, "learning_rate")
	assert.Contains(t, out, "batch_size")
}

func TestListVariables(t *testing.T) {
	path := saveCheckpoint(t)
	ckpt, err := checkpoint.Load(path)
	require.NoError(t, err)

	var listErr error
	out := captureStdout(t, func() { listErr = ListVariables(ckpt) })
	require.NoError(t, listErr)
	assert.Contains(t, out, "/model/dense")
	assert.Contains(t, out, "weights")
	assert.Contains(t, out, "biases")
	assert.Contains(t, out, "avg_weight")
	// Mean absolute value and max absolute value of the dense weights.
	assert.Contains(t, out, "3.5")
	assert.Contains(t, out, "6")
}

func TestReport(t *testing.T) {
	path := saveCheckpoint(t)
	*flagSummary, *flagParams, *flagVars = true, true, true
	defer func() { *flagSummary, *flagParams, *flagVars = false, false, false }()

	var reportErr error
	out := captureStdout(t, func() { reportErr = report(path) })
	require.NoError(t, reportErr)
	for _, title := range []string{"Summary", "Hyperparameters", "Variables"} {
		assert.Contains(t, out, title)
	}

	assert.Error(t, report(filepath.Join(t.TempDir(), "missing.pth")))
}
