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

package checkpoint

import (
	"time"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Manager keeps the best model of a training run in a single checkpoint file.
//
// After each epoch, Observe is called with the validation accuracy. The file is overwritten only
// when the accuracy strictly improves on the best seen so far, which starts at 0.
type Manager struct {
	path      string
	header    Header
	best      float64
	bestEpoch int
	saved     bool
}

// NewManager creates a Manager that writes to path. The header fields describing the run
// (class names, input shape) are stored with every snapshot. A RunID is generated if not set.
func NewManager(path string, header Header) *Manager {
	if header.RunID == "" {
		header.RunID = uuid.NewString()
	}
	return &Manager{path: path, header: header, bestEpoch: -1}
}

// Path of the checkpoint file.
func (m *Manager) Path() string { return m.path }

// RunID of the training run.
func (m *Manager) RunID() string { return m.header.RunID }

// Best returns the best validation accuracy observed and the epoch it was observed in (-1 if none).
func (m *Manager) Best() (accuracy float64, epoch int) { return m.best, m.bestEpoch }

// Saved returns whether a checkpoint was written.
func (m *Manager) Saved() bool { return m.saved }

// Observe records the validation accuracy of epoch (1-based). If it is strictly greater than the best
// so far, the model variables under the current scope of ctx are written to the checkpoint file.
//
// It returns whether the checkpoint was written.
func (m *Manager) Observe(ctx *context.Context, epoch int, valAccuracy float64) (saved bool, err error) {
	if !(valAccuracy > m.best) {
		return false, nil
	}
	header := m.header
	header.BestValAccuracy = valAccuracy
	header.EpochsTrained = epoch
	header.CreatedAt = time.Now()
	ckpt, err := FromContext(ctx, header)
	if err != nil {
		return false, errors.WithMessagef(err, "failed to snapshot model at epoch %d", epoch)
	}
	if err = Save(m.path, ckpt); err != nil {
		return false, err
	}
	m.best = valAccuracy
	m.bestEpoch = epoch
	m.saved = true
	klog.Infof("[CHECKPOINT] Saved new best model -> %s", m.path)
	return true, nil
}
