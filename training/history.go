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

package training

// History of the per-epoch metrics of a training run.
type History struct {
	TrainLoss, TrainAcc []float64
	ValLoss, ValAcc     []float64
}

// Append the results of one epoch.
func (h *History) Append(train, validation Result) {
	h.TrainLoss = append(h.TrainLoss, train.Loss)
	h.TrainAcc = append(h.TrainAcc, train.Accuracy)
	h.ValLoss = append(h.ValLoss, validation.Loss)
	h.ValAcc = append(h.ValAcc, validation.Accuracy)
}

// Len returns the number of epochs recorded.
func (h *History) Len() int { return len(h.TrainLoss) }
