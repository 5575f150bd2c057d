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
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/neuroscan/braintumor/mri"
	"github.com/pkg/errors"
)

const (
	// Magic identifies checkpoint files.
	Magic = "braintumor/checkpoint"

	// FormatVersion is incremented on incompatible changes of Header.
	FormatVersion = 1
)

// Header is the metadata stored at the start of a checkpoint file, before the variable values.
type Header struct {
	Magic   string
	Version int

	// RunID identifies the training run that produced the checkpoint.
	RunID string

	// CreatedAt is when the checkpoint was written.
	CreatedAt time.Time

	// ClassNames in label order. It is optional: see Classes.
	ClassNames *[]string

	// InputShape of one image: channels, height, width.
	InputShape [3]int

	// BestValAccuracy is the validation accuracy of the saved parameters.
	BestValAccuracy float64

	// EpochsTrained is the number of epochs trained when the parameters were saved.
	EpochsTrained int

	// Params are the hyperparameters of the run.
	Params []Param

	// Variables describes, in order, the tensors that follow the header in the file.
	Variables []VariableInfo
}

// Classes returns the class names of the checkpoint, or mri.ClassNames if it has none.
func (h *Header) Classes() []string {
	if h.ClassNames == nil || len(*h.ClassNames) == 0 {
		return slices.Clone(mri.ClassNames)
	}
	return slices.Clone(*h.ClassNames)
}

// SetClasses sets the class names stored in the checkpoint.
func (h *Header) SetClasses(names []string) {
	names = slices.Clone(names)
	h.ClassNames = &names
}

// VariableInfo describes one saved variable.
type VariableInfo struct {
	Scope, Name string
	DType       dtypes.DType
	Dimensions  []int
}

// Shape of the variable.
func (v VariableInfo) Shape() shapes.Shape {
	return shapes.Make(v.DType, v.Dimensions...)
}

// Param is a serialized context hyperparameter.
//
// The value is stored as JSON along with its Go type, so numbers and slices are
// converted back to their original type on load.
type Param struct {
	Scope, Key string
	ValueType  string
	JSON       string
}

// NewParam serializes a hyperparameter.
func NewParam(scope, key string, value any) (Param, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return Param{}, errors.Wrapf(err, "failed to serialize hyperparameter %q (scope %q)", key, scope)
	}
	return Param{Scope: scope, Key: key, ValueType: fmt.Sprintf("%T", value), JSON: string(encoded)}, nil
}

// Value decodes the hyperparameter value, converted to its original type where possible.
func (p Param) Value() (any, error) {
	var value any
	if err := json.Unmarshal([]byte(p.JSON), &value); err != nil {
		return nil, errors.Wrapf(err, "failed to decode hyperparameter %q (scope %q)", p.Key, p.Scope)
	}
	return convertJSONValue(value, p.ValueType), nil
}

// convertJSONValue converts the generic types produced by the JSON decoder back to valueType.
func convertJSONValue(value any, valueType string) any {
	switch v := value.(type) {
	case float64:
		// The JSON decoder returns every number as float64.
		switch valueType {
		case "int":
			return int(v)
		case "int32":
			return int32(v)
		case "int64":
			return int64(v)
		case "uint8":
			return uint8(v)
		case "float32":
			return float32(v)
		}
	case []any:
		switch valueType {
		case "[]int":
			return xslices.Map(v, func(e any) int { f, _ := e.(float64); return int(f) })
		case "[]float64":
			return xslices.Map(v, func(e any) float64 { f, _ := e.(float64); return f })
		case "[]string":
			return xslices.Map(v, func(e any) string { s, _ := e.(string); return s })
		}
	}
	return value
}
