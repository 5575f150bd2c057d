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

// Package checkpoint saves and restores the parameters of the brain tumor classifier in a single file.
//
// A checkpoint file is a gzip compressed gob stream: a Header (run metadata, class names,
// hyperparameters and the list of variables), followed by the value of each variable, in order.
//
// Example:
//
//	ckpt, err := checkpoint.Load("models/brain_tumor_classifier.pth")
//	if err != nil { ... }
//	ctx := context.New()
//	ckpt.Restore(ctx) // Variables take the saved values when the model graph is built.
package checkpoint

import (
	"compress/gzip"
	"encoding/gob"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Load when the checkpoint file doesn't exist.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint holds the metadata and variable values of a saved model.
type Checkpoint struct {
	Header

	// Values of the variables, indexed by context.VariableParameterNameFromScopeAndName.
	Values map[string]*tensors.Tensor
}

// FromContext snapshots the model variables under the current scope of ctx and the hyperparameters of ctx.
// The fields of header describing the run are kept, the variables and params are filled in.
//
// Optimizer and metrics state are not included.
func FromContext(ctx *context.Context, header Header) (*Checkpoint, error) {
	ckpt := &Checkpoint{Header: header, Values: make(map[string]*tensors.Tensor)}
	ckpt.Magic = Magic
	ckpt.Version = FormatVersion
	ckpt.Params = nil
	ckpt.Variables = nil

	var err error
	ctx.EnumerateParams(func(scope, key string, value any) {
		if err != nil {
			return
		}
		var p Param
		p, err = NewParam(scope, key, value)
		ckpt.Params = append(ckpt.Params, p)
	})
	if err != nil {
		return nil, err
	}

	ctx.EnumerateVariablesInScope(func(v *context.Variable) {
		if err != nil || !IsModelVariable(v) {
			return
		}
		var value *tensors.Tensor
		value, err = v.Value()
		if err != nil {
			err = errors.WithMessagef(err, "failed to read variable %q", v.ScopeAndName())
			return
		}
		shape := value.Shape()
		ckpt.Variables = append(ckpt.Variables, VariableInfo{
			Scope: v.Scope(), Name: v.Name(), DType: shape.DType, Dimensions: slices.Clone(shape.Dimensions)})
		ckpt.Values[context.VariableParameterNameFromScopeAndName(v.Scope(), v.Name())] = value
	})
	if err != nil {
		return nil, err
	}
	if len(ckpt.Variables) == 0 {
		return nil, errors.Errorf("no model variables found under scope %q", ctx.Scope())
	}
	return ckpt, nil
}

// IsModelVariable returns false for the variables holding optimizer state, metrics and the global step.
func IsModelVariable(v *context.Variable) bool {
	if v.Name() == optimizers.GlobalStepVariableName {
		return false
	}
	for _, part := range strings.Split(v.Scope(), context.ScopeSeparator) {
		if part == metrics.Scope || part == optimizers.Scope || part == optimizers.AdamDefaultScope {
			return false
		}
	}
	return true
}

// Save writes the checkpoint to path, replacing any previous file.
//
// The file is first written to a temporary file in the same directory and then renamed,
// so a failure never leaves a partially written checkpoint in place.
func Save(path string, ckpt *Checkpoint) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %q", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary checkpoint file in %q", dir)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	zw := gzip.NewWriter(tmp)
	if err = encode(zw, ckpt); err != nil {
		return errors.WithMessagef(err, "failed to write checkpoint %q", path)
	}
	if err = zw.Close(); err != nil {
		return errors.Wrapf(err, "failed to compress checkpoint %q", path)
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync checkpoint %q", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close checkpoint %q", tmp.Name())
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to move checkpoint into %q", path)
	}
	return nil
}

func encode(w *gzip.Writer, ckpt *Checkpoint) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(&ckpt.Header); err != nil {
		return errors.Wrap(err, "header")
	}
	for _, info := range ckpt.Variables {
		name := context.VariableParameterNameFromScopeAndName(info.Scope, info.Name)
		value, found := ckpt.Values[name]
		if !found {
			return errors.Errorf("missing value for variable %q", name)
		}
		if err := value.GobSerialize(enc); err != nil {
			return errors.WithMessagef(err, "variable %q", name)
		}
	}
	return nil
}

// LoadHeader reads only the header of the checkpoint at path.
func LoadHeader(path string) (*Header, error) {
	ckpt, err := load(path, false)
	if err != nil {
		return nil, err
	}
	return &ckpt.Header, nil
}

// Load reads the checkpoint at path. It returns an error wrapping ErrNotFound if the file doesn't exist.
func Load(path string) (*Checkpoint, error) {
	return load(path, true)
}

func load(path string, withValues bool) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "no checkpoint at %q", path)
		}
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", path)
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint %q is not a valid checkpoint file", path)
	}
	defer func() { _ = zr.Close() }()

	dec := gob.NewDecoder(zr)
	ckpt := &Checkpoint{}
	if err := dec.Decode(&ckpt.Header); err != nil {
		return nil, errors.Wrapf(err, "failed to decode header of checkpoint %q", path)
	}
	if ckpt.Magic != Magic {
		return nil, errors.Errorf("%q is not a checkpoint file (magic %q)", path, ckpt.Magic)
	}
	if ckpt.Version > FormatVersion {
		return nil, errors.Errorf("checkpoint %q has format version %d, only up to %d is supported",
			path, ckpt.Version, FormatVersion)
	}
	if !withValues {
		return ckpt, nil
	}

	ckpt.Values = make(map[string]*tensors.Tensor, len(ckpt.Variables))
	for _, info := range ckpt.Variables {
		name := context.VariableParameterNameFromScopeAndName(info.Scope, info.Name)
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to decode variable %q of checkpoint %q", name, path)
		}
		if !value.Shape().Equal(info.Shape()) {
			return nil, errors.Errorf("variable %q of checkpoint %q has shape %s, header says %s",
				name, path, value.Shape(), info.Shape())
		}
		ckpt.Values[name] = value
	}
	return ckpt, nil
}

// Restore sets the hyperparameters of the checkpoint in ctx and installs a context.Loader, so the
// variables take the saved values when the model graph creates them.
//
// The values are transferred to ctx: restore a checkpoint into only one context.
func (ckpt *Checkpoint) Restore(ctx *context.Context) error {
	for _, p := range ckpt.Params {
		value, err := p.Value()
		if err != nil {
			return err
		}
		ctx.InAbsPath(p.Scope).SetParam(p.Key, value)
	}
	l := &loader{previous: ctx.Loader(), values: make(map[string]*tensors.Tensor, len(ckpt.Values))}
	for name, value := range ckpt.Values {
		l.values[name] = value
	}
	ctx.SetLoader(l)
	return nil
}

// loader implements context.Loader for the values of a checkpoint.
type loader struct {
	previous context.Loader
	values   map[string]*tensors.Tensor
}

// LoadVariable implements context.Loader. Values are consumed, ownership goes to the context.
func (l *loader) LoadVariable(ctx *context.Context, scope, name string) (value *tensors.Tensor, found bool) {
	if l.previous != nil {
		value, found = l.previous.LoadVariable(ctx, scope, name)
		if found {
			return
		}
	}
	paramName := context.VariableParameterNameFromScopeAndName(scope, name)
	value, found = l.values[paramName]
	if found {
		delete(l.values, paramName)
	}
	return
}

// DeleteVariable implements context.Loader.
func (l *loader) DeleteVariable(ctx *context.Context, scope, name string) error {
	if l.previous != nil {
		if err := l.previous.DeleteVariable(ctx, scope, name); err != nil {
			return err
		}
	}
	delete(l.values, context.VariableParameterNameFromScopeAndName(scope, name))
	return nil
}
