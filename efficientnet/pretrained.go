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

package efficientnet

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/neuroscan/braintumor/efficientnet/hdf5"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ParamPretrainedWeights selects the ImageNet weights used to initialize the backbone (string).
	// It can be:
	//
	//   - "": no pretrained weights, the model is randomly initialized (default).
	//   - "keras": the Keras "efficientnetb0_notop.h5" weights, downloaded to DefaultWeightsDir if missing.
	//   - the path to an ".h5" file with Keras EfficientNet-B0 weights, unpacked next to it.
	//   - the path to a directory with the unpacked weights.
	//
	// The logits layer is always freshly initialized.
	ParamPretrainedWeights = "efficientnet_pretrained_weights"

	// WeightsURL of the Keras EfficientNet-B0 weights without the top layer.
	WeightsURL = "https://storage.googleapis.com/keras-applications/efficientnetb0_notop.h5"

	// WeightsH5Name is the name of the downloaded weights file.
	WeightsH5Name = "efficientnetb0_notop.h5"

	// UnpackedWeightsSuffix is appended to the ".h5" file name to name the directory with its unpacked tensors.
	UnpackedWeightsSuffix = ".gomlx"

	// DefaultWeightsDir is where "keras" weights are downloaded to.
	DefaultWeightsDir = "~/.cache/braintumor"

	// pretrainedAverageWeight is the initial weight of the pretrained moving averages of the batch
	// normalizations, so the first batches don't replace them.
	pretrainedAverageWeight = 100
)

// PrepareWeights returns the directory with the unpacked pretrained weights for source, downloading
// and unpacking them as needed. See ParamPretrainedWeights for the accepted values of source.
func PrepareWeights(source string) (string, error) {
	var h5Path string
	if source == "keras" {
		h5Path = filepath.Join(fsutil.MustReplaceTildeInDir(DefaultWeightsDir), WeightsH5Name)
		if err := DownloadIfMissing(WeightsURL, h5Path); err != nil {
			return "", err
		}
	} else {
		h5Path = fsutil.MustReplaceTildeInDir(source)
		info, err := os.Stat(h5Path)
		if err != nil {
			return "", errors.Wrapf(err, "pretrained weights %q not found", source)
		}
		if info.IsDir() {
			return h5Path, nil
		}
	}

	unpackedDir := h5Path + UnpackedWeightsSuffix
	if fsutil.MustFileExists(unpackedDir) {
		return unpackedDir, nil
	}
	fmt.Printf("[INFO] Unpacking pretrained weights to %s\n", unpackedDir)
	if err := hdf5.Unpack(h5Path, unpackedDir, true); err != nil {
		return "", errors.WithMessagef(err, "failed to unpack pretrained weights %q", h5Path)
	}
	return unpackedDir, nil
}

// LoadPretrained attaches to ctx a context.Loader that initializes the variables of the model
// built under ctx's current scope from the unpacked Keras weights in weightsDir. Variables without
// a pretrained counterpart (the logits) are initialized as usual.
//
// It returns the context to build the model with: since some variables are loaded and others
// created, it has the reuse checks disabled.
//
// It must be called before the model graph is built. The depth multiplier is read from ctx
// (ParamDepth), and the width multiplier must match the weights, otherwise building the model fails
// with a shape mismatch.
func LoadPretrained(ctx *context.Context, weightsDir string) (*context.Context, error) {
	stemKernel := filepath.Join(weightsDir, filepath.FromSlash(kerasStemKernel))
	if !fsutil.MustFileExists(stemKernel) {
		return nil, errors.Errorf("%q doesn't look like unpacked EfficientNet-B0 weights: %q is missing", weightsDir, stemKernel)
	}
	ctx.SetLoader(&pretrainedLoader{
		previous:   ctx.Loader(),
		dir:        weightsDir,
		modelScope: ctx.Scope(),
		blockNames: KerasBlockNames(context.GetParamOr(ctx, ParamDepth, 1.0)),
	})
	klog.V(1).Infof("Model %q initialized from pretrained weights in %q", ctx.Scope(), weightsDir)
	return ctx.Checked(false), nil
}

const kerasStemKernel = "stem_conv/stem_conv/kernel:0"

// KerasBlockNames returns the Keras layer prefix ("block1a", "block2a", "block2b", ...) of each MBConv
// block for the given depth multiplier, in the order they are built.
func KerasBlockNames(depth float64) []string {
	var names []string
	for stageIdx, stage := range B0Stages {
		for repeat := range RoundRepeats(stage.Repeats, depth) {
			names = append(names, fmt.Sprintf("block%d%c", stageIdx+1, 'a'+repeat))
		}
	}
	return names
}

// KerasWeight locates the pretrained value of a variable in the unpacked Keras weights.
type KerasWeight struct {
	// Path of the tensor relative to the weights directory, e.g. "stem_conv/stem_conv/kernel:0".
	Path string

	// Rank of the variable: Keras 1x1 dense kernels and depthwise kernels have extra axes of dimension 1.
	Rank int
}

var kerasBatchNormNames = map[string]string{
	"scale":    "gamma",
	"offset":   "beta",
	"mean":     "moving_mean",
	"variance": "moving_variance",
}

// KerasWeightFor maps the variable name in scope (relative to the model scope, e.g. "/block_03/se/reduce/dense")
// to its Keras weight. blockNames are given by KerasBlockNames. It returns false for variables without a
// pretrained value.
func KerasWeightFor(scope, name string, blockNames []string) (KerasWeight, bool) {
	parts := strings.Split(strings.Trim(scope, context.ScopeSeparator), context.ScopeSeparator)
	if len(parts) < 2 {
		return KerasWeight{}, false
	}

	var layer string
	switch {
	case parts[0] == "stem" || parts[0] == "head":
		layer = map[string]string{"stem": "stem", "head": "top"}[parts[0]]
		parts = parts[1:]
	case strings.HasPrefix(parts[0], "block_"):
		blockIdx, err := strconv.Atoi(strings.TrimPrefix(parts[0], "block_"))
		if err != nil || blockIdx >= len(blockNames) {
			return KerasWeight{}, false
		}
		block := blockNames[blockIdx]
		switch parts[1] {
		case "expand", "project":
			layer = block + "_" + parts[1]
			parts = parts[2:]
		case "depthwise":
			if len(parts) == 2 && name == "depthwise_weights" {
				return kerasWeight(block+"_dwconv", "depthwise_kernel", 3), true
			}
			if len(parts) == 3 && parts[2] == "batch_normalization" {
				return kerasBatchNorm(block+"_bn", name)
			}
			return KerasWeight{}, false
		case "se":
			if len(parts) != 4 || parts[3] != "dense" || (parts[2] != "reduce" && parts[2] != "expand") {
				return KerasWeight{}, false
			}
			layer = block + "_se_" + parts[2]
			switch name {
			case "weights":
				return kerasWeight(layer, "kernel", 2), true
			case "biases":
				return kerasWeight(layer, "bias", 1), true
			}
			return KerasWeight{}, false
		default:
			return KerasWeight{}, false
		}
	default:
		return KerasWeight{}, false
	}

	// Convolution followed by batch normalization.
	if len(parts) != 1 {
		return KerasWeight{}, false
	}
	switch {
	case parts[0] == "conv" && name == "weights":
		return kerasWeight(layer+"_conv", "kernel", 4), true
	case parts[0] == "batch_normalization":
		return kerasBatchNorm(layer+"_bn", name)
	}
	return KerasWeight{}, false
}

func kerasWeight(layer, weight string, rank int) KerasWeight {
	return KerasWeight{Path: fmt.Sprintf("%s/%s/%s:0", layer, layer, weight), Rank: rank}
}

func kerasBatchNorm(layer, name string) (KerasWeight, bool) {
	if name == "avg_weight" {
		// Not stored by Keras, but it has the shape of the mean.
		return kerasWeight(layer, "moving_mean", 1), true
	}
	weight, found := kerasBatchNormNames[name]
	if !found {
		return KerasWeight{}, false
	}
	return kerasWeight(layer, weight, 1), true
}

// pretrainedLoader implements context.Loader for the variables under modelScope.
type pretrainedLoader struct {
	previous   context.Loader
	dir        string
	modelScope string
	blockNames []string
}

// LoadVariable implements context.Loader.
func (l *pretrainedLoader) LoadVariable(ctx *context.Context, scope, name string) (*tensors.Tensor, bool) {
	if relScope, ok := l.relativeScope(scope); ok {
		if weight, found := KerasWeightFor(relScope, name, l.blockNames); found {
			return l.load(scope, name, weight), true
		}
	}
	if l.previous != nil {
		return l.previous.LoadVariable(ctx, scope, name)
	}
	return nil, false
}

// DeleteVariable implements context.Loader.
func (l *pretrainedLoader) DeleteVariable(ctx *context.Context, scope, name string) error {
	if l.previous != nil {
		return l.previous.DeleteVariable(ctx, scope, name)
	}
	return nil
}

func (l *pretrainedLoader) relativeScope(scope string) (string, bool) {
	if l.modelScope == context.RootScope {
		return scope, true
	}
	prefix := l.modelScope + context.ScopeSeparator
	if !strings.HasPrefix(scope, prefix) {
		return "", false
	}
	return context.ScopeSeparator + strings.TrimPrefix(scope, prefix), true
}

func (l *pretrainedLoader) load(scope, name string, weight KerasWeight) *tensors.Tensor {
	path := filepath.Join(l.dir, filepath.FromSlash(weight.Path))
	value, err := tensors.Load(path)
	if err != nil {
		exceptions.Panicf("failed to load pretrained value of variable %q in scope %q: %+v", name, scope, err)
	}
	value, err = SqueezeToRank(value, weight.Rank)
	if err != nil {
		exceptions.Panicf("pretrained value of variable %q in scope %q from %q: %+v", name, scope, path, err)
	}
	if name == "avg_weight" {
		value = fill(value.Shape(), pretrainedAverageWeight)
	}
	return value
}

// SqueezeToRank removes axes of dimension 1 from t until it has the given rank: first the leading
// ones (1x1 kernels used as dense weights are [1, 1, in, out]), then the trailing ones (depthwise
// kernels are [k, k, channels, 1]).
func SqueezeToRank(t *tensors.Tensor, rank int) (*tensors.Tensor, error) {
	dims := t.Shape().Dimensions
	if len(dims) == rank {
		return t, nil
	}
	newDims := dims
	for len(newDims) > rank && newDims[0] == 1 {
		newDims = newDims[1:]
	}
	for len(newDims) > rank && newDims[len(newDims)-1] == 1 {
		newDims = newDims[:len(newDims)-1]
	}
	if len(newDims) != rank {
		return nil, errors.Errorf("can't squeeze shape %s to rank %d", t.Shape(), rank)
	}
	squeezed := tensors.FromShape(shapes.Make(t.DType(), newDims...))
	var copyErr error
	err := t.ConstBytes(func(src []byte) {
		copyErr = squeezed.MutableBytes(func(dst []byte) { copy(dst, src) })
	})
	if err == nil {
		err = copyErr
	}
	if err != nil {
		return nil, err
	}
	return squeezed, nil
}

// fill returns a float tensor of the given shape with all values set to value.
func fill(shape shapes.Shape, value float64) *tensors.Tensor {
	t := tensors.FromShape(shape)
	t.MustMutableFlatData(func(flat any) {
		switch values := flat.(type) {
		case []float32:
			for ii := range values {
				values[ii] = float32(value)
			}
		case []float64:
			for ii := range values {
				values[ii] = value
			}
		default:
			exceptions.Panicf("pretrained batch normalization of dtype %s not supported", shape.DType)
		}
	})
	return t
}
