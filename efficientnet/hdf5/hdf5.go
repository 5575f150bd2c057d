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

// Package hdf5 reads the weight tensors of Keras ".h5" files and unpacks them into a directory
// with one GoMLX tensor file per HDF5 dataset.
//
// It requires the `h5dump` binary (from the `hdf5-tools` package) in the PATH.
package hdf5

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// H5DumpBinary is the program used to read HDF5 files.
const H5DumpBinary = "h5dump"

// Signature are the first bytes of every HDF5 file.
const Signature = "\x89HDF\r\n\x1a\n"

// Dataset describes one HDF5 dataset (a tensor) of a file: its path within the file ("group"
// names separated by "/") and its dtype and shape, if they could be parsed.
type Dataset struct {
	FilePath, GroupPath string
	DType               dtypes.DType
	Shape               shapes.Shape
}

// Contents maps the group path of each dataset in a file to its description.
type Contents map[string]*Dataset

var (
	reDatasets        = regexp.MustCompile(`\s+dataset\s+(/.*)\n`)
	reHeaderName      = regexp.MustCompile(`\s+"(.*?)" \{\n`)
	reHeaderDataType  = regexp.MustCompile(`\s+DATATYPE\s+(\w.*?)\n`)
	reHeaderDataSpace = regexp.MustCompile(`\s+DATASPACE\s+(\w+)(\s+\{\s+\((.*?)\).*?)?\n`)
)

// IsHDF5 returns whether the file at path starts with the HDF5 signature.
func IsHDF5(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	header := make([]byte, len(Signature))
	n, _ := f.Read(header)
	return n == len(Signature) && string(header) == Signature, nil
}

// ParseFile lists the datasets of the HDF5 file at filePath, with their dtypes and shapes.
func ParseFile(filePath string) (Contents, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, errors.Wrapf(err, "cannot access HDF5 file %q", filePath)
	}
	listing, err := h5dump("--contents", filePath)
	if err != nil {
		return nil, err
	}
	contents, err := ParseContents(filePath, string(listing))
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, len(contents)+2)
	args = append(args, "--header")
	for key := range contents {
		args = append(args, "--dataset="+key)
	}
	args = append(args, filePath)
	headers, err := h5dump(args...)
	if err != nil {
		return nil, err
	}
	if err := contents.ParseHeaders(string(headers)); err != nil {
		return nil, errors.WithMessagef(err, "HDF5 file %q", filePath)
	}
	return contents, nil
}

// ParseContents parses the output of `h5dump --contents`.
func ParseContents(filePath, listing string) (Contents, error) {
	matches := reDatasets.FindAllStringSubmatch(listing, -1)
	contents := make(Contents, len(matches))
	for _, match := range matches {
		groupPath := match[1]
		if strings.HasPrefix(groupPath, "-") {
			return nil, errors.Errorf("invalid dataset name starting with '-': %q", groupPath)
		}
		contents[groupPath] = &Dataset{FilePath: filePath, GroupPath: groupPath}
	}
	return contents, nil
}

// ParseHeaders parses the output of `h5dump --header` for the datasets in contents, filling
// their dtypes and shapes. Datasets with a type or space not representable as a tensor are
// left with an invalid shape.
func (contents Contents) ParseHeaders(headers string) error {
	parts := strings.Split(headers, "DATASET")
	if len(parts)-1 != len(contents) {
		return errors.Errorf("expected %d dataset headers, got %d", len(contents), len(parts)-1)
	}
	for _, part := range parts[1:] {
		match := reHeaderName.FindStringSubmatch(part)
		if len(match) != 2 {
			return errors.Errorf("failed to parse dataset header %q", part)
		}
		ds, found := contents[match[1]]
		if !found {
			return errors.Errorf("header for unknown dataset %q", match[1])
		}
		ds.parseHeader(part)
	}
	return nil
}

func (ds *Dataset) parseHeader(header string) {
	match := reHeaderDataType.FindStringSubmatch(header)
	if len(match) != 2 {
		return
	}
	ds.DType = DTypeForH5T(match[1])
	if ds.DType == dtypes.InvalidDType {
		return
	}
	match = reHeaderDataSpace.FindStringSubmatch(header)
	if len(match) != 4 {
		return
	}
	switch match[1] {
	case "SCALAR":
		ds.Shape = shapes.Make(ds.DType)
	case "SIMPLE":
		fields := strings.Split(match[3], ",")
		dims := make([]int, 0, len(fields))
		for _, field := range fields {
			dim, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				klog.V(1).Infof("HDF5 dataset %q: unparsable dimension %q", ds.GroupPath, field)
				return
			}
			dims = append(dims, dim)
		}
		ds.Shape = shapes.Make(ds.DType, dims...)
	}
}

// DTypeForH5T returns the DType for the HDF5 type name, or dtypes.InvalidDType if not supported.
func DTypeForH5T(h5type string) dtypes.DType {
	switch h5type {
	case "H5T_IEEE_F32LE", "H5T_IEEE_F32BE":
		return dtypes.Float32
	case "H5T_IEEE_F64LE", "H5T_IEEE_F64BE":
		return dtypes.Float64
	case "H5T_STD_I32LE", "H5T_STD_I32BE":
		return dtypes.Int32
	case "H5T_STD_I64LE", "H5T_STD_I64BE":
		return dtypes.Int64
	}
	return dtypes.InvalidDType
}

// ToTensor reads the contents of the dataset.
func (ds *Dataset) ToTensor() (*tensors.Tensor, error) {
	if !ds.Shape.Ok() {
		return nil, errors.Errorf("HDF5 dataset %q has no tensor shape", ds.GroupPath)
	}
	tmpFile, err := os.CreateTemp("", "hdf5_dataset")
	if err == nil {
		err = tmpFile.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temporary file to extract HDF5 dataset")
	}
	defer func() { _ = os.Remove(tmpFile.Name()) }()
	if _, err = h5dump("--dataset="+ds.GroupPath, "--binary=NATIVE", "--output="+tmpFile.Name(), ds.FilePath); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read extracted HDF5 dataset %q", ds.GroupPath)
	}

	tensor := tensors.FromShape(ds.Shape)
	var sizeErr error
	err = tensor.MutableBytes(func(data []byte) {
		if len(raw) != len(data) {
			sizeErr = errors.Errorf("HDF5 dataset %q shaped %s: read %d bytes, expected %d",
				ds.GroupPath, ds.Shape, len(raw), len(data))
			return
		}
		copy(data, raw)
	})
	if err == nil {
		err = sizeErr
	}
	if err != nil {
		return nil, err
	}
	return tensor, nil
}

// Unpack writes each tensor dataset of the HDF5 file at h5Path to targetDir/<group path>, saved
// with tensors.Tensor.Save. targetDir must not exist: the files are written to a temporary
// directory that is renamed to targetDir only when all of them succeed.
func Unpack(h5Path, targetDir string, showProgressBar bool) (err error) {
	if _, statErr := os.Stat(targetDir); statErr == nil {
		return errors.Errorf("target directory %q already exists", targetDir)
	}
	contents, err := ParseFile(h5Path)
	if err != nil {
		return err
	}
	baseDir := filepath.Dir(targetDir)
	if err = os.MkdirAll(baseDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %q", baseDir)
	}
	tmpDir, err := os.MkdirTemp(baseDir, filepath.Base(targetDir)+".")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary directory under %q", baseDir)
	}
	defer func() {
		if tmpDir == "" {
			return
		}
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			klog.Errorf("Failed to remove temporary directory %q: %v", tmpDir, rmErr)
		}
	}()

	var bar *progressbar.ProgressBar
	if showProgressBar {
		var total uintptr
		for _, ds := range contents {
			if ds.Shape.Ok() {
				total += ds.Shape.Memory()
			}
		}
		bar = progressbar.DefaultBytes(int64(total), "unpacking")
		defer func() { _ = bar.Finish() }()
	}

	for key, ds := range contents {
		if !ds.Shape.Ok() {
			klog.V(1).Infof("Skipping HDF5 dataset %q of %q: not a tensor", key, h5Path)
			continue
		}
		tensor, err := ds.ToTensor()
		if err != nil {
			return err
		}
		dsPath := filepath.Join(tmpDir, filepath.FromSlash(strings.TrimPrefix(key, "/")))
		if err = os.MkdirAll(filepath.Dir(dsPath), 0o755); err != nil {
			return errors.Wrapf(err, "failed to create directory for %q", dsPath)
		}
		if err = tensor.Save(dsPath); err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Add64(int64(ds.Shape.Memory()))
		}
	}
	if err = os.Rename(tmpDir, targetDir); err != nil {
		return errors.Wrapf(err, "failed to move unpacked tensors from %q to %q", tmpDir, targetDir)
	}
	tmpDir = ""
	return nil
}

func h5dump(args ...string) ([]byte, error) {
	binPath, err := exec.LookPath(H5DumpBinary)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find %q in PATH, needed to read HDF5 (\".h5\") files: "+
			"please install the hdf5-tools package", H5DumpBinary)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(binPath, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "failed executing %q, stderr:\n%s", cmd, stderr.String())
	}
	return stdout.Bytes(), nil
}

// String implements fmt.Stringer.
func (ds *Dataset) String() string {
	return fmt.Sprintf("%s: %s", ds.GroupPath, ds.Shape)
}
