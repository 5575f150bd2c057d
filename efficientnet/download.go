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
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/neuroscan/braintumor/efficientnet/hdf5"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// DownloadIfMissing downloads url to filePath, unless the file is already there, and checks that it is an HDF5 file.
//
// The download goes to a temporary file in the same directory, renamed to filePath when complete.
func DownloadIfMissing(url, filePath string) error {
	if !fsutil.MustFileExists(filePath) {
		fmt.Printf("Downloading %s ...\n", url)
		if err := download(url, filePath); err != nil {
			return err
		}
	}
	isHDF5, err := hdf5.IsHDF5(filePath)
	if err != nil {
		return err
	}
	if !isHDF5 {
		return errors.Errorf("%q (downloaded from %q) is not an HDF5 file, remove it and try again", filePath, url)
	}
	return nil
}

func download(url, filePath string) (err error) {
	if err = os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create the directory for %q", filePath)
	}
	resp, err := http.Get(url)
	if err != nil {
		return errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("failed downloading %q: %s", url, resp.Status)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %q", filePath)
	}
	defer func() {
		if err != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpFile.Name())
		}
	}()
	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(filePath))
	if _, err = io.Copy(io.MultiWriter(tmpFile, bar), resp.Body); err != nil {
		return errors.Wrapf(err, "downloading %q to %q", url, filePath)
	}
	_ = bar.Finish()
	if err = tmpFile.Close(); err != nil {
		return errors.Wrapf(err, "failed closing %q", tmpFile.Name())
	}
	if err = os.Rename(tmpFile.Name(), filePath); err != nil {
		return errors.Wrapf(err, "failed to move download to %q", filePath)
	}
	return nil
}
