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
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// PathCandidateFn derives an alternative location for a path that was not found.
// It returns "" if it has no alternative to offer.
type PathCandidateFn func(path string) string

// PathResolver is an ordered list of fallbacks tried when a path doesn't exist.
//
// Some copies of the dataset were distributed as "Dataset" instead of "dataset", and on
// case-sensitive filesystems that breaks the default paths. The resolver makes that
// workaround explicit and configurable: use NoFallback to disable it.
type PathResolver []PathCandidateFn

var (
	// NoFallback resolves only the path given.
	NoFallback = PathResolver{}

	// DefaultDatasetResolver retries the dataset root with its last element capitalized.
	DefaultDatasetResolver = PathResolver{CapitalizeBase}

	// DefaultImageResolver retries image paths under "Dataset" instead of "dataset", with either separator.
	DefaultImageResolver = PathResolver{ReplaceSegments("dataset/", "Dataset/", `dataset\`, `Dataset\`)}
)

// ErrPathNotFound is returned by PathResolver.Resolve when none of the candidates exist.
var ErrPathNotFound = errors.New("path not found")

// CapitalizeBase returns the path with the first letter of its last element in upper case.
func CapitalizeBase(path string) string {
	dir, base := filepath.Split(filepath.Clean(path))
	r, size := utf8.DecodeRuneInString(base)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return ""
	}
	return dir + string(unicode.ToUpper(r)) + base[size:]
}

// ReplaceSegments returns a PathCandidateFn that replaces every occurrence of each old segment by
// its new one, given as old/new pairs as in strings.NewReplacer.
func ReplaceSegments(oldNew ...string) PathCandidateFn {
	replacer := strings.NewReplacer(oldNew...)
	return func(path string) string {
		if alt := replacer.Replace(path); alt != path {
			return alt
		}
		return ""
	}
}

// Candidates returns the path followed by the distinct alternatives of each fallback, in order.
func (r PathResolver) Candidates(path string) []string {
	candidates := []string{path}
	for _, fn := range r {
		alt := fn(path)
		if alt == "" || alt == path {
			continue
		}
		candidates = append(candidates, alt)
	}
	return candidates
}

// Resolve returns the first candidate for which exists returns true.
// If exists is nil, it checks the filesystem.
//
// On failure, it returns an error wrapping ErrPathNotFound and the list of paths tried.
func (r PathResolver) Resolve(path string, exists func(string) bool) (resolved string, tried []string, err error) {
	if exists == nil {
		exists = pathExists
	}
	for _, candidate := range r.Candidates(path) {
		tried = append(tried, candidate)
		if exists(candidate) {
			return candidate, tried, nil
		}
	}
	return "", tried, errors.Wrapf(ErrPathNotFound, "tried %q", tried)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
