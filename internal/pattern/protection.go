// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"os"
	"path/filepath"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// MarkerFileName is the marker placed in a directory to protect it and
// its transitive descendants.
const MarkerFileName = ".sbh-protect"

// ProtectionRegistry evaluates both marker-file-based and
// config-glob-based protection.
type ProtectionRegistry struct {
	globs []string
	// statFunc is overridable for testing; production uses os.Lstat so
	// marker detection never follows a symlinked ancestor.
	statFunc func(string) (os.FileInfo, error)
}

// NewProtectionRegistry creates a registry over the configured
// protected-path globs.
func NewProtectionRegistry(globs []string) *ProtectionRegistry {
	return &ProtectionRegistry{globs: globs, statFunc: os.Lstat}
}

// IsProtected reports whether path is protected, either because a
// .sbh-protect marker exists on any ancestor directory or because the
// path itself matches a configured glob.
func (r *ProtectionRegistry) IsProtected(path string) (bool, v1.ProtectionMark) {
	for _, g := range r.globs {
		if ok, _ := filepath.Match(g, path); ok {
			return true, v1.ProtectionMark{Path: path, Reason: "matched protected glob " + g}
		}
	}

	dir := path
	for {
		marker := filepath.Join(dir, MarkerFileName)
		if _, err := r.statFunc(marker); err == nil {
			return true, v1.ProtectionMark{Path: dir, Reason: "protected ancestor"}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return false, v1.ProtectionMark{}
}
