// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package safety implements the veto layers that stand between a
// scored candidate and an actual unlink: protection-registry checks,
// per-deletion preflight, the circuit breaker, and repeat-deletion
// dampening. Any layer may veto; vetoes are always logged by the
// caller, never swallowed here.
package safety

import (
	"os"
	"path/filepath"

	"github.com/cloudnative-pg/machinery/pkg/log"

	"github.com/sbh-io/sbh/internal/platform"
)

// maxOpenFDDescendants bounds the DFS over a candidate subtree when
// checking the open-fd set, so a pathological directory tree cannot
// turn a single preflight check into an unbounded walk.
const maxOpenFDDescendants = 20000

// VetoReason names why a preflight check rejected a candidate.
type VetoReason string

const (
	VetoGone         VetoReason = "target_gone"
	VetoSymlink      VetoReason = "is_symlink"
	VetoParentRO     VetoReason = "parent_not_writable"
	VetoGitChild     VetoReason = "git_descendant"
	VetoOpenFD       VetoReason = "open_fd_descendant"
	VetoBoundReached VetoReason = "descendant_scan_bound_reached"
)

// PreflightResult is the outcome of Preflight for one candidate.
type PreflightResult struct {
	OK     bool
	Reason VetoReason
}

func ok() PreflightResult { return PreflightResult{OK: true} }

func veto(r VetoReason) PreflightResult { return PreflightResult{OK: false, Reason: r} }

// Preflight re-validates a candidate immediately before deletion. It
// must run at deletion time, not at scoring time, because the
// filesystem may have changed underneath a stale scan.
func Preflight(path string, openFDs platform.OpenFDSet) PreflightResult {
	info, err := os.Lstat(path)
	if err != nil {
		return veto(VetoGone)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return veto(VetoSymlink)
	}

	parent := filepath.Dir(path)
	if !isWritable(parent) {
		return veto(VetoParentRO)
	}

	if info.IsDir() {
		hasGit, boundHit, fdHit := scanSubtree(path, openFDs)
		if hasGit {
			return veto(VetoGitChild)
		}
		if fdHit {
			return veto(VetoOpenFD)
		}
		if boundHit {
			log.Warning("preflight descendant scan reached its bound without resolving",
				"path", path, "bound", maxOpenFDDescendants)
			return veto(VetoBoundReached)
		}
		return ok()
	}

	st, err := stat(path)
	if err != nil {
		return veto(VetoGone)
	}
	if openFDs.Contains(platform.InodeKey{Device: st.dev, Inode: st.ino}) {
		return veto(VetoOpenFD)
	}
	return ok()
}

// scanSubtree performs one bounded DFS that answers both the .git
// descendant check and the open-fd check in a single pass, since both
// require walking the same subtree and the bound applies to the
// combined walk, not to each check independently.
func scanSubtree(root string, openFDs platform.OpenFDSet) (hasGit, boundHit, fdHit bool) {
	visited := 0
	stack := []string{root}

	for len(stack) > 0 {
		if visited >= maxOpenFDDescendants {
			return hasGit, true, fdHit
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			visited++
			if visited >= maxOpenFDDescendants {
				return hasGit, true, fdHit
			}
			full := filepath.Join(dir, e.Name())
			if e.Name() == ".git" {
				hasGit = true
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.Mode()&os.ModeSymlink != 0 {
				continue // never follow symlinks while scanning a subtree
			}
			if st, err := stat(full); err == nil {
				if openFDs.Contains(platform.InodeKey{Device: st.dev, Inode: st.ino}) {
					fdHit = true
				}
			}
			if e.IsDir() {
				stack = append(stack, full)
			}
		}
	}
	return hasGit, false, fdHit
}

func isWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o200 != 0
}
