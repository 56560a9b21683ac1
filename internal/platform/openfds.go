// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	gops "github.com/mitchellh/go-ps"

	"github.com/cloudnative-pg/machinery/pkg/log"
)

// InodeKey identifies a file by the pair the kernel actually uses to
// distinguish it: device and inode, not path.
type InodeKey struct {
	Device uint64
	Inode  uint64
}

// OpenFDSet is a conservative snapshot of files that appear open by
// some process at sample time.
type OpenFDSet struct {
	keys    map[InodeKey]struct{}
	Partial bool
}

// Contains reports whether key was found open. It is plain set
// membership: a partial set returns false for a key it did not see,
// so callers must check Partial themselves when they need to
// distinguish "not open" from "unknown."
func (s OpenFDSet) Contains(key InodeKey) bool {
	_, ok := s.keys[key]
	return ok
}

// maxOpenFDPids bounds how many processes open-fd discovery will
// inspect before giving up and returning a partial set.
const maxOpenFDPids = 50000

// openFDWallTime bounds how long open-fd discovery may run.
const openFDWallTime = 5 * time.Second

// DiscoverOpenFDs walks /proc/<pid>/fd for every running process,
// resolving each descriptor's target to a (device, inode) pair. It is
// bounded by wall time and pid count; when either bound is hit the
// returned set is marked Partial and callers must treat unknown
// inodes as possibly-open.
func DiscoverOpenFDs() OpenFDSet {
	deadline := time.Now().Add(openFDWallTime)
	set := OpenFDSet{keys: make(map[InodeKey]struct{})}

	procs, err := gops.Processes()
	if err != nil {
		log.Debug("open-fd discovery: process enumeration failed", "error", err)
		set.Partial = true
		return set
	}

	for i, proc := range procs {
		if i >= maxOpenFDPids || time.Now().After(deadline) {
			set.Partial = true
			break
		}
		scanProcFDs(proc.Pid(), &set)
	}

	return set
}

func scanProcFDs(pid int, set *OpenFDSet) {
	fdDir := filepath.Join("/proc", strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		// Process exited or is unreadable (permission denied); this is
		// expected churn, not a discovery failure worth marking partial.
		return
	}

	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, entry.Name()))
		if err != nil || !strings.HasPrefix(target, "/") {
			continue
		}
		var st syscall.Stat_t
		if err := syscall.Stat(target, &st); err != nil {
			continue
		}
		set.keys[InodeKey{Device: uint64(st.Dev), Inode: st.Ino}] = struct{}{}
	}
}
