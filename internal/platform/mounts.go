// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"bufio"
	"os"
	"strings"
)

// FSTypeOf reports the filesystem type backing path's mount, read
// from /proc/mounts. It returns "" if the mount can't be determined,
// which callers treat as "no special handling" rather than an error.
func FSTypeOf(path string) string {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return ""
	}
	defer f.Close()

	best := ""
	bestLen := -1
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		mountPoint, fsType := fields[1], fields[2]
		if !strings.HasPrefix(path, mountPoint) {
			continue
		}
		if len(mountPoint) > bestLen {
			bestLen = len(mountPoint)
			best = fsType
		}
	}
	return best
}
