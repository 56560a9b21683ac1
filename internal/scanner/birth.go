// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package scanner

import (
	"syscall"
	"time"
)

// birthTime reports a file's creation/birth time when the platform's
// stat structure exposes one. Linux's syscall.Stat_t carries no birth
// time field (statx(2) would, but that's a separate syscall this
// walker does not issue per directory entry for cost reasons), so this
// always reports not-ok there; effective age then falls back to mtime.
func birthTime(st *syscall.Stat_t) (time.Time, bool) {
	return time.Time{}, false
}
