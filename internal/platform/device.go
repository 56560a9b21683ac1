// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package platform

import "syscall"

// deviceID folds the two-word filesystem id statfs reports into a
// single uint64 the scanner can compare cheaply for the cross-device
// guard.
func deviceID(stat syscall.Statfs_t) uint64 {
	return uint64(uint32(stat.Fsid.X__val[0]))<<32 | uint64(uint32(stat.Fsid.X__val[1]))
}
