// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"fmt"
	"os"
	"syscall"
)

type inodeStat struct {
	dev uint64
	ino uint64
}

func stat(path string) (inodeStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return inodeStat{}, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return inodeStat{}, fmt.Errorf("safety: no syscall stat_t for %s", path)
	}
	return inodeStat{dev: uint64(st.Dev), ino: st.Ino}, nil
}
