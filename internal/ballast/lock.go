// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package ballast

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// volumeLock is an advisory exclusive lock over one volume's ballast
// directory, so the daemon and a concurrent CLI invocation never
// provision or release against the same pool at once.
type volumeLock struct {
	file *os.File
}

func acquireVolumeLock(dir string) (*volumeLock, error) {
	lockPath := filepath.Join(dir, ".lock")
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ballast: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("ballast: flock %s: %w", lockPath, err)
	}
	return &volumeLock{file: f}, nil
}

func (l *volumeLock) release() {
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
}
