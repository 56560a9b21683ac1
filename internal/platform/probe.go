// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package platform provides filesystem-level disk usage probing via
// statfs, and process-level open-file-descriptor discovery.
package platform

import (
	"fmt"
	"syscall"
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// StatfsFunc is the function signature for statfs system calls.
// Exposed for testing so a fake filesystem can be substituted.
type StatfsFunc func(path string, stat *syscall.Statfs_t) error

func defaultStatfs(path string, stat *syscall.Statfs_t) error {
	return syscall.Statfs(path, stat)
}

// Probe samples MountStats for one or more watched roots.
type Probe struct {
	statfsFunc StatfsFunc
	now        func() time.Time
}

// NewProbe creates a Probe backed by the real statfs syscall.
func NewProbe() *Probe {
	return &Probe{statfsFunc: defaultStatfs, now: time.Now}
}

// NewProbeWithStatfs creates a Probe with a custom statfs function,
// for testing.
func NewProbeWithStatfs(fn StatfsFunc) *Probe {
	return &Probe{statfsFunc: fn, now: time.Now}
}

// Sample probes the filesystem at mountRoot and returns a MountStats.
func (p *Probe) Sample(mountRoot string) (v1.MountStats, error) {
	contextLogger := log.WithValues("mountRoot", mountRoot)

	var stat syscall.Statfs_t
	if err := p.statfsFunc(mountRoot, &stat); err != nil {
		return v1.MountStats{}, fmt.Errorf("statfs failed for path %s: %w", mountRoot, err)
	}

	blockSize := uint64(stat.Bsize)
	total := stat.Blocks * blockSize
	free := stat.Bfree * blockSize
	available := stat.Bavail * blockSize

	stats := v1.MountStats{
		MountRoot:      mountRoot,
		TotalBytes:     total,
		FreeBytes:      free,
		AvailableBytes: available,
		DeviceID:       deviceID(stat),
		SampleInstant:  p.now(),
	}

	contextLogger.Debug("mount sampled",
		"totalBytes", stats.TotalBytes,
		"freeBytes", stats.FreeBytes,
		"availableBytes", stats.AvailableBytes,
	)

	return stats, nil
}

// SampleAll probes every configured root. Pressure monitoring must
// cover all of them, never only the first.
func (p *Probe) SampleAll(roots []string) (map[string]v1.MountStats, error) {
	out := make(map[string]v1.MountStats, len(roots))
	var firstErr error
	for _, root := range roots {
		stats, err := p.Sample(root)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[root] = stats
	}
	return out, firstErr
}
