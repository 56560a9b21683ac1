// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package ballast

import (
	"fmt"
	"path/filepath"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// ballastSubdir is where each volume's ballast files live, relative
// to that volume's mount root.
const ballastSubdir = ".sbh/ballast"

// cowFilesystemTypes defeat fallocate-based provisioning because
// zero-filled extents get deduplicated away, leaving no real blocks
// to release.
var cowFilesystemTypes = map[string]bool{
	"btrfs":    true,
	"zfs":      true,
	"bcachefs": true,
}

// skipFilesystemTypes are mount types where ballast would either be
// counterproductive (RAM-backed) or unreliable (network).
var skipFilesystemTypes = map[string]bool{
	"tmpfs": true, "ramfs": true, "devtmpfs": true,
	"nfs": true, "nfs4": true, "cifs": true, "smbfs": true,
}

// Coordinator owns one Pool per monitored volume.
type Coordinator struct {
	pools map[string]*Pool
	cfg   v1.BallastConfig
}

// NewCoordinator builds pools for every root in roots, skipping any
// whose filesystem type is in skipFilesystemTypes. fsTypeOf is
// injectable so tests don't depend on real mount detection.
func NewCoordinator(roots []string, cfg v1.BallastConfig, fsTypeOf func(string) string) (*Coordinator, []string, error) {
	c := &Coordinator{pools: make(map[string]*Pool), cfg: cfg}
	var skipped []string

	for _, root := range roots {
		fsType := ""
		if fsTypeOf != nil {
			fsType = fsTypeOf(root)
		}
		if skipFilesystemTypes[fsType] {
			skipped = append(skipped, root)
			continue
		}

		resolved := resolveOverride(cfg, root)
		dir := filepath.Join(root, ballastSubdir)
		pool, err := NewPool(root, dir, resolved, cowFilesystemTypes[fsType])
		if err != nil {
			return nil, nil, fmt.Errorf("ballast: pool for %s: %w", root, err)
		}
		c.pools[root] = pool
	}
	return c, skipped, nil
}

func resolveOverride(cfg v1.BallastConfig, root string) v1.BallastConfig {
	if override, ok := cfg.PerMountOverrides[root]; ok {
		merged := cfg
		if override.PerVolumeFileCount > 0 {
			merged.PerVolumeFileCount = override.PerVolumeFileCount
		}
		if override.PerVolumeFileSizeMB > 0 {
			merged.PerVolumeFileSizeMB = override.PerVolumeFileSizeMB
		}
		return merged
	}
	return cfg
}

// Pool returns the pool for a given volume root, or nil if that root
// has no pool (e.g. it was skipped as a RAM/network filesystem).
func (c *Coordinator) Pool(root string) *Pool {
	return c.pools[root]
}

// Roots lists every volume root this coordinator manages a pool for.
func (c *Coordinator) Roots() []string {
	roots := make([]string, 0, len(c.pools))
	for r := range c.pools {
		roots = append(roots, r)
	}
	return roots
}

// ReleaseForUrgency releases the urgency-tiered file count from the
// pool at root, a no-op if root has no pool.
func (c *Coordinator) ReleaseForUrgency(root string, urgency float64) (ReleaseReport, error) {
	pool := c.pools[root]
	if pool == nil {
		return ReleaseReport{}, nil
	}
	count := TierCount(urgency, len(pool.Inventory()))
	if count == 0 {
		return ReleaseReport{}, nil
	}
	return pool.Release(count)
}
