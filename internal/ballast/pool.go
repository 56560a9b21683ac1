// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package ballast

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cloudnative-pg/machinery/pkg/log"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// minFreeFraction refuses further provisioning once free space drops
// below this fraction — ballast must never worsen the condition it
// exists to defend against.
const minFreeFraction = 0.20

// Pool manages one volume's ballast directory.
type Pool struct {
	VolumeRoot    string
	dir           string
	fileCount     int
	fileSizeBytes int64

	// skipFallocate forces the randomized-chunk path. Set for
	// copy-on-write filesystems where fallocate's zero-filled extents
	// would be trivially deduplicated, defeating the point of ballast.
	skipFallocate bool

	// releasedSinceGreen counts files this pool released and has not
	// yet replenished; it bounds replenishment to never create more
	// files than were released. It is not reset when pressure returns
	// to Green.
	releasedSinceGreen int
}

// NewPool builds a pool for volumeRoot, storing ballast files under
// ballastDir (typically a directory on that same volume).
func NewPool(volumeRoot, ballastDir string, cfg v1.BallastConfig, skipFallocate bool) (*Pool, error) {
	if err := os.MkdirAll(ballastDir, 0o700); err != nil {
		return nil, fmt.Errorf("ballast: create pool dir %s: %w", ballastDir, err)
	}
	return &Pool{
		VolumeRoot:    volumeRoot,
		dir:           ballastDir,
		fileCount:     cfg.PerVolumeFileCount,
		fileSizeBytes: int64(cfg.PerVolumeFileSizeMB) * 1 << 20,
		skipFallocate: skipFallocate,
	}, nil
}

func (p *Pool) filePath(index int) string {
	return filepath.Join(p.dir, fmt.Sprintf("%s_%05d.dat", FilePrefix, index))
}

// Inventory lists every ballast file index currently present on disk,
// ascending.
func (p *Pool) Inventory() []int {
	var indices []int
	for i := 1; i <= p.fileCount; i++ {
		if _, err := os.Stat(p.filePath(i)); err == nil {
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)
	return indices
}

// ReleasableBytes sums the size of every file currently in inventory.
func (p *Pool) ReleasableBytes() int64 {
	var total int64
	for _, i := range p.Inventory() {
		if info, err := os.Stat(p.filePath(i)); err == nil {
			total += info.Size()
		}
	}
	return total
}

func logPool(msg string, p *Pool, kv ...any) {
	args := append([]any{"volumeRoot", p.VolumeRoot}, kv...)
	log.Debug(msg, args...)
}
