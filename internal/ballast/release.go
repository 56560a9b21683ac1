// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package ballast

import (
	"fmt"
	"os"
	"sort"
)

// ReleaseReport summarizes one Release call.
type ReleaseReport struct {
	FilesReleased int
	BytesFreed    int64
	Errors        []error
}

// TierCount maps an urgency in [0,1] to how many ballast files to
// release this cycle: <0.3 -> 0, <0.6 -> 1, <0.9 -> 3, else all.
func TierCount(urgency float64, available int) int {
	switch {
	case urgency < 0.3:
		return 0
	case urgency < 0.6:
		return min(1, available)
	case urgency < 0.9:
		return min(3, available)
	default:
		return available
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Release unlinks the highest-index count files, updating inventory
// atomically from the caller's perspective (the lock is held for the
// whole operation).
func (p *Pool) Release(count int) (ReleaseReport, error) {
	lock, err := acquireVolumeLock(p.dir)
	if err != nil {
		return ReleaseReport{}, err
	}
	defer lock.release()

	available := p.Inventory()
	sort.Sort(sort.Reverse(sort.IntSlice(available)))

	var report ReleaseReport
	for i, index := range available {
		if i >= count {
			break
		}
		path := p.filePath(index)
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("release file %d: %w", index, err))
			continue
		}
		report.FilesReleased++
		report.BytesFreed += size
	}

	p.releasedSinceGreen += report.FilesReleased
	return report, nil
}

// SetFileCount updates the pool's configured file count (e.g. on a
// config reload) and unlinks any on-disk file whose index now exceeds
// it, since a shrunk pool should not keep orphaned files around.
func (p *Pool) SetFileCount(newCount int) ReleaseReport {
	oldCount := p.fileCount
	p.fileCount = newCount

	var report ReleaseReport
	for index := newCount + 1; index <= oldCount; index++ {
		path := p.filePath(index)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("prune orphan file %d: %w", index, err))
			continue
		}
		report.FilesReleased++
		report.BytesFreed += info.Size()
	}
	return report
}

// ReplenishOne recreates at most one missing ballast file. Callers
// must only invoke this while pressure is Green. It does nothing
// unless the pool's own releasedSinceGreen counter is positive, so
// replenishment never creates more files than this pool released.
func (p *Pool) ReplenishOne(freePct FreePctFunc) (ProvisionReport, error) {
	if p.releasedSinceGreen <= 0 {
		return ProvisionReport{}, nil // no churn: nothing was released to replace
	}

	lock, err := acquireVolumeLock(p.dir)
	if err != nil {
		return ProvisionReport{}, err
	}
	defer lock.release()

	var report ProvisionReport
	for i := 1; i <= p.fileCount; i++ {
		path := p.filePath(i)
		if _, err := os.Stat(path); err == nil {
			if verr := p.verifySingle(i); verr == nil {
				report.FilesSkipped++
				continue
			}
			os.Remove(path)
		}

		if freePct != nil {
			if fp := freePct(); fp < minFreeFraction*100 {
				report.Errors = append(report.Errors,
					fmt.Errorf("ballast: replenish aborted at file %d: free space %.1f%% below %.0f%%", i, fp, minFreeFraction*100))
				break
			}
		}

		if err := p.createFile(i); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("ballast: file %d: %w", i, err))
			continue
		}
		report.FilesCreated++
		report.TotalBytes += p.fileSizeBytes
		p.releasedSinceGreen--
		break // replenishment creates at most one file per call
	}
	return report, nil
}
