// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package ballast

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/avast/retry-go/v5"
	"golang.org/x/sys/unix"

	"github.com/cloudnative-pg/machinery/pkg/log"
)

// chunkSize bounds a single random-data write, so CoW provisioning
// never holds a multi-gigabyte buffer in memory.
const chunkSize = 4 << 20

// fsyncEveryBytes bounds how much random data accumulates before an
// intermediate fsync, so a crash mid-provision loses at most one
// interval's worth of work rather than the whole file.
const fsyncEveryBytes = 64 << 20

// ProvisionReport summarizes one Provision call.
type ProvisionReport struct {
	FilesCreated int
	FilesSkipped int
	TotalBytes   int64
	Errors       []error
}

// FreePctFunc reports current free-space percentage for the pool's
// volume; Provision consults it before writing each file.
type FreePctFunc func() float64

// Provision creates every configured ballast file that is missing or
// corrupted. It is idempotent: files that already verify correctly
// are left untouched.
func (p *Pool) Provision(freePct FreePctFunc) (ProvisionReport, error) {
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
					fmt.Errorf("ballast: aborted at file %d: free space %.1f%% below %.0f%%", i, fp, minFreeFraction*100))
				break
			}
		}

		if err := p.createFile(i); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("ballast: file %d: %w", i, err))
			continue
		}
		report.FilesCreated++
		report.TotalBytes += p.fileSizeBytes
	}
	return report, nil
}

func (p *Pool) createFile(index int) error {
	if p.fileSizeBytes < HeaderSize {
		return fmt.Errorf("file_size_bytes (%d) must be >= HeaderSize (%d)", p.fileSizeBytes, HeaderSize)
	}
	path := p.filePath(index)

	err := retry.New(retry.Attempts(3)).Do(func() error {
		return p.writeFile(index, path)
	})
	if err != nil {
		os.Remove(path) // never leave a half-provisioned header on disk
	}
	return err
}

func (p *Pool) writeFile(index int, path string) error {
	header, err := newHeader(index, p.fileSizeBytes)
	if err != nil {
		return err
	}
	headerBuf, err := header.encode()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(headerBuf); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	dataSize := p.fileSizeBytes - HeaderSize

	if !p.skipFallocate && tryFallocate(f, dataSize) {
		return f.Sync()
	}

	if err := writeRandomData(f, dataSize); err != nil {
		return err
	}
	return f.Sync()
}

// tryFallocate preallocates the data region in place with
// golang.org/x/sys/unix.Fallocate, offset past the header so the
// header bytes already written are never touched. It returns false
// (falling back to the randomized-chunk path) on any error, including
// filesystems that don't support fallocate.
func tryFallocate(f *os.File, dataSize int64) bool {
	if dataSize <= 0 {
		return true
	}
	if err := unix.Fallocate(int(f.Fd()), 0, HeaderSize, dataSize); err != nil {
		log.Debug("ballast: fallocate unavailable, falling back to random-chunk provisioning", "error", err)
		return false
	}
	return true
}

// writeRandomData fills the data region with genuinely random bytes
// in bounded chunks, defeating copy-on-write filesystems that would
// otherwise deduplicate zero-filled extents and leave ballast
// releasing no real physical blocks.
func writeRandomData(f *os.File, dataSize int64) error {
	chunk := make([]byte, chunkSize)
	var written, sinceSync int64

	for written < dataSize {
		toWrite := chunkSize
		if remaining := dataSize - written; remaining < int64(chunkSize) {
			toWrite = int(remaining)
		}
		if _, err := rand.Read(chunk[:toWrite]); err != nil {
			return fmt.Errorf("generate random chunk: %w", err)
		}
		if _, err := f.Write(chunk[:toWrite]); err != nil {
			return fmt.Errorf("write data: %w", err)
		}
		written += int64(toWrite)
		sinceSync += int64(toWrite)
		if sinceSync >= fsyncEveryBytes {
			if err := f.Sync(); err != nil {
				return fmt.Errorf("intermediate sync: %w", err)
			}
			sinceSync = 0
		}
	}
	return nil
}
