// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package scanner implements the bounded-queue parallel directory
// walker and its incremental Merkle index.
package scanner

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"

	"github.com/sbh-io/sbh/internal/pattern"
)

// maxDirChildren caps how many entries of a single directory the
// walker will enqueue, preventing a pathological directory from
// monopolizing a worker.
const maxDirChildren = 65536

// EntryMetadata is the subset of filesystem metadata the walker and
// Merkle index need, collected without following symlinks.
type EntryMetadata struct {
	SizeBytes   int64
	Modified    time.Time
	Created     time.Time // zero if the platform does not expose birth time
	HasCreated  bool
	IsDir       bool
	Inode       uint64
	DeviceID    uint64
	IsSymlink   bool
}

// Entry is a single filesystem object discovered during a walk.
type Entry struct {
	Path     string
	Metadata EntryMetadata
	Depth    int
	Children []string // direct child basenames, for directories only
}

// Config configures one walk.
type Config struct {
	RootPaths     []string
	MaxDepth      int
	CrossDevice   bool
	Parallelism   int
	ExcludedPaths map[string]struct{}
	Protection    *pattern.ProtectionRegistry
}

type workItem struct {
	path     string
	depth    int
	rootDevice uint64
}

// Walker performs bounded-queue parallel directory walks, never
// following symlinks and never crossing devices unless CrossDevice is
// set.
type Walker struct {
	cfg Config
}

// New creates a Walker over cfg.
func New(cfg Config) *Walker {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Walker{cfg: cfg}
}

// Walk performs one full parallel walk of all root paths and returns
// every discovered entry. Skipped (protected, excluded, cross-device,
// or symlinked) entries are simply omitted.
func (w *Walker) Walk() []Entry {
	work := make(chan workItem, 1024)
	results := make(chan Entry, 1024)
	var inFlight atomic.Int64
	var wg sync.WaitGroup

	seed := func() {
		for _, root := range w.cfg.RootPaths {
			info, err := os.Lstat(root)
			if err != nil || info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
				continue
			}
			dev := deviceOf(info)
			inFlight.Add(1)
			work <- workItem{path: root, depth: 0, rootDevice: dev}
		}
	}

	done := make(chan struct{})
	go func() {
		seed()
		close(done)
	}()

	collected := make([]Entry, 0, 1024)
	var collectMu sync.Mutex
	collectDone := make(chan struct{})
	go func() {
		for e := range results {
			collectMu.Lock()
			collected = append(collected, e)
			collectMu.Unlock()
		}
		close(collectDone)
	}()

	for i := 0; i < w.cfg.Parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.workerLoop(work, results, &inFlight)
		}()
	}

	<-done
	// Poll until all in-flight work has drained, then close channels so
	// workers and the collector can exit.
	for inFlight.Load() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	close(work)
	wg.Wait()
	close(results)
	<-collectDone

	return collected
}

func (w *Walker) workerLoop(work chan workItem, results chan<- Entry, inFlight *atomic.Int64) {
	for item := range work {
		w.processDir(item, work, results, inFlight)
		inFlight.Add(-1)
	}
}

func (w *Walker) processDir(item workItem, work chan workItem, results chan<- Entry, inFlight *atomic.Int64) {
	if w.cfg.MaxDepth > 0 && item.depth > w.cfg.MaxDepth {
		return
	}
	if _, excluded := w.cfg.ExcludedPaths[item.path]; excluded {
		return
	}
	if w.cfg.Protection != nil {
		if protected, _ := w.cfg.Protection.IsProtected(item.path); protected {
			return
		}
	}

	entries, err := os.ReadDir(item.path)
	if err != nil {
		log.Debug("walker: readdir failed", "path", item.path, "error", err)
		return
	}
	if len(entries) > maxDirChildren {
		entries = entries[:maxDirChildren]
	}

	children := make([]string, 0, len(entries))
	for _, de := range entries {
		children = append(children, de.Name())
	}

	selfMeta, err := entryMetadata(item.path)
	if err == nil {
		results <- Entry{
			Path:     item.path,
			Metadata: selfMeta,
			Depth:    item.depth,
			Children: children,
		}
	}

	for _, de := range entries {
		childPath := filepath.Join(item.path, de.Name())

		info, err := os.Lstat(childPath)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			// Symlink safety: never enqueue symlink targets.
			continue
		}

		dev := deviceOf(info)
		if !w.cfg.CrossDevice && dev != item.rootDevice {
			continue
		}

		if info.IsDir() {
			inFlight.Add(1)
			select {
			case work <- workItem{path: childPath, depth: item.depth + 1, rootDevice: item.rootDevice}:
			default:
				// Work queue momentarily full; process inline rather than
				// deadlock the sender.
				w.processDir(workItem{path: childPath, depth: item.depth + 1, rootDevice: item.rootDevice}, work, results, inFlight)
				inFlight.Add(-1)
			}
			continue
		}

		meta, err := entryMetadata(childPath)
		if err != nil {
			continue
		}
		results <- Entry{Path: childPath, Metadata: meta, Depth: item.depth + 1}
	}
}

func entryMetadata(path string) (EntryMetadata, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return EntryMetadata{}, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return EntryMetadata{
			SizeBytes: info.Size(),
			Modified:  info.ModTime(),
			IsDir:     info.IsDir(),
			IsSymlink: info.Mode()&os.ModeSymlink != 0,
		}, nil
	}

	meta := EntryMetadata{
		SizeBytes: info.Size(),
		Modified:  info.ModTime(),
		IsDir:     info.IsDir(),
		Inode:     st.Ino,
		DeviceID:  uint64(st.Dev),
		IsSymlink: info.Mode()&os.ModeSymlink != 0,
	}
	if birth, ok := birthTime(st); ok {
		meta.Created = birth
		meta.HasCreated = true
	}
	return meta, nil
}

func deviceOf(info os.FileInfo) uint64 {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint64(st.Dev)
}
