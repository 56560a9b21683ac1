// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package activitylog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// journalRotateSize is the size threshold at which the active journal
// file is rotated.
const journalRotateSize = 100 << 20

// journalGenerations is how many rotated generations are retained
// alongside the active file.
const journalGenerations = 5

// journalFsyncInterval is the conservative upper bound on how long an
// appended line may sit unsynced.
const journalFsyncInterval = 10 * time.Second

// Journal is the append-only half of the activity log: one JSON object
// per line, each line assembled fully in memory before a single Write
// call, so a line is never split across two writes.
type Journal struct {
	mu           sync.Mutex
	path         string
	file         *os.File
	size         int64
	lastFsync    time.Time
	now          func() time.Time
}

// OpenJournal opens (creating if absent) the journal file at path.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("activitylog: open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("activitylog: stat journal: %w", err)
	}
	return &Journal{
		path: path,
		file: f,
		size: info.Size(),
		now:  time.Now,
	}, nil
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Append writes one event as a single JSON-lines record, rotating the
// file first if it would cross the size threshold, and fsyncing on
// the conservative interval.
func (j *Journal) Append(evt v1.ActivityEvent) error {
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("activitylog: marshal journal line: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.size+int64(len(line)) > journalRotateSize {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := j.file.Write(line)
	if err != nil {
		return fmt.Errorf("activitylog: write journal line: %w", err)
	}
	j.size += int64(n)

	now := j.now()
	if now.Sub(j.lastFsync) >= journalFsyncInterval {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("activitylog: fsync journal: %w", err)
		}
		j.lastFsync = now
	}
	return nil
}

// rotateLocked closes the active file, shifts the retained
// generations down by one (dropping the oldest), and opens a fresh
// active file. Callers must hold j.mu.
func (j *Journal) rotateLocked() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("activitylog: close journal before rotate: %w", err)
	}

	oldest := fmt.Sprintf("%s.%d", j.path, journalGenerations)
	os.Remove(oldest)
	for gen := journalGenerations - 1; gen >= 1; gen-- {
		from := fmt.Sprintf("%s.%d", j.path, gen)
		to := fmt.Sprintf("%s.%d", j.path, gen+1)
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}
	if err := os.Rename(j.path, j.path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("activitylog: rotate journal: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("activitylog: reopen journal after rotate: %w", err)
	}
	j.file = f
	j.size = 0
	return nil
}
