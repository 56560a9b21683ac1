// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package activitylog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/atomic"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// indexedFailureThreshold is how many consecutive indexed-store
// append failures disable it in favor of the journal alone.
const indexedFailureThreshold = 5

// reopenRetryInterval is how often a disabled sink is retried.
const reopenRetryInterval = 30 * time.Second

// ramBufferCapacity bounds the last-resort in-memory ring buffer used
// when both the indexed store and the journal are unavailable.
const ramBufferCapacity = 1000

// Chain implements the degradation ladder. Every event is written to
// both the indexed store and the journal; only when neither of them
// accepts it does it fall through to the RAM ring buffer and stderr.
// A failed indexed store is disabled and skipped until its retry
// interval elapses; a closed journal is reopened on each event.
type Chain struct {
	mu sync.Mutex

	store   *Store
	journal *Journal

	storeOpenPath   string
	journalOpenPath string

	indexedFailures   int
	indexedDisabled   bool
	indexedNextRetry  time.Time

	ram      []v1.ActivityEvent
	ramNext  int

	droppedToRAM    atomic.Int64
	droppedToStderr atomic.Int64
	discarded       atomic.Int64
}

// NewChain builds a degradation chain over an already-open store and
// journal. Either may be nil if that sink could not be opened at
// startup; the chain degrades further in that case.
func NewChain(store *Store, storePath string, journal *Journal, journalPath string) *Chain {
	return &Chain{
		store:           store,
		journal:         journal,
		storeOpenPath:   storePath,
		journalOpenPath: journalPath,
		ram:             make([]v1.ActivityEvent, 0, ramBufferCapacity),
	}
}

// Append tries the indexed store, then the journal, then the RAM
// buffer, then stderr, then discards — logging every event that
// reaches the indexed store AND the journal per spec coverage
// requirements when both are healthy, but never blocking or
// returning an error the caller must act on.
func (c *Chain) Append(evt v1.ActivityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	storeOK := c.appendStoreLocked(evt)
	journalOK := c.appendJournalLocked(evt)

	if storeOK || journalOK {
		return
	}

	c.appendRAMLocked(evt)
	if err := c.appendStderrLocked(evt); err != nil {
		c.discarded.Inc()
	}
}

func (c *Chain) appendStoreLocked(evt v1.ActivityEvent) bool {
	if c.indexedDisabled {
		if time.Now().Before(c.indexedNextRetry) {
			return false
		}
		if err := c.reopenStoreLocked(); err != nil {
			c.indexedNextRetry = time.Now().Add(reopenRetryInterval)
			return false
		}
		c.indexedDisabled = false
		c.indexedFailures = 0
	}

	if c.store == nil {
		return false
	}

	if err := c.store.Append(evt); err != nil {
		c.indexedFailures++
		if c.indexedFailures >= indexedFailureThreshold {
			c.indexedDisabled = true
			c.indexedNextRetry = time.Now().Add(reopenRetryInterval)
		}
		return false
	}
	c.indexedFailures = 0
	return true
}

func (c *Chain) reopenStoreLocked() error {
	if c.storeOpenPath == "" {
		return fmt.Errorf("activitylog: no indexed store path configured")
	}
	store, err := OpenStore(c.storeOpenPath)
	if err != nil {
		return err
	}
	if c.store != nil {
		c.store.Close()
	}
	c.store = store
	return nil
}

func (c *Chain) appendJournalLocked(evt v1.ActivityEvent) bool {
	if c.journal == nil {
		if c.journalOpenPath == "" {
			return false
		}
		journal, err := OpenJournal(c.journalOpenPath)
		if err != nil {
			return false
		}
		c.journal = journal
	}

	if err := c.journal.Append(evt); err != nil {
		return false
	}
	return true
}

func (c *Chain) appendRAMLocked(evt v1.ActivityEvent) {
	if len(c.ram) < ramBufferCapacity {
		c.ram = append(c.ram, evt)
	} else {
		c.ram[c.ramNext] = evt
		c.ramNext = (c.ramNext + 1) % ramBufferCapacity
	}
	c.droppedToRAM.Inc()
}

func (c *Chain) appendStderrLocked(evt v1.ActivityEvent) error {
	_, err := fmt.Fprintf(os.Stderr, "activitylog degraded: seq=%d type=%s time=%s\n",
		evt.Sequence, evt.Type, evt.Timestamp.UTC().Format(time.RFC3339))
	if err == nil {
		c.droppedToStderr.Inc()
	}
	return err
}

// DropCounts reports how many events landed on each degraded level,
// for periodic self-reporting.
func (c *Chain) DropCounts() (toRAM, toStderr, discarded int64) {
	return c.droppedToRAM.Load(), c.droppedToStderr.Load(), c.discarded.Load()
}

// RAMSnapshot returns a copy of the current RAM ring buffer contents,
// for diagnostics when both durable sinks are down.
func (c *Chain) RAMSnapshot() []v1.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]v1.ActivityEvent, len(c.ram))
	copy(out, c.ram)
	return out
}

// IndexedDisabled reports whether the indexed store is currently
// disabled after repeated failures.
func (c *Chain) IndexedDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexedDisabled
}

// Store returns the currently open indexed store, or nil if it could
// not be opened or has since been disabled. The caller may use it to
// persist or restore state outside the normal Append path; *sql.DB is
// safe for concurrent use, so this does not need to go through the
// chain's own lock for every call.
func (c *Chain) Store() *Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// Close closes both underlying sinks.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			firstErr = err
		}
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
