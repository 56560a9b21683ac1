// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package activitylog

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// channelCapacity bounds the logger's intake channel. The monitor and
// scanner loops must never block on logging, so a full channel drops
// the event rather than applying backpressure.
const channelCapacity = 1024

// Logger is the single owner of the activity log's degradation chain.
// Producers call Log, which enqueues non-blockingly; a single
// goroutine drains the channel into the chain.
type Logger struct {
	events chan v1.ActivityEvent
	chain  *Chain

	sequence atomic.Uint64
	dropped  atomic.Uint64

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewLogger starts the logger's drain goroutine against chain.
func NewLogger(chain *Chain) *Logger {
	l := &Logger{
		events: make(chan v1.ActivityEvent, channelCapacity),
		chain:  chain,
		stopCh: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case evt := <-l.events:
			l.chain.Append(evt)
		case <-l.stopCh:
			l.drainRemaining()
			return
		}
	}
}

func (l *Logger) drainRemaining() {
	for {
		select {
		case evt := <-l.events:
			l.chain.Append(evt)
		default:
			return
		}
	}
}

// Log enqueues one event of the given type and payload, stamping it
// with a monotonic sequence number and the current time. It never
// blocks: a full channel increments the drop counter and returns
// false.
func (l *Logger) Log(eventType v1.ActivityEventType, payload any) bool {
	evt := v1.ActivityEvent{
		Sequence:  l.sequence.Inc(),
		Timestamp: time.Now(),
		Type:      eventType,
		Payload:   payload,
	}
	select {
	case l.events <- evt:
		return true
	default:
		l.dropped.Inc()
		return false
	}
}

// DroppedCount returns how many events have been dropped because the
// intake channel was full, for periodic self-reporting.
func (l *Logger) DroppedCount() uint64 {
	return l.dropped.Load()
}

// Store returns the chain's currently open indexed store, or nil, for
// the daemon's startup-restore and per-cycle state persistence.
func (l *Logger) Store() *Store {
	return l.chain.Store()
}

// Stop drains any remaining buffered events through the chain and
// closes the underlying sinks.
func (l *Logger) Stop() error {
	close(l.stopCh)
	l.wg.Wait()
	return l.chain.Close()
}
