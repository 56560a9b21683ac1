// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/atomic"
)

// SignalContract turns the three contracted signals into flags and
// channels the main loop polls. The handler goroutine itself never
// does anything beyond setting a flag or attempting a non-blocking
// channel send — all real work happens in the loop.
type SignalContract struct {
	shutdown atomic.Bool

	reloadRequested        chan struct{}
	immediateScanRequested chan struct{}

	signals chan os.Signal
	done    chan struct{}
}

// NewSignalContract builds an unregistered contract; call Listen to
// start receiving signals.
func NewSignalContract() *SignalContract {
	return &SignalContract{
		reloadRequested:        make(chan struct{}, 1),
		immediateScanRequested: make(chan struct{}, 1),
		signals:                make(chan os.Signal, 4),
		done:                   make(chan struct{}),
	}
}

// Listen registers for SIGTERM (graceful shutdown), SIGHUP (config
// reload), and SIGUSR1 (immediate scan) and starts the dispatch
// goroutine. Call Stop to unregister.
func (c *SignalContract) Listen() {
	signal.Notify(c.signals, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	go c.dispatch()
}

func (c *SignalContract) dispatch() {
	for {
		select {
		case sig, ok := <-c.signals:
			if !ok {
				return
			}
			switch sig {
			case syscall.SIGTERM:
				c.shutdown.Store(true)
			case syscall.SIGHUP:
				nonBlockingSend(c.reloadRequested)
			case syscall.SIGUSR1:
				nonBlockingSend(c.immediateScanRequested)
			}
		case <-c.done:
			return
		}
	}
}

func nonBlockingSend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Stop unregisters the signal handler and stops the dispatch
// goroutine.
func (c *SignalContract) Stop() {
	signal.Stop(c.signals)
	close(c.done)
}

// ShouldShutdown reports whether a graceful-shutdown signal has been
// received. The loop polls this; it is never set from inside the
// handler's own logic beyond the single atomic store above.
func (c *SignalContract) ShouldShutdown() bool {
	return c.shutdown.Load()
}

// ReloadRequests is the channel the loop selects on to notice a
// config-reload request.
func (c *SignalContract) ReloadRequests() <-chan struct{} {
	return c.reloadRequested
}

// ImmediateScanRequests is the channel the loop selects on to notice
// an immediate-scan request that bypasses the scheduler.
func (c *SignalContract) ImmediateScanRequests() <-chan struct{} {
	return c.immediateScanRequested
}
