// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// heartbeatStaleness is how long a worker may go without a heartbeat
// before the self-monitor considers it stale.
const heartbeatStaleness = 60 * time.Second

var (
	workerHeartbeatAge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sbh_worker_heartbeat_age_seconds",
		Help: "Seconds since each daemon worker last reported a heartbeat.",
	}, []string{"worker"})

	processRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sbh_process_rss_bytes",
		Help: "Resident set size of the daemon process, sampled at each state-file write.",
	})
)

// Collectors exposes the package's prometheus metrics for registration
// by cmd/sbhd.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{workerHeartbeatAge, processRSSBytes}
}

// SelfMonitor tracks a monotonic heartbeat per worker and reports
// staleness and process RSS for the state file.
type SelfMonitor struct {
	mu          sync.Mutex
	heartbeats  map[string]time.Time
	respawns    map[string]int
	rssCeiling  uint64
	now         func() time.Time
}

// NewSelfMonitor builds a self-monitor. rssCeilingBytes is the
// configured RSS ceiling above which SampleRSS reports overCeiling
// (and WriteState logs it); 0 disables the check.
func NewSelfMonitor(rssCeilingBytes uint64) *SelfMonitor {
	return &SelfMonitor{
		heartbeats: make(map[string]time.Time),
		respawns:   make(map[string]int),
		rssCeiling: rssCeilingBytes,
		now:        time.Now,
	}
}

// Heartbeat records a liveness pulse for the named worker.
func (m *SelfMonitor) Heartbeat(worker string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[worker] = at
}

// RecordRespawn increments the respawn count tracked for reporting
// purposes (the authoritative budget lives on the Worker itself).
func (m *SelfMonitor) RecordRespawn(worker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respawns[worker]++
}

// ThreadHealth snapshots every tracked worker's heartbeat age and
// staleness, and updates the heartbeat-age gauge as a side effect.
func (m *SelfMonitor) ThreadHealth() []v1.ThreadHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]v1.ThreadHealth, 0, len(m.heartbeats))
	for name, last := range m.heartbeats {
		age := now.Sub(last)
		workerHeartbeatAge.WithLabelValues(name).Set(age.Seconds())
		out = append(out, v1.ThreadHealth{
			Name:          name,
			LastHeartbeat: last,
			Respawns:      m.respawns[name],
			Stale:         age > heartbeatStaleness,
		})
	}
	return out
}

// SampleRSS reads the process's resident set size from
// /proc/self/statm, updates the RSS gauge, and reports whether it
// exceeds the configured ceiling.
func (m *SelfMonitor) SampleRSS() (rssBytes uint64, overCeiling bool, err error) {
	rssBytes, err = readRSSBytes()
	if err != nil {
		return 0, false, err
	}
	processRSSBytes.Set(float64(rssBytes))
	overCeiling = m.rssCeiling > 0 && rssBytes > m.rssCeiling
	return rssBytes, overCeiling, nil
}

// readRSSBytes has no suitable library in the dependency pack — go-ps
// only enumerates other processes' pid/executable, not this process's
// memory stats — so it is hand-rolled against the Linux /proc/self/statm
// ABI, which is stable and documented (`man proc`).
func readRSSBytes() (uint64, error) {
	f, err := os.Open("/proc/self/statm")
	if err != nil {
		return 0, fmt.Errorf("daemon: read /proc/self/statm: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("daemon: empty /proc/self/statm")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 2 {
		return 0, fmt.Errorf("daemon: malformed /proc/self/statm: %q", scanner.Text())
	}
	residentPages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("daemon: parse resident page count: %w", err)
	}
	return residentPages * uint64(os.Getpagesize()), nil
}
