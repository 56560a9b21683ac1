// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/daemon"
)

var _ = Describe("Status", func() {
	It("renders a freshly published state file without error", func() {
		path := filepath.Join(tempDir(), "state.json")
		state := v1.DaemonState{
			SchemaVersion:    v1.ConfigSchemaVersion,
			LastWriteInstant: time.Now(),
			FreeMetric:       v1.FreeMetricAvailable,
			PolicyMode:       v1.PolicyObserve,
			PressureByMount:  map[string]v1.PressureLevel{"/data": v1.PressureGreen},
			RatesByMount:     map[string]v1.RateEstimate{"/data": {RateBps: 1024}},
			BallastInventory: map[string]int{"/data": 4},
			ThreadHealth:     []v1.ThreadHealth{{Name: "scanner", LastHeartbeat: time.Now(), Respawns: 0, Stale: false}},
			RSSBytes:         1 << 20,
		}
		Expect(daemon.WriteStateFile(path, state)).To(Succeed())

		Expect(Status(path, FormatJSON)).To(Succeed())
		Expect(Status(path, FormatText)).To(Succeed())
	})

	It("errors when the state file does not exist", func() {
		Expect(Status(filepath.Join(tempDir(), "missing.json"), FormatJSON)).To(HaveOccurred())
	})
})
