// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora/v4"

	"github.com/sbh-io/sbh/internal/daemon"
)

// Status implements the "status" subcommand: it reads the daemon's
// atomically-published state file and renders per-mount pressure,
// policy mode, and worker health.
func Status(statePath string, format OutputFormat) error {
	state, err := daemon.ReadStateFile(statePath)
	if err != nil {
		return fmt.Errorf("cli: read state file: %w", err)
	}

	if format == FormatJSON {
		return printJSON(state)
	}

	if state.Stale(time.Now()) {
		fmt.Println(aurora.Red("WARNING: state file is stale — the daemon may not be running").String())
		fmt.Println()
	}

	fmt.Printf("Policy mode:  %s\n", colorizePolicyMode(string(state.PolicyMode)))
	fmt.Printf("Free metric:  %s\n", state.FreeMetric)
	fmt.Printf("RSS:          %s\n", humanize.Bytes(state.RSSBytes))
	fmt.Printf("Last write:   %s\n\n", state.LastWriteInstant.Format(time.RFC3339))

	roots := make([]string, 0, len(state.PressureByMount))
	for root := range state.PressureByMount {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	fmt.Println(aurora.Bold("Mounts:"))
	t := tabby.New()
	t.AddHeader("ROOT", "PRESSURE", "RATE", "BALLAST FILES")
	for _, root := range roots {
		rate := state.RatesByMount[root]
		t.AddLine(root, colorizeLevel(string(state.PressureByMount[root])),
			humanize.Bytes(uint64(rate.RateBps))+"/s", state.BallastInventory[root])
	}
	t.Print()

	fmt.Println()
	fmt.Println(aurora.Bold("Workers:"))
	wt := tabby.New()
	wt.AddHeader("NAME", "LAST HEARTBEAT", "RESPAWNS", "STALE")
	for _, th := range state.ThreadHealth {
		staleStr := "no"
		if th.Stale {
			staleStr = aurora.Red("yes").String()
		}
		wt.AddLine(th.Name, th.LastHeartbeat.Format(time.RFC3339), th.Respawns, staleStr)
	}
	wt.Print()

	return nil
}
