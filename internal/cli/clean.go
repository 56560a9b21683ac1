// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora/v4"
	"go.uber.org/multierr"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/platform"
	"github.com/sbh-io/sbh/internal/safety"
)

// DeletionReport is the result of a "clean" or "emergency" run.
type DeletionReport struct {
	Root            string   `json:"root"`
	TargetFreePct   float64  `json:"targetFreePct"`
	StartingFreePct float64  `json:"startingFreePct"`
	EndingFreePct   float64  `json:"endingFreePct"`
	DryRun          bool     `json:"dryRun"`
	Deleted         []string `json:"deleted"`
	Vetoed          []string `json:"vetoed,omitempty"`
	Errors          []string `json:"errors,omitempty"`
	BytesReclaimed  int64    `json:"bytesReclaimed"`
	TargetReached   bool     `json:"targetReached"`
}

// Clean implements the "clean" subcommand: rank candidates across
// roots and delete in descending expected-value order, per root,
// until each root's target free percentage is reached or candidates
// are exhausted. DryRun reports what would be deleted without
// unlinking anything.
func Clean(cfg v1.Config, roots []string, targetFreePct float64, dryRun bool, format OutputFormat) ([]DeletionReport, error) {
	if len(roots) == 0 {
		roots = cfg.Scanner.WatchedPaths
	}

	ranked, err := scoreRoots(cfg, roots)
	if err != nil {
		return nil, err
	}

	byRoot := make(map[string][]v1.Candidate)
	for _, c := range ranked {
		root := rootOf(roots, c.Path)
		byRoot[root] = append(byRoot[root], c)
	}

	probe := platform.NewProbe()
	gate := safety.NewGate(cfg.Scanner.ProtectedGlobs, cfg.Scanner.RepeatDeletionBaseCooldownSecs, cfg.Scanner.RepeatDeletionMaxCooldownSecs)

	var reports []DeletionReport
	for _, root := range roots {
		report, err := cleanOneRoot(root, byRoot[root], targetFreePct, dryRun, probe, gate, cfg.ResolvedFreeMetric())
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}

	if format == FormatJSON {
		return reports, printJSON(reports)
	}
	renderDeletionReports(reports)
	return reports, nil
}

func cleanOneRoot(root string, candidates []v1.Candidate, targetFreePct float64, dryRun bool, probe *platform.Probe, gate *safety.Gate, metric v1.FreeMetric) (DeletionReport, error) {
	report := DeletionReport{Root: root, TargetFreePct: targetFreePct, DryRun: dryRun}

	stats, err := probe.Sample(root)
	if err != nil {
		return report, fmt.Errorf("cli: sample %s: %w", root, err)
	}
	startPct := freePercent(stats, metric)
	report.StartingFreePct = startPct
	currentPct := startPct

	var batchErr error
	for _, c := range candidates {
		if currentPct >= targetFreePct {
			report.TargetReached = true
			break
		}

		decision := gate.Evaluate(c.Path, v1.PressureRed, platform.DiscoverOpenFDs())
		if !decision.Proceed {
			report.Vetoed = append(report.Vetoed, c.Path)
			continue
		}

		if !dryRun {
			if err := os.RemoveAll(c.Path); err != nil {
				batchErr = multierr.Append(batchErr, fmt.Errorf("%s: %w", c.Path, err))
				gate.Breaker.RecordError()
				continue
			}
			gate.Breaker.RecordSuccess()
			gate.Dampener.RecordDeletion(c.Path)
		}

		report.Deleted = append(report.Deleted, c.Path)
		report.BytesReclaimed += c.SizeBytes

		if stats.TotalBytes > 0 {
			currentPct = currentPct + float64(c.SizeBytes)/float64(stats.TotalBytes)*100
		}
	}
	report.EndingFreePct = currentPct
	if currentPct >= targetFreePct {
		report.TargetReached = true
	}
	for _, err := range multierr.Errors(batchErr) {
		report.Errors = append(report.Errors, err.Error())
	}
	return report, nil
}

func freePercent(stats v1.MountStats, metric v1.FreeMetric) float64 {
	if stats.TotalBytes == 0 {
		return 0
	}
	return float64(stats.Metric(metric)) / float64(stats.TotalBytes) * 100
}

func rootOf(roots []string, path string) string {
	best := ""
	for _, root := range roots {
		if len(path) >= len(root) && path[:len(root)] == root && len(root) > len(best) {
			best = root
		}
	}
	return best
}

func renderDeletionReports(reports []DeletionReport) {
	for _, r := range reports {
		fmt.Printf("%s: %.1f%% -> %.1f%% (target %.1f%%)\n", aurora.Bold(r.Root), r.StartingFreePct, r.EndingFreePct, r.TargetFreePct)
		if r.TargetReached {
			fmt.Println(aurora.Green("target reached").String())
		} else {
			fmt.Println(aurora.Yellow("candidates exhausted before reaching target").String())
		}
		fmt.Printf("reclaimed: %s\n", humanize.Bytes(uint64(r.BytesReclaimed)))

		if len(r.Deleted) > 0 {
			t := tabby.New()
			t.AddHeader("DELETED")
			for _, p := range r.Deleted {
				t.AddLine(p)
			}
			t.Print()
		}
		if len(r.Vetoed) > 0 {
			fmt.Printf("vetoed: %d candidates\n", len(r.Vetoed))
		}
		if len(r.Errors) > 0 {
			fmt.Println(aurora.Red(fmt.Sprintf("errors: %d candidates failed to delete", len(r.Errors))).String())
		}
		fmt.Println()
	}
}
