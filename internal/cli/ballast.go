// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"sort"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora/v4"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/ballast"
	"github.com/sbh-io/sbh/internal/platform"
)

// BallastReport is the result of one ballast subcommand invocation
// against a single volume root.
type BallastReport struct {
	Root            string   `json:"root"`
	FilesCreated    int      `json:"filesCreated,omitempty"`
	FilesSkipped    int      `json:"filesSkipped,omitempty"`
	FilesReleased   int      `json:"filesReleased,omitempty"`
	BytesFreed      int64    `json:"bytesFreed,omitempty"`
	TotalBytes      int64    `json:"totalBytes,omitempty"`
	FilesChecked    int      `json:"filesChecked,omitempty"`
	FilesOK         int      `json:"filesOk,omitempty"`
	FilesCorrupted  int      `json:"filesCorrupted,omitempty"`
	FilesMissing    int      `json:"filesMissing,omitempty"`
	Inventory       []int    `json:"inventory,omitempty"`
	ReleasableBytes int64    `json:"releasableBytes,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

func newCoordinator(cfg v1.Config, roots []string) (*ballast.Coordinator, []string, error) {
	if len(roots) == 0 {
		roots = cfg.Scanner.WatchedPaths
	}
	return ballast.NewCoordinator(roots, cfg.Ballast, platform.FSTypeOf)
}

func freePctFuncFor(root string) ballast.FreePctFunc {
	probe := platform.NewProbe()
	return func() float64 {
		stats, err := probe.Sample(root)
		if err != nil {
			return 0
		}
		return freePercent(stats, v1.FreeMetricAvailable)
	}
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

// BallastProvision implements "ballast provision": it creates every
// configured-but-missing ballast file on each root's pool.
func BallastProvision(cfg v1.Config, roots []string, format OutputFormat) ([]BallastReport, error) {
	coord, _, err := newCoordinator(cfg, roots)
	if err != nil {
		return nil, err
	}

	var reports []BallastReport
	for _, root := range coord.Roots() {
		pool := coord.Pool(root)
		r, err := pool.Provision(freePctFuncFor(root))
		if err != nil {
			return reports, fmt.Errorf("cli: provision %s: %w", root, err)
		}
		reports = append(reports, BallastReport{
			Root: root, FilesCreated: r.FilesCreated, FilesSkipped: r.FilesSkipped,
			TotalBytes: r.TotalBytes, Errors: errorStrings(r.Errors),
		})
	}
	sortBallastReports(reports)
	return reports, renderBallast(reports, format, "provisioned")
}

// BallastRelease implements "ballast release N": it releases up to
// count ballast files per root, freeing their backing blocks.
func BallastRelease(cfg v1.Config, roots []string, count int, format OutputFormat) ([]BallastReport, error) {
	coord, _, err := newCoordinator(cfg, roots)
	if err != nil {
		return nil, err
	}

	var reports []BallastReport
	for _, root := range coord.Roots() {
		pool := coord.Pool(root)
		r, err := pool.Release(count)
		if err != nil {
			return reports, fmt.Errorf("cli: release %s: %w", root, err)
		}
		reports = append(reports, BallastReport{
			Root: root, FilesReleased: r.FilesReleased, BytesFreed: r.BytesFreed, Errors: errorStrings(r.Errors),
		})
	}
	sortBallastReports(reports)
	return reports, renderBallast(reports, format, "released")
}

// BallastReplenish implements "ballast replenish": it replaces one
// previously released file per root, if that root had churn.
func BallastReplenish(cfg v1.Config, roots []string, format OutputFormat) ([]BallastReport, error) {
	coord, _, err := newCoordinator(cfg, roots)
	if err != nil {
		return nil, err
	}

	var reports []BallastReport
	for _, root := range coord.Roots() {
		pool := coord.Pool(root)
		r, err := pool.ReplenishOne(freePctFuncFor(root))
		if err != nil {
			return reports, fmt.Errorf("cli: replenish %s: %w", root, err)
		}
		reports = append(reports, BallastReport{
			Root: root, FilesCreated: r.FilesCreated, FilesSkipped: r.FilesSkipped,
			TotalBytes: r.TotalBytes, Errors: errorStrings(r.Errors),
		})
	}
	sortBallastReports(reports)
	return reports, renderBallast(reports, format, "replenished")
}

// BallastVerify implements "ballast verify": it checks every
// configured file's size and header against what provisioning wrote.
func BallastVerify(cfg v1.Config, roots []string, format OutputFormat) ([]BallastReport, error) {
	coord, _, err := newCoordinator(cfg, roots)
	if err != nil {
		return nil, err
	}

	var reports []BallastReport
	for _, root := range coord.Roots() {
		pool := coord.Pool(root)
		r := pool.Verify()
		reports = append(reports, BallastReport{
			Root: root, FilesChecked: r.FilesChecked, FilesOK: r.FilesOK,
			FilesCorrupted: r.FilesCorrupted, FilesMissing: r.FilesMissing, Errors: r.Details,
		})
	}
	sortBallastReports(reports)
	return reports, renderBallast(reports, format, "verified")
}

// BallastStatus implements "ballast status": it reports current
// inventory and releasable bytes per pool without mutating anything.
func BallastStatus(cfg v1.Config, roots []string, format OutputFormat) ([]BallastReport, error) {
	coord, skipped, err := newCoordinator(cfg, roots)
	if err != nil {
		return nil, err
	}

	var reports []BallastReport
	for _, root := range coord.Roots() {
		pool := coord.Pool(root)
		reports = append(reports, BallastReport{
			Root: root, Inventory: pool.Inventory(), ReleasableBytes: pool.ReleasableBytes(),
		})
	}
	sortBallastReports(reports)

	if format == FormatJSON {
		return reports, printJSON(struct {
			Pools   []BallastReport `json:"pools"`
			Skipped []string        `json:"skippedRoots,omitempty"`
		}{reports, skipped})
	}

	t := tabby.New()
	t.AddHeader("ROOT", "FILES", "RELEASABLE")
	for _, r := range reports {
		t.AddLine(r.Root, len(r.Inventory), humanize.Bytes(uint64(r.ReleasableBytes)))
	}
	t.Print()
	if len(skipped) > 0 {
		fmt.Println(aurora.Yellow(fmt.Sprintf("skipped (unsuitable filesystem): %v", skipped)).String())
	}
	return reports, nil
}

func sortBallastReports(reports []BallastReport) {
	sort.Slice(reports, func(i, j int) bool { return reports[i].Root < reports[j].Root })
}

func renderBallast(reports []BallastReport, format OutputFormat, verb string) error {
	if format == FormatJSON {
		return printJSON(reports)
	}

	t := tabby.New()
	t.AddHeader("ROOT", "RESULT")
	for _, r := range reports {
		summary := ballastSummary(r)
		t.AddLine(r.Root, summary)
		if len(r.Errors) > 0 {
			fmt.Println(aurora.Red(fmt.Sprintf("  %s: %d error(s): %v", r.Root, len(r.Errors), r.Errors)).String())
		}
	}
	fmt.Printf("%s %d pool(s)\n", verb, len(reports))
	t.Print()
	return nil
}

func ballastSummary(r BallastReport) string {
	switch {
	case r.FilesChecked > 0:
		return fmt.Sprintf("checked %d, ok %d, corrupted %d, missing %d", r.FilesChecked, r.FilesOK, r.FilesCorrupted, r.FilesMissing)
	case r.FilesReleased > 0 || r.BytesFreed > 0:
		return fmt.Sprintf("released %d (%s)", r.FilesReleased, humanize.Bytes(uint64(r.BytesFreed)))
	default:
		return fmt.Sprintf("created %d, skipped %d (%s)", r.FilesCreated, r.FilesSkipped, humanize.Bytes(uint64(r.TotalBytes)))
	}
}
