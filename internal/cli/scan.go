// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora/v4"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/pattern"
	"github.com/sbh-io/sbh/internal/pidctl"
	"github.com/sbh-io/sbh/internal/platform"
	"github.com/sbh-io/sbh/internal/scanner"
	"github.com/sbh-io/sbh/internal/scoring"
)

// scoreRoots walks every root and returns candidates ranked by
// composite score, annotated with the posterior the scoring layer
// computed (the decision itself is not kept). It performs no deletions and no activity-log
// writes — every command surface operation that inspects candidates
// (scan, clean's dry-run, emergency) shares this core.
func scoreRoots(cfg v1.Config, roots []string) ([]v1.Candidate, error) {
	if len(roots) == 0 {
		roots = cfg.Scanner.WatchedPaths
	}

	protection := pattern.NewProtectionRegistry(cfg.Scanner.ProtectedGlobs)
	excluded := make(map[string]struct{}, len(cfg.Scanner.ExcludedPaths))
	for _, p := range cfg.Scanner.ExcludedPaths {
		excluded[p] = struct{}{}
	}

	walker := scanner.New(scanner.Config{
		RootPaths:     roots,
		CrossDevice:   cfg.Scanner.CrossDevice,
		Parallelism:   cfg.Scanner.Parallelism,
		MaxDepth:      cfg.Scanner.MaxDepth,
		ExcludedPaths: excluded,
		Protection:    protection,
	})
	entries := walker.Walk()

	weights := scoring.WeightsFrom(cfg.Scoring.Weights)
	loss := scoring.LossModel{FalsePositive: cfg.Scoring.FalsePositiveLoss, FalseNegative: cfg.Scoring.FalseNegativeLoss}

	urgencyByRoot := urgencyPerRoot(roots, cfg)
	calibration := cfg.Guardrails.CalibrationFloor

	now := time.Now()
	var candidates []v1.Candidate
	for _, e := range entries {
		if e.Metadata.IsDir {
			continue
		}
		age := effectiveAgeOf(e, now)
		c := v1.Candidate{
			Path:             e.Path,
			Kind:             v1.CandidateFile,
			SizeBytes:        e.Metadata.SizeBytes,
			DeviceID:         e.Metadata.DeviceID,
			Inode:            e.Metadata.Inode,
			EffectiveAgeSecs: age,
			LocationScore:    pattern.LocationScore(e.Path),
			NameScore:        pattern.NameScore(e.Path),
			AgeScore:         scoring.AgeScore(age),
			SizeScore:        scoring.SizeScore(e.Metadata.SizeBytes),
			StructureScore:   pattern.StructureScore(e.Children),
		}
		scored, outcome := scoring.Score(c, weights, urgencyByRoot[rootOf(roots, e.Path)], calibration, loss, 0, 0.05, 0.2, 0.1, 0.6)
		scored.PosteriorAbandoned = outcome.Posterior
		candidates = append(candidates, scored)
	}

	return scoring.Rank(candidates), nil
}

// urgencyPerRoot samples current free-space pressure on every root and
// steps a fresh PID controller once per root to derive the urgency
// scalar scoring.Score expects. A one-shot command has no persisted
// controller state to carry forward between invocations, unlike the
// daemon's long-lived mountState.
func urgencyPerRoot(roots []string, cfg v1.Config) map[string]float64 {
	urgency := make(map[string]float64, len(roots))
	stats, _ := platform.NewProbe().SampleAll(roots)
	for _, root := range roots {
		mountStats, ok := stats[root]
		if !ok || mountStats.TotalBytes == 0 {
			continue
		}
		free := mountStats.Metric(cfg.ResolvedFreeMetric())
		freePct := float64(free) / float64(mountStats.TotalBytes) * 100
		urgency[root] = pidctl.New().Step(cfg.Monitor.PressureGreenPct, freePct, 0)
	}
	return urgency
}

func effectiveAgeOf(e scanner.Entry, now time.Time) float64 {
	reference := e.Metadata.Modified
	if e.Metadata.HasCreated && e.Metadata.Created.Before(reference) {
		reference = e.Metadata.Created
	}
	if reference.IsZero() {
		return 0
	}
	age := now.Sub(reference).Seconds()
	if age < 0 {
		return 0
	}
	return age
}

// Scan implements the "scan" subcommand: rank every candidate under
// roots by composite score, filtering to those at or above minScore.
func Scan(cfg v1.Config, roots []string, minScore float64, format OutputFormat) error {
	ranked, err := scoreRoots(cfg, roots)
	if err != nil {
		return err
	}

	var filtered []v1.Candidate
	for _, c := range ranked {
		if c.CompositeScore >= minScore {
			filtered = append(filtered, c)
		}
	}

	if format == FormatJSON {
		return printJSON(filtered)
	}

	if len(filtered) == 0 {
		fmt.Println(aurora.Yellow("No candidates at or above the requested score").String())
		return nil
	}

	t := tabby.New()
	t.AddHeader("PATH", "SIZE", "SCORE", "POSTERIOR")
	for _, c := range filtered {
		t.AddLine(c.Path, humanize.Bytes(uint64(c.SizeBytes)), fmt.Sprintf("%.3f", c.CompositeScore), fmt.Sprintf("%.3f", c.PosteriorAbandoned))
	}
	t.Print()
	return nil
}
