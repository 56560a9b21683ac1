// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/platform"
)

// CheckResult is the verdict "check" returns for one proposed write.
type CheckResult string

const (
	CheckOK           CheckResult = "ok"
	CheckInsufficient CheckResult = "insufficient"
	CheckCritical     CheckResult = "critical"
)

// Check implements the "check" subcommand: given a path, a prospective
// write size, and the configured target free percentage, it reports
// whether the write can proceed without violating the target headroom.
// critical means the raw capacity does not exist at all; insufficient
// means it exists but would push the mount below target_free_pct.
func Check(cfg v1.Config, path string, needBytes int64, targetFreePct float64) (CheckResult, error) {
	probe := platform.NewProbe()
	stats, err := probe.Sample(path)
	if err != nil {
		return "", fmt.Errorf("cli: sample %s: %w", path, err)
	}

	metric := cfg.ResolvedFreeMetric()
	free := stats.Metric(metric)

	if needBytes < 0 || uint64(needBytes) > free {
		return CheckCritical, nil
	}
	if stats.TotalBytes == 0 {
		return CheckCritical, nil
	}

	remainingPct := float64(free-uint64(needBytes)) / float64(stats.TotalBytes) * 100
	if remainingPct < targetFreePct {
		return CheckInsufficient, nil
	}
	return CheckOK, nil
}
