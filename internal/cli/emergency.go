// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	v1 "github.com/sbh-io/sbh/api/v1"
)

// Emergency implements the "emergency" subcommand: the zero-write
// path. It reads configuration into memory, scans and scores, and
// unlinks candidates in descending expected value until the target
// free fraction is reached or candidates are exhausted, writing
// nothing to the indexed store, journal, state file, or scan index —
// it shares Clean's candidate-ranking and deletion loop but never
// constructs an activitylog.Logger or scanner.Index, so there is
// nothing in this path that persists anything.
func Emergency(cfg v1.Config, roots []string, targetFreePct float64, format OutputFormat) ([]DeletionReport, error) {
	return Clean(cfg, roots, targetFreePct, false, format)
}
