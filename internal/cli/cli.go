// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the command-surface operations named in the
// daemon's external command contract (scan/clean/emergency/check/
// ballast/protect/explain/stats/blame/status/config). It talks to the
// same in-process packages the daemon uses directly — there is no
// client/server protocol between cmd/sbhctl and a running daemon.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/logrusorgru/aurora/v4"
)

// OutputFormat selects text or JSON rendering for a command's result.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a user-supplied --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("cli: unknown output format %q, want text|json", s)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// colorizeLevel renders a pressure level using a good/warning/danger
// coloring convention (green/yellow/red).
func colorizeLevel(level string) string {
	switch level {
	case "green":
		return aurora.Green(level).String()
	case "yellow", "orange":
		return aurora.Yellow(level).String()
	case "red", "critical":
		return aurora.Red(level).String()
	default:
		return level
	}
}

// colorizePolicyMode renders a policy mode with Enforce/Canary in
// green, Observe neutral, FallbackSafe in red.
func colorizePolicyMode(mode string) string {
	switch mode {
	case "enforce", "canary":
		return aurora.Green(mode).String()
	case "fallback_safe":
		return aurora.Red(mode).String()
	default:
		return mode
	}
}
