// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/activitylog"
)

// WindowStats aggregates activity over a trailing time window.
type WindowStats struct {
	Window            string `json:"window"`
	Decisions         int    `json:"decisions"`
	Deletions         int    `json:"deletions"`
	BytesReclaimed    int64  `json:"bytesReclaimed"`
	Vetoes            int    `json:"vetoes"`
	PolicyTransitions int    `json:"policyTransitions"`
	Errors            int    `json:"errors"`
}

// Stats implements "stats window": it aggregates decisions,
// deletions, and errors recorded in the last window of wall-clock
// time.
func Stats(storePath string, window time.Duration, format OutputFormat) (WindowStats, error) {
	store, err := activitylog.OpenStore(storePath)
	if err != nil {
		return WindowStats{}, fmt.Errorf("cli: open store: %w", err)
	}
	defer store.Close()

	since := time.Now().Add(-window)
	out := WindowStats{Window: window.String()}

	decisions, err := store.QuerySince(v1.EventDecision, since)
	if err != nil {
		return out, err
	}
	out.Decisions = len(decisions)

	deletions, err := store.QuerySince(v1.EventDeletion, since)
	if err != nil {
		return out, err
	}
	out.Deletions = len(deletions)
	for _, evt := range deletions {
		raw, ok := evt.Payload.(json.RawMessage)
		if !ok {
			continue
		}
		var d v1.DeletionRecord
		if err := json.Unmarshal(raw, &d); err == nil {
			out.BytesReclaimed += d.SizeBytes
		}
	}

	transitions, err := store.QuerySince(v1.EventPolicyTransition, since)
	if err != nil {
		return out, err
	}
	out.PolicyTransitions = len(transitions)

	errs, err := store.QuerySince(v1.EventError, since)
	if err != nil {
		return out, err
	}
	out.Errors = len(errs)
	for _, evt := range errs {
		raw, ok := evt.Payload.(json.RawMessage)
		if !ok {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err == nil {
			if _, hasVeto := fields["veto"]; hasVeto {
				out.Vetoes++
			}
		}
	}

	if format == FormatJSON {
		return out, printJSON(out)
	}

	t := tabby.New()
	t.AddHeader("METRIC", "VALUE")
	t.AddLine("window", out.Window)
	t.AddLine("decisions", out.Decisions)
	t.AddLine("deletions", out.Deletions)
	t.AddLine("bytes reclaimed", humanize.Bytes(uint64(out.BytesReclaimed)))
	t.AddLine("vetoes", out.Vetoes)
	t.AddLine("policy transitions", out.PolicyTransitions)
	t.AddLine("errors", out.Errors)
	t.Print()
	return out, nil
}
