// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/activitylog"
)

// Explain implements "explain decision_id": it scans the decisions
// table for a matching DecisionID and returns its full evidence
// record. Decisions are retained for the store's pruning window, so
// old decision IDs legitimately return not-found.
func Explain(storePath, decisionID string, format OutputFormat) (*v1.Decision, error) {
	store, err := activitylog.OpenStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("cli: open store: %w", err)
	}
	defer store.Close()

	events, err := store.QuerySince(v1.EventDecision, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("cli: query decisions: %w", err)
	}

	for _, evt := range events {
		raw, ok := evt.Payload.(json.RawMessage)
		if !ok {
			continue
		}
		var d v1.Decision
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}
		if d.DecisionID == decisionID {
			if format == FormatJSON {
				return &d, printJSON(d)
			}
			printDecision(d)
			return &d, nil
		}
	}

	return nil, fmt.Errorf("cli: no decision found with id %s", decisionID)
}

func printDecision(d v1.Decision) {
	fmt.Printf("decision:     %s\n", d.DecisionID)
	fmt.Printf("path:         %s\n", d.CandidatePath)
	fmt.Printf("action:       %s\n", d.Action)
	fmt.Printf("posterior:    %.4f\n", d.Posterior)
	fmt.Printf("uncertainty:  %.4f\n", d.Uncertainty)
	fmt.Printf("loss(delete): %.4f\n", d.ExpectedLossDelete)
	fmt.Printf("loss(keep):   %.4f\n", d.ExpectedLossKeep)
	fmt.Printf("guard penalty: %.4f\n", d.GuardPenalty)
	fmt.Printf("policy mode:  %s\n", d.PolicyMode)
	fmt.Printf("timestamp:    %s\n", d.Timestamp.Format(time.RFC3339))
}
