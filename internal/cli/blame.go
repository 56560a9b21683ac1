// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/activitylog"
)

// RootAttribution is one watched root's total reclaimed bytes.
type RootAttribution struct {
	Root           string `json:"root"`
	BytesReclaimed int64  `json:"bytesReclaimed"`
	Deletions      int    `json:"deletions"`
}

// Blame implements "blame top_n": it groups every deletion recorded
// since the store's retention window began by the watched root it fell
// under (the root recorded with the deletion, else the longest watched
// root containing its path), sums bytes reclaimed, and ranks roots
// descending, truncated to topN.
func Blame(storePath string, roots []string, topN int, format OutputFormat) ([]RootAttribution, error) {
	store, err := activitylog.OpenStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("cli: open store: %w", err)
	}
	defer store.Close()

	events, err := store.QuerySince(v1.EventDeletion, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("cli: query deletions: %w", err)
	}

	byRoot := make(map[string]*RootAttribution)
	for _, evt := range events {
		raw, ok := evt.Payload.(json.RawMessage)
		if !ok {
			continue
		}
		var d v1.DeletionRecord
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}
		root := d.Root
		if root == "" {
			root = rootOf(roots, d.Path)
		}
		if _, exists := byRoot[root]; !exists {
			byRoot[root] = &RootAttribution{Root: root}
		}
		byRoot[root].BytesReclaimed += d.SizeBytes
		byRoot[root].Deletions++
	}

	out := make([]RootAttribution, 0, len(byRoot))
	for _, a := range byRoot {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BytesReclaimed > out[j].BytesReclaimed })
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}

	if format == FormatJSON {
		return out, printJSON(out)
	}

	t := tabby.New()
	t.AddHeader("ROOT", "DELETIONS", "BYTES RECLAIMED")
	for _, a := range out {
		t.AddLine(a.Root, a.Deletions, humanize.Bytes(uint64(a.BytesReclaimed)))
	}
	t.Print()
	return out, nil
}
