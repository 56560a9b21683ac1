// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package scanner

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// IndexHealth is the overall health of the incremental scan index.
type IndexHealth string

const (
	HealthHealthy       IndexHealth = "healthy"
	HealthDegraded      IndexHealth = "degraded"
	HealthCorrupt       IndexHealth = "corrupt"
	HealthUninitialized IndexHealth = "uninitialized"
)

// nodeID is an arena index. Child references are indices, not
// pointers, so the tree cannot contain a cycle by construction and
// serializes as plain data.
type nodeID int

const noNode nodeID = -1

// node is one arena entry: one scanned path's metadata hash, its
// combined subtree hash, and its children by arena index.
type node struct {
	Path         string    `json:"path"`
	MetadataHash [32]byte  `json:"metadataHash"`
	SubtreeHash  [32]byte  `json:"subtreeHash"`
	Depth        int       `json:"depth"`
	Children     []nodeID  `json:"children"`
}

// snapshot is the per-path metadata used for change detection between
// cycles.
type snapshot struct {
	SizeBytes int64
	ModNanos  int64
	Inode     uint64
	DeviceID  uint64
	IsDir     bool
}

func (s snapshot) hash(path string) [32]byte {
	h := sha256.New()
	h.Write([]byte(path))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(s.SizeBytes))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(s.ModNanos))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], s.Inode)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], s.DeviceID)
	h.Write(buf[:])
	if s.IsDir {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func snapshotOf(e Entry) snapshot {
	return snapshot{
		SizeBytes: e.Metadata.SizeBytes,
		ModNanos:  e.Metadata.Modified.UnixNano(),
		Inode:     e.Metadata.Inode,
		DeviceID:  e.Metadata.DeviceID,
		IsDir:     e.Metadata.IsDir,
	}
}

// Budget bounds how many changed or new paths an incremental diff may
// accept in one cycle; paths beyond it are deferred. Diff itself does
// not recompute node hashes.
type Budget struct {
	max  int
	used int
}

// NewBudget creates a recomputation budget of max updates.
func NewBudget(max int) *Budget { return &Budget{max: max} }

func (b *Budget) tryConsume() bool {
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

// Exhausted reports whether the budget has no updates left.
func (b *Budget) Exhausted() bool { return b.used >= b.max }

// Diff is the result of comparing the index against a fresh walk.
type Diff struct {
	ChangedPaths  []string
	NewPaths      []string
	RemovedPaths  []string
	UnchangedCount int
	DeferredPaths []string
	BudgetExhausted bool
	Health        IndexHealth
}

// Index is the incremental Merkle scan index: an arena of nodes keyed
// by path, with a snapshot table for fast change detection.
type Index struct {
	byPath    map[string]nodeID
	arena     []node
	snapshots map[string]snapshot
	rootPaths []string
	health    IndexHealth
}

// NewIndex creates an empty, uninitialized index.
func NewIndex() *Index {
	return &Index{
		byPath:    make(map[string]nodeID),
		snapshots: make(map[string]snapshot),
		health:    HealthUninitialized,
	}
}

// Health reports the index's current health.
func (idx *Index) Health() IndexHealth { return idx.health }

// RequiresFullScan reports whether the index cannot be trusted for an
// incremental diff.
func (idx *Index) RequiresFullScan() bool {
	return idx.health == HealthCorrupt || idx.health == HealthUninitialized || len(idx.snapshots) == 0
}

// MarkCorrupt forces the next cycle to run a full scan.
func (idx *Index) MarkCorrupt() { idx.health = HealthCorrupt }

// BuildFromEntries replaces the index wholesale from a full walk.
func (idx *Index) BuildFromEntries(entries []Entry, rootPaths []string) {
	idx.byPath = make(map[string]nodeID, len(entries))
	idx.arena = idx.arena[:0]
	idx.snapshots = make(map[string]snapshot, len(entries))
	idx.rootPaths = append([]string(nil), rootPaths...)

	childrenOf := make(map[string][]string)
	for _, e := range entries {
		idx.snapshots[e.Path] = snapshotOf(e)
		parent := filepath.Dir(e.Path)
		childrenOf[parent] = append(childrenOf[parent], e.Path)
	}
	for _, kids := range childrenOf {
		sort.Strings(kids)
	}

	// Process deepest paths first so children are hashed before their
	// parents, matching arena-append order with dependency order.
	order := make([]Entry, len(entries))
	copy(order, entries)
	sort.Slice(order, func(i, j int) bool {
		return pathDepth(order[i].Path) > pathDepth(order[j].Path)
	})

	for _, e := range order {
		idx.upsertNode(e.Path, childrenOf[e.Path])
	}

	idx.health = HealthHealthy
}

func pathDepth(p string) int {
	return len(filepath.ToSlash(p))
}

// upsertNode (re)computes one node's hash from its current snapshot
// and children, appending to the arena if new.
func (idx *Index) upsertNode(path string, children []string) nodeID {
	snap, ok := idx.snapshots[path]
	var metaHash [32]byte
	if ok {
		metaHash = snap.hash(path)
	}

	childIDs := make([]nodeID, 0, len(children))
	for _, c := range children {
		if id, ok := idx.byPath[c]; ok {
			childIDs = append(childIDs, id)
		}
	}

	subtree := idx.subtreeHash(metaHash, childIDs)

	if id, exists := idx.byPath[path]; exists {
		idx.arena[id] = node{Path: path, MetadataHash: metaHash, SubtreeHash: subtree, Depth: pathDepth(path), Children: childIDs}
		return id
	}

	id := nodeID(len(idx.arena))
	idx.arena = append(idx.arena, node{Path: path, MetadataHash: metaHash, SubtreeHash: subtree, Depth: pathDepth(path), Children: childIDs})
	idx.byPath[path] = id
	return id
}

func (idx *Index) subtreeHash(metaHash [32]byte, children []nodeID) [32]byte {
	h := sha256.New()
	h.Write(metaHash[:])
	for _, c := range children {
		if c == noNode || int(c) >= len(idx.arena) {
			var zero [32]byte
			h.Write(zero[:])
			continue
		}
		h.Write(idx.arena[c].SubtreeHash[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Diff compares the index against a fresh walk. If health is Corrupt
// or Uninitialized, every fresh entry is reported changed.
func (idx *Index) Diff(fresh []Entry, budget *Budget) Diff {
	if idx.health == HealthCorrupt || idx.health == HealthUninitialized {
		changed := make([]string, 0, len(fresh))
		for _, e := range fresh {
			changed = append(changed, e.Path)
		}
		return Diff{ChangedPaths: changed, Health: idx.health}
	}

	freshSnaps := make(map[string]snapshot, len(fresh))
	for _, e := range fresh {
		freshSnaps[e.Path] = snapshotOf(e)
	}

	var changed, newPaths, deferred []string
	unchanged := 0
	exhausted := false

	for path, snap := range freshSnaps {
		old, existed := idx.snapshots[path]
		switch {
		case !existed:
			if budget.tryConsume() {
				newPaths = append(newPaths, path)
			} else {
				exhausted = true
				deferred = append(deferred, path)
			}
		case old.hash(path) == snap.hash(path):
			unchanged++
		default:
			if budget.tryConsume() {
				changed = append(changed, path)
			} else {
				exhausted = true
				deferred = append(deferred, path)
			}
		}
	}

	var removed []string
	for path := range idx.snapshots {
		if _, ok := freshSnaps[path]; !ok {
			removed = append(removed, path)
		}
	}

	for _, p := range append(append([]string{}, changed...), newPaths...) {
		idx.snapshots[p] = freshSnaps[p]
	}
	for _, p := range removed {
		delete(idx.snapshots, p)
		if id, ok := idx.byPath[p]; ok {
			delete(idx.byPath, p)
			_ = id // arena slot left as a tombstone; compacted on next full build
		}
	}

	health := HealthHealthy
	if exhausted {
		health = HealthDegraded
	}
	idx.health = health

	sort.Strings(changed)
	sort.Strings(newPaths)
	sort.Strings(removed)
	sort.Strings(deferred)

	return Diff{
		ChangedPaths:    changed,
		NewPaths:        newPaths,
		RemovedPaths:    removed,
		UnchangedCount:  unchanged,
		DeferredPaths:   deferred,
		BudgetExhausted: exhausted,
		Health:          health,
	}
}

// checkpointVersion1 is the persisted checkpoint format version.
const checkpointVersion1 = 1

// checkpoint is the on-disk representation. Missing fields must
// deserialize to defaults for forward compatibility, which is why
// every field below has a safe zero value.
type checkpoint struct {
	Version       int                 `json:"version"`
	IntegrityHash string              `json:"integrityHash"`
	Nodes         []node              `json:"nodes"`
	ByPath        map[string]nodeID   `json:"byPath"`
	Snapshots     map[string]snapshot `json:"snapshots"`
	RootPaths     []string            `json:"rootPaths"`
	Health        IndexHealth         `json:"health"`
}

// SaveCheckpoint writes the index atomically (temp file + rename)
// with a SHA-256 integrity hash over the serialized arena and
// snapshot table.
func (idx *Index) SaveCheckpoint(path string) error {
	nodesBytes, err := json.Marshal(idx.arena)
	if err != nil {
		return fmt.Errorf("marshal checkpoint nodes: %w", err)
	}
	snapBytes, err := json.Marshal(idx.snapshots)
	if err != nil {
		return fmt.Errorf("marshal checkpoint snapshots: %w", err)
	}

	h := sha256.New()
	h.Write(nodesBytes)
	h.Write(snapBytes)
	integrity := fmt.Sprintf("%x", h.Sum(nil))

	cp := checkpoint{
		Version:       checkpointVersion1,
		IntegrityHash: integrity,
		Nodes:         idx.arena,
		ByPath:        idx.byPath,
		Snapshots:     idx.snapshots,
		RootPaths:     idx.rootPaths,
		Health:        idx.health,
	}

	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint. A
// version mismatch or integrity hash mismatch returns an error and
// the caller should fall back to a full scan with health Corrupt.
func LoadCheckpoint(path string) (*Index, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion1 {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}

	nodesBytes, err := json.Marshal(cp.Nodes)
	if err != nil {
		return nil, fmt.Errorf("re-marshal checkpoint nodes: %w", err)
	}
	snapBytes, err := json.Marshal(cp.Snapshots)
	if err != nil {
		return nil, fmt.Errorf("re-marshal checkpoint snapshots: %w", err)
	}
	h := sha256.New()
	h.Write(nodesBytes)
	h.Write(snapBytes)
	computed := fmt.Sprintf("%x", h.Sum(nil))
	if computed != cp.IntegrityHash {
		return nil, fmt.Errorf("checkpoint integrity hash mismatch — index is corrupt")
	}

	idx := &Index{
		arena:     cp.Nodes,
		byPath:    cp.ByPath,
		snapshots: cp.Snapshots,
		rootPaths: cp.RootPaths,
		health:    cp.Health,
	}
	if idx.byPath == nil {
		idx.byPath = make(map[string]nodeID)
	}
	if idx.snapshots == nil {
		idx.snapshots = make(map[string]snapshot)
	}
	return idx, nil
}

// EntryCount reports how many paths the index currently tracks.
func (idx *Index) EntryCount() int { return len(idx.snapshots) }

// NodeCount reports the arena size.
func (idx *Index) NodeCount() int { return len(idx.arena) }
