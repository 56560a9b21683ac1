// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package activitylog implements the dual activity-log sink: an
// indexed, queryable SQLite store and an append-only rotating
// JSON-lines journal, composed behind a degradation chain that never
// blocks the caller on logging I/O.
package activitylog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// retentionWindow is how long indexed rows are kept before pruning.
const retentionWindow = 30 * 24 * time.Hour

// pruneEveryEvents triggers a retention sweep after this many inserts,
// rather than on a wall-clock timer.
const pruneEveryEvents = 500

const schema = `
CREATE TABLE IF NOT EXISTS pressure_samples (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence    INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence    INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS deletions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence    INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ballast_ops (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence    INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_transitions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence    INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS errors (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence    INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	payload     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS voi_root_stats (
	root                 TEXT PRIMARY KEY,
	expected_reclaim     REAL NOT NULL,
	io_cost_estimate     REAL NOT NULL,
	false_positive_rate  REAL NOT NULL,
	last_scanned         TEXT NOT NULL,
	scan_count           INTEGER NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS guard_state (
	mount      TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	e_log      REAL NOT NULL,
	updated_at TEXT NOT NULL
);
`

// eventTable maps an ActivityEventType to the indexed table it is
// written to. Guard alarms have no table of their own and are written
// to policy_transitions.
var eventTable = map[v1.ActivityEventType]string{
	v1.EventPressureSample:   "pressure_samples",
	v1.EventDecision:         "decisions",
	v1.EventDeletion:         "deletions",
	v1.EventBallastOp:        "ballast_ops",
	v1.EventPolicyTransition: "policy_transitions",
	v1.EventGuardAlarm:       "policy_transitions",
	v1.EventError:            "errors",
}

// Store is the indexed, queryable half of the activity log, opened
// with a single database connection. The logger goroutine appends
// events to it; the daemon also calls its Upsert and Load methods
// directly through Logger.Store, so access to the handle is not routed
// through the logger's channel.
type Store struct {
	db            *sql.DB
	eventsSinceGC int
}

// OpenStore opens (creating if absent) the indexed store at path and
// runs its migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("activitylog: open store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("activitylog: pragma journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("activitylog: pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("activitylog: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an already-open *sql.DB as a Store, skipping the
// pragma and migration pass OpenStore performs. Tests use this to
// substitute a mock driver for the indexed store's error paths.
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes one activity event to its indexed table, JSON-encoding
// the payload, and periodically sweeps rows past the retention window.
func (s *Store) Append(evt v1.ActivityEvent) error {
	table, ok := eventTable[evt.Type]
	if !ok {
		return fmt.Errorf("activitylog: no indexed table for event type %q", evt.Type)
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("activitylog: marshal payload: %w", err)
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (sequence, created_at, payload) VALUES (?, ?, ?)`, table)
	if _, err := s.db.Exec(stmt, evt.Sequence, evt.Timestamp.UTC().Format(time.RFC3339Nano), string(payload)); err != nil {
		return fmt.Errorf("activitylog: insert into %s: %w", table, err)
	}

	s.eventsSinceGC++
	if s.eventsSinceGC >= pruneEveryEvents {
		s.eventsSinceGC = 0
		if err := s.prune(time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// UpsertVOIRootStats persists one root's scheduler statistics, for
// warm-starting the VOI scheduler across daemon restarts.
func (s *Store) UpsertVOIRootStats(root string, expectedReclaim, ioCost, fpRate float64, lastScanned time.Time, scanCount int64) error {
	_, err := s.db.Exec(
		`INSERT INTO voi_root_stats (root, expected_reclaim, io_cost_estimate, false_positive_rate, last_scanned, scan_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(root) DO UPDATE SET
			expected_reclaim = excluded.expected_reclaim,
			io_cost_estimate = excluded.io_cost_estimate,
			false_positive_rate = excluded.false_positive_rate,
			last_scanned = excluded.last_scanned,
			scan_count = excluded.scan_count,
			updated_at = excluded.updated_at`,
		root, expectedReclaim, ioCost, fpRate, lastScanned.UTC().Format(time.RFC3339Nano), scanCount, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("activitylog: upsert voi_root_stats: %w", err)
	}
	return nil
}

// UpsertGuardState persists one mount's guardrails calibration state.
func (s *Store) UpsertGuardState(mount string, status v1.GuardStatus, eLog float64) error {
	_, err := s.db.Exec(
		`INSERT INTO guard_state (mount, status, e_log, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(mount) DO UPDATE SET
			status = excluded.status, e_log = excluded.e_log, updated_at = excluded.updated_at`,
		mount, string(status), eLog, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("activitylog: upsert guard_state: %w", err)
	}
	return nil
}

// VOIRootStatsRow is one root's persisted scan-scheduler statistics.
type VOIRootStatsRow struct {
	Root              string
	ExpectedReclaim   float64
	IOCostEstimate    float64
	FalsePositiveRate float64
	LastScanned       time.Time
	ScanCount         int64
}

// LoadVOIRootStats returns every persisted root's scheduler statistics,
// for warm-starting the VOI scheduler at daemon startup.
func (s *Store) LoadVOIRootStats() ([]VOIRootStatsRow, error) {
	rows, err := s.db.Query(`SELECT root, expected_reclaim, io_cost_estimate, false_positive_rate, last_scanned, scan_count FROM voi_root_stats`)
	if err != nil {
		return nil, fmt.Errorf("activitylog: load voi_root_stats: %w", err)
	}
	defer rows.Close()

	var out []VOIRootStatsRow
	for rows.Next() {
		var r VOIRootStatsRow
		var lastScanned string
		if err := rows.Scan(&r.Root, &r.ExpectedReclaim, &r.IOCostEstimate, &r.FalsePositiveRate, &lastScanned, &r.ScanCount); err != nil {
			return nil, fmt.Errorf("activitylog: scan voi_root_stats row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, lastScanned)
		if err != nil {
			return nil, fmt.Errorf("activitylog: parse voi_root_stats last_scanned: %w", err)
		}
		r.LastScanned = ts
		out = append(out, r)
	}
	return out, rows.Err()
}

// GuardStateRow is one mount's persisted guardrails calibration state.
type GuardStateRow struct {
	Mount  string
	Status v1.GuardStatus
	ELog   float64
}

// LoadGuardState returns every persisted mount's guard status and
// e-process log, for restoring the guardrails tracker at daemon
// startup. Restoring e_log matters: without it a crash-loop could be
// used to evade drift detection by resetting the alarm counter to 0.
func (s *Store) LoadGuardState() ([]GuardStateRow, error) {
	rows, err := s.db.Query(`SELECT mount, status, e_log FROM guard_state`)
	if err != nil {
		return nil, fmt.Errorf("activitylog: load guard_state: %w", err)
	}
	defer rows.Close()

	var out []GuardStateRow
	for rows.Next() {
		var r GuardStateRow
		var status string
		if err := rows.Scan(&r.Mount, &status, &r.ELog); err != nil {
			return nil, fmt.Errorf("activitylog: scan guard_state row: %w", err)
		}
		r.Status = v1.GuardStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune deletes rows older than the retention window from every
// event table.
func (s *Store) prune(now time.Time) error {
	cutoff := now.Add(-retentionWindow).UTC().Format(time.RFC3339Nano)
	tables := []string{"pressure_samples", "decisions", "deletions", "ballast_ops", "policy_transitions", "errors"}
	for _, table := range tables {
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, table)
		if _, err := s.db.Exec(stmt, cutoff); err != nil {
			return fmt.Errorf("activitylog: prune %s: %w", table, err)
		}
	}
	return nil
}

// CountRows returns the row count of one event table, for tests and
// CLI introspection.
func (s *Store) CountRows(table string) (int, error) {
	var n int
	err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("activitylog: count %s: %w", table, err)
	}
	return n, nil
}

// QuerySince returns every event of the given type recorded at or
// after since, oldest first, for CLI commands (`explain`, `stats`,
// `blame`) that read the store directly rather than through the
// logger's write-only path.
func (s *Store) QuerySince(eventType v1.ActivityEventType, since time.Time) ([]v1.ActivityEvent, error) {
	table, ok := eventTable[eventType]
	if !ok {
		return nil, fmt.Errorf("activitylog: no indexed table for event type %q", eventType)
	}

	stmt := fmt.Sprintf(`SELECT sequence, created_at, payload FROM %s WHERE created_at >= ? ORDER BY sequence ASC`, table)
	rows, err := s.db.Query(stmt, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("activitylog: query %s: %w", table, err)
	}
	defer rows.Close()

	var out []v1.ActivityEvent
	for rows.Next() {
		var seq uint64
		var createdAt, payload string
		if err := rows.Scan(&seq, &createdAt, &payload); err != nil {
			return nil, fmt.Errorf("activitylog: scan %s row: %w", table, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("activitylog: parse %s timestamp: %w", table, err)
		}
		out = append(out, v1.ActivityEvent{
			Sequence:  seq,
			Timestamp: ts,
			Type:      eventType,
			Payload:   json.RawMessage(payload),
		})
	}
	return out, rows.Err()
}
