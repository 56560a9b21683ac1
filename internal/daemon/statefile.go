// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// statefilePerm is restrictive: owner read/write only, since the
// state file can reveal watched paths and candidate deletion targets.
const statefilePerm = 0o600

// WriteStateFile atomically publishes state to path: it is written to
// a sibling temp file and renamed into place, so external readers
// never observe a partially written snapshot.
func WriteStateFile(path string, state v1.DaemonState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("daemon: marshal state file: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sbh-state-*.tmp")
	if err != nil {
		return fmt.Errorf("daemon: create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("daemon: write temp state file: %w", err)
	}
	if err := tmp.Chmod(statefilePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("daemon: chmod temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("daemon: fsync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("daemon: close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("daemon: rename state file into place: %w", err)
	}
	return nil
}

// ReadStateFile reads and decodes the state file, for external
// readers (the CLI's `status` command) and for warm-restart checks.
func ReadStateFile(path string) (v1.DaemonState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return v1.DaemonState{}, fmt.Errorf("daemon: read state file: %w", err)
	}
	var state v1.DaemonState
	if err := json.Unmarshal(raw, &state); err != nil {
		return v1.DaemonState{}, fmt.Errorf("daemon: decode state file: %w", err)
	}
	return state, nil
}
