// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package ballast manages per-volume pools of sacrificial files that
// can be unlinked on demand to buy the daemon headroom during an
// exhaustion event.
package ballast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sethvargo/go-password/password"
)

// HeaderSize is the fixed header region at the start of every ballast
// file. Provisioning must never compute an allocation offset/length
// against the total file size at offset 0 — that writes into the
// header region (the off-by-header bug) — and must never accept a
// declared size smaller than HeaderSize (underflow when computing the
// data region length).
const HeaderSize = 4096

// Magic identifies a well-formed ballast header.
const Magic = "SBH_BALLAST_v1"

// FilePrefix names every ballast file belonging to a pool.
const FilePrefix = "SBH_BALLAST_FILE"

// Purpose is the fixed human-readable string stamped into every
// header, so a file found by an operator (or by `df`-chasing panic)
// self-identifies instead of looking like an orphaned large file.
const Purpose = "sbh reclaimable ballast - safe to delete under disk pressure"

// Header is the JSON metadata written to the first HeaderSize bytes
// of every ballast file, null-padded to fill the region.
type Header struct {
	Magic     string    `json:"magic"`
	Purpose   string    `json:"purpose"`
	FileIndex int       `json:"fileIndex"`
	CreatedAt time.Time `json:"createdAt"`
	FileSize  int64     `json:"fileSize"`
	Nonce     string    `json:"nonce"`
}

// newHeader builds a header with a fresh, human-distinguishable nonce
// (not a cryptographic secret — it only needs to make two headers
// written moments apart look visibly different on inspection).
func newHeader(index int, size int64) (Header, error) {
	nonce, err := password.Generate(16, 8, 0, true, false)
	if err != nil {
		return Header{}, fmt.Errorf("ballast: generate header nonce: %w", err)
	}
	return Header{
		Magic:     Magic,
		Purpose:   Purpose,
		FileIndex: index,
		CreatedAt: time.Now(),
		FileSize:  size,
		Nonce:     nonce,
	}, nil
}

// encode renders the header as a null-padded HeaderSize-byte buffer.
func (h Header) encode() ([]byte, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("ballast: encode header: %w", err)
	}
	if len(raw) > HeaderSize {
		return nil, fmt.Errorf("ballast: header JSON (%d bytes) exceeds HeaderSize (%d)", len(raw), HeaderSize)
	}
	buf := make([]byte, HeaderSize)
	copy(buf, raw)
	return buf, nil
}

// decodeHeader parses a HeaderSize-byte, null-padded buffer back into
// a Header.
func decodeHeader(buf []byte) (Header, error) {
	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	var h Header
	if err := json.Unmarshal(buf[:end], &h); err != nil {
		return Header{}, fmt.Errorf("ballast: decode header: %w", err)
	}
	return h, nil
}

func (h Header) validate(expectedIndex int, expectedSize int64) error {
	if h.Magic != Magic {
		return fmt.Errorf("ballast: bad magic %q", h.Magic)
	}
	if h.FileIndex != expectedIndex {
		return fmt.Errorf("ballast: index mismatch, want %d got %d", expectedIndex, h.FileIndex)
	}
	if h.FileSize != expectedSize {
		return fmt.Errorf("ballast: size mismatch, want %d got %d", expectedSize, h.FileSize)
	}
	return nil
}
