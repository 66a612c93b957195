// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
)

// HashInput returns the hex SHA-256 of r's contents.
func HashInput(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashTable returns a content hash of a table, computed over its CSV form.
func HashTable(t *profile.Table) (string, error) {
	var buf bytes.Buffer
	if err := profile.Write(&buf, t); err != nil {
		return "", fmt.Errorf("hash table: %w", err)
	}
	return HashInput(&buf)
}

func slopeKey(inputHash string, window int) []byte {
	return []byte(fmt.Sprintf("slopes/%s/w%d", inputHash, window))
}

// PutSlopes caches a slope-annotated table for an input hash and window.
func (d *DB) PutSlopes(ctx context.Context, inputHash string, window int, t *profile.Table) error {
	var buf bytes.Buffer
	if err := profile.Write(&buf, t); err != nil {
		return fmt.Errorf("encode slope table: %w", err)
	}
	if err := d.put(ctx, slopeKey(inputHash, window), buf.Bytes(), d.cfg.CacheTTL); err != nil {
		return fmt.Errorf("store slope table: %w", err)
	}
	return nil
}

// GetSlopes returns a cached slope table, or ErrNotFound.
func (d *DB) GetSlopes(ctx context.Context, inputHash string, window int) (*profile.Table, error) {
	val, err := d.get(ctx, slopeKey(inputHash, window))
	if err != nil {
		return nil, fmt.Errorf("load slope table: %w", err)
	}
	t, err := profile.Read(bytes.NewReader(val))
	if err != nil {
		return nil, fmt.Errorf("decode slope table: %w", err)
	}
	return t, nil
}
