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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

const runPrefix = "runs/"

// RunRecord is the persisted summary of one clustering run.
type RunRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Input     string    `json:"input,omitempty"`
	InputHash string    `json:"input_hash,omitempty"`

	ProfileLen    float64  `json:"profile_len"`
	Step          float64  `json:"step"`
	SlopeWindow   int      `json:"slope_window"`
	Method        string   `json:"method"`
	StreamOrder   int      `json:"stream_order"`
	MinCorr       *float64 `json:"min_corr,omitempty"`
	ThresholdRule string   `json:"threshold_rule,omitempty"`

	Threshold  float64           `json:"threshold"`
	Clusters   int               `json:"clusters"`
	Profiles   int               `json:"profiles"`
	Exclusions map[string]int    `json:"exclusions,omitempty"`
	Labels     map[int64]int     `json:"labels,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// PutRun stores a run record, replacing any record with the same id.
func (d *DB) PutRun(ctx context.Context, rec *RunRecord) error {
	if rec.ID == "" {
		return errors.New("run record has no id")
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", rec.ID, err)
	}
	if err := d.put(ctx, runKey(rec.ID), val, 0); err != nil {
		return fmt.Errorf("store run %s: %w", rec.ID, err)
	}
	return nil
}

// GetRun returns the run with the given id, or ErrNotFound.
func (d *DB) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	val, err := d.get(ctx, runKey(id))
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &rec, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := d.scan(ctx, []byte(runPrefix), func(key, val []byte) error {
		var rec RunRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		runs = append(runs, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
