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
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func slopeTable() *profile.Table {
	return &profile.Table{
		Columns: profile.Columns{Slope: true},
		Profiles: []profile.Profile{{
			SourceID: 4,
			Nodes: []profile.Node{
				{SourceID: 4, DistanceFromSource: 0, DistanceFromOutlet: 2, Elevation: 10, DrainageArea: 1, Slope: math.NaN()},
				{SourceID: 4, DistanceFromSource: 1, DistanceFromOutlet: 1, Elevation: 9.5, DrainageArea: 2, Slope: 0.25},
			},
		}},
	}
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false

	db, err := Open(cfg)
	require.NoError(t, err)
	assert.False(t, db.InMemory())
	require.NoError(t, db.PutRun(context.Background(), &RunRecord{ID: "keep", Clusters: 2}))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	rec, err := db.GetRun(context.Background(), "keep")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Clusters)
}

func TestOpen_BadDiscardRatio(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.GCDiscardRatio = 1.5
	_, err := Open(cfg)
	assert.Error(t, err)
}

func TestSlopes_RoundTrip(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	hash, err := HashTable(slopeTable())
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	_, err = db.GetSlopes(ctx, hash, 25)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.PutSlopes(ctx, hash, 25, slopeTable()))

	got, err := db.GetSlopes(ctx, hash, 25)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	assert.True(t, got.Columns.Slope)
	assert.False(t, got.Profiles[0].Nodes[0].HasSlope())
	assert.Equal(t, 0.25, got.Profiles[0].Nodes[1].Slope)

	_, err = db.GetSlopes(ctx, hash, 11)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHashInput_Stable(t *testing.T) {
	a, err := HashInput(strings.NewReader("id,elevation\n1,2\n"))
	require.NoError(t, err)
	b, err := HashInput(strings.NewReader("id,elevation\n1,2\n"))
	require.NoError(t, err)
	c, err := HashInput(strings.NewReader("id,elevation\n1,3\n"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRuns_PutGetList(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	corr := 0.5

	for i, id := range []string{"b", "a", "c"} {
		require.NoError(t, db.PutRun(ctx, &RunRecord{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Method:    "ward",
			MinCorr:   &corr,
			Labels:    map[int64]int{10: 1, 11: 2},
		}))
	}

	rec, err := db.GetRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "ward", rec.Method)
	require.NotNil(t, rec.MinCorr)
	assert.Equal(t, 0.5, *rec.MinCorr)
	assert.Equal(t, map[int64]int{10: 1, 11: 2}, rec.Labels)

	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[1].ID)
	assert.Equal(t, "b", runs[2].ID)

	runs, err = db.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = db.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, db.PutRun(ctx, &RunRecord{}))
}

func TestWithTxn_RollbackOnError(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte("runs/x"), []byte("{}")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.GetRun(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTxn_ContextCancelled(t *testing.T) {
	db := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WithTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	err = db.WithReadTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
