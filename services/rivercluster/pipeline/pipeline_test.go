// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/config"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/distance"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/linkage"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/storage"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/unique"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slopeProfile builds a slope-annotated profile with one node per metre.
func slopeProfile(id int64, slopes []float64) profile.Profile {
	p := profile.Profile{SourceID: id}
	for i, s := range slopes {
		d := float64(i)
		p.Nodes = append(p.Nodes, profile.Node{
			SourceID:           id,
			DistanceFromSource: d,
			DistanceFromOutlet: float64(len(slopes)) - d,
			Elevation:          1000 - d,
			DrainageArea:       2000 + 100*d,
			Slope:              s,
		})
	}
	return p
}

func slopeTable(profiles ...profile.Profile) *profile.Table {
	return &profile.Table{Profiles: profiles, Columns: profile.Columns{Slope: true}}
}

func series(n int, f func(k int) float64) []float64 {
	out := make([]float64, n)
	for k := range out {
		out[k] = f(k)
	}
	return out
}

func sawtooth(k int) float64 { return 0.1 + 0.05*float64(k%5) }

func clusteringConfig(profileLen, step float64) config.ClusteringConfig {
	cfg := config.Default().Clustering
	cfg.ProfileLen = profileLen
	cfg.Step = step
	cfg.SlopeWindow = 3
	cfg.Workers = 2
	return cfg
}

func newPipeline(t *testing.T, cfg config.ClusteringConfig, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_FailsFast(t *testing.T) {
	tooHigh := 2.0
	tests := []struct {
		name   string
		mutate func(c *config.ClusteringConfig)
		want   error
	}{
		{"unknown method", func(c *config.ClusteringConfig) { c.Method = "furthest" }, linkage.ErrUnknownMethod},
		{"unknown rule", func(c *config.ClusteringConfig) { c.ThresholdRule = "elbow" }, linkage.ErrUnknownRule},
		{"correlation out of range", func(c *config.ClusteringConfig) { c.MinCorr = &tooHigh }, linkage.ErrInvalidCorrelation},
		{"percentile out of range", func(c *config.ClusteringConfig) {
			c.ThresholdRule = "percentile"
			c.Percentile = 1.5
		}, linkage.ErrInvalidPercentile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := clusteringConfig(50, 1)
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	cfg := clusteringConfig(50, 1)
	cfg.SlopeWindow = 2
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = clusteringConfig(0, 1)
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestCluster_SimilarSawtoothsShareACluster(t *testing.T) {
	a := series(60, sawtooth)
	b := series(60, func(k int) float64 { return sawtooth(k) + 0.01*float64((k*7)%3) })
	c := series(60, func(k int) float64 { return 0.2 + 0.01*float64(k%2) })

	cfg := clusteringConfig(50, 1)
	minCorr := 0.5
	cfg.MinCorr = &minCorr
	p := newPipeline(t, cfg)

	res, err := p.Cluster(context.Background(), slopeTable(
		slopeProfile(1, a), slopeProfile(2, b), slopeProfile(3, c)))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Clusters)
	assert.Equal(t, res.Labels[1], res.Labels[2])
	assert.NotEqual(t, res.Labels[1], res.Labels[3])
	assert.InDelta(t, math.Acos(0.5), res.Threshold, 1e-12)
	assert.Equal(t, "min_corr", res.ThresholdSource)
	assert.Less(t, res.Distances.At(0, 1), res.Threshold)
	assert.Greater(t, res.Distances.At(0, 2), res.Threshold)
	assert.Len(t, res.Resampled.Grid, 50)

	// Every labelled source is broadcast to all of its nodes.
	require.Equal(t, 3, res.Clustered.Len())
	for _, cp := range res.Clustered.Profiles {
		assert.Len(t, cp.Nodes, 60)
		assert.Equal(t, res.Labels[cp.SourceID], cp.ClusterID)
	}
	assert.Len(t, res.Medians, 2)
	assert.Len(t, res.Gradients, 2)
	assert.Len(t, res.SlopeArea, 2)
	assert.Zero(t, res.Exclusions.Total())
}

func TestCluster_QualificationBoundary(t *testing.T) {
	// 100/sqrt(2) = 70.71: 71 valid samples qualify, 70 do not.
	wiggle := func(k int) float64 { return 0.1 + 0.01*float64(k%7) }
	exact := slopeProfile(1, series(71, wiggle))
	short := slopeProfile(2, append(series(70, wiggle), math.NaN()))
	long := slopeProfile(3, series(90, func(k int) float64 { return 0.3 + 0.02*float64(k%4) }))

	p := newPipeline(t, clusteringConfig(100, 1))
	res, err := p.Cluster(context.Background(), slopeTable(exact, short, long))
	require.NoError(t, err)

	assert.Equal(t, []int64{2}, res.Exclusions.Unqualified)
	assert.Contains(t, res.Labels, int64(1))
	assert.Contains(t, res.Labels, int64(3))
	assert.NotContains(t, res.Labels, int64(2))
	assert.Equal(t, []int64{1, 3}, res.Distances.IDs())
}

func TestCluster_DegenerateProfiles(t *testing.T) {
	profiles := []profile.Profile{
		slopeProfile(1, series(60, sawtooth)),
		slopeProfile(2, series(60, func(k int) float64 { return 0.2 + 0.01*float64(k%2) })),
		slopeProfile(4, series(60, func(int) float64 { return 0.3 })),
	}

	p := newPipeline(t, clusteringConfig(50, 1))
	_, err := p.Cluster(context.Background(), slopeTable(profiles...))
	var degErr *distance.DegenerateProfileError
	require.True(t, errors.As(err, &degErr))
	assert.Equal(t, []int64{4}, degErr.SourceIDs)

	cfg := clusteringConfig(50, 1)
	cfg.DropDegenerate = true
	p = newPipeline(t, cfg)
	res, err := p.Cluster(context.Background(), slopeTable(profiles...))
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, res.Exclusions.Degenerate)
	assert.NotContains(t, res.Labels, int64(4))
	assert.Len(t, res.Labels, 2)
	assert.Equal(t, 1, res.Exclusions.Counts()[ReasonDegenerate])
}

func TestCluster_NoProfiles(t *testing.T) {
	p := newPipeline(t, clusteringConfig(100, 1))
	_, err := p.Cluster(context.Background(), slopeTable(slopeProfile(1, series(10, sawtooth))))
	assert.ErrorIs(t, err, ErrNoProfiles)
}

func TestCluster_StreamOrderNeedsColumn(t *testing.T) {
	cfg := clusteringConfig(50, 1)
	cfg.StreamOrder = 2
	p := newPipeline(t, cfg)
	_, err := p.Cluster(context.Background(), slopeTable(slopeProfile(1, series(60, sawtooth))))
	assert.ErrorIs(t, err, unique.ErrNoStreamOrder)
}

func TestCluster_MinLength(t *testing.T) {
	cfg := clusteringConfig(50, 1)
	cfg.MinLength = 70
	p := newPipeline(t, cfg)

	res, err := p.Cluster(context.Background(), slopeTable(
		slopeProfile(1, series(80, sawtooth)),
		slopeProfile(2, series(60, sawtooth)),
		slopeProfile(3, series(80, func(k int) float64 { return 0.2 + 0.01*float64(k%3) })),
	))
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, res.Exclusions.BelowMinLength)
	assert.Len(t, res.Labels, 2)
}

func TestSlopes_StraightLineWindowFive(t *testing.T) {
	const m = 0.05
	prof := profile.Profile{SourceID: 9}
	for i := 0; i < 20; i++ {
		d := float64(i) * 10
		prof.Nodes = append(prof.Nodes, profile.Node{
			SourceID:           9,
			DistanceFromSource: d,
			Elevation:          200 - m*d,
			DrainageArea:       5000,
		})
	}

	cfg := clusteringConfig(100, 10)
	cfg.SlopeWindow = 5
	p := newPipeline(t, cfg)

	out, stats, hit, err := p.Slopes(context.Background(), &profile.Table{Profiles: []profile.Profile{prof}})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 16, stats.ValidNodes)
	assert.True(t, out.Columns.Slope)

	nodes := out.Profiles[0].Nodes
	for i, n := range nodes {
		if i < 2 || i >= len(nodes)-2 {
			assert.False(t, n.HasSlope(), "node %d", i)
			continue
		}
		assert.InDelta(t, m, n.Slope, 1e-12, "node %d", i)
	}
}

// rawProfile builds an unannotated profile whose gradient varies along it.
func rawProfile(id int64, freq float64) profile.Profile {
	p := profile.Profile{SourceID: id}
	for i := 0; i < 40; i++ {
		d := float64(i)
		p.Nodes = append(p.Nodes, profile.Node{
			SourceID:           id,
			DistanceFromSource: d,
			DistanceFromOutlet: 40 - d,
			Elevation:          500 - 0.2*d - 2*math.Sin(d*freq),
			DrainageArea:       1500 + 50*d,
		})
	}
	return p
}

func TestRun_WithStore(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	raw := &profile.Table{Profiles: []profile.Profile{
		rawProfile(1, 0.3),
		rawProfile(2, 0.31),
		rawProfile(3, 1.7),
		{SourceID: 4, Nodes: []profile.Node{{SourceID: 4, DistanceFromSource: 0, Elevation: 10}, {SourceID: 4, DistanceFromSource: 1, Elevation: 9}}},
	}}

	cfg := clusteringConfig(20, 1)
	p := newPipeline(t, cfg, WithStore(db), WithInputName("test.csv"))
	ctx := context.Background()

	first, err := p.Run(ctx, raw)
	require.NoError(t, err)
	assert.False(t, first.SlopeCacheHit)
	assert.NotEmpty(t, first.RunID)
	wantHash, err := storage.HashTable(raw)
	require.NoError(t, err)
	assert.Equal(t, wantHash, first.InputHash)
	assert.Len(t, first.Labels, 3)
	assert.Equal(t, []int64{4}, first.Exclusions.TooShortForWindow)
	assert.Empty(t, first.Exclusions.Unqualified)

	second, err := p.Run(ctx, raw)
	require.NoError(t, err)
	assert.True(t, second.SlopeCacheHit)
	assert.Equal(t, first.Labels, second.Labels)
	assert.Equal(t, first.Threshold, second.Threshold)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, wantHash, second.InputHash)

	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	rec, err := db.GetRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, "test.csv", rec.Input)
	assert.Equal(t, wantHash, rec.InputHash)
	assert.Equal(t, first.Clusters, rec.Clusters)
	assert.Equal(t, 3, rec.Profiles)
	assert.Equal(t, 1, rec.Exclusions[ReasonTooShortForWindow])
	assert.Equal(t, "gap", rec.ThresholdRule)
}

func TestRun_Cancelled(t *testing.T) {
	p := newPipeline(t, clusteringConfig(20, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, &profile.Table{Profiles: []profile.Profile{rawProfile(1, 0.3)}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExclusions_CountsAndTotal(t *testing.T) {
	ex := Exclusions{
		StreamOrder: []int64{1, 2},
		Unqualified: []int64{3},
	}
	assert.Equal(t, 3, ex.Total())
	assert.Equal(t, 2, ex.Counts()[ReasonStreamOrder])
	assert.Equal(t, []int64{2, 5}, without([]int64{1, 2, 5}, []int64{1}))
	assert.Equal(t, []int64{5}, intersect([]int64{1, 5}, []int64{5, 7}))
}
