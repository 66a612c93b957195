// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/config"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/linkage"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/pipeline"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clusteredResult(t *testing.T) *pipeline.Result {
	t.Helper()
	mk := func(id int64, f func(k int) float64) profile.Profile {
		p := profile.Profile{SourceID: id}
		for k := 0; k < 30; k++ {
			d := float64(k)
			p.Nodes = append(p.Nodes, profile.Node{
				SourceID:           id,
				DistanceFromSource: d,
				DistanceFromOutlet: 30 - d,
				Elevation:          300 - d,
				DrainageArea:       1200 + 40*d,
				Slope:              f(k),
			})
		}
		return p
	}
	table := &profile.Table{Columns: profile.Columns{Slope: true}, Profiles: []profile.Profile{
		mk(1, func(k int) float64 { return 0.1 + 0.05*float64(k%5) }),
		mk(2, func(k int) float64 { return 0.1 + 0.05*float64(k%5) + 0.01*float64(k%2) }),
		mk(3, func(k int) float64 { return 0.4 - 0.01*float64(k%3) }),
	}}

	cfg := config.Default().Clustering
	cfg.ProfileLen = 20
	cfg.Step = 1
	cfg.SlopeWindow = 3
	corr := 0.5
	cfg.MinCorr = &corr

	p, err := pipeline.New(cfg)
	require.NoError(t, err)
	res, err := p.Cluster(context.Background(), table)
	require.NoError(t, err)
	return res
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriter_Path(t *testing.T) {
	w := Writer{Dir: "/out", Prefix: "Olympics"}
	assert.Equal(t, filepath.Join("/out", "Olympics_slopes.csv"), w.Path(Slopes, 0))
	assert.Equal(t, filepath.Join("/out", "Olympics_profiles_clustered_SO2.csv"), w.Path(Clustered, 2))
	assert.Equal(t, filepath.Join("/out", "Olympics_profiles_SO1.csv"), w.Path(Resampled, 1))
	assert.Equal(t, filepath.Join("/out", "Olympics_linkage_SO1.csv"), w.Path(Linkage, 1))
}

func TestWriteAll(t *testing.T) {
	res := clusteredResult(t)
	w := Writer{Dir: filepath.Join(t.TempDir(), "out"), Prefix: "test"}

	outputs, err := w.WriteAll(res)
	require.NoError(t, err)
	for _, name := range []string{Resampled, Clustered, Linkage, Medians, SlopeArea, Report} {
		require.Contains(t, outputs, name)
		assert.FileExists(t, outputs[name])
	}

	clustered := readCSV(t, outputs[Clustered])
	assert.Equal(t, []string{"id", "distance_from_source", "distance_from_outlet", "elevation", "drainage_area", "slope", "cluster_id", "colour"}, clustered[0])
	assert.Len(t, clustered, 1+90)

	resampled := readCSV(t, outputs[Resampled])
	assert.Equal(t, "reg_dist", resampled[0][len(resampled[0])-2])
	assert.Len(t, resampled, 1+3*20)

	link := readCSV(t, outputs[Linkage])
	assert.Len(t, link, 1+2)
	assert.Equal(t, "false", link[1][5])
	assert.Equal(t, "true", link[2][5])

	report := readCSV(t, outputs[Report])
	values := make(map[string]string)
	for _, row := range report[1:] {
		values[row[0]] = row[1]
	}
	assert.Equal(t, "2", values["clusters"])
	assert.Equal(t, "0.5", values["min_corr"])
	assert.Equal(t, "min_corr", values["threshold_source"])
	assert.Equal(t, "0", values["excluded_degenerate"])
}

func TestWriteSlopes(t *testing.T) {
	w := Writer{Dir: t.TempDir(), Prefix: "dem"}
	res := clusteredResult(t)

	path, err := w.WriteSlopes(res.Slopes)
	require.NoError(t, err)
	back, err := profile.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, back.Len())
	assert.True(t, back.Columns.Slope)
}

func TestWriteLinkage_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLinkage(&buf, &linkage.Tree{N: 1, Method: linkage.Ward}, 0))
	assert.Equal(t, "step,left,right,height,size,above_threshold\n", buf.String())
}

func TestWriteSlopeArea_MissingFit(t *testing.T) {
	var buf bytes.Buffer
	theta := 0.05
	fits := []summary.ClusterSlopeArea{
		{ClusterID: 1, Colour: "#1f77b4", Nodes: 3, Error: "too few bins"},
		{ClusterID: 2, Colour: "#ff7f0e", Nodes: 40, Fit: &summary.PowerLaw{Ks: 12, Theta: 0.45, ThetaErr: &theta}},
	}
	require.NoError(t, WriteSlopeArea(&buf, fits))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1,#1f77b4,3,,,,,,too few bins", lines[1])
	assert.Equal(t, "2,#ff7f0e,40,0,12,,0.45,0.05,", lines[2])
}
