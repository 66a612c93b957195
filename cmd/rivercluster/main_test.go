// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/config"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeInput writes three wavy 40-node profiles to dir/profiles.csv.
func writeInput(t *testing.T, dir string) string {
	t.Helper()
	var nodes []profile.Node
	for id, freq := range map[int64]float64{1: 0.3, 2: 0.31, 3: 1.7} {
		for i := 0; i < 40; i++ {
			d := float64(i)
			nodes = append(nodes, profile.Node{
				SourceID:           id,
				DistanceFromSource: d,
				DistanceFromOutlet: 40 - d,
				Elevation:          500 - 0.2*d - 2*math.Sin(d*freq),
				DrainageArea:       1500 + 50*d,
				Slope:              math.NaN(),
			})
		}
	}
	path := filepath.Join(dir, "profiles.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, profile.Write(f, profile.NewTable(nodes, profile.Columns{})))
	return path
}

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

var smallGrid = []string{"--profile-len", "20", "--step", "1", "--window", "3"}

func TestCluster_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir)
	outDir := filepath.Join(dir, "out")

	args := append([]string{"cluster", input, "--min-corr", "0.5", "--out", outDir}, smallGrid...)
	stdout, _, err := execute(t, args...)
	require.NoError(t, err)

	assert.Contains(t, stdout, "OK: wrote ")
	assert.Contains(t, stdout, "clusters\t")
	assert.FileExists(t, filepath.Join(outDir, "profiles_profiles_clustered_SO1.csv"))
	assert.FileExists(t, filepath.Join(outDir, "profiles_report.csv"))
}

func TestSlopes_WritesNextToInput(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir)

	stdout, _, err := execute(t, append([]string{"slopes", input}, smallGrid...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "profiles\t3")

	back, err := profile.ReadFile(filepath.Join(dir, "profiles_slopes.csv"))
	require.NoError(t, err)
	assert.True(t, back.Columns.Slope)
	assert.Equal(t, 3, back.Len())
}

func TestCluster_InvalidFlag(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir)

	_, _, err := execute(t, "cluster", input, "--method", "furthest")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestCluster_MissingInput(t *testing.T) {
	_, _, err := execute(t, "cluster", filepath.Join(t.TempDir(), "absent.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRuns_RecordsAndShows(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir)

	cfg := config.Default()
	cfg.Storage.Dir = filepath.Join(dir, "db")
	cfgPath := filepath.Join(dir, "rivercluster.yaml")
	require.NoError(t, cfg.Save(cfgPath))

	args := append([]string{"cluster", input, "--config", cfgPath, "--min-corr", "0.5"}, smallGrid...)
	_, _, err := execute(t, args...)
	require.NoError(t, err)

	stdout, _, err := execute(t, "runs", "list", "--config", cfgPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	id := strings.Split(lines[1], "\t")[0]
	assert.Contains(t, lines[1], input)

	stdout, _, err = execute(t, "runs", "show", id, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "method\tward")
	assert.Contains(t, stdout, "clustered: ")
}

func TestRuns_StorageDisabled(t *testing.T) {
	_, _, err := execute(t, "runs", "list")
	assert.ErrorIs(t, err, errStorageDisabled)
}

func TestConfig_InitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rc.yaml")

	_, _, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	_, _, err = execute(t, "config", "init", path)
	assert.Error(t, err)

	stdout, _, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "slope_window: 25")
}
