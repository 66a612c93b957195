// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package output writes pipeline results as CSV tables.
//
// File names follow the DEM prefix convention:
//
//	<prefix>_slopes.csv                  slope-annotated input
//	<prefix>_profiles_SO<n>.csv          resampled profiles with reg_dist
//	<prefix>_profiles_clustered_SO<n>.csv full-resolution rows with cluster_id
//	<prefix>_linkage_SO<n>.csv           merge tree
//	<prefix>_medians_SO<n>.csv           median slope per cluster and distance
//	<prefix>_slope_area_SO<n>.csv        power-law fit per cluster
//	<prefix>_report.csv                  run parameters and outcome
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/assign"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/linkage"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/pipeline"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/resample"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/summary"
)

// Output names, used as keys of the map returned by WriteAll.
const (
	Slopes    = "slopes"
	Resampled = "resampled"
	Clustered = "clustered"
	Linkage   = "linkage"
	Medians   = "medians"
	SlopeArea = "slope_area"
	Report    = "report"
)

// Writer places output files in Dir using Prefix.
type Writer struct {
	Dir    string
	Prefix string
}

// Path returns the file path for an output name at a stream order.
func (w Writer) Path(name string, streamOrder int) string {
	var file string
	switch name {
	case Slopes:
		file = w.Prefix + "_slopes.csv"
	case Report:
		file = w.Prefix + "_report.csv"
	case Resampled:
		file = fmt.Sprintf("%s_profiles_SO%d.csv", w.Prefix, streamOrder)
	case Clustered:
		file = fmt.Sprintf("%s_profiles_clustered_SO%d.csv", w.Prefix, streamOrder)
	default:
		file = fmt.Sprintf("%s_%s_SO%d.csv", w.Prefix, name, streamOrder)
	}
	return filepath.Join(w.Dir, file)
}

// WriteSlopes writes the slope table and returns its path.
func (w Writer) WriteSlopes(t *profile.Table) (string, error) {
	path := w.Path(Slopes, 0)
	return path, writeFile(path, func(f io.Writer) error { return profile.Write(f, t) })
}

// WriteAll writes every table of a run.
//
// # Outputs
//
//   - map[string]string: Output name to path, for run records.
//   - error: The first write failure. Files already written are kept.
func (w Writer) WriteAll(res *pipeline.Result) (map[string]string, error) {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	so := res.Params.StreamOrder
	outputs := make(map[string]string)
	steps := []struct {
		name  string
		write func(io.Writer) error
	}{
		{Resampled, func(f io.Writer) error { return WriteResampled(f, res.Resampled, res.Labels) }},
		{Clustered, func(f io.Writer) error { return WriteClustered(f, res.Clustered) }},
		{Linkage, func(f io.Writer) error { return WriteLinkage(f, res.Tree, res.Threshold) }},
		{Medians, func(f io.Writer) error { return WriteMedians(f, res.Medians) }},
		{SlopeArea, func(f io.Writer) error { return WriteSlopeArea(f, res.SlopeArea) }},
		{Report, func(f io.Writer) error { return WriteReport(f, res) }},
	}
	for _, s := range steps {
		path := w.Path(s.name, so)
		if err := writeFile(path, s.write); err != nil {
			return outputs, err
		}
		outputs[s.name] = path
	}
	return outputs, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// WriteClustered writes the full-resolution rows of every labelled source
// with cluster_id and colour appended.
func WriteClustered(w io.Writer, ct *assign.ClusteredTable) error {
	header := append(profile.Header(ct.Columns), "cluster_id", "colour")
	rows := make([][]string, 0, ct.NodeCount())
	for _, p := range ct.Profiles {
		cluster := strconv.Itoa(p.ClusterID)
		for _, n := range p.Nodes {
			rows = append(rows, append(profile.Record(n, ct.Columns), cluster, p.Colour))
		}
	}
	return profile.WriteRows(w, header, rows)
}

// WriteResampled writes one row per grid point of every resampled profile.
// The node columns are those of the nearest sample; reg_dist is the grid
// distance. cluster_id is empty for unlabelled profiles.
func WriteResampled(w io.Writer, res *resample.Result, labels map[int64]int) error {
	cols := res.Thinned.Columns
	header := append(profile.Header(cols), "reg_dist", "cluster_id")
	var rows [][]string
	for _, rp := range res.Profiles {
		cluster := ""
		if cl, ok := labels[rp.SourceID]; ok {
			cluster = strconv.Itoa(cl)
		}
		for k, n := range rp.Nodes {
			rows = append(rows, append(profile.Record(n, cols), profile.FormatFloat(res.Grid[k]), cluster))
		}
	}
	return profile.WriteRows(w, header, rows)
}

// WriteLinkage writes the merge tree, one merge per row, flagging merges
// above the cut threshold.
func WriteLinkage(w io.Writer, t *linkage.Tree, threshold float64) error {
	header := []string{"step", "left", "right", "height", "size", "above_threshold"}
	rows := make([][]string, 0, len(t.Merges))
	for i, m := range t.Merges {
		rows = append(rows, []string{
			strconv.Itoa(i),
			strconv.Itoa(m.Left),
			strconv.Itoa(m.Right),
			profile.FormatFloat(m.Height),
			strconv.Itoa(m.Size),
			strconv.FormatBool(m.Height > threshold),
		})
	}
	return profile.WriteRows(w, header, rows)
}

// WriteMedians writes the median profile of every cluster.
func WriteMedians(w io.Writer, medians []summary.MedianProfile) error {
	header := []string{"cluster_id", "reg_dist", "median", "p25", "p75", "members"}
	var rows [][]string
	for _, mp := range medians {
		for k, s := range mp.Slope {
			rows = append(rows, []string{
				strconv.Itoa(mp.ClusterID),
				profile.FormatFloat(mp.Distance[k]),
				profile.FormatFloat(s.Median),
				profile.FormatFloat(s.Lower),
				profile.FormatFloat(s.Upper),
				strconv.Itoa(mp.Members),
			})
		}
	}
	return profile.WriteRows(w, header, rows)
}

// WriteSlopeArea writes one row per cluster with the power-law fit.
func WriteSlopeArea(w io.Writer, fits []summary.ClusterSlopeArea) error {
	header := []string{"cluster_id", "colour", "nodes", "bins", "ks", "ks_err", "theta", "theta_err", "error"}
	rows := make([][]string, 0, len(fits))
	for _, f := range fits {
		row := []string{strconv.Itoa(f.ClusterID), f.Colour, strconv.Itoa(f.Nodes), "", "", "", "", "", f.Error}
		if f.Fit != nil {
			row[3] = strconv.Itoa(len(f.Fit.Bins))
			row[4] = profile.FormatFloat(f.Fit.Ks)
			row[5] = optional(f.Fit.KsErr)
			row[6] = profile.FormatFloat(f.Fit.Theta)
			row[7] = optional(f.Fit.ThetaErr)
		}
		rows = append(rows, row)
	}
	return profile.WriteRows(w, header, rows)
}

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return profile.FormatFloat(*v)
}

// WriteReport writes the run parameters and outcome as key,value rows.
func WriteReport(w io.Writer, res *pipeline.Result) error {
	c := res.Params
	rows := [][]string{
		{"run_id", res.RunID},
		{"created_at", res.CreatedAt.Format("2006-01-02T15:04:05Z07:00")},
		{"profile_len", profile.FormatFloat(c.ProfileLen)},
		{"step", profile.FormatFloat(c.Step)},
		{"slope_window", strconv.Itoa(c.SlopeWindow)},
		{"method", c.Method},
		{"stream_order", strconv.Itoa(c.StreamOrder)},
		{"min_length", profile.FormatFloat(c.MinLength)},
		{"min_corr", optional(c.MinCorr)},
		{"threshold_source", res.ThresholdSource},
		{"threshold", profile.FormatFloat(res.Threshold)},
		{"clusters", strconv.Itoa(res.Clusters)},
		{"profiles", strconv.Itoa(len(res.Labels))},
		{"slope_cache_hit", strconv.FormatBool(res.SlopeCacheHit)},
	}

	counts := res.Exclusions.Counts()
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		rows = append(rows, []string{"excluded_" + r, strconv.Itoa(counts[r])})
	}
	return profile.WriteRows(w, []string{"key", "value"}, rows)
}
