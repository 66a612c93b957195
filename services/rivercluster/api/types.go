// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"math"
	"time"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/config"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/linkage"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/pipeline"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/summary"
)

// =============================================================================
// Request Types
// =============================================================================

// RunRequest is the body of POST /v1/rivercluster/runs.
type RunRequest struct {
	// Params overrides the server's clustering defaults. Omitted fields keep
	// the default.
	Params ParamsRequest `json:"params"`

	// Rows are the profile table rows.
	Rows []RowRequest `json:"rows" binding:"required,min=1,dive"`
}

// ParamsRequest holds optional clustering overrides.
type ParamsRequest struct {
	ProfileLen     *float64 `json:"profile_len,omitempty"`
	Step           *float64 `json:"step,omitempty"`
	SlopeWindow    *int     `json:"slope_window,omitempty"`
	Method         *string  `json:"method,omitempty"`
	MinCorr        *float64 `json:"min_corr,omitempty"`
	ThresholdRule  *string  `json:"threshold_rule,omitempty"`
	Percentile     *float64 `json:"percentile,omitempty"`
	StreamOrder    *int     `json:"stream_order,omitempty"`
	MinLength      *float64 `json:"min_length,omitempty"`
	DropDegenerate *bool    `json:"drop_degenerate,omitempty"`
}

// apply returns base with every set field of r copied over it.
func (r ParamsRequest) apply(base config.ClusteringConfig) config.ClusteringConfig {
	out := base
	if r.ProfileLen != nil {
		out.ProfileLen = *r.ProfileLen
	}
	if r.Step != nil {
		out.Step = *r.Step
	}
	if r.SlopeWindow != nil {
		out.SlopeWindow = *r.SlopeWindow
	}
	if r.Method != nil {
		out.Method = *r.Method
	}
	if r.MinCorr != nil {
		v := *r.MinCorr
		out.MinCorr = &v
	}
	if r.ThresholdRule != nil {
		out.ThresholdRule = *r.ThresholdRule
	}
	if r.Percentile != nil {
		out.Percentile = *r.Percentile
	}
	if r.StreamOrder != nil {
		out.StreamOrder = *r.StreamOrder
	}
	if r.MinLength != nil {
		out.MinLength = *r.MinLength
	}
	if r.DropDegenerate != nil {
		out.DropDegenerate = *r.DropDegenerate
	}
	return out
}

// RowRequest is one profile node.
type RowRequest struct {
	ID                 *int64   `json:"id" binding:"required"`
	Node               *int64   `json:"node,omitempty"`
	DistanceFromSource *float64 `json:"distance_from_source" binding:"required"`
	DistanceFromOutlet *float64 `json:"distance_from_outlet" binding:"required"`
	Elevation          *float64 `json:"elevation" binding:"required"`
	DrainageArea       *float64 `json:"drainage_area" binding:"required"`
	StreamOrder        *int     `json:"stream_order,omitempty"`
}

// toTable builds a raw profile table. Optional columns are present only
// when every row sets them.
func toTable(rows []RowRequest) *profile.Table {
	cols := profile.Columns{Node: true, StreamOrder: true}
	nodes := make([]profile.Node, len(rows))
	for i, r := range rows {
		n := profile.Node{
			SourceID:           *r.ID,
			DistanceFromSource: *r.DistanceFromSource,
			DistanceFromOutlet: *r.DistanceFromOutlet,
			Elevation:          *r.Elevation,
			DrainageArea:       *r.DrainageArea,
			Slope:              math.NaN(),
		}
		if r.Node != nil {
			n.NodeID = *r.Node
		} else {
			cols.Node = false
		}
		if r.StreamOrder != nil {
			n.StreamOrder = *r.StreamOrder
		} else {
			cols.StreamOrder = false
		}
		nodes[i] = n
	}
	return profile.NewTable(nodes, cols)
}

// =============================================================================
// Response Types
// =============================================================================

// RunResponse is the body returned for a completed run.
type RunResponse struct {
	RunID           string                     `json:"run_id"`
	CreatedAt       time.Time                  `json:"created_at"`
	Params          config.ClusteringConfig    `json:"params"`
	Threshold       float64                    `json:"threshold"`
	ThresholdSource string                     `json:"threshold_source"`
	Clusters        int                        `json:"clusters"`
	Labels          map[int64]int              `json:"labels"`
	Colours         map[int]string             `json:"colours"`
	Exclusions      pipeline.Exclusions        `json:"exclusions"`
	Tree            *linkage.Tree              `json:"tree"`
	Medians         []summary.MedianProfile    `json:"medians,omitempty"`
	SlopeArea       []summary.ClusterSlopeArea `json:"slope_area,omitempty"`
	Gradients       []summary.GradientStats    `json:"gradients,omitempty"`
	DurationMS      int64                      `json:"duration_ms"`
}

func newRunResponse(res *pipeline.Result) RunResponse {
	colours := make(map[int]string)
	for _, p := range res.Clustered.Profiles {
		colours[p.ClusterID] = p.Colour
	}
	return RunResponse{
		RunID:           res.RunID,
		CreatedAt:       res.CreatedAt,
		Params:          res.Params,
		Threshold:       res.Threshold,
		ThresholdSource: res.ThresholdSource,
		Clusters:        res.Clusters,
		Labels:          res.Labels,
		Colours:         colours,
		Exclusions:      res.Exclusions,
		Tree:            res.Tree,
		Medians:         res.Medians,
		SlopeArea:       res.SlopeArea,
		Gradients:       res.Gradients,
		DurationMS:      res.Duration.Milliseconds(),
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string  `json:"error"`
	Details string  `json:"details,omitempty"`
	IDs     []int64 `json:"ids,omitempty"`
}
