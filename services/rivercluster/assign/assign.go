// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assign broadcasts per-source cluster labels onto full-resolution
// profile tables.
package assign

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
)

var (
	// ErrLabelMismatch is returned when ids and labels differ in length.
	ErrLabelMismatch = errors.New("source ids and cluster labels differ in length")

	// ErrDuplicateSource is returned when a source id is labelled twice.
	ErrDuplicateSource = errors.New("source id labelled more than once")

	// ErrInvalidLabel is returned for cluster labels below 1.
	ErrInvalidLabel = errors.New("cluster labels must be at least 1")

	// ErrUnknownSource is returned when a labelled source is not in the table.
	ErrUnknownSource = errors.New("labelled source not found in table")
)

// Labels pairs source ids with cluster labels.
func Labels(ids []int64, labels []int) (map[int64]int, error) {
	if len(ids) != len(labels) {
		return nil, fmt.Errorf("%w: %d ids, %d labels", ErrLabelMismatch, len(ids), len(labels))
	}
	out := make(map[int64]int, len(ids))
	for i, id := range ids {
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateSource, id)
		}
		if labels[i] < 1 {
			return nil, fmt.Errorf("%w: source %d has %d", ErrInvalidLabel, id, labels[i])
		}
		out[id] = labels[i]
	}
	return out, nil
}

// ClusteredProfile is a full-resolution profile with its cluster.
type ClusteredProfile struct {
	SourceID  int64          `json:"id"`
	ClusterID int            `json:"cluster_id"`
	Colour    string         `json:"colour"`
	Nodes     []profile.Node `json:"nodes"`
}

// ClusteredTable is the labelled output table. It is not modified after
// Propagate returns.
type ClusteredTable struct {
	Profiles []ClusteredProfile `json:"profiles"`
	Columns  profile.Columns    `json:"columns"`
}

// Propagate attaches cluster labels to every node of the labelled sources.
//
// # Description
//
// Each profile of full whose source id has a label is copied into the
// output with that label and its colour. Profiles without a label are left
// out rather than given a sentinel cluster. Every labelled source must be
// present in full. Output follows full's profile order.
//
// # Inputs
//
//   - labels: Cluster id per source id, as produced by Labels.
//   - full: Full-resolution table. Not modified.
//
// # Outputs
//
//   - *ClusteredTable: One entry per labelled source.
//   - error: ErrUnknownSource or ErrInvalidLabel.
func Propagate(labels map[int64]int, full *profile.Table) (*ClusteredTable, error) {
	out := &ClusteredTable{Columns: full.Columns}
	found := make(map[int64]bool, len(labels))
	for _, p := range full.Profiles {
		cluster, ok := labels[p.SourceID]
		if !ok {
			continue
		}
		if cluster < 1 {
			return nil, fmt.Errorf("%w: source %d has %d", ErrInvalidLabel, p.SourceID, cluster)
		}
		found[p.SourceID] = true
		nodes := make([]profile.Node, len(p.Nodes))
		copy(nodes, p.Nodes)
		out.Profiles = append(out.Profiles, ClusteredProfile{
			SourceID:  p.SourceID,
			ClusterID: cluster,
			Colour:    Colour(cluster),
			Nodes:     nodes,
		})
	}

	if len(found) != len(labels) {
		var missing []int64
		for id := range labels {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, fmt.Errorf("%w: %v", ErrUnknownSource, missing)
	}
	return out, nil
}

// Len returns the number of labelled profiles.
func (c *ClusteredTable) Len() int { return len(c.Profiles) }

// NodeCount returns the number of labelled nodes.
func (c *ClusteredTable) NodeCount() int {
	n := 0
	for _, p := range c.Profiles {
		n += len(p.Nodes)
	}
	return n
}

// ClusterIDs returns the distinct cluster ids in ascending order.
func (c *ClusteredTable) ClusterIDs() []int {
	seen := make(map[int]bool)
	var ids []int
	for _, p := range c.Profiles {
		if !seen[p.ClusterID] {
			seen[p.ClusterID] = true
			ids = append(ids, p.ClusterID)
		}
	}
	sort.Ints(ids)
	return ids
}

// Members returns the source ids in a cluster, in table order.
func (c *ClusteredTable) Members(cluster int) []int64 {
	var ids []int64
	for _, p := range c.Profiles {
		if p.ClusterID == cluster {
			ids = append(ids, p.SourceID)
		}
	}
	return ids
}

// Cluster returns the profiles of one cluster as a plain table.
func (c *ClusteredTable) Cluster(cluster int) *profile.Table {
	t := &profile.Table{Columns: c.Columns}
	for _, p := range c.Profiles {
		if p.ClusterID == cluster {
			t.Profiles = append(t.Profiles, profile.Profile{SourceID: p.SourceID, Nodes: p.Nodes})
		}
	}
	return t
}

// Labels returns the cluster id per source id.
func (c *ClusteredTable) Labels() map[int64]int {
	out := make(map[int64]int, len(c.Profiles))
	for _, p := range c.Profiles {
		out[p.SourceID] = p.ClusterID
	}
	return out
}
