// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assign

import (
	"testing"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullTable() *profile.Table {
	mk := func(id int64, n int) profile.Profile {
		p := profile.Profile{SourceID: id}
		for i := 0; i < n; i++ {
			p.Nodes = append(p.Nodes, profile.Node{SourceID: id, DistanceFromSource: float64(i)})
		}
		return p
	}
	return &profile.Table{Profiles: []profile.Profile{mk(5, 3), mk(6, 2), mk(7, 4), mk(8, 1)}}
}

func TestLabels(t *testing.T) {
	got, err := Labels([]int64{5, 7}, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{5: 1, 7: 2}, got)

	_, err = Labels([]int64{5}, []int{1, 2})
	assert.ErrorIs(t, err, ErrLabelMismatch)

	_, err = Labels([]int64{5, 5}, []int{1, 2})
	assert.ErrorIs(t, err, ErrDuplicateSource)

	_, err = Labels([]int64{5}, []int{0})
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestPropagate_BroadcastsToEveryNode(t *testing.T) {
	full := fullTable()
	out, err := Propagate(map[int64]int{7: 2, 5: 1, 8: 2}, full)
	require.NoError(t, err)

	require.Equal(t, 3, out.Len())
	assert.Equal(t, 8, out.NodeCount())
	assert.Equal(t, []int64{5, 7, 8}, []int64{out.Profiles[0].SourceID, out.Profiles[1].SourceID, out.Profiles[2].SourceID})
	assert.Equal(t, 1, out.Profiles[0].ClusterID)
	assert.Equal(t, Colour(2), out.Profiles[1].Colour)
	assert.Len(t, out.Profiles[1].Nodes, 4)

	assert.Equal(t, []int{1, 2}, out.ClusterIDs())
	assert.Equal(t, []int64{7, 8}, out.Members(2))
	assert.Equal(t, 2, out.Cluster(2).Len())
	assert.Equal(t, map[int64]int{5: 1, 7: 2, 8: 2}, out.Labels())

	// Source 6 was not labelled and must not appear.
	for _, p := range out.Profiles {
		assert.NotEqual(t, int64(6), p.SourceID)
	}

	out.Profiles[0].Nodes[0].Elevation = 99
	assert.Equal(t, 0.0, full.Profiles[0].Nodes[0].Elevation)
}

func TestPropagate_UnknownSource(t *testing.T) {
	_, err := Propagate(map[int64]int{5: 1, 42: 1, 41: 2}, fullTable())
	require.ErrorIs(t, err, ErrUnknownSource)
	assert.Contains(t, err.Error(), "[41 42]")
}

func TestPropagate_InvalidLabel(t *testing.T) {
	_, err := Propagate(map[int64]int{5: 0}, fullTable())
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestPropagate_Empty(t *testing.T) {
	out, err := Propagate(map[int64]int{}, fullTable())
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.Empty(t, out.ClusterIDs())
}

func TestColour(t *testing.T) {
	assert.Equal(t, Palette[0], Colour(1))
	assert.Equal(t, Palette[1], Colour(2))
	assert.Equal(t, Palette[0], Colour(len(Palette)+1))
	assert.Equal(t, Palette[0], Colour(0))
}
