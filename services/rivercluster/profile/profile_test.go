// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `id,node,distance_from_source,distance_from_outlet,elevation,drainage_area,stream_order
7,100,2,98,48,2000,1
7,101,0,100,50,1000,1
7,102,1,99,49,1500,1
3.0,200,0,60,30,800,1
3,201,1.5,58.5,29,900,2
`

func TestRead_GroupsAndSorts(t *testing.T) {
	table, err := Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	require.Equal(t, 2, table.Len())
	assert.Equal(t, []int64{7, 3}, table.SourceIDs())
	assert.Equal(t, 5, table.NodeCount())
	assert.Equal(t, Columns{Node: true, StreamOrder: true}, table.Columns)

	p := table.Profiles[0]
	assert.Equal(t, []float64{0, 1, 2}, p.Distances())
	assert.Equal(t, []float64{50, 49, 48}, p.Elevations())
	assert.Equal(t, int64(101), p.Nodes[0].NodeID)
	assert.InDelta(t, 2.0, p.Length(), 1e-12)

	for _, n := range table.Nodes() {
		assert.False(t, n.HasSlope())
	}
	assert.Equal(t, 2, table.Profiles[1].Nodes[1].StreamOrder)
	require.NoError(t, table.Validate())
}

func TestRead_RejectsNonFinite(t *testing.T) {
	header := "id,distance_from_source,distance_from_outlet,elevation,drainage_area\n"
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"inf elevation", header + "1,0,2,10,4\n1,1,1,inf,5\n", "non-finite elevation"},
		{"nan elevation", header + "2,0,2,nan,4\n", "non-finite elevation"},
		{"nan distance", header + "3,nan,2,10,4\n", "non-finite distance_from_source"},
		{"negative inf area", header + "4,0,2,10,-Inf\n", "non-finite drainage_area"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Read(strings.NewReader(tt.input))
			assert.Nil(t, table)

			var ipe *InvalidProfileError
			require.True(t, errors.As(err, &ipe), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRead_MissingColumns(t *testing.T) {
	_, err := Read(strings.NewReader("id,elevation\n1,2\n"))
	require.Error(t, err)

	var mce *MissingColumnError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, []string{ColDistanceFromSource, ColDistanceFromOutlet, ColDrainageArea}, mce.Columns)
}

func TestRead_ParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		line   int
		column string
	}{
		{
			name:   "non numeric elevation",
			input:  "id,distance_from_source,distance_from_outlet,elevation,drainage_area\n1,0,1,abc,4\n",
			line:   2,
			column: ColElevation,
		},
		{
			name:   "fractional id",
			input:  "id,distance_from_source,distance_from_outlet,elevation,drainage_area\n1,0,1,2,4\n1.5,0,1,2,4\n",
			line:   3,
			column: ColID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tt.line, pe.Line)
			assert.Equal(t, tt.column, pe.Column)
		})
	}
}

func TestRead_EmptyInputs(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrMissingHeader)

	_, err = Read(strings.NewReader("id,distance_from_source,distance_from_outlet,elevation,drainage_area\n"))
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestRead_SlopeColumn(t *testing.T) {
	input := "id,distance_from_source,distance_from_outlet,elevation,drainage_area,slope\n" +
		"1,0,2,10,5,\n" +
		"1,1,1,9,6,0.5\n" +
		"1,2,0,8,7,nan\n"
	table, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	require.True(t, table.Columns.Slope)

	slopes := table.Profiles[0].Slopes()
	assert.True(t, math.IsNaN(slopes[0]))
	assert.Equal(t, 0.5, slopes[1])
	assert.True(t, math.IsNaN(slopes[2]))
	assert.Equal(t, 1, table.Profiles[0].ValidSlopeCount())
	assert.Len(t, table.Profiles[0].WithValidSlopes().Nodes, 1)
}

func TestWrite_RoundTripsThroughRead(t *testing.T) {
	table, err := Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	table.Columns.Slope = true
	table.Profiles[0].Nodes[1].Slope = 1

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, table))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "id,node,distance_from_source,distance_from_outlet,elevation,drainage_area,stream_order,slope", lines[0])
	assert.Equal(t, "7,101,0,100,50,1000,1,", lines[1])
	assert.Equal(t, "7,102,1,99,49,1500,1,1", lines[2])

	again, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, table.SourceIDs(), again.SourceIDs())
	assert.Equal(t, table.NodeCount(), again.NodeCount())
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	table, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestTable_FilterAndClone(t *testing.T) {
	table, err := Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	only := table.Filter(func(p Profile) bool { return p.SourceID == 3 })
	require.Equal(t, 1, only.Len())
	only.Profiles[0].Nodes[0].Elevation = -1

	original, ok := table.Profile(3)
	require.True(t, ok)
	assert.Equal(t, 30.0, original.Nodes[0].Elevation)

	clone := table.Clone()
	clone.Profiles[0].Nodes[0].Elevation = -1
	assert.Equal(t, 50.0, table.Profiles[0].Nodes[0].Elevation)

	_, ok = table.Profile(99)
	assert.False(t, ok)
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name  string
		table *Table
		want  string
	}{
		{
			name: "duplicate id",
			table: &Table{Profiles: []Profile{
				{SourceID: 1, Nodes: []Node{{SourceID: 1}}},
				{SourceID: 1, Nodes: []Node{{SourceID: 1}}},
			}},
			want: "duplicate source id",
		},
		{
			name: "foreign node",
			table: &Table{Profiles: []Profile{
				{SourceID: 1, Nodes: []Node{{SourceID: 2}}},
			}},
			want: "belongs to source 2",
		},
		{
			name: "non-finite elevation",
			table: &Table{Profiles: []Profile{
				{SourceID: 1, Nodes: []Node{{SourceID: 1, Elevation: math.Inf(1)}}},
			}},
			want: "non-finite elevation",
		},
		{
			name: "decreasing distance",
			table: &Table{Profiles: []Profile{
				{SourceID: 1, Nodes: []Node{{SourceID: 1, DistanceFromSource: 2}, {SourceID: 1, DistanceFromSource: 1}}},
			}},
			want: "decreases at node 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			var ipe *InvalidProfileError
			require.True(t, errors.As(err, &ipe))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
